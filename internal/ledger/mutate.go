package ledger

import (
	"fmt"
	"slices"
	"strings"

	"github.com/starford/linkledger/internal/apperr"
)

// Removal describes the entry removed by DeleteEntry.
type Removal struct {
	Entry    Entry
	Category string // empty for a loose entry
}

// BatchRemoval describes the outcome of DeleteEntries.
type BatchRemoval struct {
	Removed []Entry
	// Touched lists, in document order, the categories that lost at least
	// one entry.
	Touched []string
}

// InsertEntry appends entry to the category named categoryName, creating the
// category at the end of the document when it does not exist. An empty name
// adds the entry to the loose entries, which are written after the preamble
// and before the first category heading. It does not deduplicate.
func InsertEntry(d Document, entry Entry, categoryName string) (Document, error) {
	entry = entry.Normalize()
	if err := entry.Validate(); err != nil {
		return d, err
	}
	categoryName = strings.TrimSpace(categoryName)
	if strings.ContainsAny(categoryName, "\r\n") {
		return d, fmt.Errorf("%w: category must not contain line breaks", apperr.ErrMalformedRequest)
	}

	out := d.Clone()
	if categoryName == "" {
		out.Loose = append(out.Loose, entry)
		return out, nil
	}
	if i := out.categoryIndex(categoryName); i >= 0 {
		out.Categories[i].Entries = append(out.Categories[i].Entries, entry)
		return out, nil
	}
	out.Categories = append(out.Categories, Category{
		Name:    categoryName,
		Spaced:  true,
		Entries: []Entry{entry},
	})
	return out, nil
}

// DeleteEntry removes the first entry, in document order, matched by m.
func DeleteEntry(d Document, m Match) (Document, Removal, error) {
	if m.Empty() {
		return d, Removal{}, fmt.Errorf("%w: reference or label is required", apperr.ErrMalformedRequest)
	}

	out := d.Clone()
	for i, e := range out.Loose {
		if m.Matches(e) {
			out.Loose = removeAt(out.Loose, i)
			return out, Removal{Entry: e}, nil
		}
	}
	for ci := range out.Categories {
		c := &out.Categories[ci]
		for i, e := range c.Entries {
			if m.Matches(e) {
				c.Entries = removeAt(c.Entries, i)
				return out, Removal{Entry: e, Category: c.Name}, nil
			}
		}
	}
	return d, Removal{}, fmt.Errorf("%w: no link matches %q", apperr.ErrNotFound, m.String())
}

// DeleteEntries removes every entry matched by any element of matches.
// Unmatched elements are skipped; it fails with ErrNotFound only when
// nothing in the document matched.
func DeleteEntries(d Document, matches []Match) (Document, BatchRemoval, error) {
	if len(matches) == 0 {
		return d, BatchRemoval{}, fmt.Errorf("%w: at least one match is required", apperr.ErrMalformedRequest)
	}
	for i, m := range matches {
		if m.Empty() {
			return d, BatchRemoval{}, fmt.Errorf("%w: match %d has neither reference nor label", apperr.ErrMalformedRequest, i)
		}
	}

	var res BatchRemoval
	hit := func(e Entry) bool {
		for _, m := range matches {
			if m.Matches(e) {
				res.Removed = append(res.Removed, e)
				return true
			}
		}
		return false
	}

	out := d.Clone()
	out.Loose = filter(out.Loose, hit)
	for ci := range out.Categories {
		c := &out.Categories[ci]
		before := len(c.Entries)
		c.Entries = filter(c.Entries, hit)
		if len(c.Entries) != before && !slices.Contains(res.Touched, c.Name) {
			res.Touched = append(res.Touched, c.Name)
		}
	}

	if len(res.Removed) == 0 {
		return d, BatchRemoval{}, fmt.Errorf("%w: no links match the %d requested", apperr.ErrNotFound, len(matches))
	}
	return out, res, nil
}

// PruneEmptyCategories removes the categories named in candidates that have
// no entries left and returns their names. Empty categories outside
// candidates are kept.
func PruneEmptyCategories(d Document, candidates []string) (Document, []string) {
	if len(candidates) == 0 {
		return d, nil
	}
	want := make(map[string]struct{}, len(candidates))
	for _, name := range candidates {
		want[strings.TrimSpace(name)] = struct{}{}
	}

	out := d.Clone()
	var removed []string
	kept := out.Categories[:0]
	for _, c := range out.Categories {
		if _, ok := want[strings.TrimSpace(c.Name)]; ok && len(c.Entries) == 0 {
			removed = append(removed, c.Name)
			continue
		}
		kept = append(kept, c)
	}
	out.Categories = kept
	return out, removed
}

func removeAt[T any](s []T, i int) []T {
	out := make([]T, 0, len(s)-1)
	out = append(out, s[:i]...)
	return append(out, s[i+1:]...)
}

func filter(entries []Entry, drop func(Entry) bool) []Entry {
	kept := entries[:0]
	for _, e := range entries {
		if !drop(e) {
			kept = append(kept, e)
		}
	}
	return kept
}
