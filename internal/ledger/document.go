// Package ledger implements the link ledger document: its in-memory model,
// the text codec, duplicate detection/repair and the pure mutation engine.
//
// Every operation takes a Document by value and returns a new one; shared
// slices are never modified in place.
package ledger

import (
	"fmt"
	"strings"

	"github.com/starford/linkledger/internal/apperr"
)

// DefaultTitle is the title used for a ledger that does not exist yet.
const DefaultTitle = "Useful Links"

// Document is the root aggregate of a ledger.
type Document struct {
	// Preamble holds the free-text lines before the first category heading,
	// normally just the "# Title" line. Runs of blank lines are collapsed.
	Preamble []string `json:"preamble"`
	// Loose holds entries that belong to no category.
	Loose      []Entry    `json:"loose,omitempty"`
	Categories []Category `json:"categories"`
}

// Category is a named, ordered group of entries.
type Category struct {
	Name string `json:"name"`
	// Spaced is true when the heading line is followed by a blank line.
	Spaced bool `json:"spaced"`
	// Notes keeps filler lines found inside the category that are neither
	// links nor descriptions.
	Notes   []string `json:"notes,omitempty"`
	Entries []Entry  `json:"entries"`
}

// Entry is one link record.
type Entry struct {
	Label       string `json:"label"`
	Reference   string `json:"reference"`
	Description string `json:"description,omitempty"`
}

// NewDocument returns the default ledger with a single title line.
func NewDocument(title string) Document {
	if strings.TrimSpace(title) == "" {
		title = DefaultTitle
	}
	return Document{Preamble: []string{"# " + strings.TrimSpace(title)}}
}

// Title returns the text of the first level-1 heading in the preamble.
func (d Document) Title() string {
	for _, line := range d.Preamble {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, h1Prefix) {
			return strings.TrimSpace(line[len(h1Prefix):])
		}
	}
	return ""
}

// Len returns the total number of entries, loose ones included.
func (d Document) Len() int {
	n := len(d.Loose)
	for _, c := range d.Categories {
		n += len(c.Entries)
	}
	return n
}

// Category returns the first category whose name equals name after trimming.
func (d Document) Category(name string) (Category, bool) {
	if i := d.categoryIndex(name); i >= 0 {
		return d.Categories[i], true
	}
	return Category{}, false
}

func (d Document) categoryIndex(name string) int {
	name = strings.TrimSpace(name)
	for i, c := range d.Categories {
		if strings.TrimSpace(c.Name) == name {
			return i
		}
	}
	return -1
}

// Walk calls fn for every entry in document order. category is empty for
// loose entries. Iteration stops when fn returns false.
func (d Document) Walk(fn func(category string, e Entry) bool) {
	for _, e := range d.Loose {
		if !fn("", e) {
			return
		}
	}
	for _, c := range d.Categories {
		for _, e := range c.Entries {
			if !fn(c.Name, e) {
				return
			}
		}
	}
}

// Clone returns a deep copy of d.
func (d Document) Clone() Document {
	out := Document{
		Preamble: cloneSlice(d.Preamble),
		Loose:    cloneSlice(d.Loose),
	}
	if d.Categories != nil {
		out.Categories = make([]Category, len(d.Categories))
		for i, c := range d.Categories {
			out.Categories[i] = c.clone()
		}
	}
	return out
}

func (c Category) clone() Category {
	c.Notes = cloneSlice(c.Notes)
	c.Entries = cloneSlice(c.Entries)
	return c
}

func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	out := make([]T, len(s))
	copy(out, s)
	return out
}

// Validate reports whether e can be written to the ledger text and read back
// unchanged.
func (e Entry) Validate() error {
	switch {
	case strings.TrimSpace(e.Label) == "":
		return fmt.Errorf("%w: label is required", apperr.ErrMalformedRequest)
	case strings.TrimSpace(e.Reference) == "":
		return fmt.Errorf("%w: reference is required", apperr.ErrMalformedRequest)
	case strings.ContainsAny(e.Label, "]\r\n"):
		return fmt.Errorf("%w: label must not contain ']' or line breaks", apperr.ErrMalformedRequest)
	case strings.ContainsAny(e.Reference, ")\r\n"):
		return fmt.Errorf("%w: reference must not contain ')' or line breaks", apperr.ErrMalformedRequest)
	case strings.ContainsAny(e.Description, "\r\n"):
		return fmt.Errorf("%w: description must be a single line", apperr.ErrMalformedRequest)
	}
	if d := strings.TrimSpace(e.Description); d != "" && classify(d) != lineText {
		return fmt.Errorf("%w: description must not look like a heading or link", apperr.ErrMalformedRequest)
	}
	return nil
}

// Normalize trims surrounding whitespace from every field.
func (e Entry) Normalize() Entry {
	return Entry{
		Label:       strings.TrimSpace(e.Label),
		Reference:   strings.TrimSpace(e.Reference),
		Description: strings.TrimSpace(e.Description),
	}
}

// Match selects entries for deletion. An entry matches when its reference
// equals Reference or its label equals Label; empty fields never match.
type Match struct {
	Reference string `json:"reference,omitempty"`
	Label     string `json:"label,omitempty"`
}

// Empty reports whether neither field is set.
func (m Match) Empty() bool {
	return m.Reference == "" && m.Label == ""
}

// Matches implements the inclusive-or identity rule.
func (m Match) Matches(e Entry) bool {
	return (m.Reference != "" && e.Reference == m.Reference) ||
		(m.Label != "" && e.Label == m.Label)
}

func (m Match) String() string {
	if m.Label != "" {
		return m.Label
	}
	return m.Reference
}
