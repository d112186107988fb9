package ledger

// Detect returns every reference that appears in more than one entry,
// anywhere in the document, in the order the first duplicate is met.
func Detect(d Document) []string {
	seen := make(map[string]int)
	var dups []string
	d.Walk(func(_ string, e Entry) bool {
		seen[e.Reference]++
		if seen[e.Reference] == 2 {
			dups = append(dups, e.Reference)
		}
		return true
	})
	return dups
}

// Repair keeps the first entry for each reference in document order and
// drops the rest, descriptions included. Categories emptied by the repair
// are kept; pruning is a separate operation.
func Repair(d Document) Document {
	out := d.Clone()
	seen := make(map[string]struct{}, d.Len())
	keep := func(entries []Entry) []Entry {
		kept := entries[:0]
		for _, e := range entries {
			if _, dup := seen[e.Reference]; dup {
				continue
			}
			seen[e.Reference] = struct{}{}
			kept = append(kept, e)
		}
		return kept
	}

	out.Loose = keep(out.Loose)
	for i := range out.Categories {
		out.Categories[i].Entries = keep(out.Categories[i].Entries)
	}
	return out
}
