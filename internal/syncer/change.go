package syncer

import (
	"fmt"

	"github.com/starford/linkledger/internal/ledger"
)

// ChangeKind names the mutation a cycle applied.
type ChangeKind string

const (
	ChangeInsert     ChangeKind = "insert"
	ChangeDelete     ChangeKind = "delete"
	ChangeDeleteMany ChangeKind = "delete_many"
	ChangeRepair     ChangeKind = "repair"
)

// RepairMessage is the commit message of the intermediate repair commit.
const RepairMessage = "Fix: Remove duplicate links"

// Change summarizes what a mutation did to the ledger.
type Change struct {
	Kind     ChangeKind     `json:"kind"`
	Entries  []ledger.Entry `json:"entries,omitempty"`
	Category string         `json:"category,omitempty"`
	Pruned   []string       `json:"pruned_categories,omitempty"`
}

// CommitMessage renders the commit message for the change. created is true
// when the document did not exist before this commit.
func (c Change) CommitMessage(path string, created bool) string {
	switch c.Kind {
	case ChangeInsert:
		title := ""
		if len(c.Entries) > 0 {
			title = c.Entries[0].Label
		}
		if created {
			return fmt.Sprintf("Create %s and add link: %s", path, title)
		}
		return "Add link: " + title

	case ChangeDelete:
		name := ""
		if len(c.Entries) > 0 {
			name = c.Entries[0].Label
			if name == "" {
				name = c.Entries[0].Reference
			}
		}
		msg := "Delete link: " + name
		if len(c.Pruned) > 0 {
			msg += fmt.Sprintf(" (removed empty category %s)", c.Pruned[0])
		}
		return msg

	case ChangeDeleteMany:
		msg := fmt.Sprintf("Delete %d link(s)", len(c.Entries))
		switch n := len(c.Pruned); {
		case n == 1:
			msg += " (removed 1 empty category)"
		case n > 1:
			msg += fmt.Sprintf(" (removed %d empty categories)", n)
		}
		return msg

	case ChangeRepair:
		return RepairMessage
	}
	return "Update " + path
}
