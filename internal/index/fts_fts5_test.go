//go:build sqlite_fts5

package index

import (
	"testing"

	"github.com/starford/linkledger/internal/ledger"
)

func TestFTS5_TableExists(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM links_fts`).Scan(&count); err != nil {
		t.Fatalf("links_fts table missing: %v", err)
	}
}

func TestFTS5_SearchWithSnippet(t *testing.T) {
	db := testDB(t)
	doc := ledger.Parse("## Tools\n\n[Fts](https://fts.example)\nProvides powerful full-text search capabilities.\n")
	if err := db.Replace("README.md", "f1", doc); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	results, err := db.Search("powerful", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Reference != "https://fts.example" {
		t.Errorf("reference = %q", results[0].Reference)
	}
	if results[0].Snippet == "" {
		t.Error("expected non-empty snippet")
	}
}

func TestFTS5_ReplaceClearsOldContent(t *testing.T) {
	db := testDB(t)
	_ = db.Replace("README.md", "1", ledger.Parse("[Old](https://old)\noriginal text\n"))
	_ = db.Replace("README.md", "2", ledger.Parse("[New](https://new)\nreplacement text\n"))

	results, _ := db.Search("original", 10)
	if len(results) != 0 {
		t.Error("old FTS content should be gone")
	}
	results, _ = db.Search("replacement", 10)
	if len(results) != 1 || results[0].Label != "New" {
		t.Errorf("FTS not updated: %+v", results)
	}
}

func TestFTS5_SearchURLsAndDomains(t *testing.T) {
	db := testDB(t)
	doc := ledger.Parse("## Languages\n\n[Go](https://go.dev)\nThe Go programming language.\n\n[Rust](https://www.rust-lang.org)\nA systems language.\n")
	if err := db.Replace("links.md", "1", doc); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	for _, q := range []string{"go.dev", "https://go.dev", `"go.dev`, "  go.dev  programming "} {
		results, err := db.Search(q, 10)
		if err != nil {
			t.Fatalf("Search(%q): %v", q, err)
		}
		if len(results) != 1 || results[0].Reference != "https://go.dev" {
			t.Errorf("Search(%q) = %+v, want the go.dev link", q, results)
		}
	}

	results, err := db.Search("   ", 10)
	if err != nil {
		t.Fatalf("Search blank: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("blank query returned %+v", results)
	}
}

func TestFTSQuery(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"go.dev", `"go.dev"`},
		{"https://go.dev tools", `"https://go.dev" "tools"`},
		{`say "hi"`, `"say" """hi"""`},
		{" \t ", ""},
	}
	for _, tc := range tests {
		if got := ftsQuery(tc.in); got != tc.want {
			t.Errorf("ftsQuery(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
