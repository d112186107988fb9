package ledger

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

const toolsLedger = "# Useful Links\n\n## Tools\n[Foo](https://foo.com)\nA tool.\n"

func TestParse_TitleCategoryEntry(t *testing.T) {
	d := Parse(toolsLedger)

	want := Document{
		Preamble: []string{"# Useful Links"},
		Categories: []Category{{
			Name:    "Tools",
			Entries: []Entry{{Label: "Foo", Reference: "https://foo.com", Description: "A tool."}},
		}},
	}
	if diff := cmp.Diff(want, d, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("Parse mismatch (-want +got):\n%s", diff)
	}
	if d.Title() != "Useful Links" {
		t.Errorf("title = %q, want %q", d.Title(), "Useful Links")
	}
}

func TestParse_DescriptionOnlyImmediatelyAfterLink(t *testing.T) {
	d := Parse("## A\n\n[x](https://x)\n\nnot a description\n[y](https://y)\n## B\n")
	c, ok := d.Category("A")
	if !ok {
		t.Fatal("category A missing")
	}
	if len(c.Entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(c.Entries))
	}
	if c.Entries[0].Description != "" {
		t.Errorf("description = %q, want empty", c.Entries[0].Description)
	}
	if len(c.Notes) != 1 || c.Notes[0] != "not a description" {
		t.Errorf("notes = %v", c.Notes)
	}
	if !c.Spaced {
		t.Error("A should be spaced")
	}
}

func TestParse_HeadingIsNeverDescription(t *testing.T) {
	d := Parse("## A\n[x](https://x)\n## B\n[y](https://y)\n# stray title\n")
	if len(d.Categories) != 2 {
		t.Fatalf("categories = %d, want 2", len(d.Categories))
	}
	if got := d.Categories[0].Entries[0].Description; got != "" {
		t.Errorf("description = %q, want empty", got)
	}
	if got := d.Categories[1].Notes; len(got) != 1 || got[0] != "# stray title" {
		t.Errorf("notes = %v", got)
	}
}

func TestParse_LinksBeforeFirstHeadingAreLoose(t *testing.T) {
	d := Parse("# T\n[a](https://a)\nabout a\n\n## C\n[b](https://b)\n")
	if len(d.Loose) != 1 || d.Loose[0].Reference != "https://a" || d.Loose[0].Description != "about a" {
		t.Errorf("loose = %+v", d.Loose)
	}
	if len(d.Preamble) != 1 {
		t.Errorf("preamble = %v", d.Preamble)
	}
}

func TestParse_NeverFails(t *testing.T) {
	inputs := []string{
		"",
		"\n\n\n",
		"##\n## \n[](x)\n[x]()\n",
		"just text\r\nmore text\r\n",
		"## Only heading",
		"[a](b) trailing words",
		"\x00\xff garbage ## [x](y",
	}
	for _, in := range inputs {
		d := Parse(in)
		again := Parse(Serialize(d))
		if diff := cmp.Diff(d, again, cmpopts.EquateEmpty()); diff != "" {
			t.Errorf("round trip of %q changed (-first +second):\n%s", in, diff)
		}
	}
}

func TestParse_CRLF(t *testing.T) {
	d := Parse(strings.ReplaceAll(toolsLedger, "\n", "\r\n"))
	if diff := cmp.Diff(Parse(toolsLedger), d, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("CRLF parse differs:\n%s", diff)
	}
}

func TestSerialize_PreservesWellFormedText(t *testing.T) {
	cases := []string{
		toolsLedger,
		"# Useful Links\n\n## Tools\n\n[Foo](https://foo.com)\nA tool.\n\n[Bar](https://bar.com)\n\n## Reading\n\n[Baz](https://baz.com)\nLong read.\n",
		"# Links\n\nSome intro text.\n\n[loose](https://loose)\n\n## Empty\n\n## Full\n[x](https://x)\n",
	}
	for _, in := range cases {
		if got := Serialize(Parse(in)); got != in {
			t.Errorf("Serialize(Parse(text)) =\n%q\nwant\n%q", got, in)
		}
	}
}

func TestSerialize_CanonicalWhitespace(t *testing.T) {
	messy := "\n\n# Useful Links   \n\n\n\n## Tools  \n\n\n[Foo](https://foo.com)\n   A tool.   \n\n\n\n[Bar](https://bar.com)\n\n\n"
	got := Serialize(Parse(messy))
	want := "# Useful Links\n\n## Tools\n\n[Foo](https://foo.com)\nA tool.\n\n[Bar](https://bar.com)\n"
	if got != want {
		t.Errorf("Serialize =\n%q\nwant\n%q", got, want)
	}
	if strings.Contains(got, "\n\n\n") {
		t.Error("output contains consecutive blank lines")
	}
}

func TestSerialize_ConstructedDocumentsAreCanonical(t *testing.T) {
	a := Document{
		Preamble: []string{"", "# T", "", "", "intro", ""},
		Categories: []Category{{
			Name:    "  C ",
			Spaced:  true,
			Entries: []Entry{{Label: "x", Reference: "https://x", Description: " d "}},
		}},
	}
	b := Document{
		Preamble: []string{"# T", "", "intro"},
		Categories: []Category{{
			Name:    "C",
			Spaced:  true,
			Entries: []Entry{{Label: "x", Reference: "https://x", Description: "d"}},
		}},
	}
	if Serialize(a) != Serialize(b) {
		t.Errorf("serializations differ:\n%q\n%q", Serialize(a), Serialize(b))
	}
}

func TestSerialize_EmptyCategoryBetweenCategories(t *testing.T) {
	d := Document{
		Preamble: []string{"# T"},
		Categories: []Category{
			{Name: "A", Entries: []Entry{{Label: "a", Reference: "https://a"}}},
			{Name: "Empty"},
			{Name: "B", Spaced: true, Entries: []Entry{{Label: "b", Reference: "https://b"}}},
		},
	}
	want := "# T\n\n## A\n[a](https://a)\n\n## Empty\n\n## B\n\n[b](https://b)\n"
	if got := Serialize(d); got != want {
		t.Errorf("Serialize =\n%q\nwant\n%q", got, want)
	}
}
