package ledger

import (
	"regexp"
	"strings"
)

const (
	h1Prefix = "# "
	h2Prefix = "## "
)

var linkRe = regexp.MustCompile(`^\[([^\]]+)\]\(([^)]+)\)$`)

type lineKind int

const (
	lineBlank lineKind = iota
	lineTitle
	lineHeading
	lineLink
	lineText
)

// classify expects a line with surrounding whitespace already removed.
func classify(line string) lineKind {
	switch {
	case line == "":
		return lineBlank
	case strings.HasPrefix(line, h2Prefix):
		if strings.TrimSpace(line[len(h2Prefix):]) == "" {
			return lineText
		}
		return lineHeading
	case strings.HasPrefix(line, h1Prefix):
		return lineTitle
	case linkRe.MatchString(line):
		return lineLink
	}
	return lineText
}

type parseState int

const (
	statePreamble parseState = iota
	stateCategory
	stateAfterLink
)

type parser struct {
	doc   Document
	state parseState
	cat   int // index of the open category, -1 before the first heading
}

// Parse reads ledger text into a Document. It never fails: lines it cannot
// classify are kept as preamble or category notes.
func Parse(text string) Document {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")

	p := &parser{state: statePreamble, cat: -1}
	for i, raw := range lines {
		next := ""
		if i+1 < len(lines) {
			next = lines[i+1]
		}
		p.feed(raw, next)
	}
	return p.finish()
}

func (p *parser) feed(raw, next string) {
	line := strings.TrimSpace(raw)
	kind := classify(line)

	if p.state == stateAfterLink {
		if kind == lineText {
			p.lastEntry().Description = line
			p.state = p.restState()
			return
		}
		p.state = p.restState()
	}

	switch kind {
	case lineBlank:
		if p.cat < 0 {
			p.doc.Preamble = append(p.doc.Preamble, "")
		}
	case lineHeading:
		p.doc.Categories = append(p.doc.Categories, Category{
			Name:   strings.TrimSpace(line[len(h2Prefix):]),
			Spaced: strings.TrimSpace(next) == "",
		})
		p.cat = len(p.doc.Categories) - 1
		p.state = stateCategory
	case lineLink:
		m := linkRe.FindStringSubmatch(line)
		e := Entry{Label: m[1], Reference: m[2]}
		if p.cat < 0 {
			p.doc.Loose = append(p.doc.Loose, e)
		} else {
			c := &p.doc.Categories[p.cat]
			c.Entries = append(c.Entries, e)
		}
		p.state = stateAfterLink
	default:
		text := strings.TrimRight(raw, " \t")
		if p.cat < 0 {
			p.doc.Preamble = append(p.doc.Preamble, text)
		} else {
			c := &p.doc.Categories[p.cat]
			c.Notes = append(c.Notes, text)
		}
	}
}

func (p *parser) restState() parseState {
	if p.cat < 0 {
		return statePreamble
	}
	return stateCategory
}

func (p *parser) lastEntry() *Entry {
	if p.cat < 0 {
		return &p.doc.Loose[len(p.doc.Loose)-1]
	}
	c := &p.doc.Categories[p.cat]
	return &c.Entries[len(c.Entries)-1]
}

func (p *parser) finish() Document {
	p.doc.Preamble = collapseBlank(p.doc.Preamble)
	for i := range p.doc.Categories {
		c := &p.doc.Categories[i]
		// Spacing only shows in the output when something follows the heading.
		if len(c.Entries) == 0 && len(c.Notes) == 0 {
			c.Spaced = true
		}
	}
	return p.doc
}

// collapseBlank trims blank lines at both ends and folds every run of blank
// lines into one.
func collapseBlank(lines []string) []string {
	var out []string
	for _, l := range lines {
		l = strings.TrimRight(l, " \t")
		if l == "" && (len(out) == 0 || out[len(out)-1] == "") {
			continue
		}
		out = append(out, l)
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return out
}

// Serialize renders d as canonical ledger text. Blocks are separated by a
// single blank line and the output ends with one newline.
func Serialize(d Document) string {
	var blocks [][]string
	if pre := collapseBlank(d.Preamble); len(pre) > 0 {
		blocks = append(blocks, pre)
	}
	for _, e := range d.Loose {
		blocks = append(blocks, e.lines())
	}
	for _, c := range d.Categories {
		blocks = append(blocks, c.blocks()...)
	}

	var sb strings.Builder
	for i, b := range blocks {
		if i > 0 {
			sb.WriteByte('\n')
		}
		for _, l := range b {
			sb.WriteString(l)
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

func (c Category) blocks() [][]string {
	heading := []string{h2Prefix + strings.TrimSpace(c.Name)}

	var body [][]string
	if notes := nonBlank(c.Notes); len(notes) > 0 {
		body = append(body, notes)
	}
	for _, e := range c.Entries {
		body = append(body, e.lines())
	}

	if len(body) == 0 {
		return [][]string{heading}
	}
	if c.Spaced {
		return append([][]string{heading}, body...)
	}
	body[0] = append(heading, body[0]...)
	return body
}

func (e Entry) lines() []string {
	out := []string{"[" + e.Label + "](" + e.Reference + ")"}
	if d := strings.TrimSpace(e.Description); d != "" {
		out = append(out, d)
	}
	return out
}

func nonBlank(lines []string) []string {
	var out []string
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			out = append(out, strings.TrimRight(l, " \t"))
		}
	}
	return out
}
