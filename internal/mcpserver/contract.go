package mcpserver

// LedgerFormatContract describes the Markdown layout of the link ledger so
// LLM consumers can read it and phrase their edits correctly.
const LedgerFormatContract = `# Link Ledger Format

The ledger is a single Markdown document holding categorized links. Tools
edit it for you; this contract explains what they produce.

## Structure

` + "```" + `markdown
# Useful Links

[Uncategorized link](https://example.com)
Optional one-line description.

## Category name

[Link title](https://example.org/page)
Optional one-line description.
` + "```" + `

## Rules

1. The first line is the ledger title as a level-one heading.
2. Links before the first level-two heading are uncategorized.
3. Each ` + "`" + `## Heading` + "`" + ` starts a category. Category names are matched exactly.
4. A link is ` + "`" + `[title](url)` + "`" + ` on its own line, optionally followed by one
   description line. Entries are separated by a blank line.
5. Titles must not contain ` + "`" + `]` + "`" + ` and URLs must not contain ` + "`" + `)` + "`" + `.
   Descriptions are a single line and must not start like a heading or a link.
6. A URL appears at most once. Duplicates are removed automatically in a
   separate "Fix: Remove duplicate links" commit before any other edit.
7. Deleting the last link of a category removes the category heading.
8. Encoding is UTF-8 with a trailing newline.

## Tools

- ` + "`" + `add_link` + "`" + `: url and title are required; category is created when missing.
- ` + "`" + `delete_link` + "`" + `: deletes the first link whose url or title matches.
- ` + "`" + `delete_links` + "`" + `: deletes every link matching any selector; unmatched selectors are ignored.
- ` + "`" + `search_links` + "`" + ` and ` + "`" + `read_ledger` + "`" + `: read-only.
`
