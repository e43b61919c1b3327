package mcpserver

import (
	"fmt"
	"strings"

	"github.com/starford/richfilter/internal/filter"
)

// PolicyURI identifies the filter policy resource.
const PolicyURI = "richfilter://filter-policy"

// PolicyContract renders the effective filter policy as Markdown for LLM
// consumers that write documents into the vault.
func PolicyContract(p filter.Policy) string {
	var b strings.Builder
	b.WriteString("# richfilter document policy\n\n")
	b.WriteString("Documents are stored as raw content (JSON or YAML) with `blocks` and an `entityMap`. ")
	b.WriteString("Every document written through this server is sanitized before it is stored; ")
	b.WriteString("anything outside the lists below is removed or downgraded.\n\n")

	fmt.Fprintf(&b, "## Maximum list nesting\n\n%d (deeper blocks are clamped)\n\n", p.MaxListNesting)
	writeList(&b, "Block types", "Other types become `unstyled`.", p.BlockTypes)
	writeList(&b, "Inline styles", "Other styles are dropped from the characters that carry them.", p.InlineStyles)
	writeList(&b, "Entity types", "Other entities are unlinked. `IMAGE` survives only inside `atomic` blocks.", p.EntityTypes)

	b.WriteString("## Atomic blocks\n\n")
	b.WriteString("An `atomic` block holds a single space character carrying the entity it embeds. ")
	b.WriteString("Atomic blocks whose entity is not allowed become `unstyled` blocks and lose the entity.\n\n")

	b.WriteString("## Example\n\n```json\n")
	b.WriteString(`{
  "blocks": [
    {"key": "a1", "type": "header-two", "depth": 0, "text": "Title", "inlineStyleRanges": [], "entityRanges": []},
    {"key": "b2", "type": "unstyled", "depth": 0, "text": "See the docs",
     "inlineStyleRanges": [{"offset": 0, "length": 3, "style": "BOLD"}],
     "entityRanges": [{"offset": 8, "length": 4, "key": 0}]}
  ],
  "entityMap": {"0": {"type": "LINK", "mutability": "MUTABLE", "data": {"url": "https://example.com"}}}
}
`)
	b.WriteString("```\n")
	return b.String()
}

func writeList(b *strings.Builder, title, note string, items []string) {
	fmt.Fprintf(b, "## %s\n\n", title)
	if len(items) == 0 {
		b.WriteString("(none)\n")
	}
	for _, it := range items {
		fmt.Fprintf(b, "- `%s`\n", it)
	}
	fmt.Fprintf(b, "\n%s\n\n", note)
}
