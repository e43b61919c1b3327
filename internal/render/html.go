// Package render converts document snapshots to HTML. Output always passes
// through a bluemonday UGC policy.
package render

import (
	"fmt"
	"html"
	"slices"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/starford/richfilter/internal/document"
)

var blockTags = map[string]string{
	document.BlockUnstyled:    "p",
	document.BlockHeaderOne:   "h1",
	document.BlockHeaderTwo:   "h2",
	document.BlockHeaderThree: "h3",
	document.BlockHeaderFour:  "h4",
	document.BlockHeaderFive:  "h5",
	document.BlockHeaderSix:   "h6",
	document.BlockBlockquote:  "blockquote",
	document.BlockCode:        "pre",
}

var styleTags = map[string]string{
	document.StyleBold:          "strong",
	document.StyleItalic:        "em",
	document.StyleCode:          "code",
	document.StyleUnderline:     "u",
	document.StyleStrikethrough: "s",
	document.StyleSuperscript:   "sup",
	document.StyleSubscript:     "sub",
}

// Renderer turns snapshots into sanitized HTML. It is safe for concurrent use.
type Renderer struct {
	policy *bluemonday.Policy
}

// New creates a Renderer with the bluemonday UGC policy.
func New() *Renderer {
	return &Renderer{policy: bluemonday.UGCPolicy()}
}

// HTML renders s. Unknown block types render as paragraphs; atomic blocks
// without a renderable entity are skipped.
func (r *Renderer) HTML(s *document.Snapshot) string {
	var b strings.Builder
	var lists []string

	closeLists := func(depth int) {
		for len(lists) > depth {
			fmt.Fprintf(&b, "</li></%s>", lists[len(lists)-1])
			lists = lists[:len(lists)-1]
		}
	}

	for i := 0; i < s.Len(); i++ {
		blk := s.Block(i)

		tag, isList := listTag(blk.Type)
		if !isList {
			closeLists(0)
			r.writeBlock(&b, s, blk)
			continue
		}

		level := blk.Depth + 1
		closeLists(level)
		if len(lists) == level {
			if lists[level-1] == tag {
				b.WriteString("</li>")
			} else {
				closeLists(level - 1)
			}
		}
		for len(lists) < level {
			fmt.Fprintf(&b, "<%s>", tag)
			lists = append(lists, tag)
			if len(lists) < level {
				b.WriteString("<li>")
			}
		}
		b.WriteString("<li>")
		writeInline(&b, s, blk)
	}
	closeLists(0)

	return r.policy.Sanitize(b.String())
}

func listTag(blockType string) (string, bool) {
	switch blockType {
	case document.BlockUnorderedListItem:
		return "ul", true
	case document.BlockOrderedListItem:
		return "ol", true
	default:
		return "", false
	}
}

func (r *Renderer) writeBlock(b *strings.Builder, s *document.Snapshot, blk *document.Block) {
	if blk.IsAtomic() {
		writeAtomic(b, s, blk)
		return
	}
	tag, ok := blockTags[blk.Type]
	if !ok {
		tag = "p"
	}
	fmt.Fprintf(b, "<%s>", tag)
	writeInline(b, s, blk)
	fmt.Fprintf(b, "</%s>", tag)
}

func writeAtomic(b *strings.Builder, s *document.Snapshot, blk *document.Block) {
	if blk.Len() == 0 {
		return
	}
	ent, ok := s.Entities().Get(blk.EntityAt(0))
	if !ok {
		return
	}
	switch ent.Type {
	case document.EntityHorizontalRule:
		b.WriteString("<hr>")
	case document.EntityImage:
		src := dataString(ent.Data, "src")
		if src == "" {
			return
		}
		fmt.Fprintf(b, `<p><img src="%s" alt="%s"></p>`,
			html.EscapeString(src), html.EscapeString(dataString(ent.Data, "alt")))
	case document.EntityEmbed, document.EntityDocument:
		url := dataString(ent.Data, "url")
		if url == "" {
			return
		}
		label := dataString(ent.Data, "title")
		if label == "" {
			label = url
		}
		fmt.Fprintf(b, `<p><a href="%s">%s</a></p>`, html.EscapeString(url), html.EscapeString(label))
	}
}

// writeInline emits the block text grouped into runs of equal entity and
// then equal style set.
func writeInline(b *strings.Builder, s *document.Snapshot, blk *document.Block) {
	runes := []rune(blk.Text)
	for start := 0; start < len(runes); {
		key := blk.EntityAt(start)
		end := start + 1
		for end < len(runes) && blk.EntityAt(end) == key {
			end++
		}

		href := ""
		if ent, ok := s.Entities().Get(key); ok && (ent.Type == document.EntityLink || ent.Type == document.EntityDocument) {
			href = dataString(ent.Data, "url")
		}
		if href != "" {
			fmt.Fprintf(b, `<a href="%s">`, html.EscapeString(href))
		}
		writeStyled(b, blk, runes, start, end)
		if href != "" {
			b.WriteString("</a>")
		}
		start = end
	}
}

func writeStyled(b *strings.Builder, blk *document.Block, runes []rune, from, to int) {
	for start := from; start < to; {
		styles := blk.StylesAt(start)
		end := start + 1
		for end < to && slices.Equal(blk.StylesAt(end), styles) {
			end++
		}

		var open []string
		for _, st := range styles {
			if tag, ok := styleTags[st]; ok {
				open = append(open, tag)
				fmt.Fprintf(b, "<%s>", tag)
			}
		}
		b.WriteString(html.EscapeString(string(runes[start:end])))
		for i := len(open) - 1; i >= 0; i-- {
			fmt.Fprintf(b, "</%s>", open[i])
		}
		start = end
	}
}

func dataString(data map[string]any, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}
