// Package parser decodes raw content documents (JSON or YAML) into snapshots
// and extracts the metadata used for indexing.
package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/starford/richfilter/internal/apperr"
	"github.com/starford/richfilter/internal/document"
)

// Format is a document encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

const maxTitleRunes = 120

// Result holds the output of parsing a document.
type Result struct {
	Snapshot    *document.Snapshot
	Format      Format
	Title       string
	Text        string
	EntityTypes []string
}

// Parse decodes data and summarises the resulting snapshot.
func Parse(data []byte) (*Result, error) {
	raw, format, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return Summarize(document.FromRaw(raw), format), nil
}

// Summarize builds a Result for an already decoded snapshot.
func Summarize(s *document.Snapshot, format Format) *Result {
	return &Result{
		Snapshot:    s,
		Format:      format,
		Title:       Title(s),
		Text:        s.PlainText(),
		EntityTypes: EntityTypes(s),
	}
}

// DetectFormat guesses the encoding from the first non-space byte.
func DetectFormat(data []byte) Format {
	trimmed := bytes.TrimLeft(data, " \t\r\n\ufeff")
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return FormatJSON
	}
	return FormatYAML
}

// FormatForPath picks the encoding implied by a file extension.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Decode unmarshals raw content in either format.
func Decode(data []byte) (*document.RawContent, Format, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, "", fmt.Errorf("%w: empty document", apperr.ErrInvalidDocument)
	}

	format := DetectFormat(data)
	var raw document.RawContent
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, "", fmt.Errorf("%w: %v", apperr.ErrInvalidDocument, err)
		}
	default:
		var node yaml.Node
		if err := yaml.Unmarshal(data, &node); err != nil {
			return nil, "", fmt.Errorf("%w: %v", apperr.ErrInvalidDocument, err)
		}
		if len(node.Content) == 0 || node.Content[0].Kind != yaml.MappingNode {
			return nil, "", fmt.Errorf("%w: expected a mapping at the top level", apperr.ErrInvalidDocument)
		}
		if err := node.Decode(&raw); err != nil {
			return nil, "", fmt.Errorf("%w: %v", apperr.ErrInvalidDocument, err)
		}
	}
	return &raw, format, nil
}

// Encode serialises s in the given format. JSON output is indented and ends
// with a newline.
func Encode(s *document.Snapshot, format Format) ([]byte, error) {
	raw := document.ToRaw(s)
	if format == FormatYAML {
		out, err := yaml.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("parser: encode yaml: %w", err)
		}
		return out, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(raw); err != nil {
		return nil, fmt.Errorf("parser: encode json: %w", err)
	}
	return buf.Bytes(), nil
}

// Title returns the text of the first non-empty heading, otherwise the first
// non-empty block, truncated.
func Title(s *document.Snapshot) string {
	fallback := ""
	for i := range s.Len() {
		b := s.Block(i)
		text := strings.TrimSpace(b.Text)
		if text == "" {
			continue
		}
		if strings.HasPrefix(b.Type, "header-") {
			return truncate(text)
		}
		if fallback == "" && !b.IsAtomic() {
			fallback = text
		}
	}
	return truncate(fallback)
}

// EntityTypes returns the sorted, distinct types of entities referenced by
// any character of s.
func EntityTypes(s *document.Snapshot) []string {
	seen := map[string]struct{}{}
	reg := s.Entities()
	for i := range s.Len() {
		for _, c := range s.Block(i).Chars {
			if c.Entity == "" {
				continue
			}
			if typ, ok := reg.Type(c.Entity); ok {
				seen[typ] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for typ := range seen {
		out = append(out, typ)
	}
	sort.Strings(out)
	return out
}

func truncate(s string) string {
	if utf8.RuneCountInString(s) <= maxTitleRunes {
		return s
	}
	return string([]rune(s)[:maxTitleRunes]) + "…"
}
