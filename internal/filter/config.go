// Package filter sanitizes document snapshots against an editor's declared
// capabilities: allowed block types, inline styles, entity types and a
// maximum list nesting depth.
package filter

import (
	"sort"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/richfilter/internal/document"
)

// Descriptor declares one capability of the editor. Only Type takes part in
// filtering; the other fields describe the control to a UI.
type Descriptor struct {
	Type        string `yaml:"type" json:"type"`
	Label       string `yaml:"label,omitempty" json:"label,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// Validate validates the descriptor.
func (d Descriptor) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Type, validation.Required),
	)
}

// Types maps descriptors to their bare type identifiers.
func Types(descriptors []Descriptor) []string {
	out := make([]string, len(descriptors))
	for i, d := range descriptors {
		out[i] = d.Type
	}
	return out
}

// Config is the capability set a document is filtered against.
type Config struct {
	MaxListNesting       int          `yaml:"max_list_nesting" json:"maxListNesting"`
	EnableHorizontalRule bool         `yaml:"enable_horizontal_rule" json:"enableHorizontalRule"`
	BlockTypes           []Descriptor `yaml:"block_types" json:"blockTypes"`
	InlineStyles         []Descriptor `yaml:"inline_styles" json:"inlineStyles"`
	EntityTypes          []Descriptor `yaml:"entity_types" json:"entityTypes"`
	// Workers shards the per-character stages across block ranges when > 1.
	Workers int `yaml:"workers" json:"-"`
}

// Validate validates the filter configuration.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.MaxListNesting, validation.Min(0)),
		validation.Field(&c.Workers, validation.Min(0)),
		validation.Field(&c.BlockTypes),
		validation.Field(&c.InlineStyles),
		validation.Field(&c.EntityTypes),
	)
}

// DefaultConfig returns the capability set of a typical rich-text field.
func DefaultConfig() Config {
	return Config{
		MaxListNesting:       4,
		EnableHorizontalRule: true,
		BlockTypes: []Descriptor{
			{Type: document.BlockHeaderTwo, Label: "H2"},
			{Type: document.BlockHeaderThree, Label: "H3"},
			{Type: document.BlockHeaderFour, Label: "H4"},
			{Type: document.BlockUnorderedListItem, Label: "UL"},
			{Type: document.BlockOrderedListItem, Label: "OL"},
			{Type: document.BlockBlockquote, Label: "Quote"},
		},
		InlineStyles: []Descriptor{
			{Type: document.StyleBold, Label: "B"},
			{Type: document.StyleItalic, Label: "I"},
		},
		EntityTypes: []Descriptor{
			{Type: document.EntityLink, Label: "Link"},
			{Type: document.EntityImage, Label: "Image"},
			{Type: document.EntityEmbed, Label: "Embed"},
			{Type: document.EntityDocument, Label: "Document"},
		},
	}
}

// typeSet is a set of type identifiers.
type typeSet map[string]struct{}

func newTypeSet(types ...string) typeSet {
	s := make(typeSet, len(types))
	for _, t := range types {
		s[t] = struct{}{}
	}
	return s
}

func (s typeSet) has(t string) bool {
	_, ok := s[t]
	return ok
}

func (s typeSet) sorted() []string {
	out := make([]string, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// allowed holds the sets derived from a Config for a single run.
type allowed struct {
	blockTypes   typeSet
	inlineStyles typeSet
	entityTypes  typeSet
}

// allowedSets derives the effective allowlists. unstyled and atomic blocks
// are always allowed; HORIZONTAL_RULE entities only when enabled.
func (c Config) allowedSets() allowed {
	blocks := newTypeSet(Types(c.BlockTypes)...)
	blocks[document.BlockUnstyled] = struct{}{}
	blocks[document.BlockAtomic] = struct{}{}

	entities := newTypeSet(Types(c.EntityTypes)...)
	if c.EnableHorizontalRule {
		entities[document.EntityHorizontalRule] = struct{}{}
	}

	return allowed{
		blockTypes:   blocks,
		inlineStyles: newTypeSet(Types(c.InlineStyles)...),
		entityTypes:  entities,
	}
}

// Policy is the effective allowlist view of a Config.
type Policy struct {
	MaxListNesting int      `json:"maxListNesting"`
	BlockTypes     []string `json:"blockTypes"`
	InlineStyles   []string `json:"inlineStyles"`
	EntityTypes    []string `json:"entityTypes"`
}

// Policy returns the sorted effective allowlists.
func (c Config) Policy() Policy {
	a := c.allowedSets()
	return Policy{
		MaxListNesting: c.MaxListNesting,
		BlockTypes:     a.blockTypes.sorted(),
		InlineStyles:   a.inlineStyles.sorted(),
		EntityTypes:    a.entityTypes.sorted(),
	}
}
