// Package document models an immutable rich-text content tree: an ordered list
// of blocks, per-character metadata and a shared entity registry.
//
// Snapshots have value semantics. Every rewrite produces a new Snapshot that
// shares all unchanged *Block values with its predecessor, and a rewrite that
// changes nothing returns the receiver itself, so callers can detect a no-op
// with a pointer comparison.
package document

import (
	"slices"
	"sort"
)

// Block types.
const (
	BlockUnstyled          = "unstyled"
	BlockAtomic            = "atomic"
	BlockHeaderOne         = "header-one"
	BlockHeaderTwo         = "header-two"
	BlockHeaderThree       = "header-three"
	BlockHeaderFour        = "header-four"
	BlockHeaderFive        = "header-five"
	BlockHeaderSix         = "header-six"
	BlockUnorderedListItem = "unordered-list-item"
	BlockOrderedListItem   = "ordered-list-item"
	BlockBlockquote        = "blockquote"
	BlockCode              = "code-block"
)

// Inline styles.
const (
	StyleBold          = "BOLD"
	StyleItalic        = "ITALIC"
	StyleCode          = "CODE"
	StyleUnderline     = "UNDERLINE"
	StyleStrikethrough = "STRIKETHROUGH"
	StyleSuperscript   = "SUPERSCRIPT"
	StyleSubscript     = "SUBSCRIPT"
)

// Entity types.
const (
	EntityLink           = "LINK"
	EntityImage          = "IMAGE"
	EntityDocument       = "DOCUMENT"
	EntityEmbed          = "EMBED"
	EntityHorizontalRule = "HORIZONTAL_RULE"
)

// AtomicPlaceholder is the only text an atomic block may carry.
const AtomicPlaceholder = " "

// StyleSet is a sorted, de-duplicated set of inline style names.
// Treat it as read-only: rewrites allocate a new set.
type StyleSet []string

// NewStyleSet builds a StyleSet from styles in any order.
func NewStyleSet(styles ...string) StyleSet {
	if len(styles) == 0 {
		return nil
	}
	out := slices.Clone(styles)
	sort.Strings(out)
	return slices.Compact(out)
}

// Has reports whether style is in the set.
func (s StyleSet) Has(style string) bool {
	_, ok := slices.BinarySearch(s, style)
	return ok
}

// Add returns a set that also contains style.
func (s StyleSet) Add(style string) StyleSet {
	i, ok := slices.BinarySearch(s, style)
	if ok {
		return s
	}
	return slices.Insert(slices.Clone(s), i, style)
}

// Keep returns the subset of styles for which keep reports true.
// If every style is kept the receiver is returned unchanged.
func (s StyleSet) Keep(keep func(style string) bool) StyleSet {
	for i, st := range s {
		if keep(st) {
			continue
		}
		out := slices.Clone(s[:i])
		for _, rest := range s[i+1:] {
			if keep(rest) {
				out = append(out, rest)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	}
	return s
}

// CharacterMeta is the metadata attached to a single character of a block.
type CharacterMeta struct {
	Styles StyleSet
	// Entity is a key into the snapshot's EntityRegistry, or "" for none.
	Entity string
}

// Equal reports whether c and o carry the same styles and entity.
func (c CharacterMeta) Equal(o CharacterMeta) bool {
	return c.Entity == o.Entity && slices.Equal(c.Styles, o.Styles)
}

// Block is a top-level unit of content. A *Block is never mutated once it is
// part of a Snapshot; the With* methods return modified copies.
type Block struct {
	Key   string
	Type  string
	Depth int
	Text  string
	// Chars holds one entry per rune of Text.
	Chars []CharacterMeta
	Data  map[string]any
}

// IsAtomic reports whether b is a non-text container block.
func (b *Block) IsAtomic() bool { return b.Type == BlockAtomic }

// Len returns the number of characters in the block.
func (b *Block) Len() int { return len(b.Chars) }

// EntityAt returns the entity key at offset i, or "" when out of range.
func (b *Block) EntityAt(i int) string {
	if i < 0 || i >= len(b.Chars) {
		return ""
	}
	return b.Chars[i].Entity
}

// StylesAt returns the styles at offset i, or nil when out of range.
func (b *Block) StylesAt(i int) StyleSet {
	if i < 0 || i >= len(b.Chars) {
		return nil
	}
	return b.Chars[i].Styles
}

func (b *Block) clone() *Block {
	c := *b
	return &c
}

// WithType returns a copy of b with its type replaced.
func (b *Block) WithType(t string) *Block {
	c := b.clone()
	c.Type = t
	return c
}

// WithDepth returns a copy of b with its depth replaced.
func (b *Block) WithDepth(depth int) *Block {
	c := b.clone()
	c.Depth = depth
	return c
}

// WithContent returns a copy of b with new text and character metadata.
func (b *Block) WithContent(text string, chars []CharacterMeta) *Block {
	c := b.clone()
	c.Text = text
	c.Chars = chars
	return c
}

// MapChars applies fn to every character. The block is copied only if at
// least one character changes; otherwise b itself is returned.
func (b *Block) MapChars(fn func(c CharacterMeta) CharacterMeta) *Block {
	var out []CharacterMeta
	for i, c := range b.Chars {
		next := fn(c)
		if out == nil {
			if next.Equal(c) {
				continue
			}
			out = slices.Clone(b.Chars)
		}
		out[i] = next
	}
	if out == nil {
		return b
	}
	return b.WithContent(b.Text, out)
}

// Entity is an out-of-band annotation referenced by characters.
type Entity struct {
	Type       string
	Mutability string
	Data       map[string]any
}

// EntityRegistry maps entity keys to entity records. It is read-only once
// built and may be shared by any number of snapshots.
type EntityRegistry struct {
	entities map[string]Entity
}

// NewEntityRegistry copies entities into a new registry.
func NewEntityRegistry(entities map[string]Entity) *EntityRegistry {
	m := make(map[string]Entity, len(entities))
	for k, v := range entities {
		m[k] = v
	}
	return &EntityRegistry{entities: m}
}

// Get returns the entity stored under key.
func (r *EntityRegistry) Get(key string) (Entity, bool) {
	if r == nil {
		return Entity{}, false
	}
	e, ok := r.entities[key]
	return e, ok
}

// Type returns the type of the entity stored under key.
func (r *EntityRegistry) Type(key string) (string, bool) {
	e, ok := r.Get(key)
	return e.Type, ok
}

// Keys returns all entity keys in sorted order.
func (r *EntityRegistry) Keys() []string {
	if r == nil {
		return nil
	}
	keys := make([]string, 0, len(r.entities))
	for k := range r.entities {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of registered entities.
func (r *EntityRegistry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.entities)
}

// Snapshot is an immutable document value.
type Snapshot struct {
	blocks   []*Block
	entities *EntityRegistry
	byKey    map[string]int
}

// New builds a snapshot from blocks and a registry. The block slice is
// copied; the blocks themselves must not be modified afterwards.
func New(blocks []*Block, entities *EntityRegistry) *Snapshot {
	if entities == nil {
		entities = NewEntityRegistry(nil)
	}
	s := &Snapshot{
		blocks:   slices.Clone(blocks),
		entities: entities,
		byKey:    make(map[string]int, len(blocks)),
	}
	for i, b := range s.blocks {
		s.byKey[b.Key] = i
	}
	return s
}

// Len returns the number of blocks.
func (s *Snapshot) Len() int { return len(s.blocks) }

// Block returns the block at position i.
func (s *Snapshot) Block(i int) *Block { return s.blocks[i] }

// BlockByKey looks a block up by its stable key.
func (s *Snapshot) BlockByKey(key string) (*Block, bool) {
	i, ok := s.byKey[key]
	if !ok {
		return nil, false
	}
	return s.blocks[i], true
}

// Blocks returns a fresh slice of the snapshot's blocks in order.
func (s *Snapshot) Blocks() []*Block { return slices.Clone(s.blocks) }

// Entities returns the shared entity registry.
func (s *Snapshot) Entities() *EntityRegistry { return s.entities }

// Replace returns a snapshot holding blocks, sharing the entity registry.
// When blocks holds exactly the receiver's block pointers, the receiver is
// returned.
func (s *Snapshot) Replace(blocks []*Block) *Snapshot {
	if len(blocks) == len(s.blocks) {
		same := true
		for i := range blocks {
			if blocks[i] != s.blocks[i] {
				same = false
				break
			}
		}
		if same {
			return s
		}
	}
	return New(blocks, s.entities)
}

// Map applies fn to every block and returns the resulting snapshot.
// fn must return its argument for blocks it leaves untouched.
func (s *Snapshot) Map(fn func(*Block) *Block) *Snapshot {
	var out []*Block
	for i, b := range s.blocks {
		next := fn(b)
		if out == nil {
			if next == b {
				continue
			}
			out = slices.Clone(s.blocks)
		}
		out[i] = next
	}
	if out == nil {
		return s
	}
	return New(out, s.entities)
}

// PlainText joins block texts with newlines.
func (s *Snapshot) PlainText() string {
	n := 0
	for _, b := range s.blocks {
		n += len(b.Text) + 1
	}
	buf := make([]byte, 0, n)
	for i, b := range s.blocks {
		if i > 0 {
			buf = append(buf, '\n')
		}
		buf = append(buf, b.Text...)
	}
	return string(buf)
}

// Changed counts the positions at which a and b hold different block values.
// Blocks beyond the shorter snapshot count as changed.
func Changed(a, b *Snapshot) int {
	if a == b {
		return 0
	}
	n := max(len(a.blocks), len(b.blocks))
	changed := n - min(len(a.blocks), len(b.blocks))
	for i := range min(len(a.blocks), len(b.blocks)) {
		if a.blocks[i] != b.blocks[i] {
			changed++
		}
	}
	return changed
}

// Equal reports whether a and b hold structurally identical blocks and
// reference the same set of entity keys.
func Equal(a, b *Snapshot) bool {
	if a == b {
		return true
	}
	if len(a.blocks) != len(b.blocks) {
		return false
	}
	for i := range a.blocks {
		x, y := a.blocks[i], b.blocks[i]
		if x == y {
			continue
		}
		if x.Key != y.Key || x.Type != y.Type || x.Depth != y.Depth || x.Text != y.Text {
			return false
		}
		if !slices.EqualFunc(x.Chars, y.Chars, CharacterMeta.Equal) {
			return false
		}
	}
	return slices.Equal(a.entities.Keys(), b.entities.Keys())
}
