package document

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// RawContent is the serialisable form of a snapshot, compatible with the
// Draft.js raw content format. Offsets and lengths count UTF-16 code units,
// as in JavaScript strings; Block.Chars holds one entry per rune.
type RawContent struct {
	Blocks    []RawBlock           `json:"blocks" yaml:"blocks"`
	EntityMap map[string]RawEntity `json:"entityMap" yaml:"entityMap"`
}

// RawBlock is a block with range-encoded character metadata.
type RawBlock struct {
	Key               string           `json:"key" yaml:"key"`
	Type              string           `json:"type" yaml:"type"`
	Depth             int              `json:"depth" yaml:"depth"`
	Text              string           `json:"text" yaml:"text"`
	InlineStyleRanges []RawStyleRange  `json:"inlineStyleRanges" yaml:"inlineStyleRanges"`
	EntityRanges      []RawEntityRange `json:"entityRanges" yaml:"entityRanges"`
	Data              map[string]any   `json:"data,omitempty" yaml:"data,omitempty"`
}

// RawStyleRange applies Style to [Offset, Offset+Length).
type RawStyleRange struct {
	Offset int    `json:"offset" yaml:"offset"`
	Length int    `json:"length" yaml:"length"`
	Style  string `json:"style" yaml:"style"`
}

// RawEntityRange binds entity Key to [Offset, Offset+Length).
type RawEntityRange struct {
	Offset int       `json:"offset" yaml:"offset"`
	Length int       `json:"length" yaml:"length"`
	Key    EntityKey `json:"key" yaml:"key"`
}

// RawEntity is an entityMap record.
type RawEntity struct {
	Type       string         `json:"type" yaml:"type"`
	Mutability string         `json:"mutability" yaml:"mutability"`
	Data       map[string]any `json:"data" yaml:"data"`
}

// EntityKey is an entityMap key. Producers emit either numbers or strings.
type EntityKey string

// UnmarshalJSON accepts a JSON number or string.
func (k *EntityKey) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*k = EntityKey(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("entity key: %w", err)
	}
	*k = EntityKey(n.String())
	return nil
}

// MarshalJSON emits numeric keys as numbers and anything else as a string.
func (k EntityKey) MarshalJSON() ([]byte, error) {
	if n, err := strconv.Atoi(string(k)); err == nil && strconv.Itoa(n) == string(k) {
		return []byte(k), nil
	}
	return json.Marshal(string(k))
}

// UnmarshalYAML accepts any scalar.
func (k *EntityKey) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("entity key: expected scalar at line %d", node.Line)
	}
	*k = EntityKey(node.Value)
	return nil
}

// FromRaw expands range-encoded content into a snapshot. Ranges falling
// outside their block's text are clipped; blocks without a key receive one.
func FromRaw(raw *RawContent) *Snapshot {
	entities := make(map[string]Entity, len(raw.EntityMap))
	for k, e := range raw.EntityMap {
		entities[k] = Entity{Type: e.Type, Mutability: e.Mutability, Data: e.Data}
	}

	blocks := make([]*Block, 0, len(raw.Blocks))
	seen := make(map[string]struct{}, len(raw.Blocks))
	for _, rb := range raw.Blocks {
		key := rb.Key
		if _, dup := seen[key]; key == "" || dup {
			key = newBlockKey()
		}
		seen[key] = struct{}{}

		typ := rb.Type
		if typ == "" {
			typ = BlockUnstyled
		}

		units := utf16Offsets(rb.Text)
		chars := make([]CharacterMeta, len(units)-1)
		for _, r := range rb.InlineStyleRanges {
			lo, hi := runeSpan(units, r.Offset, r.Length)
			for i := lo; i < hi; i++ {
				chars[i].Styles = chars[i].Styles.Add(r.Style)
			}
		}
		for _, r := range rb.EntityRanges {
			lo, hi := runeSpan(units, r.Offset, r.Length)
			for i := lo; i < hi; i++ {
				chars[i].Entity = string(r.Key)
			}
		}

		blocks = append(blocks, &Block{
			Key:   key,
			Type:  typ,
			Depth: max(rb.Depth, 0),
			Text:  rb.Text,
			Chars: chars,
			Data:  rb.Data,
		})
	}
	return New(blocks, NewEntityRegistry(entities))
}

// ToRaw collapses a snapshot back into ranges. Style ranges are ordered by
// offset then style name; every registry entry is emitted, referenced or not.
func ToRaw(s *Snapshot) *RawContent {
	raw := &RawContent{
		Blocks:    make([]RawBlock, 0, s.Len()),
		EntityMap: make(map[string]RawEntity, s.entities.Len()),
	}
	for _, k := range s.entities.Keys() {
		e, _ := s.entities.Get(k)
		raw.EntityMap[k] = RawEntity{Type: e.Type, Mutability: e.Mutability, Data: e.Data}
	}
	for _, b := range s.blocks {
		units := utf16Offsets(b.Text)
		styles := styleRanges(b)
		for i, r := range styles {
			styles[i].Offset, styles[i].Length = unitSpan(units, r.Offset, r.Length)
		}
		ents := entityRanges(b)
		for i, r := range ents {
			ents[i].Offset, ents[i].Length = unitSpan(units, r.Offset, r.Length)
		}
		raw.Blocks = append(raw.Blocks, RawBlock{
			Key:               b.Key,
			Type:              b.Type,
			Depth:             b.Depth,
			Text:              b.Text,
			InlineStyleRanges: styles,
			EntityRanges:      ents,
			Data:              b.Data,
		})
	}
	return raw
}

// utf16Offsets returns the UTF-16 offset of every rune of text followed by
// the total UTF-16 length, so the result has one more entry than text has
// runes.
func utf16Offsets(text string) []int {
	out := make([]int, 0, len(text)+1)
	u := 0
	for _, r := range text {
		out = append(out, u)
		u += max(utf16.RuneLen(r), 1)
	}
	return append(out, u)
}

// runeSpan maps a UTF-16 range to rune indexes, clipped to the text. A
// bound that splits a surrogate pair moves to the end of that rune.
func runeSpan(units []int, offset, length int) (int, int) {
	total := units[len(units)-1]
	lo, hi := clip(offset, length, total)
	n := len(units) - 1
	return min(sort.SearchInts(units, lo), n), min(sort.SearchInts(units, hi), n)
}

// unitSpan maps a rune range back to UTF-16 offset and length.
func unitSpan(units []int, offset, length int) (int, int) {
	lo := units[offset]
	return lo, units[offset+length] - lo
}

func styleRanges(b *Block) []RawStyleRange {
	out := []RawStyleRange{}
	open := map[string]int{}
	closeRun := func(style string, end int) {
		start := open[style]
		delete(open, style)
		out = append(out, RawStyleRange{Offset: start, Length: end - start, Style: style})
	}
	for i, c := range b.Chars {
		for style := range open {
			if !c.Styles.Has(style) {
				closeRun(style, i)
			}
		}
		for _, style := range c.Styles {
			if _, ok := open[style]; !ok {
				open[style] = i
			}
		}
	}
	for style := range open {
		closeRun(style, len(b.Chars))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Offset != out[j].Offset {
			return out[i].Offset < out[j].Offset
		}
		return out[i].Style < out[j].Style
	})
	return out
}

func entityRanges(b *Block) []RawEntityRange {
	out := []RawEntityRange{}
	start := 0
	for i := 1; i <= len(b.Chars); i++ {
		if i < len(b.Chars) && b.Chars[i].Entity == b.Chars[start].Entity {
			continue
		}
		if key := b.Chars[start].Entity; key != "" {
			out = append(out, RawEntityRange{Offset: start, Length: i - start, Key: EntityKey(key)})
		}
		start = i
	}
	return out
}

func clip(offset, length, n int) (int, int) {
	lo := min(max(offset, 0), n)
	hi := min(max(offset+length, lo), n)
	return lo, hi
}

func newBlockKey() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
