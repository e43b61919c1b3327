package filter

import (
	"sync"

	"github.com/starford/richfilter/internal/document"
)

// minShardBlocks is the smallest document worth splitting across workers.
const minShardBlocks = 64

// LimitBlockDepth clamps every block's depth to maxDepth.
func LimitBlockDepth(s *document.Snapshot, maxDepth int) *document.Snapshot {
	return s.Map(func(b *document.Block) *document.Block {
		if b.Depth <= maxDepth {
			return b
		}
		return b.WithDepth(maxDepth)
	})
}

// FilterBlockTypes resets blocks whose type is not in allowed to unstyled.
func FilterBlockTypes(s *document.Snapshot, allowed []string) *document.Snapshot {
	return filterBlockTypes(s, newTypeSet(allowed...))
}

func filterBlockTypes(s *document.Snapshot, allowed typeSet) *document.Snapshot {
	return s.Map(func(b *document.Block) *document.Block {
		if allowed.has(b.Type) {
			return b
		}
		return b.WithType(document.BlockUnstyled)
	})
}

// FilterInlineStyles removes styles not in allowed from every character.
func FilterInlineStyles(s *document.Snapshot, allowed []string) *document.Snapshot {
	return filterInlineStyles(s, newTypeSet(allowed...), 1)
}

func filterInlineStyles(s *document.Snapshot, allowed typeSet, workers int) *document.Snapshot {
	return mapBlocks(s, workers, func(b *document.Block) *document.Block {
		return b.MapChars(func(c document.CharacterMeta) document.CharacterMeta {
			c.Styles = c.Styles.Keep(allowed.has)
			return c
		})
	})
}

// ResetAtomicBlocks gives every atomic block the placeholder text and a
// single character: the first original one, entity included.
func ResetAtomicBlocks(s *document.Snapshot) *document.Snapshot {
	return resetAtomicBlocks(s, 1)
}

func resetAtomicBlocks(s *document.Snapshot, workers int) *document.Snapshot {
	return mapBlocks(s, workers, func(b *document.Block) *document.Block {
		if !b.IsAtomic() || b.Text == document.AtomicPlaceholder {
			return b
		}
		first := document.CharacterMeta{}
		if b.Len() > 0 {
			first = b.Chars[0]
		}
		return b.WithContent(document.AtomicPlaceholder, []document.CharacterMeta{first})
	})
}

// FilterAtomicBlocks demotes atomic blocks whose entity type is not in
// allowed. Atomic blocks without an entity are kept.
func FilterAtomicBlocks(s *document.Snapshot, allowed []string) *document.Snapshot {
	return filterAtomicBlocks(s, newTypeSet(allowed...))
}

func filterAtomicBlocks(s *document.Snapshot, allowed typeSet) *document.Snapshot {
	entities := s.Entities()
	return s.Map(func(b *document.Block) *document.Block {
		if !b.IsAtomic() {
			return b
		}
		key := b.EntityAt(0)
		if key == "" {
			return b
		}
		if typ, ok := entities.Type(key); ok && allowed.has(typ) {
			return b
		}
		return b.WithType(document.BlockUnstyled)
	})
}

// KeepEntityFunc decides whether a character inside block may keep its
// reference to an entity of entityType.
type KeepEntityFunc func(entityType string, block *document.Block) bool

// FilterEntityRanges clears entity references for which keep reports false.
// References to keys missing from the registry are always cleared. Styles
// and text are left untouched.
func FilterEntityRanges(s *document.Snapshot, keep KeepEntityFunc) *document.Snapshot {
	return filterEntityRanges(s, keep, 1)
}

func filterEntityRanges(s *document.Snapshot, keep KeepEntityFunc, workers int) *document.Snapshot {
	entities := s.Entities()
	return mapBlocks(s, workers, func(b *document.Block) *document.Block {
		return b.MapChars(func(c document.CharacterMeta) document.CharacterMeta {
			if c.Entity == "" {
				return c
			}
			if typ, ok := entities.Type(c.Entity); !ok || !keep(typ, b) {
				c.Entity = ""
			}
			return c
		})
	})
}

// FilterEntityTypes clears references to entities whose type is not in
// allowed, and to images outside atomic blocks. The placeholder glyph of a
// stripped inline image stays in the text.
func FilterEntityTypes(s *document.Snapshot, allowed []string) *document.Snapshot {
	return filterEntityRanges(s, keepEntityTypes(newTypeSet(allowed...)), 1)
}

func keepEntityTypes(allowed typeSet) KeepEntityFunc {
	return func(entityType string, block *document.Block) bool {
		if entityType == document.EntityImage && !block.IsAtomic() {
			return false
		}
		return allowed.has(entityType)
	}
}

// mapBlocks is Snapshot.Map, optionally sharded across workers. fn must be
// safe to call concurrently on distinct blocks.
func mapBlocks(s *document.Snapshot, workers int, fn func(*document.Block) *document.Block) *document.Snapshot {
	if workers <= 1 || s.Len() < minShardBlocks {
		return s.Map(fn)
	}

	blocks := s.Blocks()
	size := (len(blocks) + workers - 1) / workers

	// At most workers shards, one goroutine each.
	var wg sync.WaitGroup
	for start := 0; start < len(blocks); start += size {
		part := blocks[start:min(start+size, len(blocks))]
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i, b := range part {
				part[i] = fn(b)
			}
		}()
	}
	wg.Wait()

	return s.Replace(blocks)
}
