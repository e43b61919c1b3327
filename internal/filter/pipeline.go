package filter

import (
	"github.com/starford/richfilter/internal/document"
)

// Report counts, per stage, the blocks a run rewrote.
type Report struct {
	DepthLimited         int `json:"depthLimited"`
	BlockTypesReset      int `json:"blockTypesReset"`
	InlineStylesStripped int `json:"inlineStylesStripped"`
	AtomicBlocksReset    int `json:"atomicBlocksReset"`
	AtomicBlocksDemoted  int `json:"atomicBlocksDemoted"`
	EntitiesStripped     int `json:"entitiesStripped"`
}

// Total returns the number of block rewrites across all stages.
func (r Report) Total() int {
	return r.DepthLimited + r.BlockTypesReset + r.InlineStylesStripped +
		r.AtomicBlocksReset + r.AtomicBlocksDemoted + r.EntitiesStripped
}

// Changed reports whether any stage rewrote a block.
func (r Report) Changed() bool { return r.Total() > 0 }

// Pipeline runs the fixed sequence of filter stages for one Config.
// It keeps no state between runs and is safe for concurrent use.
type Pipeline struct {
	cfg Config
}

// New creates a pipeline for cfg.
func New(cfg Config) *Pipeline {
	return &Pipeline{cfg: cfg}
}

// Config returns the pipeline's configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// Filter sanitizes s. When nothing needs to change, s itself is returned.
func (p *Pipeline) Filter(s *document.Snapshot) *document.Snapshot {
	out, _ := p.FilterWithReport(s)
	return out
}

// FilterWithReport sanitizes s and reports what each stage rewrote.
func (p *Pipeline) FilterWithReport(s *document.Snapshot) (*document.Snapshot, Report) {
	var r Report
	a := p.cfg.allowedSets()
	workers := p.cfg.Workers

	step := func(counter *int, next *document.Snapshot) {
		*counter = document.Changed(s, next)
		s = next
	}

	step(&r.DepthLimited, LimitBlockDepth(s, p.cfg.MaxListNesting))
	step(&r.BlockTypesReset, filterBlockTypes(s, a.blockTypes))
	step(&r.InlineStylesStripped, filterInlineStyles(s, a.inlineStyles, workers))
	step(&r.AtomicBlocksReset, resetAtomicBlocks(s, workers))
	step(&r.AtomicBlocksDemoted, filterAtomicBlocks(s, a.entityTypes))
	step(&r.EntitiesStripped, filterEntityRanges(s, keepEntityTypes(a.entityTypes), workers))

	return s, r
}

// FilterEditorState sanitizes snapshot against the given capabilities.
// Descriptor order is irrelevant; the allowlists are derived on every call.
func FilterEditorState(
	snapshot *document.Snapshot,
	maxListNesting int,
	enableHorizontalRule bool,
	blockTypes, inlineStyles, entityTypes []Descriptor,
) *document.Snapshot {
	return New(Config{
		MaxListNesting:       maxListNesting,
		EnableHorizontalRule: enableHorizontalRule,
		BlockTypes:           blockTypes,
		InlineStyles:         inlineStyles,
		EntityTypes:          entityTypes,
	}).Filter(snapshot)
}
