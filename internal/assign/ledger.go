package assign

import (
	"slices"

	"github.com/retroenv/retrolink/internal/region"
	"github.com/retroenv/retrolink/internal/section"
)

// span is the address range [start, end).
type span struct {
	start uint32
	end   uint32
}

func (s span) size() uint32 {
	return s.end - s.start
}

func (s span) overlaps(other span) bool {
	if s.size() == 0 || other.size() == 0 {
		return false
	}
	return s.start < other.end && other.start < s.end
}

// placement is a range occupied by a placed section.
type placement struct {
	span
	section *section.Merged
}

// bankSpace tracks the free and occupied ranges of one bank. Both lists are
// kept sorted by address.
type bankSpace struct {
	free []span
	used []placement
}

// overlapping returns the placement that intersects the range, if any.
func (b *bankSpace) overlapping(s span) (placement, bool) {
	for _, p := range b.used {
		if p.overlaps(s) {
			return p, true
		}
	}
	return placement{}, false
}

// reserve marks the range as occupied by the section. It returns false and
// changes nothing if the range does not lie within a single free range.
func (b *bankSpace) reserve(s span, sec *section.Merged) bool {
	if s.size() == 0 {
		return true
	}

	idx := slices.IndexFunc(b.free, func(f span) bool {
		return f.start <= s.start && s.end <= f.end
	})
	if idx < 0 {
		return false
	}

	free := b.free[idx]
	var rest []span
	if free.start < s.start {
		rest = append(rest, span{start: free.start, end: s.start})
	}
	if s.end < free.end {
		rest = append(rest, span{start: s.end, end: free.end})
	}
	b.free = slices.Replace(b.free, idx, idx+1, rest...)

	pos, _ := slices.BinarySearchFunc(b.used, s.start, func(p placement, start uint32) int {
		return int(p.start) - int(start)
	})
	b.used = slices.Insert(b.used, pos, placement{span: s, section: sec})
	return true
}

type bankKey struct {
	typ  region.Type
	bank uint32
}

// ledger is the free space of every bank of every region. It only lives for
// the duration of one assignment run.
type ledger struct {
	regions *region.Table
	banks   map[bankKey]*bankSpace
}

func newLedger(regions *region.Table) *ledger {
	return &ledger{
		regions: regions,
		banks:   make(map[bankKey]*bankSpace),
	}
}

// bank returns the space of a bank, initially spanning the whole region.
func (l *ledger) bank(typ region.Type, bank uint32) *bankSpace {
	key := bankKey{typ: typ, bank: bank}
	space, ok := l.banks[key]
	if ok {
		return space
	}

	r := l.regions.Region(typ)
	space = &bankSpace{
		free: []span{{start: uint32(r.Start), end: r.End()}},
	}
	l.banks[key] = space
	return space
}
