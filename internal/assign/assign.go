// Package assign places every merged section at an address and bank of its
// memory region.
package assign

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"github.com/retroenv/retrogolib/log"
	"github.com/retroenv/retrolink/internal/diag"
	"github.com/retroenv/retrolink/internal/region"
	"github.com/retroenv/retrolink/internal/section"
)

var (
	// ErrFixedOverlap is returned when two fixed sections occupy the same bytes.
	ErrFixedOverlap = errors.New("fixed sections overlap")
	// ErrOutOfRegion is returned when a section constraint lies outside of its region.
	ErrOutOfRegion = errors.New("section outside of region")
	// ErrOutOfSpace is returned when no free range can hold a floating section.
	ErrOutOfSpace = errors.New("no space for section")
	// ErrMisaligned is returned when a fixed address violates the section alignment.
	ErrMisaligned = errors.New("misaligned section")
)

// Assigner places sections into the memory regions.
type Assigner struct {
	logger  *log.Logger
	regions *region.Table
}

// New returns a new section assigner.
func New(logger *log.Logger, regions *region.Table) *Assigner {
	return &Assigner{
		logger:  logger,
		regions: regions,
	}
}

// Assign places all sections. Fully fixed sections are placed first in
// ascending address order. The remaining sections follow with a fixed address
// before a fixed bank before no constraint, each class by descending size.
// Every failure is recorded in the diagnostics context and assignment
// continues with the next section.
func (a *Assigner) Assign(ctx *diag.Context, sections []*section.Merged) {
	space := newLedger(a.regions)

	var fixed, floating []*section.Merged
	for _, sec := range sections {
		if err := a.validate(sec); err != nil {
			ctx.Error(err)
			continue
		}
		if a.isFixed(sec) {
			fixed = append(fixed, sec)
		} else {
			floating = append(floating, sec)
		}
	}

	slices.SortStableFunc(fixed, func(x, y *section.Merged) int {
		if c := cmp.Compare(x.Org, y.Org); c != 0 {
			return c
		}
		return cmp.Compare(x.ID, y.ID)
	})
	for _, sec := range fixed {
		if err := a.placeFixed(space, sec); err != nil {
			ctx.Error(err)
		}
	}

	slices.SortStableFunc(floating, func(x, y *section.Merged) int {
		if c := cmp.Compare(constraintClass(x), constraintClass(y)); c != 0 {
			return c
		}
		if c := cmp.Compare(y.Size, x.Size); c != 0 {
			return c
		}
		if c := cmp.Compare(x.Name, y.Name); c != 0 {
			return c
		}
		return cmp.Compare(x.ID, y.ID)
	})
	for _, sec := range floating {
		if err := a.placeFloating(space, sec); err != nil {
			ctx.Error(err)
		}
	}
}

// isFixed returns whether both address and bank of the section are known
// before assignment. Single bank regions have an implicit bank.
func (a *Assigner) isFixed(sec *section.Merged) bool {
	if !sec.OrgFixed {
		return false
	}
	return sec.BankFixed || a.regions.Region(sec.Type).BankCount == 1
}

// constraintClass orders the floating sections so that a section with a fixed
// address or bank is not displaced by a less constrained one.
func constraintClass(sec *section.Merged) int {
	switch {
	case sec.OrgFixed:
		return 0
	case sec.BankFixed:
		return 1
	default:
		return 2
	}
}

// validate checks the constraints of a section against its region.
func (a *Assigner) validate(sec *section.Merged) error {
	r := a.regions.Region(sec.Type)

	switch {
	case r.BankCount == 0:
		return fmt.Errorf("%w: %s, region %s is not available with the current options",
			ErrOutOfRegion, sec, sec.Type)

	case sec.BankFixed && !r.ContainsBank(sec.Bank):
		return fmt.Errorf("%w: %s, bank %d is not in range %d-%d",
			ErrOutOfRegion, sec, sec.Bank, r.FirstBank, r.LastBank())

	case sec.Size > r.Size:
		return fmt.Errorf("%w: %s, size $%X is bigger than the region size $%X",
			ErrOutOfRegion, sec, sec.Size, r.Size)

	case sec.OrgFixed && !r.ContainsRange(sec.Org, sec.Size):
		return fmt.Errorf("%w: %s, range $%04X-$%04X is not in region range $%04X-$%04X",
			ErrOutOfRegion, sec, sec.Org, sec.End()-1, r.Start, r.End()-1)

	case sec.OrgFixed && !aligned(uint32(sec.Org), sec.Align, sec.AlignOffset):
		return fmt.Errorf("%w: %s, address $%04X does not satisfy alignment %d (offset %d)",
			ErrMisaligned, sec, sec.Org, sec.Align, sec.AlignOffset)
	}
	return nil
}

func (a *Assigner) placeFixed(space *ledger, sec *section.Merged) error {
	bank := sec.Bank
	if !sec.BankFixed {
		bank = a.regions.Region(sec.Type).FirstBank
	}

	target := span{start: uint32(sec.Org), end: sec.End()}
	bs := space.bank(sec.Type, bank)
	if other, ok := bs.overlapping(target); ok {
		return fmt.Errorf("%w: %s at $%04X-$%04X overlaps %s at $%04X-$%04X in bank %d",
			ErrFixedOverlap, sec, target.start, target.end-1, other.section, other.start, other.end-1, bank)
	}
	if !bs.reserve(target, sec) {
		return fmt.Errorf("%w: %s at $%04X-$%04X is not inside a free range of bank %d",
			ErrFixedOverlap, sec, target.start, target.end-1, bank)
	}

	a.place(sec, sec.Org, bank)
	return nil
}

func (a *Assigner) placeFloating(space *ledger, sec *section.Merged) error {
	r := a.regions.Region(sec.Type)

	first, last := r.FirstBank, r.LastBank()
	if sec.BankFixed {
		first, last = sec.Bank, sec.Bank
	}

	var largest uint32
	for bank := first; bank <= last; bank++ {
		bs := space.bank(sec.Type, bank)
		for _, free := range bs.free {
			start, ok := candidate(free, sec)
			if !ok {
				continue
			}
			if start+sec.Size <= free.end && bs.reserve(span{start: start, end: start + sec.Size}, sec) {
				a.place(sec, uint16(start), bank)
				return nil
			}
			largest = max(largest, free.end-start)
		}
	}

	// a zero sized section fits even into a full bank
	if sec.Size == 0 && !sec.OrgFixed {
		a.place(sec, uint16(r.Start), first)
		return nil
	}

	return fmt.Errorf("%w: %s needs $%X bytes, the largest suitable free range has $%X bytes",
		ErrOutOfSpace, sec, sec.Size, largest)
}

// candidate returns the first address inside the free range that satisfies
// the address and alignment constraints of the section.
func candidate(free span, sec *section.Merged) (uint32, bool) {
	if sec.OrgFixed {
		org := uint32(sec.Org)
		if org < free.start || org >= free.end {
			return 0, false
		}
		return org, true
	}

	start := alignUp(free.start, sec.Align, sec.AlignOffset)
	if start >= free.end {
		return 0, false
	}
	return start, true
}

func (a *Assigner) place(sec *section.Merged, org uint16, bank uint32) {
	sec.Place(org, bank)
	a.logger.Debug("Placed section",
		log.String("section", sec.Name),
		log.String("region", sec.Type.String()),
		log.Hex("address", org),
		log.Int("bank", int(bank)),
		log.Hex("size", sec.Size))
}

// aligned returns whether (address - alignOffset) is a multiple of 2^align.
func aligned(address uint32, align uint8, alignOffset uint16) bool {
	mask := uint32(1)<<align - 1
	return (address-uint32(alignOffset))&mask == 0
}

// alignUp returns the lowest address not below the given one that satisfies
// the alignment.
func alignUp(address uint32, align uint8, alignOffset uint16) uint32 {
	mask := uint32(1)<<align - 1
	return address + (uint32(alignOffset)-address)&mask
}
