// Package section merges same-named sections of all object files into the
// logical sections that the linker places.
package section

import (
	"errors"
	"fmt"

	"github.com/retroenv/retrolink/internal/diag"
	"github.com/retroenv/retrolink/internal/object"
	"github.com/retroenv/retrolink/internal/region"
)

// ErrSectionConflict is returned when same-named sections can not be merged.
var ErrSectionConflict = errors.New("section conflict")

// Merged is one logical section built from one or more object file sections.
type Merged struct {
	ID       int // discovery order
	Name     string
	Type     region.Type
	Modifier object.Modifier
	Size     uint32

	OrgFixed    bool
	Org         uint16
	BankFixed   bool
	Bank        uint32
	Align       uint8
	AlignOffset uint16

	Data    []byte // nil for regions without stored data
	Members []*object.Section

	Placed bool
}

// Source returns the source reference of the first member, used for diagnostics.
func (m *Merged) Source() object.SourceRef {
	return m.Members[0].Source
}

// String returns a human readable description of the section for diagnostics.
func (m *Merged) String() string {
	return fmt.Sprintf("%s section '%s' (%s)", m.Type, m.Name, m.Source())
}

// End returns the first address after the placed section.
func (m *Merged) End() uint32 {
	return uint32(m.Org) + m.Size
}

// Place records the final location of the section and propagates it to all
// members, each at its own offset.
func (m *Merged) Place(org uint16, bank uint32) {
	m.Org = org
	m.Bank = bank
	m.Placed = true
	for _, member := range m.Members {
		member.Org = org + uint16(member.Offset)
		member.Bank = bank
		member.Placed = true
	}
}

// Registry holds all merged sections in discovery order.
type Registry struct {
	byName   map[string]*Merged
	sections []*Merged
}

// NewRegistry returns an empty section registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*Merged),
	}
}

// AddFile merges all sections of an object file, recording every conflict.
func (r *Registry) AddFile(ctx *diag.Context, f *object.File) {
	for _, sec := range f.Sections {
		if err := r.Add(sec); err != nil {
			ctx.Error(err)
		}
	}
}

// Add merges an object file section into the registry.
func (r *Registry) Add(sec *object.Section) error {
	if sec.Modifier == object.ModUnion && sec.Type.HasData() {
		return fmt.Errorf("%w: %s can not be a union, its region stores data", ErrSectionConflict, sec)
	}

	merged, ok := r.byName[sec.Name]
	if !ok {
		merged = &Merged{
			ID:       len(r.sections),
			Name:     sec.Name,
			Type:     sec.Type,
			Modifier: sec.Modifier,
		}
		r.byName[sec.Name] = merged
		r.sections = append(r.sections, merged)
		return merged.add(sec)
	}

	first := merged.Members[0]
	switch {
	case merged.Type != sec.Type:
		return fmt.Errorf("%w: %s conflicts with %s, types differ", ErrSectionConflict, sec, first)
	case merged.Modifier != sec.Modifier:
		return fmt.Errorf("%w: %s conflicts with %s, modifiers %s and %s differ",
			ErrSectionConflict, sec, first, sec.Modifier, merged.Modifier)
	case sec.Modifier == object.ModNormal:
		return fmt.Errorf("%w: %s is already defined at %s", ErrSectionConflict, sec, first.Source)
	}
	return merged.add(sec)
}

// Find returns the merged section of the given name.
func (r *Registry) Find(name string) (*Merged, bool) {
	m, ok := r.byName[name]
	return m, ok
}

// Sections returns all merged sections in discovery order.
func (r *Registry) Sections() []*Merged {
	return r.sections
}

// add appends a member: fragments are concatenated, union members overlay at
// offset 0 and extend the size to the largest member.
func (m *Merged) add(sec *object.Section) error {
	var offset uint32
	if m.Modifier == object.ModFragment {
		offset = m.Size
	}

	if err := m.mergeConstraints(sec, offset); err != nil {
		return err
	}

	sec.Offset = offset
	m.Members = append(m.Members, sec)

	if m.Modifier == object.ModUnion {
		m.Size = max(m.Size, sec.Size)
	} else {
		m.Size = offset + sec.Size
	}

	if sec.Type.HasData() {
		m.Data = append(m.Data, sec.Data...)
		// members write their patches into the shared buffer
		for _, member := range m.Members {
			member.Data = m.Data[member.Offset : member.Offset+member.Size : member.Offset+member.Size]
		}
	}
	return nil
}

// mergeConstraints reconciles the fixed address, bank and alignment of a new
// member located at offset with the constraints of the merged section.
func (m *Merged) mergeConstraints(sec *object.Section, offset uint32) error {
	if sec.BankFixed {
		if m.BankFixed && m.Bank != sec.Bank {
			return fmt.Errorf("%w: %s requests bank %d but the section is already in bank %d",
				ErrSectionConflict, sec, sec.Bank, m.Bank)
		}
		m.BankFixed = true
		m.Bank = sec.Bank
	}

	switch {
	case sec.OrgFixed:
		org := int64(sec.Org) - int64(offset)
		if org < 0 {
			return fmt.Errorf("%w: %s at $%04X can not be at offset $%X of its section",
				ErrSectionConflict, sec, sec.Org, offset)
		}
		if m.OrgFixed && int64(m.Org) != org {
			return fmt.Errorf("%w: %s requests address $%04X but the section starts at $%04X",
				ErrSectionConflict, sec, org, m.Org)
		}
		if m.Align > 0 && !aligned(uint32(org), m.Align, m.AlignOffset) {
			return fmt.Errorf("%w: %s at $%04X does not match the section alignment %d (offset %d)",
				ErrSectionConflict, sec, org, m.Align, m.AlignOffset)
		}
		m.OrgFixed = true
		m.Org = uint16(org)

		// kept so that placement reports an address violating the own alignment
		if sec.Align > m.Align {
			mask := uint32(1)<<sec.Align - 1
			m.Align = sec.Align
			m.AlignOffset = uint16((uint32(sec.AlignOffset) - offset) & mask)
		}

	case sec.Align > 0:
		mask := uint32(1)<<sec.Align - 1
		alignOffset := uint16((uint32(sec.AlignOffset) - offset) & mask)

		if m.OrgFixed {
			if !aligned(uint32(m.Org), sec.Align, alignOffset) {
				return fmt.Errorf("%w: %s alignment %d does not match the section address $%04X",
					ErrSectionConflict, sec, sec.Align, m.Org)
			}
			return nil
		}

		if m.Align > 0 {
			common := min(m.Align, sec.Align)
			commonMask := uint16(1)<<common - 1
			if m.AlignOffset&commonMask != alignOffset&commonMask {
				return fmt.Errorf("%w: %s alignment %d (offset %d) does not match the section alignment %d (offset %d)",
					ErrSectionConflict, sec, sec.Align, alignOffset, m.Align, m.AlignOffset)
			}
			if m.Align >= sec.Align {
				return nil
			}
		}
		m.Align = sec.Align
		m.AlignOffset = alignOffset
	}
	return nil
}

// aligned returns whether (address - alignOffset) is a multiple of 2^align.
func aligned(address uint32, align uint8, alignOffset uint16) bool {
	mask := uint32(1)<<align - 1
	return (address-uint32(alignOffset))&mask == 0
}
