// Package object contains the in-memory representation of object files: sections,
// symbols, patches and their diagnostic source references.
package object

import (
	"fmt"

	"github.com/retroenv/retrolink/internal/region"
)

// NoID marks an absent index in the object file format: a floating org or bank,
// a root source node or a constant symbol without section.
const NoID = 0xFFFFFFFF

// File is one object file of the program, in processing order.
type File struct {
	Name  string
	Index int // position in the list of linked object files

	Nodes      *Arena
	Symbols    []*Symbol
	Sections   []*Section
	Assertions []*Assertion
}

// Modifier defines how same-named sections from different objects combine.
type Modifier uint8

// section modifiers.
const (
	ModNormal   Modifier = iota
	ModUnion             // members overlay at offset 0
	ModFragment          // members are concatenated in processing order
)

// String returns the modifier keyword.
func (m Modifier) String() string {
	switch m {
	case ModUnion:
		return "UNION"
	case ModFragment:
		return "FRAGMENT"
	default:
		return "normal"
	}
}

// Section is one section as read from an object file. Sections with the same
// name from different object files are merged by the linker; the member fields
// Offset, Org and Bank are resolved during linking.
type Section struct {
	File   *File
	ID     uint32 // index inside the owning object file
	Name   string
	Source SourceRef

	Type     region.Type
	Modifier Modifier
	Size     uint32

	OrgFixed    bool
	Org         uint16
	BankFixed   bool
	Bank        uint32
	Align       uint8 // alignment as power-of-two exponent
	AlignOffset uint16

	Data    []byte
	Patches []*Patch

	// Offset of this member inside its merged section, 0 for union members.
	Offset uint32
	// Placed is set once the section has received its final org and bank.
	Placed bool
}

// End returns the first address after the section.
func (s *Section) End() uint32 {
	return uint32(s.Org) + s.Size
}

// String returns a human readable description of the section for diagnostics.
func (s *Section) String() string {
	return fmt.Sprintf("%s section %q (%s)", s.Type, s.Name, s.Source)
}

// SymbolKind defines the export level of a symbol.
type SymbolKind uint8

// symbol kinds.
const (
	SymLocal  SymbolKind = iota // visible only inside its object
	SymImport                   // must resolve from another object
	SymExport                   // visible globally
)

// Symbol is a named constant or label.
type Symbol struct {
	File   *File
	Name   string
	Kind   SymbolKind
	Source SourceRef

	// Section is nil for constants. For labels Value is the offset inside the section.
	Section *Section
	Value   int32
}

// IsLabel returns whether the symbol is defined relative to a section.
func (s *Symbol) IsLabel() bool {
	return s.Section != nil
}

// Address returns the flattened value of the symbol: the constant itself or the
// address of the label once its section has been placed.
func (s *Symbol) Address() int32 {
	if s.Section == nil {
		return s.Value
	}
	return int32(uint32(s.Section.Org) + uint32(s.Value))
}

// PatchKind defines the width and byte order of a patched value.
type PatchKind uint8

// patch kinds.
const (
	PatchByte   PatchKind = iota // 1 byte
	PatchWord                    // 2 bytes, little-endian
	PatchLong                    // 4 bytes, little-endian
	PatchJR                      // 1 byte, PC relative jump offset
	PatchWordBE                  // 2 bytes, big-endian
	PatchLongBE                  // 4 bytes, big-endian

	patchKindCount
)

// Width returns the number of bytes the patch writes.
func (k PatchKind) Width() uint32 {
	switch k {
	case PatchWord, PatchWordBE:
		return 2
	case PatchLong, PatchLongBE:
		return 4
	default:
		return 1
	}
}

// BigEndian returns whether the most significant byte is written first.
func (k PatchKind) BigEndian() bool {
	return k == PatchWordBE || k == PatchLongBE
}

// Patch is one relocation site inside a section.
type Patch struct {
	Source  SourceRef
	Section *Section // section owning the patched bytes
	Offset  uint32   // byte offset inside Section

	// PCSection and PCOffset locate the instruction the patch belongs to, used
	// for "@" and BANK(@) queries and relative jumps.
	PCSection *Section
	PCOffset  uint32

	Kind PatchKind
	RPN  []byte
}

// AssertionLevel defines how a failed link-time assertion is reported.
type AssertionLevel uint8

// assertion levels.
const (
	AssertWarn AssertionLevel = iota
	AssertError
	AssertFatal
)

// String returns the name of the assertion level.
func (l AssertionLevel) String() string {
	switch l {
	case AssertWarn:
		return "warning"
	case AssertError:
		return "error"
	default:
		return "fatal"
	}
}

// Assertion is an expression that has to evaluate to non-zero after linking.
// The patch Offset and Kind fields are unused.
type Assertion struct {
	Patch   *Patch
	Level   AssertionLevel
	Message string
}
