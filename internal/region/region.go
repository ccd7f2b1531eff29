// Package region defines the memory region table of the target system.
package region

import "fmt"

// Type defines the memory region a section is placed in. The values match the
// section type tags of the object file format.
type Type uint8

// memory region types.
const (
	WRAM0 Type = iota
	VRAM
	ROMX
	ROM0
	HRAM
	WRAMX
	SRAM
	OAM

	typeCount
)

var typeNames = [typeCount]string{
	WRAM0: "WRAM0",
	VRAM:  "VRAM",
	ROMX:  "ROMX",
	ROM0:  "ROM0",
	HRAM:  "HRAM",
	WRAMX: "WRAMX",
	SRAM:  "SRAM",
	OAM:   "OAM",
}

// String returns the name of the region type.
func (t Type) String() string {
	if t >= typeCount {
		return fmt.Sprintf("type(%d)", uint8(t))
	}
	return typeNames[t]
}

// Valid returns whether the type is a known region type.
func (t Type) Valid() bool {
	return t < typeCount
}

// HasData returns whether sections of this type store data in the output image.
func (t Type) HasData() bool {
	return t == ROM0 || t == ROMX
}

// Types returns all region types in ascending tag order.
func Types() []Type {
	types := make([]Type, 0, typeCount)
	for t := range typeCount {
		types = append(types, t)
	}
	return types
}

// Region describes the address span and banks of one memory region.
type Region struct {
	Type      Type
	Start     uint16
	Size      uint32
	FirstBank uint32
	BankCount uint32 // 0 disables the region
}

// End returns the first address after the region span.
func (r Region) End() uint32 {
	return uint32(r.Start) + r.Size
}

// LastBank returns the highest bank number of the region.
func (r Region) LastBank() uint32 {
	if r.BankCount == 0 {
		return r.FirstBank
	}
	return r.FirstBank + r.BankCount - 1
}

// Banked returns whether the region has more than one bank. Bank queries are
// only meaningful for banked regions.
func (r Region) Banked() bool {
	return r.BankCount > 1
}

// ContainsBank returns whether the bank number is valid for the region.
func (r Region) ContainsBank(bank uint32) bool {
	return r.BankCount > 0 && bank >= r.FirstBank && bank <= r.LastBank()
}

// ContainsRange returns whether the range [address, address+size) lies inside
// the region span.
func (r Region) ContainsRange(address uint16, size uint32) bool {
	return address >= r.Start && uint32(address)+size <= r.End()
}

// Options selects variants of the memory region table.
type Options struct {
	Tiny  bool // ROM0 spans 32 KiB, no ROMX banks
	WRAM0 bool // WRAM0 spans 8 KiB, no WRAMX banks
	DMG   bool // only VRAM bank 0, implies WRAM0
}

// Table is the memory region table of a link run. It is constant after creation.
type Table struct {
	regions [typeCount]Region
}

// NewTable creates the memory region table for the given options.
func NewTable(opts Options) *Table {
	t := &Table{
		regions: [typeCount]Region{
			WRAM0: {Type: WRAM0, Start: 0xC000, Size: 0x1000, FirstBank: 0, BankCount: 1},
			VRAM:  {Type: VRAM, Start: 0x8000, Size: 0x2000, FirstBank: 0, BankCount: 2},
			ROMX:  {Type: ROMX, Start: 0x4000, Size: 0x4000, FirstBank: 1, BankCount: 511},
			ROM0:  {Type: ROM0, Start: 0x0000, Size: 0x4000, FirstBank: 0, BankCount: 1},
			HRAM:  {Type: HRAM, Start: 0xFF80, Size: 0x007F, FirstBank: 0, BankCount: 1},
			WRAMX: {Type: WRAMX, Start: 0xD000, Size: 0x1000, FirstBank: 1, BankCount: 7},
			SRAM:  {Type: SRAM, Start: 0xA000, Size: 0x2000, FirstBank: 0, BankCount: 256},
			OAM:   {Type: OAM, Start: 0xFE00, Size: 0x00A0, FirstBank: 0, BankCount: 1},
		},
	}

	if opts.Tiny {
		t.regions[ROM0].Size = 0x8000
		t.regions[ROMX].BankCount = 0
	}
	if opts.DMG {
		t.regions[VRAM].BankCount = 1
		opts.WRAM0 = true
	}
	if opts.WRAM0 {
		t.regions[WRAM0].Size = 0x2000
		t.regions[WRAMX].BankCount = 0
	}
	return t
}

// Region returns the region of the given type.
func (t *Table) Region(typ Type) Region {
	return t.regions[typ]
}

// HighPage returns whether the value is addressable by the high page load
// instructions, covering the I/O registers and HRAM.
func (t *Table) HighPage(value int32) bool {
	page := int32(t.regions[HRAM].Start) & 0xFF00
	return value >= page && value <= page|0xFF
}

// RestartVector returns whether the value is a valid restart instruction target
// in the first page of ROM0.
func (t *Table) RestartVector(value int32) bool {
	return value&^0x38 == int32(t.regions[ROM0].Start)
}
