// Package writer implements the output files of a link run: the ROM image, the
// symbol file and the map file.
package writer

import (
	"bytes"

	"github.com/retroenv/retrogolib/log"
	"github.com/retroenv/retrolink/internal/region"
	"github.com/retroenv/retrolink/internal/section"
)

// DefaultPadByte fills all ROM space not covered by a section.
const DefaultPadByte = 0xFF

// Writer creates the output files from the placed sections.
type Writer struct {
	logger  *log.Logger
	regions *region.Table
	options Options
}

// Options of the writer.
type Options struct {
	PadByte byte
}

// New creates a new writer.
func New(logger *log.Logger, regions *region.Table, options Options) *Writer {
	return &Writer{
		logger:  logger,
		regions: regions,
		options: options,
	}
}

// ROMOffset returns the position of a ROM address of a bank inside the ROM
// image. ROM0 is followed by the ROMX banks in ascending order.
func ROMOffset(regions *region.Table, typ region.Type, bank uint32, address uint16) uint32 {
	rom0 := regions.Region(region.ROM0)
	if typ == region.ROM0 {
		return uint32(address - rom0.Start)
	}

	romx := regions.Region(region.ROMX)
	return rom0.Size + (bank-romx.FirstBank)*romx.Size + uint32(address-romx.Start)
}

// ROM returns the ROM image containing the data of all placed ROM sections.
// It spans ROM0 and every ROMX bank up to the highest one used, at least one.
func (w *Writer) ROM(sections []*section.Merged) []byte {
	rom0 := w.regions.Region(region.ROM0)
	romx := w.regions.Region(region.ROMX)

	var banks uint32
	if romx.BankCount > 0 {
		banks = 1
		for _, sec := range sections {
			if sec.Type == region.ROMX && sec.Placed {
				banks = max(banks, sec.Bank-romx.FirstBank+1)
			}
		}
	}

	size := rom0.Size + banks*romx.Size
	rom := bytes.Repeat([]byte{w.options.PadByte}, int(size))

	for _, sec := range sections {
		if !sec.Type.HasData() || !sec.Placed {
			continue
		}
		offset := ROMOffset(w.regions, sec.Type, sec.Bank, sec.Org)
		copy(rom[offset:], sec.Data)
	}

	w.logger.Debug("Built ROM image",
		log.Hex("size", size),
		log.Int("romx_banks", int(banks)))
	return rom
}
