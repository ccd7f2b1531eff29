package writer

import (
	"cmp"
	"fmt"
	"io"
	"slices"

	"github.com/retroenv/retrolink/internal/object"
	"github.com/retroenv/retrolink/internal/region"
	"github.com/retroenv/retrolink/internal/section"
)

// mapRegionOrder is the order in which regions are listed in the map file.
var mapRegionOrder = []region.Type{
	region.ROM0, region.ROMX, region.VRAM, region.SRAM,
	region.WRAM0, region.WRAMX, region.OAM, region.HRAM,
}

type bankKey struct {
	typ  region.Type
	bank uint32
}

// WriteMap writes a map file listing the sections of every used bank in address
// order with their labels, followed by the free space of the bank.
func (w *Writer) WriteMap(out io.Writer, sections []*section.Merged, labels []*object.Symbol) error {
	banks := map[bankKey][]*section.Merged{}
	for _, sec := range sections {
		if !sec.Placed {
			continue
		}
		key := bankKey{typ: sec.Type, bank: sec.Bank}
		banks[key] = append(banks[key], sec)
	}

	memberLabels := map[*object.Section][]*object.Symbol{}
	for _, sym := range labels {
		memberLabels[sym.Section] = append(memberLabels[sym.Section], sym)
	}

	if err := w.writeSummary(out, banks); err != nil {
		return err
	}

	for _, typ := range mapRegionOrder {
		keys := bankKeys(banks, typ)
		for _, key := range keys {
			if err := w.writeBank(out, key, banks[key], memberLabels); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *Writer) writeSummary(out io.Writer, banks map[bankKey][]*section.Merged) error {
	if _, err := fmt.Fprintln(out, "SUMMARY:"); err != nil {
		return fmt.Errorf("writing map summary: %w", err)
	}

	for _, typ := range mapRegionOrder {
		r := w.regions.Region(typ)
		if r.BankCount == 0 {
			continue
		}

		var used uint32
		keys := bankKeys(banks, typ)
		for _, key := range keys {
			used += usedBytes(banks[key])
		}
		total := r.Size * uint32(max(len(keys), 1))
		if _, err := fmt.Fprintf(out, "\t%s: $%04X bytes used / $%04X free in %d bank(s)\n",
			typ, used, total-used, max(len(keys), 1)); err != nil {
			return fmt.Errorf("writing map summary: %w", err)
		}
	}
	if _, err := fmt.Fprintln(out); err != nil {
		return fmt.Errorf("writing map summary: %w", err)
	}
	return nil
}

func (w *Writer) writeBank(out io.Writer, key bankKey, sections []*section.Merged,
	memberLabels map[*object.Section][]*object.Symbol) error {

	if _, err := fmt.Fprintf(out, "%s bank #%d:\n", key.typ, key.bank); err != nil {
		return fmt.Errorf("writing map bank header: %w", err)
	}

	slices.SortStableFunc(sections, func(a, b *section.Merged) int {
		if c := cmp.Compare(a.Org, b.Org); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	for _, sec := range sections {
		var err error
		if sec.Size == 0 {
			_, err = fmt.Fprintf(out, "\tSECTION: $%04X ($0000 bytes) [\"%s\"]\n", sec.Org, sec.Name)
		} else {
			_, err = fmt.Fprintf(out, "\tSECTION: $%04X-$%04X ($%04X bytes) [\"%s\"]\n",
				sec.Org, sec.End()-1, sec.Size, sec.Name)
		}
		if err != nil {
			return fmt.Errorf("writing map section: %w", err)
		}

		for _, member := range sec.Members {
			for _, sym := range memberLabels[member] {
				if _, err := fmt.Fprintf(out, "\t         $%04X = %s\n", uint16(sym.Address()), sym.Name); err != nil {
					return fmt.Errorf("writing map label: %w", err)
				}
			}
		}
	}

	free := w.regions.Region(key.typ).Size - usedBytes(sections)
	if _, err := fmt.Fprintf(out, "\tTOTAL EMPTY: $%04X bytes\n\n", free); err != nil {
		return fmt.Errorf("writing map bank footer: %w", err)
	}
	return nil
}

// bankKeys returns the used banks of a region in ascending order.
func bankKeys(banks map[bankKey][]*section.Merged, typ region.Type) []bankKey {
	var keys []bankKey
	for key := range banks {
		if key.typ == typ {
			keys = append(keys, key)
		}
	}
	slices.SortFunc(keys, func(a, b bankKey) int {
		return cmp.Compare(a.bank, b.bank)
	})
	return keys
}

func usedBytes(sections []*section.Merged) uint32 {
	var used uint32
	for _, sec := range sections {
		used += sec.Size
	}
	return used
}
