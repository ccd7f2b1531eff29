package writer

import (
	"bytes"
	"strings"
	"testing"

	"github.com/retroenv/retrogolib/assert"
	"github.com/retroenv/retrogolib/log"
	"github.com/retroenv/retrolink/internal/object"
	"github.com/retroenv/retrolink/internal/region"
	"github.com/retroenv/retrolink/internal/section"
	"github.com/retroenv/retrolink/internal/symbols"
)

type placedSection struct {
	sec  object.Section
	org  uint16
	bank uint32
}

// place merges the sections of one object file and places each at the given
// location.
func place(t *testing.T, b *object.Builder, placed ...placedSection) []*section.Merged {
	t.Helper()

	reg := section.NewRegistry()
	for i := range placed {
		assert.NoError(t, reg.Add(b.Section(&placed[i].sec)))
	}
	sections := reg.Sections()
	for i, sec := range sections {
		sec.Place(placed[i].org, placed[i].bank)
	}
	return sections
}

//nolint:funlen // test functions can be long
func TestROM(t *testing.T) {
	t.Run("sections at their bank offsets", func(t *testing.T) {
		b := object.NewBuilder("test.asm", 0)
		sections := place(t, b,
			placedSection{sec: object.Section{Name: "home", Type: region.ROM0, Size: 2, Data: []byte{1, 2}}, org: 0x0100},
			placedSection{sec: object.Section{Name: "far", Type: region.ROMX, Size: 2, Data: []byte{3, 4}}, org: 0x4010, bank: 3},
			placedSection{sec: object.Section{Name: "vars", Type: region.WRAM0, Size: 16}, org: 0xC000},
		)

		regions := region.NewTable(region.Options{})
		w := New(log.NewTestLogger(t), regions, Options{PadByte: DefaultPadByte})
		rom := w.ROM(sections)

		assert.Equal(t, 4*0x4000, len(rom))
		assert.True(t, bytes.Equal([]byte{1, 2}, rom[0x0100:0x0102]))
		offset := ROMOffset(regions, region.ROMX, 3, 0x4010)
		assert.Equal(t, uint32(0xC010), offset)
		assert.True(t, bytes.Equal([]byte{3, 4}, rom[offset:offset+2]))
		assert.Equal(t, byte(0xFF), rom[0])
		assert.Equal(t, byte(0xFF), rom[0x4000])
	})

	t.Run("at least one ROMX bank", func(t *testing.T) {
		b := object.NewBuilder("test.asm", 0)
		sections := place(t, b,
			placedSection{sec: object.Section{Name: "home", Type: region.ROM0, Size: 1}},
		)

		w := New(log.NewTestLogger(t), region.NewTable(region.Options{}), Options{PadByte: 0x00})
		rom := w.ROM(sections)
		assert.Equal(t, 0x8000, len(rom))
		assert.Equal(t, byte(0x00), rom[0x7FFF])
	})

	t.Run("tiny ROM without ROMX banks", func(t *testing.T) {
		b := object.NewBuilder("test.asm", 0)
		sections := place(t, b,
			placedSection{sec: object.Section{Name: "high", Type: region.ROM0, Size: 1, Data: []byte{0x42}}, org: 0x7FFF},
		)

		w := New(log.NewTestLogger(t), region.NewTable(region.Options{Tiny: true}), Options{PadByte: DefaultPadByte})
		rom := w.ROM(sections)
		assert.Equal(t, 0x8000, len(rom))
		assert.Equal(t, byte(0x42), rom[0x7FFF])
	})
}

func TestWriteSymbols(t *testing.T) {
	b := object.NewBuilder("test.asm", 0)
	place(t, b,
		placedSection{sec: object.Section{Name: "home", Type: region.ROM0, Size: 0x10}, org: 0x0150},
		placedSection{sec: object.Section{Name: "far", Type: region.ROMX, Size: 0x10}, org: 0x4000, bank: 0x1A},
	)
	home, far := b.File().Sections[0], b.File().Sections[1]
	b.Label("Main", object.SymExport, home, 0)
	b.Label("Data", object.SymExport, far, 4)
	b.Label(".loop", object.SymLocal, home, 2)
	b.Constant("VALUE", object.SymExport, 5)

	table := symbols.New(region.NewTable(region.Options{}))
	for _, sym := range b.File().Symbols {
		assert.NoError(t, table.Add(sym))
	}

	w := New(log.NewTestLogger(t), region.NewTable(region.Options{}), Options{})
	buf := &strings.Builder{}
	assert.NoError(t, w.WriteSymbols(buf, table.SortedLabels()))

	expected := "; File generated by retrolink\n" +
		"00:0150 Main\n" +
		"00:0152 .loop\n" +
		"1a:4004 Data\n"
	assert.Equal(t, expected, buf.String())
}

func TestWriteMap(t *testing.T) {
	b := object.NewBuilder("test.asm", 0)
	sections := place(t, b,
		placedSection{sec: object.Section{Name: "second", Type: region.ROM0, Size: 0x10}, org: 0x0200},
		placedSection{sec: object.Section{Name: "first", Type: region.ROM0, Size: 0x20}, org: 0x0100},
		placedSection{sec: object.Section{Name: "empty", Type: region.HRAM}, org: 0xFF80},
	)
	b.Label("Start", object.SymExport, b.File().Sections[1], 4)

	table := symbols.New(region.NewTable(region.Options{}))
	for _, sym := range b.File().Symbols {
		assert.NoError(t, table.Add(sym))
	}

	w := New(log.NewTestLogger(t), region.NewTable(region.Options{}), Options{})
	buf := &strings.Builder{}
	assert.NoError(t, w.WriteMap(buf, sections, table.SortedLabels()))
	output := buf.String()

	assert.Contains(t, output, "ROM0: $0030 bytes used / $3FD0 free in 1 bank(s)")
	assert.Contains(t, output, "ROM0 bank #0:\n"+
		"\tSECTION: $0100-$011F ($0020 bytes) [\"first\"]\n"+
		"\t         $0104 = Start\n"+
		"\tSECTION: $0200-$020F ($0010 bytes) [\"second\"]\n"+
		"\tTOTAL EMPTY: $3FD0 bytes\n")
	assert.Contains(t, output, "\tSECTION: $FF80 ($0000 bytes) [\"empty\"]\n")
	assert.True(t, strings.Index(output, "ROM0 bank") < strings.Index(output, "HRAM bank"))
}
