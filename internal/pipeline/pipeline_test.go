package pipeline

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/retroenv/retrogolib/assert"
	"github.com/retroenv/retrogolib/log"
	"github.com/retroenv/retrolink/internal/assign"
	"github.com/retroenv/retrolink/internal/config"
	"github.com/retroenv/retrolink/internal/object"
	"github.com/retroenv/retrolink/internal/options"
	"github.com/retroenv/retrolink/internal/patch"
	"github.com/retroenv/retrolink/internal/region"
	"github.com/retroenv/retrolink/internal/symbols"
)

func TestNew(t *testing.T) {
	logger := log.NewTestLogger(t)
	p := New(logger)

	assert.NotNil(t, p)
	assert.NotNil(t, p.logger)
	assert.NotNil(t, p.loader)
}

// programObjects returns the object files of a small program: two fixed
// ROM0 sections, a floating ROMX section and cross object references.
func programObjects() []*object.File {
	first := object.NewBuilder("first.asm", 0)
	home := first.Section(&object.Section{Name: "entry", Type: region.ROM0, Size: 10,
		OrgFixed: true, Org: 0x0100, BankFixed: true, Bank: 0,
		Data: []byte{0x00, 0xC3, 0x00, 0x00, 0, 0, 0, 0, 0, 0}})
	first.Label("Entry", object.SymExport, home, 0)
	main := first.Import("Main")
	first.Patch(home, 2, object.PatchWord, object.NewExpr().Sym(main).Bytes())
	farData := first.Import("FarData")
	first.Patch(home, 4, object.PatchByte, object.NewExpr().BankSym(farData).Bytes())

	second := object.NewBuilder("second.asm", 1)
	code := second.Section(&object.Section{Name: "main", Type: region.ROM0, Size: 10,
		OrgFixed: true, Org: 0x0150, BankFixed: true, Bank: 0,
		Data: []byte{0x18, 0x00, 0xAA, 0xBB, 0, 0, 0, 0, 0, 0}})
	second.Label("Main", object.SymExport, code, 0)
	loop := second.Label(".loop", object.SymLocal, code, 8)
	jr := second.Patch(code, 1, object.PatchJR, object.NewExpr().Sym(loop).Bytes())
	jr.PCOffset = 0
	second.Assertion(code, object.AssertError,
		object.NewExpr().Section(object.RPNSizeofSect, "main").Const(10).Op(object.RPNEq).Bytes(),
		"main section size changed")

	third := object.NewBuilder("third.asm", 2)
	data := make([]byte, 4096)
	for i := range data {
		data[i] = byte(i)
	}
	far := third.Section(&object.Section{Name: "far", Type: region.ROMX, Size: 4096, Data: data})
	third.Label("FarData", object.SymExport, far, 0)

	return []*object.File{first.File(), second.File(), third.File()}
}

func writeObjects(t *testing.T, dir string, files []*object.File) []string {
	t.Helper()

	paths := make([]string, 0, len(files))
	for _, f := range files {
		buf := &bytes.Buffer{}
		assert.NoError(t, object.Write(buf, f))
		path := filepath.Join(dir, strings.TrimSuffix(f.Name, ".asm")+".o")
		assert.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
		paths = append(paths, path)
	}
	return paths
}

//nolint:funlen // test functions can be long
func TestExecute(t *testing.T) {
	dir := t.TempDir()
	opts := options.Program{
		Parameters: options.Parameters{
			Inputs:  writeObjects(t, dir, programObjects()),
			Output:  filepath.Join(dir, "game.gb"),
			SymFile: filepath.Join(dir, "game.sym"),
			MapFile: filepath.Join(dir, "game.map"),
		},
		Flags: options.Flags{
			PadByte: 0xFF,
			Verify:  true,
		},
	}

	result, err := New(log.NewTestLogger(t)).Execute(context.Background(), opts)
	assert.NoError(t, err)

	far := result.Sections[2]
	assert.Equal(t, "far", far.Name)
	assert.Equal(t, uint32(1), far.Bank)
	assert.Equal(t, uint16(0x4000), far.Org)

	rom, err := os.ReadFile(opts.Output)
	assert.NoError(t, err)
	assert.Equal(t, 0x8000, len(rom))

	// entry: jp Main with the bank of FarData
	assert.True(t, bytes.Equal([]byte{0x00, 0xC3, 0x50, 0x01, 0x01, 0x00}, rom[0x0100:0x0106]))
	// main: jr .loop
	assert.True(t, bytes.Equal([]byte{0x18, 0x06, 0xAA, 0xBB}, rom[0x0150:0x0154]))
	assert.Equal(t, byte(0xFF), rom[0x010A])
	assert.Equal(t, byte(0xFF), rom[0x015A])
	assert.Equal(t, byte(0x00), rom[0x4000])
	assert.Equal(t, byte(0xFE), rom[0x4FFE])
	assert.Equal(t, byte(0xFF), rom[0x5000])

	sym, err := os.ReadFile(opts.SymFile)
	assert.NoError(t, err)
	assert.Contains(t, string(sym), "00:0100 Entry\n00:0150 Main\n00:0158 .loop\n01:4000 FarData\n")

	mapFile, err := os.ReadFile(opts.MapFile)
	assert.NoError(t, err)
	assert.Contains(t, string(mapFile), "ROMX bank #1:")
}

func TestExecuteDeterministic(t *testing.T) {
	var roms [2][]byte
	for i := range roms {
		dir := t.TempDir()
		opts := options.Program{
			Parameters: options.Parameters{
				Inputs: writeObjects(t, dir, programObjects()),
				Output: filepath.Join(dir, "game.gb"),
			},
			Flags: options.Flags{PadByte: 0xFF, Quiet: true},
		}

		_, err := New(log.NewTestLogger(t)).Execute(context.Background(), opts)
		assert.NoError(t, err)

		roms[i], err = os.ReadFile(opts.Output)
		assert.NoError(t, err)
	}
	assert.True(t, bytes.Equal(roms[0], roms[1]))
}

//nolint:funlen // test functions can be long
func TestLinkErrors(t *testing.T) {
	settings, err := config.NewLink(options.Program{})
	assert.NoError(t, err)

	t.Run("errors of a stage are collected", func(t *testing.T) {
		a := object.NewBuilder("a.asm", 0)
		a.Section(&object.Section{Name: "one", Type: region.ROM0, Size: 0x10, OrgFixed: true, Org: 0x0100})
		a.Section(&object.Section{Name: "two", Type: region.ROM0, Size: 0x10, OrgFixed: true, Org: 0x0108})
		a.Section(&object.Section{Name: "big", Type: region.HRAM, Size: 0x100})

		_, err := New(log.NewNop()).Link(context.Background(), settings, []*object.File{a.File()})
		assert.ErrorIs(t, err, ErrLinkFailed)
		assert.ErrorIs(t, err, assign.ErrFixedOverlap)
		assert.ErrorIs(t, err, assign.ErrOutOfRegion)
		assert.ErrorContains(t, err, "2 error(s)")
	})

	t.Run("duplicate export stops before assignment", func(t *testing.T) {
		a := object.NewBuilder("a.asm", 0)
		a.Constant("VALUE", object.SymExport, 1)
		b := object.NewBuilder("b.asm", 1)
		b.Constant("VALUE", object.SymExport, 2)

		_, err := New(log.NewNop()).Link(context.Background(), settings, []*object.File{a.File(), b.File()})
		assert.ErrorIs(t, err, symbols.ErrDuplicateExport)
	})

	t.Run("patch errors", func(t *testing.T) {
		a := object.NewBuilder("a.asm", 0)
		sec := a.Section(&object.Section{Name: "code", Type: region.ROM0, Size: 4})
		missing := a.Import("Missing")
		a.Patch(sec, 0, object.PatchWord, object.NewExpr().Sym(missing).Bytes())
		a.Patch(sec, 2, object.PatchByte, object.NewExpr().Const(300).Bytes())

		_, err := New(log.NewNop()).Link(context.Background(), settings, []*object.File{a.File()})
		assert.ErrorIs(t, err, symbols.ErrUndefinedSymbol)
		assert.ErrorIs(t, err, patch.ErrValueOutOfRange)
	})

	t.Run("fatal assertion", func(t *testing.T) {
		a := object.NewBuilder("a.asm", 0)
		sec := a.Section(&object.Section{Name: "code", Type: region.ROM0, Size: 4})
		a.Assertion(sec, object.AssertFatal, object.NewExpr().Const(0).Bytes(), "never")

		_, err := New(log.NewNop()).Link(context.Background(), settings, []*object.File{a.File()})
		assert.ErrorIs(t, err, patch.ErrAssertion)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := New(log.NewNop()).Link(ctx, settings, programObjects())
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestExecuteWritesNothingOnError(t *testing.T) {
	a := object.NewBuilder("a.asm", 0)
	a.Section(&object.Section{Name: "one", Type: region.ROM0, Size: 0x10, OrgFixed: true, Org: 0x0100})
	a.Section(&object.Section{Name: "two", Type: region.ROM0, Size: 0x10, OrgFixed: true, Org: 0x0100})

	dir := t.TempDir()
	opts := options.Program{
		Parameters: options.Parameters{
			Inputs: writeObjects(t, dir, []*object.File{a.File()}),
			Output: filepath.Join(dir, "game.gb"),
		},
	}

	_, err := New(log.NewNop()).Execute(context.Background(), opts)
	assert.ErrorIs(t, err, ErrLinkFailed)

	_, err = os.Stat(opts.Output)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestExecuteCorruptObject(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.o")
	assert.NoError(t, os.WriteFile(path, []byte("XXXX"), 0o644))

	opts := options.Program{Parameters: options.Parameters{Inputs: []string{path}}}
	_, err := New(log.NewTestLogger(t)).Execute(context.Background(), opts)
	assert.ErrorIs(t, err, object.ErrCorruptObject)
}
