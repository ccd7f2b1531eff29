package object

import (
	"bytes"
	"testing"

	"github.com/retroenv/retrogolib/assert"
	"github.com/retroenv/retrolink/internal/region"
)

func buildTestFile() *File {
	b := NewBuilder("main.asm", 0)
	code := b.Section(&Section{
		Name:     "code",
		Type:     region.ROM0,
		Size:     4,
		OrgFixed: true,
		Org:      0x150,
		Data:     []byte{0xC3, 0x00, 0x00, 0x00},
	})
	b.Section(&Section{
		Name:      "vars",
		Type:      region.WRAMX,
		Modifier:  ModUnion,
		Size:      16,
		BankFixed: true,
		Bank:      2,
		Align:     4,
	})
	b.Label("Start", SymExport, code, 0)
	b.Constant("VALUE", SymLocal, -5)
	ext := b.Import("External")
	b.Patch(code, 1, PatchWordBE, NewExpr().Sym(ext).Const(1).Op(RPNAdd).Bytes())
	b.Assertion(code, AssertError, NewExpr().PC().Const(0x150).Op(RPNEq).Bytes(), "misplaced")
	return b.File()
}

//nolint:funlen // test functions can be long
func TestWriteRead(t *testing.T) {
	original := buildTestFile()

	var buf bytes.Buffer
	assert.NoError(t, Write(&buf, original))

	f, err := Read(&buf, "main.o", 3)
	assert.NoError(t, err)
	assert.Equal(t, "main.o", f.Name)
	assert.Equal(t, 3, f.Index)
	assert.Equal(t, 1, f.Nodes.Len())

	assert.Equal(t, 2, len(f.Sections))
	code := f.Sections[0]
	assert.Equal(t, "code", code.Name)
	assert.Equal(t, region.ROM0, code.Type)
	assert.True(t, code.OrgFixed)
	assert.Equal(t, uint16(0x150), code.Org)
	assert.False(t, code.BankFixed)
	assert.True(t, bytes.Equal([]byte{0xC3, 0x00, 0x00, 0x00}, code.Data))
	assert.Equal(t, 1, len(code.Patches))

	patch := code.Patches[0]
	assert.Equal(t, PatchWordBE, patch.Kind)
	assert.Equal(t, uint32(1), patch.Offset)
	assert.True(t, patch.Section == code)
	assert.True(t, patch.PCSection == code)
	assert.True(t, bytes.Equal(original.Sections[0].Patches[0].RPN, patch.RPN))
	assert.Equal(t, "main.asm(5)", patch.Source.String())

	vars := f.Sections[1]
	assert.Equal(t, ModUnion, vars.Modifier)
	assert.Equal(t, region.WRAMX, vars.Type)
	assert.True(t, vars.BankFixed)
	assert.Equal(t, uint32(2), vars.Bank)
	assert.Equal(t, uint8(4), vars.Align)
	assert.True(t, vars.Data == nil)

	assert.Equal(t, 3, len(f.Symbols))
	assert.True(t, f.Symbols[0].Section == code)
	assert.Equal(t, SymExport, f.Symbols[0].Kind)
	assert.False(t, f.Symbols[1].IsLabel())
	assert.Equal(t, int32(-5), f.Symbols[1].Value)
	assert.Equal(t, SymImport, f.Symbols[2].Kind)

	assert.Equal(t, 1, len(f.Assertions))
	assert.Equal(t, AssertError, f.Assertions[0].Level)
	assert.Equal(t, "misplaced", f.Assertions[0].Message)
	assert.True(t, f.Assertions[0].Patch.PCSection == code)
}

func TestReadErrors(t *testing.T) {
	var buf bytes.Buffer
	assert.NoError(t, Write(&buf, buildTestFile()))
	valid := buf.Bytes()

	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: nil},
		{name: "invalid magic", data: append([]byte("XXXX"), valid[4:]...)},
		{name: "unsupported version", data: append(append([]byte{}, valid[:4]...), 9, 0, 0, 0)},
		{name: "truncated", data: valid[:len(valid)-3]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(bytes.NewReader(tt.data), "bad.o", 0)
			assert.Error(t, err)
			assert.ErrorIs(t, err, ErrCorruptObject)
		})
	}
}

func TestReadPatchOutsideSection(t *testing.T) {
	f := buildTestFile()
	f.Sections[0].Patches[0].Offset = 3 // 2 byte patch exceeds the 4 byte section

	var buf bytes.Buffer
	assert.NoError(t, Write(&buf, f))

	_, err := Read(&buf, "bad.o", 0)
	assert.ErrorIs(t, err, ErrCorruptObject)
	assert.ErrorContains(t, err, "exceeds section size")
}

func TestReadNodeParentOrder(t *testing.T) {
	f := buildTestFile()
	f.Nodes.Add(Node{Parent: 5, Kind: NodeMacro, Payload: NodeName{Name: "mac"}})

	var buf bytes.Buffer
	assert.NoError(t, Write(&buf, f))

	_, err := Read(&buf, "bad.o", 0)
	assert.ErrorIs(t, err, ErrCorruptObject)
	assert.ErrorContains(t, err, "not an earlier node")
}

func TestBacktrace(t *testing.T) {
	arena := NewArena("game.o")
	file := arena.Add(Node{Parent: NoID, Kind: NodeFile, Payload: NodeName{Name: "game.asm"}})
	macro := arena.Add(Node{Parent: file, ParentLine: 10, Kind: NodeMacro, Payload: NodeName{Name: "farcall"}})
	rept := arena.Add(Node{Parent: macro, ParentLine: 3, Kind: NodeRept, Payload: NodeIterations{Iters: []uint32{2, 1}}})

	assert.Equal(t, "game.asm(10) -> farcall(3) -> farcall::REPT~2::REPT~1(7)", arena.Backtrace(rept, 7))
	assert.Equal(t, "game.o(?)", arena.Backtrace(NoID, 1))
	assert.Equal(t, "<unknown>", SourceRef{}.String())
}

func TestPatchKind(t *testing.T) {
	assert.Equal(t, uint32(1), PatchByte.Width())
	assert.Equal(t, uint32(1), PatchJR.Width())
	assert.Equal(t, uint32(2), PatchWord.Width())
	assert.Equal(t, uint32(2), PatchWordBE.Width())
	assert.Equal(t, uint32(4), PatchLongBE.Width())
	assert.True(t, PatchLongBE.BigEndian())
	assert.False(t, PatchLong.BigEndian())
}
