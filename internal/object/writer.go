package object

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// writer encodes the primitive types of the object file format, keeping the
// first write error.
type writer struct {
	w   *bufio.Writer
	err error
}

func (w *writer) long(v uint32) {
	if w.err != nil {
		return
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, w.err = w.w.Write(buf[:])
}

func (w *writer) char(b byte) {
	if w.err != nil {
		return
	}
	w.err = w.w.WriteByte(b)
}

func (w *writer) str(s string) {
	if w.err != nil {
		return
	}
	if _, w.err = w.w.WriteString(s); w.err != nil {
		return
	}
	w.err = w.w.WriteByte(0)
}

func (w *writer) raw(data []byte) {
	if w.err != nil {
		return
	}
	_, w.err = w.w.Write(data)
}

// Write encodes the object file. Sections are referenced by their position in
// f.Sections and symbols by their position in f.Symbols.
func Write(out io.Writer, f *File) error {
	w := &writer{w: bufio.NewWriter(out)}

	sectionIDs := make(map[*Section]uint32, len(f.Sections))
	for i, sec := range f.Sections {
		sectionIDs[sec] = uint32(i)
	}
	sectionID := func(sec *Section) uint32 {
		if sec == nil {
			return NoID
		}
		id, ok := sectionIDs[sec]
		if !ok {
			return NoID
		}
		return id
	}

	var nodes []Node
	if f.Nodes != nil {
		nodes = f.Nodes.Nodes()
	}

	w.raw([]byte(Magic))
	w.long(Version)
	w.long(uint32(len(f.Symbols)))
	w.long(uint32(len(f.Sections)))
	w.long(uint32(len(nodes)))

	for _, node := range nodes {
		if err := writeNode(w, node); err != nil {
			return err
		}
	}

	for _, sym := range f.Symbols {
		w.str(sym.Name)
		w.char(byte(sym.Kind))
		if sym.Kind == SymImport {
			continue
		}
		writeSource(w, sym.Source)
		w.long(sectionID(sym.Section))
		w.long(uint32(sym.Value))
	}

	for _, sec := range f.Sections {
		if err := writeSection(w, sec, sectionID); err != nil {
			return err
		}
	}

	w.long(uint32(len(f.Assertions)))
	for _, assertion := range f.Assertions {
		p := *assertion.Patch
		p.Kind = PatchKind(assertion.Level)
		writePatch(w, &p, sectionID)
		w.str(assertion.Message)
	}

	if w.err != nil {
		return fmt.Errorf("writing object file: %w", w.err)
	}
	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("flushing object file: %w", err)
	}
	return nil
}

func writeNode(w *writer, node Node) error {
	w.long(node.Parent)
	w.long(node.ParentLine)
	w.char(byte(node.Kind))

	switch payload := node.Payload.(type) {
	case NodeIterations:
		if node.Kind != NodeRept {
			return fmt.Errorf("node kind %d with iteration payload", node.Kind)
		}
		w.long(uint32(len(payload.Iters)))
		for _, iter := range payload.Iters {
			w.long(iter)
		}
	case NodeName:
		if node.Kind == NodeRept {
			return fmt.Errorf("repeat node with name payload %q", payload.Name)
		}
		w.str(payload.Name)
	default:
		return fmt.Errorf("node kind %d has no payload", node.Kind)
	}
	return nil
}

func writeSource(w *writer, ref SourceRef) {
	if ref.Arena == nil {
		w.long(NoID)
		w.long(0)
		return
	}
	w.long(ref.Node)
	w.long(ref.Line)
}

func writeSection(w *writer, sec *Section, sectionID func(*Section) uint32) error {
	typ := byte(sec.Type)
	switch sec.Modifier {
	case ModUnion:
		typ |= sectionUnionFl
	case ModFragment:
		typ |= sectionFragmentFl
	}

	org, bank := uint32(NoID), uint32(NoID)
	if sec.OrgFixed {
		org = uint32(sec.Org)
	}
	if sec.BankFixed {
		bank = sec.Bank
	}

	w.str(sec.Name)
	writeSource(w, sec.Source)
	w.long(sec.Size)
	w.char(typ)
	w.long(org)
	w.long(bank)
	w.char(sec.Align)
	w.long(uint32(sec.AlignOffset))

	if !sec.Type.HasData() {
		return nil
	}
	if uint32(len(sec.Data)) != sec.Size {
		return fmt.Errorf("section %q has %d data bytes but size %d", sec.Name, len(sec.Data), sec.Size)
	}
	w.raw(sec.Data)
	w.long(uint32(len(sec.Patches)))
	for _, patch := range sec.Patches {
		writePatch(w, patch, sectionID)
	}
	return nil
}

func writePatch(w *writer, patch *Patch, sectionID func(*Section) uint32) {
	writeSource(w, patch.Source)
	w.long(patch.Offset)
	w.long(sectionID(patch.PCSection))
	w.long(patch.PCOffset)
	w.char(byte(patch.Kind))
	w.long(uint32(len(patch.RPN)))
	w.raw(patch.RPN)
}
