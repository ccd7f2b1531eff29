package object

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/retroenv/retrolink/internal/region"
)

// ErrCorruptObject is returned for object files that can not be parsed.
var ErrCorruptObject = errors.New("corrupt object file")

const (
	// Magic identifies an object file.
	Magic = "RLNK"
	// Version is the supported object file format revision.
	Version = 1

	maxSectionSize = 0x10000
	maxAlignment   = 16
	maxReptDepth   = 1024

	sectionTypeMask   = 0x3F
	sectionFragmentFl = 0x40
	sectionUnionFl    = 0x80
)

// reader decodes the primitive types of the object file format. The first
// error is kept and all following reads return zero values.
type reader struct {
	r   *bufio.Reader
	buf [4]byte
	err error
}

func (r *reader) long() uint32 {
	if r.err != nil {
		return 0
	}
	if _, err := io.ReadFull(r.r, r.buf[:4]); err != nil {
		r.err = err
		return 0
	}
	return binary.LittleEndian.Uint32(r.buf[:4])
}

func (r *reader) char() byte {
	if r.err != nil {
		return 0
	}
	b, err := r.r.ReadByte()
	if err != nil {
		r.err = err
	}
	return b
}

func (r *reader) str() string {
	if r.err != nil {
		return ""
	}
	s, err := r.r.ReadString(0)
	if err != nil {
		r.err = err
		return ""
	}
	return s[:len(s)-1]
}

func (r *reader) raw(n uint32) []byte {
	if r.err != nil {
		return nil
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r.r, data); err != nil {
		r.err = err
		return nil
	}
	return data
}

// check converts a pending read error into a corrupt object error.
func (r *reader) check(what string) error {
	if r.err == nil {
		return nil
	}
	if errors.Is(r.err, io.EOF) || errors.Is(r.err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: truncated while reading %s", ErrCorruptObject, what)
	}
	return fmt.Errorf("reading %s: %w", what, r.err)
}

// fileReader holds the state of decoding one object file.
type fileReader struct {
	reader
	file *File

	numSymbols  uint32
	numSections uint32

	// section indices referenced before the section table is read
	symbolSections []uint32
	patchSections  map[*Patch]uint32
}

// Read parses an object file. The name is used for diagnostics and index is the
// position of the file in the list of linked objects.
func Read(r io.Reader, name string, index int) (*File, error) {
	fr := &fileReader{
		reader: reader{r: bufio.NewReader(r)},
		file: &File{
			Name:  name,
			Index: index,
			Nodes: NewArena(name),
		},
		patchSections: map[*Patch]uint32{},
	}

	if err := fr.readHeader(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if err := fr.readBody(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return fr.file, nil
}

func (fr *fileReader) readHeader() error {
	magic := fr.raw(uint32(len(Magic)))
	version := fr.long()
	if err := fr.check("header"); err != nil {
		return err
	}
	if string(magic) != Magic {
		return fmt.Errorf("%w: invalid magic %q", ErrCorruptObject, magic)
	}
	if version != Version {
		return fmt.Errorf("%w: unsupported version %d, expected %d", ErrCorruptObject, version, Version)
	}
	return nil
}

func (fr *fileReader) readBody() error {
	fr.numSymbols = fr.long()
	fr.numSections = fr.long()
	numNodes := fr.long()
	if err := fr.check("counts"); err != nil {
		return err
	}

	for i := range numNodes {
		if err := fr.readNode(i); err != nil {
			return fmt.Errorf("node %d: %w", i, err)
		}
	}
	for i := range fr.numSymbols {
		if err := fr.readSymbol(); err != nil {
			return fmt.Errorf("symbol %d: %w", i, err)
		}
	}
	for i := range fr.numSections {
		if err := fr.readSection(i); err != nil {
			return fmt.Errorf("section %d: %w", i, err)
		}
	}
	if err := fr.readAssertions(); err != nil {
		return err
	}
	fr.resolveSectionReferences()
	return nil
}

func (fr *fileReader) readNode(id uint32) error {
	node := Node{
		Parent:     fr.long(),
		ParentLine: fr.long(),
		Kind:       NodeKind(fr.char()),
	}
	if err := fr.check("node"); err != nil {
		return err
	}
	if node.Parent != NoID && node.Parent >= id {
		return fmt.Errorf("%w: parent %d is not an earlier node", ErrCorruptObject, node.Parent)
	}

	switch node.Kind {
	case NodeRept:
		depth := fr.long()
		if depth > maxReptDepth {
			return fmt.Errorf("%w: repeat depth %d exceeds %d", ErrCorruptObject, depth, maxReptDepth)
		}
		iters := make([]uint32, 0, depth)
		for range depth {
			iters = append(iters, fr.long())
		}
		node.Payload = NodeIterations{Iters: iters}

	case NodeFile, NodeMacro:
		node.Payload = NodeName{Name: fr.str()}

	default:
		return fmt.Errorf("%w: unknown node kind %d", ErrCorruptObject, node.Kind)
	}

	if err := fr.check("node payload"); err != nil {
		return err
	}
	fr.file.Nodes.Add(node)
	return nil
}

func (fr *fileReader) readSource() (SourceRef, error) {
	ref := SourceRef{
		Arena: fr.file.Nodes,
		Node:  fr.long(),
		Line:  fr.long(),
	}
	if err := fr.check("source reference"); err != nil {
		return ref, err
	}
	if ref.Node != NoID && int(ref.Node) >= fr.file.Nodes.Len() {
		return ref, fmt.Errorf("%w: source node %d out of range", ErrCorruptObject, ref.Node)
	}
	return ref, nil
}

func (fr *fileReader) readSymbol() error {
	sym := &Symbol{
		File: fr.file,
		Name: fr.str(),
		Kind: SymbolKind(fr.char()),
	}
	if err := fr.check("symbol"); err != nil {
		return err
	}
	if sym.Kind > SymExport {
		return fmt.Errorf("%w: symbol %q has unknown kind %d", ErrCorruptObject, sym.Name, sym.Kind)
	}

	sectionID := uint32(NoID)
	if sym.Kind != SymImport {
		var err error
		if sym.Source, err = fr.readSource(); err != nil {
			return err
		}
		sectionID = fr.long()
		sym.Value = int32(fr.long())
		if err := fr.check("symbol definition"); err != nil {
			return err
		}
		if sectionID != NoID && sectionID >= fr.numSections {
			return fmt.Errorf("%w: symbol %q references section %d", ErrCorruptObject, sym.Name, sectionID)
		}
	}

	fr.file.Symbols = append(fr.file.Symbols, sym)
	fr.symbolSections = append(fr.symbolSections, sectionID)
	return nil
}

func (fr *fileReader) readSection(id uint32) error {
	sec := &Section{
		File: fr.file,
		ID:   id,
		Name: fr.str(),
	}
	var err error
	if sec.Source, err = fr.readSource(); err != nil {
		return err
	}
	sec.Size = fr.long()
	typ := fr.char()
	org := fr.long()
	bank := fr.long()
	sec.Align = fr.char()
	alignOffset := fr.long()
	if err := fr.check("section header"); err != nil {
		return err
	}

	if err := fr.decodeSectionHeader(sec, typ, org, bank, alignOffset); err != nil {
		return fmt.Errorf("section %q: %w", sec.Name, err)
	}

	if sec.Type.HasData() {
		sec.Data = fr.raw(sec.Size)
		numPatches := fr.long()
		if err := fr.check("section data"); err != nil {
			return err
		}
		for i := range numPatches {
			patch, pcSection, err := fr.readPatch()
			if err != nil {
				return fmt.Errorf("section %q patch %d: %w", sec.Name, i, err)
			}
			if patch.Kind >= patchKindCount {
				return fmt.Errorf("%w: section %q patch %d has unknown kind %d",
					ErrCorruptObject, sec.Name, i, patch.Kind)
			}
			if uint64(patch.Offset)+uint64(patch.Kind.Width()) > uint64(sec.Size) {
				return fmt.Errorf("%w: section %q patch %d at offset %d exceeds section size %d",
					ErrCorruptObject, sec.Name, i, patch.Offset, sec.Size)
			}
			patch.Section = sec
			fr.patchSections[patch] = pcSection
			sec.Patches = append(sec.Patches, patch)
		}
	}

	fr.file.Sections = append(fr.file.Sections, sec)
	return nil
}

func (fr *fileReader) decodeSectionHeader(sec *Section, typ byte, org, bank, alignOffset uint32) error {
	sec.Type = region.Type(typ & sectionTypeMask)
	if !sec.Type.Valid() {
		return fmt.Errorf("%w: unknown section type %d", ErrCorruptObject, typ&sectionTypeMask)
	}

	switch typ &^ sectionTypeMask {
	case 0:
		sec.Modifier = ModNormal
	case sectionUnionFl:
		sec.Modifier = ModUnion
	case sectionFragmentFl:
		sec.Modifier = ModFragment
	default:
		return fmt.Errorf("%w: section is both union and fragment", ErrCorruptObject)
	}

	if sec.Size > maxSectionSize {
		return fmt.Errorf("%w: size %d too large", ErrCorruptObject, sec.Size)
	}
	if sec.Align > maxAlignment {
		return fmt.Errorf("%w: alignment %d too large", ErrCorruptObject, sec.Align)
	}
	if alignOffset > 0xFFFF {
		return fmt.Errorf("%w: alignment offset %d too large", ErrCorruptObject, alignOffset)
	}
	sec.AlignOffset = uint16(alignOffset)

	if org != NoID {
		if org > 0xFFFF {
			return fmt.Errorf("%w: org $%X out of address space", ErrCorruptObject, org)
		}
		sec.OrgFixed = true
		sec.Org = uint16(org)
	}
	if bank != NoID {
		sec.BankFixed = true
		sec.Bank = bank
	}
	return nil
}

func (fr *fileReader) readPatch() (*Patch, uint32, error) {
	source, err := fr.readSource()
	if err != nil {
		return nil, 0, err
	}
	patch := &Patch{
		Source: source,
		Offset: fr.long(),
	}
	pcSection := fr.long()
	patch.PCOffset = fr.long()
	patch.Kind = PatchKind(fr.char())
	size := fr.long()
	if err := fr.check("patch"); err != nil {
		return nil, 0, err
	}
	if size > maxSectionSize {
		return nil, 0, fmt.Errorf("%w: expression size %d too large", ErrCorruptObject, size)
	}
	patch.RPN = fr.raw(size)
	if err := fr.check("patch expression"); err != nil {
		return nil, 0, err
	}
	if pcSection != NoID && pcSection >= fr.numSections {
		return nil, 0, fmt.Errorf("%w: PC section %d out of range", ErrCorruptObject, pcSection)
	}
	return patch, pcSection, nil
}

func (fr *fileReader) readAssertions() error {
	count := fr.long()
	if err := fr.check("assertion count"); err != nil {
		return err
	}

	for i := range count {
		patch, pcSection, err := fr.readPatch()
		if err != nil {
			return fmt.Errorf("assertion %d: %w", i, err)
		}
		level := AssertionLevel(patch.Kind)
		if level > AssertFatal {
			return fmt.Errorf("%w: assertion %d has unknown level %d", ErrCorruptObject, i, level)
		}
		message := fr.str()
		if err := fr.check("assertion message"); err != nil {
			return err
		}
		fr.patchSections[patch] = pcSection
		fr.file.Assertions = append(fr.file.Assertions, &Assertion{
			Patch:   patch,
			Level:   level,
			Message: message,
		})
	}
	return nil
}

// resolveSectionReferences links symbols and patches to their sections once
// the whole section table is known.
func (fr *fileReader) resolveSectionReferences() {
	for i, sym := range fr.file.Symbols {
		if id := fr.symbolSections[i]; id != NoID {
			sym.Section = fr.file.Sections[id]
		}
	}
	for patch, id := range fr.patchSections {
		if id != NoID {
			patch.PCSection = fr.file.Sections[id]
		}
	}
}
