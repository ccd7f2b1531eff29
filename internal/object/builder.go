package object

// Builder assembles an in-memory object file, as the assembler front end would
// emit it. Every added entity references a new line of the root file node.
type Builder struct {
	file *File
	root uint32
	line uint32
}

// NewBuilder creates a builder for an object file created from the named source.
func NewBuilder(name string, index int) *Builder {
	f := &File{
		Name:  name,
		Index: index,
		Nodes: NewArena(name),
	}
	root := f.Nodes.Add(Node{
		Parent:  NoID,
		Kind:    NodeFile,
		Payload: NodeName{Name: name},
	})
	return &Builder{file: f, root: root}
}

func (b *Builder) source() SourceRef {
	b.line++
	return SourceRef{Arena: b.file.Nodes, Node: b.root, Line: b.line}
}

// Section adds a section. Sections of data storing regions without data get a
// zero filled buffer of their size.
func (b *Builder) Section(sec *Section) *Section {
	sec.File = b.file
	sec.ID = uint32(len(b.file.Sections))
	sec.Source = b.source()
	if sec.Type.HasData() && sec.Data == nil {
		sec.Data = make([]byte, sec.Size)
	}
	b.file.Sections = append(b.file.Sections, sec)
	return sec
}

// Label adds a symbol defined at an offset inside a section and returns its index.
func (b *Builder) Label(name string, kind SymbolKind, sec *Section, offset int32) uint32 {
	return b.symbol(&Symbol{Name: name, Kind: kind, Section: sec, Value: offset})
}

// Constant adds a constant symbol and returns its index.
func (b *Builder) Constant(name string, kind SymbolKind, value int32) uint32 {
	return b.symbol(&Symbol{Name: name, Kind: kind, Value: value})
}

// Import adds an imported symbol and returns its index.
func (b *Builder) Import(name string) uint32 {
	return b.symbol(&Symbol{Name: name, Kind: SymImport})
}

func (b *Builder) symbol(sym *Symbol) uint32 {
	sym.File = b.file
	if sym.Kind != SymImport {
		sym.Source = b.source()
	}
	b.file.Symbols = append(b.file.Symbols, sym)
	return uint32(len(b.file.Symbols) - 1)
}

// Patch adds a patch at the offset of the section, the offset also being the
// PC offset of the instruction.
func (b *Builder) Patch(sec *Section, offset uint32, kind PatchKind, rpn []byte) *Patch {
	patch := &Patch{
		Source:    b.source(),
		Section:   sec,
		Offset:    offset,
		PCSection: sec,
		PCOffset:  offset,
		Kind:      kind,
		RPN:       rpn,
	}
	sec.Patches = append(sec.Patches, patch)
	return patch
}

// Assertion adds a link-time assertion evaluated in the context of the section.
func (b *Builder) Assertion(pcSection *Section, level AssertionLevel, rpn []byte, message string) *Assertion {
	assertion := &Assertion{
		Patch: &Patch{
			Source:    b.source(),
			PCSection: pcSection,
			RPN:       rpn,
		},
		Level:   level,
		Message: message,
	}
	b.file.Assertions = append(b.file.Assertions, assertion)
	return assertion
}

// File returns the built object file.
func (b *Builder) File() *File {
	return b.file
}
