// Package symbols provides the global symbol table of a link run.
package symbols

import (
	"errors"
	"fmt"
	"sort"

	"github.com/retroenv/retrogolib/set"
	"github.com/retroenv/retrolink/internal/diag"
	"github.com/retroenv/retrolink/internal/object"
	"github.com/retroenv/retrolink/internal/region"
)

var (
	// ErrDuplicateExport is returned when two objects export the same name.
	ErrDuplicateExport = errors.New("duplicate export")
	// ErrUndefinedSymbol is returned for references to names that no object exports.
	ErrUndefinedSymbol = errors.New("undefined symbol")
	// ErrNotBanked is returned for bank queries of entities outside of banked regions.
	ErrNotBanked = errors.New("not banked")
)

// Table maps exported names to their definitions across all objects and keeps
// every label definition for symbol file output.
type Table struct {
	regions *region.Table

	exports map[string]*object.Symbol
	labels  []*object.Symbol

	imports     set.Set[string]
	importOrder []string
}

// New creates a new symbol table.
func New(regions *region.Table) *Table {
	return &Table{
		regions: regions,
		exports: make(map[string]*object.Symbol),
		imports: set.New[string](),
	}
}

// AddFile adds all symbols of an object file, recording every duplicate export.
func (t *Table) AddFile(ctx *diag.Context, f *object.File) {
	for _, sym := range f.Symbols {
		if err := t.Add(sym); err != nil {
			ctx.Error(err)
		}
	}
}

// Add inserts a symbol. Exports become visible to all objects, local symbols
// are only kept for symbol file output and imports are tracked by name.
func (t *Table) Add(sym *object.Symbol) error {
	switch sym.Kind {
	case object.SymImport:
		if !t.imports.Contains(sym.Name) {
			t.imports.Add(sym.Name)
			t.importOrder = append(t.importOrder, sym.Name)
		}
		return nil

	case object.SymExport:
		if existing, ok := t.exports[sym.Name]; ok {
			return fmt.Errorf("%w: '%s' defined at %s in %s and at %s in %s", ErrDuplicateExport,
				sym.Name, existing.Source, existing.File.Name, sym.Source, sym.File.Name)
		}
		t.exports[sym.Name] = sym
	}

	if sym.IsLabel() {
		t.labels = append(t.labels, sym)
	}
	return nil
}

// Len returns the number of exported symbols.
func (t *Table) Len() int {
	return len(t.exports)
}

// Symbol returns the definition of the symbol with the given index inside an
// object file. Imports are resolved through the exports of all objects.
func (t *Table) Symbol(f *object.File, id uint32) (*object.Symbol, error) {
	if int(id) >= len(f.Symbols) {
		return nil, fmt.Errorf("symbol index %d out of range in %s", id, f.Name)
	}
	sym := f.Symbols[id]
	if sym.Kind != object.SymImport {
		return sym, nil
	}

	def, ok := t.exports[sym.Name]
	if !ok {
		return nil, fmt.Errorf("%w '%s'", ErrUndefinedSymbol, sym.Name)
	}
	return def, nil
}

// Resolve returns the flattened value of an exported symbol.
func (t *Table) Resolve(name string) (int32, error) {
	sym, ok := t.exports[name]
	if !ok {
		return 0, fmt.Errorf("%w '%s'", ErrUndefinedSymbol, name)
	}
	return sym.Address(), nil
}

// BankOf returns the bank of the section that the exported label belongs to.
func (t *Table) BankOf(name string) (uint32, error) {
	sym, ok := t.exports[name]
	if !ok {
		return 0, fmt.Errorf("%w '%s'", ErrUndefinedSymbol, name)
	}
	return t.BankOfSymbol(sym)
}

// BankOfSymbol returns the bank of the section of a label.
func (t *Table) BankOfSymbol(sym *object.Symbol) (uint32, error) {
	if !sym.IsLabel() {
		return 0, fmt.Errorf("%w: '%s' is a constant, not a label", ErrNotBanked, sym.Name)
	}
	return t.BankOfSection(sym.Section)
}

// BankOfSection returns the assigned bank of a section. This also serves the
// bank query of the current section.
func (t *Table) BankOfSection(sec *object.Section) (uint32, error) {
	if !t.regions.Region(sec.Type).Banked() {
		return 0, fmt.Errorf("%w: %s", ErrNotBanked, sec)
	}
	return sec.Bank, nil
}

// UnresolvedImports returns the imported names without an export, in the order
// they were first imported.
func (t *Table) UnresolvedImports() []string {
	var names []string
	for _, name := range t.importOrder {
		if _, ok := t.exports[name]; !ok {
			names = append(names, name)
		}
	}
	return names
}

// SortedLabels returns all label definitions sorted by bank, address and name.
func (t *Table) SortedLabels() []*object.Symbol {
	labels := make([]*object.Symbol, len(t.labels))
	copy(labels, t.labels)

	sort.SliceStable(labels, func(i, j int) bool {
		a, b := labels[i], labels[j]
		if a.Section.Bank != b.Section.Bank {
			return a.Section.Bank < b.Section.Bank
		}
		addrA, addrB := uint16(a.Address()), uint16(b.Address())
		if addrA != addrB {
			return addrA < addrB
		}
		return a.Name < b.Name
	})
	return labels
}
