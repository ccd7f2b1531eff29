package writer

import (
	"fmt"
	"io"

	"github.com/retroenv/retrolink/internal/object"
)

// WriteSymbols writes a symbol file listing every label as "bank:address name",
// in the order given.
func (w *Writer) WriteSymbols(out io.Writer, labels []*object.Symbol) error {
	if _, err := fmt.Fprintln(out, "; File generated by retrolink"); err != nil {
		return fmt.Errorf("writing symbol file header: %w", err)
	}

	for _, sym := range labels {
		if _, err := fmt.Fprintf(out, "%02x:%04x %s\n", sym.Section.Bank, uint16(sym.Address()), sym.Name); err != nil {
			return fmt.Errorf("writing symbol '%s': %w", sym.Name, err)
		}
	}
	return nil
}
