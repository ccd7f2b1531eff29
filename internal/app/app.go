// Package app provides the main application helpers for the linker.
package app

import (
	"strings"

	"github.com/retroenv/retrogolib/log"
	"github.com/retroenv/retrolink/internal/options"
	"github.com/retroenv/retrolink/internal/region"
)

// PrintInfo prints the information about the object files and the memory
// region table variant of the link run.
func PrintInfo(logger *log.Logger, opts options.Program, regions *region.Table) {
	if opts.Quiet {
		return
	}

	output := opts.Output
	if output == "" {
		output = "none"
	}
	logger.Info("Linking object files",
		log.Int("files", len(opts.Inputs)),
		log.String("output", output),
		log.String("variant", Variant(opts)),
	)

	for _, typ := range region.Types() {
		r := regions.Region(typ)
		if r.BankCount == 0 {
			logger.Debug("Region disabled", log.String("region", typ.String()))
			continue
		}
		logger.Debug("Region",
			log.String("region", typ.String()),
			log.Hex("start", r.Start),
			log.Hex("size", r.Size),
			log.Int("first_bank", int(r.FirstBank)),
			log.Int("banks", int(r.BankCount)),
		)
	}
}

// Variant returns a short description of the selected memory region table.
func Variant(opts options.Program) string {
	var parts []string
	if opts.Tiny {
		parts = append(parts, "tiny")
	}
	switch {
	case opts.DMG:
		parts = append(parts, "dmg", "wram0")
	case opts.WRAM0:
		parts = append(parts, "wram0")
	}
	if len(parts) == 0 {
		return "default"
	}
	return strings.Join(parts, ",")
}
