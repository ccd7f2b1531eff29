// Package verification verifies that the written ROM file contains the data of
// every placed ROM section.
package verification

import (
	"errors"
	"fmt"
	"os"

	"github.com/retroenv/retrogolib/log"
	"github.com/retroenv/retrolink/internal/region"
	"github.com/retroenv/retrolink/internal/section"
	"github.com/retroenv/retrolink/internal/writer"
)

// VerifyOutput reads the ROM file back and compares the bytes of every placed
// ROM section against the linked section data.
func VerifyOutput(logger *log.Logger, romPath string, regions *region.Table, sections []*section.Merged) error {
	if romPath == "" {
		return errors.New("can not verify without output file")
	}

	rom, err := os.ReadFile(romPath)
	if err != nil {
		return fmt.Errorf("reading ROM file for comparison: %w", err)
	}
	return VerifyROM(logger, rom, regions, sections)
}

// VerifyROM compares the bytes of every placed ROM section against the ROM image.
func VerifyROM(logger *log.Logger, rom []byte, regions *region.Table, sections []*section.Merged) error {
	var failed int
	for _, sec := range sections {
		if !sec.Type.HasData() || !sec.Placed {
			continue
		}

		offset := writer.ROMOffset(regions, sec.Type, sec.Bank, sec.Org)
		end := uint64(offset) + uint64(sec.Size)
		if end > uint64(len(rom)) {
			return fmt.Errorf("%s ends at ROM offset $%X beyond the ROM size $%X", sec, end, len(rom))
		}

		if err := checkBufferEqual(logger, sec.Data, rom[offset:end]); err != nil {
			logger.Error("Section mismatch", log.String("section", sec.Name), log.Err(err))
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d section(s) mismatch", failed)
	}
	return nil
}

func checkBufferEqual(logger *log.Logger, input, output []byte) error {
	if len(input) != len(output) {
		return fmt.Errorf("mismatched lengths, %d != %d", len(input), len(output))
	}

	var diffs uint64
	for i := range input {
		if input[i] == output[i] {
			continue
		}

		diffs++
		if diffs < 10 {
			logger.Error("Offset mismatch",
				log.Hex("offset", i),
				log.Hex("expected", input[i]),
				log.Hex("got", output[i]))
		}
	}
	if diffs == 0 {
		return nil
	}
	return fmt.Errorf("%d offset mismatches", diffs)
}
