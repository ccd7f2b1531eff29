// Package cli handles command line interface logic
package cli

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/retroenv/retrolink/internal/config"
	"github.com/retroenv/retrolink/internal/diag"
	"github.com/retroenv/retrolink/internal/options"
	"github.com/retroenv/retrolink/internal/writer"
)

// ParseFlags parses command line flags and returns the program options
func ParseFlags() (options.Program, error) {
	flags := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	opts := options.Program{
		Flags: options.Flags{PadByte: writer.DefaultPadByte},
	}
	readOptionFlags(flags, &opts)

	err := flags.Parse(os.Args[1:])
	args := flags.Args()
	if err != nil || len(args) == 0 {
		return opts, &UsageError{flags: flags}
	}

	if err := validateArgs(args); err != nil {
		return opts, err
	}

	if _, err := config.NewLink(opts); err != nil {
		return opts, err
	}
	if opts.Verify && opts.Output == "" {
		return opts, &UsageError{flags: flags, msg: "-verify requires an output ROM file set with -o"}
	}

	opts.Inputs = args
	return opts, nil
}

// UsageError represents an error that should show usage information
type UsageError struct {
	flags *flag.FlagSet
	msg   string
}

func (e *UsageError) Error() string {
	return e.msg
}

func (e *UsageError) ShowUsage() {
	fmt.Printf("usage: retrolink [options] <object files...>\n\n")
	if e.flags != nil {
		e.flags.PrintDefaults()
	}
	fmt.Println()
}

// validateArgs checks if arguments are in correct order
func validateArgs(args []string) error {
	for i, arg := range args {
		if i > 0 && arg != "" && arg[0] == '-' {
			return &UsageError{
				msg: fmt.Sprintf("Potential argument %s found after object files, please pass the object files as last arguments", arg),
			}
		}
	}
	return nil
}

// parsePadByte parses a byte value in decimal, hexadecimal (0x or $ prefix)
// or octal notation.
func parsePadByte(s string) (byte, error) {
	if rest, ok := strings.CutPrefix(s, "$"); ok {
		s = "0x" + rest
	}
	value, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid pad byte '%s', expected a value between 0 and 255", s)
	}
	return byte(value), nil
}

func readOptionFlags(flags *flag.FlagSet, opts *options.Program) {
	flags.StringVar(&opts.Output, "o", "", "name of the output ROM file, no file is written if no name given")
	flags.StringVar(&opts.SymFile, "n", "", "name of the symbol file to write")
	flags.StringVar(&opts.MapFile, "m", "", "name of the map file to write")
	flags.Func("p", "pad byte for unused ROM space (default 0xFF)", func(s string) error {
		value, err := parsePadByte(s)
		opts.PadByte = value
		return err
	})
	flags.BoolVar(&opts.Tiny, "t", false, "tiny ROM: ROM0 spans 32 KiB and no ROMX banks are available")
	flags.BoolVar(&opts.WRAM0, "w", false, "WRAM0 spans 8 KiB and no WRAMX banks are available")
	flags.BoolVar(&opts.DMG, "d", false, "DMG mode: only one VRAM bank, implies -w")
	flags.Func("W", "warning switch, repeatable: <name>, no-<name>, error=<name> or error. Warnings: "+
		strings.Join(diag.Warnings(), ", "), func(s string) error {
		opts.Warnings = append(opts.Warnings, s)
		return nil
	})
	flags.BoolVar(&opts.Verify, "verify", false, "verify the written ROM file by reading it back and comparing all sections")
	flags.BoolVar(&opts.Debug, "debug", false, "enable debugging options for extended logging")
	flags.BoolVar(&opts.Quiet, "q", false, "perform operations quietly")
}
