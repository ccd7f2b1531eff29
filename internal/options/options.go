// Package options contains the program options.
package options

// Parameters contains file path options.
type Parameters struct {
	Inputs  []string // object files in link order
	Output  string   // ROM image, nothing is written if empty
	SymFile string
	MapFile string
}

// Flags contains behavior options.
type Flags struct {
	PadByte  byte
	Tiny     bool
	WRAM0    bool
	DMG      bool
	Warnings []string // warning switches in command line order
	Verify   bool
	Debug    bool
	Quiet    bool
}

// Program options of the linker.
type Program struct {
	Parameters
	Flags
}
