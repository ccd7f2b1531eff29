// Package config handles application configuration and setup
package config

import (
	"fmt"

	"github.com/retroenv/retrogolib/log"
	"github.com/retroenv/retrolink/internal/diag"
	"github.com/retroenv/retrolink/internal/options"
	"github.com/retroenv/retrolink/internal/region"
	"github.com/retroenv/retrolink/internal/writer"
)

// CreateLogger creates a logger with appropriate settings
func CreateLogger(debug, quiet bool) *log.Logger {
	cfg := log.DefaultConfig()
	if debug {
		cfg.Level = log.DebugLevel
	} else if quiet {
		cfg.Level = log.ErrorLevel
	}
	return log.NewWithConfig(cfg)
}

// Link contains the settings of one link run derived from the program options.
type Link struct {
	Regions *region.Table
	Diag    diag.Options
	Writer  writer.Options
}

// NewLink derives the link settings from the program options. Warning switches
// are applied in order so that later switches override earlier ones.
func NewLink(opts options.Program) (Link, error) {
	var diagOpts diag.Options
	for _, flag := range opts.Warnings {
		if err := diagOpts.ParseWarningFlag(flag); err != nil {
			return Link{}, fmt.Errorf("parsing warning switch: %w", err)
		}
	}

	regions := region.NewTable(region.Options{
		Tiny:  opts.Tiny,
		WRAM0: opts.WRAM0,
		DMG:   opts.DMG,
	})

	return Link{
		Regions: regions,
		Diag:    diagOpts,
		Writer:  writer.Options{PadByte: opts.PadByte},
	}, nil
}
