// Package fileprocessor handles the link run of a set of object files
package fileprocessor

import (
	"context"
	"fmt"
	"strings"

	"github.com/retroenv/retrogolib/buildinfo"
	"github.com/retroenv/retrogolib/log"
	"github.com/retroenv/retrolink/internal/options"
	"github.com/retroenv/retrolink/internal/pipeline"
)

// ProcessFiles links the object files of the options and writes all requested
// output files.
func ProcessFiles(ctx context.Context, logger *log.Logger, opts options.Program) error {
	result, err := pipeline.New(logger).Execute(ctx, opts)
	if err != nil {
		return fmt.Errorf("linking: %w", err)
	}

	logger.Info("Linking completed",
		log.Int("sections", len(result.Sections)),
		log.Int("warnings", result.Warnings))
	return nil
}

// PrintBanner prints application version information
func PrintBanner(logger *log.Logger, opts options.Program, version, commit, date string) {
	if opts.Quiet {
		return
	}

	logger.Info("retrolink", log.String("version", buildinfo.Version(version, commit, "")))

	if date != "" && !strings.Contains(date, "unknown") {
		logger.Info("Build", log.String("date", date))
	}
}
