// Package pipeline orchestrates the link workflow stages.
package pipeline

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/retroenv/retrogolib/log"
	"github.com/retroenv/retrolink/internal/app"
	"github.com/retroenv/retrolink/internal/assign"
	"github.com/retroenv/retrolink/internal/config"
	"github.com/retroenv/retrolink/internal/diag"
	"github.com/retroenv/retrolink/internal/loader"
	"github.com/retroenv/retrolink/internal/object"
	"github.com/retroenv/retrolink/internal/options"
	"github.com/retroenv/retrolink/internal/patch"
	"github.com/retroenv/retrolink/internal/section"
	"github.com/retroenv/retrolink/internal/symbols"
	"github.com/retroenv/retrolink/internal/verification"
	"github.com/retroenv/retrolink/internal/writer"
)

// ErrLinkFailed is returned when a stage recorded errors.
var ErrLinkFailed = errors.New("linking failed")

// Pipeline orchestrates the complete link workflow.
type Pipeline struct {
	logger *log.Logger
	loader *loader.Loader
}

// Result contains the linked program.
type Result struct {
	Sections []*section.Merged
	Symbols  *symbols.Table
	ROM      []byte
	Warnings int
}

// New creates a new link pipeline.
func New(logger *log.Logger) *Pipeline {
	return &Pipeline{
		logger: logger,
		loader: loader.New(logger),
	}
}

// Execute runs the complete link pipeline: it loads the object files, links
// them and writes the output files.
func (p *Pipeline) Execute(ctx context.Context, opts options.Program) (*Result, error) {
	settings, err := config.NewLink(opts)
	if err != nil {
		return nil, fmt.Errorf("creating link settings: %w", err)
	}

	app.PrintInfo(p.logger, opts, settings.Regions)

	files, err := p.loader.Load(opts.Inputs)
	if err != nil {
		return nil, fmt.Errorf("loading object files: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("loading object files: %w", err)
	}

	result, err := p.Link(ctx, settings, files)
	if err != nil {
		return nil, err
	}

	if err := p.writeOutput(opts, settings, result); err != nil {
		return nil, err
	}

	// Verify output (if requested)
	if opts.Verify {
		if err := verification.VerifyOutput(p.logger, opts.Output, settings.Regions, result.Sections); err != nil {
			return nil, fmt.Errorf("verification failed: %w", err)
		}
		p.logger.Info("Verification successful")
	}

	return result, nil
}

// Link links pre-loaded object files in their given order without writing any
// output files. This is useful for testing and programmatic usage.
func (p *Pipeline) Link(ctx context.Context, settings config.Link, files []*object.File) (*Result, error) {
	dctx := diag.New(p.logger, settings.Diag)

	table := symbols.New(settings.Regions)
	registry := section.NewRegistry()
	for _, f := range files {
		table.AddFile(dctx, f)
		registry.AddFile(dctx, f)
	}
	if err := p.checkStage(ctx, dctx, "merging symbols and sections"); err != nil {
		return nil, err
	}
	for _, name := range table.UnresolvedImports() {
		p.logger.Debug("Imported symbol without export", log.String("symbol", name))
	}

	assign.New(p.logger, settings.Regions).Assign(dctx, registry.Sections())
	if err := p.checkStage(ctx, dctx, "assigning sections"); err != nil {
		return nil, err
	}

	evaluator := patch.New(p.logger, settings.Regions, table, registry)
	for _, f := range files {
		if err := evaluator.ApplyFile(dctx, f); err != nil {
			return nil, fmt.Errorf("applying patches: %w", err)
		}
	}
	for _, f := range files {
		if err := evaluator.CheckAssertions(dctx, f); err != nil {
			return nil, fmt.Errorf("checking assertions: %w", err)
		}
	}
	if err := p.checkStage(ctx, dctx, "applying patches"); err != nil {
		return nil, err
	}

	w := writer.New(p.logger, settings.Regions, settings.Writer)
	result := &Result{
		Sections: registry.Sections(),
		Symbols:  table,
		ROM:      w.ROM(registry.Sections()),
		Warnings: dctx.WarningCount(),
	}

	p.logger.Debug("Link completed",
		log.Int("files", len(files)),
		log.Int("sections", len(result.Sections)),
		log.Int("exports", table.Len()),
		log.Int("warnings", result.Warnings))
	return result, nil
}

// checkStage aborts the link run if the stage recorded an error or the
// context was cancelled.
func (p *Pipeline) checkStage(ctx context.Context, dctx *diag.Context, stage string) error {
	if count := dctx.ErrorCount(); count > 0 {
		return fmt.Errorf("%w: %s: %d error(s): %w", ErrLinkFailed, stage, count, dctx.Err())
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", stage, err)
	}
	p.logger.Debug("Stage completed", log.String("stage", stage))
	return nil
}

// writeOutput writes all requested output files.
func (p *Pipeline) writeOutput(opts options.Program, settings config.Link, result *Result) error {
	w := writer.New(p.logger, settings.Regions, settings.Writer)

	if opts.Output != "" {
		if err := writeFile(opts.Output, func(out io.Writer) error {
			_, err := out.Write(result.ROM)
			return err
		}); err != nil {
			return fmt.Errorf("writing ROM file: %w", err)
		}
		p.logger.Info("ROM written", log.String("file", opts.Output), log.Hex("size", len(result.ROM)))
	}

	if opts.SymFile != "" {
		labels := result.Symbols.SortedLabels()
		if err := writeFile(opts.SymFile, func(out io.Writer) error {
			return w.WriteSymbols(out, labels)
		}); err != nil {
			return fmt.Errorf("writing symbol file: %w", err)
		}
	}

	if opts.MapFile != "" {
		labels := result.Symbols.SortedLabels()
		if err := writeFile(opts.MapFile, func(out io.Writer) error {
			return w.WriteMap(out, result.Sections, labels)
		}); err != nil {
			return fmt.Errorf("writing map file: %w", err)
		}
	}
	return nil
}

// writeFile creates the file and writes its content through a buffered writer.
func writeFile(path string, write func(out io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating file '%s': %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	buf := bufio.NewWriter(f)
	if err := write(buf); err != nil {
		return err
	}
	if err := buf.Flush(); err != nil {
		return fmt.Errorf("flushing file '%s': %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing file '%s': %w", path, err)
	}
	return nil
}
