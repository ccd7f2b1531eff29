// Package diag collects the errors and warnings recorded during a link run.
package diag

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/retroenv/retrogolib/log"
)

// WarningMode defines how a warning is reported.
type WarningMode uint8

// warning modes.
const (
	WarningOn WarningMode = iota
	WarningOff
	WarningError
)

// warning names.
const (
	WarnAssert      = "assert"       // failed assertion of warning level
	WarnDiv         = "div"          // division of the smallest integer by -1
	WarnShiftAmount = "shift-amount" // shift by a negative amount or 32 and more
)

var knownWarnings = map[string]struct{}{
	WarnAssert:      {},
	WarnDiv:         {},
	WarnShiftAmount: {},
}

// Options configures the warning reporting.
type Options struct {
	Warnings    map[string]WarningMode
	AllAsErrors bool // promote every enabled warning to an error
}

// ParseWarningFlag applies a warning switch: "name" enables a warning,
// "no-name" disables it, "error=name" promotes it to an error and "error"
// promotes all warnings.
func (o *Options) ParseWarningFlag(flag string) error {
	if flag == "error" {
		o.AllAsErrors = true
		return nil
	}

	mode := WarningOn
	name := flag
	switch {
	case strings.HasPrefix(flag, "no-"):
		mode = WarningOff
		name = strings.TrimPrefix(flag, "no-")
	case strings.HasPrefix(flag, "error="):
		mode = WarningError
		name = strings.TrimPrefix(flag, "error=")
	}

	if _, ok := knownWarnings[name]; !ok {
		return fmt.Errorf("unknown warning '%s', valid warnings: %s", name, strings.Join(Warnings(), ", "))
	}
	if o.Warnings == nil {
		o.Warnings = map[string]WarningMode{}
	}
	o.Warnings[name] = mode
	return nil
}

// Warnings returns the sorted names of all warnings.
func Warnings() []string {
	names := make([]string, 0, len(knownWarnings))
	for name := range knownWarnings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Context records the diagnostics of one link run. It is passed to every
// stage so that stages can be run in isolation with fresh state.
type Context struct {
	logger *log.Logger
	opts   Options

	errs     []error
	warnings int
}

// New returns a new diagnostics context.
func New(logger *log.Logger, opts Options) *Context {
	return &Context{
		logger: logger,
		opts:   opts,
	}
}

// Error records an error. Recording never stops the current stage.
func (c *Context) Error(err error) {
	c.errs = append(c.errs, err)
	c.logger.Error("Link error", log.Err(err))
}

// Warn reports a named warning, which depending on the configuration is
// ignored, logged or recorded as error.
func (c *Context) Warn(name string, err error) {
	mode := c.opts.Warnings[name]
	switch {
	case mode == WarningOff:
		return
	case mode == WarningError, c.opts.AllAsErrors:
		c.Error(fmt.Errorf("%w [-Werror=%s]", err, name))
	default:
		c.warnings++
		c.logger.Warn("Link warning", log.String("warning", name), log.Err(err))
	}
}

// ErrorCount returns the number of recorded errors.
func (c *Context) ErrorCount() int {
	return len(c.errs)
}

// WarningCount returns the number of reported warnings that were not promoted.
func (c *Context) WarningCount() int {
	return c.warnings
}

// Errors returns all recorded errors in recording order.
func (c *Context) Errors() []error {
	return c.errs
}

// Err returns all recorded errors joined, or nil if none was recorded.
func (c *Context) Err() error {
	if len(c.errs) == 0 {
		return nil
	}
	return errors.Join(c.errs...)
}
