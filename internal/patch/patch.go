// Package patch evaluates the relocation expressions of all patches once every
// section is placed and writes the results into the section data.
package patch

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/retroenv/retrogolib/log"
	"github.com/retroenv/retrolink/internal/diag"
	"github.com/retroenv/retrolink/internal/object"
	"github.com/retroenv/retrolink/internal/region"
	"github.com/retroenv/retrolink/internal/section"
	"github.com/retroenv/retrolink/internal/symbols"
)

var (
	// ErrDivisionByZero is returned for a division or modulo by zero.
	ErrDivisionByZero = errors.New("division by zero")
	// ErrValueOutOfRange is returned for values failing a range check or not
	// fitting into the patch width.
	ErrValueOutOfRange = errors.New("value out of range")
	// ErrNegativeExponent is returned for exponentiation with a negative exponent.
	ErrNegativeExponent = errors.New("negative exponent")
	// ErrUndefinedSection is returned for references to unknown sections.
	ErrUndefinedSection = errors.New("undefined section")
	// ErrCorruptPatch is returned for malformed relocation bytecode. It is fatal.
	ErrCorruptPatch = errors.New("corrupt patch")
	// ErrAssertion is returned for link-time assertions that evaluated to zero.
	ErrAssertion = errors.New("assertion failed")
)

// Evaluator computes and encodes patch values.
type Evaluator struct {
	logger   *log.Logger
	regions  *region.Table
	symbols  *symbols.Table
	sections *section.Registry
}

// New returns a new patch evaluator.
func New(logger *log.Logger, regions *region.Table, syms *symbols.Table, sections *section.Registry) *Evaluator {
	return &Evaluator{
		logger:   logger,
		regions:  regions,
		symbols:  syms,
		sections: sections,
	}
}

// Evaluate computes the value of the patch expression. The patch belongs to the
// given object file, which its symbol indices refer to.
func (e *Evaluator) Evaluate(ctx *diag.Context, f *object.File, p *object.Patch) (int32, error) {
	m := &machine{
		ev:    e,
		ctx:   ctx,
		file:  f,
		patch: p,
		rpn:   p.RPN,
	}
	return m.run()
}

// Apply evaluates the patch and writes the encoded value into its section.
func (e *Evaluator) Apply(ctx *diag.Context, f *object.File, p *object.Patch) error {
	value, err := e.Evaluate(ctx, f, p)
	if err != nil {
		return err
	}

	if p.Kind == object.PatchJR {
		if p.PCSection == nil {
			return fmt.Errorf("%w: relative jump outside of a section", ErrCorruptPatch)
		}
		next := int32(uint32(p.PCSection.Org) + p.PCOffset + 2)
		value -= next
		if value < math.MinInt8 || value > math.MaxInt8 {
			return fmt.Errorf("%w: jump target is %d bytes away, must be in range [-128, 127]",
				ErrValueOutOfRange, value)
		}
	}

	if err := checkWidth(p.Kind, value); err != nil {
		return err
	}
	return encode(p, value)
}

// ApplyFile applies all patches of the sections of an object file. Evaluation
// errors are recorded and processing continues, a corrupt patch is returned.
func (e *Evaluator) ApplyFile(ctx *diag.Context, f *object.File) error {
	var count int
	for _, sec := range f.Sections {
		for _, p := range sec.Patches {
			err := e.Apply(ctx, f, p)
			if err == nil {
				count++
				continue
			}
			err = fmt.Errorf("%s: patch at offset $%X of %s: %w", p.Source, p.Offset, sec, err)
			if errors.Is(err, ErrCorruptPatch) {
				return err
			}
			ctx.Error(err)
		}
	}

	e.logger.Debug("Applied patches", log.String("file", f.Name), log.Int("count", count))
	return nil
}

// CheckAssertions evaluates the link-time assertions of an object file. Failed
// assertions are reported according to their level, a failed fatal assertion
// or a corrupt expression is returned.
func (e *Evaluator) CheckAssertions(ctx *diag.Context, f *object.File) error {
	for _, assertion := range f.Assertions {
		p := assertion.Patch

		value, err := e.Evaluate(ctx, f, p)
		if err != nil {
			err = fmt.Errorf("%s: assertion: %w", p.Source, err)
			if errors.Is(err, ErrCorruptPatch) {
				return err
			}
			ctx.Error(err)
			continue
		}
		if value != 0 {
			continue
		}

		message := assertion.Message
		if message == "" {
			message = "assertion failed"
		}
		err = fmt.Errorf("%w: %s: %s", ErrAssertion, p.Source, message)

		switch assertion.Level {
		case object.AssertWarn:
			ctx.Warn(diag.WarnAssert, err)
		case object.AssertError:
			ctx.Error(err)
		default:
			return err
		}
	}
	return nil
}

// checkWidth verifies that the value is representable in the patch width,
// signed or unsigned.
func checkWidth(kind object.PatchKind, value int32) error {
	var low, high int32
	switch kind.Width() {
	case 1:
		low, high = math.MinInt8, math.MaxUint8
	case 2:
		low, high = math.MinInt16, math.MaxUint16
	default:
		return nil
	}

	if value < low || value > high {
		return fmt.Errorf("%w: value %d does not fit into %d byte(s), must be in range [%d, %d]",
			ErrValueOutOfRange, value, kind.Width(), low, high)
	}
	return nil
}

func encode(p *object.Patch, value int32) error {
	width := p.Kind.Width()
	data := p.Section.Data
	if uint64(p.Offset)+uint64(width) > uint64(len(data)) {
		return fmt.Errorf("%w: offset $%X exceeds the section data", ErrCorruptPatch, p.Offset)
	}
	buf := data[p.Offset : p.Offset+width]

	v := uint32(value)
	switch {
	case width == 1:
		buf[0] = byte(v)
	case width == 2 && p.Kind.BigEndian():
		binary.BigEndian.PutUint16(buf, uint16(v))
	case width == 2:
		binary.LittleEndian.PutUint16(buf, uint16(v))
	case p.Kind.BigEndian():
		binary.BigEndian.PutUint32(buf, v)
	default:
		binary.LittleEndian.PutUint32(buf, v)
	}
	return nil
}
