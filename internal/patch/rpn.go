package patch

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/retroenv/retrolink/internal/diag"
	"github.com/retroenv/retrolink/internal/object"
	"github.com/retroenv/retrolink/internal/section"
)

// machine executes the relocation bytecode of one patch.
type machine struct {
	ev    *Evaluator
	ctx   *diag.Context
	file  *object.File
	patch *object.Patch

	rpn   []byte
	pos   int
	stack []int32
}

func (m *machine) push(v int32) {
	m.stack = append(m.stack, v)
}

func (m *machine) pop() (int32, error) {
	if len(m.stack) == 0 {
		return 0, fmt.Errorf("%w: stack underflow at byte %d", ErrCorruptPatch, m.pos-1)
	}
	v := m.stack[len(m.stack)-1]
	m.stack = m.stack[:len(m.stack)-1]
	return v, nil
}

// pop2 returns the operands of a binary operator, a being pushed before b.
func (m *machine) pop2() (int32, int32, error) {
	b, err := m.pop()
	if err != nil {
		return 0, 0, err
	}
	a, err := m.pop()
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}

func (m *machine) long() (uint32, error) {
	if m.pos+4 > len(m.rpn) {
		return 0, fmt.Errorf("%w: truncated operand at byte %d", ErrCorruptPatch, m.pos)
	}
	v := binary.LittleEndian.Uint32(m.rpn[m.pos:])
	m.pos += 4
	return v, nil
}

func (m *machine) str() (string, error) {
	end := bytes.IndexByte(m.rpn[m.pos:], 0)
	if end < 0 {
		return "", fmt.Errorf("%w: unterminated string at byte %d", ErrCorruptPatch, m.pos)
	}
	s := string(m.rpn[m.pos : m.pos+end])
	m.pos += end + 1
	return s, nil
}

// run executes the bytecode and returns the single remaining stack value.
func (m *machine) run() (int32, error) {
	for m.pos < len(m.rpn) {
		op := object.Opcode(m.rpn[m.pos])
		m.pos++
		if err := m.step(op); err != nil {
			return 0, err
		}
	}

	if len(m.stack) != 1 {
		return 0, fmt.Errorf("%w: %d values left on the stack", ErrCorruptPatch, len(m.stack))
	}
	return m.stack[0], nil
}

func (m *machine) step(op object.Opcode) error {
	switch {
	case op <= object.RPNExp && op != object.RPNNeg,
		op >= object.RPNOr && op <= object.RPNXor,
		op == object.RPNLogAnd, op == object.RPNLogOr,
		op >= object.RPNEq && op <= object.RPNLe,
		op >= object.RPNShl && op <= object.RPNUShr:
		a, b, err := m.pop2()
		if err != nil {
			return err
		}
		v, err := m.binary(op, a, b)
		if err != nil {
			return err
		}
		m.push(v)
		return nil

	case op == object.RPNNeg, op == object.RPNNot, op == object.RPNLogNot,
		op == object.RPNHRAM, op == object.RPNRST:
		a, err := m.pop()
		if err != nil {
			return err
		}
		m.push(m.unary(op, a))
		return nil
	}

	v, err := m.operand(op)
	if err != nil {
		return err
	}
	m.push(v)
	return nil
}

func (m *machine) unary(op object.Opcode, a int32) int32 {
	switch op {
	case object.RPNNeg:
		return -a
	case object.RPNNot:
		return ^a
	case object.RPNLogNot:
		return boolValue(a == 0)
	case object.RPNHRAM:
		return boolValue(m.ev.regions.HighPage(a))
	default: // RPNRST
		return boolValue(m.ev.regions.RestartVector(a))
	}
}

//nolint:cyclop // one case per operator
func (m *machine) binary(op object.Opcode, a, b int32) (int32, error) {
	switch op {
	case object.RPNAdd:
		return a + b, nil
	case object.RPNSub:
		return a - b, nil
	case object.RPNMul:
		return a * b, nil
	case object.RPNDiv, object.RPNMod:
		return m.divide(op, a, b)
	case object.RPNExp:
		if b < 0 {
			return 0, fmt.Errorf("%w: %d ** %d", ErrNegativeExponent, a, b)
		}
		return power(a, b), nil

	case object.RPNOr:
		return a | b, nil
	case object.RPNAnd:
		return a & b, nil
	case object.RPNXor:
		return a ^ b, nil

	case object.RPNLogAnd:
		return boolValue(a != 0 && b != 0), nil
	case object.RPNLogOr:
		return boolValue(a != 0 || b != 0), nil

	case object.RPNEq:
		return boolValue(a == b), nil
	case object.RPNNe:
		return boolValue(a != b), nil
	case object.RPNGt:
		return boolValue(a > b), nil
	case object.RPNLt:
		return boolValue(a < b), nil
	case object.RPNGe:
		return boolValue(a >= b), nil
	case object.RPNLe:
		return boolValue(a <= b), nil

	case object.RPNShl:
		m.checkShift("left", b)
		return shiftLeft(a, int64(b)), nil
	case object.RPNShr:
		m.checkShift("right", b)
		return shiftRight(a, int64(b)), nil
	default: // RPNUShr
		m.checkShift("right", b)
		return shiftRightUnsigned(a, int64(b)), nil
	}
}

func (m *machine) divide(op object.Opcode, a, b int32) (int32, error) {
	if b == 0 {
		return 0, fmt.Errorf("%w: %d %s 0", ErrDivisionByZero, a, operatorName(op))
	}
	if a == math.MinInt32 && b == -1 {
		m.ctx.Warn(diag.WarnDiv, fmt.Errorf("%s: %d %s -1 overflows", m.patch.Source, a, operatorName(op)))
	}
	// Go integer division truncates toward zero and wraps MinInt32 / -1
	if op == object.RPNDiv {
		return a / b, nil
	}
	return a % b, nil
}

func (m *machine) checkShift(direction string, amount int32) {
	switch {
	case amount < 0:
		m.ctx.Warn(diag.WarnShiftAmount, fmt.Errorf("%s: shifting %s by negative amount %d",
			m.patch.Source, direction, amount))
	case amount >= 32:
		m.ctx.Warn(diag.WarnShiftAmount, fmt.Errorf("%s: shifting %s by %d bits",
			m.patch.Source, direction, amount))
	}
}

// operand executes the instructions that read an embedded operand.
func (m *machine) operand(op object.Opcode) (int32, error) {
	switch op {
	case object.RPNConst:
		v, err := m.long()
		return int32(v), err

	case object.RPNSym:
		id, err := m.long()
		if err != nil {
			return 0, err
		}
		return m.symbolValue(id)

	case object.RPNBankSym:
		id, err := m.long()
		if err != nil {
			return 0, err
		}
		return m.symbolBank(id)

	case object.RPNBankSelf:
		if m.patch.PCSection == nil {
			return 0, fmt.Errorf("%w: BANK(@) used outside of a section", ErrUndefinedSection)
		}
		bank, err := m.ev.symbols.BankOfSection(m.patch.PCSection)
		return int32(bank), err

	case object.RPNBankSect, object.RPNSizeofSect, object.RPNStartSect:
		name, err := m.str()
		if err != nil {
			return 0, err
		}
		return m.sectionQuery(op, name)

	case object.RPNRange:
		return m.rangeCheck()

	default:
		return 0, fmt.Errorf("%w: unknown opcode $%02X at byte %d", ErrCorruptPatch, byte(op), m.pos-1)
	}
}

func (m *machine) symbolValue(id uint32) (int32, error) {
	if id == object.NoID {
		pc := m.patch.PCSection
		if pc == nil {
			return 0, fmt.Errorf("%w: '@' used outside of a section", ErrUndefinedSection)
		}
		return int32(uint32(pc.Org) + m.patch.PCOffset), nil
	}

	sym, err := m.symbol(id)
	if err != nil {
		return 0, err
	}
	return sym.Address(), nil
}

func (m *machine) symbolBank(id uint32) (int32, error) {
	sym, err := m.symbol(id)
	if err != nil {
		return 0, err
	}
	bank, err := m.ev.symbols.BankOfSymbol(sym)
	return int32(bank), err
}

func (m *machine) symbol(id uint32) (*object.Symbol, error) {
	if int(id) >= len(m.file.Symbols) {
		return nil, fmt.Errorf("%w: symbol index %d out of range", ErrCorruptPatch, id)
	}
	return m.ev.symbols.Symbol(m.file, id)
}

func (m *machine) sectionQuery(op object.Opcode, name string) (int32, error) {
	sec, ok := m.ev.sections.Find(name)
	if !ok {
		return 0, fmt.Errorf("%w '%s'", ErrUndefinedSection, name)
	}

	switch op {
	case object.RPNBankSect:
		return m.sectionBank(sec)
	case object.RPNSizeofSect:
		return int32(sec.Size), nil
	default: // RPNStartSect
		return int32(sec.Org), nil
	}
}

func (m *machine) sectionBank(sec *section.Merged) (int32, error) {
	bank, err := m.ev.symbols.BankOfSection(sec.Members[0])
	return int32(bank), err
}

func (m *machine) rangeCheck() (int32, error) {
	low, err := m.long()
	if err != nil {
		return 0, err
	}
	high, err := m.long()
	if err != nil {
		return 0, err
	}
	v, err := m.pop()
	if err != nil {
		return 0, err
	}
	if v < int32(low) || v > int32(high) {
		return 0, fmt.Errorf("%w: value %d is not in range [%d, %d]", ErrValueOutOfRange, v, int32(low), int32(high))
	}
	return v, nil
}

func boolValue(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

// power returns base ** exp with wrap around, exp being non-negative.
func power(base, exp int32) int32 {
	result := int32(1)
	for exp > 0 {
		if exp&1 != 0 {
			result *= base
		}
		base *= base
		exp >>= 1
	}
	return result
}

// shiftLeft shifts by amount bits, shifting right for negative amounts.
func shiftLeft(v int32, amount int64) int32 {
	switch {
	case amount < 0:
		return shiftRight(v, -amount)
	case amount >= 32:
		return 0
	default:
		return v << amount
	}
}

// shiftRight shifts arithmetically, shifting left for negative amounts.
func shiftRight(v int32, amount int64) int32 {
	switch {
	case amount < 0:
		return shiftLeft(v, -amount)
	case amount >= 32:
		return v >> 31
	default:
		return v >> amount
	}
}

// shiftRightUnsigned shifts in zero bits, shifting left for negative amounts.
func shiftRightUnsigned(v int32, amount int64) int32 {
	switch {
	case amount < 0:
		return shiftLeft(v, -amount)
	case amount >= 32:
		return 0
	default:
		return int32(uint32(v) >> amount)
	}
}

func operatorName(op object.Opcode) string {
	if op == object.RPNMod {
		return "%"
	}
	return "/"
}
