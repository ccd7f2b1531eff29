package object

import "encoding/binary"

// Opcode is one instruction of the stack based relocation bytecode.
type Opcode byte

// relocation bytecode instructions.
const (
	RPNAdd Opcode = 0x00
	RPNSub Opcode = 0x01
	RPNMul Opcode = 0x02
	RPNDiv Opcode = 0x03
	RPNMod Opcode = 0x04
	RPNNeg Opcode = 0x05
	RPNExp Opcode = 0x06

	RPNOr  Opcode = 0x10
	RPNAnd Opcode = 0x11
	RPNXor Opcode = 0x12
	RPNNot Opcode = 0x13

	RPNLogAnd Opcode = 0x21
	RPNLogOr  Opcode = 0x22
	RPNLogNot Opcode = 0x23

	RPNEq Opcode = 0x30
	RPNNe Opcode = 0x31
	RPNGt Opcode = 0x32
	RPNLt Opcode = 0x33
	RPNGe Opcode = 0x34
	RPNLe Opcode = 0x35

	RPNShl  Opcode = 0x40
	RPNShr  Opcode = 0x41
	RPNUShr Opcode = 0x42

	RPNBankSym    Opcode = 0x50 // LONG symbol index
	RPNBankSect   Opcode = 0x51 // STRING section name
	RPNBankSelf   Opcode = 0x52
	RPNSizeofSect Opcode = 0x53 // STRING section name
	RPNStartSect  Opcode = 0x54 // STRING section name

	RPNHRAM Opcode = 0x60
	RPNRST  Opcode = 0x61

	RPNRange Opcode = 0x70 // LONG low, LONG high

	RPNConst Opcode = 0x80 // LONG value
	RPNSym   Opcode = 0x81 // LONG symbol index, NoID for the current address
)

// Expr builds relocation bytecode.
type Expr struct {
	buf []byte
}

// NewExpr returns an empty bytecode builder.
func NewExpr() *Expr {
	return &Expr{}
}

// Op appends an instruction without operands.
func (e *Expr) Op(op Opcode) *Expr {
	e.buf = append(e.buf, byte(op))
	return e
}

// Const appends a push of a constant.
func (e *Expr) Const(value int32) *Expr {
	e.buf = append(e.buf, byte(RPNConst))
	e.buf = binary.LittleEndian.AppendUint32(e.buf, uint32(value))
	return e
}

// Sym appends a push of the value of the symbol with the given object local index.
func (e *Expr) Sym(id uint32) *Expr {
	e.buf = append(e.buf, byte(RPNSym))
	e.buf = binary.LittleEndian.AppendUint32(e.buf, id)
	return e
}

// PC appends a push of the current address.
func (e *Expr) PC() *Expr {
	return e.Sym(NoID)
}

// BankSym appends a query of the bank of the symbol with the given index.
func (e *Expr) BankSym(id uint32) *Expr {
	e.buf = append(e.buf, byte(RPNBankSym))
	e.buf = binary.LittleEndian.AppendUint32(e.buf, id)
	return e
}

// Section appends a section query instruction that takes a section name operand.
func (e *Expr) Section(op Opcode, name string) *Expr {
	e.buf = append(e.buf, byte(op))
	e.buf = append(e.buf, name...)
	e.buf = append(e.buf, 0)
	return e
}

// Range appends an inclusive range check of the top of stack value.
func (e *Expr) Range(low, high int32) *Expr {
	e.buf = append(e.buf, byte(RPNRange))
	e.buf = binary.LittleEndian.AppendUint32(e.buf, uint32(low))
	e.buf = binary.LittleEndian.AppendUint32(e.buf, uint32(high))
	return e
}

// Bytes returns the encoded bytecode.
func (e *Expr) Bytes() []byte {
	return e.buf
}
