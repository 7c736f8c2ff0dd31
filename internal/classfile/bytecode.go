package classfile

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// Opcodes used by the decoder and the rewriter.
const (
	OpNop             byte = 0x00
	OpAconstNull      byte = 0x01
	OpIconstM1        byte = 0x02
	OpIconst0         byte = 0x03
	OpLconst0         byte = 0x09
	OpFconst0         byte = 0x0b
	OpDconst0         byte = 0x0e
	OpBipush          byte = 0x10
	OpSipush          byte = 0x11
	OpLdc             byte = 0x12
	OpLdcW            byte = 0x13
	OpIload           byte = 0x15
	OpLload           byte = 0x16
	OpFload           byte = 0x17
	OpDload           byte = 0x18
	OpAload           byte = 0x19
	OpIload2          byte = 0x1c
	OpAload0          byte = 0x2a
	OpAload1          byte = 0x2b
	OpAastore         byte = 0x53
	OpPop             byte = 0x57
	OpDup             byte = 0x59
	OpTableswitch     byte = 0xaa
	OpLookupswitch    byte = 0xab
	OpIreturn         byte = 0xac
	OpLreturn         byte = 0xad
	OpFreturn         byte = 0xae
	OpDreturn         byte = 0xaf
	OpAreturn         byte = 0xb0
	OpReturn          byte = 0xb1
	OpInvokevirtual   byte = 0xb6
	OpInvokespecial   byte = 0xb7
	OpInvokestatic    byte = 0xb8
	OpInvokeinterface byte = 0xb9
	OpAnewarray       byte = 0xbd
	OpCheckcast       byte = 0xc0
	OpWide            byte = 0xc4
)

// ErrBadBytecode reports an undecodable instruction stream.
var ErrBadBytecode = errors.New("classfile: malformed bytecode")

// opLength holds the fixed encoded length of each opcode; 0 marks variable
// length (switches, wide) and -1 marks an invalid opcode.
var opLength = func() [256]int8 {
	var t [256]int8
	for i := range t {
		t[i] = -1
	}
	set := func(lo, hi int, n int8) {
		for op := lo; op <= hi; op++ {
			t[op] = n
		}
	}
	set(0x00, 0x0f, 1) // nop .. dconst_1
	t[0x10] = 2        // bipush
	t[0x11] = 3        // sipush
	t[0x12] = 2        // ldc
	set(0x13, 0x14, 3) // ldc_w, ldc2_w
	set(0x15, 0x19, 2) // loads
	set(0x1a, 0x35, 1) // load_n, array loads
	set(0x36, 0x3a, 2) // stores
	set(0x3b, 0x83, 1) // store_n .. lxor
	t[0x84] = 3        // iinc
	set(0x85, 0x98, 1) // conversions, compares
	set(0x99, 0xa8, 3) // branches, goto, jsr
	t[0xa9] = 2        // ret
	t[0xaa] = 0        // tableswitch
	t[0xab] = 0        // lookupswitch
	set(0xac, 0xb1, 1) // returns
	set(0xb2, 0xb8, 3) // field access, invokevirtual/special/static
	t[0xb9] = 5        // invokeinterface
	t[0xba] = 5        // invokedynamic
	t[0xbb] = 3        // new
	t[0xbc] = 2        // newarray
	t[0xbd] = 3        // anewarray
	set(0xbe, 0xbf, 1) // arraylength, athrow
	set(0xc0, 0xc1, 3) // checkcast, instanceof
	set(0xc2, 0xc3, 1) // monitorenter, monitorexit
	t[0xc4] = 0        // wide
	t[0xc5] = 4        // multianewarray
	set(0xc6, 0xc7, 3) // ifnull, ifnonnull
	set(0xc8, 0xc9, 5) // goto_w, jsr_w
	return t
}()

// Inst is one decoded instruction.
type Inst struct {
	Offset int
	Op     byte
	Size   int
}

// Operand16 returns the u2 operand that follows the opcode.
func (i Inst) Operand16(code []byte) uint16 {
	return binary.BigEndian.Uint16(code[i.Offset+1:])
}

// Options controls decoding behavior.
type Options struct {
	MaxSteps int // maximum instructions to decode; 0 = 1M
}

const defaultMaxSteps = 1_000_000

func (o Options) effectiveMax() int {
	if o.MaxSteps > 0 {
		return o.MaxSteps
	}
	return defaultMaxSteps
}

// Decode splits a method body into instructions.
func Decode(code []byte, opts Options) ([]Inst, error) {
	maxSteps := opts.effectiveMax()
	var insts []Inst
	for off := 0; off < len(code); {
		if len(insts) >= maxSteps {
			return insts, errors.Wrapf(ErrBadBytecode, "more than %d instructions", maxSteps)
		}
		n, err := instLength(code, off)
		if err != nil {
			return insts, err
		}
		if off+n > len(code) {
			return insts, errors.Wrapf(ErrBadBytecode, "truncated instruction 0x%02x at %d", code[off], off)
		}
		insts = append(insts, Inst{Offset: off, Op: code[off], Size: n})
		off += n
	}
	return insts, nil
}

func instLength(code []byte, off int) (int, error) {
	op := code[off]
	switch n := opLength[op]; {
	case n > 0:
		return int(n), nil
	case n < 0:
		return 0, errors.Wrapf(ErrBadBytecode, "invalid opcode 0x%02x at %d", op, off)
	}
	switch op {
	case OpWide:
		if off+1 >= len(code) {
			return 0, errors.Wrapf(ErrBadBytecode, "truncated wide at %d", off)
		}
		if code[off+1] == 0x84 { // iinc
			return 6, nil
		}
		return 4, nil
	case OpTableswitch, OpLookupswitch:
		// Operands start at the next 4-byte boundary relative to the code start.
		pad := (4 - (off+1)%4) % 4
		base := off + 1 + pad
		if op == OpTableswitch {
			if base+12 > len(code) {
				return 0, errors.Wrapf(ErrBadBytecode, "truncated tableswitch at %d", off)
			}
			low := int32(binary.BigEndian.Uint32(code[base+4:]))
			high := int32(binary.BigEndian.Uint32(code[base+8:]))
			if high < low {
				return 0, errors.Wrapf(ErrBadBytecode, "tableswitch high < low at %d", off)
			}
			return 1 + pad + 12 + int(int64(high)-int64(low)+1)*4, nil
		}
		if base+8 > len(code) {
			return 0, errors.Wrapf(ErrBadBytecode, "truncated lookupswitch at %d", off)
		}
		npairs := int32(binary.BigEndian.Uint32(code[base+4:]))
		if npairs < 0 {
			return 0, errors.Wrapf(ErrBadBytecode, "negative lookupswitch pairs at %d", off)
		}
		return 1 + pad + 8 + int(npairs)*8, nil
	}
	return 0, errors.Wrapf(ErrBadBytecode, "opcode 0x%02x at %d", op, off)
}

// Assembler builds straight-line method bodies.
type Assembler struct {
	pool *Pool
	w    Writer
	err  error
}

// NewAssembler returns an assembler that adds constants to p.
func NewAssembler(p *Pool) *Assembler {
	return &Assembler{pool: p}
}

// Err returns the first error encountered while assembling.
func (a *Assembler) Err() error { return a.err }

// Bytes returns the assembled bytecode.
func (a *Assembler) Bytes() []byte { return a.w.Bytes() }

// Op emits a single-byte instruction.
func (a *Assembler) Op(op byte) { a.w.U8(op) }

// PushInt emits the shortest constant push for v.
func (a *Assembler) PushInt(v int) {
	switch {
	case v >= -1 && v <= 5:
		a.w.U8(OpIconst0 + byte(v))
	case v >= -128 && v <= 127:
		a.w.U8(OpBipush)
		a.w.U8(byte(int8(v)))
	case v >= -32768 && v <= 32767:
		a.w.U8(OpSipush)
		a.w.U16(uint16(int16(v)))
	default:
		a.fail(fmt.Errorf("constant %d out of sipush range", v))
	}
}

// LoadString emits ldc_w of a String constant.
func (a *Assembler) LoadString(s string) {
	idx, err := a.pool.AddString(s)
	if err != nil {
		a.fail(err)
		return
	}
	a.w.U8(OpLdcW)
	a.w.U16(idx)
}

// Local emits a local-variable instruction (load family), widening when needed.
func (a *Assembler) Local(op byte, slot int) {
	if slot <= 0xff {
		a.w.U8(op)
		a.w.U8(byte(slot))
		return
	}
	a.w.U8(OpWide)
	a.w.U8(op)
	a.w.U16(uint16(slot))
}

// Class emits an instruction taking a Class constant (anewarray, checkcast).
func (a *Assembler) Class(op byte, name string) {
	idx, err := a.pool.AddClass(name)
	if err != nil {
		a.fail(err)
		return
	}
	a.w.U8(op)
	a.w.U16(idx)
}

// Invoke emits invokestatic, invokespecial or invokevirtual on a Methodref.
func (a *Assembler) Invoke(op byte, owner, name, desc string) {
	idx, err := a.pool.AddMethodref(owner, name, desc)
	if err != nil {
		a.fail(err)
		return
	}
	a.w.U8(op)
	a.w.U16(idx)
}

func (a *Assembler) fail(err error) {
	if a.err == nil {
		a.err = err
	}
}
