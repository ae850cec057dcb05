// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2023-2026 Nicholas R. Perez

package script

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
)

// Opcode is a single bytecode instruction.
type Opcode byte

// Stack and constants
const (
	OpNop       Opcode = 0x00 // no operation
	OpPop       Opcode = 0x01 // discard top of stack
	OpPushNull  Opcode = 0x10 // push no value
	OpPushTrue  Opcode = 0x11 // push byte 1
	OpPushFalse Opcode = 0x12 // push byte 0
	OpPushInt   Opcode = 0x13 // push int (32-bit operand)
	OpPushFloat Opcode = 0x14 // push float (32-bit IEEE operand)
	OpPushTerm  Opcode = 0x15 // push object reference (32-bit term index)
)

// Variables
const (
	OpLoad      Opcode = 0x20 // push copy of resolved dependency (32-bit index)
	OpLoadLocal Opcode = 0x21 // push copy of this block's output (32-bit index)
	OpStore     Opcode = 0x22 // pop into output slot (32-bit index)
)

// Operators
const (
	OpAdd Opcode = 0x30
	OpSub Opcode = 0x31
	OpMul Opcode = 0x32
	OpDiv Opcode = 0x33
	OpPow Opcode = 0x34
	OpMod Opcode = 0x35
	OpEq  Opcode = 0x36
	OpNe  Opcode = 0x37
	OpLt  Opcode = 0x38
	OpLe  Opcode = 0x39
	OpGt  Opcode = 0x3A
	OpGe  Opcode = 0x3B
	OpAnd Opcode = 0x3C
	OpOr  Opcode = 0x3D
	OpNot Opcode = 0x3E
	OpNeg Opcode = 0x3F

	OpArray Opcode = 0x40 // pop n items into an array term (32-bit count)
)

// Control
const (
	OpJump   Opcode = 0x50 // set every live group's next block (32-bit block id)
	OpInvoke Opcode = 0x51 // call instruction term (32-bit term, 32-bit argument)
)

var opNames = map[Opcode]string{
	OpNop: "NOP", OpPop: "POP",
	OpPushNull: "PUSH_NULL", OpPushTrue: "PUSH_TRUE", OpPushFalse: "PUSH_FALSE",
	OpPushInt: "PUSH_INT", OpPushFloat: "PUSH_FLOAT", OpPushTerm: "PUSH_TERM",
	OpLoad: "LOAD", OpLoadLocal: "LOAD_LOCAL", OpStore: "STORE",
	OpAdd: "ADD", OpSub: "SUB", OpMul: "MUL", OpDiv: "DIV", OpPow: "POW", OpMod: "MOD",
	OpEq: "EQ", OpNe: "NE", OpLt: "LT", OpLe: "LE", OpGt: "GT", OpGe: "GE",
	OpAnd: "AND", OpOr: "OR", OpNot: "NOT", OpNeg: "NEG",
	OpArray: "ARRAY", OpJump: "JUMP", OpInvoke: "INVOKE",
}

func (op Opcode) String() string {
	if name, ok := opNames[op]; ok {
		return name
	}
	return fmt.Sprintf("OP_%02X", byte(op))
}

// Operands returns how many 32-bit operands follow the opcode.
func (op Opcode) Operands() int {
	switch op {
	case OpPushInt, OpPushFloat, OpPushTerm, OpLoad, OpLoadLocal, OpStore, OpArray, OpJump:
		return 1
	case OpInvoke:
		return 2
	}
	return 0
}

// ErrTruncated is returned when an instruction's operands run past the end
// of its program.
var ErrTruncated = errors.New("truncated instruction")

// Instr is one decoded instruction.
type Instr struct {
	Op Opcode
	A  uint32
	B  uint32
}

// Float returns operand A as a float.
func (in Instr) Float() float32 { return math.Float32frombits(in.A) }

// Decode reads the instruction at pc and returns it with the offset of the
// next instruction. Unknown opcodes decode with no operands; rejecting them
// is up to the interpreter.
func Decode(code []byte, pc int) (Instr, int, error) {
	if pc >= len(code) {
		return Instr{}, pc, fmt.Errorf("pc %d: %w", pc, ErrTruncated)
	}
	in := Instr{Op: Opcode(code[pc])}
	next := pc + 1 + 4*in.Op.Operands()
	if next > len(code) {
		return in, pc, fmt.Errorf("%s at %d: %w", in.Op, pc, ErrTruncated)
	}
	if in.Op.Operands() >= 1 {
		in.A = binary.LittleEndian.Uint32(code[pc+1:])
	}
	if in.Op.Operands() >= 2 {
		in.B = binary.LittleEndian.Uint32(code[pc+5:])
	}
	return in, next, nil
}

// Emitter accumulates the bytecode of one mutation.
type Emitter struct {
	buf []byte
}

// Op appends an opcode and its operands.
func (e *Emitter) Op(op Opcode, operands ...uint32) {
	e.buf = append(e.buf, byte(op))
	for _, v := range operands {
		e.buf = binary.LittleEndian.AppendUint32(e.buf, v)
	}
}

// Bytes returns the emitted code.
func (e *Emitter) Bytes() []byte { return e.buf }

// Disassemble renders a block's mutations as text, one instruction per line.
func (s *Store) Disassemble(id BlockID) string {
	b, ok := s.Block(id)
	if !ok {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "block %d (doc %d, root %d)", id, b.Document, b.Root)
	if b.Next != NoBlock {
		fmt.Fprintf(&sb, " -> %d", b.Next)
	}
	sb.WriteString("\n")
	if deps := s.Dependencies(id); len(deps) > 0 {
		fmt.Fprintf(&sb, "  deps: %s\n", strings.Join(deps, ", "))
	}
	for _, m := range s.Mutations(id) {
		name := m.Name
		if name == "" {
			name = "_"
		}
		fmt.Fprintf(&sb, "  %s:\n", name)
		code := s.Program(m.Code)
		for pc := 0; pc < len(code); {
			in, next, err := Decode(code, pc)
			if err != nil {
				fmt.Fprintf(&sb, "    %04d %v\n", pc, err)
				break
			}
			fmt.Fprintf(&sb, "    %04d %s", pc, in.Op)
			switch in.Op.Operands() {
			case 1:
				if in.Op == OpPushFloat {
					fmt.Fprintf(&sb, " %g", in.Float())
				} else if in.Op == OpPushInt {
					fmt.Fprintf(&sb, " %d", int32(in.A))
				} else {
					fmt.Fprintf(&sb, " %d", in.A)
				}
			case 2:
				fmt.Fprintf(&sb, " %d %d", in.A, in.B)
			}
			if in.Op == OpPushTerm || in.Op == OpInvoke {
				if t, ok := s.Term(in.A); ok {
					fmt.Fprintf(&sb, " ; %v", t)
				}
			}
			sb.WriteString("\n")
			pc = next
		}
	}
	return sb.String()
}
