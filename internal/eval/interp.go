// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2023-2026 Nicholas R. Perez

package eval

import (
	"fmt"

	"nickandperla.net/herd/internal/script"
	"nickandperla.net/herd/internal/value"
)

// invocation runs one block's bytecode for a set of groups in lockstep. It
// is the context run-time instructions see.
type invocation struct {
	e      *Evaluator
	groups []*group
}

var _ script.Context = (*invocation)(nil)

func (inv *invocation) Len() int { return len(inv.groups) }

func (inv *invocation) Pop(i int) (value.StackItem, bool) {
	g := inv.groups[i]
	n := len(g.stack)
	if n == 0 {
		return value.NoValue, false
	}
	it := g.stack[n-1]
	g.stack = g.stack[:n-1]
	return it, true
}

func (inv *invocation) Push(i int, it value.StackItem) {
	g := inv.groups[i]
	g.stack = append(g.stack, it)
}

func (inv *invocation) Arena() *value.Arena { return inv.e.arena }

func (inv *invocation) Jump(i int, block script.BlockID) { inv.groups[i].next = block }

func (inv *invocation) Service(name string) (any, bool) {
	if inv.e.services == nil {
		return nil, false
	}
	return inv.e.services(name)
}

func (inv *invocation) Store() *script.Store { return inv.e.store }

// dropFailed removes groups that hit a script failure; they skip the rest of
// the block.
func (inv *invocation) dropFailed(block script.BlockID, mutation string) {
	kept := inv.groups[:0:0]
	for _, g := range inv.groups {
		if g.failed {
			inv.e.stats.Failures++
			continue
		}
		kept = append(kept, g)
	}
	if len(kept) < len(inv.groups) {
		inv.e.log.Warningf("block %d mutation %q: %d group(s) abandoned the block", block, mutation, len(inv.groups)-len(kept))
	}
	inv.groups = kept
}

// fail marks a group as failed for a script error and passes invariant
// violations through.
func (inv *invocation) fail(g *group, err error) error {
	if invariant(err) {
		return err
	}
	inv.e.log.Debugf("group at %d: %v", g.head, err)
	g.failed = true
	return nil
}

// exec interprets one mutation's code.
func (inv *invocation) exec(code []byte) error {
	for pc := 0; pc < len(code); {
		in, next, err := script.Decode(code, pc)
		if err != nil {
			return err
		}
		pc = next
		switch in.Op {
		case script.OpNop:
		case script.OpJump:
			for _, g := range inv.groups {
				if !g.failed {
					g.next = script.BlockID(in.A)
				}
			}
		case script.OpInvoke:
			if err := inv.active().invoke(in.A, in.B); err != nil {
				return err
			}
		default:
			for _, g := range inv.groups {
				if g.failed {
					continue
				}
				if err := inv.apply(g, in); err != nil {
					if err := inv.fail(g, err); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

// active returns a view of the groups that have not failed.
func (inv *invocation) active() *invocation {
	for i, g := range inv.groups {
		if !g.failed {
			continue
		}
		view := &invocation{e: inv.e, groups: append([]*group(nil), inv.groups[:i]...)}
		for _, g := range inv.groups[i+1:] {
			if !g.failed {
				view.groups = append(view.groups, g)
			}
		}
		return view
	}
	return inv
}

func (inv *invocation) invoke(term, arg uint32) error {
	t, ok := inv.e.store.Term(term)
	if !ok {
		return fmt.Errorf("invoke term %d: %w", term, ErrBadOperand)
	}
	instr, ok := t.(script.Instruction)
	if !ok {
		return fmt.Errorf("invoke %T: %w", t, ErrNotInstruction)
	}
	return instr.Invoke(inv, arg)
}

func (inv *invocation) push(g *group, s value.Scalar) error {
	it, err := inv.e.arena.Store(s)
	if err != nil {
		return err
	}
	g.stack = append(g.stack, it)
	return nil
}

// pop removes the top item and returns its value, releasing the slot.
func (inv *invocation) pop(g *group) (value.Scalar, error) {
	n := len(g.stack)
	if n == 0 {
		return value.Null, ErrStackUnderflow
	}
	it := g.stack[n-1]
	g.stack = g.stack[:n-1]
	s, err := inv.e.arena.Load(it)
	if err != nil {
		return value.Null, err
	}
	return s, inv.e.arena.Release(it)
}

func (inv *invocation) pushCopy(g *group, items []value.StackItem, i uint32) error {
	if int(i) >= len(items) {
		return fmt.Errorf("slot %d of %d: %w", i, len(items), ErrBadOperand)
	}
	it, err := inv.e.arena.Copy(items[i])
	if err != nil {
		return err
	}
	g.stack = append(g.stack, it)
	return nil
}

// apply runs a per-group instruction.
func (inv *invocation) apply(g *group, in script.Instr) error {
	store := inv.e.store
	switch in.Op {
	case script.OpPop:
		_, err := inv.pop(g)
		return err
	case script.OpPushNull:
		return inv.push(g, value.Null)
	case script.OpPushTrue:
		return inv.push(g, value.Bool(true))
	case script.OpPushFalse:
		return inv.push(g, value.Bool(false))
	case script.OpPushInt:
		return inv.push(g, value.IntScalar(int32(in.A)))
	case script.OpPushFloat:
		return inv.push(g, value.FloatScalar(in.Float()))
	case script.OpPushTerm:
		return inv.push(g, value.ObjectScalar(in.A))
	case script.OpLoad:
		return inv.pushCopy(g, g.inputs, in.A)
	case script.OpLoadLocal:
		return inv.pushCopy(g, g.outputs, in.A)
	case script.OpStore:
		if int(in.A) >= len(g.outputs) {
			return fmt.Errorf("store %d of %d: %w", in.A, len(g.outputs), ErrBadOperand)
		}
		if g.written[in.A] {
			return fmt.Errorf("store %d: %w", in.A, ErrOutputWritten)
		}
		n := len(g.stack)
		if n == 0 {
			return ErrStackUnderflow
		}
		g.outputs[in.A] = g.stack[n-1]
		g.written[in.A] = true
		g.stack = g.stack[:n-1]
		return nil
	case script.OpNot, script.OpNeg:
		a, err := inv.pop(g)
		if err != nil {
			return err
		}
		r, err := unary(in.Op, a)
		if err != nil {
			return err
		}
		return inv.push(g, r)
	case script.OpArray:
		n := int(in.A)
		if n > len(g.stack) {
			return ErrStackUnderflow
		}
		arr := make(value.Array, n)
		for i := n - 1; i >= 0; i-- {
			s, err := inv.pop(g)
			if err != nil {
				return err
			}
			arr[i] = s
		}
		return inv.push(g, value.ObjectScalar(store.RequireTerm(arr)))
	}
	if in.Op >= script.OpAdd && in.Op <= script.OpOr {
		b, err := inv.pop(g)
		if err != nil {
			return err
		}
		a, err := inv.pop(g)
		if err != nil {
			return err
		}
		r, err := binary(store, in.Op, a, b)
		if err != nil {
			return err
		}
		return inv.push(g, r)
	}
	return fmt.Errorf("%s: %w", in.Op, ErrBadOpcode)
}
