// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2023-2026 Nicholas R. Perez

package script

import "nickandperla.net/herd/internal/value"

// Instruction is the run-time capability of a term: OpInvoke calls it once
// per execution with every live group of the running block.
type Instruction interface {
	Invoke(ctx Context, arg uint32) error
}

// Context is what a run-time instruction sees of the groups it runs for.
type Context interface {
	// Len returns the number of live groups.
	Len() int
	// Pop removes the top of a group's operand stack. The caller owns the
	// returned item and must release it.
	Pop(group int) (value.StackItem, bool)
	// Push puts an item on a group's operand stack, transferring ownership.
	Push(group int, it value.StackItem)
	// Arena returns the arena backing stack items.
	Arena() *value.Arena
	// Jump overrides the block a group runs next.
	Jump(group int, block BlockID)
	// Service looks up an optional host service by name.
	Service(name string) (any, bool)
	// Store returns the script artifact store.
	Store() *Store
}
