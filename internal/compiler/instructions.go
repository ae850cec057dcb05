// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2023-2026 Nicholas R. Perez

package compiler

import (
	"errors"
	"fmt"

	"nickandperla.net/herd/internal/script"
)

// ClassService is the service name the class instruction looks up.
const ClassService = "classes"

// ErrNoCondition is returned when the if instruction finds a group with an
// empty operand stack.
var ErrNoCondition = errors.New("if: no condition value")

// If routes each group whose condition is truthy to the block given as the
// argument. Other groups keep whatever next block they already have.
type If struct{}

func (If) Invoke(ctx script.Context, arg uint32) error {
	for i := 0; i < ctx.Len(); i++ {
		it, ok := ctx.Pop(i)
		if !ok {
			return ErrNoCondition
		}
		v, err := ctx.Arena().Load(it)
		if err != nil {
			return err
		}
		if err := ctx.Arena().Release(it); err != nil {
			return err
		}
		if v.Truthy() {
			ctx.Jump(i, script.BlockID(arg))
		}
	}
	return nil
}

// ClassRecorder is the host registry the class instruction reports to.
type ClassRecorder interface {
	RecordClass(id script.ClassID, name string, roots []script.BlockID)
}

// Class reports a class declaration to the host's ClassRecorder, if the host
// provides one.
type Class struct{}

func (Class) Invoke(ctx script.Context, arg uint32) error {
	svc, ok := ctx.Service(ClassService)
	if !ok {
		return nil
	}
	rec, ok := svc.(ClassRecorder)
	if !ok {
		return fmt.Errorf("service %q is %T, not a class recorder", ClassService, svc)
	}
	id := script.ClassID(arg)
	c, ok := ctx.Store().Class(id)
	if !ok {
		return fmt.Errorf("class %d: %w", id, script.ErrNoSuchClass)
	}
	rec.RecordClass(id, c.Name, ctx.Store().ClassRoots(id))
	return nil
}
