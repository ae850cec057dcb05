// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2023-2026 Nicholas R. Perez

package eval

import (
	"fmt"

	"nickandperla.net/herd/internal/graph"
	"nickandperla.net/herd/internal/script"
	"nickandperla.net/herd/internal/value"
)

// group is the set of objects sharing one history head and class during a
// pass. The group holds one reference to head.
type group struct {
	head    graph.StackID
	proto   script.ClassID
	next    script.BlockID
	objects []ObjectID

	inputs  []value.StackItem // borrowed from the graph
	outputs []value.StackItem
	written []bool
	stack   []value.StackItem
	failed  bool
}

type groupKey struct {
	stack graph.StackID
	proto script.ClassID
}

type mergeKey struct {
	head  graph.StackID
	proto script.ClassID
	next  script.BlockID
}

// pass is the transient state of one Resolve call.
type pass struct {
	e       *Evaluator
	groups  []*group
	lineage map[script.ClassID]map[script.ClassID]bool
}

// Resolve advances every dirty object through all blocks it can run, then
// writes the resulting history heads back. Script failures are logged and
// counted; only broken runtime invariants and a runaway step count are
// returned as errors.
func (e *Evaluator) Resolve() error {
	e.stats.Passes++
	if len(e.dirty) == 0 {
		return nil
	}
	p := &pass{e: e, lineage: make(map[script.ClassID]map[script.ClassID]bool)}
	if err := p.bucket(); err != nil {
		return err
	}
	err := p.run()
	if ferr := p.finish(); err == nil {
		err = ferr
	}
	return err
}

// bucket turns the dirty list into groups keyed by (history head, class).
func (p *pass) bucket() error {
	e := p.e
	index := make(map[groupKey]*group)
	for _, id := range e.dirty {
		o := &e.objects[id]
		if !o.live || !o.dirty {
			continue
		}
		o.dirty = false
		k := groupKey{stack: o.stack, proto: o.proto}
		g, ok := index[k]
		if !ok {
			if err := e.graph.Retain(o.stack); err != nil {
				return err
			}
			g = &group{head: o.stack, proto: o.proto, next: script.NoBlock}
			index[k] = g
			p.groups = append(p.groups, g)
		}
		if err := e.graph.Release(o.stack); err != nil {
			return err
		}
		o.stack = graph.NoStack
		g.objects = append(g.objects, id)
	}
	e.dirty = e.dirty[:0]
	return nil
}

func (p *pass) run() error {
	e := p.e
	for steps := 0; ; steps++ {
		if steps >= e.stepLimit {
			return fmt.Errorf("after %d steps: %w", steps, ErrRunaway)
		}
		block := script.NoBlock
		pending := make([]script.BlockID, len(p.groups))
		for i, g := range p.groups {
			b, err := p.pending(g)
			if err != nil {
				return err
			}
			pending[i] = b
			if b < block {
				block = b
			}
		}
		if block == script.NoBlock {
			return nil
		}
		var selected []*group
		for i, g := range p.groups {
			if pending[i] == block {
				selected = append(selected, g)
			}
		}
		if err := p.step(block, selected); err != nil {
			return err
		}
		if err := p.merge(); err != nil {
			return err
		}
	}
}

// pending returns the block a group runs next: an override left by the last
// step, else the successor of the last block, else the next applicable root.
func (p *pass) pending(g *group) (script.BlockID, error) {
	if g.next != script.NoBlock {
		return g.next, nil
	}
	last, err := p.e.graph.Block(g.head)
	if err != nil {
		return script.NoBlock, err
	}
	if last != script.NoBlock {
		if b, ok := p.e.store.Block(last); ok && b.Next != script.NoBlock {
			return b.Next, nil
		}
	}
	return p.nextRoot(g.proto, last), nil
}

// nextRoot finds the first root registered after the root chain last belongs
// to whose class applies to proto.
func (p *pass) nextRoot(proto script.ClassID, last script.BlockID) script.BlockID {
	store := p.e.store
	start := 0
	if last != script.NoBlock {
		b, _ := store.Block(last)
		i, ok := store.RootIndex(b.Root)
		if !ok {
			return script.NoBlock
		}
		start = i + 1
	}
	lineage, ok := p.lineage[proto]
	if !ok {
		lineage = store.Lineage(proto)
		p.lineage[proto] = lineage
	}
	roots := store.Roots()
	for _, r := range roots[min(start, len(roots)):] {
		if lineage[r.Class] {
			return r.Block
		}
	}
	return script.NoBlock
}

// step executes block once for every selected group and pushes the memoized
// evaluation onto each group's history.
func (p *pass) step(block script.BlockID, groups []*group) error {
	e := p.e
	store := e.store
	e.stats.Executions++
	e.stats.GroupSteps += len(groups)

	deps := store.Dependencies(block)
	muts := store.Mutations(block)
	for _, g := range groups {
		g.next = script.NoBlock
		g.failed = false
		g.inputs = g.inputs[:0]
		for _, name := range deps {
			item, ok, err := e.graph.Lookup(g.head, name)
			if err != nil {
				return err
			}
			if !ok {
				item = value.NoValue
			}
			g.inputs = append(g.inputs, item)
		}
		g.outputs = make([]value.StackItem, len(muts))
		for i := range g.outputs {
			g.outputs[i] = value.NoValue
		}
		g.written = make([]bool, len(muts))
	}

	inv := &invocation{e: e, groups: groups}
	for _, m := range muts {
		if len(inv.groups) == 0 {
			break
		}
		err := inv.exec(store.Program(m.Code))
		for _, g := range groups {
			if rerr := e.arena.ReleaseAll(g.stack); rerr != nil && err == nil {
				err = rerr
			}
			g.stack = g.stack[:0]
		}
		if err != nil {
			if invariant(err) {
				return fmt.Errorf("block %d mutation %q: %w", block, m.Name, err)
			}
			e.log.Warningf("block %d mutation %q: %v", block, m.Name, err)
			e.stats.Failures += len(inv.groups)
			break
		}
		inv.dropFailed(block, m.Name)
	}

	for _, g := range groups {
		ev, _, err := e.graph.Intern(block, g.outputs)
		g.outputs = nil
		if err != nil {
			return err
		}
		head, err := e.graph.Push(g.head, ev)
		if err != nil {
			return err
		}
		if err := e.graph.ReleaseEvaluation(ev); err != nil {
			return err
		}
		if err := e.graph.Release(g.head); err != nil {
			return err
		}
		g.head = head
		g.inputs = g.inputs[:0]
	}
	return nil
}

// merge joins groups that converged on the same head, class and override.
// Both groups hold a reference to the shared head, so dropping one never
// frees it; a release error is an invariant violation.
func (p *pass) merge() error {
	index := make(map[mergeKey]*group, len(p.groups))
	kept := p.groups[:0]
	var first error
	for _, g := range p.groups {
		k := mergeKey{head: g.head, proto: g.proto, next: g.next}
		if into, ok := index[k]; ok {
			into.objects = append(into.objects, g.objects...)
			if err := p.e.graph.Release(g.head); err != nil && first == nil {
				first = fmt.Errorf("merge at %d: %w", g.head, err)
			}
			continue
		}
		index[k] = g
		kept = append(kept, g)
	}
	clear(p.groups[len(kept):])
	p.groups = kept
	return first
}

// finish writes each group's head back to its objects and drops the group
// references.
func (p *pass) finish() error {
	e := p.e
	var first error
	for _, g := range p.groups {
		for _, id := range g.objects {
			if err := e.graph.Retain(g.head); err != nil {
				if first == nil {
					first = err
				}
				continue
			}
			e.objects[id].stack = g.head
		}
		if err := e.graph.Release(g.head); err != nil && first == nil {
			first = err
		}
	}
	p.groups = nil
	return first
}
