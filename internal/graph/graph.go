// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2023-2026 Nicholas R. Perez

// Package graph implements the evaluation graph: reference-counted,
// structurally shared evaluation-stack nodes and the memoized block
// evaluations they record.
//
// A stack node is one step of an object's executed-block history. Nodes are
// interned on (previous node, evaluation), so objects that executed the same
// blocks with the same outputs share one chain regardless of the order they
// were evaluated in. Evaluations are interned on (block, output bytes).
package graph

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"nickandperla.net/herd/internal/script"
	"nickandperla.net/herd/internal/value"
)

// StackID identifies an evaluation-stack node.
type StackID uint32

// NoStack is the empty history of an unevaluated object.
const NoStack StackID = math.MaxUint32

// EvalID identifies a memoized block evaluation.
type EvalID uint32

// ErrNotLive is returned when a released or never-allocated id is used.
var ErrNotLive = errors.New("graph entry is not live")

// Node is one link of an evaluation-stack chain.
type Node struct {
	Prev StackID
	Eval EvalID
	Refs int
}

// Evaluation records that a block executed with exactly these outputs.
type Evaluation struct {
	Block   script.BlockID
	Outputs []value.StackItem
	Refs    int

	key string
}

type nodeKey struct {
	prev StackID
	eval EvalID
}

// Graph owns stack nodes and evaluations. Outputs of an evaluation are arena
// slots owned by the evaluation and released when it is freed.
type Graph struct {
	arena *value.Arena
	store *script.Store

	nodes     []Node
	nodeLive  []bool
	freeNodes []StackID
	nodeIndex map[nodeKey]StackID

	evals     []Evaluation
	evalLive  []bool
	freeEvals []EvalID
	memo      map[string]EvalID

	hits int
}

// New creates an empty graph over an arena and the store whose blocks the
// evaluations refer to.
func New(arena *value.Arena, store *script.Store) *Graph {
	return &Graph{
		arena:     arena,
		store:     store,
		nodeIndex: make(map[nodeKey]StackID),
		memo:      make(map[string]EvalID),
	}
}

// Live returns the number of live nodes and live evaluations.
func (g *Graph) Live() (nodes, evals int) {
	return len(g.nodeIndex), len(g.memo)
}

// Hits returns how many times Intern reused an existing evaluation.
func (g *Graph) Hits() int { return g.hits }

// Intern records the outputs of a block execution, taking ownership of the
// output slots. If an evaluation of the same block with byte-identical
// outputs exists, the new slots are released and the existing evaluation is
// returned. The caller holds one reference to the result.
func (g *Graph) Intern(block script.BlockID, outputs []value.StackItem) (EvalID, bool, error) {
	b := binary.LittleEndian.AppendUint32(nil, uint32(block))
	b, err := g.arena.Key(b, outputs)
	if err != nil {
		return 0, false, fmt.Errorf("intern block %d: %w", block, err)
	}
	key := string(b)
	if id, ok := g.memo[key]; ok {
		if err := g.arena.ReleaseAll(outputs); err != nil {
			return 0, false, fmt.Errorf("intern block %d: %w", block, err)
		}
		g.evals[id].Refs++
		g.hits++
		return id, true, nil
	}
	ev := Evaluation{Block: block, Outputs: outputs, Refs: 1, key: key}
	var id EvalID
	if n := len(g.freeEvals); n > 0 {
		id = g.freeEvals[n-1]
		g.freeEvals = g.freeEvals[:n-1]
		g.evals[id] = ev
		g.evalLive[id] = true
	} else {
		id = EvalID(len(g.evals))
		g.evals = append(g.evals, ev)
		g.evalLive = append(g.evalLive, true)
	}
	g.memo[key] = id
	return id, false, nil
}

// Evaluation returns a live evaluation.
func (g *Graph) Evaluation(id EvalID) (Evaluation, error) {
	if int(id) >= len(g.evals) || !g.evalLive[id] {
		return Evaluation{}, fmt.Errorf("evaluation %d: %w", id, ErrNotLive)
	}
	return g.evals[id], nil
}

// ReleaseEvaluation drops one reference to an evaluation, freeing it and its
// output slots at zero.
func (g *Graph) ReleaseEvaluation(id EvalID) error {
	if int(id) >= len(g.evals) || !g.evalLive[id] {
		return fmt.Errorf("release evaluation %d: %w", id, ErrNotLive)
	}
	ev := &g.evals[id]
	ev.Refs--
	if ev.Refs > 0 {
		return nil
	}
	outputs := ev.Outputs
	delete(g.memo, ev.key)
	*ev = Evaluation{}
	g.evalLive[id] = false
	g.freeEvals = append(g.freeEvals, id)
	return g.arena.ReleaseAll(outputs)
}

// Push returns the node recording eval on top of prev, creating it if no
// such node exists. The caller holds one reference to the result; a new node
// holds its own references to prev and eval.
func (g *Graph) Push(prev StackID, eval EvalID) (StackID, error) {
	if int(eval) >= len(g.evals) || !g.evalLive[eval] {
		return NoStack, fmt.Errorf("push evaluation %d: %w", eval, ErrNotLive)
	}
	k := nodeKey{prev: prev, eval: eval}
	if id, ok := g.nodeIndex[k]; ok {
		g.nodes[id].Refs++
		return id, nil
	}
	if prev != NoStack {
		if err := g.Retain(prev); err != nil {
			return NoStack, err
		}
	}
	g.evals[eval].Refs++
	n := Node{Prev: prev, Eval: eval, Refs: 1}
	var id StackID
	if c := len(g.freeNodes); c > 0 {
		id = g.freeNodes[c-1]
		g.freeNodes = g.freeNodes[:c-1]
		g.nodes[id] = n
		g.nodeLive[id] = true
	} else {
		id = StackID(len(g.nodes))
		g.nodes = append(g.nodes, n)
		g.nodeLive = append(g.nodeLive, true)
	}
	g.nodeIndex[k] = id
	return id, nil
}

// Node returns a live node.
func (g *Graph) Node(id StackID) (Node, error) {
	if int(id) >= len(g.nodes) || !g.nodeLive[id] {
		return Node{}, fmt.Errorf("node %d: %w", id, ErrNotLive)
	}
	return g.nodes[id], nil
}

// Retain adds a reference to a node. Retaining NoStack is a no-op.
func (g *Graph) Retain(id StackID) error {
	if id == NoStack {
		return nil
	}
	if int(id) >= len(g.nodes) || !g.nodeLive[id] {
		return fmt.Errorf("retain node %d: %w", id, ErrNotLive)
	}
	g.nodes[id].Refs++
	return nil
}

// Release drops a reference to a node. A node reaching zero is freed, its
// evaluation released, and the release continues with its predecessor.
// Releasing NoStack is a no-op.
func (g *Graph) Release(id StackID) error {
	for id != NoStack {
		if int(id) >= len(g.nodes) || !g.nodeLive[id] {
			return fmt.Errorf("release node %d: %w", id, ErrNotLive)
		}
		n := &g.nodes[id]
		n.Refs--
		if n.Refs > 0 {
			return nil
		}
		prev, eval := n.Prev, n.Eval
		n.Prev = NoStack
		delete(g.nodeIndex, nodeKey{prev: prev, eval: eval})
		g.nodeLive[id] = false
		g.freeNodes = append(g.freeNodes, id)
		if err := g.ReleaseEvaluation(eval); err != nil {
			return err
		}
		id = prev
	}
	return nil
}

// Block returns the block recorded by a node, or NoBlock for NoStack.
func (g *Graph) Block(id StackID) (script.BlockID, error) {
	if id == NoStack {
		return script.NoBlock, nil
	}
	n, err := g.Node(id)
	if err != nil {
		return script.NoBlock, err
	}
	return g.evals[n.Eval].Block, nil
}

// Walk visits the chain from id to its oldest node until fn returns false.
func (g *Graph) Walk(id StackID, fn func(StackID, Evaluation) bool) error {
	for id != NoStack {
		n, err := g.Node(id)
		if err != nil {
			return err
		}
		if !fn(id, g.evals[n.Eval]) {
			return nil
		}
		id = n.Prev
	}
	return nil
}

// Lookup finds the most recent output named name in the chain starting at
// id. The returned item is owned by the graph and must not be released.
func (g *Graph) Lookup(id StackID, name string) (value.StackItem, bool, error) {
	item, found := value.NoValue, false
	err := g.Walk(id, func(_ StackID, ev Evaluation) bool {
		if i, ok := g.store.MutationIndex(ev.Block, name); ok && i < len(ev.Outputs) {
			item, found = ev.Outputs[i], true
			return false
		}
		return true
	})
	return item, found, err
}
