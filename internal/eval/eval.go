// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2023-2026 Nicholas R. Perez

// Package eval implements the batched evaluation runtime.
//
// Objects are bucketed by their position in the evaluation graph. Each
// bucket becomes a group that executes a block's bytecode once on behalf of
// all its objects; groups whose outputs converge share evaluations and
// stack nodes, so identical histories cost one execution per pass.
package eval

import (
	"errors"
	"fmt"
	"sort"

	"github.com/tliron/commonlog"

	"nickandperla.net/herd/internal/graph"
	"nickandperla.net/herd/internal/script"
	"nickandperla.net/herd/internal/value"
)

// ObjectID identifies a host object.
type ObjectID uint32

// ServiceLookup resolves optional host services for run-time instructions.
type ServiceLookup func(name string) (any, bool)

// Errors returned for host misuse.
var (
	ErrNoSuchObject = errors.New("no such object")
	ErrNoSuchClass  = errors.New("no such class")
	ErrRunaway      = errors.New("resolve exceeded its step limit")
)

// DefaultStepLimit bounds the scheduler steps of one Resolve call.
const DefaultStepLimit = 1 << 20

// Stats counts scheduler work since the evaluator was created.
type Stats struct {
	Passes     int // Resolve calls
	Executions int // block executions, one per selected block
	GroupSteps int // group advances, one per group per execution
	MemoHits   int // evaluations reused instead of created
	Failures   int // blocks cut short by an unsupported operation
}

type object struct {
	proto script.ClassID
	stack graph.StackID
	live  bool
	dirty bool
}

// Evaluator tracks objects and resolves them against a script store.
type Evaluator struct {
	store    *script.Store
	arena    *value.Arena
	graph    *graph.Graph
	services ServiceLookup
	log      commonlog.Logger

	objects     []object
	freeObjects []ObjectID
	dirty       []ObjectID

	stepLimit int
	stats     Stats
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithLogger sets the logger used for run-time script failures.
func WithLogger(log commonlog.Logger) Option {
	return func(e *Evaluator) { e.log = log }
}

// WithServices sets the host service lookup.
func WithServices(lookup ServiceLookup) Option {
	return func(e *Evaluator) { e.services = lookup }
}

// WithStepLimit bounds the number of scheduler steps per Resolve.
func WithStepLimit(n int) Option {
	return func(e *Evaluator) { e.stepLimit = n }
}

// New creates an Evaluator reading blocks from store.
func New(store *script.Store, opts ...Option) *Evaluator {
	arena := value.NewArena()
	e := &Evaluator{
		store:     store,
		arena:     arena,
		graph:     graph.New(arena, store),
		log:       commonlog.GetLogger("herd.eval"),
		stepLimit: DefaultStepLimit,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Arena returns the arena holding every live value.
func (e *Evaluator) Arena() *value.Arena { return e.arena }

// Graph returns the evaluation graph.
func (e *Evaluator) Graph() *graph.Graph { return e.graph }

// Store returns the script store.
func (e *Evaluator) Store() *script.Store { return e.store }

// Stats returns the work counters.
func (e *Evaluator) Stats() Stats {
	s := e.stats
	s.MemoHits = e.graph.Hits()
	return s
}

// AllocateObject creates an unevaluated object of the global class and marks
// it dirty.
func (e *Evaluator) AllocateObject() ObjectID {
	o := object{proto: script.Global, stack: graph.NoStack, live: true}
	var id ObjectID
	if n := len(e.freeObjects); n > 0 {
		id = e.freeObjects[n-1]
		e.freeObjects = e.freeObjects[:n-1]
		e.objects[id] = o
	} else {
		id = ObjectID(len(e.objects))
		e.objects = append(e.objects, o)
	}
	e.markDirty(id)
	return id
}

func (e *Evaluator) object(id ObjectID) (*object, error) {
	if int(id) >= len(e.objects) || !e.objects[id].live {
		return nil, fmt.Errorf("object %d: %w", id, ErrNoSuchObject)
	}
	return &e.objects[id], nil
}

func (e *Evaluator) markDirty(id ObjectID) {
	o := &e.objects[id]
	if o.dirty {
		return
	}
	o.dirty = true
	e.dirty = append(e.dirty, id)
}

// MarkDirty schedules an object for the next Resolve.
func (e *Evaluator) MarkDirty(id ObjectID) error {
	if _, err := e.object(id); err != nil {
		return err
	}
	e.markDirty(id)
	return nil
}

// SetPrototype sets an object's class and marks it dirty. Changing the class
// discards the object's history so it is evaluated from the first root.
func (e *Evaluator) SetPrototype(id ObjectID, proto script.ClassID) error {
	o, err := e.object(id)
	if err != nil {
		return err
	}
	if _, ok := e.store.Class(proto); !ok {
		return fmt.Errorf("prototype %d: %w", proto, ErrNoSuchClass)
	}
	if o.proto != proto {
		if err := e.graph.Release(o.stack); err != nil {
			return err
		}
		o.stack = graph.NoStack
		o.proto = proto
	}
	e.markDirty(id)
	return nil
}

// ReleaseObject removes an object and drops its history reference.
func (e *Evaluator) ReleaseObject(id ObjectID) error {
	o, err := e.object(id)
	if err != nil {
		return err
	}
	stack := o.stack
	*o = object{stack: graph.NoStack}
	e.freeObjects = append(e.freeObjects, id)
	return e.graph.Release(stack)
}

// Object returns an object's class and evaluation-stack head.
func (e *Evaluator) Object(id ObjectID) (script.ClassID, graph.StackID, error) {
	o, err := e.object(id)
	if err != nil {
		return 0, graph.NoStack, err
	}
	return o.proto, o.stack, nil
}

// Objects returns the ids of the live objects in ascending order.
func (e *Evaluator) Objects() []ObjectID {
	ids := make([]ObjectID, 0, e.NumObjects())
	for i, o := range e.objects {
		if o.live {
			ids = append(ids, ObjectID(i))
		}
	}
	return ids
}

// NumObjects returns the number of live objects.
func (e *Evaluator) NumObjects() int {
	return len(e.objects) - len(e.freeObjects)
}

// Variable reads the most recent output named name in the history starting
// at stack. The boolean is false when no block in the history writes name.
func (e *Evaluator) Variable(stack graph.StackID, name string) (value.Scalar, bool, error) {
	item, ok, err := e.graph.Lookup(stack, name)
	if err != nil || !ok {
		return value.Null, false, err
	}
	s, err := e.arena.Load(item)
	if err != nil {
		return value.Null, false, err
	}
	return s, true, nil
}

// Variables returns the names written anywhere in the history starting at
// stack, sorted.
func (e *Evaluator) Variables(stack graph.StackID) ([]string, error) {
	seen := make(map[string]bool)
	err := e.graph.Walk(stack, func(_ graph.StackID, ev graph.Evaluation) bool {
		for _, m := range e.store.Mutations(ev.Block) {
			if m.Name != "" {
				seen[m.Name] = true
			}
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
