// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2023-2026 Nicholas R. Perez

package herd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tliron/commonlog"

	"nickandperla.net/herd/internal/compiler"
	"nickandperla.net/herd/internal/eval"
	"nickandperla.net/herd/internal/graph"
	"nickandperla.net/herd/internal/script"
	"nickandperla.net/herd/internal/store"
	"nickandperla.net/herd/internal/value"
)

type (
	// ObjectID identifies a host object.
	ObjectID = eval.ObjectID
	// StackID identifies an evaluation-stack node.
	StackID = graph.StackID
	// ClassID identifies a class; GlobalClass is the class of plain objects.
	ClassID = script.ClassID
	// Value is a resolved variable.
	Value = value.Scalar
	// Stats counts scheduler work.
	Stats = eval.Stats
	// Diagnostic is a compile error located in a document.
	Diagnostic = compiler.Diagnostic
	// Unit describes a compiled document.
	Unit = compiler.Unit
	// VersionEntry is one stored version of a library document.
	VersionEntry = store.VersionEntry
)

const (
	// NoStack is the stack of an object that has not been evaluated.
	NoStack = graph.NoStack
	// GlobalClass is the class every object starts with.
	GlobalClass = script.Global
)

var (
	ErrCompile     = compiler.ErrCompile
	ErrNoSuchClass = eval.ErrNoSuchClass
	ErrNoLibrary   = errors.New("no script library configured")
	ErrNoHistory   = errors.New("script library keeps no history")
)

// Runtime owns the compiled scripts and the objects evaluated against them.
// A Runtime must be used from one goroutine at a time; Classes may be read
// concurrently.
type Runtime struct {
	store     *script.Store
	compiler  *compiler.Compiler
	evaluator *eval.Evaluator
	classes   *Classes
	library   store.Store
	services  map[string]any
	sink      func(Diagnostic)
	log       commonlog.Logger
	stepLimit int
	prelude   string
	noPrelude bool
	err       error
}

// New creates a runtime and compiles the prelude.
func New(opts ...Option) (*Runtime, error) {
	r := &Runtime{
		store:    script.NewStore(),
		classes:  NewClasses(),
		services: make(map[string]any),
	}

	for _, opt := range opts {
		opt(r)
	}
	if r.err != nil {
		r.Close()
		return nil, r.err
	}
	if _, ok := r.services[compiler.ClassService]; !ok {
		r.services[compiler.ClassService] = r.classes
	}

	compOpts := []compiler.Option{}
	evalOpts := []eval.Option{eval.WithServices(r.service)}
	if r.sink != nil {
		compOpts = append(compOpts, compiler.WithSink(r.sink))
	}
	if r.log != nil {
		compOpts = append(compOpts, compiler.WithLogger(r.log))
		evalOpts = append(evalOpts, eval.WithLogger(r.log))
	}
	if r.stepLimit > 0 {
		evalOpts = append(evalOpts, eval.WithStepLimit(r.stepLimit))
	}
	r.compiler = compiler.New(r.store, compOpts...)
	r.evaluator = eval.New(r.store, evalOpts...)

	if !r.noPrelude {
		prelude := r.prelude
		if prelude == "" {
			prelude = DefaultPrelude
		}

		// Check for library override
		if r.library != nil {
			d, err := r.library.Get(PreludeDocument)
			if err != nil {
				r.Close()
				return nil, err
			}
			if d != nil {
				prelude = d.Source
			}
		}

		if _, err := r.Parse(PreludeDocument, prelude); err != nil {
			r.Close()
			return nil, fmt.Errorf("prelude: %w", err)
		}
	}

	return r, nil
}

func (r *Runtime) service(name string) (any, bool) {
	svc, ok := r.services[name]
	return svc, ok
}

// Parse compiles a document. Objects already resolved pick up its blocks the
// next time they are marked dirty and resolved.
func (r *Runtime) Parse(name, source string) (Unit, error) {
	return r.compiler.Compile(name, source)
}

// ParseFile compiles a script file, named by its base name.
func (r *Runtime) ParseFile(path string) (Unit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Unit{Root: script.NoBlock}, err
	}
	return r.Parse(filepath.Base(path), string(data))
}

// ParseLibrary compiles the latest version of a library document.
func (r *Runtime) ParseLibrary(name string) (Unit, error) {
	if r.library == nil {
		return Unit{Root: script.NoBlock}, ErrNoLibrary
	}
	d, err := store.Require(r.library, name)
	if err != nil {
		return Unit{Root: script.NoBlock}, fmt.Errorf("library: %w", err)
	}
	return r.Parse(name, d.Source)
}

// Save stores a document in the library and returns its version.
func (r *Runtime) Save(name, source string) (int, error) {
	if r.library == nil {
		return 0, ErrNoLibrary
	}
	return r.library.Put(name, source)
}

// Delete removes a document and its history from the library. Compiled
// blocks of the document stay in place.
func (r *Runtime) Delete(name string) error {
	if r.library == nil {
		return ErrNoLibrary
	}
	return r.library.Delete(name)
}

// History returns up to limit stored versions of a library document, newest
// first. A limit of zero or less returns every version.
func (r *Runtime) History(name string, limit int) ([]VersionEntry, error) {
	if r.library == nil {
		return nil, ErrNoLibrary
	}
	hs, ok := r.library.(store.HistoryStore)
	if !ok {
		return nil, ErrNoHistory
	}
	return hs.GetHistory(name, limit)
}

// Library returns the configured script library, or nil.
func (r *Runtime) Library() Library {
	return r.library
}

// Classes returns the registry of declared classes.
func (r *Runtime) Classes() *Classes {
	return r.classes
}

// AllocateObject creates an object of the global class and marks it dirty.
func (r *Runtime) AllocateObject() ObjectID {
	return r.evaluator.AllocateObject()
}

// SetObjectPrototypeID sets an object's class and marks it dirty. A changed
// class restarts the object's evaluation.
func (r *Runtime) SetObjectPrototypeID(obj ObjectID, proto ClassID) error {
	return r.evaluator.SetPrototype(obj, proto)
}

// SetObjectClass is SetObjectPrototypeID by class name.
func (r *Runtime) SetObjectClass(obj ObjectID, class string) error {
	id, ok := r.ClassID(class)
	if !ok {
		return fmt.Errorf("class %q: %w", class, ErrNoSuchClass)
	}
	return r.SetObjectPrototypeID(obj, id)
}

// MarkDirty schedules an object for the next Resolve.
func (r *Runtime) MarkDirty(obj ObjectID) error {
	return r.evaluator.MarkDirty(obj)
}

// MarkAllDirty schedules every live object for the next Resolve.
func (r *Runtime) MarkAllDirty() {
	for _, id := range r.evaluator.Objects() {
		// Live ids cannot fail.
		_ = r.evaluator.MarkDirty(id)
	}
}

// ReleaseObject removes an object.
func (r *Runtime) ReleaseObject(obj ObjectID) error {
	return r.evaluator.ReleaseObject(obj)
}

// Objects returns the live objects in ascending order.
func (r *Runtime) Objects() []ObjectID {
	return r.evaluator.Objects()
}

// Resolve evaluates every dirty object until no group has a pending block.
func (r *Runtime) Resolve() error {
	return r.evaluator.Resolve()
}

// GetEvaluationVariable reads the latest value of name in the history
// ending at stack.
func (r *Runtime) GetEvaluationVariable(stack StackID, name string) (Value, bool, error) {
	return r.evaluator.Variable(stack, name)
}

// ObjectVariable reads the latest value of name for an object.
func (r *Runtime) ObjectVariable(obj ObjectID, name string) (Value, bool, error) {
	stack, err := r.ObjectStack(obj)
	if err != nil {
		return value.Null, false, err
	}
	return r.GetEvaluationVariable(stack, name)
}

// ObjectVariables returns the names an object's history has written, sorted.
func (r *Runtime) ObjectVariables(obj ObjectID) ([]string, error) {
	stack, err := r.ObjectStack(obj)
	if err != nil {
		return nil, err
	}
	return r.evaluator.Variables(stack)
}

// ObjectStack returns the head of an object's evaluation history.
func (r *Runtime) ObjectStack(obj ObjectID) (StackID, error) {
	_, stack, err := r.evaluator.Object(obj)
	return stack, err
}

// ObjectClass returns an object's class.
func (r *Runtime) ObjectClass(obj ObjectID) (ClassID, error) {
	proto, _, err := r.evaluator.Object(obj)
	return proto, err
}

// ClassID looks up a class declared by a compiled document.
func (r *Runtime) ClassID(name string) (ClassID, bool) {
	return r.store.ClassID(name)
}

// ClassName returns the name of a class; the global class is named "".
func (r *Runtime) ClassName(id ClassID) (string, bool) {
	c, ok := r.store.Class(id)
	return c.Name, ok
}

// Decode converts a value into a Go value: nil, bool, int16, int32,
// float32, string or []any.
func (r *Runtime) Decode(v Value) any {
	return r.store.Terms().Decode(v)
}

// Format renders a value the way a script would write it.
func (r *Runtime) Format(v Value) string {
	return r.store.Terms().Format(v)
}

// Stats returns the scheduler's work counters.
func (r *Runtime) Stats() Stats {
	return r.evaluator.Stats()
}

// Disassemble renders every compiled block.
func (r *Runtime) Disassemble() string {
	var sb strings.Builder
	for id := 0; id < r.store.NumBlocks(); id++ {
		sb.WriteString(r.store.Disassemble(script.BlockID(id)))
	}
	return sb.String()
}

// Close releases resources.
func (r *Runtime) Close() error {
	if r.library != nil {
		return r.library.Close()
	}
	return nil
}
