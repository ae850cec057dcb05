// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2023-2026 Nicholas R. Perez

// Package compiler turns herd script source into blocks in a script store.
//
// Statements are offered to the handlers of a Registry in order until one
// claims them. Each finished mutation is flushed into the store's shared
// bytecode buffer; the blocks of a scope are chained in emission order.
package compiler

import (
	"errors"
	"fmt"

	"github.com/tliron/commonlog"

	"nickandperla.net/herd/internal/scanner"
	"nickandperla.net/herd/internal/script"
)

// ErrCompile is returned when a document produced a diagnostic.
var ErrCompile = errors.New("compile failed")

// Diagnostic is a compile error at a source position.
type Diagnostic struct {
	Document string
	Offset   int
	Line     int
	Col      int
	Message  string
}

func (d Diagnostic) String() string {
	if d.Document == "" {
		return fmt.Sprintf("%d:%d: %s", d.Line, d.Col, d.Message)
	}
	return fmt.Sprintf("%s:%d:%d: %s", d.Document, d.Line, d.Col, d.Message)
}

// Sink receives diagnostics.
type Sink func(Diagnostic)

// Error is a compile error raised by a handler.
type Error struct {
	Offset  int
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("offset %d: %s", e.Offset, e.Message) }

// ClassRoot is a class body chain to register once its document compiles.
type ClassRoot struct {
	Class script.ClassID
	Block script.BlockID
}

// Unit describes a compiled document.
type Unit struct {
	Document script.DocumentID
	Root     script.BlockID
	Classes  []ClassRoot
}

// Compiler compiles documents into a store.
type Compiler struct {
	store    *script.Store
	registry *Registry
	sink     Sink
	log      commonlog.Logger
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithSink sets the diagnostic sink.
func WithSink(sink Sink) Option {
	return func(c *Compiler) { c.sink = sink }
}

// WithRegistry replaces the default statement handlers and instructions.
func WithRegistry(r *Registry) Option {
	return func(c *Compiler) { c.registry = r }
}

// WithLogger sets the compiler logger.
func WithLogger(log commonlog.Logger) Option {
	return func(c *Compiler) { c.log = log }
}

// New creates a compiler writing to store.
func New(store *script.Store, opts ...Option) *Compiler {
	c := &Compiler{
		store:    store,
		registry: DefaultRegistry(),
		log:      commonlog.GetLogger("herd.compiler"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Store returns the store the compiler writes to.
func (c *Compiler) Store() *script.Store { return c.store }

// Registry returns the handler registry.
func (c *Compiler) Registry() *Registry { return c.registry }

// Compile compiles a document. On success its root chain is registered for
// the global class and its class bodies for their classes, in that order.
// On failure the first diagnostic is reported to the sink, nothing is
// registered and the returned error wraps ErrCompile.
func (c *Compiler) Compile(name, src string) (Unit, error) {
	doc := c.store.NewDocument(name)
	mark := c.store.MarkClasses()
	cur := scanner.New(src)
	s := newScope(c, doc, script.NoBlock)
	err := s.Statements(cur)
	if err == nil {
		err = s.close()
	}
	if err != nil {
		c.store.RestoreClasses(mark)
		d := c.diagnose(name, cur, err)
		return Unit{Document: doc, Root: script.NoBlock}, fmt.Errorf("%s: %w", d, ErrCompile)
	}
	u := Unit{Document: doc, Root: s.head, Classes: s.classes}
	if u.Root != script.NoBlock {
		if err := c.store.AddRoot(u.Root, script.Global); err != nil {
			return u, err
		}
	}
	for _, cr := range u.Classes {
		if err := c.store.AddRoot(cr.Block, cr.Class); err != nil {
			return u, err
		}
	}
	c.log.Debugf("compiled %q: root %d, %d class bodies", name, u.Root, len(u.Classes))
	return u, nil
}

func (c *Compiler) diagnose(name string, cur *scanner.Cursor, err error) Diagnostic {
	d := Diagnostic{Document: name, Offset: cur.Pos(), Message: err.Error()}
	var ce *Error
	if errors.As(err, &ce) {
		d.Offset = ce.Offset
		d.Message = ce.Message
	}
	d.Line, d.Col = cur.Position(d.Offset)
	if c.sink != nil {
		c.sink(d)
	} else {
		c.log.Errorf("%s", d)
	}
	return d
}
