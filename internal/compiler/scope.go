// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2023-2026 Nicholas R. Perez

package compiler

import (
	"fmt"

	"nickandperla.net/herd/internal/scanner"
	"nickandperla.net/herd/internal/script"
)

// builder accumulates one block until it is closed.
type builder struct {
	id       script.BlockID
	deps     []string
	depIndex map[string]uint32
	muts     []script.Mutation
	mutIndex map[string]uint32
}

func (b *builder) dependency(name string) uint32 {
	if i, ok := b.depIndex[name]; ok {
		return i
	}
	i := uint32(len(b.deps))
	b.deps = append(b.deps, name)
	b.depIndex[name] = i
	return i
}

// Scope compiles statements into one chain of blocks. Blocks are linked in
// the order they are created; blocks left without a successor (an if body's
// last block, the block holding the if) are open tails joined to the next
// block the scope creates.
type Scope struct {
	c       *Compiler
	doc     script.DocumentID
	root    script.BlockID
	head    script.BlockID
	open    *builder
	tails   []script.BlockID
	classes []ClassRoot
}

func newScope(c *Compiler, doc script.DocumentID, root script.BlockID) *Scope {
	return &Scope{c: c, doc: doc, root: root, head: script.NoBlock}
}

// Store returns the store blocks are written to.
func (s *Scope) Store() *script.Store { return s.c.store }

// Head returns the first block of the scope, or NoBlock if it is empty.
func (s *Scope) Head() script.BlockID { return s.head }

// Errorf returns a compile error at a source offset.
func (s *Scope) Errorf(offset int, format string, args ...any) error {
	return &Error{Offset: offset, Message: fmt.Sprintf(format, args...)}
}

// current returns the open block, creating and linking a new one if needed.
func (s *Scope) current() (*builder, error) {
	if s.open != nil {
		return s.open, nil
	}
	id := s.c.store.CreateBlock(s.doc, s.root)
	if s.root == script.NoBlock {
		s.root = id
	}
	if s.head == script.NoBlock {
		s.head = id
	}
	for _, t := range s.tails {
		if err := s.c.store.LinkBlocks(t, id); err != nil {
			return nil, err
		}
	}
	s.tails = s.tails[:0]
	s.open = &builder{
		id:       id,
		depIndex: make(map[string]uint32),
		mutIndex: make(map[string]uint32),
	}
	return s.open, nil
}

// seal writes the open block to the store.
func (s *Scope) seal() (script.BlockID, error) {
	b := s.open
	s.open = nil
	if err := s.c.store.AppendMutations(b.id, b.deps, b.muts); err != nil {
		return script.NoBlock, err
	}
	return b.id, nil
}

// Split closes the open block so the next statement starts a new one.
func (s *Scope) Split() error {
	if s.open == nil {
		return nil
	}
	id, err := s.seal()
	if err != nil {
		return err
	}
	s.tails = append(s.tails, id)
	return nil
}

// Terminate closes the open block without linking it to a successor. Used
// when every group leaving the block has been redirected.
func (s *Scope) Terminate() error {
	if s.open == nil {
		return nil
	}
	_, err := s.seal()
	return err
}

// Join adds blocks that continue with the scope's next block.
func (s *Scope) Join(tails ...script.BlockID) {
	s.tails = append(s.tails, tails...)
}

func (s *Scope) close() error { return s.Split() }

// Nest compiles fn into a new scope that belongs to the same root chain. It
// returns the nested head and the blocks that should continue with whatever
// follows. The enclosing open block must exist so the nested blocks follow
// it in id order.
func (s *Scope) Nest(fn func(*Scope) error) (script.BlockID, []script.BlockID, error) {
	if _, err := s.current(); err != nil {
		return script.NoBlock, nil, err
	}
	sub := newScope(s.c, s.doc, s.root)
	if err := fn(sub); err != nil {
		return script.NoBlock, nil, err
	}
	if err := sub.close(); err != nil {
		return script.NoBlock, nil, err
	}
	s.classes = append(s.classes, sub.classes...)
	return sub.head, sub.tails, nil
}

// Detached compiles the statements of span as a chain of its own root.
func (s *Scope) Detached(cur *scanner.Cursor, span scanner.Span) (script.BlockID, error) {
	sub := newScope(s.c, s.doc, script.NoBlock)
	if err := sub.Statements(cur.Sub(span)); err != nil {
		return script.NoBlock, err
	}
	if err := sub.close(); err != nil {
		return script.NoBlock, err
	}
	s.classes = append(s.classes, sub.classes...)
	return sub.head, nil
}

// AddClassRoot schedules a chain for registration under a class once the
// document compiles.
func (s *Scope) AddClassRoot(class script.ClassID, block script.BlockID) {
	s.classes = append(s.classes, ClassRoot{Class: class, Block: block})
}

// Instruction returns the term index of a registered instruction.
func (s *Scope) Instruction(name string) (uint32, bool) {
	in, ok := s.c.registry.instructions[name]
	if !ok {
		return 0, false
	}
	return s.c.store.RequireTerm(in), true
}

// Statements compiles statements until the cursor is exhausted.
func (s *Scope) Statements(cur *scanner.Cursor) error {
	for !cur.EOF() {
		if cur.Match(";") {
			continue
		}
		if err := s.Statement(cur); err != nil {
			return err
		}
	}
	return nil
}

// Statement compiles one statement, offering it to each handler in turn.
func (s *Scope) Statement(cur *scanner.Cursor) error {
	start := cur.Pos()
	for _, h := range s.c.registry.handlers {
		ok, err := h.Compile(s, cur)
		if err != nil {
			return err
		}
		if ok {
			cur.Match(";")
			return nil
		}
		cur.Reset(start)
	}
	return s.Errorf(start, "unexpected %q", excerpt(cur))
}

func excerpt(cur *scanner.Cursor) string {
	src := cur.Source()[cur.Pos():]
	for i := 0; i < len(src); i++ {
		if src[i] == '\n' || src[i] == ';' || i == 16 {
			return src[:i]
		}
	}
	return src
}

// Mutation is a statement's code while it is being compiled.
type Mutation struct {
	s    *Scope
	b    *builder
	name string
	em   script.Emitter
}

// Begin starts a mutation in the open block. A name the open block already
// writes splits the block first, so a block never writes a name twice. An
// empty name marks a mutation run for its effects only.
func (s *Scope) Begin(name string) (*Mutation, error) {
	if s.open != nil && name != "" {
		if _, ok := s.open.mutIndex[name]; ok {
			if err := s.Split(); err != nil {
				return nil, err
			}
		}
	}
	b, err := s.current()
	if err != nil {
		return nil, err
	}
	return &Mutation{s: s, b: b, name: name}, nil
}

// Op emits an instruction.
func (m *Mutation) Op(op script.Opcode, operands ...uint32) { m.em.Op(op, operands...) }

// Load emits a read of name: a copy of this block's own output when the block
// already wrote it, else a dependency resolved from the object's history.
func (m *Mutation) Load(name string) {
	if i, ok := m.b.mutIndex[name]; ok {
		m.em.Op(script.OpLoadLocal, i)
		return
	}
	m.em.Op(script.OpLoad, m.b.dependency(name))
}

// Depend registers name as a dependency of the block without reading it.
func (m *Mutation) Depend(name string) {
	if _, ok := m.b.mutIndex[name]; !ok {
		m.b.dependency(name)
	}
}

// End flushes the mutation's code into the store and records it on its block.
func (m *Mutation) End() error {
	if m.s.open != m.b {
		return fmt.Errorf("mutation %q outlived its block %d", m.name, m.b.id)
	}
	idx := uint32(len(m.b.muts))
	if m.name != "" {
		m.em.Op(script.OpStore, idx)
		m.b.mutIndex[m.name] = idx
	}
	code := m.s.c.store.AppendProgram(m.em.Bytes())
	m.b.muts = append(m.b.muts, script.Mutation{Name: m.name, Code: code})
	return nil
}
