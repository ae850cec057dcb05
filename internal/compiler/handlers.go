// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2023-2026 Nicholas R. Perez

package compiler

import (
	"nickandperla.net/herd/internal/scanner"
	"nickandperla.net/herd/internal/script"
	"nickandperla.net/herd/internal/token"
)

// Handler compiles one kind of statement. Compile reports false, without
// emitting anything, when the statement at the cursor is not its kind; the
// caller then rewinds the cursor and tries the next handler. An error aborts
// the document.
type Handler interface {
	Compile(s *Scope, cur *scanner.Cursor) (bool, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(s *Scope, cur *scanner.Cursor) (bool, error)

func (f HandlerFunc) Compile(s *Scope, cur *scanner.Cursor) (bool, error) { return f(s, cur) }

// Registry holds the statement handlers and the run-time instructions they
// emit. It is owned by a compiler; there is no process-wide registry.
type Registry struct {
	handlers     []Handler
	instructions map[string]script.Instruction
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{instructions: make(map[string]script.Instruction)}
}

// DefaultRegistry returns a registry with the built-in statements: nested
// scopes, if/else, class declarations and property mutations.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Instruction("if", If{})
	r.Instruction("class", Class{})
	r.handlers = append(r.handlers,
		HandlerFunc(compileScope),
		HandlerFunc(compileIf),
		HandlerFunc(compileClass),
		HandlerFunc(compileMutation),
	)
	return r
}

// Handle registers h ahead of the handlers already registered, so host
// statements are tried before the built-in catch-all mutation.
func (r *Registry) Handle(h Handler) {
	r.handlers = append([]Handler{h}, r.handlers...)
}

// Instruction registers a run-time instruction under a name.
func (r *Registry) Instruction(name string, in script.Instruction) {
	r.instructions[name] = in
}

// compileScope compiles "{ statements }" as its own run of blocks.
func compileScope(s *Scope, cur *scanner.Cursor) (bool, error) {
	if cur.Peek() != '{' {
		return false, nil
	}
	pos := cur.Pos()
	span := cur.Bracket('{', '}')
	if !span.Valid() {
		return false, s.Errorf(pos, "unmatched %q", "{")
	}
	if err := s.Split(); err != nil {
		return false, err
	}
	if err := s.Statements(cur.Sub(span)); err != nil {
		return false, err
	}
	return true, s.Split()
}

// compileIf compiles "if (cond) { ... }" with optional "else { ... }" or
// "else if ...". The condition runs as an effect-only mutation that routes
// truthy groups into the then-body. With an else-body the mutation first
// jumps every group there, so a group whose condition fails still takes the
// else branch and continues after the statement.
func compileIf(s *Scope, cur *scanner.Cursor) (bool, error) {
	pos := cur.Pos()
	if !cur.MatchKeyword("if") {
		return false, nil
	}
	cond := cur.Bracket('(', ')')
	if !cond.Valid() {
		return false, s.Errorf(cur.Pos(), "expected ( after if")
	}
	bodyPos := cur.Pos()
	body := cur.Bracket('{', '}')
	if !body.Valid() {
		return false, s.Errorf(bodyPos, "expected { after if condition")
	}
	ifTerm, ok := s.Instruction("if")
	if !ok {
		return false, s.Errorf(pos, "if is not available")
	}

	m, err := s.Begin("")
	if err != nil {
		return false, err
	}
	thenHead, thenTails, err := s.Nest(func(sub *Scope) error {
		return sub.Statements(cur.Sub(body))
	})
	if err != nil {
		return false, err
	}

	hasElse := cur.MatchKeyword("else")
	if !hasElse {
		if err := m.ExprSpan(cur, cond); err != nil {
			return false, err
		}
		if thenHead == script.NoBlock {
			m.Op(script.OpPop)
			return true, m.End()
		}
		m.Op(script.OpInvoke, ifTerm, uint32(thenHead))
		if err := m.End(); err != nil {
			return false, err
		}
		if err := s.Split(); err != nil {
			return false, err
		}
		s.Join(thenTails...)
		return true, nil
	}

	if thenHead == script.NoBlock {
		thenHead, thenTails, err = s.Nest(func(sub *Scope) error {
			_, err := sub.current()
			return err
		})
		if err != nil {
			return false, err
		}
	}
	elsePos := cur.Pos()
	elseHead, elseTails, err := s.Nest(func(sub *Scope) error {
		if cur.Peek() == '{' {
			span := cur.Bracket('{', '}')
			if !span.Valid() {
				return sub.Errorf(elsePos, "unmatched %q", "{")
			}
			_, err := sub.current()
			if err != nil {
				return err
			}
			return sub.Statements(cur.Sub(span))
		}
		if q := cur.Pos(); cur.MatchKeyword("if") {
			cur.Reset(q)
			_, err := sub.current()
			if err != nil {
				return err
			}
			ok, err := compileIf(sub, cur)
			if err == nil && !ok {
				err = sub.Errorf(q, "expected if")
			}
			return err
		}
		return sub.Errorf(elsePos, "expected { or if after else")
	})
	if err != nil {
		return false, err
	}
	m.Op(script.OpJump, uint32(elseHead))
	if err := m.ExprSpan(cur, cond); err != nil {
		return false, err
	}
	m.Op(script.OpInvoke, ifTerm, uint32(thenHead))
	if err := m.End(); err != nil {
		return false, err
	}
	if err := s.Terminate(); err != nil {
		return false, err
	}
	s.Join(thenTails...)
	s.Join(elseTails...)
	return true, nil
}

// compileClass compiles "class Name [extends A, B] { ... }". The body becomes
// a root chain for the class; the statement itself records the class with
// the host's registry when it runs.
func compileClass(s *Scope, cur *scanner.Cursor) (bool, error) {
	pos := cur.Pos()
	if !cur.MatchKeyword("class") {
		return false, nil
	}
	id := cur.Identifier()
	if !id.Valid() {
		return false, s.Errorf(cur.Pos(), "expected class name")
	}
	name := cur.Text(id)
	if reserved[name] {
		return false, s.Errorf(id.Start, "unexpected keyword %q", name)
	}
	var extends []script.ClassID
	if cur.MatchKeyword("extends") {
		for {
			p := cur.Pos()
			base := cur.Identifier()
			if !base.Valid() {
				return false, s.Errorf(p, "expected base class name")
			}
			cid, ok := s.Store().ClassID(cur.Text(base))
			if !ok {
				return false, s.Errorf(p, "unknown class %q", cur.Text(base))
			}
			extends = append(extends, cid)
			if !cur.Match(",") {
				break
			}
		}
	}
	bodyPos := cur.Pos()
	body := cur.Bracket('{', '}')
	if !body.Valid() {
		return false, s.Errorf(bodyPos, "expected { after class %s", name)
	}
	classTerm, ok := s.Instruction("class")
	if !ok {
		return false, s.Errorf(pos, "class is not available")
	}
	cid, err := s.Store().RegisterClass(name, extends)
	if err != nil {
		return false, s.Errorf(pos, "%v", err)
	}
	head, err := s.Detached(cur, body)
	if err != nil {
		return false, err
	}
	if head != script.NoBlock {
		s.AddClassRoot(cid, head)
	}
	m, err := s.Begin("")
	if err != nil {
		return false, err
	}
	m.Op(script.OpInvoke, classTerm, uint32(cid))
	return true, m.End()
}

// compileMutation compiles "name = expr", "name op= expr" and "name := expr".
func compileMutation(s *Scope, cur *scanner.Cursor) (bool, error) {
	id := cur.Identifier()
	if !id.Valid() {
		return false, nil
	}
	name := cur.Text(id)
	if reserved[name] {
		return false, nil
	}
	pos := cur.Pos()
	if cur.Match("==") {
		cur.Reset(pos)
		return false, nil
	}
	op := token.ILLEGAL
	for _, t := range token.Assignments {
		if cur.Match(t.String()) {
			op = t
			break
		}
	}
	if op == token.ILLEGAL {
		return false, nil
	}
	if cur.EOF() || cur.Peek() == ';' {
		return false, s.Errorf(cur.Pos(), "expected expression after %s", op)
	}

	switch op {
	case token.DECLARE:
		m, err := s.Begin("")
		if err != nil {
			return false, err
		}
		m.Depend(name)
		if err := m.Expr(cur); err != nil {
			return false, err
		}
		m.Op(script.OpPop)
		return true, m.End()
	case token.ASSIGN:
		m, err := s.Begin(name)
		if err != nil {
			return false, err
		}
		if err := m.Expr(cur); err != nil {
			return false, err
		}
		return true, m.End()
	}
	m, err := s.Begin(name)
	if err != nil {
		return false, err
	}
	m.Load(name)
	if err := m.Expr(cur); err != nil {
		return false, err
	}
	m.Op(binaryOps[op.Arithmetic()])
	return true, m.End()
}
