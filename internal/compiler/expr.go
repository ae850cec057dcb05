// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2023-2026 Nicholas R. Perez

package compiler

import (
	"math"

	"nickandperla.net/herd/internal/scanner"
	"nickandperla.net/herd/internal/script"
	"nickandperla.net/herd/internal/token"
)

var binaryOps = map[token.Token]script.Opcode{
	token.OR:  script.OpOr,
	token.AND: script.OpAnd,
	token.EQ:  script.OpEq,
	token.NE:  script.OpNe,
	token.LT:  script.OpLt,
	token.LE:  script.OpLe,
	token.GT:  script.OpGt,
	token.GE:  script.OpGe,
	token.ADD: script.OpAdd,
	token.SUB: script.OpSub,
	token.MUL: script.OpMul,
	token.QUO: script.OpDiv,
	token.REM: script.OpMod,
	token.POW: script.OpPow,
}

// Expr compiles an expression into m.
func (m *Mutation) Expr(cur *scanner.Cursor) error {
	return m.binary(cur, 1)
}

// ExprSpan compiles a span that must hold exactly one expression.
func (m *Mutation) ExprSpan(cur *scanner.Cursor, span scanner.Span) error {
	sub := cur.Sub(span)
	if sub.EOF() {
		return m.s.Errorf(span.Start, "expected expression")
	}
	if err := m.Expr(sub); err != nil {
		return err
	}
	if !sub.EOF() {
		return m.s.Errorf(sub.Pos(), "unexpected %q after expression", excerpt(sub))
	}
	return nil
}

// matchBinary consumes the next binary operator, if any.
func matchBinary(cur *scanner.Cursor) token.Token {
	for _, t := range token.Binary {
		pos := cur.Pos()
		if !cur.Match(t.String()) {
			continue
		}
		// "a = b" and "a -= b" are statements, not comparisons or arithmetic.
		if cur.Peek() == '=' && t != token.EQ && t != token.NE && t != token.LE && t != token.GE {
			cur.Reset(pos)
			return token.ILLEGAL
		}
		return t
	}
	return token.ILLEGAL
}

// binary compiles operators of at least minPrec by precedence climbing.
func (m *Mutation) binary(cur *scanner.Cursor, minPrec int) error {
	if err := m.unary(cur); err != nil {
		return err
	}
	for {
		pos := cur.Pos()
		t := matchBinary(cur)
		prec := t.Precedence()
		if t == token.ILLEGAL || prec < minPrec {
			cur.Reset(pos)
			return nil
		}
		next := prec + 1
		if t.RightAssoc() {
			next = prec
		}
		if err := m.binary(cur, next); err != nil {
			return err
		}
		m.Op(binaryOps[t])
	}
}

func (m *Mutation) unary(cur *scanner.Cursor) error {
	pos := cur.Pos()
	if cur.Match(token.NOT.String()) {
		if cur.Peek() == '=' {
			return m.s.Errorf(pos, "unexpected %q", "!=")
		}
		if err := m.unary(cur); err != nil {
			return err
		}
		m.Op(script.OpNot)
		return nil
	}
	if n := cur.Number(); n.Valid() {
		pow := n.Sign >= 0 && cur.Match(token.POW.String()) && cur.Peek() != '='
		cur.Reset(pos)
		if !pow {
			return m.primary(cur)
		}
		// A signed literal base is a unary sign: -2 ^ 2 is -(2 ^ 2).
		if cur.Match(token.ADD.String()) {
			return m.binary(cur, token.POW.Precedence())
		}
	}
	if cur.Match(token.NEG.String()) {
		if err := m.binary(cur, token.POW.Precedence()); err != nil {
			return err
		}
		m.Op(script.OpNeg)
		return nil
	}
	return m.primary(cur)
}

func (m *Mutation) primary(cur *scanner.Cursor) error {
	pos := cur.Pos()
	switch cur.Peek() {
	case '(':
		span := cur.Bracket('(', ')')
		if !span.Valid() {
			return m.s.Errorf(pos, "unmatched %q", "(")
		}
		return m.ExprSpan(cur, span)
	case '[':
		return m.array(cur)
	case '{':
		span := cur.Bracket('{', '}')
		if !span.Valid() {
			return m.s.Errorf(pos, "unmatched %q", "{")
		}
		head, err := m.s.Detached(cur, span)
		if err != nil {
			return err
		}
		if head == script.NoBlock {
			// An empty literal still needs a block to refer to.
			head = m.s.c.store.CreateBlock(m.s.doc, script.NoBlock)
			if err := m.s.c.store.AppendMutations(head, nil, nil); err != nil {
				return err
			}
		}
		m.Op(script.OpPushTerm, m.s.c.store.RequireTerm(script.BlockRef{Block: head}))
		return nil
	case '"':
		str, ok := cur.String()
		if !ok {
			return m.s.Errorf(pos, "malformed string literal")
		}
		m.Op(script.OpPushTerm, m.s.c.store.RequireTerm(str))
		return nil
	}
	if n := cur.Number(); n.Valid() {
		if n.IsDecimal() {
			f, err := n.Float()
			if err != nil {
				return m.s.Errorf(pos, "bad number %q: %v", n.Text(), err)
			}
			m.Op(script.OpPushFloat, math.Float32bits(float32(f)))
			return nil
		}
		i, err := n.Int()
		if err != nil {
			return m.s.Errorf(pos, "bad number %q: %v", n.Text(), err)
		}
		m.Op(script.OpPushInt, uint32(int32(i)))
		return nil
	}
	switch {
	case cur.MatchKeyword("true"):
		m.Op(script.OpPushTrue)
		return nil
	case cur.MatchKeyword("false"):
		m.Op(script.OpPushFalse)
		return nil
	case cur.MatchKeyword("null"):
		m.Op(script.OpPushNull)
		return nil
	}
	if id := cur.Identifier(); id.Valid() {
		name := cur.Text(id)
		if reserved[name] {
			return m.s.Errorf(pos, "unexpected keyword %q", name)
		}
		m.Load(name)
		return nil
	}
	if cur.EOF() {
		return m.s.Errorf(pos, "expected expression")
	}
	return m.s.Errorf(pos, "unexpected %q", excerpt(cur))
}

func (m *Mutation) array(cur *scanner.Cursor) error {
	pos := cur.Pos()
	span := cur.Bracket('[', ']')
	if !span.Valid() {
		return m.s.Errorf(pos, "unmatched %q", "[")
	}
	params := cur.Params(span)
	for _, p := range params {
		if p.Name.Valid() {
			return m.s.Errorf(p.Name.Start, "array element cannot be named")
		}
		if p.Value.Len() == 0 {
			return m.s.Errorf(p.Value.Start, "empty array element")
		}
		if err := m.ExprSpan(cur, p.Value); err != nil {
			return err
		}
	}
	m.Op(script.OpArray, uint32(len(params)))
	return nil
}

var reserved = map[string]bool{
	"if": true, "else": true, "class": true, "extends": true,
	"true": true, "false": true, "null": true,
}
