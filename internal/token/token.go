// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2023-2026 Nicholas R. Perez

// Package token defines herd script operators and their precedence.
package token

// Token represents an operator recognized by the expression compiler.
type Token int

const (
	ILLEGAL Token = iota

	// Binary operators
	OR  // ||
	AND // &&
	EQ  // ==
	NE  // !=
	LT  // <
	LE  // <=
	GT  // >
	GE  // >=
	ADD // +
	SUB // -
	MUL // *
	QUO // /
	REM // %
	POW // ^

	// Unary operators
	NOT // !
	NEG // -

	// Assignment operators
	ASSIGN     // =
	ADD_ASSIGN // +=
	SUB_ASSIGN // -=
	MUL_ASSIGN // *=
	QUO_ASSIGN // /=
	DECLARE    // :=
)

var spellings = [...]string{
	ILLEGAL:    "ILLEGAL",
	OR:         "||",
	AND:        "&&",
	EQ:         "==",
	NE:         "!=",
	LT:         "<",
	LE:         "<=",
	GT:         ">",
	GE:         ">=",
	ADD:        "+",
	SUB:        "-",
	MUL:        "*",
	QUO:        "/",
	REM:        "%",
	POW:        "^",
	NOT:        "!",
	NEG:        "-",
	ASSIGN:     "=",
	ADD_ASSIGN: "+=",
	SUB_ASSIGN: "-=",
	MUL_ASSIGN: "*=",
	QUO_ASSIGN: "/=",
	DECLARE:    ":=",
}

// String returns the source spelling of a token.
func (t Token) String() string {
	if t >= 0 && int(t) < len(spellings) {
		return spellings[t]
	}
	return "UNKNOWN"
}

// Binary lists binary operators longest spelling first, so a scanner can try
// them in order without "<" shadowing "<=".
var Binary = []Token{OR, AND, EQ, NE, LE, GE, LT, GT, ADD, SUB, MUL, QUO, REM, POW}

// Assignments lists assignment operators longest spelling first.
var Assignments = []Token{ADD_ASSIGN, SUB_ASSIGN, MUL_ASSIGN, QUO_ASSIGN, DECLARE, ASSIGN}

// Precedence returns the binding power of a binary operator, or 0 if t is not
// binary. Higher binds tighter.
func (t Token) Precedence() int {
	switch t {
	case OR:
		return 1
	case AND:
		return 2
	case EQ, NE:
		return 3
	case LT, LE, GT, GE:
		return 4
	case ADD, SUB:
		return 5
	case MUL, QUO, REM:
		return 6
	case POW:
		return 7
	}
	return 0
}

// RightAssoc reports whether a binary operator groups right to left.
func (t Token) RightAssoc() bool {
	return t == POW
}

// IsAssignment returns true if the token is an assignment operator.
func (t Token) IsAssignment() bool {
	return t >= ASSIGN && t <= DECLARE
}

// Arithmetic returns the binary operator applied by a compound assignment
// (+= yields ADD), or ILLEGAL for plain assignment and declaration.
func (t Token) Arithmetic() Token {
	switch t {
	case ADD_ASSIGN:
		return ADD
	case SUB_ASSIGN:
		return SUB
	case MUL_ASSIGN:
		return MUL
	case QUO_ASSIGN:
		return QUO
	}
	return ILLEGAL
}
