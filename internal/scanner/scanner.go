// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2023-2026 Nicholas R. Perez

// Package scanner provides a cursor-based scanner for herd scripts.
//
// Every match is non-throwing: a failed match leaves the cursor where it was
// and returns an invalid Span (or false), so callers chain alternatives with
// ordinary branching. Successful literal, keyword, identifier, number and
// string matches skip trailing whitespace and comments.
package scanner

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// Span is a half-open byte range [Start, End) of the source.
type Span struct {
	Start int
	End   int
}

// Invalid is the span returned by failed matches.
var Invalid = Span{Start: -1, End: -1}

// Valid reports whether the span came from a successful match.
func (s Span) Valid() bool {
	return s.Start >= 0 && s.End >= s.Start
}

// Len returns the number of bytes covered by the span.
func (s Span) Len() int {
	if !s.Valid() {
		return 0
	}
	return s.End - s.Start
}

// Cursor scans a source string between two offsets.
type Cursor struct {
	src   string
	pos   int
	limit int
}

// New creates a cursor over src positioned at its first token.
func New(src string) *Cursor {
	c := &Cursor{src: src, limit: len(src)}
	c.SkipSpace()
	return c
}

// Sub returns a cursor over the span of the same source. Offsets reported by
// the sub-cursor stay absolute.
func (c *Cursor) Sub(s Span) *Cursor {
	if !s.Valid() {
		return &Cursor{src: c.src, pos: c.limit, limit: c.limit}
	}
	sub := &Cursor{src: c.src, pos: s.Start, limit: s.End}
	sub.SkipSpace()
	return sub
}

// Source returns the full source text.
func (c *Cursor) Source() string { return c.src }

// Text returns the source text covered by a span.
func (c *Cursor) Text(s Span) string {
	if !s.Valid() {
		return ""
	}
	return c.src[s.Start:s.End]
}

// Pos returns the current offset.
func (c *Cursor) Pos() int { return c.pos }

// Reset moves the cursor back to an offset previously returned by Pos.
func (c *Cursor) Reset(pos int) {
	if pos < 0 {
		pos = 0
	}
	if pos > c.limit {
		pos = c.limit
	}
	c.pos = pos
}

// EOF reports whether the cursor reached its limit.
func (c *Cursor) EOF() bool { return c.pos >= c.limit }

// Peek returns the byte under the cursor, or 0 at the limit.
func (c *Cursor) Peek() byte {
	if c.pos >= c.limit {
		return 0
	}
	return c.src[c.pos]
}

// Position converts an offset into a 1-based line and column.
func (c *Cursor) Position(offset int) (line, col int) {
	if offset > len(c.src) {
		offset = len(c.src)
	}
	line = 1 + strings.Count(c.src[:offset], "\n")
	start := strings.LastIndexByte(c.src[:offset], '\n') + 1
	col = 1 + utf8.RuneCountInString(c.src[start:offset])
	return line, col
}

// SkipSpace skips whitespace, // line comments and /* block */ comments.
// An unterminated block comment runs to the limit.
func (c *Cursor) SkipSpace() {
	for c.pos < c.limit {
		if isSpace(c.src[c.pos]) {
			c.pos++
			continue
		}
		end := c.comment(c.pos, c.limit)
		if end == c.pos {
			return
		}
		c.pos = end
	}
}

// Match consumes lit if the source continues with it.
func (c *Cursor) Match(lit string) bool {
	if lit == "" || !strings.HasPrefix(c.src[c.pos:c.limit], lit) {
		return false
	}
	c.pos += len(lit)
	c.SkipSpace()
	return true
}

// MatchKeyword consumes kw only when it is not followed by an identifier
// character, so "iffy" does not match "if".
func (c *Cursor) MatchKeyword(kw string) bool {
	if !strings.HasPrefix(c.src[c.pos:c.limit], kw) {
		return false
	}
	end := c.pos + len(kw)
	if end < c.limit && isIdentChar(c.src[end]) {
		return false
	}
	c.pos = end
	c.SkipSpace()
	return true
}

// isIdentStart returns true if the byte can start an identifier.
func isIdentStart(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// isIdentChar returns true if the byte can continue an identifier.
func isIdentChar(b byte) bool {
	return isIdentStart(b) || (b >= '0' && b <= '9')
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

// Identifier scans an identifier.
func (c *Cursor) Identifier() Span {
	if c.pos >= c.limit || !isIdentStart(c.src[c.pos]) {
		return Invalid
	}
	start := c.pos
	end := start + 1
	for end < c.limit && isIdentChar(c.src[end]) {
		end++
	}
	c.pos = end
	c.SkipSpace()
	return Span{Start: start, End: end}
}

// Number describes a scanned numeric literal by offsets into the source.
// Sign is the offset of a leading '+' or '-' or -1; Fraction is the offset of
// the decimal point or -1.
type Number struct {
	Sign     int
	Digits   int
	Fraction int
	End      int
	src      string
}

// Valid reports whether the number came from a successful scan.
func (n Number) Valid() bool { return n.End > n.Digits }

// IsDecimal reports whether the literal has a fractional part.
func (n Number) IsDecimal() bool { return n.Fraction >= 0 }

// Text returns the literal as written, including its sign.
func (n Number) Text() string {
	if !n.Valid() {
		return ""
	}
	start := n.Digits
	if n.Sign >= 0 {
		start = n.Sign
	}
	return n.src[start:n.End]
}

// Int decodes an integer literal.
func (n Number) Int() (int64, error) {
	return strconv.ParseInt(n.Text(), 10, 32)
}

// Float decodes a literal as a decimal.
func (n Number) Float() (float64, error) {
	return strconv.ParseFloat(n.Text(), 32)
}

// Number scans an optionally signed integer or decimal literal. A sign must
// be immediately followed by a digit.
func (c *Cursor) Number() Number {
	n := Number{Sign: -1, Fraction: -1, src: c.src}
	p := c.pos
	if p < c.limit && (c.src[p] == '-' || c.src[p] == '+') {
		n.Sign = p
		p++
	}
	if p >= c.limit || !isDigit(c.src[p]) {
		return Number{Sign: -1, Fraction: -1}
	}
	n.Digits = p
	for p < c.limit && isDigit(c.src[p]) {
		p++
	}
	if p+1 < c.limit && c.src[p] == '.' && isDigit(c.src[p+1]) {
		n.Fraction = p
		p++
		for p < c.limit && isDigit(c.src[p]) {
			p++
		}
	}
	if p < c.limit && isIdentStart(c.src[p]) {
		return Number{Sign: -1, Fraction: -1}
	}
	n.End = p
	c.pos = p
	c.SkipSpace()
	return n
}

// String scans a double-quoted string and decodes its escapes. On a
// malformed or unterminated string it returns false and does not move.
func (c *Cursor) String() (string, bool) {
	if c.pos >= c.limit || c.src[c.pos] != '"' {
		return "", false
	}
	var sb strings.Builder
	p := c.pos + 1
	for p < c.limit {
		ch := c.src[p]
		switch ch {
		case '"':
			c.pos = p + 1
			c.SkipSpace()
			return sb.String(), true
		case '\\':
			if p+1 >= c.limit {
				return "", false
			}
			switch c.src[p+1] {
			case '"':
				sb.WriteByte('"')
			case '\\':
				sb.WriteByte('\\')
			case 'n':
				sb.WriteByte('\n')
			case 'r':
				sb.WriteByte('\r')
			case 't':
				sb.WriteByte('\t')
			case 'u':
				if p+6 > c.limit {
					return "", false
				}
				r, err := strconv.ParseUint(c.src[p+2:p+6], 16, 32)
				if err != nil {
					return "", false
				}
				sb.WriteRune(rune(r))
				p += 4
			default:
				return "", false
			}
			p += 2
		case '\n':
			return "", false
		default:
			sb.WriteByte(ch)
			p++
		}
	}
	return "", false
}

// comment returns the offset just past a // or /* */ comment starting at p,
// or p when none starts there. Unterminated comments run to limit.
func (c *Cursor) comment(p, limit int) int {
	switch {
	case strings.HasPrefix(c.src[p:limit], "//"):
		end := strings.IndexByte(c.src[p:limit], '\n')
		if end < 0 {
			return limit
		}
		return p + end + 1
	case strings.HasPrefix(c.src[p:limit], "/*"):
		end := strings.Index(c.src[p+2:limit], "*/")
		if end < 0 {
			return limit
		}
		return p + end + 4
	}
	return p
}

// skipQuoted returns the offset just past the string starting at p, or -1.
func (c *Cursor) skipQuoted(p int) int {
	for q := p + 1; q < c.limit; q++ {
		switch c.src[q] {
		case '\\':
			q++
		case '"':
			return q + 1
		}
	}
	return -1
}

// Bracket scans a balanced open/close pair starting at the cursor and returns
// the span between them. Quoted strings and comments inside are skipped, so
// brackets in them do not count.
func (c *Cursor) Bracket(open, close byte) Span {
	if c.pos >= c.limit || c.src[c.pos] != open {
		return Invalid
	}
	depth := 0
	for p := c.pos; p < c.limit; p++ {
		switch c.src[p] {
		case '"':
			q := c.skipQuoted(p)
			if q < 0 {
				return Invalid
			}
			p = q - 1
		case '/':
			if q := c.comment(p, c.limit); q > p {
				p = q - 1
			}
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				inner := Span{Start: c.pos + 1, End: p}
				c.pos = p + 1
				c.SkipSpace()
				return inner
			}
		}
	}
	return Invalid
}

// Param is one element of a parameter list. Name is Invalid when the element
// has no "name:" prefix.
type Param struct {
	Name  Span
	Value Span
}

// Params splits the span on top-level commas, respecting nested (), [], {},
// quoted strings and comments. Elements may be prefixed with "name:".
// Surrounding whitespace is trimmed from every element; an empty span yields
// no params.
func (c *Cursor) Params(s Span) []Param {
	if !s.Valid() {
		return nil
	}
	var params []Param
	depth := 0
	start := s.Start
	for p := s.Start; p <= s.End; p++ {
		if p == s.End {
			if param, ok := c.param(start, p); ok {
				params = append(params, param)
			}
			break
		}
		switch c.src[p] {
		case '"':
			q := c.skipQuoted(p)
			if q < 0 || q > s.End {
				return nil
			}
			p = q - 1
		case '/':
			if q := c.comment(p, s.End); q > p {
				p = q - 1
			}
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case ',':
			if depth == 0 {
				param, _ := c.param(start, p)
				params = append(params, param)
				start = p + 1
			}
		}
	}
	return params
}

// param trims one element and splits off an optional "name:" prefix.
func (c *Cursor) param(start, end int) (Param, bool) {
	for start < end && isSpace(c.src[start]) {
		start++
	}
	for end > start && isSpace(c.src[end-1]) {
		end--
	}
	if start == end {
		return Param{Name: Invalid, Value: Span{Start: start, End: end}}, false
	}
	p := Param{Name: Invalid, Value: Span{Start: start, End: end}}
	q := start
	if isIdentStart(c.src[q]) {
		for q < end && isIdentChar(c.src[q]) {
			q++
		}
		nameEnd := q
		for q < end && isSpace(c.src[q]) {
			q++
		}
		// "a: 1" names the element; "a := 1" and "a::b" do not.
		if q < end && c.src[q] == ':' && (q+1 >= end || (c.src[q+1] != '=' && c.src[q+1] != ':')) {
			q++
			for q < end && isSpace(c.src[q]) {
				q++
			}
			p.Name = Span{Start: start, End: nameEnd}
			p.Value = Span{Start: q, End: end}
		}
	}
	return p, true
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
