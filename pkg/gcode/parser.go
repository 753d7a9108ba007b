// G-code line parser.
//
// A single-pass hand-rolled parser: optional N line number, then either a
// traditional letter+code command with single-letter parameters, an
// extended named command with key=value parameters, or a bare comment.
// Parameter letters are case-insensitive; whitespace between words is
// insignificant.
//
// Copyright (C) 2026  Klipper Estimator Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package gcode

import (
	"strconv"
	"strings"

	esterr "github.com/Annex-Engineering/klipper-estimator/pkg/errors"
)

// ParseLine parses one line of G-code. lineNo is used for error
// reporting only (1-based).
func ParseLine(line string, lineNo int) (*Command, error) {
	p := &lineParser{src: line, line: lineNo}
	return p.parse()
}

type lineParser struct {
	src  string
	line int
	pos  int
}

func (p *lineParser) rest() string { return p.src[p.pos:] }

func (p *lineParser) errf(format string, args ...any) error {
	return esterr.Parse(p.line, p.pos+1, format, args...)
}

func (p *lineParser) skipSpace() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t') {
		p.pos++
	}
}

func (p *lineParser) atEnd() bool     { return p.pos >= len(p.src) }
func (p *lineParser) atComment() bool { return !p.atEnd() && p.src[p.pos] == ';' }

// comment consumes the remainder of the line after ';'. Trailing
// whitespace is dropped, interior and leading whitespace kept.
func (p *lineParser) comment() string {
	p.pos++ // ';'
	c := strings.TrimRight(p.rest(), " \t\r\n")
	p.pos = len(p.src)
	return c
}

func (p *lineParser) parse() (*Command, error) {
	// Normalize line endings before position tracking.
	p.src = strings.TrimRight(p.src, "\r\n")
	p.skipSpace()

	if p.atEnd() {
		return &Command{Op: NopOp{}}, nil
	}
	if p.atComment() {
		return &Command{Op: NopOp{}, Comment: p.comment()}, nil
	}

	if err := p.lineNumber(); err != nil {
		return nil, err
	}
	p.skipSpace()

	if p.atEnd() {
		return &Command{Op: NopOp{}}, nil
	}
	if p.atComment() {
		return &Command{Op: NopOp{}, Comment: p.comment()}, nil
	}

	c := p.src[p.pos]
	if !isAlpha(c) {
		return nil, p.errf("expected command letter, got %q", c)
	}

	// A letter directly followed by digits is a traditional command,
	// unless an underscore continues the word (M117_WRAP); anything else
	// alphanumeric is an extended command name.
	if p.pos+1 < len(p.src) && isDigit(p.src[p.pos+1]) {
		end := p.pos + 1
		for end < len(p.src) && isDigit(p.src[end]) {
			end++
		}
		if end >= len(p.src) || p.src[end] != '_' {
			return p.traditional()
		}
	}
	return p.extended()
}

// lineNumber consumes an optional N<digits> prefix.
func (p *lineParser) lineNumber() error {
	if p.atEnd() || (p.src[p.pos] != 'N' && p.src[p.pos] != 'n') {
		return nil
	}
	if p.pos+1 >= len(p.src) || !isDigit(p.src[p.pos+1]) {
		return nil // Not a line number; likely an extended command.
	}
	p.pos++
	for p.pos < len(p.src) && isDigit(p.src[p.pos]) {
		p.pos++
	}
	return nil
}

func (p *lineParser) traditional() (*Command, error) {
	letter := upper(p.src[p.pos])
	p.pos++
	start := p.pos
	for p.pos < len(p.src) && isDigit(p.src[p.pos]) {
		p.pos++
	}
	code, err := strconv.ParseUint(p.src[start:p.pos], 10, 16)
	if err != nil {
		p.pos = start
		return nil, p.errf("bad command code %q", p.src[start:])
	}
	p.skipSpace()

	var params TraditionalParams
	for !p.atEnd() && !p.atComment() {
		c := p.src[p.pos]
		if !isAlpha(c) {
			return nil, p.errf("expected parameter letter, got %q", c)
		}
		p.pos++
		vstart := p.pos
		for p.pos < len(p.src) && !isSpace(p.src[p.pos]) && p.src[p.pos] != ';' {
			p.pos++
		}
		params = append(params, TraditionalParam{Letter: upper(c), Value: p.src[vstart:p.pos]})
		p.skipSpace()
	}

	cmd := &Command{Op: mapTraditional(letter, uint16(code), params)}
	if p.atComment() {
		cmd.Comment = p.comment()
	}
	return cmd, nil
}

// mapTraditional promotes G0/G1 into a MoveOp; every other command stays
// a TraditionalOp. Unparseable move axis values are skipped, matching
// firmware tolerance for slicer quirks.
func mapTraditional(letter byte, code uint16, params TraditionalParams) Operation {
	if letter != 'G' || (code != 0 && code != 1) {
		return TraditionalOp{Letter: letter, Code: code, Params: params}
	}
	var m MoveOp
	for _, param := range params {
		v, err := strconv.ParseFloat(param.Value, 64)
		if err != nil {
			continue
		}
		val := v
		switch param.Letter {
		case 'X':
			m.X = &val
		case 'Y':
			m.Y = &val
		case 'Z':
			m.Z = &val
		case 'E':
			m.E = &val
		case 'F':
			m.F = &val
		}
	}
	return m
}

func (p *lineParser) extended() (*Command, error) {
	start := p.pos
	p.pos++
	for p.pos < len(p.src) && (isAlphaNum(p.src[p.pos]) || p.src[p.pos] == '_') {
		p.pos++
	}
	name := strings.ToLower(p.src[start:p.pos])
	p.skipSpace()

	params := ExtendedParams{}
	for !p.atEnd() && !p.atComment() {
		key, value, err := p.extendedParam()
		if err != nil {
			return nil, err
		}
		params[strings.ToLower(key)] = value
		p.skipSpace()
	}

	cmd := &Command{Op: ExtendedOp{Name: name, Params: params}}
	if p.atComment() {
		cmd.Comment = p.comment()
	}
	return cmd, nil
}

func (p *lineParser) extendedParam() (string, string, error) {
	eq := strings.IndexByte(p.rest(), '=')
	if eq < 0 {
		return "", "", p.errf("expected key=value parameter, got %q", p.rest())
	}
	key := p.src[p.pos : p.pos+eq]
	p.pos += eq + 1
	value, err := p.maybeQuoted()
	if err != nil {
		return "", "", err
	}
	return key, value, nil
}

func (p *lineParser) maybeQuoted() (string, error) {
	if !p.atEnd() && p.src[p.pos] == '"' {
		p.pos++
		end := strings.IndexByte(p.rest(), '"')
		if end < 0 {
			return "", p.errf("unterminated quoted string")
		}
		v := p.src[p.pos : p.pos+end]
		p.pos += end + 1
		return v, nil
	}
	start := p.pos
	for p.pos < len(p.src) && !isSpace(p.src[p.pos]) && p.src[p.pos] != ';' && p.src[p.pos] != '"' {
		p.pos++
	}
	if !p.atEnd() && p.src[p.pos] == '"' {
		return "", p.errf("unexpected quote in parameter value")
	}
	return p.src[start:p.pos], nil
}

func isAlpha(c byte) bool    { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
func isDigit(c byte) bool    { return c >= '0' && c <= '9' }
func isAlphaNum(c byte) bool { return isAlpha(c) || isDigit(c) }
func isSpace(c byte) bool    { return c == ' ' || c == '\t' }

func upper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - 'a' + 'A'
	}
	return c
}
