// G-code command model.
//
// Commands are parsed into one of four operation shapes: moves (G0/G1),
// traditional letter+number commands, extended (named) commands, and
// comment-only or empty lines. The model round-trips: String() emits a
// line that parses back to an equal command, which the post-processor
// relies on when rewriting slicer placeholders.
//
// Copyright (C) 2026  Klipper Estimator Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package gcode

import (
	"sort"
	"strconv"
	"strings"
)

// Operation is the decoded payload of a single G-code line.
type Operation interface {
	// String renders the operation without its comment.
	String() string

	isOperation()
}

// NopOp is an empty or comment-only line.
type NopOp struct{}

func (NopOp) isOperation()   {}
func (NopOp) String() string { return "" }

// MoveOp is a G0/G1 move. Unset axis words are nil.
type MoveOp struct {
	X, Y, Z, E, F *float64
}

func (MoveOp) isOperation() {}

func (m MoveOp) String() string {
	var sb strings.Builder
	sb.WriteString("G1")
	emit := func(letter string, v *float64) {
		if v != nil {
			sb.WriteString(" ")
			sb.WriteString(letter)
			sb.WriteString(strconv.FormatFloat(*v, 'f', -1, 64))
		}
	}
	emit("X", m.X)
	emit("Y", m.Y)
	emit("Z", m.Z)
	emit("E", m.E)
	emit("F", m.F)
	return sb.String()
}

// HasAxisWord reports whether any of X/Y/Z/E is present.
func (m MoveOp) HasAxisWord() bool {
	return m.X != nil || m.Y != nil || m.Z != nil || m.E != nil
}

// TraditionalOp is a letter+code command such as M204 or T1, with
// single-letter parameters.
type TraditionalOp struct {
	Letter byte
	Code   uint16
	Params TraditionalParams
}

func (TraditionalOp) isOperation() {}

func (t TraditionalOp) String() string {
	s := string(t.Letter) + strconv.Itoa(int(t.Code))
	if len(t.Params) > 0 {
		s += " " + t.Params.String()
	}
	return s
}

// TraditionalParam is a single letter-prefixed parameter with its raw value.
type TraditionalParam struct {
	Letter byte
	Value  string
}

// TraditionalParams preserves parameter order as written.
type TraditionalParams []TraditionalParam

// GetString returns the raw value of the first parameter with the given
// letter.
func (p TraditionalParams) GetString(letter byte) (string, bool) {
	for _, param := range p {
		if param.Letter == letter {
			return param.Value, true
		}
	}
	return "", false
}

// GetFloat parses the parameter with the given letter as a float64.
func (p TraditionalParams) GetFloat(letter byte) (float64, bool) {
	raw, ok := p.GetString(letter)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (p TraditionalParams) String() string {
	parts := make([]string, 0, len(p))
	for _, param := range p {
		parts = append(parts, string(param.Letter)+param.Value)
	}
	return strings.Join(parts, " ")
}

// ExtendedOp is a named command such as SET_VELOCITY_LIMIT, with
// key=value parameters. Names and keys are stored lowercased.
type ExtendedOp struct {
	Name   string
	Params ExtendedParams
}

func (ExtendedOp) isOperation() {}

func (e ExtendedOp) String() string {
	s := e.Name
	if len(e.Params) > 0 {
		s += " " + e.Params.String()
	}
	return s
}

// ExtendedParams maps lowercased keys to raw values.
type ExtendedParams map[string]string

// GetString returns the raw value for key.
func (p ExtendedParams) GetString(key string) (string, bool) {
	v, ok := p[key]
	return v, ok
}

// GetFloat parses the value for key as a float64.
func (p ExtendedParams) GetFloat(key string) (float64, bool) {
	raw, ok := p[key]
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (p ExtendedParams) String() string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, quoteIfNeeded(k)+"="+quoteIfNeeded(p[k]))
	}
	return strings.Join(parts, " ")
}

func quoteIfNeeded(s string) string {
	if strings.ContainsAny(s, " \t") {
		return `"` + s + `"`
	}
	return s
}

// Command is one parsed G-code line: an operation plus its trailing
// comment, if any. The comment excludes the leading ';' but keeps
// interior whitespace.
type Command struct {
	Op      Operation
	Comment string
}

// IsNop reports whether the command carries no operation.
func (c *Command) IsNop() bool {
	_, ok := c.Op.(NopOp)
	return ok
}

func (c *Command) String() string {
	op := c.Op.String()
	if c.Comment == "" {
		return op
	}
	if c.IsNop() {
		return ";" + c.Comment
	}
	return op + " ;" + c.Comment
}
