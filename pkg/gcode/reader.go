// Copyright (C) 2026  Klipper Estimator Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package gcode

import (
	"bufio"
	"io"

	esterr "github.com/Annex-Engineering/klipper-estimator/pkg/errors"
)

// Reader scans a G-code stream line by line. Usage mirrors
// bufio.Scanner:
//
//	r := gcode.NewReader(f)
//	for r.Scan() {
//	    cmd := r.Command()
//	    ...
//	}
//	if err := r.Err(); err != nil { ... }
type Reader struct {
	scanner *bufio.Scanner
	line    int
	cmd     *Command
	err     error
}

// NewReader creates a Reader over r.
func NewReader(r io.Reader) *Reader {
	s := bufio.NewScanner(r)
	// Some slicers emit very long thumbnail comment lines.
	s.Buffer(make([]byte, 0, 256*1024), 1024*1024)
	return &Reader{scanner: s}
}

// Scan advances to the next command. It returns false at end of input or
// on the first error.
func (r *Reader) Scan() bool {
	if r.err != nil {
		return false
	}
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			r.err = esterr.IO(err, "reading gcode at line %d", r.line+1)
		}
		return false
	}
	r.line++
	cmd, err := ParseLine(r.scanner.Text(), r.line)
	if err != nil {
		r.err = err
		return false
	}
	r.cmd = cmd
	return true
}

// Command returns the command parsed by the last successful Scan.
func (r *Reader) Command() *Command { return r.cmd }

// Text returns the raw text of the current line.
func (r *Reader) Text() string { return r.scanner.Text() }

// Line returns the 1-based number of the current line.
func (r *Reader) Line() int { return r.line }

// Err returns the first error encountered, if any.
func (r *Reader) Err() error { return r.err }
