// Per-dialect time placeholder rewriting.
//
// During the estimation pass PostCommand observes each input command
// alongside the running total; during the output pass OutputProcess
// returns a replacement command for lines carrying a time placeholder.
// Progress markers (M73, TIME_ELAPSED, REMAINING_TIME) are recomputed
// from the totals buffered at their original file positions.
//
// Copyright (C) 2026  Klipper Estimator Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package slicer

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/Annex-Engineering/klipper-estimator/pkg/gcode"
)

// Result carries the state an interceptor needs while rewriting.
type Result struct {
	// TotalTime is the running (during estimation) or final (during
	// output) estimate in seconds.
	TotalTime float64
	// Slicer is the detected preset, if any.
	Slicer *Preset
}

// Interceptor rewrites one slicer dialect's time placeholders.
type Interceptor interface {
	// PostCommand observes an input command during the estimation pass,
	// with result.TotalTime holding the time elapsed up to and
	// including it.
	PostCommand(cmd *gcode.Command, result *Result)

	// OutputProcess returns the replacement for cmd during the output
	// pass, or false to keep the line unchanged.
	OutputProcess(cmd *gcode.Command, result *Result) (*gcode.Command, bool)
}

type noopInterceptor struct{}

func (noopInterceptor) PostCommand(*gcode.Command, *Result) {}
func (noopInterceptor) OutputProcess(*gcode.Command, *Result) (*gcode.Command, bool) {
	return nil, false
}

func isM73(cmd *gcode.Command) bool {
	op, ok := cmd.Op.(gcode.TraditionalOp)
	return ok && op.Letter == 'M' && op.Code == 73
}

// m73Interceptor recomputes M73 progress/remaining markers.
type m73Interceptor struct {
	timeBuffer []float64
}

func (i *m73Interceptor) PostCommand(cmd *gcode.Command, result *Result) {
	if isM73(cmd) {
		i.timeBuffer = append(i.timeBuffer, result.TotalTime)
	}
}

func (i *m73Interceptor) OutputProcess(cmd *gcode.Command, result *Result) (*gcode.Command, bool) {
	if !isM73(cmd) || len(i.timeBuffer) == 0 {
		return nil, false
	}
	next := i.timeBuffer[0]
	i.timeBuffer = i.timeBuffer[1:]
	return &gcode.Command{
		Op: gcode.TraditionalOp{
			Letter: 'M',
			Code:   73,
			Params: gcode.TraditionalParams{
				{Letter: 'P', Value: fmt.Sprintf("%.3f", next/result.TotalTime*100.0)},
				{Letter: 'R', Value: fmt.Sprintf("%.0f", math.Round((result.TotalTime-next)/60.0))},
			},
		},
	}, true
}

var reEstimatedTime = regexp.MustCompile(`^ estimated printing time \(.*?\) =`)

// psssInterceptor handles PrusaSlicer and SuperSlicer output: the
// "estimated printing time" comments plus M73 progress markers.
type psssInterceptor struct {
	m73 m73Interceptor
}

func (i *psssInterceptor) PostCommand(cmd *gcode.Command, result *Result) {
	i.m73.PostCommand(cmd, result)
}

func (i *psssInterceptor) OutputProcess(cmd *gcode.Command, result *Result) (*gcode.Command, bool) {
	if out, ok := i.m73.OutputProcess(cmd, result); ok {
		return out, true
	}
	if cmd.Comment == "" {
		return nil, false
	}
	if m := reEstimatedTime.FindString(cmd.Comment); m != "" {
		return &gcode.Command{
			Op:      gcode.NopOp{},
			Comment: m + formatDHMS(result.TotalTime),
		}, true
	}
	return nil, false
}

// formatDHMS renders seconds the way PrusaSlicer does: " 1d 2h 3m 4s"
// with zero-valued day, hour and minute units omitted; seconds are
// always printed.
func formatDHMS(time float64) string {
	var out strings.Builder
	time = math.Ceil(time)
	if d := math.Floor(time / 86400.0); d > 0 {
		fmt.Fprintf(&out, " %.0fd", d)
	}
	time = math.Mod(time, 86400.0)
	if h := math.Floor(time / 3600.0); h > 0 {
		fmt.Fprintf(&out, " %.0fh", h)
	}
	time = math.Mod(time, 3600.0)
	if m := math.Floor(time / 60.0); m > 0 {
		fmt.Fprintf(&out, " %.0fm", m)
	}
	fmt.Fprintf(&out, " %.0fs", math.Mod(time, 60.0))
	return out.String()
}

// ideaMakerInterceptor handles ideaMaker's Print Time / PRINTING_TIME /
// REMAINING_TIME comments.
type ideaMakerInterceptor struct {
	timeBuffer []float64
}

func (i *ideaMakerInterceptor) PostCommand(cmd *gcode.Command, result *Result) {
	if strings.HasPrefix(cmd.Comment, "PRINTING_TIME: ") {
		i.timeBuffer = append(i.timeBuffer, result.TotalTime)
	}
}

func (i *ideaMakerInterceptor) OutputProcess(cmd *gcode.Command, result *Result) (*gcode.Command, bool) {
	switch {
	case strings.HasPrefix(cmd.Comment, "Print Time: "):
		return nopComment(fmt.Sprintf("Print Time: %.0f", math.Ceil(result.TotalTime))), true
	case strings.HasPrefix(cmd.Comment, "PRINTING_TIME: "):
		if len(i.timeBuffer) > 0 {
			return nopComment(fmt.Sprintf("PRINTING_TIME: %.0f", math.Ceil(i.timeBuffer[0]))), true
		}
	case strings.HasPrefix(cmd.Comment, "REMAINING_TIME: "):
		if len(i.timeBuffer) > 0 {
			next := i.timeBuffer[0]
			i.timeBuffer = i.timeBuffer[1:]
			return nopComment(fmt.Sprintf("REMAINING_TIME: %.0f", math.Ceil(result.TotalTime-next))), true
		}
	}
	return nil, false
}

// curaInterceptor handles Cura's TIME / PRINT.TIME headers and
// TIME_ELAPSED progress markers.
type curaInterceptor struct {
	timeBuffer []float64
}

func (i *curaInterceptor) PostCommand(cmd *gcode.Command, result *Result) {
	if strings.HasPrefix(cmd.Comment, "TIME_ELAPSED:") {
		i.timeBuffer = append(i.timeBuffer, result.TotalTime)
	}
}

func (i *curaInterceptor) OutputProcess(cmd *gcode.Command, result *Result) (*gcode.Command, bool) {
	switch {
	case strings.HasPrefix(cmd.Comment, "TIME:"):
		return nopComment(fmt.Sprintf("TIME:%.0f", math.Ceil(result.TotalTime))), true
	case strings.HasPrefix(cmd.Comment, "PRINT.TIME:"):
		return nopComment(fmt.Sprintf("PRINT.TIME:%.0f", math.Ceil(result.TotalTime))), true
	case strings.HasPrefix(cmd.Comment, "TIME_ELAPSED:"):
		if len(i.timeBuffer) > 0 {
			next := i.timeBuffer[0]
			i.timeBuffer = i.timeBuffer[1:]
			return nopComment(fmt.Sprintf("TIME_ELAPSED:%.0f", math.Ceil(next))), true
		}
	}
	return nil, false
}

func nopComment(comment string) *gcode.Command {
	return &gcode.Command{Op: gcode.NopOp{}, Comment: comment}
}
