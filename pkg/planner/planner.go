// The planning engine: G-code commands in, finalized moves and delays
// out.
//
// Copyright (C) 2026  Klipper Estimator Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package planner

import (
	"strconv"
	"strings"

	"github.com/Annex-Engineering/klipper-estimator/pkg/gcode"
)

// indeterminateDelay is the placeholder duration charged for operations
// whose real duration depends on the machine (homing, heating, filament
// change).
const indeterminateDelay = 0.1

const indeterminateKindLabel = "Indeterminate time"

// addTimeDirective is the comment directive that adds a fixed number of
// seconds to the estimate, e.g. from a macro annotation.
const addTimeDirective = "ESTIMATOR_ADD_TIME "

// Planner reconstructs the controller's move plan from a G-code stream.
type Planner struct {
	operations OperationSequence
	Toolhead   ToolheadState
	Kinds      KindTracker

	retraction *retractionState
	arcs       arcState
}

// New creates a planner for the given limits.
func New(limits PrinterLimits) *Planner {
	p := &Planner{
		Toolhead: NewToolheadState(limits),
		Kinds:    NewKindTracker(),
	}
	if limits.FirmwareRetraction != nil {
		p.retraction = &retractionState{}
	}
	return p
}

// ProcessCommand runs one command through the planning engine and
// appends its operations to the open sequence. It returns the number of
// planning operations the command produced (always at least one, so
// callers can realign planner output with input lines).
func (p *Planner) ProcessCommand(cmd *gcode.Command) (int, error) {
	n, err := p.dispatch(cmd)
	if err != nil {
		return n, err
	}
	if n == 0 {
		p.operations.AddFill()
		n = 1
	}
	return n, nil
}

func (p *Planner) dispatch(cmd *gcode.Command) (int, error) {
	if d, ok := p.asDwell(cmd); ok {
		p.operations.AddDelay(d)
		return 1, nil
	}

	switch op := cmd.Op.(type) {
	case gcode.MoveOp:
		return p.processMove(op, cmd.Comment)
	case gcode.TraditionalOp:
		return p.processTraditional(op, cmd.Comment)
	case gcode.ExtendedOp:
		return p.processExtended(op)
	case gcode.NopOp:
		if cmd.Comment != "" {
			return p.processComment(cmd.Comment)
		}
	}
	p.operations.AddFill()
	return 1, nil
}

func (p *Planner) processMove(op gcode.MoveOp, comment string) (int, error) {
	if op.F != nil {
		if err := p.Toolhead.SetSpeed(*op.F / 60.0); err != nil {
			return 0, err
		}
	}

	if !op.HasAxisWord() {
		p.operations.AddFill()
		return 1, nil
	}

	m := p.Toolhead.PerformMove([4]*float64{op.X, op.Y, op.Z, op.E})
	m.Kind = p.Kinds.KindFromComment(comment)
	m.Layer = p.Kinds.CurrentLayer
	p.operations.AddMove(m, &p.Toolhead)
	return 1, nil
}

func (p *Planner) processTraditional(op gcode.TraditionalOp, comment string) (int, error) {
	switch {
	case op.Letter == 'G' && op.Code == 10:
		if p.retraction != nil {
			return p.retraction.retract(p), nil
		}
	case op.Letter == 'G' && op.Code == 11:
		if p.retraction != nil {
			return p.retraction.unretract(p), nil
		}
	case op.Letter == 'G' && (op.Code == 2 || op.Code == 3):
		kind := p.Kinds.KindFromComment(comment)
		dir := arcClockwise
		if op.Code == 3 {
			dir = arcCounterClockwise
		}
		return p.arcs.generateArc(p, kind, op.Params, dir), nil
	case op.Letter == 'G' && op.Code == 17:
		p.arcs.setPlane(planeXY)
	case op.Letter == 'G' && op.Code == 18:
		p.arcs.setPlane(planeXZ)
	case op.Letter == 'G' && op.Code == 19:
		p.arcs.setPlane(planeYZ)
	case op.Letter == 'G' && op.Code == 92:
		for axis, letter := range [4]byte{'X', 'Y', 'Z', 'E'} {
			if v, ok := op.Params.GetFloat(letter); ok {
				p.Toolhead.Position[axis] = v
			}
		}
	case op.Letter == 'M' && op.Code == 82:
		p.Toolhead.PositionModes[3] = Absolute
	case op.Letter == 'M' && op.Code == 83:
		p.Toolhead.PositionModes[3] = Relative
	case op.Letter == 'G' && op.Code == 90:
		// XYZ only; extrusion mode stays with M82/M83.
		p.Toolhead.SetPositionMode(0, 3, Absolute)
	case op.Letter == 'G' && op.Code == 91:
		p.Toolhead.SetPositionMode(0, 3, Relative)
	case op.Letter == 'M' && op.Code == 204:
		s, hasS := op.Params.GetFloat('S')
		pv, hasP := op.Params.GetFloat('P')
		t, hasT := op.Params.GetFloat('T')
		switch {
		case hasS:
			p.Toolhead.Limits.SetMaxAcceleration(s)
		case hasP && hasT:
			p.Toolhead.Limits.SetMaxAcceleration(minAll(pv, t))
		}
	case op.Letter == 'M' && op.Code == 220:
		if s, ok := op.Params.GetFloat('S'); ok {
			if err := p.Toolhead.SetSpeedFactor(s / 100.0); err != nil {
				return 0, err
			}
		}
	case op.Letter == 'M' && op.Code == 221:
		if s, ok := op.Params.GetFloat('S'); ok {
			if err := p.Toolhead.SetExtrudeFactor(s / 100.0); err != nil {
				return 0, err
			}
		}
	case op.Letter == 'M' && op.Code == 400:
		p.operations.AddSync()
		return 1, nil
	case op.Letter == 'T':
		// Tool change: the kinematic frame restarts from a stop.
		p.Toolhead.ActiveExtruder = int(op.Code)
		p.operations.AddSync()
		return 1, nil
	}
	p.operations.AddFill()
	return 1, nil
}

func (p *Planner) processExtended(op gcode.ExtendedOp) (int, error) {
	switch op.Name {
	case "set_velocity_limit":
		if v, ok := op.Params.GetFloat("velocity"); ok {
			p.Toolhead.Limits.SetMaxVelocity(v)
		}
		if v, ok := op.Params.GetFloat("accel"); ok {
			p.Toolhead.Limits.SetMaxAcceleration(v)
		}
		if v, ok := op.Params.GetFloat("accel_to_decel"); ok {
			p.Toolhead.Limits.SetMaxAccelToDecel(v)
		}
		if v, ok := op.Params.GetFloat("minimum_cruise_ratio"); ok {
			p.Toolhead.Limits.SetMinimumCruiseRatio(v)
		}
		if v, ok := op.Params.GetFloat("square_corner_velocity"); ok {
			p.Toolhead.Limits.SetSquareCornerVelocity(v)
		}
	case "set_retraction":
		if p.retraction != nil {
			setRetractionOptions(&p.Toolhead, op.Params)
		}
	}
	p.operations.AddFill()
	return 1, nil
}

func (p *Planner) processComment(comment string) (int, error) {
	trimmed := strings.TrimSpace(comment)

	if rest, ok := strings.CutPrefix(trimmed, "TYPE:"); ok {
		// ideaMaker and Cura style kind markers, renamed through the
		// configured move_kinds mapping when one matches.
		if mapped, ok := p.Toolhead.Limits.MoveKinds[rest]; ok {
			rest = mapped
		}
		p.Kinds.CurrentKind = p.Kinds.GetKind(rest)
		p.operations.AddFill()
		return 1, nil
	}
	if p.Kinds.ObserveLayerComment(comment) {
		p.operations.AddFill()
		return 1, nil
	}
	if rest, ok := strings.CutPrefix(strings.TrimLeft(comment, " \t"), addTimeDirective); ok {
		if d, ok := p.parseAddTime(rest); ok {
			p.operations.AddDelay(d)
			return 1, nil
		}
	}
	p.operations.AddFill()
	return 1, nil
}

// parseAddTime parses "<seconds> [label]".
func (p *Planner) parseAddTime(arg string) (Delay, bool) {
	num, label, _ := strings.Cut(arg, " ")
	seconds, err := strconv.ParseFloat(num, 64)
	if err != nil || seconds < 0 {
		return Delay{}, false
	}
	kind := KindNone
	if label != "" {
		kind = p.Kinds.GetKind(label)
	}
	return Delay{Duration: seconds, Kind: kind, Indeterminate: true}, true
}

// asDwell maps commands that halt motion for an out-of-band duration.
func (p *Planner) asDwell(cmd *gcode.Command) (Delay, bool) {
	indeterminate := func() (Delay, bool) {
		return Delay{
			Duration:      indeterminateDelay,
			Kind:          p.Kinds.GetKind(indeterminateKindLabel),
			Indeterminate: true,
		}, true
	}

	switch op := cmd.Op.(type) {
	case gcode.TraditionalOp:
		switch {
		case op.Letter == 'G' && op.Code == 4:
			if ms, ok := op.Params.GetFloat('P'); ok {
				return Delay{Duration: ms / 1000.0}, true
			}
			if s, ok := op.Params.GetFloat('S'); ok {
				return Delay{Duration: s}, true
			}
			return Delay{Duration: 0.25}, true
		case op.Letter == 'G' && op.Code == 28:
			return indeterminate()
		case op.Letter == 'M' && (op.Code == 109 || op.Code == 190):
			return indeterminate()
		case op.Letter == 'M' && op.Code == 600:
			return indeterminate()
		}
	case gcode.ExtendedOp:
		if op.Name == "temperature_wait" {
			return indeterminate()
		}
	}
	return Delay{}, false
}

// Finalize fully resolves all buffered moves; call at end of input.
func (p *Planner) Finalize() {
	p.operations.Flush()
}

// NextOperation pops the next finalized operation.
func (p *Planner) NextOperation() (Operation, bool) {
	return p.operations.NextOperation()
}

// Operations drains all currently-finalized operations.
func (p *Planner) Operations() []Operation {
	var ops []Operation
	for {
		op, ok := p.NextOperation()
		if !ok {
			return ops
		}
		ops = append(ops, op)
	}
}

// MoveKind resolves a move's kind label ("" when unset).
func (p *Planner) MoveKind(m *Move) string {
	return p.Kinds.Resolve(m.Kind)
}

// KindLabel resolves any kind ("" for KindNone).
func (p *Planner) KindLabel(k Kind) string {
	return p.Kinds.Resolve(k)
}
