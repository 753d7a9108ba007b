// Modal toolhead state: position, positioning modes, feedrate and
// override factors.
//
// Copyright (C) 2026  Klipper Estimator Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package planner

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	esterr "github.com/Annex-Engineering/klipper-estimator/pkg/errors"
)

// PositionMode selects absolute or relative interpretation of axis
// words.
type PositionMode int

const (
	Absolute PositionMode = iota
	Relative
)

// ToolheadState tracks the modal machine state the G-code stream
// mutates: logical position, per-axis positioning modes, the commanded
// velocity, and the M220/M221 override factors.
type ToolheadState struct {
	Position mgl64.Vec4
	// PositionModes holds the mode per axis (x, y, z, e). XYZ share
	// G90/G91; E is switched only by M82/M83.
	PositionModes [4]PositionMode
	Limits        PrinterLimits

	// Velocity is the modal commanded velocity in mm/s (F word divided
	// by 60, scaled by the speed factor).
	Velocity float64

	// ActiveExtruder indexes Limits.Extruders after a T<n> command.
	ActiveExtruder int

	speedFactor   float64
	extrudeFactor float64
}

// NewToolheadState creates the initial modal state for a run: absolute
// XYZ, relative E, velocity pinned at the machine limit.
func NewToolheadState(limits PrinterLimits) ToolheadState {
	return ToolheadState{
		PositionModes: [4]PositionMode{Absolute, Absolute, Absolute, Relative},
		Velocity:      limits.MaxVelocity,
		Limits:        limits,
		speedFactor:   1.0,
		extrudeFactor: 1.0,
	}
}

// SetSpeed sets the modal velocity from a feedrate already converted to
// mm/s. The speed factor applies on top.
func (th *ToolheadState) SetSpeed(v float64) error {
	if v <= 0 {
		return esterr.Config("requested toolhead velocity %v <= 0", v)
	}
	th.Velocity = v * th.speedFactor
	return nil
}

// SetSpeedFactor applies an M220 percentage (as a ratio). The modal
// velocity rescales so the override also affects the in-flight feedrate.
func (th *ToolheadState) SetSpeedFactor(factor float64) error {
	if factor <= 0 {
		return esterr.Config("speed factor %v <= 0", factor)
	}
	th.Velocity = th.Velocity / th.speedFactor * factor
	th.speedFactor = factor
	return nil
}

// SetExtrudeFactor applies an M221 percentage (as a ratio) to subsequent
// extrusion distances.
func (th *ToolheadState) SetExtrudeFactor(factor float64) error {
	if factor <= 0 {
		return esterr.Config("extrude factor %v <= 0", factor)
	}
	th.extrudeFactor = factor
	return nil
}

// PerformMove advances the logical position by the given axis words
// (nil means unset) and returns the resulting move. The extrude factor
// scales the E displacement.
func (th *ToolheadState) PerformMove(axes [4]*float64) Move {
	newPos := th.Position

	for axis, v := range axes {
		if v == nil {
			continue
		}
		target := newElement(*v, newPos[axis], th.PositionModes[axis])
		if axis == 3 {
			target = newPos[axis] + (target-newPos[axis])*th.extrudeFactor
		}
		newPos[axis] = target
	}

	m := newMove(th.Position, newPos, th)

	for _, c := range th.Limits.MoveCheckers {
		c.Check(&m)
	}
	th.applyExtruderLimits(&m)

	th.Position = newPos
	return m
}

// PerformRelativeMove issues a move with all axes treated as relative,
// leaving the modal modes untouched. Used by firmware retraction.
func (th *ToolheadState) PerformRelativeMove(axes [4]*float64, kind Kind) Move {
	saved := th.PositionModes
	th.PositionModes = [4]PositionMode{Relative, Relative, Relative, Relative}
	m := th.PerformMove(axes)
	m.Kind = kind
	th.PositionModes = saved
	return m
}

// applyExtruderLimits applies the active extruder's own velocity and
// acceleration caps to an extrude-only move, on top of the configured
// checkers.
func (th *ToolheadState) applyExtruderLimits(m *Move) {
	ext, ok := th.Limits.ExtruderFor(th.ActiveExtruder)
	if !ok || !m.IsExtrudeOnlyMove() {
		return
	}
	lim := ExtruderLimiter{MaxVelocity: ext.MaxVelocity, MaxAccel: ext.MaxAccel}
	lim.check(m)
}

func newElement(v, old float64, mode PositionMode) float64 {
	if mode == Relative {
		return old + v
	}
	return v
}

// SetPositionMode sets the mode for axes [from, to).
func (th *ToolheadState) SetPositionMode(from, to int, mode PositionMode) {
	for i := from; i < to; i++ {
		th.PositionModes[i] = mode
	}
}

// instantCornerVelocity returns the active extruder's instantaneous
// corner velocity, falling back to the global limit.
func (th *ToolheadState) instantCornerVelocity() float64 {
	if ext, ok := th.Limits.ExtruderFor(th.ActiveExtruder); ok && ext.InstantCornerVelocity > 0 {
		return ext.InstantCornerVelocity
	}
	return th.Limits.InstantCornerVelocity
}

// extruderJunctionSpeedV2 caps the junction so the instantaneous change
// in extruder velocity stays at or below the instant corner velocity.
func (th *ToolheadState) extruderJunctionSpeedV2(cur, prev *Move) float64 {
	diffR := math.Abs(cur.Rate[3] - prev.Rate[3])
	if diffR > 0 {
		v := th.instantCornerVelocity() / diffR
		return v * v
	}
	return cur.MaxCruiseV2
}
