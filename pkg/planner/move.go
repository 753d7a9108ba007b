// A single planned displacement with its kinematic state.
//
// Common suffixes: D is distance (mm), V is velocity (mm/s), V2 is
// velocity squared (mm²/s²), T is time (s). Junction velocities are
// tracked squared throughout so the look-ahead passes never take a
// square root.
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

const f64Epsilon = 2.220446049250313e-16

// extrudeOnlyAccel stands in for "unlimited" on extrude-only moves; the
// extruder limiter caps it to the configured value.
const extrudeOnlyAccel = 99999999.9

// Move is a single displacement between two (x, y, z, e) positions. It
// is mutable while buffered in the planner and treated as immutable once
// emitted.
type Move struct {
	Start    mgl64.Vec4
	End      mgl64.Vec4
	Distance float64
	// Rate is the unit direction including the extrusion component.
	Rate              mgl64.Vec4
	RequestedVelocity float64
	Acceleration      float64
	JunctionDeviation float64

	MaxStartV2    float64
	MaxCruiseV2   float64
	MaxDV2        float64
	MaxSmoothedV2 float64
	SmoothedDV2   float64

	Kind  Kind
	Layer int

	// Resolved by the look-ahead pass.
	StartV  float64
	CruiseV float64
	EndV    float64
}

// newMove builds a move between start and end under the toolhead's
// current modal state.
func newMove(start, end mgl64.Vec4, th *ToolheadState) Move {
	if start.Vec3() == end.Vec3() {
		return newExtrudeMove(start, end, th)
	}
	return newKinematicMove(start, end, th)
}

func newExtrudeMove(start, end mgl64.Vec4, th *ToolheadState) Move {
	de := end[3] - start[3]
	moveD := math.Abs(de)
	invMoveD := 0.0
	if moveD > 0 {
		invMoveD = 1.0 / moveD
	}
	return Move{
		Start:             start,
		End:               end,
		Distance:          moveD,
		Rate:              mgl64.Vec4{0, 0, 0, de}.Mul(invMoveD),
		RequestedVelocity: th.Velocity,
		Acceleration:      extrudeOnlyAccel,
		JunctionDeviation: th.Limits.JunctionDeviation,
		MaxStartV2:        0,
		MaxCruiseV2:       th.Velocity * th.Velocity,
		MaxDV2:            2.0 * moveD * extrudeOnlyAccel,
		MaxSmoothedV2:     0,
		SmoothedDV2:       2.0 * moveD * extrudeOnlyAccel,
		Kind:              KindNone,
	}
}

func newKinematicMove(start, end mgl64.Vec4, th *ToolheadState) Move {
	distance := start.Vec3().Sub(end.Vec3()).Len() // Can't be zero
	velocity := math.Min(th.Velocity, th.Limits.MaxVelocity)

	return Move{
		Start:             start,
		End:               end,
		Distance:          distance,
		Rate:              end.Sub(start).Mul(1.0 / distance),
		RequestedVelocity: velocity,
		Acceleration:      th.Limits.MaxAccel,
		JunctionDeviation: th.Limits.JunctionDeviation,
		MaxStartV2:        0,
		MaxCruiseV2:       velocity * velocity,
		MaxDV2:            2.0 * distance * th.Limits.MaxAccel,
		MaxSmoothedV2:     0,
		SmoothedDV2:       2.0 * distance * th.Limits.MaxAccelToDecel,
		Kind:              KindNone,
	}
}

// applyJunction relaxes MaxStartV2 against the previous move using the
// junction deviation model.
func (m *Move) applyJunction(prev *Move, th *ToolheadState) {
	if !m.IsKinematicMove() || !prev.IsKinematicMove() {
		return
	}

	junctionCosTheta := -m.Rate.Vec3().Dot(prev.Rate.Vec3())
	if junctionCosTheta > 0.999999 {
		// Full reversal; the start velocity stays pinned at zero.
		return
	}
	junctionCosTheta = math.Max(junctionCosTheta, -0.999999)
	sinThetaD2 := math.Sqrt(0.5 * (1.0 - junctionCosTheta))
	r := sinThetaD2 / (1.0 - sinThetaD2)
	tanThetaD2 := sinThetaD2 / math.Sqrt(0.5*(1.0+junctionCosTheta))
	moveCentripetalV2 := 0.5 * m.Distance * tanThetaD2 * m.Acceleration
	prevMoveCentripetalV2 := 0.5 * prev.Distance * tanThetaD2 * prev.Acceleration

	extruderV2 := th.extruderJunctionSpeedV2(m, prev)

	m.MaxStartV2 = minAll(
		extruderV2,
		r*m.JunctionDeviation*m.Acceleration,
		r*prev.JunctionDeviation*prev.Acceleration,
		moveCentripetalV2,
		prevMoveCentripetalV2,
		m.MaxCruiseV2,
		prev.MaxCruiseV2,
		prev.MaxStartV2+prev.MaxDV2,
	)
	m.MaxSmoothedV2 = math.Min(m.MaxStartV2, prev.MaxSmoothedV2+prev.SmoothedDV2)
}

func (m *Move) setJunction(startV2, cruiseV2, endV2 float64) {
	m.StartV = math.Sqrt(startV2)
	m.CruiseV = math.Sqrt(cruiseV2)
	m.EndV = math.Sqrt(endV2)
}

// LimitSpeed caps the move's cruise velocity and acceleration.
func (m *Move) LimitSpeed(velocity, accel float64) {
	v2 := velocity * velocity
	if v2 < m.MaxCruiseV2 {
		m.MaxCruiseV2 = v2
	}
	m.Acceleration = math.Min(m.Acceleration, accel)
	m.MaxDV2 = 2.0 * m.Distance * m.Acceleration
	m.SmoothedDV2 = math.Min(m.SmoothedDV2, m.MaxDV2)
}

// Delta returns end minus start.
func (m *Move) Delta() mgl64.Vec4 {
	return m.End.Sub(m.Start)
}

// IsKinematicMove reports whether the toolhead position changes.
func (m *Move) IsKinematicMove() bool {
	return m.Start.Vec3() != m.End.Vec3()
}

// IsExtrudeMove reports whether filament moves.
func (m *Move) IsExtrudeMove() bool {
	return math.Abs(m.End[3]-m.Start[3]) >= f64Epsilon
}

// IsExtrudeOnlyMove reports whether only filament moves.
func (m *Move) IsExtrudeOnlyMove() bool {
	return !m.IsKinematicMove() && m.IsExtrudeMove()
}

// IsZeroDistance reports a degenerate move.
func (m *Move) IsZeroDistance() bool {
	return math.Abs(m.Distance) < f64Epsilon
}

// AccelDistance is the distance covered while accelerating.
func (m *Move) AccelDistance() float64 {
	return (m.CruiseV*m.CruiseV - m.StartV*m.StartV) * 0.5 / m.Acceleration
}

// AccelTime is the acceleration phase duration (distance over average
// velocity).
func (m *Move) AccelTime() float64 {
	if m.CruiseV == 0 {
		return 0
	}
	return m.AccelDistance() / ((m.StartV + m.CruiseV) * 0.5)
}

// DecelDistance is the distance covered while decelerating.
func (m *Move) DecelDistance() float64 {
	return (m.CruiseV*m.CruiseV - m.EndV*m.EndV) * 0.5 / m.Acceleration
}

// DecelTime is the deceleration phase duration.
func (m *Move) DecelTime() float64 {
	if m.CruiseV == 0 {
		return 0
	}
	return m.DecelDistance() / ((m.EndV + m.CruiseV) * 0.5)
}

// CruiseDistance is the distance at cruise velocity. Rounding can drive
// the raw value slightly negative; it clamps to zero.
func (m *Move) CruiseDistance() float64 {
	return math.Max(0, m.Distance-m.AccelDistance()-m.DecelDistance())
}

// CruiseTime is the cruise phase duration.
func (m *Move) CruiseTime() float64 {
	if m.CruiseV == 0 {
		return 0
	}
	return m.CruiseDistance() / m.CruiseV
}

// TotalTime is the full trapezoid duration.
func (m *Move) TotalTime() float64 {
	return m.AccelTime() + m.CruiseTime() + m.DecelTime()
}

// CheckFinite verifies every phase output is finite. A failure here
// means a planner bug, never bad input.
func (m *Move) CheckFinite() error {
	for _, v := range []float64{
		m.AccelDistance(), m.CruiseDistance(), m.DecelDistance(),
		m.AccelTime(), m.CruiseTime(), m.DecelTime(),
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return esterr.Kinematic(
				"non-finite phase value for move %v -> %v (v %.3f/%.3f/%.3f)",
				m.Start, m.End, m.StartV, m.CruiseV, m.EndV)
		}
	}
	return nil
}

// LineWidth estimates the extruded line width for a printing move.
func (m *Move) LineWidth(filamentRadius, layerHeight float64) (float64, bool) {
	if !m.IsKinematicMove() || !m.IsExtrudeMove() {
		return 0, false
	}
	return m.Rate[3] * filamentRadius * filamentRadius * math.Pi / layerHeight, true
}

// FlowRate estimates volumetric flow in mm³/s for an extruding move.
func (m *Move) FlowRate(filamentRadius float64) (float64, bool) {
	if !m.IsExtrudeMove() {
		return 0, false
	}
	return m.Delta()[3] * filamentRadius * filamentRadius * math.Pi / m.TotalTime(), true
}

func minAll(first float64, rest ...float64) float64 {
	v := first
	for _, x := range rest {
		if x < v {
			v = x
		}
	}
	return v
}
