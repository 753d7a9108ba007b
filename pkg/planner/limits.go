// Printer kinematic limits.
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

// FirmwareRetractionOptions configures G10/G11 handling.
type FirmwareRetractionOptions struct {
	RetractLength        float64 `json:"retract_length" mapstructure:"retract_length"`
	UnretractExtraLength float64 `json:"unretract_extra_length" mapstructure:"unretract_extra_length"`
	UnretractSpeed       float64 `json:"unretract_speed" mapstructure:"unretract_speed"`
	RetractSpeed         float64 `json:"retract_speed" mapstructure:"retract_speed"`
	LiftZ                float64 `json:"lift_z,omitempty" mapstructure:"lift_z"`
}

// ExtruderLimits holds per-extruder limits selected by T<n>. Pressure
// advance and smooth time are carried for completeness; they shift when
// filament moves, not how long the toolhead takes, so they do not enter
// the timing model.
type ExtruderLimits struct {
	MaxVelocity           float64 `json:"max_velocity" mapstructure:"max_velocity"`
	MaxAccel              float64 `json:"max_accel" mapstructure:"max_accel"`
	InstantCornerVelocity float64 `json:"instant_corner_velocity,omitempty" mapstructure:"instant_corner_velocity"`
	PressureAdvance       float64 `json:"pressure_advance,omitempty" mapstructure:"pressure_advance"`
	SmoothTime            float64 `json:"smooth_time,omitempty" mapstructure:"smooth_time"`
}

// AxisLimiter caps velocity and acceleration along one cartesian axis.
type AxisLimiter struct {
	Axis        mgl64.Vec3 `json:"axis" mapstructure:"axis"`
	MaxVelocity float64    `json:"max_velocity" mapstructure:"max_velocity"`
	MaxAccel    float64    `json:"max_accel" mapstructure:"max_accel"`
}

// ExtruderLimiter caps velocity and acceleration of extrude-only moves.
type ExtruderLimiter struct {
	MaxVelocity float64 `json:"max_velocity" mapstructure:"max_velocity"`
	MaxAccel    float64 `json:"max_accel" mapstructure:"max_accel"`
}

// MoveChecker applies one optional per-move limit. Exactly one of the
// fields is set; the zero checker is a no-op. Checkers run in list
// order: axis limiters first, the extruder limiter last.
type MoveChecker struct {
	AxisLimiter     *AxisLimiter     `json:"axis_limiter,omitempty" mapstructure:"axis_limiter"`
	ExtruderLimiter *ExtruderLimiter `json:"extruder_limiter,omitempty" mapstructure:"extruder_limiter"`
}

// Check applies the limit to m.
func (c MoveChecker) Check(m *Move) {
	switch {
	case c.AxisLimiter != nil:
		c.AxisLimiter.check(m)
	case c.ExtruderLimiter != nil:
		c.ExtruderLimiter.check(m)
	}
}

func (a *AxisLimiter) check(m *Move) {
	if m.IsZeroDistance() {
		return
	}
	onAxis := math.Abs(m.Delta().Vec3().Dot(a.Axis))
	if onAxis == 0 {
		return
	}
	ratio := m.Distance / onAxis
	m.LimitSpeed(a.MaxVelocity*ratio, a.MaxAccel*ratio)
}

func (e *ExtruderLimiter) check(m *Move) {
	if !m.IsExtrudeOnlyMove() {
		return
	}
	eRate := m.Rate[3]
	if (m.Rate[0] == 0 && m.Rate[1] == 0) || eRate < 0 {
		invExtrudeR := 1.0 / math.Abs(eRate)
		m.LimitSpeed(e.MaxVelocity*invExtrudeR, e.MaxAccel*invExtrudeR)
	}
}

// PrinterLimits is the immutable-per-run limit set the planner works
// against. JunctionDeviation is derived; call Recalculate after any
// direct field mutation.
type PrinterLimits struct {
	MaxVelocity           float64  `json:"max_velocity" mapstructure:"max_velocity"`
	MaxAccel              float64  `json:"max_acceleration" mapstructure:"max_acceleration"`
	MaxAccelToDecel       float64  `json:"max_accel_to_decel" mapstructure:"max_accel_to_decel"`
	MinimumCruiseRatio    *float64 `json:"minimum_cruise_ratio,omitempty" mapstructure:"minimum_cruise_ratio"`
	SquareCornerVelocity  float64  `json:"square_corner_velocity" mapstructure:"square_corner_velocity"`
	JunctionDeviation     float64  `json:"-" mapstructure:"-"`
	InstantCornerVelocity float64  `json:"instant_corner_velocity" mapstructure:"instant_corner_velocity"`

	FirmwareRetraction *FirmwareRetractionOptions `json:"firmware_retraction,omitempty" mapstructure:"firmware_retraction"`
	MMPerArcSegment    *float64                   `json:"mm_per_arc_segment,omitempty" mapstructure:"mm_per_arc_segment"`

	MoveCheckers []MoveChecker    `json:"move_checkers" mapstructure:"move_checkers"`
	Extruders    []ExtruderLimits `json:"extruders,omitempty" mapstructure:"extruders"`

	// MoveKinds renames slicer kind tokens (the value after TYPE:) to
	// friendlier accounting labels, e.g. "FILL" -> "Infill".
	MoveKinds map[string]string `json:"move_kinds,omitempty" mapstructure:"move_kinds"`
}

// DefaultLimits returns conservative limits matching an unconfigured
// firmware instance.
func DefaultLimits() PrinterLimits {
	l := PrinterLimits{
		MaxVelocity:           100.0,
		MaxAccel:              100.0,
		MaxAccelToDecel:       50.0,
		SquareCornerVelocity:  5.0,
		InstantCornerVelocity: 1.0,
	}
	l.updateJunctionDeviation()
	return l
}

// SetMaxVelocity sets the global velocity cap.
func (l *PrinterLimits) SetMaxVelocity(v float64) {
	l.MaxVelocity = v
}

// SetMaxAcceleration sets the global acceleration cap and rederives the
// dependent values.
func (l *PrinterLimits) SetMaxAcceleration(v float64) {
	l.MaxAccel = v
	l.updateJunctionDeviation()
	if l.MinimumCruiseRatio != nil {
		l.MaxAccelToDecel = v * (1.0 - *l.MinimumCruiseRatio)
	}
}

// SetMaxAccelToDecel sets the accel-to-decel (smoothing) cap directly,
// clearing any minimum-cruise-ratio derivation.
func (l *PrinterLimits) SetMaxAccelToDecel(v float64) {
	l.MinimumCruiseRatio = nil
	l.MaxAccelToDecel = v
}

// SetMinimumCruiseRatio switches to the newer firmware form where the
// smoothing cap is a fraction of the acceleration cap.
func (l *PrinterLimits) SetMinimumCruiseRatio(r float64) {
	l.MinimumCruiseRatio = &r
	l.MaxAccelToDecel = l.MaxAccel * (1.0 - r)
}

// SetSquareCornerVelocity sets the corner velocity and rederives the
// junction deviation.
func (l *PrinterLimits) SetSquareCornerVelocity(scv float64) {
	l.SquareCornerVelocity = scv
	l.updateJunctionDeviation()
}

// SetInstantCornerVelocity sets the extruder instantaneous corner
// velocity.
func (l *PrinterLimits) SetInstantCornerVelocity(icv float64) {
	l.InstantCornerVelocity = icv
}

func (l *PrinterLimits) updateJunctionDeviation() {
	l.JunctionDeviation = scvToJunctionDeviation(l.SquareCornerVelocity, l.MaxAccel)
}

// scvToJunctionDeviation converts a square corner velocity into the
// junction deviation radius the firmware uses: the virtual corner radius
// at which a 90 degree corner taken at scv incurs exactly the allowed
// acceleration.
func scvToJunctionDeviation(scv, accel float64) float64 {
	scv2 := scv * scv
	return scv2 * (math.Sqrt2 - 1.0) / accel
}

// Recalculate rederives dependent values after deserialization and
// validates ranges.
func (l *PrinterLimits) Recalculate() error {
	if l.MaxVelocity <= 0 {
		return esterr.Config("max_velocity must be positive, got %v", l.MaxVelocity)
	}
	if l.MaxAccel <= 0 {
		return esterr.Config("max_acceleration must be positive, got %v", l.MaxAccel)
	}
	if l.MinimumCruiseRatio != nil {
		r := *l.MinimumCruiseRatio
		if r < 0 || r >= 1 {
			return esterr.Config("minimum_cruise_ratio must be in [0, 1), got %v", r)
		}
		l.MaxAccelToDecel = l.MaxAccel * (1.0 - r)
	}
	if l.MaxAccelToDecel <= 0 {
		return esterr.Config("max_accel_to_decel must be positive, got %v", l.MaxAccelToDecel)
	}
	if l.SquareCornerVelocity < 0 {
		return esterr.Config("square_corner_velocity must not be negative, got %v", l.SquareCornerVelocity)
	}
	if l.InstantCornerVelocity < 0 {
		return esterr.Config("instant_corner_velocity must not be negative, got %v", l.InstantCornerVelocity)
	}
	l.updateJunctionDeviation()
	return nil
}

// ExtruderFor returns the configured limits for extruder n, if present.
func (l *PrinterLimits) ExtruderFor(n int) (ExtruderLimits, bool) {
	if n < 0 || n >= len(l.Extruders) {
		return ExtruderLimits{}, false
	}
	return l.Extruders[n], true
}
