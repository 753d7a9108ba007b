// Firmware retraction (G10/G11) state.
//
// Copyright (C) 2026  Klipper Estimator Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package planner

import (
	"math"

	"github.com/Annex-Engineering/klipper-estimator/pkg/gcode"
)

// retractionState tracks whether the filament is currently retracted and
// how much needs undoing.
type retractionState struct {
	retracted       bool
	liftedZ         float64
	retractedLength float64
}

// retract performs G10. Returns the number of moves issued.
func (r *retractionState) retract(p *Planner) int {
	if r.retracted {
		return 0
	}
	th := &p.Toolhead
	settings := th.Limits.FirmwareRetraction

	n := 0
	if settings.RetractLength > 0 {
		e := -settings.RetractLength
		m := th.PerformRelativeMove(
			[4]*float64{nil, nil, nil, &e},
			p.Kinds.GetKind("Firmware retract"))
		m.Layer = p.Kinds.CurrentLayer
		p.operations.AddMove(m, th)
		n++
	}
	if settings.LiftZ > 0 {
		z := settings.LiftZ
		m := th.PerformRelativeMove(
			[4]*float64{nil, nil, &z, nil},
			p.Kinds.GetKind("Firmware retract Z hop"))
		m.Layer = p.Kinds.CurrentLayer
		p.operations.AddMove(m, th)
		n++
	}

	r.retracted = true
	r.liftedZ = settings.LiftZ
	r.retractedLength = settings.RetractLength
	return n
}

// unretract performs G11. Returns the number of moves issued.
func (r *retractionState) unretract(p *Planner) int {
	if !r.retracted {
		return 0
	}
	th := &p.Toolhead

	n := 0
	if r.retractedLength > 0 {
		e := r.retractedLength
		m := th.PerformRelativeMove(
			[4]*float64{nil, nil, nil, &e},
			p.Kinds.GetKind("Firmware unretract"))
		m.Layer = p.Kinds.CurrentLayer
		p.operations.AddMove(m, th)
		n++
	}
	if r.liftedZ > 0 {
		z := -r.liftedZ
		m := th.PerformRelativeMove(
			[4]*float64{nil, nil, &z, nil},
			p.Kinds.GetKind("Firmware unretract Z hop"))
		m.Layer = p.Kinds.CurrentLayer
		p.operations.AddMove(m, th)
		n++
	}

	r.retracted = false
	return n
}

// setRetractionOptions applies a SET_RETRACTION command to the limits.
func setRetractionOptions(th *ToolheadState, params gcode.ExtendedParams) {
	settings := th.Limits.FirmwareRetraction
	if v, ok := params.GetFloat("retract_length"); ok {
		settings.RetractLength = math.Max(0, v)
	}
	if v, ok := params.GetFloat("retract_speed"); ok {
		settings.RetractSpeed = math.Max(0, v)
	}
	if v, ok := params.GetFloat("unretract_extra_length"); ok {
		settings.UnretractExtraLength = math.Max(0, v)
	}
	if v, ok := params.GetFloat("unretract_speed"); ok {
		settings.UnretractSpeed = math.Max(0, v)
	}
	if v, ok := params.GetFloat("lift_z"); ok {
		settings.LiftZ = math.Max(0, v)
	}
}
