// G2/G3 arc tessellation, ported from the firmware's Marlin-derived
// plan-arc routine.
//
// Copyright (C) 2026  Klipper Estimator Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package planner

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/Annex-Engineering/klipper-estimator/pkg/gcode"
)

type arcDirection int

const (
	arcClockwise arcDirection = iota
	arcCounterClockwise
)

type arcPlane int

const (
	planeXY arcPlane = iota
	planeXZ
	planeYZ
)

type arcState struct {
	plane arcPlane
}

func (a *arcState) setPlane(plane arcPlane) {
	a.plane = plane
}

// generateArc tessellates an arc into linear segments and feeds them to
// the planner. Returns the number of moves appended; zero when arcs are
// unconfigured or the parameters name no center offset.
func (a *arcState) generateArc(p *Planner, kind Kind, params gcode.TraditionalParams, direction arcDirection) int {
	th := &p.Toolhead
	args, ok := a.getArgs(th, params)
	if !ok {
		return 0
	}

	segments, points := args.planArc(th.Position.Vec3(), direction)
	eBase := th.Position[3]
	ePerMove := 0.0
	if args.e != nil {
		ePerMove = (*args.e - eBase) / float64(segments)
	}

	th.Velocity = args.velocity * th.speedFactor

	savedModes := th.PositionModes
	th.PositionModes = [4]PositionMode{Absolute, Absolute, Absolute, Absolute}
	for _, pt := range points {
		eBase += ePerMove
		x, y, z, e := pt[0], pt[1], pt[2], eBase
		m := th.PerformMove([4]*float64{&x, &y, &z, &e})
		m.Kind = kind
		m.Layer = p.Kinds.CurrentLayer
		p.operations.AddMove(m, th)
	}
	th.PositionModes = savedModes

	return segments
}

type arcArgs struct {
	target   mgl64.Vec3
	e        *float64
	velocity float64
	// axes maps (alpha, beta, helical) onto coordinate indices per the
	// selected plane.
	axes            [3]int
	offset          [2]float64
	mmPerArcSegment float64
}

func (a *arcState) getArgs(th *ToolheadState, params gcode.TraditionalParams) (arcArgs, bool) {
	if th.Limits.MMPerArcSegment == nil {
		return arcArgs{}, false
	}

	mapCoord := func(c float64, axis int) float64 {
		return newElement(c, th.Position[axis], th.PositionModes[axis])
	}

	var axes [3]int
	var offset [2]float64
	switch a.plane {
	case planeXY:
		axes = [3]int{0, 1, 2}
		offset = [2]float64{paramOr(params, 'I', 0), paramOr(params, 'J', 0)}
	case planeXZ:
		axes = [3]int{0, 2, 1}
		offset = [2]float64{paramOr(params, 'I', 0), paramOr(params, 'K', 0)}
	case planeYZ:
		axes = [3]int{1, 2, 0}
		offset = [2]float64{paramOr(params, 'J', 0), paramOr(params, 'K', 0)}
	}

	if offset[0] == 0 && offset[1] == 0 {
		return arcArgs{}, false // Need at least one center coordinate
	}

	args := arcArgs{
		target: mgl64.Vec3{
			mapCoordOr(params, 'X', th.Position[0], mapCoord, 0),
			mapCoordOr(params, 'Y', th.Position[1], mapCoord, 1),
			mapCoordOr(params, 'Z', th.Position[2], mapCoord, 2),
		},
		velocity:        th.Velocity / th.speedFactor,
		axes:            axes,
		offset:          offset,
		mmPerArcSegment: *th.Limits.MMPerArcSegment,
	}
	if v, ok := params.GetFloat('E'); ok {
		e := mapCoord(v, 3)
		args.e = &e
	}
	if f, ok := params.GetFloat('F'); ok {
		args.velocity = f / 60.0
	}
	return args, true
}

func paramOr(params gcode.TraditionalParams, letter byte, def float64) float64 {
	if v, ok := params.GetFloat(letter); ok {
		return v
	}
	return def
}

func mapCoordOr(params gcode.TraditionalParams, letter byte, def float64, mapCoord func(float64, int) float64, axis int) float64 {
	if v, ok := params.GetFloat(letter); ok {
		return mapCoord(v, axis)
	}
	return def
}

// planArc computes the segment endpoints for the arc from startPosition
// to the target around the configured center offset.
func (args *arcArgs) planArc(startPosition mgl64.Vec3, direction arcDirection) (int, []mgl64.Vec3) {
	alphaAxis, betaAxis, helicalAxis := args.axes[0], args.axes[1], args.axes[2]

	rP := -args.offset[0]
	rQ := -args.offset[1]

	centerP := startPosition[alphaAxis] - rP
	centerQ := startPosition[betaAxis] - rQ
	rtAlpha := args.target[alphaAxis] - centerP
	rtBeta := args.target[betaAxis] - centerQ
	angularTravel := math.Atan2(rP*rtBeta-rQ*rtAlpha, rP*rtAlpha+rQ*rtBeta)
	if angularTravel < 0 {
		angularTravel += 2.0 * math.Pi
	}
	if direction == arcClockwise {
		angularTravel -= 2.0 * math.Pi
	}

	if angularTravel == 0 &&
		startPosition[alphaAxis] == args.target[alphaAxis] &&
		startPosition[betaAxis] == args.target[betaAxis] {
		// Full circle
		angularTravel = 2.0 * math.Pi
	}

	linearTravel := args.target[helicalAxis] - startPosition[helicalAxis]
	radius := math.Hypot(rP, rQ)
	flatMM := radius * angularTravel
	mmOfTravel := math.Abs(flatMM)
	if linearTravel != 0 {
		mmOfTravel = math.Hypot(flatMM, linearTravel)
	}

	segments := int(math.Floor(mmOfTravel / args.mmPerArcSegment))
	if segments < 1 {
		segments = 1
	}

	thetaPerSegment := angularTravel / float64(segments)
	linearPerSegment := linearTravel / float64(segments)

	points := make([]mgl64.Vec3, 0, segments)
	for i := 1; i < segments; i++ {
		fi := float64(i)
		distHelical := fi * linearPerSegment
		cosTi := math.Cos(fi * thetaPerSegment)
		sinTi := math.Sin(fi * thetaPerSegment)
		segRP := -args.offset[0]*cosTi + args.offset[1]*sinTi
		segRQ := -args.offset[0]*sinTi - args.offset[1]*cosTi

		var coord mgl64.Vec3
		coord[alphaAxis] = centerP + segRP
		coord[betaAxis] = centerQ + segRQ
		coord[helicalAxis] = startPosition[helicalAxis] + distHelical
		points = append(points, coord)
	}
	points = append(points, args.target)

	return segments, points
}
