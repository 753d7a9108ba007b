package planner

import (
	"math"
	"testing"
)

func TestEstimatorAddTimeDirective(t *testing.T) {
	p, ops := plan(t, testLimits(), "; ESTIMATOR_ADD_TIME 21 Prime line")

	var delays []*Delay
	for _, op := range ops {
		if op.IsDelay() {
			delays = append(delays, op.Delay)
		}
	}
	if len(delays) != 1 {
		t.Fatalf("expected one delay, got %d", len(delays))
	}
	d := delays[0]
	if d.Duration != 21.0 {
		t.Errorf("duration = %v, want 21", d.Duration)
	}
	if got := p.KindLabel(d.Kind); got != "Prime line" {
		t.Errorf("kind = %q, want %q", got, "Prime line")
	}
}

func TestEstimatorAddTimeWithoutLabel(t *testing.T) {
	_, ops := plan(t, testLimits(), ";ESTIMATOR_ADD_TIME 3.5")
	if !approxEqual(totalTime(ops), 3.5, 1e-12) {
		t.Errorf("total = %v, want 3.5", totalTime(ops))
	}
}

func TestEstimatorAddTimeMalformed(t *testing.T) {
	for _, line := range []string{
		"; ESTIMATOR_ADD_TIME", // no value
		"; ESTIMATOR_ADD_TIME abc",
		"; ESTIMATOR_ADD_TIME -5",
		"; estimator_add_time 5", // directive is case sensitive
	} {
		_, ops := plan(t, testLimits(), line)
		if totalTime(ops) != 0 {
			t.Errorf("%q: expected no time contribution, got %v", line, totalTime(ops))
		}
	}
}

func TestKindFromTypeComment(t *testing.T) {
	p, moves := planMoves(t, testLimits(),
		";TYPE:WALL-OUTER",
		"G1 X10 F6000",
		"G1 X20 F6000 ;special",
	)
	if len(moves) != 2 {
		t.Fatalf("expected 2 moves, got %d", len(moves))
	}
	if got := p.MoveKind(moves[0]); got != "WALL-OUTER" {
		t.Errorf("kind = %q, want WALL-OUTER", got)
	}
	// A move's own comment wins over the current kind.
	if got := p.MoveKind(moves[1]); got != "special" {
		t.Errorf("kind = %q, want special", got)
	}
}

func TestMoveKindMapping(t *testing.T) {
	limits := testLimits()
	limits.MoveKinds = map[string]string{"FILL": "Infill"}
	p, moves := planMoves(t, limits,
		";TYPE:FILL",
		"G1 X10 F6000",
	)
	if got := p.MoveKind(moves[0]); got != "Infill" {
		t.Errorf("kind = %q, want Infill", got)
	}
}

func TestLayerTracking(t *testing.T) {
	_, moves := planMoves(t, testLimits(),
		"G1 X10 F6000",
		";LAYER:3",
		"G1 X20 F6000",
		";LAYER_CHANGE",
		"G1 X30 F6000",
	)
	if len(moves) != 3 {
		t.Fatalf("expected 3 moves, got %d", len(moves))
	}
	wantLayers := []int{0, 3, 4}
	for i, m := range moves {
		if m.Layer != wantLayers[i] {
			t.Errorf("move %d layer = %d, want %d", i, m.Layer, wantLayers[i])
		}
	}
}

func TestDwellVariants(t *testing.T) {
	cases := []struct {
		line string
		want float64
	}{
		{"G4 P500", 0.5},
		{"G4 S2", 2.0},
		{"G4", 0.25},
	}
	for _, tc := range cases {
		t.Run(tc.line, func(t *testing.T) {
			_, ops := plan(t, testLimits(), tc.line)
			if !approxEqual(totalTime(ops), tc.want, 1e-12) {
				t.Errorf("total = %v, want %v", totalTime(ops), tc.want)
			}
		})
	}
}

func TestIndeterminateDelays(t *testing.T) {
	for _, line := range []string{"G28", "M109 S250", "M190 S100", "M600", "TEMPERATURE_WAIT SENSOR=extruder"} {
		t.Run(line, func(t *testing.T) {
			p, ops := plan(t, testLimits(), line)
			var found *Delay
			for _, op := range ops {
				if op.IsDelay() {
					found = op.Delay
				}
			}
			if found == nil {
				t.Fatal("expected a delay")
			}
			if !found.Indeterminate {
				t.Error("delay should be indeterminate")
			}
			if got := p.KindLabel(found.Kind); got != "Indeterminate time" {
				t.Errorf("kind = %q", got)
			}
		})
	}
}

func TestM204UpdatesAcceleration(t *testing.T) {
	_, moves := planMoves(t, testLimits(),
		"G1 X100 F18000",
		"M204 S1000",
		"G1 X200 F18000",
	)
	if len(moves) != 2 {
		t.Fatalf("expected 2 moves, got %d", len(moves))
	}
	if moves[0].Acceleration != 3000.0 {
		t.Errorf("first move accel = %v, want 3000", moves[0].Acceleration)
	}
	if moves[1].Acceleration != 1000.0 {
		t.Errorf("second move accel = %v, want 1000", moves[1].Acceleration)
	}
}

func TestM204PTForm(t *testing.T) {
	_, moves := planMoves(t, testLimits(), "M204 P2000 T1500", "G1 X10 F6000")
	if moves[0].Acceleration != 1500.0 {
		t.Errorf("accel = %v, want 1500", moves[0].Acceleration)
	}
}

func TestSetVelocityLimit(t *testing.T) {
	_, moves := planMoves(t, testLimits(),
		"SET_VELOCITY_LIMIT VELOCITY=120 ACCEL=2000",
		"G1 X100 F18000",
	)
	m := moves[0]
	if !approxEqual(m.CruiseV, 120.0, 1e-9) {
		t.Errorf("cruise velocity = %v, want 120", m.CruiseV)
	}
	if m.Acceleration != 2000.0 {
		t.Errorf("accel = %v, want 2000", m.Acceleration)
	}
}

func TestSpeedFactorOverride(t *testing.T) {
	// M220 S50 halves all subsequent feedrates.
	_, moves := planMoves(t, testLimits(),
		"M220 S50",
		"G1 X100 F12000", // 200 mm/s requested, 100 effective
	)
	if !approxEqual(moves[0].CruiseV, 100.0, 1e-9) {
		t.Errorf("cruise velocity = %v, want 100", moves[0].CruiseV)
	}
}

func TestExtrudeFactorOverride(t *testing.T) {
	_, moves := planMoves(t, testLimits(),
		"M83",
		"M221 S50",
		"G1 X10 E4 F6000",
	)
	if !approxEqual(moves[0].Delta()[3], 2.0, 1e-12) {
		t.Errorf("extrusion delta = %v, want 2", moves[0].Delta()[3])
	}
}

func TestG92AndRelativeMode(t *testing.T) {
	_, moves := planMoves(t, testLimits(),
		"G1 X10 F6000",
		"G92 X0",
		"G91",
		"G1 X5",
		"G90",
		"G1 X7",
	)
	if len(moves) != 3 {
		t.Fatalf("expected 3 moves, got %d", len(moves))
	}
	// G92 X0 rebases: relative +5 lands at logical 5, absolute 7 moves 2.
	if !approxEqual(moves[1].Distance, 5.0, 1e-12) {
		t.Errorf("relative move distance = %v, want 5", moves[1].Distance)
	}
	if !approxEqual(moves[2].Distance, 2.0, 1e-12) {
		t.Errorf("absolute move distance = %v, want 2", moves[2].Distance)
	}
}

func TestZeroDistanceMoveDropped(t *testing.T) {
	_, moves := planMoves(t, testLimits(), "G1 X10 F6000", "G1 X10")
	if len(moves) != 1 {
		t.Fatalf("expected 1 move, got %d", len(moves))
	}
}

func TestToolChangeForcesStop(t *testing.T) {
	_, ops := plan(t, testLimits(), "G1 X50 F18000", "T1", "G1 X100 F18000")
	moves := movesOf(ops)
	if len(moves) != 2 {
		t.Fatalf("expected 2 moves, got %d", len(moves))
	}
	if moves[0].EndV != 0 || moves[1].StartV != 0 {
		t.Errorf("tool change should force a stop: %v / %v", moves[0].EndV, moves[1].StartV)
	}
}

func TestM400ForcesStop(t *testing.T) {
	_, moves := planMoves(t, testLimits(), "G1 X50 F18000", "M400", "G1 X100 F18000")
	if moves[0].EndV != 0 || moves[1].StartV != 0 {
		t.Errorf("M400 should force a stop: %v / %v", moves[0].EndV, moves[1].StartV)
	}
}

func TestAxisLimiterClampsZMoves(t *testing.T) {
	limits := testLimits()
	limits.MoveCheckers = []MoveChecker{{
		AxisLimiter: &AxisLimiter{
			Axis:        [3]float64{0, 0, 1},
			MaxVelocity: 5.0,
			MaxAccel:    100.0,
		},
	}}
	_, moves := planMoves(t, limits, "G1 Z10 F18000")
	m := moves[0]
	if m.CruiseV > 5.0+1e-9 {
		t.Errorf("z cruise velocity = %v, want <= 5", m.CruiseV)
	}
	if m.Acceleration > 100.0+1e-9 {
		t.Errorf("z accel = %v, want <= 100", m.Acceleration)
	}
}

func TestAxisLimiterScalesWithAngle(t *testing.T) {
	// A 45 degree XZ move sees the z cap scaled by distance over z
	// travel.
	limits := testLimits()
	limits.MoveCheckers = []MoveChecker{{
		AxisLimiter: &AxisLimiter{
			Axis:        [3]float64{0, 0, 1},
			MaxVelocity: 5.0,
			MaxAccel:    100.0,
		},
	}}
	_, moves := planMoves(t, limits, "G1 X10 Z10 F18000")
	m := moves[0]
	want := 5.0 * math.Sqrt2
	if !approxEqual(m.CruiseV, want, 1e-9) {
		t.Errorf("diagonal cruise velocity = %v, want %v", m.CruiseV, want)
	}
}

func TestExtruderLimiterCapsRetract(t *testing.T) {
	limits := testLimits()
	limits.MoveCheckers = []MoveChecker{{
		ExtruderLimiter: &ExtruderLimiter{MaxVelocity: 75.0, MaxAccel: 1500.0},
	}}
	_, moves := planMoves(t, limits,
		"M83",
		"G1 E-4 F18000", // retract at 300 mm/s requested
	)
	m := moves[0]
	if m.CruiseV > 75.0+1e-9 {
		t.Errorf("retract velocity = %v, want <= 75", m.CruiseV)
	}
	if m.Acceleration > 1500.0+1e-9 {
		t.Errorf("retract accel = %v, want <= 1500", m.Acceleration)
	}
}

func TestFirmwareRetraction(t *testing.T) {
	limits := testLimits()
	limits.FirmwareRetraction = &FirmwareRetractionOptions{
		RetractLength: 2.0,
		RetractSpeed:  40.0,
		LiftZ:         0.4,
	}
	p, ops := plan(t, limits,
		"G10",
		"G10", // already retracted, no-op
		"G11",
	)
	moves := movesOf(ops)
	if len(moves) != 4 {
		t.Fatalf("expected 4 moves (retract, lift, unretract, unlift), got %d", len(moves))
	}
	if !approxEqual(moves[0].Delta()[3], -2.0, 1e-12) {
		t.Errorf("retract delta = %v, want -2", moves[0].Delta()[3])
	}
	if !approxEqual(moves[1].Delta()[2], 0.4, 1e-12) {
		t.Errorf("z hop delta = %v, want 0.4", moves[1].Delta()[2])
	}
	if !approxEqual(moves[2].Delta()[3], 2.0, 1e-12) {
		t.Errorf("unretract delta = %v, want 2", moves[2].Delta()[3])
	}
	if got := p.MoveKind(moves[0]); got != "Firmware retract" {
		t.Errorf("kind = %q", got)
	}
}

func TestArcTessellation(t *testing.T) {
	limits := testLimits()
	seg := 0.5
	limits.MMPerArcSegment = &seg

	// Half circle of radius 10 from (0,0) to (20,0), center (10,0).
	p := New(limits)
	cmd, err := parseTestLine("G2 X20 Y0 I10 F6000", 1)
	if err != nil {
		t.Fatal(err)
	}
	n, err := p.ProcessCommand(cmd)
	if err != nil {
		t.Fatal(err)
	}
	p.Finalize()
	moves := movesOf(p.Operations())

	if n < 2 {
		t.Fatalf("expected multiple segments, got %d", n)
	}
	if len(moves) != n {
		t.Errorf("ops reported %d, moves %d", n, len(moves))
	}

	var dist KahanSum
	for _, m := range moves {
		dist.Add(m.Distance)
	}
	arcLength := math.Pi * 10.0
	if !approxEqual(dist.Total(), arcLength, arcLength*1e-3) {
		t.Errorf("tessellated length = %v, want ~%v", dist.Total(), arcLength)
	}
	last := moves[len(moves)-1]
	if !approxEqual(last.End[0], 20.0, 1e-9) || !approxEqual(last.End[1], 0.0, 1e-9) {
		t.Errorf("arc endpoint = %v", last.End)
	}
}

func TestArcWithoutResolutionIgnored(t *testing.T) {
	_, moves := planMoves(t, testLimits(), "G2 X20 Y0 I10 F6000")
	if len(moves) != 0 {
		t.Errorf("arcs without gcode_arcs resolution should be ignored, got %d moves", len(moves))
	}
}

func TestProcessCommandAlwaysProducesOperation(t *testing.T) {
	p := New(testLimits())
	for _, line := range []string{"", "; comment", "M117 hello", "G10", "UNKNOWN_COMMAND A=1"} {
		cmd, err := parseTestLine(line, 1)
		if err != nil {
			t.Fatalf("%q: %v", line, err)
		}
		n, err := p.ProcessCommand(cmd)
		if err != nil {
			t.Fatalf("%q: %v", line, err)
		}
		if n < 1 {
			t.Errorf("%q: produced %d operations, want >= 1", line, n)
		}
	}
}
