package planner

import (
	"testing"

	"github.com/Annex-Engineering/klipper-estimator/pkg/gcode"
)

// testLimits mirrors a typical mid-size printer: 300 mm/s, 3 km/s²,
// SCV 5. Accel-to-decel is pinned at the full accel so smoothing does
// not bind unless a test opts in.
func testLimits() PrinterLimits {
	l := DefaultLimits()
	l.SetMaxVelocity(300.0)
	l.SetMaxAcceleration(3000.0)
	l.SetMaxAccelToDecel(3000.0)
	l.SetSquareCornerVelocity(5.0)
	l.SetInstantCornerVelocity(1.0)
	return l
}

// plan feeds lines through a fresh planner and returns it along with all
// finalized operations.
func plan(t *testing.T, limits PrinterLimits, lines ...string) (*Planner, []Operation) {
	t.Helper()
	p := New(limits)
	for i, line := range lines {
		cmd, err := gcode.ParseLine(line, i+1)
		if err != nil {
			t.Fatalf("parsing %q: %v", line, err)
		}
		if _, err := p.ProcessCommand(cmd); err != nil {
			t.Fatalf("processing %q: %v", line, err)
		}
	}
	p.Finalize()
	return p, p.Operations()
}

func planMoves(t *testing.T, limits PrinterLimits, lines ...string) (*Planner, []*Move) {
	t.Helper()
	p, ops := plan(t, limits, lines...)
	return p, movesOf(ops)
}

func movesOf(ops []Operation) []*Move {
	var moves []*Move
	for _, op := range ops {
		if op.IsMove() {
			moves = append(moves, op.Move)
		}
	}
	return moves
}

func totalTime(ops []Operation) float64 {
	var sum KahanSum
	for _, op := range ops {
		sum.Add(op.Time())
	}
	return sum.Total()
}

func parseTestLine(line string, n int) (*gcode.Command, error) {
	return gcode.ParseLine(line, n)
}

func approxEqual(a, b, tol float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= tol
}
