// The estimate and dump-moves subcommands: run a file through the
// planner and report totals, phase breakdowns, per-layer and per-kind
// times, or a per-move dump.
//
// Copyright (C) 2026  Klipper Estimator Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package cli

import (
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	esterr "github.com/Annex-Engineering/klipper-estimator/pkg/errors"
	"github.com/Annex-Engineering/klipper-estimator/pkg/gcode"
	"github.com/Annex-Engineering/klipper-estimator/pkg/planner"
)

// filamentCrossSection is the area of 1.75 mm filament, used for the
// extruded volume figure.
var filamentCrossSection = math.Pi * (1.75 / 2.0) * (1.75 / 2.0)

// sequenceStartTime is the controller's buffered start time charged to
// the head of every sequence.
const sequenceStartTime = 0.25

func newEstimateCommand(opts *options) *cobra.Command {
	var dumpMoves, dumpSummary bool
	cmd := &cobra.Command{
		Use:   "estimate <file>",
		Short: "Estimate the print time of a G-code file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEstimate(opts, args[0], dumpMoves, dumpSummary)
		},
	}
	cmd.Flags().BoolVar(&dumpMoves, "dump_moves", false, "dump every planned move")
	cmd.Flags().BoolVar(&dumpSummary, "dump_summary", false, "dump per-move velocity summary")
	return cmd
}

func newDumpMovesCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "dump-moves <file>",
		Short: "Estimate a file and dump every planned move",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEstimate(opts, args[0], true, false)
		},
	}
}

// sequenceTotals accumulates one maximal run of moves between flush
// boundaries.
type sequenceTotals struct {
	moves           int
	distance        planner.KahanSum
	extrudeDistance planner.KahanSum
	accelTime       planner.KahanSum
	cruiseTime      planner.KahanSum
	decelTime       planner.KahanSum
}

func (s *sequenceTotals) minimalTime() float64 {
	return sequenceStartTime + s.accelTime.Total() + s.cruiseTime.Total() + s.decelTime.Total()
}

// accounting aggregates planner output into the report totals.
type accounting struct {
	sequences []*sequenceTotals
	current   *sequenceTotals

	totalTime  planner.KahanSum
	kindTimes  map[string]*planner.KahanSum
	layerTimes map[int]*planner.KahanSum
}

func newAccounting() *accounting {
	return &accounting{
		kindTimes:  make(map[string]*planner.KahanSum),
		layerTimes: make(map[int]*planner.KahanSum),
	}
}

func (a *accounting) addKindTime(kind string, t float64) {
	sum, ok := a.kindTimes[kind]
	if !ok {
		sum = &planner.KahanSum{}
		a.kindTimes[kind] = sum
	}
	sum.Add(t)
}

func (a *accounting) observe(p *planner.Planner, op planner.Operation) {
	switch {
	case op.IsMove():
		m := op.Move
		if a.current == nil {
			a.current = &sequenceTotals{}
		}
		a.current.moves++
		a.current.distance.Add(m.Distance)
		a.current.extrudeDistance.Add(m.Delta()[3])
		a.current.accelTime.Add(m.AccelTime())
		a.current.cruiseTime.Add(m.CruiseTime())
		a.current.decelTime.Add(m.DecelTime())
		a.totalTime.Add(m.TotalTime())

		kind := p.MoveKind(m)
		if kind == "" {
			kind = "Other"
		}
		a.addKindTime(kind, m.TotalTime())

		layer, ok := a.layerTimes[m.Layer]
		if !ok {
			layer = &planner.KahanSum{}
			a.layerTimes[m.Layer] = layer
		}
		layer.Add(m.TotalTime())
	case op.IsDelay():
		// A delay closes the open sequence; the next move starts a new
		// independent run.
		if a.current != nil {
			a.sequences = append(a.sequences, a.current)
			a.current = nil
		}
		d := op.Delay
		a.totalTime.Add(d.Duration)
		if d.Kind != planner.KindNone {
			a.addKindTime(p.KindLabel(d.Kind), d.Duration)
		}
	}
}

func (a *accounting) finish() {
	if a.current != nil {
		a.sequences = append(a.sequences, a.current)
		a.current = nil
	}
}

func runEstimate(opts *options, input string, dumpMoves, dumpSummary bool) error {
	p, err := opts.makePlanner()
	if err != nil {
		return err
	}

	var src io.Reader
	if input == "-" {
		src = os.Stdin
	} else {
		f, err := os.Open(input)
		if err != nil {
			return esterr.IO(err, "opening gcode file %s", input)
		}
		defer f.Close()
		src = f
	}

	rdr := gcode.NewReader(src)
	for rdr.Scan() {
		if _, err := p.ProcessCommand(rdr.Command()); err != nil {
			return err
		}
	}
	if err := rdr.Err(); err != nil {
		return err
	}
	p.Finalize()

	acct := newAccounting()
	moveIdx := 0
	ctime := sequenceStartTime
	for {
		op, ok := p.NextOperation()
		if !ok {
			break
		}
		if op.IsMove() {
			m := op.Move
			if err := m.CheckFinite(); err != nil {
				return err
			}
			if dumpSummary {
				fmt.Printf("SUM %9d[] %.3f / %.3f / %.3f\n", moveIdx, m.StartV, m.CruiseV, m.EndV)
			}
			if dumpMoves {
				dumpMove(p, m, moveIdx, ctime)
				ctime += m.TotalTime()
			}
			moveIdx++
		}
		acct.observe(p, op)
	}
	acct.finish()

	printReport(acct)
	return nil
}

func dumpMove(p *planner.Planner, m *planner.Move, idx int, ctime float64) {
	var flags strings.Builder
	if m.IsExtrudeMove() {
		flags.WriteByte('E')
	}
	if m.IsKinematicMove() {
		flags.WriteByte('K')
	}
	fmt.Printf(" %6d[%s] @ %.8f => %.8f:\n", idx, flags.String(), ctime, ctime+m.TotalTime())
	fmt.Printf("    Path:        %v => %v [%.3f]\n", m.Start, m.End, m.Distance)
	fmt.Printf("    Axes:        %v\n", m.Rate)
	if w, ok := m.LineWidth(1.75/2.0, 0.25); ok {
		fmt.Printf("    Line width:  %.3f (at 0.25 layer height)\n", w)
	}
	if f, ok := m.FlowRate(1.75 / 2.0); ok {
		fmt.Printf("    Flow rate:   %.3f mm3/s\n", f)
	}
	if kind := p.MoveKind(m); kind != "" {
		fmt.Printf("    Kind:        %s\n", kind)
	}
	fmt.Printf("    Acceleration %v\n", m.Acceleration)
	fmt.Printf("    Max dv2:     %v\n", m.MaxDV2)
	fmt.Printf("    Max start_v2: %v\n", m.MaxStartV2)
	fmt.Printf("    Max cruise_v2: %v\n", m.MaxCruiseV2)
	fmt.Printf("    Max smoothed_v2: %v\n", m.MaxSmoothedV2)
	fmt.Printf("    Velocity:    %v / %v / %v\n", m.StartV, m.CruiseV, m.EndV)
	fmt.Printf("    Time:        %v+%v+%v = %v\n",
		m.AccelTime(), m.CruiseTime(), m.DecelTime(), m.TotalTime())
	fmt.Printf("    Distances:   %.3f+%.3f+%.3f = %.3f\n\n",
		m.AccelDistance(), m.CruiseDistance(), m.DecelDistance(), m.Distance)
}

func printReport(acct *accounting) {
	fmt.Println("Sequences:")
	for i, seq := range acct.sequences {
		fmt.Printf(" Run %d:\n", i)
		fmt.Printf("  Total moves: %d\n", seq.moves)
		fmt.Printf("  Total distance: %f\n", seq.distance.Total())
		extrude := seq.extrudeDistance.Total()
		fmt.Printf("  Total extrude distance: %f\n", extrude)
		fmt.Printf("  Total extruded volume: %f mm3\n", extrude*filamentCrossSection)
		minTime := seq.minimalTime()
		fmt.Printf("  Minimal time: %s (%f)\n", formatTime(minTime), minTime)
		fmt.Printf("  Average flow: %f mm3/s\n", extrude*filamentCrossSection/minTime)
		fmt.Println("  Phases:")
		fmt.Printf("    Acceleration: %s\n", formatTime(seq.accelTime.Total()))
		fmt.Printf("    Cruise:       %s\n", formatTime(seq.cruiseTime.Total()))
		fmt.Printf("    Deceleration: %s\n", formatTime(seq.decelTime.Total()))
	}

	fmt.Println("Layer times:")
	layers := make([]int, 0, len(acct.layerTimes))
	for l := range acct.layerTimes {
		layers = append(layers, l)
	}
	sort.Ints(layers)
	for _, l := range layers {
		fmt.Printf(" %7d => %s\n", l, formatTime(acct.layerTimes[l].Total()))
	}

	fmt.Println("Kind times:")
	kinds := make([]string, 0, len(acct.kindTimes))
	for k := range acct.kindTimes {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Printf(" %20s => %s\n", formatTime(acct.kindTimes[k].Total()), k)
	}

	fmt.Printf("Total time: %s (%f)\n", formatTime(acct.totalTime.Total()), acct.totalTime.Total())
}

// formatTime renders seconds as 1d2h3m4.000s, omitting every unit that
// comes out zero (3601 s renders as 1h1.000s).
func formatTime(seconds float64) string {
	var parts []string

	if seconds > 86400.0 {
		parts = append(parts, fmt.Sprintf("%.0fd", math.Floor(seconds/86400.0)))
		seconds = math.Mod(seconds, 86400.0)
	}
	if seconds > 3600.0 {
		parts = append(parts, fmt.Sprintf("%.0fh", math.Floor(seconds/3600.0)))
		seconds = math.Mod(seconds, 3600.0)
	}
	if seconds > 60.0 {
		parts = append(parts, fmt.Sprintf("%.0fm", math.Floor(seconds/60.0)))
		seconds = math.Mod(seconds, 60.0)
	}
	if seconds > 0.0 {
		parts = append(parts, fmt.Sprintf("%.3fs", seconds))
	}

	if len(parts) == 0 {
		return "0s"
	}
	return strings.Join(parts, "")
}
