package slicer

import (
	"testing"

	"github.com/Annex-Engineering/klipper-estimator/pkg/gcode"
)

func TestDetect(t *testing.T) {
	cases := []struct {
		comment string
		name    string
		version string
	}{
		{"generated by PrusaSlicer 2.7.1+linux-x64 on 2024-01-02 at 10:11:12 UTC", "PrusaSlicer", "2.7.1+linux-x64"},
		{"generated by SuperSlicer 2.5.59 on 2024-01-02 at 10:11:12 UTC", "SuperSlicer", "2.5.59"},
		{"Sliced by ideaMaker 4.3.2.5883, date: 2024-01-02", "ideaMaker", "4.3.2.5883"},
		{"Generated with Cura_SteamEngine 5.6.0", "Cura", "5.6.0"},
		{"GENERATOR.NAME:Cura_SteamEngine", "Cura", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			preset := Detect(tc.comment)
			if preset == nil {
				t.Fatalf("no slicer detected in %q", tc.comment)
			}
			if preset.Name != tc.name || preset.Version != tc.version {
				t.Errorf("got %s %q, want %s %q", preset.Name, preset.Version, tc.name, tc.version)
			}
		})
	}

	if Detect("just a comment") != nil {
		t.Error("detected a slicer in an unrelated comment")
	}
}

func comment(t *testing.T, text string) *gcode.Command {
	t.Helper()
	return &gcode.Command{Op: gcode.NopOp{}, Comment: text}
}

func TestPrusaEstimatedTimeRewrite(t *testing.T) {
	preset := &Preset{Name: "PrusaSlicer", Version: "2.7.1"}
	ic := preset.NewInterceptor()
	result := &Result{TotalTime: 3725.0, Slicer: preset} // 1h 2m 5s

	in := comment(t, " estimated printing time (normal mode) = 45m 11s")
	out, ok := ic.OutputProcess(in, result)
	if !ok {
		t.Fatal("expected a replacement")
	}
	want := " estimated printing time (normal mode) = 1h 2m 5s"
	if out.Comment != want {
		t.Errorf("comment = %q, want %q", out.Comment, want)
	}

	if _, ok := ic.OutputProcess(comment(t, " some other comment"), result); ok {
		t.Error("unrelated comment should pass through")
	}
}

func TestM73Rewrite(t *testing.T) {
	preset := &Preset{Name: "PrusaSlicer", Version: "2.7.1"}
	ic := preset.NewInterceptor()

	m73, err := gcode.ParseLine("M73 P0 R45", 1)
	if err != nil {
		t.Fatal(err)
	}

	// Estimation pass: two progress markers, one at the start and one
	// halfway.
	ic.PostCommand(m73, &Result{TotalTime: 0})
	ic.PostCommand(m73, &Result{TotalTime: 60})

	final := &Result{TotalTime: 120}
	out, ok := ic.OutputProcess(m73, final)
	if !ok {
		t.Fatal("expected a replacement")
	}
	if got := out.String(); got != "M73 P0.000 R2" {
		t.Errorf("first M73 = %q", got)
	}
	out, ok = ic.OutputProcess(m73, final)
	if !ok {
		t.Fatal("expected a replacement")
	}
	if got := out.String(); got != "M73 P50.000 R1" {
		t.Errorf("second M73 = %q", got)
	}
}

func TestCuraRewrite(t *testing.T) {
	preset := &Preset{Name: "Cura"}
	ic := preset.NewInterceptor()
	result := &Result{TotalTime: 0}

	elapsed := comment(t, "TIME_ELAPSED:100.5")
	result.TotalTime = 42.4
	ic.PostCommand(elapsed, result)

	result.TotalTime = 99.1
	out, ok := ic.OutputProcess(comment(t, "TIME:123"), result)
	if !ok || out.Comment != "TIME:100" {
		t.Errorf("TIME rewrite = %+v (%v)", out, ok)
	}
	out, ok = ic.OutputProcess(elapsed, result)
	if !ok || out.Comment != "TIME_ELAPSED:43" {
		t.Errorf("TIME_ELAPSED rewrite = %+v (%v)", out, ok)
	}
}

func TestIdeaMakerRewrite(t *testing.T) {
	preset := &Preset{Name: "ideaMaker", Version: "4.3.2"}
	ic := preset.NewInterceptor()

	printing := comment(t, "PRINTING_TIME: 500")
	ic.PostCommand(printing, &Result{TotalTime: 80.2})

	final := &Result{TotalTime: 100.0}
	out, ok := ic.OutputProcess(comment(t, "Print Time: 500"), final)
	if !ok || out.Comment != "Print Time: 100" {
		t.Errorf("Print Time rewrite = %+v (%v)", out, ok)
	}
	out, ok = ic.OutputProcess(printing, final)
	if !ok || out.Comment != "PRINTING_TIME: 81" {
		t.Errorf("PRINTING_TIME rewrite = %+v (%v)", out, ok)
	}
	out, ok = ic.OutputProcess(comment(t, "REMAINING_TIME: 400"), final)
	if !ok || out.Comment != "REMAINING_TIME: 20" {
		t.Errorf("REMAINING_TIME rewrite = %+v (%v)", out, ok)
	}
}

func TestFormatDHMS(t *testing.T) {
	cases := []struct {
		seconds float64
		want    string
	}{
		{0, " 0s"},
		{59.2, " 1m 0s"},
		{3725, " 1h 2m 5s"},
		{90061, " 1d 1h 1m 1s"},
	}
	for _, tc := range cases {
		if got := formatDHMS(tc.seconds); got != tc.want {
			t.Errorf("formatDHMS(%v) = %q, want %q", tc.seconds, got, tc.want)
		}
	}
}
