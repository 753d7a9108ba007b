package gcode

import (
	"strings"
	"testing"

	esterr "github.com/Annex-Engineering/klipper-estimator/pkg/errors"
)

func mustParse(t *testing.T, line string) *Command {
	t.Helper()
	cmd, err := ParseLine(line, 1)
	if err != nil {
		t.Fatalf("parsing %q: %v", line, err)
	}
	return cmd
}

func TestParseMove(t *testing.T) {
	cases := []struct {
		line    string
		x, e, f *float64
	}{
		{"G1 X100 F18000", fp(100), nil, fp(18000)},
		{"g1 x100 f18000", fp(100), nil, fp(18000)},
		{"G0 X1.5", fp(1.5), nil, nil},
		{"G1 E-0.8 F2100", nil, fp(-0.8), fp(2100)},
		{"N42 G1 X100", fp(100), nil, nil},
		{"G1", nil, nil, nil},
	}
	for _, tc := range cases {
		t.Run(tc.line, func(t *testing.T) {
			cmd := mustParse(t, tc.line)
			m, ok := cmd.Op.(MoveOp)
			if !ok {
				t.Fatalf("expected MoveOp, got %T", cmd.Op)
			}
			checkFloat(t, "X", m.X, tc.x)
			checkFloat(t, "E", m.E, tc.e)
			checkFloat(t, "F", m.F, tc.f)
		})
	}
}

func fp(v float64) *float64 { return &v }

func checkFloat(t *testing.T, name string, got, want *float64) {
	t.Helper()
	if (got == nil) != (want == nil) {
		t.Errorf("%s: got %v, want %v", name, got, want)
		return
	}
	if got != nil && *got != *want {
		t.Errorf("%s = %v, want %v", name, *got, *want)
	}
}

func TestParseMoveSkipsBadValues(t *testing.T) {
	cmd := mustParse(t, "G1 Xnope Y10")
	m := cmd.Op.(MoveOp)
	if m.X != nil {
		t.Errorf("unparseable X should be dropped, got %v", *m.X)
	}
	if m.Y == nil || *m.Y != 10 {
		t.Errorf("Y = %v, want 10", m.Y)
	}
}

func TestParseTraditional(t *testing.T) {
	cmd := mustParse(t, "M204 S1000")
	op, ok := cmd.Op.(TraditionalOp)
	if !ok {
		t.Fatalf("expected TraditionalOp, got %T", cmd.Op)
	}
	if op.Letter != 'M' || op.Code != 204 {
		t.Errorf("got %c%d", op.Letter, op.Code)
	}
	if v, ok := op.Params.GetFloat('S'); !ok || v != 1000 {
		t.Errorf("S = %v (%v)", v, ok)
	}
}

func TestParseToolChange(t *testing.T) {
	cmd := mustParse(t, "T0")
	op, ok := cmd.Op.(TraditionalOp)
	if !ok {
		t.Fatalf("expected TraditionalOp, got %T", cmd.Op)
	}
	if op.Letter != 'T' || op.Code != 0 {
		t.Errorf("got %c%d", op.Letter, op.Code)
	}
}

func TestParseExtended(t *testing.T) {
	cmd := mustParse(t, `SET_VELOCITY_LIMIT VELOCITY=250 ACCEL=5000`)
	op, ok := cmd.Op.(ExtendedOp)
	if !ok {
		t.Fatalf("expected ExtendedOp, got %T", cmd.Op)
	}
	if op.Name != "set_velocity_limit" {
		t.Errorf("name = %q", op.Name)
	}
	if v, ok := op.Params.GetFloat("velocity"); !ok || v != 250 {
		t.Errorf("velocity = %v (%v)", v, ok)
	}
	if v, ok := op.Params.GetFloat("accel"); !ok || v != 5000 {
		t.Errorf("accel = %v (%v)", v, ok)
	}
}

func TestParseExtendedQuoted(t *testing.T) {
	cmd := mustParse(t, `M117_WRAP MSG="hello world"`)
	op := cmd.Op.(ExtendedOp)
	if v, _ := op.Params.GetString("msg"); v != "hello world" {
		t.Errorf("msg = %q", v)
	}
}

func TestParseComments(t *testing.T) {
	cases := []struct {
		line    string
		nop     bool
		comment string
	}{
		{"; plain comment", true, " plain comment"},
		{";TYPE:FILL", true, "TYPE:FILL"},
		{"", true, ""},
		{"   ", true, ""},
		{"G1 X10 ; trailing", false, " trailing"},
		{"G1 X10; tight", false, " tight"},
	}
	for _, tc := range cases {
		t.Run(tc.line, func(t *testing.T) {
			cmd := mustParse(t, tc.line)
			if cmd.IsNop() != tc.nop {
				t.Errorf("IsNop = %v, want %v", cmd.IsNop(), tc.nop)
			}
			if cmd.Comment != tc.comment {
				t.Errorf("comment = %q, want %q", cmd.Comment, tc.comment)
			}
		})
	}
}

func TestParseErrorsArePositioned(t *testing.T) {
	_, err := ParseLine("SET_THING KEYNOVALUE", 7)
	if err == nil {
		t.Fatal("expected an error")
	}
	if !esterr.Is(err, esterr.KindParse) {
		t.Fatalf("expected a parse error, got %v", err)
	}
	var e *esterr.Error
	if !asEstErr(err, &e) || e.Line != 7 || e.Column == 0 {
		t.Errorf("bad error position: %v", err)
	}
}

func asEstErr(err error, target **esterr.Error) bool {
	e, ok := err.(*esterr.Error)
	if ok {
		*target = e
	}
	return ok
}

func TestRoundTrip(t *testing.T) {
	lines := []string{
		"G1 X100 Y20.5 E1.25 F18000",
		"M204 S1000",
		";TYPE:FILL",
		"G1 X10 ; trailing",
	}
	for _, line := range lines {
		t.Run(line, func(t *testing.T) {
			first := mustParse(t, line)
			second := mustParse(t, first.String())
			if first.String() != second.String() {
				t.Errorf("round trip changed: %q -> %q", first.String(), second.String())
			}
		})
	}
}

func TestReader(t *testing.T) {
	input := "G1 X10 F6000\n;TYPE:FILL\nG1 X20\n"
	r := NewReader(strings.NewReader(input))

	var cmds []*Command
	for r.Scan() {
		cmds = append(cmds, r.Command())
	}
	if err := r.Err(); err != nil {
		t.Fatal(err)
	}
	if len(cmds) != 3 {
		t.Fatalf("expected 3 commands, got %d", len(cmds))
	}
	if r.Line() != 3 {
		t.Errorf("line = %d, want 3", r.Line())
	}
	if _, ok := cmds[0].Op.(MoveOp); !ok {
		t.Errorf("first command should be a move")
	}
	if !cmds[1].IsNop() || cmds[1].Comment != "TYPE:FILL" {
		t.Errorf("second command = %+v", cmds[1])
	}
}
