package cli

import (
	"testing"
)

func TestFormatTime(t *testing.T) {
	cases := []struct {
		seconds float64
		want    string
	}{
		{0, "0s"},
		{0.4333, "0.433s"},
		{61.5, "1m1.500s"},
		{3661.25, "1h1m1.250s"},
		{90061, "1d1h1m1.000s"},
	}
	for _, tc := range cases {
		if got := formatTime(tc.seconds); got != tc.want {
			t.Errorf("formatTime(%v) = %q, want %q", tc.seconds, got, tc.want)
		}
	}
}

func TestParseOverride(t *testing.T) {
	key, value, err := parseOverride("max_velocity=350")
	if err != nil {
		t.Fatal(err)
	}
	if key != "max_velocity" || value != 350.0 {
		t.Errorf("got %q=%v", key, value)
	}

	key, value, err = parseOverride("minimum_cruise_ratio=0.25")
	if err != nil {
		t.Fatal(err)
	}
	if key != "minimum_cruise_ratio" || value != 0.25 {
		t.Errorf("got %q=%v", key, value)
	}

	if _, _, err := parseOverride("max_accel_to_decel=notanumber"); err == nil {
		t.Error("expected an error for a bad numeric override")
	}
	if _, _, err := parseOverride("nonsense"); err == nil {
		t.Error("expected an error for a missing '='")
	}
}
