package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const testConfig = `{
	"max_velocity": 300,
	"max_acceleration": 3000,
	"max_accel_to_decel": 3000,
	"square_corner_velocity": 5,
	"instant_corner_velocity": 1
}`

func testOptions(t *testing.T) *options {
	t.Helper()
	return &options{configFile: writeTempFile(t, "config.json", testConfig)}
}

func TestLoadLimitsFromFile(t *testing.T) {
	limits, err := testOptions(t).printerLimits()
	if err != nil {
		t.Fatal(err)
	}
	if limits.MaxVelocity != 300 || limits.MaxAccel != 3000 {
		t.Errorf("limits = %v/%v", limits.MaxVelocity, limits.MaxAccel)
	}
	if limits.JunctionDeviation == 0 {
		t.Error("junction deviation not derived")
	}
}

func TestLoadLimitsOverride(t *testing.T) {
	opts := testOptions(t)
	opts.configOverrides = []string{"max_velocity=150"}
	limits, err := opts.printerLimits()
	if err != nil {
		t.Fatal(err)
	}
	if limits.MaxVelocity != 150 {
		t.Errorf("max_velocity = %v, want 150 (override)", limits.MaxVelocity)
	}
}

func TestLoadLimitsRejectsBadValues(t *testing.T) {
	opts := testOptions(t)
	opts.configOverrides = []string{"max_velocity=-10"}
	if _, err := opts.printerLimits(); err == nil {
		t.Fatal("expected a config error for a negative velocity")
	}
}

const curaFile = `;GENERATOR.NAME:Cura_SteamEngine
;TIME:6666
G1 X100 F18000
;TIME_ELAPSED:12.5
G1 Y100 F18000
;TIME_ELAPSED:100.0
`

func TestPostProcessRewritesCuraFile(t *testing.T) {
	gcodePath := writeTempFile(t, "part.gcode", curaFile)

	if err := postProcessFile(testOptions(t), gcodePath); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(gcodePath)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)

	if strings.Contains(out, "TIME:6666") {
		t.Error("TIME header was not rewritten")
	}
	if !strings.Contains(out, ";TIME:1") {
		t.Errorf("expected a rewritten TIME header, got:\n%s", out)
	}
	if strings.Contains(out, "TIME_ELAPSED:100.0") {
		t.Error("TIME_ELAPSED marker was not rewritten")
	}
	if !strings.Contains(out, "Processed by klipper-estimator") {
		t.Error("missing processed-by trailer")
	}
	// Moves must survive untouched.
	if !strings.Contains(out, "G1 X100 F18000") {
		t.Error("move lines should pass through unchanged")
	}
}

func TestPostProcessUnknownDialectLeavesFileUnchanged(t *testing.T) {
	content := "G1 X10 F6000\nG1 Y10\n"
	gcodePath := writeTempFile(t, "plain.gcode", content)

	if err := postProcessFile(testOptions(t), gcodePath); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(gcodePath)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != content {
		t.Errorf("file was modified:\n%s", string(data))
	}
}
