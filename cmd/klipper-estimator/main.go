// klipper-estimator estimates 3D print times offline by reconstructing
// the move plan a Klipper controller would execute for a G-code file.
//
// Usage:
//
//	klipper-estimator [global options] <command>
//
// Commands:
//
//	estimate <file>        Print a time estimate with totals, phases,
//	                       per-layer and per-kind breakdowns
//	post-process <files>   Rewrite slicer time comments in place
//	dump-moves <file>      Dump every planned move
//	dump-config            Print the resolved printer limits
//
// Printer limits come from --config_file, a live Moonraker instance via
// --config_moonraker_url, or both; -c key=value overrides individual
// limits.
//
// Examples:
//
//	# Estimate against a saved config
//	klipper-estimator --config_file printer.json estimate part.gcode
//
//	# Post-process from a slicer using the live printer config
//	klipper-estimator --config_moonraker_url http://voron.local post-process part.gcode
package main

import (
	"os"

	"github.com/Annex-Engineering/klipper-estimator/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
