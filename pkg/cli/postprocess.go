// The post-process subcommand: re-estimate a sliced file and rewrite the
// slicer's embedded time comments in place.
//
// The estimation pass keeps planner output aligned with input commands
// through a queue of per-command operation counts, so interceptors see
// the elapsed time at each line's original file position. The output
// pass writes a sibling ".estimate." file and atomically renames it over
// the original.
//
// Copyright (C) 2026  Klipper Estimator Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package cli

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	esterr "github.com/Annex-Engineering/klipper-estimator/pkg/errors"
	"github.com/Annex-Engineering/klipper-estimator/pkg/gcode"
	"github.com/Annex-Engineering/klipper-estimator/pkg/planner"
	"github.com/Annex-Engineering/klipper-estimator/pkg/slicer"
)

func newPostProcessCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "post-process <files...>",
		Short: "Rewrite slicer time estimates in place",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, filename := range args {
				if err := postProcessFile(opts, filename); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

type pendingCommand struct {
	ops int
	cmd *gcode.Command
}

// estimateRunner drives the planner over a file while keeping the input
// command for every planner operation within reach of the interceptor.
type estimateRunner struct {
	planner     *planner.Planner
	result      slicer.Result
	interceptor slicer.Interceptor
	buffer      []pendingCommand
}

func (r *estimateRunner) run(rdr *gcode.Reader) error {
	n := 0
	for rdr.Scan() {
		cmd := rdr.Command()

		// Until the slicer is known, comments may identify it.
		if r.result.Slicer == nil && cmd.IsNop() && cmd.Comment != "" {
			if preset := slicer.Detect(cmd.Comment); preset != nil {
				r.result.Slicer = preset
				r.interceptor = preset.NewInterceptor()
			}
		}

		ops, err := r.planner.ProcessCommand(cmd)
		if err != nil {
			return err
		}
		r.buffer = append(r.buffer, pendingCommand{ops: ops, cmd: cmd})

		if n%1000 == 0 {
			if err := r.drain(); err != nil {
				return err
			}
		}
		n++
	}
	if err := rdr.Err(); err != nil {
		return err
	}

	r.planner.Finalize()
	return r.drain()
}

func (r *estimateRunner) drain() error {
	for {
		op, ok := r.planner.NextOperation()
		if !ok {
			return nil
		}
		if op.IsMove() {
			if err := op.Move.CheckFinite(); err != nil {
				return err
			}
		}
		r.result.TotalTime += op.Time()

		front := &r.buffer[0]
		r.interceptor.PostCommand(front.cmd, &r.result)
		if front.ops <= 1 {
			r.buffer = r.buffer[1:]
		} else {
			front.ops--
		}
	}
}

func postProcessFile(opts *options, filename string) error {
	p, err := opts.makePlanner()
	if err != nil {
		return err
	}

	src, err := os.Open(filename)
	if err != nil {
		return esterr.IO(err, "opening gcode file %s", filename)
	}
	runner := &estimateRunner{
		planner:     p,
		interceptor: noDialect{},
	}
	err = runner.run(gcode.NewReader(src))
	src.Close()
	if err != nil {
		return err
	}

	if runner.result.Slicer == nil {
		log.Warn().Str("file", filename).
			Msg("could not identify the slicer dialect, leaving file unchanged")
		return nil
	}
	log.Info().Str("file", filename).
		Stringer("slicer", runner.result.Slicer).
		Float64("total_time", runner.result.TotalTime).
		Msg("applying new estimates")

	return applyChanges(filename, runner)
}

func applyChanges(filename string, runner *estimateRunner) error {
	src, err := os.Open(filename)
	if err != nil {
		return esterr.IO(err, "reopening gcode file %s", filename)
	}
	defer src.Close()

	dstPath := filepath.Join(filepath.Dir(filename), ".estimate."+filepath.Base(filename))
	dst, err := os.Create(dstPath)
	if err != nil {
		return esterr.IO(err, "creating %s", dstPath)
	}
	defer dst.Close()

	w := bufio.NewWriter(dst)
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 256*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		out := line
		if cmd, err := gcode.ParseLine(line, lineNo); err == nil {
			if replacement, ok := runner.interceptor.OutputProcess(cmd, &runner.result); ok {
				out = replacement.String()
			}
		}
		if _, err := fmt.Fprintln(w, out); err != nil {
			return esterr.IO(err, "writing %s", dstPath)
		}
	}
	if err := scanner.Err(); err != nil {
		return esterr.IO(err, "reading %s", filename)
	}

	if _, err := fmt.Fprintf(w, "; Processed by klipper-estimator %s, detected slicer %s\n",
		Version, runner.result.Slicer); err != nil {
		return esterr.IO(err, "writing %s", dstPath)
	}

	// Flush all the way to disk before renaming over the input.
	if err := w.Flush(); err != nil {
		return esterr.IO(err, "flushing %s", dstPath)
	}
	if err := dst.Sync(); err != nil {
		return esterr.IO(err, "syncing %s", dstPath)
	}
	if err := os.Rename(dstPath, filename); err != nil {
		return esterr.IO(err, "renaming %s over %s", dstPath, filename)
	}
	return nil
}

// noDialect absorbs interceptor calls until a slicer is detected.
type noDialect struct{}

func (noDialect) PostCommand(*gcode.Command, *slicer.Result) {}
func (noDialect) OutputProcess(*gcode.Command, *slicer.Result) (*gcode.Command, bool) {
	return nil, false
}
