// Command-line surface and configuration layering.
//
// Printer limits merge from, in increasing precedence: built-in
// defaults, a live Moonraker query, a JSON config file, and -c
// key=value overrides. The merged map deserializes into PrinterLimits
// and is validated once before any estimation runs.
//
// Copyright (C) 2026  Klipper Estimator Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	esterr "github.com/Annex-Engineering/klipper-estimator/pkg/errors"
	"github.com/Annex-Engineering/klipper-estimator/pkg/moonraker"
	"github.com/Annex-Engineering/klipper-estimator/pkg/planner"
)

// Version is stamped by the build; "dev" otherwise.
var Version = "dev"

type options struct {
	configFile           string
	moonrakerURL         string
	moonrakerAPIKey      string
	moonrakerIgnoreError bool
	moonrakerCacheFile   string
	configOverrides      []string
	logLevel             string

	limits *planner.PrinterLimits
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	if err := newRootCommand().Execute(); err != nil {
		log.Error().Err(err).Msg("estimator failed")
		return 1
	}
	return 0
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "klipper-estimator",
		Short:         "Offline print time estimation for Klipper",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(opts.logLevel)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configFile, "config_file", "", "printer limits JSON file")
	pf.StringVar(&opts.moonrakerURL, "config_moonraker_url", "", "Moonraker base URL to fetch limits from")
	pf.StringVar(&opts.moonrakerAPIKey, "config_moonraker_api_key", "", "Moonraker API key")
	pf.BoolVar(&opts.moonrakerIgnoreError, "config_moonraker_ignore_error", false, "continue with cached or default limits when Moonraker is unreachable")
	pf.StringVar(&opts.moonrakerCacheFile, "config_moonraker_cache_file", "", "cache file for the Moonraker limits")
	pf.StringArrayVarP(&opts.configOverrides, "config_override", "c", nil, "limit override, key=value")
	pf.StringVar(&opts.logLevel, "log_level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(
		newEstimateCommand(opts),
		newDumpMovesCommand(opts),
		newPostProcessCommand(opts),
		newDumpConfigCommand(opts),
	)
	return root
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(lvl).
		With().Timestamp().Logger()
}

// printerLimits loads the limits once and caches them for the run.
func (o *options) printerLimits() (*planner.PrinterLimits, error) {
	if o.limits != nil {
		return o.limits, nil
	}
	limits, err := o.loadLimits()
	if err != nil {
		return nil, err
	}
	o.limits = limits
	return limits, nil
}

func (o *options) makePlanner() (*planner.Planner, error) {
	limits, err := o.printerLimits()
	if err != nil {
		return nil, err
	}
	return planner.New(*limits), nil
}

func (o *options) loadLimits() (*planner.PrinterLimits, error) {
	v := viper.New()
	v.SetDefault("max_accel_to_decel", 50.0)

	if o.moonrakerURL != "" {
		if err := o.mergeMoonraker(v); err != nil {
			return nil, err
		}
	}

	if o.configFile != "" {
		data, err := os.ReadFile(o.configFile)
		if err != nil {
			return nil, esterr.IO(err, "reading config file %s", o.configFile)
		}
		v.SetConfigType("json")
		if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
			return nil, esterr.Config("parsing config file %s: %v", o.configFile, err)
		}
	}

	for _, override := range o.configOverrides {
		key, value, err := parseOverride(override)
		if err != nil {
			return nil, err
		}
		v.Set(key, value)
	}

	limits := planner.DefaultLimits()
	if err := v.Unmarshal(&limits); err != nil {
		return nil, esterr.Config("invalid limits configuration: %v", err)
	}
	if err := limits.Recalculate(); err != nil {
		return nil, err
	}
	return &limits, nil
}

// mergeMoonraker layers the live Moonraker configuration into v, falling
// back to the cache file in ignore-error mode.
func (o *options) mergeMoonraker(v *viper.Viper) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := moonraker.NewClient(o.moonrakerURL, o.moonrakerAPIKey)
	limits, err := client.FetchLimits(ctx)
	if err != nil {
		if !o.moonrakerIgnoreError {
			return err
		}
		log.Warn().Err(err).Msg("could not get config from Moonraker, ignoring")
		if o.moonrakerCacheFile == "" {
			return nil
		}
		log.Warn().Str("file", o.moonrakerCacheFile).Msg("using cached Moonraker config")
		data, err := os.ReadFile(o.moonrakerCacheFile)
		if err != nil {
			log.Warn().Err(err).Msg("could not read cached Moonraker config")
			return nil
		}
		return mergeLimitsJSON(v, data)
	}

	data, err := json.Marshal(limits)
	if err != nil {
		return esterr.Config("serializing Moonraker limits: %v", err)
	}
	if o.moonrakerCacheFile != "" {
		if err := os.WriteFile(o.moonrakerCacheFile, data, 0o644); err != nil {
			log.Warn().Err(err).Msg("could not write Moonraker config cache")
		}
	}
	return mergeLimitsJSON(v, data)
}

func mergeLimitsJSON(v *viper.Viper, data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return esterr.Config("invalid limits JSON: %v", err)
	}
	return v.MergeConfigMap(m)
}

// parseOverride splits a -c key=value override. Numeric values become
// floats so viper merges them with the type the limit fields expect; the
// two smoothing keys must parse, anything else falls back to a string.
func parseOverride(s string) (string, any, error) {
	key, value, ok := strings.Cut(s, "=")
	if !ok {
		return "", nil, esterr.Config("invalid config override %q, format is key=value", s)
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		if key == "max_accel_to_decel" || key == "minimum_cruise_ratio" {
			return "", nil, esterr.Config("failed to parse config override %q: %v", key, err)
		}
		return key, value, nil
	}
	return key, f, nil
}
