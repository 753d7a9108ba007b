// Moonraker configuration retrieval.
//
// The estimator fetches the live printer configuration from a Moonraker
// instance and projects it into PrinterLimits. Plain http(s) URLs hit
// the REST query endpoint; ws(s) URLs speak the JSON-RPC websocket API
// instead, for setups that only expose the socket.
//
// Copyright (C) 2026  Klipper Estimator Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package moonraker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	esterr "github.com/Annex-Engineering/klipper-estimator/pkg/errors"
	"github.com/Annex-Engineering/klipper-estimator/pkg/planner"
)

// Client fetches printer limits from a Moonraker instance.
type Client struct {
	// URL is the Moonraker base URL. http(s) uses the REST API; ws(s)
	// the JSON-RPC websocket.
	URL string
	// APIKey is sent as X-Api-Key when non-empty.
	APIKey string

	HTTPClient *http.Client
}

// NewClient creates a client for the given base URL.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		URL:        baseURL,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// printerConfig mirrors the configfile.settings subtree the estimator
// cares about.
type printerConfig struct {
	Printer struct {
		Kinematics           string   `json:"kinematics"`
		MaxVelocity          float64  `json:"max_velocity"`
		MaxAccel             float64  `json:"max_accel"`
		MaxAccelToDecel      *float64 `json:"max_accel_to_decel"`
		MinimumCruiseRatio   *float64 `json:"minimum_cruise_ratio"`
		SquareCornerVelocity float64  `json:"square_corner_velocity"`

		MaxXVelocity *float64 `json:"max_x_velocity"`
		MaxXAccel    *float64 `json:"max_x_accel"`
		MaxYVelocity *float64 `json:"max_y_velocity"`
		MaxYAccel    *float64 `json:"max_y_accel"`
		MaxZVelocity *float64 `json:"max_z_velocity"`
		MaxZAccel    *float64 `json:"max_z_accel"`
	} `json:"printer"`
	Extruder struct {
		MaxExtrudeOnlyVelocity      float64 `json:"max_extrude_only_velocity"`
		MaxExtrudeOnlyAccel         float64 `json:"max_extrude_only_accel"`
		InstantaneousCornerVelocity float64 `json:"instantaneous_corner_velocity"`
		PressureAdvance             float64 `json:"pressure_advance"`
		PressureAdvanceSmoothTime   float64 `json:"pressure_advance_smooth_time"`
	} `json:"extruder"`
	FirmwareRetraction *struct {
		RetractLength        float64 `json:"retract_length"`
		UnretractExtraLength float64 `json:"unretract_extra_length"`
		UnretractSpeed       float64 `json:"unretract_speed"`
		RetractSpeed         float64 `json:"retract_speed"`
		LiftZ                float64 `json:"lift_z"`
	} `json:"firmware_retraction"`
	GcodeArcs *struct {
		Resolution *float64 `json:"resolution"`
	} `json:"gcode_arcs"`
}

// FetchLimits retrieves and projects the printer configuration.
func (c *Client) FetchLimits(ctx context.Context) (*planner.PrinterLimits, error) {
	cfg, err := c.fetchConfig(ctx)
	if err != nil {
		return nil, err
	}
	return projectLimits(cfg)
}

func (c *Client) fetchConfig(ctx context.Context) (*printerConfig, error) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return nil, esterr.Config("invalid moonraker URL %q: %v", c.URL, err)
	}
	switch u.Scheme {
	case "ws", "wss":
		return c.fetchWebsocket(ctx, u)
	case "http", "https":
		return c.fetchHTTP(ctx, u)
	default:
		return nil, esterr.Config("unsupported moonraker URL scheme %q", u.Scheme)
	}
}

func (c *Client) fetchHTTP(ctx context.Context, base *url.URL) (*printerConfig, error) {
	u := *base
	u.Path = strings.TrimRight(u.Path, "/") + "/printer/objects/query"
	q := u.Query()
	q.Set("configfile", "settings")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, esterr.IO(err, "building moonraker request")
	}
	if c.APIKey != "" {
		req.Header.Set("X-Api-Key", c.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, esterr.IO(err, "querying moonraker at %s", base)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, esterr.Config("moonraker access denied (an API key may be required)")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, esterr.Config("moonraker returned status %s", resp.Status)
	}

	var root struct {
		Result struct {
			Status struct {
				Configfile struct {
					Settings printerConfig `json:"settings"`
				} `json:"configfile"`
			} `json:"status"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&root); err != nil {
		return nil, esterr.IO(err, "decoding moonraker response")
	}
	return &root.Result.Status.Configfile.Settings, nil
}

// fetchWebsocket queries the same object over Moonraker's JSON-RPC
// websocket API.
func (c *Client) fetchWebsocket(ctx context.Context, base *url.URL) (*printerConfig, error) {
	u := *base
	if u.Path == "" || u.Path == "/" {
		u.Path = "/websocket"
	}

	header := http.Header{}
	if c.APIKey != "" {
		header.Set("X-Api-Key", c.APIKey)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, esterr.IO(err, "dialing moonraker websocket at %s", &u)
	}
	defer conn.Close()

	request := map[string]any{
		"jsonrpc": "2.0",
		"method":  "printer.objects.query",
		"params": map[string]any{
			"objects": map[string]any{"configfile": []string{"settings"}},
		},
		"id": 1,
	}
	if err := conn.WriteJSON(request); err != nil {
		return nil, esterr.IO(err, "sending moonraker query")
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	} else {
		_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	}

	// Moonraker pushes unsolicited notifications on the same socket;
	// read until our request id answers.
	for {
		var response struct {
			ID    json.RawMessage `json:"id"`
			Error *struct {
				Message string `json:"message"`
			} `json:"error"`
			Result *struct {
				Status struct {
					Configfile struct {
						Settings printerConfig `json:"settings"`
					} `json:"configfile"`
				} `json:"status"`
			} `json:"result"`
		}
		if err := conn.ReadJSON(&response); err != nil {
			return nil, esterr.IO(err, "reading moonraker response")
		}
		if string(response.ID) != "1" {
			continue
		}
		if response.Error != nil {
			return nil, esterr.Config("moonraker error: %s", response.Error.Message)
		}
		if response.Result == nil {
			return nil, esterr.Config("moonraker returned no result")
		}
		return &response.Result.Status.Configfile.Settings, nil
	}
}

// projectLimits maps the configuration subtree onto PrinterLimits.
func projectLimits(cfg *printerConfig) (*planner.PrinterLimits, error) {
	if cfg.Printer.MaxVelocity == 0 && cfg.Printer.MaxAccel == 0 {
		return nil, esterr.Config("moonraker config has no printer limits (is Klipper ready?)")
	}

	limits := planner.DefaultLimits()
	limits.SetMaxVelocity(cfg.Printer.MaxVelocity)
	limits.SetMaxAcceleration(cfg.Printer.MaxAccel)
	if cfg.Printer.MinimumCruiseRatio != nil {
		limits.SetMinimumCruiseRatio(*cfg.Printer.MinimumCruiseRatio)
	} else if cfg.Printer.MaxAccelToDecel != nil {
		limits.SetMaxAccelToDecel(*cfg.Printer.MaxAccelToDecel)
	}
	limits.SetSquareCornerVelocity(cfg.Printer.SquareCornerVelocity)
	limits.SetInstantCornerVelocity(cfg.Extruder.InstantaneousCornerVelocity)

	if cfg.GcodeArcs != nil {
		resolution := 1.0 / 60.0
		if cfg.GcodeArcs.Resolution != nil {
			resolution = *cfg.GcodeArcs.Resolution
		}
		limits.MMPerArcSegment = &resolution
	}

	if fr := cfg.FirmwareRetraction; fr != nil {
		limits.FirmwareRetraction = &planner.FirmwareRetractionOptions{
			RetractLength:        fr.RetractLength,
			UnretractExtraLength: fr.UnretractExtraLength,
			UnretractSpeed:       fr.UnretractSpeed,
			RetractSpeed:         fr.RetractSpeed,
			LiftZ:                fr.LiftZ,
		}
	}

	if strings.HasPrefix(cfg.Printer.Kinematics, "delta") {
		// Delta towers have no per-axis caps the cartesian model can
		// express; the estimate still holds to within the usual bounds.
		log.Warn().
			Str("kinematics", cfg.Printer.Kinematics).
			Msg("delta kinematics limits are not modeled, ignoring")
	} else {
		axisLimits := []struct {
			axis     mgl64.Vec3
			velocity *float64
			accel    *float64
		}{
			{mgl64.Vec3{1, 0, 0}, cfg.Printer.MaxXVelocity, cfg.Printer.MaxXAccel},
			{mgl64.Vec3{0, 1, 0}, cfg.Printer.MaxYVelocity, cfg.Printer.MaxYAccel},
			{mgl64.Vec3{0, 0, 1}, cfg.Printer.MaxZVelocity, cfg.Printer.MaxZAccel},
		}
		for _, al := range axisLimits {
			if al.velocity != nil && al.accel != nil {
				limits.MoveCheckers = append(limits.MoveCheckers, planner.MoveChecker{
					AxisLimiter: &planner.AxisLimiter{
						Axis:        al.axis,
						MaxVelocity: *al.velocity,
						MaxAccel:    *al.accel,
					},
				})
			}
		}
	}

	limits.MoveCheckers = append(limits.MoveCheckers, planner.MoveChecker{
		ExtruderLimiter: &planner.ExtruderLimiter{
			MaxVelocity: cfg.Extruder.MaxExtrudeOnlyVelocity,
			MaxAccel:    cfg.Extruder.MaxExtrudeOnlyAccel,
		},
	})

	limits.Extruders = []planner.ExtruderLimits{{
		MaxVelocity:           cfg.Extruder.MaxExtrudeOnlyVelocity,
		MaxAccel:              cfg.Extruder.MaxExtrudeOnlyAccel,
		InstantCornerVelocity: cfg.Extruder.InstantaneousCornerVelocity,
		PressureAdvance:       cfg.Extruder.PressureAdvance,
		SmoothTime:            cfg.Extruder.PressureAdvanceSmoothTime,
	}}

	if err := limits.Recalculate(); err != nil {
		return nil, err
	}
	return &limits, nil
}
