// Slicer dialect detection.
//
// Each supported slicer stamps an identifying comment near the top of
// its output; detection is a first-match over those signatures.
//
// Copyright (C) 2026  Klipper Estimator Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package slicer

import (
	"fmt"
	"regexp"
)

// Preset identifies the slicer that produced a file.
type Preset struct {
	Name    string
	Version string
}

func (p *Preset) String() string {
	if p.Version == "" {
		return p.Name
	}
	return fmt.Sprintf("%s %s", p.Name, p.Version)
}

var (
	rePrusa     = regexp.MustCompile(`PrusaSlicer\s(.*)\son`)
	reSuper     = regexp.MustCompile(`SuperSlicer\s(.*)\son`)
	reIdeaMaker = regexp.MustCompile(`Sliced by ideaMaker\s(.*),`)
	reCuraOld   = regexp.MustCompile(`Generated with Cura_SteamEngine\s(.*)`)
	reCuraNew   = regexp.MustCompile(`GENERATOR.NAME:Cura_SteamEngine`)
)

// Detect identifies a slicer from one comment line, or returns nil.
func Detect(comment string) *Preset {
	if m := rePrusa.FindStringSubmatch(comment); m != nil {
		return &Preset{Name: "PrusaSlicer", Version: m[1]}
	}
	if m := reSuper.FindStringSubmatch(comment); m != nil {
		return &Preset{Name: "SuperSlicer", Version: m[1]}
	}
	if m := reIdeaMaker.FindStringSubmatch(comment); m != nil {
		return &Preset{Name: "ideaMaker", Version: m[1]}
	}
	if m := reCuraOld.FindStringSubmatch(comment); m != nil {
		return &Preset{Name: "Cura", Version: m[1]}
	}
	if reCuraNew.MatchString(comment) {
		return &Preset{Name: "Cura"}
	}
	return nil
}

// NewInterceptor returns the placeholder rewriter for the preset's
// dialect.
func (p *Preset) NewInterceptor() Interceptor {
	switch p.Name {
	case "PrusaSlicer", "SuperSlicer":
		return &psssInterceptor{}
	case "ideaMaker":
		return &ideaMakerInterceptor{}
	case "Cura":
		return &curaInterceptor{}
	default:
		return noopInterceptor{}
	}
}
