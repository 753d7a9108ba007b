// Move kind interning and layer tracking.
//
// Copyright (C) 2026  Klipper Estimator Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package planner

import (
	"strconv"
	"strings"
)

// Kind is an interned move-kind label (wall, infill, support, ...)
// assigned from slicer comments for per-category accounting. The zero
// value is KindNone, so zero-valued moves and delays are unattributed.
type Kind int16

// KindNone marks a move or delay without an assigned kind.
const KindNone Kind = 0

// KindTracker interns kind labels and tracks the comment-driven current
// kind and layer.
type KindTracker struct {
	byLabel map[string]Kind
	labels  []string

	// CurrentKind applies to moves whose own comment names no kind.
	CurrentKind Kind
	// CurrentLayer is advanced by LAYER:<n> and LAYER_CHANGE comments.
	CurrentLayer int
}

// NewKindTracker creates an empty tracker.
func NewKindTracker() KindTracker {
	return KindTracker{
		byLabel:     make(map[string]Kind),
		CurrentKind: KindNone,
	}
}

// GetKind interns a label. Kind ids start at 1; 0 stays KindNone.
func (t *KindTracker) GetKind(label string) Kind {
	if k, ok := t.byLabel[label]; ok {
		return k
	}
	k := Kind(len(t.labels) + 1)
	t.byLabel[label] = k
	t.labels = append(t.labels, label)
	return k
}

// Resolve returns the label for a kind, or "" for KindNone.
func (t *KindTracker) Resolve(k Kind) string {
	if k == KindNone || int(k) > len(t.labels) {
		return ""
	}
	return t.labels[k-1]
}

// KindFromComment derives a move's kind from its own trailing comment,
// falling back to the current kind. Layer-move comments with coordinates
// collapse into one bucket.
func (t *KindTracker) KindFromComment(comment string) Kind {
	s := strings.TrimSpace(comment)
	if s == "" {
		return t.CurrentKind
	}
	if strings.HasPrefix(s, "move to next layer ") {
		s = "move to next layer"
	}
	return t.GetKind(s)
}

// ObserveLayerComment advances the layer counter when the comment is a
// layer marker. Both the explicit LAYER:<n> form and bare LAYER_CHANGE
// markers are recognized.
func (t *KindTracker) ObserveLayerComment(comment string) bool {
	s := strings.TrimSpace(comment)
	if rest, ok := strings.CutPrefix(s, "LAYER:"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(rest)); err == nil {
			t.CurrentLayer = n
			return true
		}
		return false
	}
	if s == "LAYER_CHANGE" {
		t.CurrentLayer++
		return true
	}
	return false
}
