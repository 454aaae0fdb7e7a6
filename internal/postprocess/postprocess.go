/*-
 * Copyright © 2016-2017, Jörg Pernfuß <code.jpe@gmail.com>
 * Copyright © 2016, 1&1 Internet SE
 * All rights reserved.
 *
 * Use of this source code is governed by a 2-clause BSD license
 * that can be found in the LICENSE file.
 */

// Package postprocess implements transition post-processors that
// rewrite a just-observed state using a metric's transition history,
// dampening noisy state changes before they reach the state cache.
package postprocess // import "github.com/metricq/metricq-sink-nsca/internal/postprocess"

import (
	"time"

	"github.com/metricq/metricq-sink-nsca/internal/history"
	"github.com/metricq/metricq-sink-nsca/internal/state"
)

// Postprocessor rewrites a newly observed state for a metric, using
// its transition history for context.
type Postprocessor interface {
	Process(metric string, currentState state.State, now time.Time, h *history.StateTransitionHistory) state.State
}

// Debounce returns the state whose cumulative prevalence first reaches
// 0.5 under the canonical enumeration order (OK, WARNING, CRITICAL,
// UNKNOWN), computed over the history's sampled window. It is the
// default post-processor. When the history holds no prevalences yet
// (first observation), it returns currentState unchanged.
type Debounce struct{}

func (Debounce) Process(_ string, currentState state.State, _ time.Time, h *history.StateTransitionHistory) state.State {
	prevalences := h.StatePrevalences()
	if prevalences == nil {
		return currentState
	}

	var cumulative float64
	for _, s := range state.All() {
		cumulative += prevalences[s]
		if cumulative >= 0.5 {
			return s
		}
	}
	return currentState
}

// IgnoreShortTransitions returns the immediately preceding different
// state whenever the current dwell (per history.Squashed) is shorter
// than MinDuration; otherwise it returns currentState.
type IgnoreShortTransitions struct {
	MinDuration time.Duration
}

func (p IgnoreShortTransitions) Process(_ string, currentState state.State, _ time.Time, h *history.StateTransitionHistory) state.State {
	blocks := h.Squashed()
	if len(blocks) == 0 {
		return currentState
	}

	current := blocks[0]
	if current.Dwell >= p.MinDuration {
		return currentState
	}
	if len(blocks) < 2 {
		// No preceding different state recorded yet; nothing to mask with.
		return currentState
	}
	return blocks[1].State
}

// SoftFail masks a short run of up to MaxFailCount worsened states: it
// walks the most recent up-to-MaxFailCount+1 raw transitions (the one
// just observed included) and, if any is strictly less severe than
// currentState, returns that last better state instead. If none is
// less severe, it returns currentState. While the history holds fewer
// than MaxFailCount+1 transitions, a run of that many worsened states
// cannot have been observed yet, so a non-OK currentState is masked to
// OK.
type SoftFail struct {
	MaxFailCount int
}

func (p SoftFail) Process(_ string, currentState state.State, _ time.Time, h *history.StateTransitionHistory) state.State {
	recent := h.RecentTransitions(p.MaxFailCount + 1)
	if len(recent) < p.MaxFailCount+1 && currentState > state.OK {
		return state.OK
	}
	for _, tr := range recent {
		if tr.State < currentState {
			return tr.State
		}
	}
	return currentState
}

// vim: ts=4 sw=4 sts=4 noet fenc=utf-8 ffs=unix
