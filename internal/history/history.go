/*-
 * Copyright © 2016-2017, Jörg Pernfuß <code.jpe@gmail.com>
 * Copyright © 2016, 1&1 Internet SE
 * All rights reserved.
 *
 * Use of this source code is governed by a 2-clause BSD license
 * that can be found in the LICENSE file.
 */

// Package history tracks bounded per-metric state transition logs used
// for prevalence-based and recency-based debouncing.
package history // import "github.com/metricq/metricq-sink-nsca/internal/history"

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/metricq/metricq-sink-nsca/internal/state"
)

// ErrNonMonotonic is returned by Insert when the new transition's time
// does not strictly follow the latest recorded transition.
var ErrNonMonotonic = errors.New("history: transition times must be strictly increasing")

// DefaultWindow is the time window used when a StateTransitionHistory
// is constructed with a zero window.
const DefaultWindow = 30 * time.Second

// Transition records that, up until Time, a metric resided in State.
// Transitions have "last semantics": given two consecutive transitions
// t1 and t2 with t1.Time < t2.Time, the metric was in state t2.State
// during the interval (t1.Time, t2.Time].
type Transition struct {
	Time  time.Time
	State state.State
}

// StateTransitionHistory is a bounded log of Transitions for a single
// metric, spanning at most TimeWindow. Epoch anchors the state the
// first retained transition switched away from.
type StateTransitionHistory struct {
	epoch       time.Time
	hasEpoch    bool
	transitions []Transition
	window      time.Duration
}

// New constructs an empty history with the given retention window. A
// zero window uses DefaultWindow; a negative window is an error.
func New(window time.Duration) (*StateTransitionHistory, error) {
	if window < 0 {
		return nil, errors.New("history: time window must be a positive duration")
	}
	if window == 0 {
		window = DefaultWindow
	}
	return &StateTransitionHistory{window: window}, nil
}

// Empty reports whether this history holds no epoch and no
// transitions.
func (h *StateTransitionHistory) Empty() bool {
	return !h.hasEpoch || len(h.transitions) == 0
}

// Insert records a transition to state at t. The very first Insert
// anchors the epoch and produces no transition. Subsequent inserts
// must be strictly after the latest recorded transition's time, and
// any transitions that have aged out of the retention window are
// pruned, with Epoch advancing to the time of the newest pruned
// transition, i.e. the moment the oldest retained transition's state
// was entered.
func (h *StateTransitionHistory) Insert(t time.Time, s state.State) error {
	if !h.hasEpoch {
		h.epoch = t
		h.hasEpoch = true
		return nil
	}

	if len(h.transitions) > 0 {
		latest := h.transitions[len(h.transitions)-1]
		if !t.After(latest.Time) {
			return fmt.Errorf("history: new transition at %s is not after latest transition at %s: %w", t, latest.Time, ErrNonMonotonic)
		}
	}
	h.transitions = append(h.transitions, Transition{Time: t, State: s})

	cutoff := t.Add(-h.window)
	if h.epoch.After(cutoff) {
		// Transitions span less than window; nothing to prune.
		return nil
	}

	i := sort.Search(len(h.transitions), func(i int) bool {
		return !h.transitions[i].Time.Before(cutoff)
	})
	// The just-inserted transition is always at or after cutoff since
	// window > 0, so i is always a valid index.
	h.epoch = h.transitions[i].Time
	h.transitions = append([]Transition(nil), h.transitions[i+1:]...)
	return nil
}

// StatePrevalences returns, for each state, the fraction of the
// sampled window spent in that state. Returns nil when the history is
// empty. The sampled window starts at max(latest.Time-window, epoch),
// not at the true epoch, bounding the denominator even just after
// startup.
func (h *StateTransitionHistory) StatePrevalences() map[state.State]float64 {
	if h.Empty() {
		return nil
	}

	latest := h.transitions[len(h.transitions)-1]
	oldest := latest.Time.Add(-h.window)
	if h.epoch.After(oldest) {
		oldest = h.epoch
	}

	total := latest.Time.Sub(oldest)
	if total <= 0 {
		return nil
	}

	cumulative := make(map[state.State]time.Duration, len(state.All()))
	for _, s := range state.All() {
		cumulative[s] = 0
	}

	prev := oldest
	for _, tr := range h.transitions {
		cumulative[tr.State] += tr.Time.Sub(prev)
		prev = tr.Time
	}

	prevalences := make(map[state.State]float64, len(cumulative))
	for s, d := range cumulative {
		prevalences[s] = float64(d) / float64(total)
	}
	return prevalences
}

// DwellBlock is one yielded element of Squashed: the state occupied a
// block of consecutive raw transitions, starting at Start and lasting
// Dwell.
type DwellBlock struct {
	State state.State
	Start time.Time
	Dwell time.Duration
}

// Squashed returns the transition history from latest to oldest, with
// consecutive equal-state transitions merged into one dwell block. The
// final (oldest) block's Start is anchored at Epoch.
func (h *StateTransitionHistory) Squashed() []DwellBlock {
	if h.Empty() {
		return nil
	}

	var blocks []DwellBlock
	// end marks the end-time of the block currently being accumulated,
	// moving backwards from the latest transition.
	end := h.transitions[len(h.transitions)-1].Time
	currentState := h.transitions[len(h.transitions)-1].State

	for i := len(h.transitions) - 2; i >= 0; i-- {
		tr := h.transitions[i]
		if tr.State == currentState {
			continue
		}
		start := tr.Time
		blocks = append(blocks, DwellBlock{State: currentState, Start: start, Dwell: end.Sub(start)})
		end = tr.Time
		currentState = tr.State
	}
	blocks = append(blocks, DwellBlock{State: currentState, Start: h.epoch, Dwell: end.Sub(h.epoch)})
	return blocks
}

// Latest returns the most recently inserted transition and true, or
// the zero Transition and false if none has been recorded yet.
func (h *StateTransitionHistory) Latest() (Transition, bool) {
	if len(h.transitions) == 0 {
		return Transition{}, false
	}
	return h.transitions[len(h.transitions)-1], true
}

// Epoch returns the anchor time and whether one has been set.
func (h *StateTransitionHistory) Epoch() (time.Time, bool) {
	return h.epoch, h.hasEpoch
}

// RecentTransitions returns the n most recent raw transitions, oldest
// first, unmerged (unlike Squashed, equal-state runs are not
// collapsed). If fewer than n transitions are recorded, all of them
// are returned.
func (h *StateTransitionHistory) RecentTransitions(n int) []Transition {
	if n <= 0 || len(h.transitions) == 0 {
		return nil
	}
	if n > len(h.transitions) {
		n = len(h.transitions)
	}
	start := len(h.transitions) - n
	out := make([]Transition, n)
	copy(out, h.transitions[start:])
	return out
}

// vim: ts=4 sw=4 sts=4 noet fenc=utf-8 ffs=unix
