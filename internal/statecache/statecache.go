/*-
 * Copyright © 2016-2017, Jörg Pernfuß <code.jpe@gmail.com>
 * Copyright © 2016, 1&1 Internet SE
 * All rights reserved.
 *
 * Use of this source code is governed by a 2-clause BSD license
 * that can be found in the LICENSE file.
 */

// Package statecache tracks, per metric, a bounded transition history
// and a current severity bucket, and derives a check's overall state.
package statecache // import "github.com/metricq/metricq-sink-nsca/internal/statecache"

import (
	"errors"
	"fmt"
	"time"

	"github.com/metricq/metricq-sink-nsca/internal/history"
	"github.com/metricq/metricq-sink-nsca/internal/postprocess"
	"github.com/metricq/metricq-sink-nsca/internal/state"
)

// ErrUnknownMetric is returned by UpdateState when asked to update a
// metric the cache was not constructed to track.
var ErrUnknownMetric = errors.New("statecache: metric is not tracked by this cache")

// ErrInvalidState is returned when a computed post-processed state is
// not one of the four defined severities.
var ErrInvalidState = errors.New("statecache: not a valid state")

// StateCache holds the current severity bucket and transition history
// for every metric tracked by one Check.
type StateCache struct {
	histories     map[string]*history.StateTransitionHistory
	byState       map[state.State]map[string]struct{}
	timedOut      map[string]*time.Time
	postprocessor postprocess.Postprocessor
}

// New constructs a StateCache tracking the given metrics, all starting
// in state.UNKNOWN. window is the retention window for each metric's
// transition history (0 uses history.DefaultWindow). postprocessor
// defaults to postprocess.Debounce{} when nil.
func New(metrics []string, window time.Duration, postprocessor postprocess.Postprocessor) (*StateCache, error) {
	if postprocessor == nil {
		postprocessor = postprocess.Debounce{}
	}

	histories := make(map[string]*history.StateTransitionHistory, len(metrics))
	unknown := make(map[string]struct{}, len(metrics))
	for _, m := range metrics {
		h, err := history.New(window)
		if err != nil {
			return nil, fmt.Errorf("statecache: metric %q: %w", m, err)
		}
		histories[m] = h
		unknown[m] = struct{}{}
	}

	return &StateCache{
		histories: histories,
		byState: map[state.State]map[string]struct{}{
			state.OK:       {},
			state.WARNING:  {},
			state.CRITICAL: {},
			state.UNKNOWN:  unknown,
		},
		timedOut:      make(map[string]*time.Time),
		postprocessor: postprocessor,
	}, nil
}

// UpdateState inserts a new raw observation for metric, runs it through
// the configured postprocessor, and places the metric into its
// resulting severity bucket. It implicitly clears the metric's
// timed-out flag.
func (c *StateCache) UpdateState(metric string, t time.Time, s state.State) error {
	h, ok := c.histories[metric]
	if !ok {
		return fmt.Errorf("statecache: metric %q: %w", metric, ErrUnknownMetric)
	}

	if err := h.Insert(t, s); err != nil {
		return fmt.Errorf("statecache: metric %q: %w", metric, err)
	}

	postState := c.postprocessor.Process(metric, s, t, h)
	return c.updateCache(metric, postState)
}

func (c *StateCache) updateCache(metric string, s state.State) error {
	delete(c.timedOut, metric)

	found := false
	for _, bucket := range c.byState {
		if _, ok := bucket[metric]; ok {
			delete(bucket, metric)
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("statecache: metric %q: %w", metric, ErrUnknownMetric)
	}

	bucket, ok := c.byState[s]
	if !ok {
		return fmt.Errorf("statecache: state %v: %w", s, ErrInvalidState)
	}
	bucket[metric] = struct{}{}
	return nil
}

// SetTimedOut marks metric as timed out without altering its severity
// bucket. lastTimestamp is nil if no value was ever received.
func (c *StateCache) SetTimedOut(metric string, lastTimestamp *time.Time) {
	c.timedOut[metric] = lastTimestamp
}

// ClearTimedOut removes metric's timed-out flag, reporting whether it
// was set. The metric's severity bucket is untouched; it was never
// altered by the timeout in the first place.
func (c *StateCache) ClearTimedOut(metric string) bool {
	_, ok := c.timedOut[metric]
	delete(c.timedOut, metric)
	return ok
}

// TimedOut returns the set of currently timed-out metrics and their
// last observed timestamp (nil if none was ever received).
func (c *StateCache) TimedOut() map[string]*time.Time {
	out := make(map[string]*time.Time, len(c.timedOut))
	for k, v := range c.timedOut {
		out[k] = v
	}
	return out
}

// Metrics returns the metrics currently in severity bucket s.
func (c *StateCache) Metrics(s state.State) []string {
	bucket := c.byState[s]
	out := make([]string, 0, len(bucket))
	for m := range bucket {
		out = append(out, m)
	}
	return out
}

// OverallState returns the most severe state of any tracked metric: if
// any metric is timed out, CRITICAL; else the most severe non-empty
// bucket in order UNKNOWN, CRITICAL, WARNING, OK; UNKNOWN if the cache
// holds no metrics at all.
func (c *StateCache) OverallState() state.State {
	if len(c.timedOut) > 0 {
		return state.CRITICAL
	}

	for _, s := range []state.State{state.UNKNOWN, state.CRITICAL, state.WARNING, state.OK} {
		if len(c.byState[s]) > 0 {
			return s
		}
	}
	return state.UNKNOWN
}

// vim: ts=4 sw=4 sts=4 noet fenc=utf-8 ffs=unix
