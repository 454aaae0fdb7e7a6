/*-
 * Copyright © 2016-2017, Jörg Pernfuß <code.jpe@gmail.com>
 * Copyright © 2016, 1&1 Internet SE
 * All rights reserved.
 *
 * Use of this source code is governed by a 2-clause BSD license
 * that can be found in the LICENSE file.
 */

// Package check coordinates value classification, plugin overrides,
// state caching, and liveness watchdogs for one named check, emitting
// reports whenever its overall state changes or its heartbeat fires.
package check // import "github.com/metricq/metricq-sink-nsca/internal/check"

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/metricq/metricq-sink-nsca/internal/history"
	"github.com/metricq/metricq-sink-nsca/internal/plugin"
	"github.com/metricq/metricq-sink-nsca/internal/postprocess"
	"github.com/metricq/metricq-sink-nsca/internal/state"
	"github.com/metricq/metricq-sink-nsca/internal/statecache"
	"github.com/metricq/metricq-sink-nsca/internal/timeoutcheck"
	"github.com/metricq/metricq-sink-nsca/internal/valuecheck"
)

// TvPair is one decoded (timestamp, value) observation for a metric.
type TvPair struct {
	Time  time.Time
	Value float64
}

// Report is the outcome of a state change or heartbeat: the check's
// current overall state and a human-readable summary.
type Report struct {
	Service string
	State   state.State
	Message string
}

// ReportSink receives reports emitted by a Check. It is implemented by
// the report queue; declared here to avoid an import cycle.
type ReportSink interface {
	Put(Report)
}

// Config describes one check as decoded from configuration.
type Config struct {
	Name                     string
	Metrics                  []string
	ValueCheck               *valuecheck.Config
	Timeout                  time.Duration
	GracePeriod              time.Duration
	ResendInterval           time.Duration
	TransitionDebounceWindow time.Duration
	Postprocessor            postprocess.Postprocessor
	Plugins                  map[string]plugin.Config
	IgnoreUpdateErrors       bool
}

// Check coordinates value/plugin/postprocessor/state-cache/timeout
// handling for one named check and emits Reports to a ReportSink.
type Check struct {
	name               string
	metrics            map[string]struct{}
	pluginExtraMetrics map[string]map[string]struct{}
	extraMetrics       map[string]struct{}

	valueCheck *valuecheck.ValueCheck
	plugins    map[string]plugin.Plugin

	stateCache         *statecache.StateCache
	lastOverallState   state.State
	timeout            time.Duration
	timeoutChecks      map[string]*timeoutcheck.TimeoutCheck
	ignoreUpdateErrors bool
	resendInterval     time.Duration

	sink ReportSink

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Check from cfg. It loads plugins, but does not
// start the heartbeat or timeout watchdogs; call Start for that.
func New(cfg Config, sink ReportSink) (*Check, error) {
	if cfg.Name == "" {
		return nil, errors.New("check: name is required")
	}
	if len(cfg.Metrics) == 0 {
		return nil, fmt.Errorf("check %q: metrics must be a nonempty list", cfg.Name)
	}
	if cfg.ResendInterval <= 0 {
		return nil, fmt.Errorf("check %q: resend interval must be positive", cfg.Name)
	}

	metricSet := make(map[string]struct{}, len(cfg.Metrics))
	for _, m := range cfg.Metrics {
		metricSet[m] = struct{}{}
	}

	var vc *valuecheck.ValueCheck
	if cfg.ValueCheck != nil {
		var err error
		vc, err = valuecheck.New(*cfg.ValueCheck)
		if err != nil {
			return nil, fmt.Errorf("check %q: %w", cfg.Name, err)
		}
	}

	plugins := make(map[string]plugin.Plugin, len(cfg.Plugins))
	pluginExtra := make(map[string]map[string]struct{}, len(cfg.Plugins))
	extraMetrics := make(map[string]struct{})
	for name, pc := range cfg.Plugins {
		if len(pc.Metrics) == 0 {
			pc.Metrics = cfg.Metrics
		}
		p, err := plugin.Load(name, pc)
		if err != nil {
			return nil, fmt.Errorf("check %q: %w", cfg.Name, err)
		}
		plugins[name] = p

		extra := make(map[string]struct{})
		for _, m := range p.ExtraMetrics() {
			extra[m] = struct{}{}
			extraMetrics[m] = struct{}{}
		}
		pluginExtra[name] = extra
	}

	window := cfg.TransitionDebounceWindow
	if window <= 0 {
		window = history.DefaultWindow
	}
	sc, err := statecache.New(cfg.Metrics, window, cfg.Postprocessor)
	if err != nil {
		return nil, fmt.Errorf("check %q: %w", cfg.Name, err)
	}

	var timeoutChecks map[string]*timeoutcheck.TimeoutCheck
	c := &Check{
		name:               cfg.Name,
		metrics:            metricSet,
		pluginExtraMetrics: pluginExtra,
		extraMetrics:       extraMetrics,
		valueCheck:         vc,
		plugins:            plugins,
		stateCache:         sc,
		lastOverallState:   state.UNKNOWN,
		timeout:            cfg.Timeout,
		ignoreUpdateErrors: cfg.IgnoreUpdateErrors,
		resendInterval:     cfg.ResendInterval,
		sink:               sink,
	}

	if cfg.Timeout > 0 {
		timeoutChecks = make(map[string]*timeoutcheck.TimeoutCheck, len(cfg.Metrics))
		for _, m := range cfg.Metrics {
			metric := m
			timeoutChecks[metric] = timeoutcheck.New(cfg.Timeout, cfg.GracePeriod, func(timeout time.Duration, lastTimestamp *time.Time, _ bool) {
				logrus.WithFields(logrus.Fields{"check": c.name, "metric": metric}).
					Warnf("metric timed out after %s", timeout)
				c.mu.Lock()
				c.stateCache.SetTimedOut(metric, lastTimestamp)
				c.mu.Unlock()
				c.triggerReport(false)
			})
		}
	}
	c.timeoutChecks = timeoutChecks

	return c, nil
}

// Name returns the check's configured name.
func (c *Check) Name() string { return c.name }

// SeedState restores metric's state cache entry to s as of ts without
// emitting a report, used by the optional warm-restart snapshot
// feature to avoid re-synthesizing a burst of UNKNOWN transitions for
// every metric after a reconciler restart. metric must be one of this
// check's primary metrics.
func (c *Check) SeedState(metric string, s state.State, ts time.Time) error {
	if _, ok := c.metrics[metric]; !ok {
		return fmt.Errorf("check %q: metric %q not known to check", c.name, metric)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateCache.UpdateState(metric, ts, s)
}

// Metrics returns the primary metrics monitored by this check.
func (c *Check) Metrics() []string {
	out := make([]string, 0, len(c.metrics))
	for m := range c.metrics {
		out = append(out, m)
	}
	return out
}

// ExtraMetrics returns the union of all plugins' requested extra
// metrics.
func (c *Check) ExtraMetrics() []string {
	out := make([]string, 0, len(c.extraMetrics))
	for m := range c.extraMetrics {
		out = append(out, m)
	}
	return out
}

// StateCacheMetrics returns the metrics currently in severity bucket
// s, for use by the optional warm-restart snapshot feature.
func (c *Check) StateCacheMetrics(s state.State) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateCache.Metrics(s)
}

// Contains reports whether metric is a primary metric of this check.
func (c *Check) Contains(metric string) bool {
	_, ok := c.metrics[metric]
	return ok
}

// Start launches the heartbeat task and, if configured, one timeout
// watchdog per metric, all cancelled together by ctx or Stop.
func (c *Check) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	for _, tc := range c.timeoutChecks {
		tc.Start(loopCtx)
	}

	c.wg.Add(1)
	go c.heartbeatLoop(loopCtx)
}

func (c *Check) heartbeatLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.resendInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.triggerReport(true)
		}
	}
}

// Stop cancels the heartbeat and every owned timeout watchdog, and
// waits up to timeout for them to finish.
func (c *Check) Stop(timeout time.Duration) error {
	if c.cancel == nil {
		return nil
	}
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		for _, tc := range c.timeoutChecks {
			tc.Stop()
		}
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("check %q: stop timed out after %s", c.name, timeout)
	}
}

// CheckValues processes a sequence of observations for metric, in
// timestamp order, dispatching to plugins if it is an extra metric, or
// running the full value/plugin/state-cache pipeline if it is primary.
func (c *Check) CheckValues(metric string, pairs []TvPair) {
	_, isPrimary := c.metrics[metric]
	_, isExtra := c.extraMetrics[metric]

	if !isPrimary && !isExtra {
		c.reportException(fmt.Errorf("metric %q not known to check %q", metric, c.name))
		return
	}

	if isExtra {
		c.forwardExtraMetric(metric, pairs)
		return
	}

	for _, pair := range pairs {
		c.processPair(metric, pair)
	}
}

func (c *Check) forwardExtraMetric(metric string, pairs []TvPair) {
	for _, pair := range pairs {
		for name, p := range c.plugins {
			if _, ok := c.pluginExtraMetrics[name][metric]; ok {
				p.OnExtraMetric(metric, pair.Time, pair.Value)
			}
		}
	}
}

func (c *Check) processPair(metric string, pair TvPair) {
	defer func() {
		if r := recover(); r != nil {
			c.reportException(fmt.Errorf("%v", r))
		}
	}()

	s0 := state.OK
	if c.valueCheck != nil {
		s0 = c.valueCheck.Classify(pair.Value)
	}

	severities := make([]state.State, 0, len(c.plugins)+1)
	severities = append(severities, s0)
	for _, p := range c.plugins {
		severities = append(severities, p.Check(metric, pair.Time, pair.Value, s0))
	}
	s := state.Max(severities...)

	c.mu.Lock()
	err := c.stateCache.UpdateState(metric, pair.Time, s)
	c.mu.Unlock()
	if err != nil {
		if c.ignoreUpdateErrors && errors.Is(err, history.ErrNonMonotonic) {
			logrus.WithFields(logrus.Fields{"check": c.name, "metric": metric}).Warnf("skipping out-of-order update: %v", err)
			return
		}
		c.reportException(err)
		return
	}

	c.triggerReport(false)
}

func (c *Check) reportException(err error) {
	logrus.WithField("check", c.name).WithError(err).Error("unhandled exception while processing check")

	lines := []string{"Unhandled exception: " + err.Error()}
	for cause := errors.Unwrap(err); cause != nil; cause = errors.Unwrap(cause) {
		lines = append(lines, "caused by: "+cause.Error())
	}
	c.sink.Put(Report{Service: c.name, State: state.CRITICAL, Message: strings.Join(lines, "\n")})
}

// BumpTimeoutCheck forwards the last observed timestamp of metric to
// its timeout watchdog, if one is configured. Receiving a timestamp
// ends any ongoing timeout: the metric's timed-out flag is cleared and
// a recovery report is emitted if the overall state changes.
func (c *Check) BumpTimeoutCheck(metric string, ts time.Time) error {
	if c.timeoutChecks == nil {
		return nil
	}
	tc, ok := c.timeoutChecks[metric]
	if !ok {
		return fmt.Errorf("check %q: metric %q not known to check", c.name, metric)
	}
	tc.Bump(ts)

	c.mu.Lock()
	recovered := c.stateCache.ClearTimedOut(metric)
	c.mu.Unlock()
	if recovered {
		c.triggerReport(false)
	}
	return nil
}

// triggerReport recomputes the overall state and emits a Report if it
// changed since the last call, or unconditionally when force is set.
func (c *Check) triggerReport(force bool) {
	c.mu.Lock()
	newState := c.stateCache.OverallState()
	changed := newState != c.lastOverallState
	c.lastOverallState = newState

	var message string
	shouldEmit := force || changed
	if shouldEmit {
		message = c.formatMessage(newState)
	}
	c.mu.Unlock()

	if shouldEmit {
		c.sink.Put(Report{Service: c.name, State: newState, Message: message})
	}
}

// formatMessage builds the report body for overall. Must be called
// with c.mu held.
func (c *Check) formatMessage(overall state.State) string {
	if overall == state.OK {
		return "All metrics are OK"
	}

	var header []string
	var details []string

	timedOut := c.stateCache.TimedOut()
	if c.timeout > 0 && len(timedOut) > 0 {
		header = append(header, fmt.Sprintf("%d metric(s) timed out after %s", len(timedOut), c.timeout))

		metrics := make([]string, 0, len(timedOut))
		for m := range timedOut {
			metrics = append(metrics, m)
		}
		sort.Strings(metrics)
		for _, m := range metrics {
			last := timedOut[m]
			var detail string
			if last == nil {
				detail = "no values received"
			} else {
				detail = "last value at " + last.Format(time.RFC3339)
			}
			details = append(details, fmt.Sprintf("\t%s: %s", m, detail))
		}
	}

	for _, s := range []state.State{state.UNKNOWN, state.CRITICAL, state.WARNING} {
		metrics := c.stateCache.Metrics(s)
		if len(metrics) == 0 {
			continue
		}
		sort.Strings(metrics)

		headerPart := fmt.Sprintf("%d metric(s) are %s", len(metrics), s)
		if s != state.UNKNOWN && c.valueCheck != nil {
			if rng, err := c.valueCheck.RangeByState(s); err == nil {
				headerPart += fmt.Sprintf(" (%s)", rng)
			}
		}
		header = append(header, headerPart)

		details = append(details, s.String()+":")
		for _, m := range metrics {
			details = append(details, "\t"+m)
		}
	}

	return strings.Join(header, ", ") + "\n" + strings.Join(details, "\n")
}

// vim: ts=4 sw=4 sts=4 noet fenc=utf-8 ffs=unix
