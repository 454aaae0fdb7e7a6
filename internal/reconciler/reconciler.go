/*-
 * Copyright © 2016-2017, Jörg Pernfuß <code.jpe@gmail.com>
 * Copyright © 2016, 1&1 Internet SE
 * All rights reserved.
 *
 * Use of this source code is governed by a 2-clause BSD license
 * that can be found in the LICENSE file.
 */

// Package reconciler is the sink: it owns the running set of checks,
// applies configuration changes against it, routes decoded metric
// chunks to every check that cares about them, and drains the report
// queue into batched NSCA transmissions.
package reconciler // import "github.com/metricq/metricq-sink-nsca/internal/reconciler"

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/metricq/metricq-sink-nsca/internal/check"
	"github.com/metricq/metricq-sink-nsca/internal/config"
	"github.com/metricq/metricq-sink-nsca/internal/nsca"
	"github.com/metricq/metricq-sink-nsca/internal/overrides"
	"github.com/metricq/metricq-sink-nsca/internal/reportqueue"
	"github.com/metricq/metricq-sink-nsca/internal/selfmetrics"
	"github.com/metricq/metricq-sink-nsca/internal/valuecheck"
)

// stopTimeout bounds how long Reconciler waits for a single check's
// Stop to finish during reconciliation before giving up on it.
const stopTimeout = time.Second

// batchWindow is the period over which the report-delivery loop
// coalesces reports before handing a batch to the NSCA sender.
const batchWindow = 5 * time.Second

// Chunk is one decoded wire payload for a single metric: cumulative
// time-delta-encoded timestamps anchored at Reference, paired
// positionally with Value.
type Chunk struct {
	Reference time.Time
	TimeDelta []time.Duration
	Value     []float64
}

// trackedCheck pairs a running Check with the check.Config it was
// built from, so the reconciler can detect configuration and override
// drift without re-deriving it from the live object.
type trackedCheck struct {
	check       *check.Check
	cfg         check.Config
	metricsUsed []string // post-override-filter metric list
}

// Sender transmits a batch of NSCA reports downstream. Implemented by
// *nsca.Sender; declared as an interface so tests can substitute a
// fake.
type Sender interface {
	Send(ctx context.Context, reports []nsca.Report) error
}

// StateStore persists and restores per-check metric state across
// reconciler restarts. Implemented by *snapshot.Store; optional.
type StateStore interface {
	RestoreCheck(ctx context.Context, c *check.Check) error
	SaveCheck(ctx context.Context, c *check.Check, now time.Time) error
}

// Reconciler owns the running check set, routes metric chunks to the
// checks that monitor them, and drains generated reports to the
// downstream NSCA sink.
type Reconciler struct {
	reportingHost string
	sender        Sender
	queue         *reportqueue.ReportQueue
	batchWindow   time.Duration

	stateStore StateStore
	self       *selfmetrics.Registry

	mu              sync.RWMutex
	checks          map[string]*trackedCheck
	baseConfig      config.Config
	haveConfig      bool
	remoteOverrides overrides.Overrides

	fastPath bool // true when no running check has a ValueCheck or plugins

	metricIndex map[string][]*trackedCheck // metric -> checks that consume it (primary or extra)
}

// New constructs an empty Reconciler that batches reports every
// batchWindow. Call Apply with an initial configuration before
// routing any chunks.
func New(reportingHost string, sender Sender) *Reconciler {
	return NewWithBatchWindow(reportingHost, sender, batchWindow)
}

// NewWithBatchWindow is New with an explicit batching window, mainly
// useful for tests that cannot wait out the production default.
func NewWithBatchWindow(reportingHost string, sender Sender, window time.Duration) *Reconciler {
	return &Reconciler{
		reportingHost:   reportingHost,
		sender:          sender,
		queue:           reportqueue.New(),
		batchWindow:     window,
		checks:          make(map[string]*trackedCheck),
		remoteOverrides: overrides.Empty(),
		fastPath:        true,
		metricIndex:     make(map[string][]*trackedCheck),
	}
}

// SetStateStore attaches an optional warm-restart state store. Newly
// added checks are seeded from it before they start, and stopped
// checks write their last known state back. Must be called before the
// first Apply.
func (r *Reconciler) SetStateStore(store StateStore) {
	r.stateStore = store
}

// Instrument attaches the bridge's self-instrumentation meters. Must
// be called before the first chunk or delivery batch.
func (r *Reconciler) Instrument(reg *selfmetrics.Registry) {
	r.self = reg
}

// Apply reconciles the running check set against cfg: checks present
// only in the old set are stopped and removed, checks present only in
// the new set are started and added, and checks present in both are
// compared structurally (including their effective, override-filtered
// metric list) and replaced if they differ. Equal checks are left
// running untouched.
func (r *Reconciler) Apply(ctx context.Context, cfg config.Config) {
	r.mu.Lock()
	r.baseConfig = cfg
	r.haveConfig = true
	r.mu.Unlock()

	r.applyEffective(ctx)
}

// RefreshOverrides folds a remotely fetched set of ignored-metric
// patterns into the applied configuration's own overrides and
// re-reconciles. Checks whose effective metric list changes are
// restarted; everything else is left running. A refresh arriving
// before the first Apply is retained and folded in then.
func (r *Reconciler) RefreshOverrides(ctx context.Context, ov overrides.Overrides) {
	r.mu.Lock()
	r.remoteOverrides = ov
	have := r.haveConfig
	r.mu.Unlock()

	if have {
		r.applyEffective(ctx)
	}
}

func (r *Reconciler) applyEffective(ctx context.Context) {
	r.mu.Lock()
	cfg := r.baseConfig
	effective := cfg.Overrides.Union(r.remoteOverrides)
	r.mu.Unlock()

	desired := make(map[string]check.Config, len(cfg.Checks))
	for name, cc := range cfg.Checks {
		filtered := effective.FilterMetrics(cc.Metrics)
		if dropped := len(cc.Metrics) - len(filtered); dropped > 0 {
			logrus.WithFields(logrus.Fields{"check": name, "dropped": dropped}).
				Info("ignoring metrics excluded by overrides")
		}
		cc.Metrics = filtered
		if len(cc.Metrics) == 0 {
			logrus.WithField("check", name).Warn("check has no metrics left after applying overrides; skipping")
			continue
		}
		desired[name] = cc
	}

	r.mu.Lock()
	var toRemove, toAdd []string
	for name := range r.checks {
		if _, ok := desired[name]; !ok {
			toRemove = append(toRemove, name)
		}
	}
	for name, cc := range desired {
		existing, ok := r.checks[name]
		if !ok {
			toAdd = append(toAdd, name)
			continue
		}
		if !configEqual(existing.cfg, cc) {
			toRemove = append(toRemove, name)
			toAdd = append(toAdd, name)
		} else {
			logrus.WithField("check", name).Info("check configuration unchanged")
		}
	}
	r.mu.Unlock()

	r.stopChecks(toRemove)
	r.addChecks(ctx, toAdd, desired)
	r.rebuildIndex()
}

func (r *Reconciler) stopChecks(names []string) {
	if len(names) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, name := range names {
		r.mu.Lock()
		tc, ok := r.checks[name]
		delete(r.checks, name)
		r.mu.Unlock()
		if !ok {
			continue
		}

		wg.Add(1)
		go func(name string, c *check.Check) {
			defer wg.Done()
			if r.stateStore != nil {
				saveCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
				if err := r.stateStore.SaveCheck(saveCtx, c, time.Now()); err != nil {
					logrus.WithField("check", name).WithError(err).Warn("failed to snapshot check state")
				}
				cancel()
			}
			if err := c.Stop(stopTimeout); err != nil {
				logrus.WithField("check", name).WithError(err).Warn("check stop timed out; treating it as gone")
			}
		}(name, tc.check)
	}
	wg.Wait()
}

func (r *Reconciler) addChecks(ctx context.Context, names []string, desired map[string]check.Config) {
	for _, name := range names {
		cc := desired[name]
		c, err := check.New(cc, r.queue)
		if err != nil {
			logrus.WithField("check", name).WithError(err).Error("failed to build check from configuration; leaving it absent")
			continue
		}
		if r.stateStore != nil {
			if err := r.stateStore.RestoreCheck(ctx, c); err != nil {
				logrus.WithField("check", name).WithError(err).Warn("failed to restore snapshotted check state; starting cold")
			}
		}
		c.Start(ctx)

		r.mu.Lock()
		r.checks[name] = &trackedCheck{check: c, cfg: cc, metricsUsed: cc.Metrics}
		r.mu.Unlock()

		logrus.WithField("check", name).Info("check started")
	}
}

func (r *Reconciler) rebuildIndex() {
	r.mu.Lock()
	defer r.mu.Unlock()

	index := make(map[string][]*trackedCheck)
	fastPath := true
	for _, tc := range r.checks {
		for _, m := range tc.check.Metrics() {
			index[m] = append(index[m], tc)
		}
		for _, m := range tc.check.ExtraMetrics() {
			index[m] = append(index[m], tc)
		}
		if tc.cfg.ValueCheck != nil || len(tc.cfg.Plugins) > 0 {
			fastPath = false
		}
	}
	r.metricIndex = index
	r.fastPath = fastPath
}

// OnChunk decodes chunk's cumulative time-delta wire format, drops NaN
// values, and dispatches the resulting (time, value) pairs to every
// check that monitors metric (as a primary or an extra metric),
// bumping that metric's timeout watchdog in every such check
// afterward. When the fast path applies (no running check has a value
// check or plugins), only the final timestamp is computed and used to
// bump timeouts, skipping per-value decode work entirely.
func (r *Reconciler) OnChunk(metric string, chunk Chunk) {
	if len(chunk.TimeDelta) == 0 {
		return
	}
	if r.self != nil {
		r.self.ChunksProcessed.Mark(1)
	}

	r.mu.RLock()
	checks := r.metricIndex[metric]
	fastPath := r.fastPath
	r.mu.RUnlock()

	if len(checks) == 0 {
		return
	}

	ts := chunk.Reference
	var lastTs time.Time
	hasTs := false

	if fastPath {
		for _, d := range chunk.TimeDelta {
			ts = ts.Add(d)
			lastTs = ts
			hasTs = true
		}
		r.bumpAll(checks, metric, lastTs, hasTs)
		return
	}

	// The timeout watchdogs are bumped with the full chunk's last
	// timestamp, no matter how many samples the NaN filter drops below:
	// a chunk of NaN values still proves the metric is alive.
	pairs := make([]check.TvPair, 0, len(chunk.TimeDelta))
	for i, d := range chunk.TimeDelta {
		ts = ts.Add(d)
		lastTs = ts
		hasTs = true
		v := chunk.Value[i]
		if math.IsNaN(v) {
			continue
		}
		pairs = append(pairs, check.TvPair{Time: ts, Value: v})
	}

	for _, tc := range checks {
		tc.check.CheckValues(metric, pairs)
	}
	r.bumpAll(checks, metric, lastTs, hasTs)
}

func (r *Reconciler) bumpAll(checks []*trackedCheck, metric string, ts time.Time, hasTs bool) {
	if !hasTs {
		return
	}
	for _, tc := range checks {
		if err := tc.check.BumpTimeoutCheck(metric, ts); err != nil {
			logrus.WithField("metric", metric).WithError(err).Debug("no timeout watchdog configured for metric")
		}
	}
}

// RunDelivery continuously batches the report queue over batchWindow
// and hands each non-empty batch to the configured Sender as
// NscaReports with this reconciler's reporting host attached. It
// blocks until ctx is cancelled.
func (r *Reconciler) RunDelivery(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		reports := r.queue.Batch(ctx, r.batchWindow)
		if len(reports) == 0 {
			continue
		}
		if r.self != nil {
			r.self.ReportsGenerated.Mark(int64(len(reports)))
		}

		out := make([]nsca.Report, 0, len(reports))
		for _, rep := range reports {
			out = append(out, nsca.Report{
				Host:    r.reportingHost,
				Service: rep.Service,
				State:   rep.State,
				Message: rep.Message,
			})
		}

		if err := r.sender.Send(ctx, out); err != nil {
			logrus.WithError(err).Error("failed to transmit report batch; dropping it")
			if r.self != nil {
				r.self.ReportsDropped.Mark(int64(len(out)))
			}
		} else if r.self != nil {
			r.self.ReportsSent.Mark(int64(len(out)))
		}
	}
}

// Shutdown stops every running check under a bounded timeout per
// check.
func (r *Reconciler) Shutdown() {
	r.mu.RLock()
	names := make([]string, 0, len(r.checks))
	for name := range r.checks {
		names = append(names, name)
	}
	r.mu.RUnlock()

	r.stopChecks(names)
}

// CheckNames returns the names of the currently running checks,
// unordered.
func (r *Reconciler) CheckNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.checks))
	for name := range r.checks {
		out = append(out, name)
	}
	return out
}

// Metrics returns the effective, override-filtered metric list for a
// running check, or an error if no check by that name is running.
func (r *Reconciler) Metrics(name string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tc, ok := r.checks[name]
	if !ok {
		return nil, fmt.Errorf("reconciler: no running check named %q", name)
	}
	out := make([]string, len(tc.metricsUsed))
	copy(out, tc.metricsUsed)
	return out, nil
}

func configEqual(a, b check.Config) bool {
	if a.Name != b.Name || a.Timeout != b.Timeout || a.GracePeriod != b.GracePeriod ||
		a.ResendInterval != b.ResendInterval || a.TransitionDebounceWindow != b.TransitionDebounceWindow ||
		a.IgnoreUpdateErrors != b.IgnoreUpdateErrors {
		return false
	}
	if !stringSliceEqual(a.Metrics, b.Metrics) {
		return false
	}
	if (a.ValueCheck == nil) != (b.ValueCheck == nil) {
		return false
	}
	if a.ValueCheck != nil && !valueCheckConfigEqual(*a.ValueCheck, *b.ValueCheck) {
		return false
	}
	if a.Postprocessor != b.Postprocessor {
		return false
	}
	if len(a.Plugins) != len(b.Plugins) {
		return false
	}
	for name, pa := range a.Plugins {
		pb, ok := b.Plugins[name]
		if !ok || pa.File != pb.File || !stringSliceEqual(pa.Metrics, pb.Metrics) || !reflect.DeepEqual(pa.Settings, pb.Settings) {
			return false
		}
	}
	return true
}

func valueCheckConfigEqual(a, b valuecheck.Config) bool {
	if a.WarningBelow != b.WarningBelow || a.WarningAbove != b.WarningAbove ||
		a.CriticalBelow != b.CriticalBelow || a.CriticalAbove != b.CriticalAbove {
		return false
	}
	return float64SliceEqualUnordered(a.Ignore, b.Ignore)
}

func float64SliceEqualUnordered(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[float64]int, len(a))
	for _, v := range a {
		seen[v]++
	}
	for _, v := range b {
		seen[v]--
	}
	for _, n := range seen {
		if n != 0 {
			return false
		}
	}
	return true
}

func stringSliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, s := range a {
		seen[s]++
	}
	for _, s := range b {
		seen[s]--
	}
	for _, n := range seen {
		if n != 0 {
			return false
		}
	}
	return true
}

// vim: ts=4 sw=4 sts=4 noet fenc=utf-8 ffs=unix
