/*-
 * Copyright © 2016-2017, Jörg Pernfuß <code.jpe@gmail.com>
 * Copyright © 2016, 1&1 Internet SE
 * All rights reserved.
 *
 * Use of this source code is governed by a 2-clause BSD license
 * that can be found in the LICENSE file.
 */

package check_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metricq/metricq-sink-nsca/internal/check"
	"github.com/metricq/metricq-sink-nsca/internal/state"
	"github.com/metricq/metricq-sink-nsca/internal/valuecheck"
)

type fakeSink struct {
	mu      sync.Mutex
	reports []check.Report
}

func (f *fakeSink) Put(r check.Report) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, r)
}

func (f *fakeSink) snapshot() []check.Report {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]check.Report, len(f.reports))
	copy(out, f.reports)
	return out
}

func vcConfig(warnAbove float64) *valuecheck.Config {
	cfg := valuecheck.DefaultConfig()
	cfg.WarningAbove = warnAbove
	cfg.CriticalAbove = warnAbove + 1000
	return &cfg
}

func TestCheckValuesEmitsReportOnStateChange(t *testing.T) {
	sink := &fakeSink{}
	c, err := check.New(check.Config{
		Name:           "svc",
		Metrics:        []string{"a", "b"},
		ValueCheck:     vcConfig(10),
		ResendInterval: time.Hour,
	}, sink)
	require.NoError(t, err)

	now := time.Now()
	c.CheckValues("a", []check.TvPair{{Time: now, Value: 5}})
	c.CheckValues("b", []check.TvPair{{Time: now.Add(time.Second), Value: 20}})

	reports := sink.snapshot()
	require.NotEmpty(t, reports)
	last := reports[len(reports)-1]
	assert.Equal(t, state.WARNING, last.State)
	assert.True(t, strings.HasPrefix(last.Message, "1 metric(s) are WARNING (above 10.0)"), last.Message)
	assert.Contains(t, last.Message, "\tb")
}

func TestTimeoutFiresAndRecovers(t *testing.T) {
	sink := &fakeSink{}
	c, err := check.New(check.Config{
		Name:           "svc",
		Metrics:        []string{"a"},
		Timeout:        50 * time.Millisecond,
		ResendInterval: time.Hour,
	}, sink)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	defer c.Stop(time.Second)

	require.Eventually(t, func() bool {
		for _, r := range sink.snapshot() {
			if r.State == state.CRITICAL && strings.Contains(r.Message, "no values received") {
				return strings.Contains(r.Message, "timed out after 50ms")
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, c.BumpTimeoutCheck("a", time.Now()))

	reports := sink.snapshot()
	last := reports[len(reports)-1]
	assert.Equal(t, state.UNKNOWN, last.State)
}

func TestUnknownMetricReportsCritical(t *testing.T) {
	sink := &fakeSink{}
	c, err := check.New(check.Config{
		Name:           "svc",
		Metrics:        []string{"a"},
		ResendInterval: time.Hour,
	}, sink)
	require.NoError(t, err)

	c.CheckValues("nope", []check.TvPair{{Time: time.Now(), Value: 1}})

	reports := sink.snapshot()
	require.Len(t, reports, 1)
	assert.Equal(t, state.CRITICAL, reports[0].State)
	assert.Contains(t, reports[0].Message, "Unhandled exception")
}

func TestHeartbeatForcesPeriodicReport(t *testing.T) {
	sink := &fakeSink{}
	c, err := check.New(check.Config{
		Name:           "svc",
		Metrics:        []string{"a"},
		ResendInterval: 20 * time.Millisecond,
	}, sink)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	defer c.Stop(time.Second)

	require.Eventually(t, func() bool { return len(sink.snapshot()) >= 2 }, time.Second, 5*time.Millisecond)
}

func TestStopIsBounded(t *testing.T) {
	sink := &fakeSink{}
	c, err := check.New(check.Config{
		Name:           "svc",
		Metrics:        []string{"a"},
		Timeout:        time.Hour,
		ResendInterval: time.Hour,
	}, sink)
	require.NoError(t, err)

	c.Start(context.Background())
	err = c.Stop(time.Second)
	assert.NoError(t, err)
}

func TestNoValueCheckDefaultsToOK(t *testing.T) {
	sink := &fakeSink{}
	c, err := check.New(check.Config{
		Name:           "svc",
		Metrics:        []string{"a"},
		ResendInterval: time.Hour,
	}, sink)
	require.NoError(t, err)

	c.CheckValues("a", []check.TvPair{{Time: time.Now(), Value: 999999}})
	reports := sink.snapshot()
	if len(reports) > 0 {
		assert.Equal(t, state.OK, reports[len(reports)-1].State)
	}
}
