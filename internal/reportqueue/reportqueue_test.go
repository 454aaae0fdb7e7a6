/*-
 * Copyright © 2016-2017, Jörg Pernfuß <code.jpe@gmail.com>
 * Copyright © 2016, 1&1 Internet SE
 * All rights reserved.
 *
 * Use of this source code is governed by a 2-clause BSD license
 * that can be found in the LICENSE file.
 */

package reportqueue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metricq/metricq-sink-nsca/internal/check"
	"github.com/metricq/metricq-sink-nsca/internal/reportqueue"
	"github.com/metricq/metricq-sink-nsca/internal/state"
)

func TestBatchReturnsEmptyWhenNothingArrives(t *testing.T) {
	q := reportqueue.New()
	got := q.Batch(context.Background(), 20*time.Millisecond)
	assert.Empty(t, got)
}

func TestBatchCollectsQueuedReports(t *testing.T) {
	q := reportqueue.New()
	q.Put(check.Report{Service: "a", State: state.OK})
	q.Put(check.Report{Service: "b", State: state.WARNING})

	got := q.Batch(context.Background(), 50*time.Millisecond)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Service)
	assert.Equal(t, "b", got[1].Service)
}

func TestBatchCollectsReportsArrivingDuringWindow(t *testing.T) {
	q := reportqueue.New()
	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Put(check.Report{Service: "late", State: state.CRITICAL})
	}()

	got := q.Batch(context.Background(), 100*time.Millisecond)
	require.Len(t, got, 1)
	assert.Equal(t, "late", got[0].Service)
}

func TestBatchStopsOnContextCancellation(t *testing.T) {
	q := reportqueue.New()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	got := q.Batch(ctx, time.Hour)
	assert.Empty(t, got)
	assert.Less(t, time.Since(start), time.Second)
}
