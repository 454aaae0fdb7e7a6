/*-
 * Copyright © 2016-2017, Jörg Pernfuß <code.jpe@gmail.com>
 * Copyright © 2016, 1&1 Internet SE
 * All rights reserved.
 *
 * Use of this source code is governed by a 2-clause BSD license
 * that can be found in the LICENSE file.
 */

// Package reportqueue coalesces reports emitted by many checks into
// bounded-time batches for downstream delivery.
package reportqueue // import "github.com/metricq/metricq-sink-nsca/internal/reportqueue"

import (
	"context"
	"sync"
	"time"

	"github.com/metricq/metricq-sink-nsca/internal/check"
)

// ReportQueue is an unbounded, many-writer single-reader queue of
// reports. Put never blocks and never fails; Batch drains it over a
// bounded time window.
type ReportQueue struct {
	mu     sync.Mutex
	items  []check.Report
	notify chan struct{}
}

// New constructs an empty ReportQueue.
func New() *ReportQueue {
	return &ReportQueue{notify: make(chan struct{}, 1)}
}

// Put enqueues report. Safe for concurrent use by many checks.
func (q *ReportQueue) Put(report check.Report) {
	q.mu.Lock()
	q.items = append(q.items, report)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *ReportQueue) pop() (check.Report, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return check.Report{}, false
	}
	r := q.items[0]
	q.items = q.items[1:]
	return r, true
}

// Batch collects every report that arrives within timeout, starting
// from the call, and returns them once the window elapses. It returns
// an empty slice if nothing arrived. Only one call should be
// outstanding at a time.
func (q *ReportQueue) Batch(ctx context.Context, timeout time.Duration) []check.Report {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	var batch []check.Report
	for {
		if r, ok := q.pop(); ok {
			batch = append(batch, r)
			continue
		}

		select {
		case <-ctx.Done():
			return batch
		case <-deadline.C:
			return batch
		case <-q.notify:
			continue
		}
	}
}

// vim: ts=4 sw=4 sts=4 noet fenc=utf-8 ffs=unix
