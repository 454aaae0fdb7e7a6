/*-
 * Copyright © 2016-2017, Jörg Pernfuß <code.jpe@gmail.com>
 * Copyright © 2016, 1&1 Internet SE
 * All rights reserved.
 *
 * Use of this source code is governed by a 2-clause BSD license
 * that can be found in the LICENSE file.
 */

// Package selfmetrics tracks the bridge's own throughput with
// rcrowley/go-metrics meters.
package selfmetrics // import "github.com/metricq/metricq-sink-nsca/internal/selfmetrics"

import (
	"time"

	metrics "github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"
)

// Registry groups the bridge's self-instrumentation meters under one
// rcrowley/go-metrics registry.
type Registry struct {
	registry metrics.Registry

	ChunksProcessed  metrics.Meter
	ReportsGenerated metrics.Meter
	ReportsSent      metrics.Meter
	ReportsDropped   metrics.Meter
}

// New constructs a Registry with its four meters pre-registered.
func New() *Registry {
	r := metrics.NewRegistry()
	return &Registry{
		registry:         r,
		ChunksProcessed:  metrics.GetOrRegisterMeter("chunks.processed.per.second", r),
		ReportsGenerated: metrics.GetOrRegisterMeter("reports.generated.per.second", r),
		ReportsSent:      metrics.GetOrRegisterMeter("reports.sent.per.second", r),
		ReportsDropped:   metrics.GetOrRegisterMeter("reports.dropped.per.second", r),
	}
}

// LogPeriodically writes a one-line summary of all meters to logrus
// every interval, until done is closed. The meters are inspected from
// the process heartbeat rather than exported through a separate
// metrics endpoint.
func (r *Registry) LogPeriodically(interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			logrus.WithFields(logrus.Fields{
				"chunks_processed":  r.ChunksProcessed.RateMean(),
				"reports_generated": r.ReportsGenerated.RateMean(),
				"reports_sent":      r.ReportsSent.RateMean(),
				"reports_dropped":   r.ReportsDropped.RateMean(),
			}).Debug("self metrics")
		}
	}
}

// vim: ts=4 sw=4 sts=4 noet fenc=utf-8 ffs=unix
