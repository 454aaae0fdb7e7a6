/*-
 * Copyright © 2016-2017, Jörg Pernfuß <code.jpe@gmail.com>
 * Copyright © 2016, 1&1 Internet SE
 * All rights reserved.
 *
 * Use of this source code is governed by a 2-clause BSD license
 * that can be found in the LICENSE file.
 */

// Package lookup periodically refreshes the reconciler's ignored-
// metrics overrides from a remote HTTP endpoint.
package lookup // import "github.com/metricq/metricq-sink-nsca/internal/lookup"

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/metricq/metricq-sink-nsca/internal/overrides"
)

// response is the expected JSON shape served by the remote endpoint.
type response struct {
	IgnoredMetrics []string `json:"ignored_metrics"`
}

// Lookup periodically polls a remote HTTP endpoint for the current
// set of ignored-metric patterns and exposes the most recently
// fetched Overrides for the reconciler to apply.
type Lookup struct {
	client   *resty.Client
	url      string
	interval time.Duration

	// OnUpdate, if set before Run, is invoked with the freshly fetched
	// Overrides after every successful refresh.
	OnUpdate func(overrides.Overrides)

	current atomic.Value // overrides.Overrides
}

// New constructs a Lookup targeting url, polled every interval.
func New(url string, interval time.Duration) *Lookup {
	client := resty.New().
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(15)).
		SetRetryCount(3).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Accept", "application/json")

	l := &Lookup{client: client, url: url, interval: interval}
	l.current.Store(overrides.Empty())
	return l
}

// Current returns the most recently fetched Overrides. Before the
// first successful fetch, it returns an empty Overrides (no metrics
// ignored).
func (l *Lookup) Current() overrides.Overrides {
	return l.current.Load().(overrides.Overrides)
}

// Run polls the remote endpoint every interval until ctx is
// cancelled, logging and retaining the previous value on any fetch or
// parse failure.
func (l *Lookup) Run(ctx context.Context) {
	l.refresh(ctx)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.refresh(ctx)
		}
	}
}

func (l *Lookup) refresh(ctx context.Context) {
	var body response
	resp, err := l.client.R().SetContext(ctx).SetResult(&body).Get(l.url)
	if err != nil {
		logrus.WithError(err).Warn("lookup: failed to refresh ignored metrics; keeping previous overrides")
		return
	}
	if resp.IsError() {
		logrus.WithField("status", resp.StatusCode()).Warn("lookup: remote endpoint returned an error; keeping previous overrides")
		return
	}

	ov, err := overrides.FromConfig(body.IgnoredMetrics)
	if err != nil {
		logrus.WithError(err).Warn("lookup: remote endpoint returned an invalid pattern; keeping previous overrides")
		return
	}

	l.current.Store(ov)
	logrus.WithField("count", len(body.IgnoredMetrics)).Debug("lookup: refreshed ignored metrics")
	if l.OnUpdate != nil {
		l.OnUpdate(ov)
	}
}

// vim: ts=4 sw=4 sts=4 noet fenc=utf-8 ffs=unix
