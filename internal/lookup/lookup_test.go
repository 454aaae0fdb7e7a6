/*-
 * Copyright © 2016-2017, Jörg Pernfuß <code.jpe@gmail.com>
 * Copyright © 2016, 1&1 Internet SE
 * All rights reserved.
 *
 * Use of this source code is governed by a 2-clause BSD license
 * that can be found in the LICENSE file.
 */

package lookup_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metricq/metricq-sink-nsca/internal/lookup"
)

func TestRunRefreshesOverridesFromServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ignored_metrics":["sys.disk.*","a.b.c"]}`))
	}))
	defer server.Close()

	l := lookup.New(server.URL, 20*time.Millisecond)
	assert.False(t, l.Current().IgnoredMetrics.Contains("a.b.c"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	require.Eventually(t, func() bool {
		return l.Current().IgnoredMetrics.Contains("a.b.c")
	}, time.Second, 10*time.Millisecond)

	assert.True(t, l.Current().IgnoredMetrics.Contains("sys.disk.usage"))
}

func TestRunKeepsPreviousOverridesOnServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	l := lookup.New(server.URL, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	assert.False(t, l.Current().IgnoredMetrics.Contains("a.b.c"))
}
