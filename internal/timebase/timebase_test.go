/*-
 * Copyright © 2016-2017, Jörg Pernfuß <code.jpe@gmail.com>
 * Copyright © 2016, 1&1 Internet SE
 * All rights reserved.
 *
 * Use of this source code is governed by a 2-clause BSD license
 * that can be found in the LICENSE file.
 */

package timebase_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metricq/metricq-sink-nsca/internal/timebase"
)

func TestParseDurationUnits(t *testing.T) {
	cases := map[string]time.Duration{
		"30s":    30 * time.Second,
		"3min":   3 * time.Minute,
		"1 day":  24 * time.Hour,
		"100ms":  100 * time.Millisecond,
		"1.5h":   90 * time.Minute,
		"2hours": 2 * time.Hour,
	}
	for in, want := range cases {
		got, err := timebase.ParseDuration(in)
		require.NoErrorf(t, err, "parsing %q", in)
		assert.Equalf(t, want, got, "parsing %q", in)
	}
}

func TestParseDurationRejectsGarbage(t *testing.T) {
	_, err := timebase.ParseDuration("banana")
	assert.Error(t, err)
}

func TestParseDurationOrDefault(t *testing.T) {
	got, err := timebase.ParseDurationOrDefault("", 3*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Minute, got)
}
