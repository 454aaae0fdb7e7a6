/*-
 * Copyright © 2016-2017, Jörg Pernfuß <code.jpe@gmail.com>
 * Copyright © 2016, 1&1 Internet SE
 * All rights reserved.
 *
 * Use of this source code is governed by a 2-clause BSD license
 * that can be found in the LICENSE file.
 */

package valuecheck_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metricq/metricq-sink-nsca/internal/state"
	"github.com/metricq/metricq-sink-nsca/internal/valuecheck"
)

func TestAbnormalRangeRejectsCrossedBounds(t *testing.T) {
	_, err := valuecheck.NewAbnormalRange(10, 5)
	require.Error(t, err)
}

func TestAbnormalRangeContains(t *testing.T) {
	r, err := valuecheck.NewAbnormalRange(0, 10)
	require.NoError(t, err)
	assert.True(t, r.Contains(-1))
	assert.True(t, r.Contains(11))
	assert.False(t, r.Contains(5))
	assert.False(t, r.Contains(0))
	assert.False(t, r.Contains(10))
}

func validConfig() valuecheck.Config {
	cfg := valuecheck.DefaultConfig()
	cfg.WarningAbove = 10
	cfg.CriticalAbove = 20
	return cfg
}

func TestClassifyOrder(t *testing.T) {
	vc, err := valuecheck.New(validConfig())
	require.NoError(t, err)

	assert.Equal(t, state.OK, vc.Classify(5))
	assert.Equal(t, state.WARNING, vc.Classify(15))
	assert.Equal(t, state.CRITICAL, vc.Classify(25))
}

func TestClassifyIgnoreWinsOverCritical(t *testing.T) {
	cfg := validConfig()
	cfg.Ignore = []float64{999}
	vc, err := valuecheck.New(cfg)
	require.NoError(t, err)

	assert.Equal(t, state.OK, vc.Classify(999))
}

func TestCoincidingBandsPreferCritical(t *testing.T) {
	// warning_below == critical_below: values below are CRITICAL, not WARNING.
	cfg := valuecheck.Config{
		WarningBelow:  10,
		WarningAbove:  math.Inf(1),
		CriticalBelow: 10,
		CriticalAbove: math.Inf(1),
	}
	vc, err := valuecheck.New(cfg)
	require.NoError(t, err)

	assert.Equal(t, state.CRITICAL, vc.Classify(5))
}

func TestNewRejectsInvertedBands(t *testing.T) {
	cfg := valuecheck.DefaultConfig()
	cfg.WarningAbove = 5
	cfg.CriticalAbove = 1 // critical_above < warning_above: invalid
	_, err := valuecheck.New(cfg)
	require.ErrorIs(t, err, valuecheck.ErrInvertedRange)
}

func TestRangeByState(t *testing.T) {
	vc, err := valuecheck.New(validConfig())
	require.NoError(t, err)

	r, err := vc.RangeByState(state.WARNING)
	require.NoError(t, err)
	assert.Equal(t, "above 10.0", r.String())

	_, err = vc.RangeByState(state.OK)
	assert.Error(t, err)
}
