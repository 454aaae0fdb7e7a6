/*-
 * Copyright © 2016-2017, Jörg Pernfuß <code.jpe@gmail.com>
 * Copyright © 2016, 1&1 Internet SE
 * All rights reserved.
 *
 * Use of this source code is governed by a 2-clause BSD license
 * that can be found in the LICENSE file.
 */

package state_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/metricq/metricq-sink-nsca/internal/state"
)

func TestSeverityOrder(t *testing.T) {
	assert.True(t, state.OK < state.WARNING)
	assert.True(t, state.WARNING < state.CRITICAL)
	assert.True(t, state.CRITICAL < state.UNKNOWN)
}

func TestMax(t *testing.T) {
	assert.Equal(t, state.OK, state.Max())
	assert.Equal(t, state.CRITICAL, state.Max(state.OK, state.CRITICAL, state.WARNING))
	assert.Equal(t, state.UNKNOWN, state.Max(state.UNKNOWN, state.CRITICAL))
}

func TestValid(t *testing.T) {
	assert.True(t, state.OK.Valid())
	assert.True(t, state.UNKNOWN.Valid())
	assert.False(t, state.State(99).Valid())
}

func TestNSCACode(t *testing.T) {
	assert.Equal(t, 0, state.OK.NSCACode())
	assert.Equal(t, 1, state.WARNING.NSCACode())
	assert.Equal(t, 2, state.CRITICAL.NSCACode())
	assert.Equal(t, 3, state.UNKNOWN.NSCACode())
}
