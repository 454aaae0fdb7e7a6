/*-
 * Copyright © 2016-2017, Jörg Pernfuß <code.jpe@gmail.com>
 * Copyright © 2016, 1&1 Internet SE
 * All rights reserved.
 *
 * Use of this source code is governed by a 2-clause BSD license
 * that can be found in the LICENSE file.
 */

package overrides_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metricq/metricq-sink-nsca/internal/overrides"
)

func TestExactMatch(t *testing.T) {
	p, err := overrides.ParsePattern("a.b.c")
	require.NoError(t, err)
	assert.True(t, p.Matches("a.b.c"))
	assert.False(t, p.Matches("a.b.c.d"))
}

func TestPrefixMatch(t *testing.T) {
	p, err := overrides.ParsePattern("a.b.*")
	require.NoError(t, err)
	assert.True(t, p.Matches("a.b.c"))
	assert.True(t, p.Matches("a.b.c.d"))
	assert.False(t, p.Matches("a.bc.d"))
}

func TestRejectsEmptyComponent(t *testing.T) {
	_, err := overrides.ParsePattern("a..c")
	assert.Error(t, err)
}

func TestRejectsWildcardNotInLastPosition(t *testing.T) {
	_, err := overrides.ParsePattern("a.*.c")
	assert.Error(t, err)
}

func TestRejectsPartialWildcardComponent(t *testing.T) {
	_, err := overrides.ParsePattern("a.b*.c")
	assert.Error(t, err)
}

func TestOverridesFiltersIgnoredMetrics(t *testing.T) {
	o, err := overrides.FromConfig([]string{"sys.*"})
	require.NoError(t, err)

	got := o.FilterMetrics([]string{"sys.cpu", "app.rps"})
	assert.Equal(t, []string{"app.rps"}, got)
}
