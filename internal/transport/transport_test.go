/*-
 * Copyright © 2016-2017, Jörg Pernfuß <code.jpe@gmail.com>
 * Copyright © 2016, 1&1 Internet SE
 * All rights reserved.
 *
 * Use of this source code is governed by a 2-clause BSD license
 * that can be found in the LICENSE file.
 */

package transport_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metricq/metricq-sink-nsca/internal/transport"
)

func TestDecodeChunkCumulativeDeltas(t *testing.T) {
	metric, chunk, err := transport.DecodeChunk([]byte(`{"metric":"a.b","time_delta":[1700000000,1,1],"value":[1,2,3]}`))
	require.NoError(t, err)
	assert.Equal(t, "a.b", metric)
	require.Len(t, chunk.TimeDelta, 3)
	require.Len(t, chunk.Value, 3)
	assert.Equal(t, time.Unix(0, 0).UTC(), chunk.Reference)
	assert.Equal(t, []time.Duration{1700000000 * time.Second, time.Second, time.Second}, chunk.TimeDelta)
}

func TestDecodeChunkRejectsLengthMismatch(t *testing.T) {
	_, _, err := transport.DecodeChunk([]byte(`{"metric":"a.b","time_delta":[1],"value":[1,2]}`))
	assert.Error(t, err)
}

func TestDecodeChunkRejectsEmptyMetric(t *testing.T) {
	_, _, err := transport.DecodeChunk([]byte(`{"metric":"","time_delta":[1],"value":[1]}`))
	assert.Error(t, err)
}
