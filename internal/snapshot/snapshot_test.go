/*-
 * Copyright © 2016-2017, Jörg Pernfuß <code.jpe@gmail.com>
 * Copyright © 2016, 1&1 Internet SE
 * All rights reserved.
 *
 * Use of this source code is governed by a 2-clause BSD license
 * that can be found in the LICENSE file.
 */

package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metricq/metricq-sink-nsca/internal/state"
)

// fakeKV is a minimal in-memory stand-in for kvStore.
type fakeKV struct {
	data map[string][]byte
}

func newFakeKV() *fakeKV { return &fakeKV{data: make(map[string][]byte)} }

func (f *fakeKV) Get(_ context.Context, key string) *redis.StringCmd {
	cmd := redis.NewStringCmd(context.Background())
	raw, ok := f.data[key]
	if !ok {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	cmd.SetVal(string(raw))
	return cmd
}

func (f *fakeKV) Set(_ context.Context, key string, value any, _ time.Duration) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(context.Background())
	switch v := value.(type) {
	case []byte:
		f.data[key] = v
	case string:
		f.data[key] = []byte(v)
	}
	cmd.SetVal("OK")
	return cmd
}

func TestRestoreReturnsEmptyWhenNoSnapshotExists(t *testing.T) {
	store := NewWithClient(newFakeKV(), "cyclone:")
	got, err := store.Restore(context.Background(), "svc")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSaveThenRestoreRoundTrips(t *testing.T) {
	store := NewWithClient(newFakeKV(), "cyclone:")
	now := time.Now().Truncate(time.Second).UTC()

	err := store.Save(context.Background(), "svc", map[string]entry{
		"a": {State: state.WARNING, Timestamp: now},
	})
	require.NoError(t, err)

	got, err := store.Restore(context.Background(), "svc")
	require.NoError(t, err)
	require.Contains(t, got, "a")
	assert.Equal(t, state.WARNING, got["a"].State)
	assert.True(t, now.Equal(got["a"].Timestamp))
}
