/*-
 * Copyright © 2016-2017, Jörg Pernfuß <code.jpe@gmail.com>
 * Copyright © 2016, 1&1 Internet SE
 * All rights reserved.
 *
 * Use of this source code is governed by a 2-clause BSD license
 * that can be found in the LICENSE file.
 */

// Package snapshot persists and restores each check's per-metric
// state to Redis, so a reconciler restart does not force every
// tracked metric back through a synthetic UNKNOWN state before real
// data catches it back up. It is optional: absent configuration, the
// reconciler starts cold, with every metric beginning at UNKNOWN.
package snapshot // import "github.com/metricq/metricq-sink-nsca/internal/snapshot"

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/metricq/metricq-sink-nsca/internal/check"
	"github.com/metricq/metricq-sink-nsca/internal/state"
)

// entry is the persisted state of one metric.
type entry struct {
	State     state.State `json:"state"`
	Timestamp time.Time   `json:"timestamp"`
}

// kvStore is the narrow slice of redis.Cmdable this package needs,
// declared here so tests can substitute a fake without implementing
// the entire Cmdable interface.
type kvStore interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// Store persists and restores per-check metric state via Redis.
type Store struct {
	client    kvStore
	keyPrefix string
}

// New constructs a Store backed by a Redis client at addr.
func New(addr, password string, db int, keyPrefix string) *Store {
	return NewWithClient(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}), keyPrefix)
}

// NewWithClient constructs a Store over an already-configured Redis
// client (or, in tests, a fake kvStore).
func NewWithClient(client kvStore, keyPrefix string) *Store {
	return &Store{client: client, keyPrefix: keyPrefix}
}

func (s *Store) key(checkName string) string {
	return s.keyPrefix + checkName
}

// Save persists the current state of every metric in states, keyed by
// checkName. It overwrites any previous snapshot for that check.
func (s *Store) Save(ctx context.Context, checkName string, states map[string]entry) error {
	payload, err := json.Marshal(states)
	if err != nil {
		return fmt.Errorf("snapshot: encode %q: %w", checkName, err)
	}
	if err := s.client.Set(ctx, s.key(checkName), payload, 0).Err(); err != nil {
		return fmt.Errorf("snapshot: write %q: %w", checkName, err)
	}
	return nil
}

// SaveCheck derives a per-metric state snapshot from c's current
// severity buckets and persists it.
func (s *Store) SaveCheck(ctx context.Context, c *check.Check, now time.Time) error {
	states := make(map[string]entry)
	for _, st := range state.All() {
		for _, m := range c.StateCacheMetrics(st) {
			states[m] = entry{State: st, Timestamp: now}
		}
	}
	return s.Save(ctx, c.Name(), states)
}

// Restore loads the previously saved snapshot for checkName, if any,
// and returns it. A missing key is not an error: it returns an empty
// map, matching a cold start where every metric begins UNKNOWN.
func (s *Store) Restore(ctx context.Context, checkName string) (map[string]entry, error) {
	raw, err := s.client.Get(ctx, s.key(checkName)).Bytes()
	if err == redis.Nil {
		return map[string]entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot: read %q: %w", checkName, err)
	}

	var states map[string]entry
	if err := json.Unmarshal(raw, &states); err != nil {
		return nil, fmt.Errorf("snapshot: decode %q: %w", checkName, err)
	}
	return states, nil
}

// RestoreCheck seeds c's state cache from its previously saved
// snapshot, if one exists. Metrics absent from the snapshot (new to
// the check) are left UNKNOWN, matching a cold start.
func (s *Store) RestoreCheck(ctx context.Context, c *check.Check) error {
	states, err := s.Restore(ctx, c.Name())
	if err != nil {
		return err
	}
	for metric, e := range states {
		if err := c.SeedState(metric, e.State, e.Timestamp); err != nil {
			logrus.WithField("check", c.Name()).WithField("metric", metric).WithError(err).
				Debug("snapshot: metric no longer tracked by check; skipping restore")
		}
	}
	return nil
}

// Close releases the underlying Redis connection, if the client this
// Store was built with supports closing.
func (s *Store) Close() error {
	if closer, ok := s.client.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// vim: ts=4 sw=4 sts=4 noet fenc=utf-8 ffs=unix
