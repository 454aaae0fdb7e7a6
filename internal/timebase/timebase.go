/*-
 * Copyright © 2016-2017, Jörg Pernfuß <code.jpe@gmail.com>
 * Copyright © 2016, 1&1 Internet SE
 * All rights reserved.
 *
 * Use of this source code is governed by a 2-clause BSD license
 * that can be found in the LICENSE file.
 */

// Package timebase parses human-readable duration strings such as
// "30s", "3min", or "1 day" as used throughout configuration.
package timebase // import "github.com/metricq/metricq-sink-nsca/internal/timebase"

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var pattern = regexp.MustCompile(`^([0-9]+(?:\.[0-9]+)?)\s*([a-zA-Z]+)$`)

var units = map[string]time.Duration{
	"ns":      time.Nanosecond,
	"us":      time.Microsecond,
	"µs":      time.Microsecond,
	"ms":      time.Millisecond,
	"s":       time.Second,
	"sec":     time.Second,
	"secs":    time.Second,
	"second":  time.Second,
	"seconds": time.Second,
	"m":       time.Minute,
	"min":     time.Minute,
	"mins":    time.Minute,
	"minute":  time.Minute,
	"minutes": time.Minute,
	"h":       time.Hour,
	"hr":      time.Hour,
	"hour":    time.Hour,
	"hours":   time.Hour,
	"d":       24 * time.Hour,
	"day":     24 * time.Hour,
	"days":    24 * time.Hour,
}

// ParseDuration parses a human-readable duration like "30s", "3min",
// or "1 day": a non-negative decimal number, optional whitespace, and
// a unit suffix.
func ParseDuration(s string) (time.Duration, error) {
	trimmed := strings.TrimSpace(s)
	m := pattern.FindStringSubmatch(trimmed)
	if m == nil {
		return 0, fmt.Errorf("timebase: invalid duration %q", s)
	}

	amount, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("timebase: invalid duration %q: %w", s, err)
	}

	unit, ok := units[strings.ToLower(m[2])]
	if !ok {
		return 0, fmt.Errorf("timebase: unknown duration unit %q in %q", m[2], s)
	}

	return time.Duration(amount * float64(unit)), nil
}

// ParseDurationOrDefault is ParseDuration, but returns def when s is
// empty.
func ParseDurationOrDefault(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	return ParseDuration(s)
}

// vim: ts=4 sw=4 sts=4 noet fenc=utf-8 ffs=unix
