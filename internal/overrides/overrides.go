/*-
 * Copyright © 2016-2017, Jörg Pernfuß <code.jpe@gmail.com>
 * Copyright © 2016, 1&1 Internet SE
 * All rights reserved.
 *
 * Use of this source code is governed by a 2-clause BSD license
 * that can be found in the LICENSE file.
 */

// Package overrides filters metric names against configuration-level
// patterns before subscription, so ignored metrics never reach a
// check.
package overrides // import "github.com/metricq/metricq-sink-nsca/internal/overrides"

import (
	"fmt"
	"strings"
)

// PatternParseError indicates a malformed metric pattern string.
type PatternParseError struct {
	Pattern string
	Reason  string
}

func (e *PatternParseError) Error() string {
	return fmt.Sprintf("invalid pattern %q: %s", e.Pattern, e.Reason)
}

// MetricPattern matches a metric name, either exactly or by dotted
// prefix.
type MetricPattern interface {
	Matches(metric string) bool
}

type exactMatch struct{ name string }

func (m exactMatch) Matches(metric string) bool { return m.name == metric }

type prefixMatch struct{ prefix string }

func (m prefixMatch) Matches(metric string) bool { return strings.HasPrefix(metric, m.prefix) }

// ParsePattern parses one pattern string: "a.b.c" is an exact match,
// "a.b.*" is a prefix match over "a.b.". The wildcard "*" may only
// appear as the entire last dot-separated component.
func ParsePattern(pattern string) (MetricPattern, error) {
	components := strings.Split(pattern, ".")

	for _, frag := range components {
		if frag == "" {
			return nil, &PatternParseError{Pattern: pattern, Reason: "metric names must have non-empty components separated by '.'"}
		}
	}

	hasWildcard := false
	for _, c := range components {
		if strings.Contains(c, "*") {
			hasWildcard = true
			break
		}
	}

	if !hasWildcard {
		return exactMatch{name: pattern}, nil
	}

	last := components[len(components)-1]
	prefix := components[:len(components)-1]
	if last != "*" {
		return nil, &PatternParseError{Pattern: pattern, Reason: "wildcard can only appear in the last position of the last component"}
	}
	for _, frag := range prefix {
		if strings.Contains(frag, "*") {
			return nil, &PatternParseError{Pattern: pattern, Reason: "wildcard can only appear in the last position of the last component"}
		}
	}

	return prefixMatch{prefix: strings.Join(prefix, ".") + "."}, nil
}

// MetricPatternSet is a set of patterns; a metric is contained if any
// pattern matches it.
type MetricPatternSet struct {
	patterns []MetricPattern
}

// EmptyPatternSet returns a set that matches nothing.
func EmptyPatternSet() MetricPatternSet {
	return MetricPatternSet{}
}

// PatternSetFromConfig parses a list of pattern strings into a
// MetricPatternSet.
func PatternSetFromConfig(patterns []string) (MetricPatternSet, error) {
	parsed := make([]MetricPattern, 0, len(patterns))
	for _, p := range patterns {
		mp, err := ParsePattern(p)
		if err != nil {
			return MetricPatternSet{}, fmt.Errorf("failed to parse list of metric patterns: %w", err)
		}
		parsed = append(parsed, mp)
	}
	return MetricPatternSet{patterns: parsed}, nil
}

// Union returns a set containing every pattern of s and other.
func (s MetricPatternSet) Union(other MetricPatternSet) MetricPatternSet {
	combined := make([]MetricPattern, 0, len(s.patterns)+len(other.patterns))
	combined = append(combined, s.patterns...)
	combined = append(combined, other.patterns...)
	return MetricPatternSet{patterns: combined}
}

// Contains reports whether metric matches any pattern in the set.
func (s MetricPatternSet) Contains(metric string) bool {
	for _, p := range s.patterns {
		if p.Matches(metric) {
			return true
		}
	}
	return false
}

// Overrides holds global, configuration-level adjustments applied by
// the reconciler before a check is built.
type Overrides struct {
	IgnoredMetrics MetricPatternSet
}

// Empty returns an Overrides with no ignored metrics.
func Empty() Overrides {
	return Overrides{IgnoredMetrics: EmptyPatternSet()}
}

// FromConfig builds Overrides from the "overrides.ignored_metrics"
// configuration list.
func FromConfig(ignoredMetrics []string) (Overrides, error) {
	set, err := PatternSetFromConfig(ignoredMetrics)
	if err != nil {
		return Overrides{}, fmt.Errorf("invalid list of ignored metrics: %w", err)
	}
	return Overrides{IgnoredMetrics: set}, nil
}

// Union combines the ignored-metric patterns of o and other.
func (o Overrides) Union(other Overrides) Overrides {
	return Overrides{IgnoredMetrics: o.IgnoredMetrics.Union(other.IgnoredMetrics)}
}

// FilterMetrics returns metrics with every entry matching
// o.IgnoredMetrics removed, preserving order.
func (o Overrides) FilterMetrics(metrics []string) []string {
	out := make([]string, 0, len(metrics))
	for _, m := range metrics {
		if !o.IgnoredMetrics.Contains(m) {
			out = append(out, m)
		}
	}
	return out
}

// vim: ts=4 sw=4 sts=4 noet fenc=utf-8 ffs=unix
