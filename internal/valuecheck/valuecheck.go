/*-
 * Copyright © 2016-2017, Jörg Pernfuß <code.jpe@gmail.com>
 * Copyright © 2016, 1&1 Internet SE
 * All rights reserved.
 *
 * Use of this source code is governed by a 2-clause BSD license
 * that can be found in the LICENSE file.
 */

// Package valuecheck classifies a single metric value against warning
// and critical threshold bands.
package valuecheck // import "github.com/metricq/metricq-sink-nsca/internal/valuecheck"

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/metricq/metricq-sink-nsca/internal/state"
)

// ErrInvertedRange is returned when constructing a ValueCheck whose
// warning band is not at least as strict as its critical band.
var ErrInvertedRange = errors.New("valuecheck: warning range must be at least as strict as critical range")

// AbnormalRange is a half-open/open interval of values considered
// abnormal. Membership is v < Low || High < v: values inside
// [Low, High], bounds included, are normal.
type AbnormalRange struct {
	Low  float64
	High float64
}

// NewAbnormalRange constructs a range, rejecting low > high. It applies
// no defaults: pass -Inf/+Inf for an open end. The zero value
// AbnormalRange{} is [0, 0]; AbnormalRange{-Inf, +Inf} is "never
// abnormal".
func NewAbnormalRange(low, high float64) (AbnormalRange, error) {
	if low > high {
		return AbnormalRange{}, fmt.Errorf("valuecheck: range [%v, %v]: %w", low, high, errInvertedBounds)
	}
	return AbnormalRange{Low: low, High: high}, nil
}

var errInvertedBounds = errors.New("boundaries must not cross")

// Contains reports whether v falls outside [Low, High], i.e. whether v
// is abnormal per this range.
func (r AbnormalRange) Contains(v float64) bool {
	return v < r.Low || r.High < v
}

// IsEmpty reports whether this range never triggers (spans the whole
// real line).
func (r AbnormalRange) IsEmpty() bool {
	return r.Low == math.Inf(-1) && r.High == math.Inf(1)
}

func (r AbnormalRange) String() string {
	switch {
	case r.IsEmpty():
		return "never"
	case r.Low == math.Inf(-1):
		return "above " + formatBound(r.High)
	case r.High == math.Inf(1):
		return "below " + formatBound(r.Low)
	default:
		return "below " + formatBound(r.Low) + " or above " + formatBound(r.High)
	}
}

// formatBound renders a threshold with an explicit decimal point, so
// report headers read "above 10.0" rather than "above 10".
func formatBound(v float64) string {
	if v == math.Trunc(v) && !math.IsInf(v, 0) {
		return strconv.FormatFloat(v, 'f', 1, 64)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Config carries the constructor arguments for a ValueCheck, letting
// callers supply only the thresholds they care about.
type Config struct {
	WarningBelow  float64
	WarningAbove  float64
	CriticalBelow float64
	CriticalAbove float64
	Ignore        []float64
}

// DefaultConfig returns a Config with every threshold set to its
// always-OK default (bands spanning the whole real line).
func DefaultConfig() Config {
	return Config{
		WarningBelow:  math.Inf(-1),
		WarningAbove:  math.Inf(1),
		CriticalBelow: math.Inf(-1),
		CriticalAbove: math.Inf(1),
	}
}

// ValueCheck classifies a value into OK/WARNING/CRITICAL given warning
// and critical AbnormalRanges and a set of exact values to always treat
// as OK.
type ValueCheck struct {
	warningRange  AbnormalRange
	criticalRange AbnormalRange
	ignore        map[float64]struct{}
}

// New constructs a ValueCheck. Callers must pass explicit ±Inf for any
// threshold left unset (see DefaultConfig) since the zero value 0.0 is
// itself a meaningful threshold and cannot serve as a sentinel. It
// rejects a warning band that is not at least as strict as the
// critical band: critical_below <= warning_below < warning_above <=
// critical_above.
func New(cfg Config) (*ValueCheck, error) {
	if !(cfg.CriticalBelow <= cfg.WarningBelow && cfg.WarningBelow < cfg.WarningAbove && cfg.WarningAbove <= cfg.CriticalAbove) {
		return nil, fmt.Errorf(
			"valuecheck: warning_range=(%v, %v), critical_range=(%v, %v): %w",
			cfg.WarningBelow, cfg.WarningAbove, cfg.CriticalBelow, cfg.CriticalAbove, ErrInvertedRange,
		)
	}

	warningRange, err := NewAbnormalRange(cfg.WarningBelow, cfg.WarningAbove)
	if err != nil {
		return nil, err
	}
	criticalRange, err := NewAbnormalRange(cfg.CriticalBelow, cfg.CriticalAbove)
	if err != nil {
		return nil, err
	}

	ignore := make(map[float64]struct{}, len(cfg.Ignore))
	for _, v := range cfg.Ignore {
		ignore[v] = struct{}{}
	}

	return &ValueCheck{
		warningRange:  warningRange,
		criticalRange: criticalRange,
		ignore:        ignore,
	}, nil
}

// Classify maps a value to its severity: ignore first, then CRITICAL,
// then WARNING, otherwise OK.
func (v *ValueCheck) Classify(value float64) state.State {
	if _, ok := v.ignore[value]; ok {
		return state.OK
	}
	if v.criticalRange.Contains(value) {
		return state.CRITICAL
	}
	if v.warningRange.Contains(value) {
		return state.WARNING
	}
	return state.OK
}

// RangeByState returns the configured abnormal range used for
// reporting at the given state. Only defined for WARNING and CRITICAL.
func (v *ValueCheck) RangeByState(s state.State) (AbnormalRange, error) {
	switch s {
	case state.CRITICAL:
		return v.criticalRange, nil
	case state.WARNING:
		return v.warningRange, nil
	default:
		return AbnormalRange{}, fmt.Errorf("valuecheck: no abnormal range for state %s", s)
	}
}

// vim: ts=4 sw=4 sts=4 noet fenc=utf-8 ffs=unix
