/*-
 * Copyright © 2016-2017, Jörg Pernfuß <code.jpe@gmail.com>
 * Copyright © 2016, 1&1 Internet SE
 * All rights reserved.
 *
 * Use of this source code is governed by a 2-clause BSD license
 * that can be found in the LICENSE file.
 */

// Command ignorerange is a reference plugin, built with
// `go build -buildmode=plugin`, that returns OK whenever a metric's
// value falls inside a configured [Low, High] band and the state it
// was given otherwise. The owning check keeps the most severe of its
// classifier state and all plugin results, so this OK does not lower
// the value check's state.
package main

import (
	"math"
	"time"

	"github.com/metricq/metricq-sink-nsca/internal/plugin"
	"github.com/metricq/metricq-sink-nsca/internal/state"
)

type ignoreRangePlugin struct {
	low, high float64
}

func (p *ignoreRangePlugin) Check(_ string, _ time.Time, value float64, currentState state.State) state.State {
	if p.low <= value && value <= p.high {
		return state.OK
	}
	return currentState
}

func (p *ignoreRangePlugin) ExtraMetrics() []string { return nil }

func (p *ignoreRangePlugin) OnExtraMetric(_ string, _ time.Time, _ float64) {}

func floatSetting(config map[string]any, key string, fallback float64) float64 {
	raw, ok := config[key]
	if !ok {
		return fallback
	}
	if v, ok := raw.(float64); ok {
		return v
	}
	return fallback
}

// GetPlugin is the entry point looked up by plugin.Load.
func GetPlugin(_ string, config map[string]any, _ []string) (plugin.Plugin, error) {
	return &ignoreRangePlugin{
		low:  floatSetting(config, "low", math.Inf(-1)),
		high: floatSetting(config, "high", math.Inf(1)),
	}, nil
}

// vim: ts=4 sw=4 sts=4 noet fenc=utf-8 ffs=unix
