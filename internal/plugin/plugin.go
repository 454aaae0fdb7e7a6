/*-
 * Copyright © 2016-2017, Jörg Pernfuß <code.jpe@gmail.com>
 * Copyright © 2016, 1&1 Internet SE
 * All rights reserved.
 *
 * Use of this source code is governed by a 2-clause BSD license
 * that can be found in the LICENSE file.
 */

// Package plugin loads external state-adjustment plugins from
// compiled Go plugin shared objects, mirroring the host's pluggable
// check-override mechanism.
package plugin // import "github.com/metricq/metricq-sink-nsca/internal/plugin"

import (
	"fmt"
	stdplugin "plugin"
	"time"

	"github.com/metricq/metricq-sink-nsca/internal/state"
)

// Plugin observes every value of the metrics it monitors (and any
// extra metrics it requests) and may raise the state a check would
// otherwise report for a metric.
//
// The owning check uses the most severe of currentState and every
// plugin's returned state, so a plugin cannot lower the state.
type Plugin interface {
	// Check is called whenever a value arrives for one of the metrics
	// the owning check monitors. It returns this plugin's state for
	// the value, which is combined with currentState by severity.
	Check(metric string, timestamp time.Time, value float64, currentState state.State) state.State

	// ExtraMetrics names metrics this plugin wants forwarded via
	// OnExtraMetric in addition to the metrics already monitored by
	// the check. It is called once, right after the plugin loads.
	ExtraMetrics() []string

	// OnExtraMetric delivers a value for one of the metrics named by
	// ExtraMetrics. It does not participate in value/timeout checking.
	OnExtraMetric(metric string, timestamp time.Time, value float64)
}

// EntryPoint is the symbol every plugin shared object must export
// under the name "GetPlugin".
type EntryPoint func(name string, config map[string]any, metrics []string) (Plugin, error)

// Config describes one plugin instance attached to a check.
type Config struct {
	// File is the path to the plugin's compiled .so file.
	File string
	// Metrics lists the metrics monitored by the owning check, passed
	// to the plugin's entry point for its own bookkeeping.
	Metrics []string
	// Settings is arbitrary plugin-specific configuration.
	Settings map[string]any
}

// Load opens the plugin shared object at cfg.File and invokes its
// GetPlugin entry point. name identifies the plugin instance for
// logging and is not interpreted further.
func Load(name string, cfg Config) (Plugin, error) {
	if cfg.File == "" {
		return nil, fmt.Errorf("plugin %q: file is required for plugin configuration", name)
	}

	lib, err := stdplugin.Open(cfg.File)
	if err != nil {
		return nil, fmt.Errorf("plugin %q: open %s: %w", name, cfg.File, err)
	}

	sym, err := lib.Lookup("GetPlugin")
	if err != nil {
		return nil, fmt.Errorf("plugin %q: %s: %w", name, cfg.File, err)
	}

	// A plain `func GetPlugin(...)` exported by the shared object has the
	// unnamed signature type, not EntryPoint; a `var GetPlugin EntryPoint`
	// resolves to a pointer. Accept all three shapes.
	var entryPoint EntryPoint
	switch fn := sym.(type) {
	case func(string, map[string]any, []string) (Plugin, error):
		entryPoint = fn
	case EntryPoint:
		entryPoint = fn
	case *EntryPoint:
		entryPoint = *fn
	default:
		return nil, fmt.Errorf("plugin %q: %s: GetPlugin has unexpected signature", name, cfg.File)
	}

	p, err := entryPoint(name, cfg.Settings, cfg.Metrics)
	if err != nil {
		return nil, fmt.Errorf("plugin %q: %s: %w", name, cfg.File, err)
	}
	return p, nil
}

// vim: ts=4 sw=4 sts=4 noet fenc=utf-8 ffs=unix
