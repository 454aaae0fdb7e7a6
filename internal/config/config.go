/*-
 * Copyright © 2016-2017, Jörg Pernfuß <code.jpe@gmail.com>
 * Copyright © 2016, 1&1 Internet SE
 * All rights reserved.
 *
 * Use of this source code is governed by a 2-clause BSD license
 * that can be found in the LICENSE file.
 */

// Package config parses the reconciler's YAML configuration document
// into the typed configuration each core package expects.
package config // import "github.com/metricq/metricq-sink-nsca/internal/config"

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/metricq/metricq-sink-nsca/internal/check"
	"github.com/metricq/metricq-sink-nsca/internal/nsca"
	"github.com/metricq/metricq-sink-nsca/internal/overrides"
	"github.com/metricq/metricq-sink-nsca/internal/plugin"
	"github.com/metricq/metricq-sink-nsca/internal/postprocess"
	"github.com/metricq/metricq-sink-nsca/internal/timebase"
	"github.com/metricq/metricq-sink-nsca/internal/valuecheck"
)

// DefaultResendInterval is applied to checks that configure neither
// their own resend_interval nor inherit one from the document root.
const DefaultResendInterval = 3 * time.Minute

// pluginDoc is one entry of a CheckDoc's plugins map.
type pluginDoc struct {
	File    string         `yaml:"file"`
	Metrics []string       `yaml:"metrics"`
	Config  map[string]any `yaml:"config"`
}

// postprocessDoc describes the transition_postprocessing block. Type
// selects the variant; the remaining fields are interpreted according
// to it.
type postprocessDoc struct {
	Type         string `yaml:"type"`
	MinDuration  string `yaml:"min_duration"`
	MaxFailCount int    `yaml:"max_fail_count"`
}

// CheckDoc is the YAML shape of one entry under "checks".
type CheckDoc struct {
	Metrics                  []string             `yaml:"metrics"`
	WarningBelow             *float64             `yaml:"warning_below"`
	WarningAbove             *float64             `yaml:"warning_above"`
	CriticalBelow            *float64             `yaml:"critical_below"`
	CriticalAbove            *float64             `yaml:"critical_above"`
	Ignore                   []float64            `yaml:"ignore"`
	Timeout                  string               `yaml:"timeout"`
	GracePeriod              string               `yaml:"grace_period"`
	ResendInterval           string               `yaml:"resend_interval"`
	TransitionDebounceWindow string               `yaml:"transition_debounce_window"`
	TransitionPostprocessing *postprocessDoc      `yaml:"transition_postprocessing"`
	Plugins                  map[string]pluginDoc `yaml:"plugins"`
	IgnoreUpdateErrors       bool                 `yaml:"ignore_update_errors"`
}

// nscaDoc is the YAML shape of the "nsca" section.
type nscaDoc struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	ConfigFile string `yaml:"config_file"`
	Executable string `yaml:"executable"`
}

// overridesDoc is the YAML shape of the "overrides" section.
type overridesDoc struct {
	IgnoredMetrics []string `yaml:"ignored_metrics"`
}

// lookupDoc is the YAML shape of the optional "lookup" section, which
// enables periodic remote refresh of ignored_metrics.
type lookupDoc struct {
	URL      string `yaml:"url"`
	Interval string `yaml:"interval"`
}

// snapshotDoc is the YAML shape of the optional "snapshot" section,
// which enables warm-restart persistence of check state via Redis.
type snapshotDoc struct {
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	KeyPrefix     string `yaml:"key_prefix"`
}

// Document is the top-level YAML shape of the reconciler's
// configuration message.
type Document struct {
	ReportingHost  string              `yaml:"reporting_host"`
	ResendInterval string              `yaml:"resend_interval"`
	Nsca           nscaDoc             `yaml:"nsca"`
	Overrides      overridesDoc        `yaml:"overrides"`
	Checks         map[string]CheckDoc `yaml:"checks"`
	Lookup         *lookupDoc          `yaml:"lookup"`
	Snapshot       *snapshotDoc        `yaml:"snapshot"`
}

// Config is the parsed, validated configuration ready to drive the
// reconciler: a resolved reporting host, the outbound NSCA
// destination, metric overrides, and one check.Config per named
// check.
type Config struct {
	ReportingHost string
	Nsca          nsca.Config
	Overrides     overrides.Overrides
	Checks        map[string]check.Config
	Lookup        *LookupConfig
	Snapshot      *SnapshotConfig
}

// LookupConfig enables the optional remote overrides refresh.
type LookupConfig struct {
	URL      string
	Interval time.Duration
}

// SnapshotConfig enables the optional Redis-backed warm-restart
// snapshot.
type SnapshotConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string
}

// Load reads and parses the YAML document at path into a validated
// Config.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse validates and converts a raw YAML configuration document into
// a Config.
func Parse(raw []byte) (Config, error) {
	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Config{}, fmt.Errorf("config: invalid YAML: %w", err)
	}

	host := doc.ReportingHost
	if host == "" {
		hn, err := os.Hostname()
		if err != nil {
			return Config{}, fmt.Errorf("config: reporting_host not set and hostname lookup failed: %w", err)
		}
		host = hn
	}

	globalResend, err := timebase.ParseDurationOrDefault(doc.ResendInterval, DefaultResendInterval)
	if err != nil {
		return Config{}, fmt.Errorf("config: resend_interval: %w", err)
	}

	nscaCfg, err := nsca.FromConfig(nsca.Config{
		Host:       doc.Nsca.Host,
		Port:       doc.Nsca.Port,
		ConfigFile: doc.Nsca.ConfigFile,
		Executable: doc.Nsca.Executable,
	})
	if err != nil {
		return Config{}, fmt.Errorf("config: nsca: %w", err)
	}

	ov, err := overrides.FromConfig(doc.Overrides.IgnoredMetrics)
	if err != nil {
		return Config{}, fmt.Errorf("config: overrides: %w", err)
	}

	checks := make(map[string]check.Config, len(doc.Checks))
	for name, cd := range doc.Checks {
		cc, err := convertCheck(name, cd, globalResend)
		if err != nil {
			return Config{}, err
		}
		checks[name] = cc
	}

	cfg := Config{
		ReportingHost: host,
		Nsca:          nscaCfg,
		Overrides:     ov,
		Checks:        checks,
	}

	if doc.Lookup != nil {
		interval, err := timebase.ParseDurationOrDefault(doc.Lookup.Interval, 5*time.Minute)
		if err != nil {
			return Config{}, fmt.Errorf("config: lookup.interval: %w", err)
		}
		if doc.Lookup.URL == "" {
			return Config{}, fmt.Errorf("config: lookup.url is required when lookup is configured")
		}
		cfg.Lookup = &LookupConfig{URL: doc.Lookup.URL, Interval: interval}
	}

	if doc.Snapshot != nil {
		if doc.Snapshot.RedisAddr == "" {
			return Config{}, fmt.Errorf("config: snapshot.redis_addr is required when snapshot is configured")
		}
		prefix := doc.Snapshot.KeyPrefix
		if prefix == "" {
			prefix = "cyclone-nsca:"
		}
		cfg.Snapshot = &SnapshotConfig{
			RedisAddr:     doc.Snapshot.RedisAddr,
			RedisPassword: doc.Snapshot.RedisPassword,
			RedisDB:       doc.Snapshot.RedisDB,
			KeyPrefix:     prefix,
		}
	}

	return cfg, nil
}

func convertCheck(name string, cd CheckDoc, globalResend time.Duration) (check.Config, error) {
	if len(cd.Metrics) == 0 {
		return check.Config{}, fmt.Errorf("config: check %q: metrics must be a nonempty list", name)
	}

	resend, err := timebase.ParseDurationOrDefault(cd.ResendInterval, globalResend)
	if err != nil {
		return check.Config{}, fmt.Errorf("config: check %q: resend_interval: %w", name, err)
	}

	timeout, err := timebase.ParseDurationOrDefault(cd.Timeout, 0)
	if err != nil {
		return check.Config{}, fmt.Errorf("config: check %q: timeout: %w", name, err)
	}

	grace, err := timebase.ParseDurationOrDefault(cd.GracePeriod, 0)
	if err != nil {
		return check.Config{}, fmt.Errorf("config: check %q: grace_period: %w", name, err)
	}

	window, err := timebase.ParseDurationOrDefault(cd.TransitionDebounceWindow, 30*time.Second)
	if err != nil {
		return check.Config{}, fmt.Errorf("config: check %q: transition_debounce_window: %w", name, err)
	}

	var vc *valuecheck.Config
	if cd.WarningBelow != nil || cd.WarningAbove != nil || cd.CriticalBelow != nil || cd.CriticalAbove != nil || len(cd.Ignore) > 0 {
		vcc := valuecheck.DefaultConfig()
		if cd.WarningBelow != nil {
			vcc.WarningBelow = *cd.WarningBelow
		}
		if cd.WarningAbove != nil {
			vcc.WarningAbove = *cd.WarningAbove
		}
		if cd.CriticalBelow != nil {
			vcc.CriticalBelow = *cd.CriticalBelow
		}
		if cd.CriticalAbove != nil {
			vcc.CriticalAbove = *cd.CriticalAbove
		}
		vcc.Ignore = cd.Ignore
		vc = &vcc
	}

	pp, err := convertPostprocessor(name, cd.TransitionPostprocessing)
	if err != nil {
		return check.Config{}, err
	}

	plugins := make(map[string]plugin.Config, len(cd.Plugins))
	for pname, pd := range cd.Plugins {
		if pd.File == "" {
			return check.Config{}, fmt.Errorf("config: check %q: plugin %q: file is required", name, pname)
		}
		metrics := pd.Metrics
		if len(metrics) == 0 {
			metrics = cd.Metrics
		}
		plugins[pname] = plugin.Config{
			File:     pd.File,
			Metrics:  metrics,
			Settings: pd.Config,
		}
	}

	return check.Config{
		Name:                     name,
		Metrics:                  cd.Metrics,
		ValueCheck:               vc,
		Timeout:                  timeout,
		GracePeriod:              grace,
		ResendInterval:           resend,
		TransitionDebounceWindow: window,
		Postprocessor:            pp,
		Plugins:                  plugins,
		IgnoreUpdateErrors:       cd.IgnoreUpdateErrors,
	}, nil
}

func convertPostprocessor(checkName string, pd *postprocessDoc) (postprocess.Postprocessor, error) {
	if pd == nil {
		return postprocess.Debounce{}, nil
	}

	switch pd.Type {
	case "", "debounce":
		return postprocess.Debounce{}, nil
	case "ignore_short_transitions":
		minDuration, err := timebase.ParseDuration(pd.MinDuration)
		if err != nil {
			return nil, fmt.Errorf("config: check %q: transition_postprocessing.min_duration: %w", checkName, err)
		}
		return postprocess.IgnoreShortTransitions{MinDuration: minDuration}, nil
	case "soft_fail":
		if pd.MaxFailCount <= 0 {
			return nil, fmt.Errorf("config: check %q: transition_postprocessing.max_fail_count must be positive", checkName)
		}
		return postprocess.SoftFail{MaxFailCount: pd.MaxFailCount}, nil
	default:
		return nil, fmt.Errorf("config: check %q: unknown transition_postprocessing.type %q", checkName, pd.Type)
	}
}

// vim: ts=4 sw=4 sts=4 noet fenc=utf-8 ffs=unix
