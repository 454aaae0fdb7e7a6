/*-
 * Copyright © 2016-2017, Jörg Pernfuß <code.jpe@gmail.com>
 * Copyright © 2016, 1&1 Internet SE
 * All rights reserved.
 *
 * Use of this source code is governed by a 2-clause BSD license
 * that can be found in the LICENSE file.
 */

package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metricq/metricq-sink-nsca/internal/config"
)

const sampleDoc = `
reporting_host: nsca-bridge-1
resend_interval: 3min
nsca:
  host: nsca.example.net
  port: 5667
overrides:
  ignored_metrics:
    - "sys.disk.*"
checks:
  svc:
    metrics: [a, b]
    warning_above: 10
    critical_above: 20
    timeout: 30s
    transition_postprocessing:
      type: soft_fail
      max_fail_count: 2
`

func TestParseSampleDocument(t *testing.T) {
	cfg, err := config.Parse([]byte(sampleDoc))
	require.NoError(t, err)

	assert.Equal(t, "nsca-bridge-1", cfg.ReportingHost)
	assert.Equal(t, "nsca.example.net", cfg.Nsca.Host)
	assert.True(t, cfg.Overrides.IgnoredMetrics.Contains("sys.disk.usage"))

	svc, ok := cfg.Checks["svc"]
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"a", "b"}, svc.Metrics)
	assert.Equal(t, 30*time.Second, svc.Timeout)
	require.NotNil(t, svc.ValueCheck)
	assert.Equal(t, 10.0, svc.ValueCheck.WarningAbove)
}

func TestParseRejectsUnknownPostprocessorType(t *testing.T) {
	doc := `
nsca:
  host: nsca.example.net
checks:
  svc:
    metrics: [a]
    transition_postprocessing:
      type: bogus
`
	_, err := config.Parse([]byte(doc))
	assert.Error(t, err)
}

func TestParseRejectsEmptyMetricsList(t *testing.T) {
	doc := `
nsca:
  host: nsca.example.net
checks:
  svc:
    metrics: []
`
	_, err := config.Parse([]byte(doc))
	assert.Error(t, err)
}

func TestParseDefaultsResendInterval(t *testing.T) {
	doc := `
nsca:
  host: nsca.example.net
checks:
  svc:
    metrics: [a]
`
	cfg, err := config.Parse([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, config.DefaultResendInterval, cfg.Checks["svc"].ResendInterval)
}
