/*-
 * Copyright © 2016-2017, Jörg Pernfuß <code.jpe@gmail.com>
 * Copyright © 2016, 1&1 Internet SE
 * All rights reserved.
 *
 * Use of this source code is governed by a 2-clause BSD license
 * that can be found in the LICENSE file.
 */

package logging_test

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metricq/metricq-sink-nsca/internal/logging"
)

func TestConfigureDefaultsToInfo(t *testing.T) {
	require.NoError(t, logging.Configure(""))
	assert.Equal(t, logrus.InfoLevel, logrus.GetLevel())
}

func TestConfigureBareLevel(t *testing.T) {
	require.NoError(t, logging.Configure("debug"))
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())
}

func TestConfigureAcceptsNamedLoggerEntries(t *testing.T) {
	require.NoError(t, logging.Configure("info,metricq=debug"))
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())
}

func TestConfigureRejectsUnknownLevel(t *testing.T) {
	assert.Error(t, logging.Configure("loud"))
}
