/*-
 * Copyright © 2016-2017, Jörg Pernfuß <code.jpe@gmail.com>
 * Copyright © 2016, 1&1 Internet SE
 * All rights reserved.
 *
 * Use of this source code is governed by a 2-clause BSD license
 * that can be found in the LICENSE file.
 */

package plugin_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/metricq/metricq-sink-nsca/internal/plugin"
)

func TestLoadRequiresFile(t *testing.T) {
	_, err := plugin.Load("ignore", plugin.Config{})
	assert.Error(t, err)
}

func TestLoadFailsOnMissingSharedObject(t *testing.T) {
	_, err := plugin.Load("ignore", plugin.Config{File: "/nonexistent/ignore.so"})
	assert.Error(t, err)
}
