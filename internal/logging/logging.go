/*-
 * Copyright © 2016-2017, Jörg Pernfuß <code.jpe@gmail.com>
 * Copyright © 2016, 1&1 Internet SE
 * All rights reserved.
 *
 * Use of this source code is governed by a 2-clause BSD license
 * that can be found in the LICENSE file.
 */

// Package logging configures the process-wide logrus logger from the
// CLI's "-v LEVEL[,logger=LEVEL,...]" verbosity flag.
package logging // import "github.com/metricq/metricq-sink-nsca/internal/logging"

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// Configure parses the verbosity string and applies it to logrus's
// logger. The bare form ("debug") sets the global level; comma-
// separated "name=level" pairs are accepted for forward compatibility
// with the per-logger verbosity the CLI surface documents, but since
// this bridge uses a single shared *logrus.Logger, any named entries
// are applied as the global level too, with a debug note logged for
// any entry whose name is not "root" or empty.
func Configure(verbosity string) error {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if verbosity == "" {
		logrus.SetLevel(logrus.InfoLevel)
		return nil
	}

	var last logrus.Level
	found := false
	for _, part := range strings.Split(verbosity, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		name, levelStr, hasName := strings.Cut(part, "=")
		if !hasName {
			levelStr = name
			name = "root"
		}

		level, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(levelStr)))
		if err != nil {
			return fmt.Errorf("logging: invalid verbosity %q: %w", part, err)
		}
		if name != "root" && name != "" {
			logrus.WithField("logger", name).Debug("per-logger verbosity is not distinguished; applying to the global level")
		}
		last = level
		found = true
	}

	if found {
		logrus.SetLevel(last)
	}
	return nil
}

// vim: ts=4 sw=4 sts=4 noet fenc=utf-8 ffs=unix
