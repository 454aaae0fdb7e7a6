/*-
 * Copyright © 2016-2017, Jörg Pernfuß <code.jpe@gmail.com>
 * Copyright © 2016, 1&1 Internet SE
 * All rights reserved.
 *
 * Use of this source code is governed by a 2-clause BSD license
 * that can be found in the LICENSE file.
 */

// Package nsca encodes and transmits passive check results using the
// NSCA (Nagios Service Check Acceptor) wire convention, delegating the
// actual network transport to the send_nsca executable.
package nsca // import "github.com/metricq/metricq-sink-nsca/internal/nsca"

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/metricq/metricq-sink-nsca/internal/state"
)

const maxRecordLen = 4096

var snip = []byte(`\n...\nSOME METRICS OMITTED`)

// Config describes how to reach the downstream NSCA receiver and
// which local send_nsca binary/config to invoke.
type Config struct {
	Host       string
	Port       int
	ConfigFile string
	Executable string
}

// FromConfig fills in the documented defaults for any field left
// unset. Host has no default and must be provided.
func FromConfig(cfg Config) (Config, error) {
	if cfg.Host == "" {
		return Config{}, fmt.Errorf("nsca: configuration must include the host address (nsca.host)")
	}
	if cfg.Port == 0 {
		cfg.Port = 5667
	}
	if cfg.ConfigFile == "" {
		cfg.ConfigFile = "/etc/nsca/send_nsca.cfg"
	}
	if cfg.Executable == "" {
		cfg.Executable = "/usr/sbin/send_nsca"
	}
	return cfg, nil
}

func (c Config) args() []string {
	return []string{"-H", c.Host, "-p", strconv.Itoa(c.Port), "-c", c.ConfigFile, "-d", ";"}
}

// Report is one outbound passive check result.
type Report struct {
	Host    string
	Service string
	State   state.State
	Message string
}

// encodeRecord builds one ";"-delimited record and, if its total
// length exceeds maxRecordLen bytes, truncates the message
// field and appends the SOME METRICS OMITTED suffix so the whole
// record fits, cutting at the last escaped-newline boundary before
// the limit if one exists.
func encodeRecord(r Report) []byte {
	prefix := bytes.Join([][]byte{
		[]byte(r.Host),
		[]byte(r.Service),
		[]byte(strconv.Itoa(r.State.NSCACode())),
	}, []byte(";"))
	prefix = append(prefix, ';')

	message := []byte(strings.ReplaceAll(r.Message, "\n", `\n`))
	if len(prefix)+len(message) <= maxRecordLen {
		return append(prefix, message...)
	}

	budget := maxRecordLen - len(prefix) - len(snip)
	if budget < 0 {
		budget = 0
	}
	window := message
	if budget < len(window) {
		window = window[:budget]
	}
	cut := bytes.LastIndex(window, []byte(`\n`))
	if cut < 0 {
		cut = budget
	}

	out := make([]byte, 0, len(prefix)+cut+len(snip))
	out = append(out, prefix...)
	out = append(out, message[:cut]...)
	out = append(out, snip...)
	if len(out) > maxRecordLen {
		// The host/service/state fields alone overran the record cap, so
		// even an empty message plus the omission suffix does not fit.
		logrus.Warnf("nsca: record for service %q exceeds %d bytes before any message content; hard-truncating", r.Service, maxRecordLen)
		out = out[:maxRecordLen]
	}
	return out
}

// EncodeReports builds the 0x17-separated batch of ";"-delimited NSCA
// records described in the wire convention.
func EncodeReports(reports []Report) []byte {
	blocks := make([][]byte, 0, len(reports))
	for _, r := range reports {
		blocks = append(blocks, encodeRecord(r))
	}
	return bytes.Join(blocks, []byte{0x17})
}

// Sender transmits encoded report batches to a downstream NSCA
// receiver via the send_nsca executable.
type Sender struct {
	cfg     Config
	dryRun  bool
	command func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// NewSender constructs a Sender. When dryRun is true, Send logs the
// batch it would have sent instead of invoking send_nsca.
func NewSender(cfg Config, dryRun bool) *Sender {
	return &Sender{cfg: cfg, dryRun: dryRun, command: exec.CommandContext}
}

// Send encodes reports and pipes them into send_nsca's stdin. A
// nonzero exit code or a spawn failure is logged at ERROR and the
// batch is dropped: NSCA delivery is at-most-once, with no retry
// queue.
func (s *Sender) Send(ctx context.Context, reports []Report) error {
	if len(reports) == 0 {
		return nil
	}

	payload := EncodeReports(reports)
	if s.dryRun {
		logrus.WithField("reports", len(reports)).Debug("dry-run: suppressing send_nsca invocation")
		return nil
	}

	cmd := s.command(ctx, s.cfg.Executable, s.cfg.args()...)
	cmd.Stdin = bytes.NewReader(payload)
	output, err := cmd.CombinedOutput()

	if err != nil {
		logrus.WithError(err).Errorf("failed to send %d report(s) to NSCA host at %s:%d", len(reports), s.cfg.Host, s.cfg.Port)
		logOutput(output, logrus.ErrorLevel)
		return fmt.Errorf("nsca: send_nsca: %w", err)
	}
	logOutput(output, logrus.DebugLevel)
	return nil
}

func logOutput(output []byte, level logrus.Level) {
	text := string(output)
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		if line != "" {
			logrus.StandardLogger().Logf(level, "send_nsca: %s", line)
		}
	}
}

// vim: ts=4 sw=4 sts=4 noet fenc=utf-8 ffs=unix
