/*-
 * Copyright © 2016, Jörg Pernfuß <code.jpe@gmail.com>
 * Copyright © 2016, 1&1 Internet SE
 * All rights reserved.
 *
 * Use of this source code is governed by a 2-clause BSD license
 * that can be found in the LICENSE file.
 */

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/metricq/metricq-sink-nsca/internal/config"
	"github.com/metricq/metricq-sink-nsca/internal/logging"
	"github.com/metricq/metricq-sink-nsca/internal/lookup"
	"github.com/metricq/metricq-sink-nsca/internal/nsca"
	"github.com/metricq/metricq-sink-nsca/internal/overrides"
	"github.com/metricq/metricq-sink-nsca/internal/reconciler"
	"github.com/metricq/metricq-sink-nsca/internal/selfmetrics"
	"github.com/metricq/metricq-sink-nsca/internal/snapshot"
	"github.com/metricq/metricq-sink-nsca/internal/transport"
)

func main() {
	var (
		metricqServer = flag.String("metricq-server", "", "comma-separated list of upstream broker addresses")
		token         = flag.String("token", "cyclone-nsca", "consumer group identity")
		configPath    = flag.String("config", "cyclone-nsca.yaml", "path to the reconciler configuration document")
		dryRun        = flag.Bool("dry-run", false, "decode and evaluate metrics but suppress outbound NSCA delivery")
		verbosity     = flag.String("v", "", "LEVEL[,logger=LEVEL,...] verbosity")
	)
	flag.Parse()

	if err := logging.Configure(*verbosity); err != nil {
		logrus.Fatal(err)
	}

	if *metricqServer == "" {
		logrus.Fatal("main: --metricq-server is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("main: failed to load configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sender := nsca.NewSender(cfg.Nsca, *dryRun)
	recon := reconciler.New(cfg.ReportingHost, sender)

	if cfg.Snapshot != nil {
		store := snapshot.New(cfg.Snapshot.RedisAddr, cfg.Snapshot.RedisPassword, cfg.Snapshot.RedisDB, cfg.Snapshot.KeyPrefix)
		defer store.Close()
		recon.SetStateStore(store)
		logrus.Info("main: warm-restart snapshot store configured")
	}

	metrics := selfmetrics.New()
	recon.Instrument(metrics)
	go metrics.LogPeriodically(30*time.Second, ctx.Done())

	recon.Apply(ctx, cfg)

	if cfg.Lookup != nil {
		lk := lookup.New(cfg.Lookup.URL, cfg.Lookup.Interval)
		lk.OnUpdate = func(ov overrides.Overrides) {
			recon.RefreshOverrides(ctx, ov)
		}
		go lk.Run(ctx)
		logrus.WithField("url", cfg.Lookup.URL).Info("main: remote overrides refresh enabled")
	}

	go recon.RunDelivery(ctx)

	brokers := strings.Split(*metricqServer, ",")
	consumer, err := transport.NewConsumer(transport.Config{
		Brokers:       brokers,
		Topics:        []string{"metrics"},
		ConsumerGroup: *token,
	}, recon)
	if err != nil {
		logrus.WithError(err).Fatal("main: failed to join upstream consumer group")
	}
	defer consumer.Close()

	errCh := make(chan error, 1)
	go func() {
		errCh <- consumer.Run(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logrus.Info("main: received shutdown signal")
	case err := <-errCh:
		if err != nil {
			logrus.WithError(err).Error("main: upstream consumer terminated unexpectedly")
		}
	}

	cancel()
	recon.Shutdown()
}

// vim: ts=4 sw=4 sts=4 noet fenc=utf-8 ffs=unix
