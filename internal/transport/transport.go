/*-
 * Copyright © 2016-2017, Jörg Pernfuß <code.jpe@gmail.com>
 * Copyright © 2016, 1&1 Internet SE
 * All rights reserved.
 *
 * Use of this source code is governed by a 2-clause BSD license
 * that can be found in the LICENSE file.
 */

// Package transport subscribes to the upstream metric bus, a Kafka
// consumer group, and decodes each message into a metric chunk for
// the reconciler.
package transport // import "github.com/metricq/metricq-sink-nsca/internal/transport"

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"

	"github.com/metricq/metricq-sink-nsca/internal/reconciler"
)

// wireChunk is the on-wire JSON shape of one metric chunk: a metric
// name and two equal-length sequences.
type wireChunk struct {
	Metric    string    `json:"metric"`
	TimeDelta []float64 `json:"time_delta"`
	Value     []float64 `json:"value"`
}

// Sink receives decoded chunks. Implemented by *reconciler.Reconciler;
// declared here so transport depends only on the narrow interface it
// needs.
type Sink interface {
	OnChunk(metric string, chunk reconciler.Chunk)
}

// Consumer subscribes to one or more Kafka topics as a named consumer
// group and decodes every message into a chunk dispatched to a Sink.
type Consumer struct {
	group  sarama.ConsumerGroup
	topics []string
	sink   Sink
}

// Config describes how to reach the upstream Kafka cluster.
type Config struct {
	Brokers       []string
	Topics        []string
	ConsumerGroup string
	Version       sarama.KafkaVersion
}

// NewConsumer joins cfg.ConsumerGroup against cfg.Brokers, ready to
// consume cfg.Topics once Run is called.
func NewConsumer(cfg Config, sink Sink) (*Consumer, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Version = cfg.Version
	if saramaCfg.Version == (sarama.KafkaVersion{}) {
		saramaCfg.Version = sarama.V2_8_0_0
	}
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaCfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.ConsumerGroup, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("transport: join consumer group %q: %w", cfg.ConsumerGroup, err)
	}

	return &Consumer{group: group, topics: cfg.Topics, sink: sink}, nil
}

// Run consumes cfg.Topics until ctx is cancelled, rejoining the
// consumer group's rebalance loop as needed (sarama's ConsumerGroup
// requires re-entering Consume after every rebalance). Errors
// surfaced by the underlying client are logged, not fatal.
func (c *Consumer) Run(ctx context.Context) error {
	go func() {
		for err := range c.group.Errors() {
			logrus.WithError(err).Error("transport: consumer group error")
		}
	}()

	handler := &groupHandler{sink: c.sink}
	for {
		if err := c.group.Consume(ctx, c.topics, handler); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logrus.WithError(err).Error("transport: consume loop returned an error; rejoining")
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Close leaves the consumer group.
func (c *Consumer) Close() error {
	return c.group.Close()
}

// groupHandler implements sarama.ConsumerGroupHandler, decoding each
// message into a chunk and handing it to the sink before marking it
// consumed.
type groupHandler struct {
	sink Sink
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			return nil
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			h.handle(message)
			session.MarkMessage(message, "")
		}
	}
}

func (h *groupHandler) handle(message *sarama.ConsumerMessage) {
	metric, chunk, err := DecodeChunk(message.Value)
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"topic":     message.Topic,
			"partition": message.Partition,
			"offset":    message.Offset,
		}).Error("transport: dropping message")
		return
	}
	h.sink.OnChunk(metric, chunk)
}

// DecodeChunk decodes one wire message into a metric name and its
// chunk, in seconds-denominated time deltas anchored at the Unix
// epoch. It rejects mismatched time_delta/value lengths and
// non-finite time deltas.
func DecodeChunk(raw []byte) (string, reconciler.Chunk, error) {
	var wc wireChunk
	if err := json.Unmarshal(raw, &wc); err != nil {
		return "", reconciler.Chunk{}, fmt.Errorf("transport: failed to decode metric chunk: %w", err)
	}
	if wc.Metric == "" {
		return "", reconciler.Chunk{}, fmt.Errorf("transport: malformed metric chunk: missing metric name")
	}
	if len(wc.TimeDelta) != len(wc.Value) {
		return "", reconciler.Chunk{}, fmt.Errorf("transport: malformed metric chunk %q: time_delta/value length mismatch", wc.Metric)
	}

	deltas := make([]time.Duration, len(wc.TimeDelta))
	for i, d := range wc.TimeDelta {
		if math.IsNaN(d) || math.IsInf(d, 0) {
			return "", reconciler.Chunk{}, fmt.Errorf("transport: metric %q: non-finite time delta at index %d", wc.Metric, i)
		}
		deltas[i] = time.Duration(d * float64(time.Second))
	}

	return wc.Metric, reconciler.Chunk{
		Reference: time.Unix(0, 0).UTC(),
		TimeDelta: deltas,
		Value:     wc.Value,
	}, nil
}

// vim: ts=4 sw=4 sts=4 noet fenc=utf-8 ffs=unix
