// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/telekom/email-sender/pkg/metrics"
	"github.com/telekom/email-sender/pkg/system"
)

type partitionReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type offsetCommitter interface {
	CommitOffsets(offsets map[string]map[int]int64) error
}

// Consumer reads the email topic as a member of a consumer group. Every
// assigned partition gets its own worker that processes messages strictly in
// order and commits an offset only once its message reached a terminal state.
type Consumer struct {
	cfg       KafkaConfig
	dialer    *kafka.Dialer
	processor *Processor
	log       *zap.SugaredLogger
	newReader func(partition int, offset int64) (partitionReader, error)

	mu      sync.Mutex
	running bool
}

// NewConsumer creates a Consumer. It does not contact the brokers until Run.
func NewConsumer(cfg KafkaConfig, processor *Processor, log *zap.SugaredLogger) (*Consumer, error) {
	if err := cfg.validate(true); err != nil {
		return nil, err
	}
	dialer, err := cfg.dialer()
	if err != nil {
		return nil, err
	}

	c := &Consumer{
		cfg:       cfg,
		dialer:    dialer,
		processor: processor,
		log:       log.Named("consumer"),
	}
	c.newReader = c.openPartitionReader
	return c, nil
}

// Run joins the consumer group and processes messages until ctx is
// cancelled. Partition workers run on the generation context, so shutdown
// and rebalances end them the same way: no further reads, and a message whose
// retries were interrupted stays uncommitted for the next owner.
func (c *Consumer) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errors.New("consumer is already running")
	}
	c.running = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	group, err := kafka.NewConsumerGroup(kafka.ConsumerGroupConfig{
		ID:          c.cfg.GroupID,
		Brokers:     c.cfg.Brokers,
		Dialer:      c.dialer,
		Topics:      []string{c.cfg.Topic},
		StartOffset: kafka.FirstOffset,
		Logger:      system.KafkaLogger(c.log, zapcore.DebugLevel),
		ErrorLogger: system.KafkaLogger(c.log, zapcore.WarnLevel),
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer group %s: %w", c.cfg.GroupID, err)
	}
	defer func() {
		if err := group.Close(); err != nil {
			c.log.Warnw("Error closing consumer group", "error", err)
		}
		metrics.PartitionsAssigned.WithLabelValues(c.cfg.Topic).Set(0)
	}()

	c.log.Infow("Consumer started",
		"groupID", c.cfg.GroupID,
		"topic", c.cfg.Topic,
		"brokers", c.cfg.Brokers)

	for {
		gen, err := group.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, kafka.ErrGroupClosed) {
				c.log.Info("Consumer shutting down")
				return nil
			}
			// kafka-go backs off and rejoins on its own
			c.log.Warnw("Consumer group generation failed", "groupID", c.cfg.GroupID, "error", err)
			continue
		}

		assignments := gen.Assignments[c.cfg.Topic]
		metrics.PartitionsAssigned.WithLabelValues(c.cfg.Topic).Set(float64(len(assignments)))
		c.log.Infow("Joined consumer group generation",
			"generationID", gen.ID,
			"memberID", gen.MemberID,
			"partitions", len(assignments))

		for _, assignment := range assignments {
			partition, offset := assignment.ID, assignment.Offset
			gen.Start(func(ctx context.Context) {
				reader, err := c.newReader(partition, offset)
				if err != nil {
					c.log.Errorw("Failed to open partition reader",
						"partition", partition,
						"offset", offset,
						"error", err)
					return
				}
				defer func() { _ = reader.Close() }()
				c.consumePartition(ctx, reader, gen, partition)
			})
		}
	}
}

func (c *Consumer) openPartitionReader(partition int, offset int64) (partitionReader, error) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     c.cfg.Brokers,
		Topic:       c.cfg.Topic,
		Partition:   partition,
		Dialer:      c.dialer,
		MinBytes:    1,
		MaxBytes:    10e6,
		Logger:      system.KafkaLogger(c.log, zapcore.DebugLevel),
		ErrorLogger: system.KafkaLogger(c.log, zapcore.WarnLevel),
	})
	if err := reader.SetOffset(offset); err != nil {
		_ = reader.Close()
		return nil, fmt.Errorf("failed to seek partition %d to offset %d: %w", partition, offset, err)
	}
	return reader, nil
}

// consumePartition is the per-partition worker. It holds at most one message
// at a time: the next read happens only after the current message was
// processed and committed.
func (c *Consumer) consumePartition(ctx context.Context, reader partitionReader, committer offsetCommitter, partition int) {
	log := c.log.With("topic", c.cfg.Topic, "partition", partition)
	log.Infow("Partition worker started")
	defer log.Infow("Partition worker stopped")

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, io.EOF) && !errors.Is(err, kafka.ErrGenerationEnded) {
				log.Errorw("Failed to read message", "error", err)
			}
			return
		}

		outcome := c.processor.Process(ctx, msg)
		if !outcome.Acknowledge() {
			return
		}

		offsets := map[string]map[int]int64{msg.Topic: {partition: msg.Offset + 1}}
		if err := committer.CommitOffsets(offsets); err != nil {
			metrics.OffsetCommitFailures.WithLabelValues(c.cfg.Topic).Inc()
			log.Warnw("Failed to commit offset, message may be redelivered",
				"offset", msg.Offset,
				"outcome", outcome.String(),
				"error", err)
			if errors.Is(err, kafka.ErrGenerationEnded) {
				return
			}
			continue
		}
		log.Debugw("Committed offset", "offset", msg.Offset, "outcome", outcome.String())
	}
}
