/*
Copyright 2024.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/telekom/email-sender/pkg/email"
	"github.com/telekom/email-sender/pkg/metrics"
)

// Message header keys.
const (
	HeaderRequestID   = "request-id"
	HeaderContentType = "content-type"
	HeaderEnqueuedAt  = "enqueued-at"
)

// ErrProducerClosed is returned by Enqueue after Close.
var ErrProducerClosed = errors.New("kafka producer is closed")

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes send requests to the email topic. It is safe for
// concurrent use; all callers share one kafka.Writer.
type Producer struct {
	topic  string
	writer messageWriter
	logger *zap.SugaredLogger
	mu     sync.RWMutex
	closed bool
}

type requestIDKey struct{}

// WithRequestID returns a context whose Enqueue calls publish under id, so
// intake and delivery logs share one request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the ID set by WithRequestID, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// NewProducer creates a Producer for cfg.Topic.
func NewProducer(cfg KafkaConfig, logger *zap.SugaredLogger) (*Producer, error) {
	if err := cfg.validate(false); err != nil {
		return nil, err
	}

	tlsConfig, mechanism, err := cfg.security()
	if err != nil {
		logger.Errorw("Failed to build Kafka producer security settings",
			"brokers", cfg.Brokers,
			"error", err)
		return nil, err
	}
	transport := &kafka.Transport{TLS: tlsConfig, SASL: mechanism}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 10 * time.Millisecond
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	requiredAcks, _ := cfg.requiredAcks()
	compression, ok := compressionCodec(cfg.CompressionCodec)
	if !ok {
		logger.Warnw("Unknown compression codec, defaulting to snappy", "codec", cfg.CompressionCodec)
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              batchSize,
		BatchTimeout:           batchTimeout,
		WriteTimeout:           writeTimeout,
		RequiredAcks:           requiredAcks,
		Compression:            compression,
		Transport:              transport,
		AllowAutoTopicCreation: false,
	}

	logger.Infow("Kafka producer created",
		"brokers", cfg.Brokers,
		"topic", cfg.Topic,
		"tlsEnabled", tlsConfig != nil,
		"saslEnabled", mechanism != nil)

	return newProducer(cfg.Topic, writer, logger), nil
}

func newProducer(topic string, writer messageWriter, logger *zap.SugaredLogger) *Producer {
	return &Producer{
		topic:  topic,
		writer: writer,
		logger: logger.Named("producer"),
	}
}

// Enqueue publishes req as one message keyed by a fresh UUID. The request-id
// header carries the ID from ctx (see WithRequestID) or, without one, the key.
// Broker failures are returned unchanged in meaning and are not retried here.
func (p *Producer) Enqueue(ctx context.Context, req email.SendRequest) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		metrics.EnqueueFailures.WithLabelValues(p.topic, "closed").Inc()
		return ErrProducerClosed
	}

	value, err := email.Encode(req)
	if err != nil {
		metrics.EnqueueFailures.WithLabelValues(p.topic, "serialization").Inc()
		return err
	}

	key := uuid.New().String()
	requestID := RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = key
	}
	now := time.Now()
	msg := kafka.Message{
		Key:   []byte(key),
		Value: value,
		Headers: []kafka.Header{
			{Key: HeaderRequestID, Value: []byte(requestID)},
			{Key: HeaderContentType, Value: []byte("application/json")},
			{Key: HeaderEnqueuedAt, Value: []byte(now.UTC().Format(time.RFC3339))},
		},
	}

	err = p.writer.WriteMessages(ctx, msg)
	duration := time.Since(now)
	metrics.EnqueueLatency.WithLabelValues(p.topic).Observe(duration.Seconds())
	if err != nil {
		errorType := classifyKafkaError(err)
		metrics.EnqueueFailures.WithLabelValues(p.topic, errorType).Inc()

		fields := []interface{}{
			"requestID", requestID,
			"topic", p.topic,
			"errorType", errorType,
			"duration", duration,
			"error", err,
		}
		switch errorType {
		case "network", "dns", "timeout":
			p.logger.Warnw("Kafka temporarily unavailable, send request not queued", fields...)
		default:
			p.logger.Errorw("Failed to publish send request", fields...)
		}
		return fmt.Errorf("failed to publish send request (%s): %w", errorType, err)
	}

	metrics.RequestsEnqueued.WithLabelValues(p.topic).Inc()
	p.logger.Debugw("Send request queued",
		"requestID", requestID,
		"topic", p.topic,
		"hasAttachment", req.HasAttachment(),
		"duration", duration)
	return nil
}

// Close flushes pending writes and releases the broker connections.
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	p.logger.Infow("Closing Kafka producer", "topic", p.topic)
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close Kafka writer: %w", err)
	}
	return nil
}
