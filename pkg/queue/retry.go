// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/telekom/email-sender/pkg/email"
	"github.com/telekom/email-sender/pkg/metrics"
)

// Handler performs one delivery attempt for a request.
type Handler interface {
	Handle(ctx context.Context, req email.SendRequest) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req email.SendRequest) error

func (f HandlerFunc) Handle(ctx context.Context, req email.SendRequest) error {
	return f(ctx, req)
}

// Outcome is the terminal state of a consumed message.
type Outcome int

const (
	// OutcomeSucceeded means the email was delivered.
	OutcomeSucceeded Outcome = iota
	// OutcomeMalformed means the payload could not be decoded or validated.
	// It was never handed to the Handler and used no attempts.
	OutcomeMalformed
	// OutcomeExhausted means every attempt failed and the message was dropped.
	OutcomeExhausted
	// OutcomeAbandoned means processing stopped because the context ended.
	// The message must not be acknowledged so the broker redelivers it.
	OutcomeAbandoned
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeMalformed:
		return "malformed"
	case OutcomeExhausted:
		return "exhausted"
	case OutcomeAbandoned:
		return "abandoned"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Acknowledge reports whether the queue position may advance past the message.
func (o Outcome) Acknowledge() bool {
	return o != OutcomeAbandoned
}

// RetryPolicy bounds redelivery of a failing message.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// Backoff is the fixed wait between a failed attempt and the next one.
	Backoff time.Duration
}

// Attempts returns the total number of tries, MaxRetries+1.
func (p RetryPolicy) Attempts() int {
	if p.MaxRetries < 0 {
		return 1
	}
	return p.MaxRetries + 1
}

// Processor drives a single consumed message to a terminal Outcome.
type Processor struct {
	handler Handler
	policy  RetryPolicy
	log     *zap.SugaredLogger
	wait    func(ctx context.Context, d time.Duration) error
}

func NewProcessor(handler Handler, policy RetryPolicy, log *zap.SugaredLogger) *Processor {
	return &Processor{
		handler: handler,
		policy:  policy,
		log:     log.Named("processor"),
		wait:    sleepContext,
	}
}

// Process decodes msg and attempts delivery until it succeeds or the retry
// budget is spent. The caller must not read another message of the same
// partition until Process returns.
func (p *Processor) Process(ctx context.Context, msg kafka.Message) Outcome {
	log := p.log.With(
		"topic", msg.Topic,
		"partition", msg.Partition,
		"offset", msg.Offset)
	metrics.MessagesConsumed.WithLabelValues(msg.Topic).Inc()

	req, err := email.Decode(msg.Value)
	if err != nil {
		metrics.MessagesMalformed.WithLabelValues(msg.Topic).Inc()
		log.Errorw("Dropping malformed send request", "error", err)
		return OutcomeMalformed
	}

	if id := headerValue(msg, HeaderRequestID); id != "" {
		log = log.With("requestID", id)
	}
	maxAttempts := p.policy.Attempts()

	for attempt := 1; ; attempt++ {
		err := p.attempt(ctx, req)
		if err == nil {
			metrics.MessagesSucceeded.WithLabelValues(msg.Topic).Inc()
			log.Infow("Email sent", "attempt", attempt)
			return OutcomeSucceeded
		}

		// A failure caused by shutdown or rebalance says nothing about the message.
		if ctx.Err() != nil {
			metrics.MessagesAbandoned.WithLabelValues(msg.Topic).Inc()
			log.Warnw("Processing interrupted, leaving message for redelivery",
				"attempt", attempt,
				"error", err)
			return OutcomeAbandoned
		}

		if attempt >= maxAttempts {
			metrics.MessagesExhausted.WithLabelValues(msg.Topic).Inc()
			log.Errorw("Email send failed after all retries, dropping message",
				"to", req.To,
				"subject", req.Subject,
				"error", &ExhaustedRetriesError{Attempts: attempt, Err: err})
			return OutcomeExhausted
		}

		metrics.DeliveryRetries.WithLabelValues(msg.Topic).Inc()
		log.Warnw("Email send failed, scheduling retry",
			"attempt", attempt,
			"maxAttempts", maxAttempts,
			"retryIn", p.policy.Backoff,
			"error", err)

		if err := p.wait(ctx, p.policy.Backoff); err != nil {
			metrics.MessagesAbandoned.WithLabelValues(msg.Topic).Inc()
			log.Warnw("Retry wait interrupted, leaving message for redelivery",
				"attempt", attempt,
				"error", err)
			return OutcomeAbandoned
		}
	}
}

// attempt runs the handler once, turning a panic into an ordinary failure.
func (p *Processor) attempt(ctx context.Context, req email.SendRequest) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while handling send request: %v", r)
		}
	}()
	return p.handler.Handle(ctx, req)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func headerValue(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
