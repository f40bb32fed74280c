// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/telekom/email-sender/pkg/email"
	"github.com/telekom/email-sender/pkg/metrics"
)

// recordingHandler fails the first failures calls (all calls when failures < 0).
type recordingHandler struct {
	mu       sync.Mutex
	failures int
	calls    []time.Time
	reqs     []email.SendRequest
	err      error
}

func (h *recordingHandler) Handle(_ context.Context, req email.SendRequest) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, time.Now())
	h.reqs = append(h.reqs, req)
	if h.failures < 0 || len(h.calls) <= h.failures {
		if h.err != nil {
			return h.err
		}
		return errors.New("smtp relay unavailable")
	}
	return nil
}

func (h *recordingHandler) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}

func testMessage(t *testing.T, topic string, offset int64, req email.SendRequest) kafka.Message {
	t.Helper()
	value, err := email.Encode(req)
	require.NoError(t, err)
	return kafka.Message{
		Topic:   topic,
		Offset:  offset,
		Value:   value,
		Headers: []kafka.Header{{Key: HeaderRequestID, Value: []byte("req-1")}},
	}
}

func TestRetryPolicy_Attempts(t *testing.T) {
	assert.Equal(t, 1, RetryPolicy{MaxRetries: 0}.Attempts())
	assert.Equal(t, 3, RetryPolicy{MaxRetries: 2}.Attempts())
	assert.Equal(t, 1, RetryPolicy{MaxRetries: -4}.Attempts())
}

func TestOutcome(t *testing.T) {
	assert.True(t, OutcomeSucceeded.Acknowledge())
	assert.True(t, OutcomeMalformed.Acknowledge())
	assert.True(t, OutcomeExhausted.Acknowledge())
	assert.False(t, OutcomeAbandoned.Acknowledge())

	assert.Equal(t, "exhausted", OutcomeExhausted.String())
	assert.Equal(t, "Outcome(42)", Outcome(42).String())
}

func TestProcessor_SucceedsFirstAttempt(t *testing.T) {
	h := &recordingHandler{}
	p := NewProcessor(h, RetryPolicy{MaxRetries: 2, Backoff: time.Hour}, zaptest.NewLogger(t).Sugar())

	outcome := p.Process(context.Background(), testMessage(t, "proc-ok", 0, validRequest()))

	assert.Equal(t, OutcomeSucceeded, outcome)
	assert.Equal(t, 1, h.callCount())
	assert.Equal(t, validRequest(), h.reqs[0])
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.MessagesSucceeded.WithLabelValues("proc-ok")))
}

func TestProcessor_RetriesWithFixedBackoff(t *testing.T) {
	h := &recordingHandler{failures: -1}
	p := NewProcessor(h, RetryPolicy{MaxRetries: 2, Backoff: 100 * time.Millisecond}, zaptest.NewLogger(t).Sugar())

	outcome := p.Process(context.Background(), testMessage(t, "proc-exhaust", 0, validRequest()))

	assert.Equal(t, OutcomeExhausted, outcome)
	require.Equal(t, 3, h.callCount(), "MaxRetries+1 attempts")
	for i := 1; i < len(h.calls); i++ {
		assert.GreaterOrEqual(t, h.calls[i].Sub(h.calls[i-1]), 100*time.Millisecond)
	}
	for _, r := range h.reqs {
		assert.Equal(t, validRequest(), r, "retries must reuse the same request")
	}
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.DeliveryRetries.WithLabelValues("proc-exhaust")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.MessagesExhausted.WithLabelValues("proc-exhaust")))
}

func TestProcessor_RecoversBeforeExhaustion(t *testing.T) {
	h := &recordingHandler{failures: 1}
	p := NewProcessor(h, RetryPolicy{MaxRetries: 3, Backoff: time.Second}, zaptest.NewLogger(t).Sugar())
	var waits []time.Duration
	p.wait = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	outcome := p.Process(context.Background(), testMessage(t, "proc-recover", 0, validRequest()))

	assert.Equal(t, OutcomeSucceeded, outcome)
	assert.Equal(t, 2, h.callCount())
	assert.Equal(t, []time.Duration{time.Second}, waits)
}

func TestProcessor_NoRetries(t *testing.T) {
	h := &recordingHandler{failures: -1}
	p := NewProcessor(h, RetryPolicy{MaxRetries: 0, Backoff: time.Second}, zaptest.NewLogger(t).Sugar())
	p.wait = func(context.Context, time.Duration) error {
		t.Fatal("must not wait when no retries are configured")
		return nil
	}

	assert.Equal(t, OutcomeExhausted, p.Process(context.Background(), testMessage(t, "proc-noretry", 0, validRequest())))
	assert.Equal(t, 1, h.callCount())
}

func TestProcessor_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		value []byte
	}{
		{"not json", []byte("<<garbage>>")},
		{"empty", nil},
		{"wrong types", []byte(`{"from": 1}`)},
		{"invalid request", []byte(`{"from":"not-an-email","to":"a@b.c","subject":"s","body":"b"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &recordingHandler{}
			p := NewProcessor(h, RetryPolicy{MaxRetries: 5, Backoff: time.Hour}, zaptest.NewLogger(t).Sugar())
			before := testutil.ToFloat64(metrics.MessagesMalformed.WithLabelValues("proc-malformed"))

			outcome := p.Process(context.Background(), kafka.Message{Topic: "proc-malformed", Value: tt.value})

			assert.Equal(t, OutcomeMalformed, outcome)
			assert.Zero(t, h.callCount())
			assert.Equal(t, before+1, testutil.ToFloat64(metrics.MessagesMalformed.WithLabelValues("proc-malformed")))
		})
	}
}

func TestProcessor_RecoversHandlerPanic(t *testing.T) {
	calls := 0
	h := HandlerFunc(func(context.Context, email.SendRequest) error {
		calls++
		if calls == 1 {
			panic("boom")
		}
		return nil
	})
	p := NewProcessor(h, RetryPolicy{MaxRetries: 1, Backoff: time.Millisecond}, zaptest.NewLogger(t).Sugar())

	assert.Equal(t, OutcomeSucceeded, p.Process(context.Background(), testMessage(t, "proc-panic", 0, validRequest())))
	assert.Equal(t, 2, calls)
}

func TestProcessor_CancelDuringBackoff(t *testing.T) {
	h := &recordingHandler{failures: -1}
	p := NewProcessor(h, RetryPolicy{MaxRetries: 5, Backoff: time.Hour}, zaptest.NewLogger(t).Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Outcome, 1)
	go func() {
		done <- p.Process(ctx, testMessage(t, "proc-cancel", 0, validRequest()))
	}()

	require.Eventually(t, func() bool { return h.callCount() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case outcome := <-done:
		assert.Equal(t, OutcomeAbandoned, outcome)
	case <-time.After(2 * time.Second):
		t.Fatal("Process did not return after cancellation")
	}
	assert.Equal(t, 1, h.callCount())
}

func TestProcessor_FailureAfterCancelIsAbandoned(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := HandlerFunc(func(ctx context.Context, _ email.SendRequest) error {
		cancel()
		return ctx.Err()
	})
	p := NewProcessor(h, RetryPolicy{MaxRetries: 0}, zaptest.NewLogger(t).Sugar())

	assert.Equal(t, OutcomeAbandoned, p.Process(ctx, testMessage(t, "proc-cancel2", 0, validRequest())))
}
