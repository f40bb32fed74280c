// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telekom/email-sender/pkg/apiresponses"
	"github.com/telekom/email-sender/pkg/config"
	"github.com/telekom/email-sender/pkg/email"
	"github.com/telekom/email-sender/pkg/metrics"
	"github.com/telekom/email-sender/pkg/queue"
)

type fakeQueue struct {
	mu         sync.Mutex
	reqs       []email.SendRequest
	requestIDs []string
	err        error
}

func (q *fakeQueue) Enqueue(ctx context.Context, req email.SendRequest) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.reqs = append(q.reqs, req)
	q.requestIDs = append(q.requestIDs, queue.RequestIDFromContext(ctx))
	return nil
}

func (q *fakeQueue) requests() []email.SendRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]email.SendRequest(nil), q.reqs...)
}

func (q *fakeQueue) lastRequestID() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.requestIDs) == 0 {
		return ""
	}
	return q.requestIDs[len(q.requestIDs)-1]
}

func validBody() string {
	return `{"from":"sender@example.com","to":"recipient@example.com","subject":"Hello","body":"Hi there"}`
}

func postJSON(t *testing.T, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/email", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeViolations(t *testing.T, w *httptest.ResponseRecorder) []string {
	t.Helper()
	var resp apiresponses.ValidationErrors
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.ValidationErrors
}

func TestPostEmail_Accepted(t *testing.T) {
	q := &fakeQueue{}
	server := newTestServer(t, config.Server{}, q)
	before := testutil.ToFloat64(metrics.IntakeRequests.WithLabelValues("accepted"))

	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, postJSON(t, `{
		"from": "sender@example.com",
		"to": "recipient@example.com",
		"subject": "Report",
		"body": "See attached",
		"attachment": {"name": "report.pdf", "url": "https://files.example.com/report.pdf"}
	}`))

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Empty(t, w.Body.String())

	reqs := q.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, email.SendRequest{
		From:       "sender@example.com",
		To:         "recipient@example.com",
		Subject:    "Report",
		Body:       "See attached",
		Attachment: &email.Attachment{Name: "report.pdf", URL: "https://files.example.com/report.pdf"},
	}, reqs[0])
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.IntakeRequests.WithLabelValues("accepted")))
}

func TestPostEmail_PropagatesRequestID(t *testing.T) {
	q := &fakeQueue{}
	server := newTestServer(t, config.Server{}, q)

	t.Run("client supplied", func(t *testing.T) {
		id := uuid.NewString()
		req := postJSON(t, validBody())
		req.Header.Set(RequestIDHeader, id)
		w := httptest.NewRecorder()
		server.Handler().ServeHTTP(w, req)

		require.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, id, w.Header().Get(RequestIDHeader))
		assert.Equal(t, id, q.lastRequestID())
	})

	t.Run("generated", func(t *testing.T) {
		w := httptest.NewRecorder()
		server.Handler().ServeHTTP(w, postJSON(t, validBody()))

		require.Equal(t, http.StatusAccepted, w.Code)
		id := w.Header().Get(RequestIDHeader)
		require.NotEmpty(t, id)
		assert.Equal(t, id, q.lastRequestID())
	})
}

func TestPostEmail_ValidationErrors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected []string
	}{
		{
			name:     "invalid sender",
			body:     `{"from":"not-an-email","to":"r@example.com","subject":"s","body":"b"}`,
			expected: []string{"from: must be a well-formed email address"},
		},
		{
			name: "everything blank",
			body: `{"from":"","to":"","subject":"","body":""}`,
			expected: []string{
				"from: must not be blank",
				"to: must not be blank",
				"subject: must not be blank",
				"body: must not be blank",
			},
		},
		{
			name:     "bad attachment url",
			body:     `{"from":"s@example.com","to":"r@example.com","subject":"s","body":"b","attachment":{"name":"x","url":"not a url"}}`,
			expected: []string{"attachment.url: must be a valid URL"},
		},
		{
			name:     "not json",
			body:     `this is not json`,
			expected: []string{"request: must be a JSON object matching the send request schema"},
		},
		{
			name:     "wrong field types",
			body:     `{"from":42}`,
			expected: []string{"request: must be a JSON object matching the send request schema"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &fakeQueue{}
			server := newTestServer(t, config.Server{}, q)

			w := httptest.NewRecorder()
			server.Handler().ServeHTTP(w, postJSON(t, tt.body))

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.expected, decodeViolations(t, w))
			assert.Empty(t, q.requests(), "rejected requests must not be queued")
		})
	}
}

func TestPostEmail_QueueUnavailable(t *testing.T) {
	q := &fakeQueue{err: errors.New("failed to publish send request (network): connection refused")}
	server := newTestServer(t, config.Server{}, q)
	before := testutil.ToFloat64(metrics.IntakeRequests.WithLabelValues("enqueue_failed"))

	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, postJSON(t, validBody()))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.NotContains(t, w.Body.String(), "connection refused")
	var resp apiresponses.APIError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "SERVICE_UNAVAILABLE", resp.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.IntakeRequests.WithLabelValues("enqueue_failed")))
}

func TestPostEmail_WrongMethod(t *testing.T) {
	server := newTestServer(t, config.Server{}, &fakeQueue{})

	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/email", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
}
