/*
Copyright 2026.

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

package apiresponses

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRespondValidationErrors(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	RespondValidationErrors(c, []string{"from: must not be blank", "to: must be a well-formed email address"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"validationErrors":["from: must not be blank","to: must be a well-formed email address"]}`, w.Body.String())
}

func TestRespondValidationErrorsNeverNull(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	RespondValidationErrors(c, nil)

	assert.JSONEq(t, `{"validationErrors":[]}`, w.Body.String())
}

func TestRespondBadRequest(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	RespondBadRequest(c, "invalid input")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var resp APIError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "invalid input", resp.Error)
	assert.Equal(t, "BAD_REQUEST", resp.Code)
}

func TestRespondAccepted(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	RespondAccepted(c)
	c.Writer.WriteHeaderNow()

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestRespondInternalError(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	core, recorded := observer.New(zap.ErrorLevel)

	RespondInternalError(c, "enqueue email", errors.New("secret broker detail"), zap.New(core).Sugar())

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "secret broker detail")
	var resp APIError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "failed to enqueue email", resp.Error)
	assert.Equal(t, "INTERNAL_ERROR", resp.Code)

	require.Equal(t, 1, recorded.Len())
	assert.Equal(t, "Failed to enqueue email", recorded.All()[0].Message)
}

func TestRespondInternalErrorNilLogger(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	assert.NotPanics(t, func() {
		RespondInternalError(c, "do something", errors.New("boom"), nil)
	})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRespondServiceUnavailable(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	RespondServiceUnavailable(c, "email queue")

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var resp APIError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "service unavailable: email queue", resp.Error)
	assert.Equal(t, "SERVICE_UNAVAILABLE", resp.Code)
}

func TestRespondOK(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	RespondOK(c, gin.H{"status": "ok"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}
