// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/email-sender/pkg/apiresponses"
	"github.com/telekom/email-sender/pkg/email"
	"github.com/telekom/email-sender/pkg/metrics"
	"github.com/telekom/email-sender/pkg/system"
)

// Enqueuer hands a validated request to the queue. queue.Producer implements it.
type Enqueuer interface {
	Enqueue(ctx context.Context, req email.SendRequest) error
}

// EmailController accepts send requests and queues them for asynchronous delivery.
type EmailController struct {
	queue Enqueuer
	log   *zap.SugaredLogger
}

// postEmail answers 202 as soon as the request is durably queued. Delivery
// failures later on are never reported back to the caller.
func (ec *EmailController) postEmail(c *gin.Context) {
	log := system.GetReqLogger(c, ec.log)

	var req email.SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		metrics.IntakeRequests.WithLabelValues("invalid").Inc()
		log.Debugw("Rejecting unreadable send request", "error", err)
		apiresponses.RespondValidationErrors(c, []string{"request: must be a JSON object matching the send request schema"})
		return
	}

	if err := email.Validate(req); err != nil {
		var verr *email.ValidationError
		if errors.As(err, &verr) {
			metrics.IntakeRequests.WithLabelValues("invalid").Inc()
			log.Debugw("Rejecting invalid send request", "violations", verr.Messages())
			apiresponses.RespondValidationErrors(c, verr.Messages())
			return
		}
		apiresponses.RespondInternalError(c, "validate send request", err, log)
		return
	}

	if err := ec.queue.Enqueue(c.Request.Context(), req); err != nil {
		metrics.IntakeRequests.WithLabelValues("enqueue_failed").Inc()
		log.Errorw("Failed to queue send request", "error", err)
		apiresponses.RespondServiceUnavailable(c, "email queue")
		return
	}

	metrics.IntakeRequests.WithLabelValues("accepted").Inc()
	log.Infow("Send request accepted", "hasAttachment", req.HasAttachment())
	apiresponses.RespondAccepted(c)
}
