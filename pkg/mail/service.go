// SPDX-FileCopyrightText: 2024 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package mail

import (
	"context"

	"go.uber.org/zap"

	"github.com/telekom/email-sender/pkg/email"
)

// Service turns one send request into one delivery attempt.
type Service struct {
	composer *Composer
	delivery DeliveryClient
	logger   *zap.SugaredLogger
}

// NewService creates a mail Service.
func NewService(composer *Composer, delivery DeliveryClient, logger *zap.SugaredLogger) *Service {
	return &Service{
		composer: composer,
		delivery: delivery,
		logger:   logger.Named("mail-service"),
	}
}

// Handle composes and delivers req. Delivery is not attempted when
// composition fails.
func (s *Service) Handle(ctx context.Context, req email.SendRequest) error {
	msg, err := s.composer.Compose(ctx, req)
	if err != nil {
		return err
	}

	if err := s.delivery.Deliver(ctx, msg); err != nil {
		return err
	}

	s.logger.Debugw("Email delivered",
		"to", req.To,
		"subject", req.Subject)
	return nil
}
