// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package email

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Attachment references a file that is fetched when the message is composed.
type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// SendRequest is a single email to deliver. The JSON encoding of this type is
// the queue payload; producer and consumer share it unchanged.
type SendRequest struct {
	From       string      `json:"from"`
	To         string      `json:"to"`
	Subject    string      `json:"subject"`
	Body       string      `json:"body"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

// HasAttachment reports whether the request references an attachment.
func (r SendRequest) HasAttachment() bool {
	return r.Attachment != nil
}

// MalformedError is returned by Decode when the payload is not a JSON send request.
type MalformedError struct {
	Err error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed send request payload: %v", e.Err)
}

func (e *MalformedError) Unwrap() error {
	return e.Err
}

// Encode returns the canonical queue payload for req.
func Encode(req SendRequest) ([]byte, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal send request: %w", err)
	}
	return payload, nil
}

// Decode parses and validates a queue payload. The returned error is either a
// *MalformedError or a *ValidationError; both mean the message can never be
// processed.
func Decode(payload []byte) (SendRequest, error) {
	var req SendRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return SendRequest{}, &MalformedError{Err: err}
	}
	if err := Validate(req); err != nil {
		return SendRequest{}, err
	}
	return req, nil
}

// IsMalformed reports whether err marks a payload that must not be retried.
func IsMalformed(err error) bool {
	var malformed *MalformedError
	var invalid *ValidationError
	return errors.As(err, &malformed) || errors.As(err, &invalid)
}
