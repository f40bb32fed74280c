// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package email

import (
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Rule descriptions reported in validation errors.
const (
	RuleNotBlank = "must not be blank"
	RuleEmail    = "must be a well-formed email address"
	RuleURL      = "must be a valid URL"
)

var validate = validator.New()

// FieldViolation is a single failed rule for one field.
type FieldViolation struct {
	Field string
	Rule  string
}

func (v FieldViolation) String() string {
	return v.Field + ": " + v.Rule
}

// ValidationError lists every violated rule of a send request in field order.
type ValidationError struct {
	Violations []FieldViolation
}

func (e *ValidationError) Error() string {
	return "invalid send request: " + strings.Join(e.Messages(), "; ")
}

// Messages renders the violations as "field: rule" strings.
func (e *ValidationError) Messages() []string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		msgs = append(msgs, v.String())
	}
	return msgs
}

// Validate checks req and returns a *ValidationError when any rule fails.
func Validate(req SendRequest) error {
	var violations []FieldViolation

	violations = checkEmail(violations, "from", req.From)
	violations = checkEmail(violations, "to", req.To)
	violations = checkNotBlank(violations, "subject", req.Subject)
	violations = checkNotBlank(violations, "body", req.Body)

	if req.Attachment != nil {
		violations = checkNotBlank(violations, "attachment.name", req.Attachment.Name)
		violations = checkNotBlank(violations, "attachment.url", req.Attachment.URL)
		if req.Attachment.URL != "" && !isURL(req.Attachment.URL) {
			violations = append(violations, FieldViolation{Field: "attachment.url", Rule: RuleURL})
		}
	}

	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}

func checkNotBlank(violations []FieldViolation, field, value string) []FieldViolation {
	if strings.TrimSpace(value) == "" {
		violations = append(violations, FieldViolation{Field: field, Rule: RuleNotBlank})
	}
	return violations
}

// checkEmail reports blank values and, for any non-empty value, a malformed
// address. A whitespace-only value therefore yields both violations.
func checkEmail(violations []FieldViolation, field, value string) []FieldViolation {
	violations = checkNotBlank(violations, field, value)
	if value != "" && validate.Var(value, "email") != nil {
		violations = append(violations, FieldViolation{Field: field, Rule: RuleEmail})
	}
	return violations
}

// isURL accepts absolute URIs, including opaque ones such as "file:report.pdf".
func isURL(value string) bool {
	if validate.Var(value, "uri") != nil {
		return false
	}
	u, err := url.Parse(value)
	return err == nil && u.Scheme != ""
}
