// Package mail composes outgoing emails from send requests, including
// fetching a referenced attachment, and submits them to an SMTP relay.
package mail
