// Package cli defines the email-sender command tree: the serve, worker and api
// process modes, a one-shot enqueue command and version output.
package cli
