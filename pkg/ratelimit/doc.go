// Package ratelimit provides per-client-IP token-bucket rate limiting
// middleware for the Gin intake server, with automatic stale-entry cleanup.
package ratelimit
