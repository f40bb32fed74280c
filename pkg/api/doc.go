// Package api implements the Gin-based intake server: POST /email validates a
// send request and queues it, plus health, version and metrics endpoints.
package api
