// Package metrics defines Prometheus metrics for the email sender, covering
// intake, queue publishing and consumption, attachment fetching and SMTP delivery.
package metrics
