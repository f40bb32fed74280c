// Package config loads the email-sender configuration from a YAML file with
// EMAIL_SENDER_* environment overrides, and converts it into the settings of
// the queue, mail and attachment packages.
package config
