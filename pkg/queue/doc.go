// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

// Package queue hands send requests over to Kafka and consumes them again,
// one worker per assigned partition, driving every message through a bounded
// fixed-backoff retry loop before its offset is committed.
package queue
