// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

// Package email defines the send request carried through the queue, its
// canonical JSON wire form, and the field validation applied both at intake
// and when a message is pulled from the topic.
package email
