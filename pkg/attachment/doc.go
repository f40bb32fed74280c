// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

// Package attachment downloads the files referenced by send requests. It is
// the only outbound network I/O of the delivery pipeline besides the broker
// and the SMTP relay.
package attachment
