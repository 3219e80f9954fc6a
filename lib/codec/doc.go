// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the CBOR configuration shared by every
// structured payload remotemux puts on a socket: relay attach
// requests and responses, pane metadata, and exit reports.
//
// Encoding uses Core Deterministic Encoding (RFC 8949 §4.2), so the
// same value always produces the same bytes. Decoding ignores unknown
// fields, which lets older peers read payloads from newer ones.
//
// Payload types carry `cbor` struct tags; they are never marshaled
// as JSON.
package codec
