// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [SocketDir] creates a short directory under /tmp for Unix domain
// sockets, whose paths are limited to 108 bytes and so cannot live in
// a deeply nested t.TempDir().
//
// [RequireReceive], [RequireClosed] and [RequireReturns] wrap the
// select-with-timeout pattern so tests never hang on a blocked
// goroutine. They are the only place tests use real wall-clock
// timeouts.
//
// All helpers call t.Fatalf on failure.
package testutil
