// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// The control-mode bridge stamps diagnostics and pending commands with
// the time they were recorded or sent, and bounds synchronous command
// round-trips with a timeout. Production code takes Real(); tests take
// Fake() and move time explicitly:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	session := controlmode.NewSession(conn, controlmode.WithClock(c))
//	// ...
//	c.Advance(5 * time.Second)
package clock
