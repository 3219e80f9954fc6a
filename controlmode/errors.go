// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package controlmode

import "errors"

var (
	// ErrUnknownPane is returned for events or lookups that name a pane
	// the registry has never seen.
	ErrUnknownPane = errors.New("controlmode: unknown pane")

	// ErrPaneExited is returned by operations that require a live pane.
	ErrPaneExited = errors.New("controlmode: pane has exited")

	// ErrReadOnly is returned by Pane.Write, Resize and Kill when the
	// session was opened read-only.
	ErrReadOnly = errors.New("controlmode: session is read-only")

	// ErrConnectionClosed is returned to callers waiting on a command
	// reply when the control connection ends first.
	ErrConnectionClosed = errors.New("controlmode: control connection closed")

	// ErrWriteFailed wraps failures writing a command to the control
	// connection.
	ErrWriteFailed = errors.New("controlmode: command write failed")

	// ErrCommandFailed is returned by Session.Exec when tmux answers a
	// command with an %error block.
	ErrCommandFailed = errors.New("controlmode: command failed")
)
