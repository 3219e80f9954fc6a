// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package controlmode

import (
	"context"
	"io"
)

// Size is a terminal size in character cells.
type Size struct {
	Cols int
	Rows int
}

// Resizer requests a new terminal size.
type Resizer interface {
	Resize(Size) error
}

// Sizer reports the current terminal size.
type Sizer interface {
	Size() (Size, error)
}

// ProcessHandle is the lifecycle of the process behind a terminal.
type ProcessHandle interface {
	// TryWait reports the exit status without blocking. The boolean is
	// false while the process is still running.
	TryWait() (ExitStatus, bool)
	Wait(ctx context.Context) (ExitStatus, error)
	Kill() error
	// ProcessID returns the operating-system pid, or 0 when unknown.
	ProcessID() int
}

// PseudoTerminal is what consumers of a local pty need: a byte stream
// plus resize and process lifecycle. *Pane implements it for remote
// tmux panes.
type PseudoTerminal interface {
	io.ReadWriteCloser
	Resizer
	Sizer
	ProcessHandle
}

var _ PseudoTerminal = (*Pane)(nil)
