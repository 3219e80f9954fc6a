// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package controlmode

import (
	"context"
	"fmt"
	"sync"
)

// Pane is the pseudo-terminal view of one remote pane. It holds only
// the pane id and handles into its session; the registry owns the
// state. Several Pane values for the same id share one output queue,
// so concurrent readers split the stream between them.
type Pane struct {
	id      PaneID
	session *Session
	entry   *paneEntry

	closeOnce sync.Once
}

// Pane returns the adapter for a pane in the registry. Exited panes
// are returned too: reads drain what was buffered and then see
// io.EOF, and TryWait reports the exit status.
func (session *Session) Pane(id PaneID) (*Pane, error) {
	entry, exists := session.registry.entry(id)
	if !exists {
		return nil, fmt.Errorf("pane %s: %w", id, ErrUnknownPane)
	}
	return &Pane{id: id, session: session, entry: entry}, nil
}

// ID returns the remote pane id.
func (pane *Pane) ID() PaneID {
	return pane.id
}

// State returns the registry snapshot for this pane.
func (pane *Pane) State() PaneState {
	state, _ := pane.session.registry.Get(pane.id)
	return state
}

// Read blocks until the pane has written output, then returns as many
// whole chunks as fit in buffer. It returns io.EOF once the pane has
// exited (or the connection ended) and all buffered output is read.
func (pane *Pane) Read(buffer []byte) (int, error) {
	return pane.entry.output.read(buffer)
}

// Write sends data to the pane as keyboard input. It returns
// ErrReadOnly for a read-only session and ErrPaneExited for a
// pane that has exited.
func (pane *Pane) Write(data []byte) (int, error) {
	if pane.session.readOnly {
		return 0, ErrReadOnly
	}
	if err := pane.requireAlive(); err != nil {
		return 0, err
	}
	if err := pane.session.Send(SendKeys{Pane: pane.id, Data: data}); err != nil {
		return 0, fmt.Errorf("writing to pane %s: %w", pane.id, err)
	}
	return len(data), nil
}

// Resize asks tmux for a new pane size and returns once the command is
// written. Size keeps reporting the old dimensions until tmux confirms
// with a layout change.
func (pane *Pane) Resize(size Size) error {
	if pane.session.readOnly {
		return ErrReadOnly
	}
	if err := pane.requireAlive(); err != nil {
		return err
	}
	if err := pane.session.Send(Resize{Pane: pane.id, Cols: size.Cols, Rows: size.Rows}); err != nil {
		return fmt.Errorf("resizing pane %s: %w", pane.id, err)
	}
	return nil
}

// Size returns the dimensions from the latest applied layout.
func (pane *Pane) Size() (Size, error) {
	state, exists := pane.session.registry.Get(pane.id)
	if !exists {
		return Size{}, fmt.Errorf("pane %s: %w", pane.id, ErrUnknownPane)
	}
	return Size{Cols: state.Cols, Rows: state.Rows}, nil
}

// TryWait reports the exit status if the pane has exited.
func (pane *Pane) TryWait() (ExitStatus, bool) {
	select {
	case <-pane.entry.exited:
		return pane.State().Exit, true
	default:
		return ExitStatus{}, false
	}
}

// Wait blocks until the pane exits or ctx is done.
func (pane *Pane) Wait(ctx context.Context) (ExitStatus, error) {
	select {
	case <-pane.entry.exited:
		return pane.State().Exit, nil
	case <-ctx.Done():
		return ExitStatus{}, ctx.Err()
	}
}

// Kill asks tmux to destroy the pane. The exit is observed
// asynchronously through the notification stream.
func (pane *Pane) Kill() error {
	if pane.session.readOnly {
		return ErrReadOnly
	}
	if err := pane.requireAlive(); err != nil {
		return err
	}
	if err := pane.session.Send(Kill{Pane: pane.id}); err != nil {
		return fmt.Errorf("killing pane %s: %w", pane.id, err)
	}
	return nil
}

// ProcessID returns the remote pane_pid. It is a pid on the tmux
// server's host, and 0 when the registry has not learned it.
func (pane *Pane) ProcessID() int {
	return pane.State().PID
}

// History returns the pane's retained output, oldest first.
func (pane *Pane) History() []byte {
	return pane.entry.history.Bytes()
}

// HistoryOffset returns the number of output bytes the pane has
// produced since the session connected.
func (pane *Pane) HistoryOffset() uint64 {
	return pane.entry.history.Offset()
}

// HistorySnapshot returns the retained output and the offset just past
// its last byte.
func (pane *Pane) HistorySnapshot() ([]byte, uint64) {
	return pane.entry.history.Snapshot()
}

// HistorySince returns retained output at or after offset.
func (pane *Pane) HistorySince(offset uint64) []byte {
	return pane.entry.history.Since(offset)
}

// Close detaches the pane's output queue: pending and future output is
// discarded and blocked readers return io.EOF. The remote pane keeps
// running. Close is idempotent.
func (pane *Pane) Close() error {
	pane.closeOnce.Do(pane.entry.output.detach)
	return nil
}

func (pane *Pane) requireAlive() error {
	select {
	case <-pane.entry.exited:
		return fmt.Errorf("pane %s: %w", pane.id, ErrPaneExited)
	default:
		return nil
	}
}
