// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package controlmode bridges panes owned by a remote tmux server into
// local pseudo-terminal handles.
//
// A single tmux control-mode connection (tmux -C attach-session)
// carries an interleaved, line-oriented stream of notifications for
// every pane in the session, plus %begin/%end blocks acknowledging the
// commands this client sent. A [Session] owns that connection: one
// goroutine reads lines, decodes them into [Event] values with
// [Decode], folds %begin/%end blocks into [CommandReply] values, and
// applies each event to a [Registry]. The registry keeps the
// authoritative state of every known pane and routes %output payloads
// into a per-pane queue.
//
// Each registry entry is exposed as a [Pane], which satisfies
// [PseudoTerminal]: blocking reads drain the pane's queue, writes are
// forwarded as send-keys commands, and resize, wait, and kill map onto
// the equivalent tmux commands and notifications. Code that expects a
// locally spawned process on a pseudo-terminal can consume a remote
// pane without knowing the difference.
//
// Concurrency model:
//
//   - The Session loop is the only goroutine that mutates the registry.
//     Reply hooks (for example the list-panes seed issued after attach)
//     run on the loop goroutine.
//   - Registry state is guarded by one sync.RWMutex. Output queues and
//     history buffers carry their own locks, so a reader blocked on one
//     pane never holds the registry lock.
//   - Commands from any goroutine are serialized through one writer
//     mutex. Replies resolve in wire order.
//   - When the connection ends, every live pane is marked exited and
//     its queue is closed, so blocked readers return io.EOF.
package controlmode
