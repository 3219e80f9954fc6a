// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package controlmode

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/bureau-foundation/remotemux/lib/clock"
)

// Exit reasons recorded by the registry when a pane ends without an
// explicit %pane-exit.
const (
	ReasonConnectionLost = "connection lost"
	ReasonPaneClosed     = "pane closed"
	ReasonWindowClosed   = "window closed"
)

// maxDiagnostics bounds the diagnostic history kept by a Registry.
const maxDiagnostics = 64

// ExitStatus describes how a pane ended. Code is the status tmux
// reported, or -1 when the pane was lost with the connection. Reason
// is empty for a normal %pane-exit.
type ExitStatus struct {
	Code   int
	Reason string
}

// Success reports whether the pane exited with status zero.
func (status ExitStatus) Success() bool {
	return status.Code == 0 && status.Reason == ""
}

func (status ExitStatus) String() string {
	if status.Reason != "" {
		return fmt.Sprintf("exit %d (%s)", status.Code, status.Reason)
	}
	return fmt.Sprintf("exit %d", status.Code)
}

// PaneState is a snapshot of one registry entry.
type PaneState struct {
	ID     PaneID
	Window WindowID
	Cols   int
	Rows   int

	CursorX int
	CursorY int

	Alive bool
	// Exit is meaningful only when Alive is false.
	Exit ExitStatus

	// PID is the remote pane_pid, or 0 when unknown.
	PID int
}

// Diagnostic records a notification the registry could not apply.
type Diagnostic struct {
	Time   time.Time
	Kind   string
	Pane   PaneID
	Detail string
}

type paneEntry struct {
	state   PaneState
	output  *outputQueue
	history *History
	exited  chan struct{}
}

// Registry maps pane ids to pane state. It is mutated only by the
// Session loop (or its reply hooks) and read from any goroutine.
// Dead panes stay in the map with Alive false until Remove.
type Registry struct {
	mutex sync.RWMutex
	panes map[PaneID]*paneEntry
	// unplaced holds live panes that their window's layout stopped
	// listing. Moving a pane between windows and killing it look the
	// same until a pane listing settles which one happened.
	unplaced map[PaneID]struct{}

	diagnosticsMutex sync.Mutex
	diagnostics      []Diagnostic

	historySize int
	clock       clock.Clock
	logger      *slog.Logger
}

// NewRegistry returns an empty registry. historySize is the per-pane
// history capacity; zero disables history.
func NewRegistry(historySize int, clk clock.Clock, logger *slog.Logger) *Registry {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{
		panes:       make(map[PaneID]*paneEntry),
		unplaced:    make(map[PaneID]struct{}),
		historySize: historySize,
		clock:       clk,
		logger:      logger,
	}
}

// Upsert creates or replaces the state of a pane. A pane that has
// exited stays exited: an Alive state for it only updates geometry.
// An entry that transitions from alive to dead is closed as if it
// had received %pane-exit with state.Exit. A live state with a window
// places a pane that a layout had left unplaced.
func (registry *Registry) Upsert(id PaneID, state PaneState) {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()

	state.ID = id
	entry, exists := registry.panes[id]
	if !exists {
		entry = registry.newEntry(state)
		registry.panes[id] = entry
		if !state.Alive {
			registry.markExited(entry, state.Exit)
		}
		return
	}

	wasAlive := entry.state.Alive
	exit := entry.state.Exit
	entry.state = state
	if !wasAlive {
		entry.state.Alive = false
		entry.state.Exit = exit
		return
	}
	if !state.Alive {
		entry.state.Alive = true
		registry.markExited(entry, state.Exit)
		return
	}
	if state.Window != NoWindow {
		delete(registry.unplaced, id)
	}
}

// Get returns a snapshot of the pane's state.
func (registry *Registry) Get(id PaneID) (PaneState, bool) {
	registry.mutex.RLock()
	defer registry.mutex.RUnlock()
	entry, exists := registry.panes[id]
	if !exists {
		return PaneState{}, false
	}
	return entry.state, true
}

// Remove deletes a pane. A live pane is first marked exited so its
// readers see end of stream.
func (registry *Registry) Remove(id PaneID) {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	entry, exists := registry.panes[id]
	if !exists {
		return
	}
	if entry.state.Alive {
		registry.markExited(entry, ExitStatus{Code: -1, Reason: ReasonPaneClosed})
	}
	delete(registry.panes, id)
	delete(registry.unplaced, id)
}

// Len returns the number of entries, dead panes included.
func (registry *Registry) Len() int {
	registry.mutex.RLock()
	defer registry.mutex.RUnlock()
	return len(registry.panes)
}

// Panes returns snapshots of every entry ordered by pane id.
func (registry *Registry) Panes() []PaneState {
	registry.mutex.RLock()
	states := make([]PaneState, 0, len(registry.panes))
	for _, entry := range registry.panes {
		states = append(states, entry.state)
	}
	registry.mutex.RUnlock()

	slices.SortFunc(states, func(a, b PaneState) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return states
}

// Diagnostics returns the most recent inconsistencies, oldest first.
func (registry *Registry) Diagnostics() []Diagnostic {
	registry.diagnosticsMutex.Lock()
	defer registry.diagnosticsMutex.Unlock()
	return slices.Clone(registry.diagnostics)
}

// Apply folds one event into the registry. It returns ErrUnknownPane
// (wrapped) when the event names a pane the registry has never seen;
// the event is dropped and a Diagnostic is recorded. Events that do
// not describe pane state are accepted and ignored.
func (registry *Registry) Apply(event Event) error {
	switch event := event.(type) {
	case Output:
		return registry.applyOutput(event)
	case LayoutChanged:
		return registry.applyLayoutChanged(event)
	case PaneAdded:
		registry.applyPaneAdded(event)
		return nil
	case PaneExited:
		return registry.applyPaneExited(event)
	case WindowLayout:
		registry.applyWindowLayout(event)
		return nil
	case WindowClosed:
		registry.closeWindow(event.Window, ReasonWindowClosed)
		return nil
	case WindowAdded, BlockBegin, BlockEnd, CommandReply, Exit, SessionChanged, Unknown:
		return nil
	}
	return fmt.Errorf("controlmode: unhandled event type %T", event)
}

// CloseAll marks every live pane exited with status and closes its
// queue. The Session calls it on connection teardown.
func (registry *Registry) CloseAll(status ExitStatus) {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	for _, entry := range registry.panes {
		if entry.state.Alive {
			registry.markExited(entry, status)
		}
	}
}

// entry returns the live handles of a pane for the adapter.
func (registry *Registry) entry(id PaneID) (*paneEntry, bool) {
	registry.mutex.RLock()
	defer registry.mutex.RUnlock()
	entry, exists := registry.panes[id]
	return entry, exists
}

func (registry *Registry) applyOutput(event Output) error {
	registry.mutex.RLock()
	entry, exists := registry.panes[event.Pane]
	alive := exists && entry.state.Alive
	registry.mutex.RUnlock()

	if !exists {
		return registry.unknownPane("output", event.Pane, fmt.Sprintf("%d bytes dropped", len(event.Data)))
	}
	if !alive {
		registry.logger.Debug("output for exited pane dropped",
			"pane_id", event.Pane.String(),
			"bytes", len(event.Data),
		)
		return nil
	}
	entry.history.Write(event.Data)
	if !entry.output.push(event.Data) {
		registry.logger.Debug("output for detached pane dropped",
			"pane_id", event.Pane.String(),
			"bytes", len(event.Data),
		)
	}
	return nil
}

func (registry *Registry) applyLayoutChanged(event LayoutChanged) error {
	registry.mutex.Lock()
	entry, exists := registry.panes[event.Pane]
	if exists {
		entry.state.Cols = event.Cols
		entry.state.Rows = event.Rows
		if event.HasCursor {
			entry.state.CursorX = event.CursorX
			entry.state.CursorY = event.CursorY
		}
	}
	registry.mutex.Unlock()

	if !exists {
		return registry.unknownPane("layout-change", event.Pane, fmt.Sprintf("%dx%d", event.Cols, event.Rows))
	}
	return nil
}

func (registry *Registry) applyPaneAdded(event PaneAdded) {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	if entry, exists := registry.panes[event.Pane]; exists {
		if event.Window != NoWindow {
			entry.state.Window = event.Window
			delete(registry.unplaced, event.Pane)
		}
		return
	}
	registry.panes[event.Pane] = registry.newEntry(PaneState{
		ID:     event.Pane,
		Window: event.Window,
		Alive:  true,
	})
}

func (registry *Registry) applyPaneExited(event PaneExited) error {
	registry.mutex.Lock()
	entry, exists := registry.panes[event.Pane]
	if exists && entry.state.Alive {
		registry.markExited(entry, ExitStatus{Code: event.Status})
	}
	registry.mutex.Unlock()

	if !exists {
		return registry.unknownPane("pane-exit", event.Pane, fmt.Sprintf("status %d", event.Status))
	}
	return nil
}

// applyWindowLayout updates every pane listed in the layout, creates
// panes seen for the first time, and marks unplaced any live pane of
// the window that the layout no longer lists. An unplaced pane stays
// alive: a later layout may list it in another window, and
// SettleUnplaced ends it if tmux no longer has it.
func (registry *Registry) applyWindowLayout(event WindowLayout) {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()

	listed := make(map[PaneID]struct{}, len(event.Panes))
	for _, geometry := range event.Panes {
		listed[geometry.Pane] = struct{}{}
		delete(registry.unplaced, geometry.Pane)
		entry, exists := registry.panes[geometry.Pane]
		if !exists {
			entry = registry.newEntry(PaneState{ID: geometry.Pane, Alive: true})
			registry.panes[geometry.Pane] = entry
			registry.logger.Debug("pane discovered from window layout",
				"pane_id", geometry.Pane.String(),
				"window_id", event.Window.String(),
			)
		}
		entry.state.Window = event.Window
		entry.state.Cols = geometry.Cols
		entry.state.Rows = geometry.Rows
	}

	for id, entry := range registry.panes {
		if entry.state.Window != event.Window || !entry.state.Alive {
			continue
		}
		if _, stillListed := listed[id]; !stillListed {
			entry.state.Window = NoWindow
			registry.unplaced[id] = struct{}{}
			registry.logger.Debug("pane left window layout",
				"pane_id", id.String(),
				"window_id", event.Window.String(),
			)
		}
	}
}

// Unplaced returns the live panes that left a window layout without
// appearing in another one, ordered by id.
func (registry *Registry) Unplaced() []PaneID {
	registry.mutex.RLock()
	defer registry.mutex.RUnlock()
	ids := make([]PaneID, 0, len(registry.unplaced))
	for id := range registry.unplaced {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// SettleUnplaced resolves candidates against a pane listing taken
// after they became unplaced. A candidate that is still unplaced and
// absent from present is marked exited with ReasonPaneClosed. Panes
// that became unplaced after the listing are left alone.
func (registry *Registry) SettleUnplaced(candidates []PaneID, present []PaneState) {
	listed := make(map[PaneID]struct{}, len(present))
	for _, state := range present {
		listed[state.ID] = struct{}{}
	}

	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	for _, id := range candidates {
		if _, unplaced := registry.unplaced[id]; !unplaced {
			continue
		}
		if _, stillThere := listed[id]; stillThere {
			continue
		}
		if entry, exists := registry.panes[id]; exists && entry.state.Alive {
			registry.markExited(entry, ExitStatus{Code: -1, Reason: ReasonPaneClosed})
		}
	}
}

func (registry *Registry) closeWindow(window WindowID, reason string) {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	for _, entry := range registry.panes {
		if entry.state.Window == window && entry.state.Alive {
			registry.markExited(entry, ExitStatus{Code: -1, Reason: reason})
		}
	}
}

func (registry *Registry) newEntry(state PaneState) *paneEntry {
	state.Alive = true
	return &paneEntry{
		state:   state,
		output:  newOutputQueue(),
		history: NewHistory(registry.historySize),
		exited:  make(chan struct{}),
	}
}

// markExited transitions a live entry to exited. Caller holds the
// write lock.
func (registry *Registry) markExited(entry *paneEntry, status ExitStatus) {
	entry.state.Alive = false
	entry.state.Exit = status
	delete(registry.unplaced, entry.state.ID)
	entry.output.close()
	close(entry.exited)
	registry.logger.Debug("pane exited",
		"pane_id", entry.state.ID.String(),
		"status", status.Code,
		"reason", status.Reason,
	)
}

func (registry *Registry) unknownPane(kind string, pane PaneID, detail string) error {
	diagnostic := Diagnostic{
		Time:   registry.clock.Now(),
		Kind:   kind,
		Pane:   pane,
		Detail: detail,
	}
	registry.diagnosticsMutex.Lock()
	registry.diagnostics = append(registry.diagnostics, diagnostic)
	if overflow := len(registry.diagnostics) - maxDiagnostics; overflow > 0 {
		registry.diagnostics = slices.Delete(registry.diagnostics, 0, overflow)
	}
	registry.diagnosticsMutex.Unlock()

	registry.logger.Warn("event for unknown pane dropped",
		"event", kind,
		"pane_id", pane.String(),
		"detail", detail,
	)
	return fmt.Errorf("%s for %s: %w", kind, pane, ErrUnknownPane)
}
