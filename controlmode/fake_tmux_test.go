// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package controlmode

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/remotemux/lib/clock"
	"github.com/bureau-foundation/remotemux/lib/testutil"
)

// fakeTmux plays the tmux side of a control-mode connection over
// in-memory pipes. The test writes notification lines and reads the
// command lines the session sends.
type fakeTmux struct {
	t       *testing.T
	session *Session
	clock   *clock.FakeClock

	notifications *io.PipeWriter
	commands      chan string
	events        chan Event
	runResult     chan error

	mutex       sync.Mutex
	blockNumber uint64
	syncNumber  int
}

// fakeConnection is the session's end of the pipes.
type fakeConnection struct {
	reader *io.PipeReader
	writer *io.PipeWriter
}

func (connection *fakeConnection) Read(buffer []byte) (int, error) {
	return connection.reader.Read(buffer)
}

func (connection *fakeConnection) Write(data []byte) (int, error) {
	return connection.writer.Write(data)
}

func (connection *fakeConnection) Close() error {
	connection.reader.Close()
	return connection.writer.Close()
}

// startFakeTmux creates a session on in-memory pipes, starts Run, and
// completes the attach handshake. Seeding is disabled unless the
// caller passes WithSeed(true).
func startFakeTmux(t *testing.T, options ...SessionOption) *fakeTmux {
	t.Helper()
	peer := newFakeTmux(t, options...)
	peer.attach()
	testutil.RequireClosed(t, peer.session.Ready(), 5*time.Second, "session ready after attach reply")
	return peer
}

func newFakeTmux(t *testing.T, options ...SessionOption) *fakeTmux {
	t.Helper()

	notificationReader, notificationWriter := io.Pipe()
	commandReader, commandWriter := io.Pipe()

	peer := &fakeTmux{
		t:             t,
		clock:         clock.Fake(time.Unix(1700000000, 0)),
		notifications: notificationWriter,
		commands:      make(chan string, 256),
		events:        make(chan Event, 1024),
		runResult:     make(chan error, 1),
	}

	go func() {
		scanner := bufio.NewScanner(commandReader)
		for scanner.Scan() {
			peer.commands <- scanner.Text()
		}
	}()

	allOptions := append([]SessionOption{
		WithClock(peer.clock),
		WithSeed(false),
		WithEventHook(func(event Event) { peer.events <- event }),
	}, options...)
	peer.session = NewSession(&fakeConnection{reader: notificationReader, writer: commandWriter}, allOptions...)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		peer.runResult <- peer.session.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		notificationWriter.Close()
		testutil.RequireClosed(t, peer.session.Done(), 5*time.Second, "session done at cleanup")
	})
	return peer
}

// send writes raw lines to the session.
func (peer *fakeTmux) send(lines ...string) {
	peer.t.Helper()
	for _, line := range lines {
		if _, err := io.WriteString(peer.notifications, line+"\n"); err != nil {
			peer.t.Fatalf("writing %q to session: %v", line, err)
		}
	}
}

// attach sends the reply block tmux writes for attach-session.
func (peer *fakeTmux) attach() {
	peer.t.Helper()
	peer.reply("", false)
}

// reply sends one complete reply block.
func (peer *fakeTmux) reply(payload string, failed bool) {
	peer.t.Helper()
	peer.mutex.Lock()
	peer.blockNumber++
	number := peer.blockNumber
	peer.mutex.Unlock()

	terminator := "%end"
	if failed {
		terminator = "%error"
	}
	lines := []string{fmt.Sprintf("%%begin 1700000000 %d 1", number)}
	if payload != "" {
		lines = append(lines, strings.Split(payload, "\n")...)
	}
	lines = append(lines, fmt.Sprintf("%s 1700000000 %d 1", terminator, number))
	peer.send(lines...)
}

// sync waits until the session has applied every line sent so far.
// It sends a marker line and returns the events applied before it.
func (peer *fakeTmux) sync() []Event {
	peer.t.Helper()
	peer.mutex.Lock()
	peer.syncNumber++
	marker := fmt.Sprintf("%%test-sync %d", peer.syncNumber)
	peer.mutex.Unlock()

	peer.send(marker)
	var applied []Event
	for {
		event := testutil.RequireReceive(peer.t, peer.events, 5*time.Second, "waiting for %s", marker)
		if unknown, ok := event.(Unknown); ok && unknown.Raw == marker {
			return applied
		}
		applied = append(applied, event)
	}
}

// expectCommand returns the next command line the session wrote.
func (peer *fakeTmux) expectCommand() string {
	peer.t.Helper()
	return testutil.RequireReceive(peer.t, peer.commands, 5*time.Second, "waiting for a command from the session")
}

// hangUp closes tmux's side of the connection.
func (peer *fakeTmux) hangUp() {
	peer.notifications.Close()
}

// waitRun returns Run's result.
func (peer *fakeTmux) waitRun() error {
	peer.t.Helper()
	return testutil.RequireReceive(peer.t, peer.runResult, 5*time.Second, "waiting for Run to return")
}

// addPane registers a live 80x24 pane and returns its adapter.
func (peer *fakeTmux) addPane(id PaneID) *Pane {
	peer.t.Helper()
	peer.send(
		fmt.Sprintf("%%pane-add %d", id),
		fmt.Sprintf("%%layout-change %d 80 24", id),
	)
	peer.sync()
	pane, err := peer.session.Pane(id)
	if err != nil {
		peer.t.Fatalf("Pane(%d): %v", id, err)
	}
	return pane
}
