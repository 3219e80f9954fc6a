// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/remotemux/controlmode"
	"github.com/bureau-foundation/remotemux/lib/testutil"
)

// tmuxPeer plays tmux on the far side of a control-mode session. The
// relay tests drive pane output and lifecycle through it.
type tmuxPeer struct {
	t             *testing.T
	session       *controlmode.Session
	notifications *io.PipeWriter
	commands      chan string
	events        chan controlmode.Event

	mutex      sync.Mutex
	syncNumber int
}

type pipeConnection struct {
	reader *io.PipeReader
	writer *io.PipeWriter
}

func (connection *pipeConnection) Read(buffer []byte) (int, error) {
	return connection.reader.Read(buffer)
}

func (connection *pipeConnection) Write(data []byte) (int, error) {
	return connection.writer.Write(data)
}

func (connection *pipeConnection) Close() error {
	connection.reader.Close()
	return connection.writer.Close()
}

// newTmuxPeer starts an attached session with no seeding.
func newTmuxPeer(t *testing.T, options ...controlmode.SessionOption) *tmuxPeer {
	t.Helper()

	notificationReader, notificationWriter := io.Pipe()
	commandReader, commandWriter := io.Pipe()
	peer := &tmuxPeer{
		t:             t,
		notifications: notificationWriter,
		commands:      make(chan string, 256),
		events:        make(chan controlmode.Event, 1024),
	}
	go func() {
		scanner := bufio.NewScanner(commandReader)
		for scanner.Scan() {
			peer.commands <- scanner.Text()
		}
	}()

	allOptions := append([]controlmode.SessionOption{
		controlmode.WithSeed(false),
		controlmode.WithEventHook(func(event controlmode.Event) { peer.events <- event }),
	}, options...)
	peer.session = controlmode.NewSession(&pipeConnection{reader: notificationReader, writer: commandWriter}, allOptions...)

	ctx, cancel := context.WithCancel(context.Background())
	go peer.session.Run(ctx)
	t.Cleanup(func() {
		cancel()
		notificationWriter.Close()
		testutil.RequireClosed(t, peer.session.Done(), 5*time.Second, "session done at cleanup")
	})

	peer.send("%begin 1700000000 1 0", "%end 1700000000 1 0")
	testutil.RequireClosed(t, peer.session.Ready(), 5*time.Second, "session ready")
	return peer
}

func (peer *tmuxPeer) send(lines ...string) {
	peer.t.Helper()
	for _, line := range lines {
		if _, err := io.WriteString(peer.notifications, line+"\n"); err != nil {
			peer.t.Fatalf("writing %q: %v", line, err)
		}
	}
}

// sync returns once the session has applied every line sent so far.
func (peer *tmuxPeer) sync() {
	peer.t.Helper()
	peer.mutex.Lock()
	peer.syncNumber++
	marker := fmt.Sprintf("%%relay-sync %d", peer.syncNumber)
	peer.mutex.Unlock()

	peer.send(marker)
	for {
		event := testutil.RequireReceive(peer.t, peer.events, 5*time.Second, "waiting for %s", marker)
		if unknown, ok := event.(controlmode.Unknown); ok && unknown.Raw == marker {
			return
		}
	}
}

func (peer *tmuxPeer) expectCommand() string {
	peer.t.Helper()
	return testutil.RequireReceive(peer.t, peer.commands, 5*time.Second, "waiting for a command")
}

func (peer *tmuxPeer) addPane(id int) {
	peer.t.Helper()
	peer.send(
		fmt.Sprintf("%%pane-add %d", id),
		fmt.Sprintf("%%layout-change %d 80 24", id),
	)
	peer.sync()
}

// startServer runs a relay server for peer's session. Each call to the
// returned function opens a new client connection over net.Pipe and
// returns it with a channel closed when the server's handler returns.
func startServer(t *testing.T, peer *tmuxPeer, options ...ServerOption) (*Server, func() (net.Conn, <-chan struct{})) {
	t.Helper()
	server := NewServer(peer.session, options...)
	ctx, cancel := context.WithCancel(context.Background())

	var handlers sync.WaitGroup
	t.Cleanup(func() {
		cancel()
		testutil.RequireReturns(t, 5*time.Second, handlers.Wait, "relay handlers at cleanup")
		server.shutdown()
	})

	dial := func() (net.Conn, <-chan struct{}) {
		clientEnd, serverEnd := net.Pipe()
		handlerDone := make(chan struct{})
		handlers.Add(1)
		go func() {
			defer handlers.Done()
			defer close(handlerDone)
			server.ServeConn(ctx, serverEnd)
		}()
		t.Cleanup(func() { clientEnd.Close() })
		return clientEnd, handlerDone
	}
	return server, dial
}

// readStream reads Data messages until want bytes of output, counting
// the attach history, have arrived.
func readStream(t *testing.T, connection net.Conn, history []byte, want int) string {
	t.Helper()
	received := append([]byte(nil), history...)
	results := make(chan error, 1)
	go func() {
		for len(received) < want {
			message, err := ReadMessage(connection)
			if err != nil {
				results <- err
				return
			}
			if message.Type != MessageTypeData {
				results <- fmt.Errorf("unexpected message type %#02x", message.Type)
				return
			}
			received = append(received, message.Payload...)
		}
		results <- nil
	}()
	if err := testutil.RequireReceive(t, results, 5*time.Second, "reading %d bytes of output", want); err != nil {
		t.Fatalf("reading output: %v", err)
	}
	return string(received)
}
