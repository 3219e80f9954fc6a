// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bureau-foundation/remotemux/controlmode"
	"github.com/bureau-foundation/remotemux/lib/netutil"
)

// handshakeTimeout bounds the attach request and response exchange.
const handshakeTimeout = 10 * time.Second

// errClientTooSlow ends a connection whose client stopped draining
// output.
var errClientTooSlow = errors.New("relay: client fell behind pane output")

// Server exports the panes of one control-mode session over a
// listener. Each connection attaches to one pane; several connections
// may attach to the same pane and each receives the full stream.
type Server struct {
	session     *controlmode.Session
	sessionName string
	compression Compression
	readOnly    bool
	logger      *slog.Logger

	mutex  sync.Mutex
	feeds  map[controlmode.PaneID]*paneFeed
	closed bool

	connections sync.WaitGroup
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the server's logger. The default discards everything.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(server *Server) {
		server.logger = logger
	}
}

// WithCompression selects how history is compressed. The default is
// CompressionAuto.
func WithCompression(compression Compression) ServerOption {
	return func(server *Server) {
		server.compression = compression
	}
}

// WithReadOnly makes every connection read-only regardless of what the
// client requests.
func WithReadOnly(readOnly bool) ServerOption {
	return func(server *Server) {
		server.readOnly = readOnly
	}
}

// WithSessionName sets the tmux session name reported in metadata.
func WithSessionName(name string) ServerOption {
	return func(server *Server) {
		server.sessionName = name
	}
}

// NewServer returns a server for the panes of session.
func NewServer(session *controlmode.Session, options ...ServerOption) *Server {
	server := &Server{
		session:     session,
		compression: CompressionAuto,
		logger:      slog.New(slog.DiscardHandler),
		feeds:       make(map[controlmode.PaneID]*paneFeed),
	}
	for _, option := range options {
		option(server)
	}
	return server
}

// Listen creates a unix socket at path, replacing a stale socket from a
// previous run, and restricts it to the owner and group.
func Listen(path string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating relay socket directory: %w", err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("removing existing relay socket: %w", err)
	}
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("creating relay socket at %s: %w", path, err)
	}
	if err := os.Chmod(path, 0660); err != nil {
		listener.Close()
		return nil, fmt.Errorf("setting relay socket permissions: %w", err)
	}
	return listener, nil
}

// Serve accepts connections until ctx is cancelled or the listener
// fails, then detaches every pane feed and waits for open connections
// to finish. It returns nil after cancellation.
func (server *Server) Serve(ctx context.Context, listener net.Listener) error {
	stop := context.AfterFunc(ctx, func() { listener.Close() })
	defer stop()
	defer server.shutdown()

	server.logger.Info("relay listening", "address", listener.Addr().String())
	for {
		connection, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept relay connection: %w", err)
		}
		server.connections.Add(1)
		go func() {
			defer server.connections.Done()
			if err := server.ServeConn(ctx, connection); err != nil {
				server.logger.Warn("relay connection ended with error", "error", err)
			}
		}()
	}
}

// ServeConn runs the protocol on one connection: attach handshake,
// metadata, history, then live output until the pane exits, the client
// disconnects, or ctx is cancelled. The connection is closed on return.
func (server *Server) ServeConn(ctx context.Context, connection net.Conn) error {
	defer connection.Close()

	connection.SetDeadline(time.Now().Add(handshakeTimeout))

	var request AttachRequest
	if err := readCBOR(connection, MessageTypeAttachRequest, &request); err != nil {
		return fmt.Errorf("reading attach request: %w", err)
	}
	feed, err := server.feedFor(ctx, request.Pane)
	if err != nil {
		if writeErr := writeCBOR(connection, MessageTypeAttachResponse, AttachResponse{Error: err.Error()}); writeErr != nil {
			return errors.Join(err, writeErr)
		}
		return err
	}
	readOnly := server.readOnly || request.ReadOnly
	if err := writeCBOR(connection, MessageTypeAttachResponse, AttachResponse{OK: true}); err != nil {
		return err
	}
	connection.SetDeadline(time.Time{})

	client, history := feed.subscribe()
	defer feed.unsubscribe(client)

	state := feed.pane.State()
	metadata := PaneMetadata{
		Session:  server.sessionName,
		Pane:     state.ID.String(),
		Columns:  state.Cols,
		Rows:     state.Rows,
		PID:      state.PID,
		ReadOnly: readOnly,
	}
	if state.Window != controlmode.NoWindow {
		metadata.Window = state.Window.String()
	}
	if err := writeCBOR(connection, MessageTypeMetadata, metadata); err != nil {
		return err
	}
	historyPayload, err := EncodeHistory(history, server.compression)
	if err != nil {
		return err
	}
	if err := WriteMessage(connection, Message{Type: MessageTypeHistory, Payload: historyPayload}); err != nil {
		return err
	}

	logger := server.logger.With("pane_id", state.ID.String())
	logger.Info("relay client attached",
		"read_only", readOnly,
		"history_bytes", len(history),
		"history_wire_bytes", len(historyPayload),
	)

	inputDone := make(chan error, 1)
	go func() {
		inputDone <- forwardInput(connection, feed.pane, readOnly, logger)
	}()

	for {
		select {
		case chunk := <-client.chunks:
			if err := WriteMessage(connection, NewDataMessage(chunk)); err != nil {
				return ignoreClosed(err)
			}

		case <-client.done:
			if err := drainChunks(connection, client); err != nil {
				return ignoreClosed(err)
			}
			if feed.wasDropped(client) {
				return errClientTooSlow
			}
			status, _ := feed.exitStatus()
			logger.Info("pane ended, closing relay client", "status", status.Code, "reason", status.Reason)
			return ignoreClosed(writeCBOR(connection, MessageTypeExit, ExitPayload{Code: status.Code, Reason: status.Reason}))

		case err := <-inputDone:
			logger.Info("relay client detached")
			return err

		case <-ctx.Done():
			return nil
		}
	}
}

// drainChunks writes every chunk still buffered for client.
func drainChunks(connection net.Conn, client *subscriber) error {
	for {
		select {
		case chunk := <-client.chunks:
			if err := WriteMessage(connection, NewDataMessage(chunk)); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// forwardInput applies client messages to the pane until the client
// disconnects. Input and resize from a read-only client are dropped
// with a log line.
func forwardInput(connection net.Conn, pane *controlmode.Pane, readOnly bool, logger *slog.Logger) error {
	warned := false
	for {
		message, err := ReadMessage(connection)
		if err != nil {
			return ignoreClosed(err)
		}
		switch message.Type {
		case MessageTypeData:
			if readOnly {
				if !warned {
					logger.Warn("ignoring input from read-only relay client")
					warned = true
				}
				continue
			}
			if _, err := pane.Write(message.Payload); err != nil {
				switch {
				case errors.Is(err, controlmode.ErrPaneExited):
					continue
				case errors.Is(err, controlmode.ErrReadOnly):
					if !warned {
						logger.Warn("ignoring input for a read-only session")
						warned = true
					}
					continue
				}
				return err
			}

		case MessageTypeResize:
			if readOnly {
				continue
			}
			columns, rows, err := ParseResizePayload(message.Payload)
			if err != nil {
				logger.Debug("dropping malformed resize", "error", err)
				continue
			}
			if err := pane.Resize(controlmode.Size{Cols: int(columns), Rows: int(rows)}); err != nil {
				logger.Debug("resize failed", "error", err)
			}

		default:
			logger.Debug("ignoring unexpected relay message", "type", message.Type)
		}
	}
}

// feedFor returns the running feed for a pane, starting one on first
// use.
func (server *Server) feedFor(ctx context.Context, target string) (*paneFeed, error) {
	id, err := controlmode.ParsePaneID(target)
	if err != nil {
		return nil, err
	}

	server.mutex.Lock()
	defer server.mutex.Unlock()
	if server.closed {
		return nil, errors.New("relay server is shutting down")
	}
	if feed, ok := server.feeds[id]; ok {
		return feed, nil
	}
	pane, err := server.session.Pane(id)
	if err != nil {
		return nil, err
	}
	feed := newFeed(pane, server.logger)
	server.feeds[id] = feed
	go feed.run(ctx)
	return feed, nil
}

// shutdown stops every feed and waits for connection handlers.
func (server *Server) shutdown() {
	server.mutex.Lock()
	server.closed = true
	feeds := make([]*paneFeed, 0, len(server.feeds))
	for _, feed := range server.feeds {
		feeds = append(feeds, feed)
	}
	server.mutex.Unlock()

	for _, feed := range feeds {
		feed.pane.Close()
		<-feed.stopped
	}
	server.connections.Wait()
}

func ignoreClosed(err error) error {
	if netutil.IsExpectedCloseError(err) {
		return nil
	}
	return err
}
