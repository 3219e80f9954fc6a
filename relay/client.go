// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/bureau-foundation/remotemux/controlmode"
	"github.com/bureau-foundation/remotemux/lib/netutil"
)

// ErrNoExit is returned by Client.Run when the server closes the
// connection without reporting how the pane ended.
var ErrNoExit = errors.New("relay: connection closed before the pane exited")

// AttachError is returned by Connect when the server refuses an attach.
type AttachError struct {
	Pane   string
	Reason string
}

func (e *AttachError) Error() string {
	return fmt.Sprintf("relay refused attach to %s: %s", e.Pane, e.Reason)
}

// Client is an attached relay connection from the client's side.
type Client struct {
	// Metadata describes the pane, as sent by the server on attach.
	Metadata PaneMetadata

	// History is the pane's retained output at attach time. Writing it
	// to the local terminal before Run reproduces the screen.
	History []byte

	// HistoryCompression is how History travelled on the wire.
	HistoryCompression CompressionTag

	connection io.ReadWriteCloser
	writeMutex sync.Mutex
}

// Dial connects to a relay server's unix socket and attaches.
func Dial(socketPath string, request AttachRequest) (*Client, error) {
	connection, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to relay at %s: %w", socketPath, err)
	}
	client, err := Connect(connection, request)
	if err != nil {
		connection.Close()
		return nil, err
	}
	return client, nil
}

// Connect runs the attach handshake on an open connection: it sends the
// request, reads the response, then reads metadata and history. The
// returned Client owns connection.
func Connect(connection io.ReadWriteCloser, request AttachRequest) (*Client, error) {
	if err := writeCBOR(connection, MessageTypeAttachRequest, request); err != nil {
		return nil, fmt.Errorf("sending attach request: %w", err)
	}
	var response AttachResponse
	if err := readCBOR(connection, MessageTypeAttachResponse, &response); err != nil {
		return nil, fmt.Errorf("reading attach response: %w", err)
	}
	if !response.OK {
		return nil, &AttachError{Pane: request.Pane, Reason: response.Error}
	}

	client := &Client{connection: connection}
	if err := readCBOR(connection, MessageTypeMetadata, &client.Metadata); err != nil {
		return nil, fmt.Errorf("reading pane metadata: %w", err)
	}
	message, err := ReadMessage(connection)
	if err != nil {
		return nil, fmt.Errorf("reading pane history: %w", err)
	}
	if message.Type != MessageTypeHistory {
		return nil, fmt.Errorf("expected history message, got type %#02x", message.Type)
	}
	client.History, client.HistoryCompression, err = DecodeHistory(message.Payload)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Run relays terminal I/O until the pane exits, the connection drops,
// or ctx is cancelled. Output goes to output; bytes read from input are
// sent as keystrokes; each size received on resizes is forwarded.
// input reaching EOF stops forwarding input but keeps the output
// stream open. resizes may be nil.
//
// On a normal end Run returns the pane's exit report and a nil error.
func (client *Client) Run(ctx context.Context, input io.Reader, output io.Writer, resizes <-chan controlmode.Size) (ExitPayload, error) {
	stop := context.AfterFunc(ctx, func() { client.connection.Close() })
	defer stop()

	done := make(chan struct{})
	defer close(done)

	if input != nil {
		go client.forwardInput(input)
	}
	if resizes != nil {
		go func() {
			for {
				select {
				case size := <-resizes:
					if err := client.SendResize(size); err != nil {
						return
					}
				case <-done:
					return
				}
			}
		}()
	}

	for {
		message, err := ReadMessage(client.connection)
		if err != nil {
			if ctx.Err() != nil {
				return ExitPayload{}, ctx.Err()
			}
			if netutil.IsExpectedCloseError(err) {
				return ExitPayload{}, ErrNoExit
			}
			return ExitPayload{}, err
		}
		switch message.Type {
		case MessageTypeData:
			if _, err := output.Write(message.Payload); err != nil {
				return ExitPayload{}, fmt.Errorf("writing pane output: %w", err)
			}
		case MessageTypeExit:
			var exit ExitPayload
			if err := decodeCBOR(message, &exit); err != nil {
				return ExitPayload{}, err
			}
			return exit, nil
		}
	}
}

func (client *Client) forwardInput(input io.Reader) {
	buffer := make([]byte, 4096)
	for {
		n, err := input.Read(buffer)
		if n > 0 {
			if writeErr := client.SendInput(buffer[:n]); writeErr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// SendInput sends keystrokes to the pane. The server drops them for a
// read-only attach.
func (client *Client) SendInput(data []byte) error {
	client.writeMutex.Lock()
	defer client.writeMutex.Unlock()
	return WriteMessage(client.connection, NewDataMessage(data))
}

// SendResize asks the server to resize the pane.
func (client *Client) SendResize(size controlmode.Size) error {
	if size.Cols <= 0 || size.Rows <= 0 || size.Cols > 0xffff || size.Rows > 0xffff {
		return fmt.Errorf("invalid terminal size %dx%d", size.Cols, size.Rows)
	}
	client.writeMutex.Lock()
	defer client.writeMutex.Unlock()
	return WriteMessage(client.connection, NewResizeMessage(uint16(size.Cols), uint16(size.Rows)))
}

// Close closes the connection. The server treats this as a detach.
func (client *Client) Close() error {
	return client.connection.Close()
}
