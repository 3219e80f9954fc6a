// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/bureau-foundation/remotemux/lib/codec"
)

// Message type constants. Each message is a 5-byte header (1 byte type
// + 4 byte big-endian payload length) followed by the payload.
const (
	// MessageTypeData carries raw terminal bytes. Output flows
	// server→client, input flows client→server.
	MessageTypeData byte = 0x01

	// MessageTypeResize carries terminal dimensions, client→server
	// only. Payload is columns then rows, each uint16 big-endian.
	MessageTypeResize byte = 0x02

	// MessageTypeHistory carries the pane's retained output,
	// server→client, sent once after metadata and before live data.
	// See EncodeHistory for the payload layout.
	MessageTypeHistory byte = 0x03

	// MessageTypeMetadata carries a CBOR PaneMetadata, server→client,
	// sent once after a successful attach.
	MessageTypeMetadata byte = 0x04

	// MessageTypeExit carries a CBOR ExitPayload, server→client, sent
	// when the pane ends. The server closes the connection after it.
	MessageTypeExit byte = 0x05

	// MessageTypeAttachRequest carries a CBOR AttachRequest. It is the
	// first message on every connection, client→server.
	MessageTypeAttachRequest byte = 0x06

	// MessageTypeAttachResponse carries a CBOR AttachResponse,
	// server→client, in reply to the attach request.
	MessageTypeAttachResponse byte = 0x07
)

const messageHeaderLength = 5

// maxPayloadLength bounds a single message. A history message for a
// full default-size ring is about 1 MB before compression.
const maxPayloadLength = 16 * 1024 * 1024

// Message is a single relay protocol message.
type Message struct {
	Type    byte
	Payload []byte
}

// WriteMessage writes one framed message to w with a single Write call,
// so concurrent writers serialized by the caller never interleave a
// header with another message's payload.
func WriteMessage(w io.Writer, message Message) error {
	if len(message.Payload) > maxPayloadLength {
		return fmt.Errorf("payload length %d exceeds maximum %d", len(message.Payload), maxPayloadLength)
	}
	frame := make([]byte, messageHeaderLength+len(message.Payload))
	frame[0] = message.Type
	binary.BigEndian.PutUint32(frame[1:5], uint32(len(message.Payload)))
	copy(frame[messageHeaderLength:], message.Payload)
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write message type %#02x: %w", message.Type, err)
	}
	return nil
}

// ReadMessage reads one framed message from r.
func ReadMessage(r io.Reader) (Message, error) {
	var header [messageHeaderLength]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Message{}, fmt.Errorf("read message header: %w", err)
	}
	payloadLength := binary.BigEndian.Uint32(header[1:5])
	if payloadLength > maxPayloadLength {
		return Message{}, fmt.Errorf("payload length %d exceeds maximum %d", payloadLength, maxPayloadLength)
	}
	payload := make([]byte, payloadLength)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Message{}, fmt.Errorf("read message payload: %w", err)
	}
	return Message{Type: header[0], Payload: payload}, nil
}

// NewDataMessage wraps terminal bytes.
func NewDataMessage(data []byte) Message {
	return Message{Type: MessageTypeData, Payload: data}
}

// NewResizeMessage encodes terminal dimensions.
func NewResizeMessage(columns, rows uint16) Message {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint16(payload[0:2], columns)
	binary.BigEndian.PutUint16(payload[2:4], rows)
	return Message{Type: MessageTypeResize, Payload: payload}
}

// ParseResizePayload extracts columns and rows from a resize payload.
func ParseResizePayload(payload []byte) (columns, rows uint16, err error) {
	if len(payload) != 4 {
		return 0, 0, fmt.Errorf("resize payload must be 4 bytes, got %d", len(payload))
	}
	return binary.BigEndian.Uint16(payload[0:2]), binary.BigEndian.Uint16(payload[2:4]), nil
}

// AttachRequest selects the pane a client wants.
type AttachRequest struct {
	// Pane is the tmux pane id in target form ("%3").
	Pane string `cbor:"pane"`

	// ReadOnly asks the server to ignore input and resize messages
	// from this client.
	ReadOnly bool `cbor:"read_only,omitempty"`
}

// AttachResponse answers an AttachRequest. On failure the server closes
// the connection after sending it.
type AttachResponse struct {
	OK    bool   `cbor:"ok"`
	Error string `cbor:"error,omitempty"`
}

// PaneMetadata describes the attached pane.
type PaneMetadata struct {
	Session  string `cbor:"session,omitempty"`
	Pane     string `cbor:"pane"`
	Window   string `cbor:"window,omitempty"`
	Columns  int    `cbor:"columns"`
	Rows     int    `cbor:"rows"`
	PID      int    `cbor:"pid,omitempty"`
	ReadOnly bool   `cbor:"read_only,omitempty"`
}

// ExitPayload reports how the pane ended.
type ExitPayload struct {
	Code   int    `cbor:"code"`
	Reason string `cbor:"reason,omitempty"`
}

// newCBORMessage encodes value as the payload of a message.
func newCBORMessage(messageType byte, value any) (Message, error) {
	payload, err := codec.Marshal(value)
	if err != nil {
		return Message{}, fmt.Errorf("encode message type %#02x: %w", messageType, err)
	}
	return Message{Type: messageType, Payload: payload}, nil
}

// writeCBOR encodes value and writes it as one message.
func writeCBOR(w io.Writer, messageType byte, value any) error {
	message, err := newCBORMessage(messageType, value)
	if err != nil {
		return err
	}
	return WriteMessage(w, message)
}

// readCBOR reads one message, checks its type, and decodes its payload
// into value.
func readCBOR(r io.Reader, messageType byte, value any) error {
	message, err := ReadMessage(r)
	if err != nil {
		return err
	}
	if message.Type != messageType {
		return fmt.Errorf("expected message type %#02x, got %#02x", messageType, message.Type)
	}
	return decodeCBOR(message, value)
}

func decodeCBOR(message Message, value any) error {
	if err := codec.Unmarshal(message.Payload, value); err != nil {
		return fmt.Errorf("decode message type %#02x: %w", message.Type, err)
	}
	return nil
}
