// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/zeebo/blake3"
)

// historyHeaderLength is tag (1) + raw length (4) + BLAKE3 digest (32).
const historyHeaderLength = 1 + 4 + 32

// ErrHistoryCorrupt is returned when a history payload's digest does
// not match its decoded contents.
var ErrHistoryCorrupt = errors.New("relay: history digest mismatch")

// EncodeHistory builds a history payload:
//
//	[tag:1][raw length:4 BE][blake3-256 of raw bytes:32][body]
//
// The digest covers the uncompressed bytes, so it checks both transport
// and decompression.
func EncodeHistory(data []byte, compression Compression) ([]byte, error) {
	tag, body, err := compress(data, compression.tagFor(len(data)))
	if err != nil {
		return nil, fmt.Errorf("compress history: %w", err)
	}
	digest := blake3.Sum256(data)

	payload := make([]byte, historyHeaderLength+len(body))
	payload[0] = byte(tag)
	binary.BigEndian.PutUint32(payload[1:5], uint32(len(data)))
	copy(payload[5:historyHeaderLength], digest[:])
	copy(payload[historyHeaderLength:], body)
	return payload, nil
}

// DecodeHistory verifies and decodes a history payload. It returns the
// raw bytes and the tag the body was encoded with.
func DecodeHistory(payload []byte) ([]byte, CompressionTag, error) {
	if len(payload) < historyHeaderLength {
		return nil, 0, fmt.Errorf("history payload is %d bytes, shorter than its %d byte header", len(payload), historyHeaderLength)
	}
	tag := CompressionTag(payload[0])
	rawLength := binary.BigEndian.Uint32(payload[1:5])
	if rawLength > maxPayloadLength {
		return nil, tag, fmt.Errorf("history length %d exceeds maximum %d", rawLength, maxPayloadLength)
	}
	data, err := decompress(payload[historyHeaderLength:], tag, int(rawLength))
	if err != nil {
		return nil, tag, err
	}
	digest := blake3.Sum256(data)
	if subtle.ConstantTimeCompare(digest[:], payload[5:historyHeaderLength]) != 1 {
		return nil, tag, fmt.Errorf("%s history of %d bytes: %w", tag, rawLength, ErrHistoryCorrupt)
	}
	return data, tag, nil
}
