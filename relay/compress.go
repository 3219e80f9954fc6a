// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionTag identifies how a history body is encoded. Tags are
// protocol constants carried in the first byte of a history payload.
type CompressionTag uint8

const (
	// CompressionNone is the raw body. Used for small or
	// incompressible history.
	CompressionNone CompressionTag = 0

	// CompressionLZ4 is LZ4 block compression.
	CompressionLZ4 CompressionTag = 1

	// CompressionZstd is zstd at the default level. Terminal output
	// is text-like and usually compresses well.
	CompressionZstd CompressionTag = 2
)

// Compression selects the tag the server uses for history.
type Compression string

const (
	// CompressionAuto picks zstd for history larger than
	// autoThreshold and none below it.
	CompressionAuto Compression = "auto"
	CompressionOff  Compression = "none"
	CompressionFast Compression = "lz4"
	CompressionBest Compression = "zstd"
)

// autoThreshold is the history size below which compression is skipped
// in auto mode.
const autoThreshold = 4096

// ParseCompression validates a configured compression name.
func ParseCompression(name string) (Compression, error) {
	switch compression := Compression(name); compression {
	case CompressionAuto, CompressionOff, CompressionFast, CompressionBest:
		return compression, nil
	case "":
		return CompressionAuto, nil
	}
	return "", fmt.Errorf("unknown compression %q (want auto, none, lz4, or zstd)", name)
}

// tagFor returns the tag to try for data of the given size.
func (compression Compression) tagFor(size int) CompressionTag {
	switch compression {
	case CompressionFast:
		return CompressionLZ4
	case CompressionBest:
		return CompressionZstd
	case CompressionAuto:
		if size >= autoThreshold {
			return CompressionZstd
		}
	}
	return CompressionNone
}

func (tag CompressionTag) String() string {
	switch tag {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", tag)
	}
}

// errIncompressible reports that compression would not shrink the data.
var errIncompressible = errors.New("data is incompressible")

// compress encodes data with tag. It falls back to CompressionNone
// when the encoded form is not smaller, and returns the tag used.
func compress(data []byte, tag CompressionTag) (CompressionTag, []byte, error) {
	var body []byte
	var err error
	switch tag {
	case CompressionNone:
		return CompressionNone, data, nil
	case CompressionLZ4:
		body, err = compressLZ4(data)
	case CompressionZstd:
		body, err = compressZstd(data)
	default:
		return 0, nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
	if errors.Is(err, errIncompressible) {
		return CompressionNone, data, nil
	}
	if err != nil {
		return 0, nil, err
	}
	return tag, body, nil
}

// decompress reverses compress. rawLength must match the original
// length exactly.
func decompress(body []byte, tag CompressionTag, rawLength int) ([]byte, error) {
	switch tag {
	case CompressionNone:
		if len(body) != rawLength {
			return nil, fmt.Errorf("uncompressed body: size %d does not match expected %d", len(body), rawLength)
		}
		return body, nil
	case CompressionLZ4:
		destination := make([]byte, rawLength)
		read, err := lz4.UncompressBlock(body, destination)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if read != rawLength {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, rawLength)
		}
		return destination, nil
	case CompressionZstd:
		result, err := zstdDecoder.DecodeAll(body, make([]byte, 0, rawLength))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(result) != rawLength {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), rawLength)
		}
		return result, nil
	}
	return nil, fmt.Errorf("unsupported compression tag: %d", tag)
}

func compressLZ4(data []byte) ([]byte, error) {
	destination := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	// CompressBlock returns 0 for incompressible input.
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}

func compressZstd(data []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, errIncompressible
	}
	return compressed, nil
}

// zstd.Encoder and zstd.Decoder are safe for concurrent use through
// EncodeAll and DecodeAll.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("relay: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("relay: zstd decoder initialization failed: " + err.Error())
	}
}
