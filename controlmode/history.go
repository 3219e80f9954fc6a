// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package controlmode

import "sync"

// DefaultHistorySize is the per-pane history capacity in bytes.
const DefaultHistorySize = 1024 * 1024

// History is a fixed-capacity ring of the most recent output bytes of
// one pane, escape sequences included. Offsets count every byte ever
// written, so a reader that remembers the offset it last saw can ask
// for the gap with Since.
//
// All methods are safe for concurrent use.
type History struct {
	mutex sync.Mutex
	ring  []byte
	// total is the number of bytes ever written. The ring holds the
	// last min(total, len(ring)) of them, ending at total%len(ring).
	total uint64
}

// NewHistory returns a History holding up to capacity bytes. A
// capacity of zero or less returns nil; a nil *History accepts writes
// and retains nothing.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		return nil
	}
	return &History{ring: make([]byte, capacity)}
}

// Write appends data, overwriting the oldest bytes once full.
func (history *History) Write(data []byte) {
	if history == nil || len(data) == 0 {
		return
	}
	history.mutex.Lock()
	defer history.mutex.Unlock()

	capacity := len(history.ring)
	history.total += uint64(len(data))
	if len(data) >= capacity {
		copy(history.ring, data[len(data)-capacity:])
		// Rotate so the newest byte lands just before total%capacity.
		rotateRight(history.ring, int(history.total%uint64(capacity)))
		return
	}
	start := int((history.total - uint64(len(data))) % uint64(capacity))
	written := copy(history.ring[start:], data)
	copy(history.ring, data[written:])
}

// Offset returns the total number of bytes ever written.
func (history *History) Offset() uint64 {
	if history == nil {
		return 0
	}
	history.mutex.Lock()
	defer history.mutex.Unlock()
	return history.total
}

// Bytes returns a copy of everything retained, oldest first.
func (history *History) Bytes() []byte {
	return history.Since(0)
}

// Snapshot returns everything retained together with the offset just
// past its last byte, read atomically.
func (history *History) Snapshot() ([]byte, uint64) {
	if history == nil {
		return nil, 0
	}
	history.mutex.Lock()
	defer history.mutex.Unlock()
	return history.since(0), history.total
}

// Since returns a copy of the retained bytes written at or after
// offset. If offset predates the oldest retained byte, everything
// retained is returned. It returns nil when nothing newer exists.
func (history *History) Since(offset uint64) []byte {
	if history == nil {
		return nil
	}
	history.mutex.Lock()
	defer history.mutex.Unlock()
	return history.since(offset)
}

func (history *History) since(offset uint64) []byte {
	if offset >= history.total {
		return nil
	}
	capacity := uint64(len(history.ring))
	oldest := uint64(0)
	if history.total > capacity {
		oldest = history.total - capacity
	}
	if offset < oldest {
		offset = oldest
	}

	result := make([]byte, history.total-offset)
	start := int(offset % capacity)
	copied := copy(result, history.ring[start:])
	copy(result[copied:], history.ring)
	return result
}

func rotateRight(data []byte, count int) {
	if count == 0 {
		return
	}
	rotated := make([]byte, len(data))
	copy(rotated[count:], data[:len(data)-count])
	copy(rotated, data[len(data)-count:])
	copy(data, rotated)
}
