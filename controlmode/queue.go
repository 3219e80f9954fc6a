// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package controlmode

import (
	"io"
	"sync"

	"github.com/charmbracelet/x/ansi"
)

// outputQueue is the unbounded chunk FIFO between the Session loop and
// one pane's readers. The loop is the only producer and never blocks
// on it; any number of readers may block in read.
//
// close marks the end of the stream: readers drain what is buffered,
// then see io.EOF. detach marks the consumer as gone: buffered chunks
// are dropped and later pushes are discarded.
type outputQueue struct {
	mutex    sync.Mutex
	changed  *sync.Cond
	chunks   [][]byte
	buffered int
	closed   bool
	detached bool
}

func newOutputQueue() *outputQueue {
	queue := &outputQueue{}
	queue.changed = sync.NewCond(&queue.mutex)
	return queue
}

// push appends a chunk. It reports false when the chunk was discarded
// because the queue is closed or detached.
func (queue *outputQueue) push(chunk []byte) bool {
	if len(chunk) == 0 {
		return true
	}
	queue.mutex.Lock()
	defer queue.mutex.Unlock()
	if queue.closed || queue.detached {
		return false
	}
	queue.chunks = append(queue.chunks, chunk)
	queue.buffered += len(chunk)
	queue.changed.Broadcast()
	return true
}

func (queue *outputQueue) close() {
	queue.mutex.Lock()
	defer queue.mutex.Unlock()
	queue.closed = true
	queue.changed.Broadcast()
}

func (queue *outputQueue) detach() {
	queue.mutex.Lock()
	defer queue.mutex.Unlock()
	queue.detached = true
	queue.chunks = nil
	queue.buffered = 0
	queue.changed.Broadcast()
}

// pending returns the number of buffered bytes.
func (queue *outputQueue) pending() int {
	queue.mutex.Lock()
	defer queue.mutex.Unlock()
	return queue.buffered
}

// read blocks until at least one chunk is buffered or the queue is
// closed or detached. It copies as many whole chunks as fit into
// buffer. When the first chunk alone is larger than buffer, it is cut
// at the last escape sequence or grapheme boundary that fits and the
// remainder stays at the head of the queue.
func (queue *outputQueue) read(buffer []byte) (int, error) {
	if len(buffer) == 0 {
		return 0, nil
	}
	queue.mutex.Lock()
	defer queue.mutex.Unlock()

	for len(queue.chunks) == 0 && !queue.closed && !queue.detached {
		queue.changed.Wait()
	}
	if len(queue.chunks) == 0 {
		return 0, io.EOF
	}

	copied := 0
	for len(queue.chunks) > 0 {
		head := queue.chunks[0]
		if len(head) <= len(buffer)-copied {
			copied += copy(buffer[copied:], head)
			queue.chunks[0] = nil
			queue.chunks = queue.chunks[1:]
			continue
		}
		if copied > 0 {
			break
		}
		cut := splitPoint(head, len(buffer))
		copied = copy(buffer, head[:cut])
		queue.chunks[0] = head[cut:]
		break
	}
	queue.buffered -= copied
	return copied, nil
}

// splitPoint returns the largest prefix length of chunk, at most limit,
// that ends on a boundary between escape sequences or grapheme
// clusters. A single sequence longer than limit is cut at limit so the
// reader always makes progress.
func splitPoint(chunk []byte, limit int) int {
	var state byte
	position := 0
	for position < len(chunk) {
		_, _, length, newState := ansi.DecodeSequence(chunk[position:], state, nil)
		if length <= 0 {
			length = 1
		}
		if position+length > limit {
			break
		}
		position += length
		state = newState
	}
	if position == 0 {
		return limit
	}
	return position
}
