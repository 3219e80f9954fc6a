// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/remotemux/controlmode"
)

// subscriberBuffer is how many output chunks a client may fall behind
// before it is disconnected.
const subscriberBuffer = 256

// paneFeed is the only reader of one pane's output queue. It fans chunks
// out to every attached client. Without it, two clients attached to
// the same pane would split the stream between them.
type paneFeed struct {
	pane   *controlmode.Pane
	logger *slog.Logger

	mutex       sync.Mutex
	subscribers map[*subscriber]struct{}
	// delivered counts the bytes broadcast so far. It lines up with the
	// pane's history offset, which lets a new subscriber receive history
	// up to exactly where its live stream starts.
	delivered uint64
	finished  bool
	exit      controlmode.ExitStatus
	stopped   chan struct{}
}

type subscriber struct {
	chunks chan []byte
	// done is closed when the feed finishes or the subscriber is
	// dropped for falling behind.
	done    chan struct{}
	dropped bool
}

func newFeed(pane *controlmode.Pane, logger *slog.Logger) *paneFeed {
	return &paneFeed{
		pane:        pane,
		logger:      logger,
		subscribers: make(map[*subscriber]struct{}),
		stopped:     make(chan struct{}),
	}
}

// run reads the pane until end of stream, then records the exit status
// and releases every subscriber.
func (feed *paneFeed) run(ctx context.Context) {
	defer close(feed.stopped)

	buffer := make([]byte, 32*1024)
	for {
		n, err := feed.pane.Read(buffer)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buffer[:n])
			feed.broadcast(chunk)
		}
		if err != nil {
			break
		}
	}

	status, exited := feed.pane.TryWait()
	if !exited {
		// Read ended without an exit: the pane handle was closed
		// because the server is shutting down.
		status = controlmode.ExitStatus{Code: -1, Reason: "relay stopped"}
		if ctx.Err() == nil {
			status.Reason = "pane detached"
		}
	}

	feed.mutex.Lock()
	defer feed.mutex.Unlock()
	feed.finished = true
	feed.exit = status
	for client := range feed.subscribers {
		close(client.done)
		delete(feed.subscribers, client)
	}
}

func (feed *paneFeed) broadcast(chunk []byte) {
	feed.mutex.Lock()
	defer feed.mutex.Unlock()
	feed.delivered += uint64(len(chunk))
	for client := range feed.subscribers {
		select {
		case client.chunks <- chunk:
		default:
			client.dropped = true
			close(client.done)
			delete(feed.subscribers, client)
			feed.logger.Warn("dropping relay client that fell behind",
				"pane_id", feed.pane.ID().String(),
			)
		}
	}
}

// subscribe registers a new client. It returns the history that
// precedes the first live chunk. When the feed has already finished,
// the returned subscriber's done channel is closed and exitStatus
// reports the pane's exit.
func (feed *paneFeed) subscribe() (*subscriber, []byte) {
	client := &subscriber{
		chunks: make(chan []byte, subscriberBuffer),
		done:   make(chan struct{}),
	}

	feed.mutex.Lock()
	defer feed.mutex.Unlock()

	history, end := feed.pane.HistorySnapshot()
	// Bytes past delivered are still in the pane's queue and will arrive
	// as live chunks.
	if end > feed.delivered {
		pending := end - feed.delivered
		if pending >= uint64(len(history)) {
			history = nil
		} else {
			history = history[:uint64(len(history))-pending]
		}
	}

	if feed.finished {
		close(client.done)
		return client, history
	}
	feed.subscribers[client] = struct{}{}
	return client, history
}

func (feed *paneFeed) unsubscribe(client *subscriber) {
	feed.mutex.Lock()
	defer feed.mutex.Unlock()
	if _, ok := feed.subscribers[client]; ok {
		delete(feed.subscribers, client)
		close(client.done)
	}
}

// exitStatus returns the pane's exit once the feed has finished.
func (feed *paneFeed) exitStatus() (controlmode.ExitStatus, bool) {
	feed.mutex.Lock()
	defer feed.mutex.Unlock()
	return feed.exit, feed.finished
}

func (feed *paneFeed) wasDropped(client *subscriber) bool {
	feed.mutex.Lock()
	defer feed.mutex.Unlock()
	return client.dropped
}
