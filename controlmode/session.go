// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package controlmode

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bureau-foundation/remotemux/lib/clock"
	"github.com/bureau-foundation/remotemux/lib/netutil"
)

// DefaultMaxLineBytes bounds one control-mode line. A single %output
// line can carry a large burst of escaped output.
const DefaultMaxLineBytes = 16 * 1024 * 1024

// Session owns one tmux control-mode connection. Run reads and applies
// the notification stream; every other method may be called from any
// goroutine.
type Session struct {
	connection io.ReadWriteCloser
	registry   *Registry
	encoder    *encoder

	logger        *slog.Logger
	clock         clock.Clock
	readOnly      bool
	historySize   int
	maxLineBytes  int
	sendKeysChunk int
	seed          bool
	eventHook     func(Event)

	// ready is closed when the attach reply block completes, or when
	// the loop exits without one.
	ready     chan struct{}
	readyOnce sync.Once

	// done is closed after teardown. exitReason and runErr are
	// written before done closes.
	done       chan struct{}
	exitReason string
	runErr     error

	// settling is set while a list-panes for unplaced panes is
	// outstanding. Only the loop goroutine touches it.
	settling bool

	running   atomic.Bool
	closeOnce sync.Once
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *slog.Logger) SessionOption {
	return func(session *Session) {
		session.logger = logger
	}
}

// WithClock sets the clock used for diagnostics and pending-command
// timestamps. Tests inject clock.Fake.
func WithClock(c clock.Clock) SessionOption {
	return func(session *Session) {
		session.clock = c
	}
}

// WithReadOnly makes Pane.Write, Pane.Resize and Pane.Kill fail with
// ErrReadOnly without sending anything.
func WithReadOnly(readOnly bool) SessionOption {
	return func(session *Session) {
		session.readOnly = readOnly
	}
}

// WithHistorySize sets the per-pane history capacity in bytes. Zero
// disables history. The default is DefaultHistorySize.
func WithHistorySize(size int) SessionOption {
	return func(session *Session) {
		session.historySize = size
	}
}

// WithMaxLineBytes bounds a single control-mode line. A longer line
// ends the session with bufio.ErrTooLong.
func WithMaxLineBytes(size int) SessionOption {
	return func(session *Session) {
		session.maxLineBytes = size
	}
}

// WithSendKeysChunk sets how many input bytes one send-keys command
// carries.
func WithSendKeysChunk(size int) SessionOption {
	return func(session *Session) {
		session.sendKeysChunk = size
	}
}

// WithSeed controls whether the session issues list-panes after attach
// to learn about panes that existed before it connected. The default
// is true.
func WithSeed(seed bool) SessionOption {
	return func(session *Session) {
		session.seed = seed
	}
}

// WithEventHook registers a function called on the loop goroutine
// after each event has been applied, including assembled CommandReply
// values. The hook must not block.
func WithEventHook(hook func(Event)) SessionOption {
	return func(session *Session) {
		session.eventHook = hook
	}
}

// NewSession wraps an established control-mode connection. Nothing is
// read until Run is called; commands may be sent before that.
func NewSession(connection io.ReadWriteCloser, options ...SessionOption) *Session {
	session := &Session{
		connection:    connection,
		logger:        slog.New(slog.DiscardHandler),
		clock:         clock.Real(),
		historySize:   DefaultHistorySize,
		maxLineBytes:  DefaultMaxLineBytes,
		sendKeysChunk: DefaultSendKeysChunk,
		seed:          true,
		ready:         make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, option := range options {
		option(session)
	}
	if session.maxLineBytes <= 0 {
		session.maxLineBytes = DefaultMaxLineBytes
	}
	session.registry = NewRegistry(session.historySize, session.clock, session.logger)
	session.encoder = newEncoder(connection, session.sendKeysChunk, session.clock)
	session.encoder.onWriteFailure = func() { session.Close() }
	return session
}

// Ready is closed once tmux has acknowledged the attach. It is also
// closed if the session ends before that, so check Done afterwards.
func (session *Session) Ready() <-chan struct{} {
	return session.ready
}

// Done is closed when Run has torn the session down.
func (session *Session) Done() <-chan struct{} {
	return session.done
}

// Err returns the error Run returned. It is only meaningful after Done
// is closed.
func (session *Session) Err() error {
	select {
	case <-session.done:
		return session.runErr
	default:
		return nil
	}
}

// ExitReason returns the reason tmux gave in %exit, or a description
// of how the connection ended. It is empty until Done is closed.
func (session *Session) ExitReason() string {
	select {
	case <-session.done:
		return session.exitReason
	default:
		return ""
	}
}

// Registry returns the pane registry the loop maintains.
func (session *Session) Registry() *Registry {
	return session.registry
}

// Panes returns a snapshot of every known pane.
func (session *Session) Panes() []PaneState {
	return session.registry.Panes()
}

// ReadOnly reports whether writes to panes are refused.
func (session *Session) ReadOnly() bool {
	return session.readOnly
}

// Send writes a command without waiting for its reply. A failed reply
// is logged by the loop.
func (session *Session) Send(command Command) error {
	_, err := session.encoder.send(command, nil)
	return err
}

// Exec writes a command and waits for tmux to answer it. For commands
// that render to several lines (long SendKeys), the reply of the last
// line is returned and any earlier failure is reported. An %error
// reply is returned together with an error wrapping ErrCommandFailed.
func (session *Session) Exec(ctx context.Context, command Command) (CommandReply, error) {
	return session.exec(ctx, command, nil)
}

func (session *Session) exec(ctx context.Context, command Command, onReply func(*Registry, CommandReply)) (CommandReply, error) {
	pending, err := session.encoder.send(command, onReply)
	if err != nil {
		return CommandReply{}, err
	}
	var last CommandReply
	var failures []error
	for _, sent := range pending {
		select {
		case result := <-sent.result:
			if result.err != nil {
				return CommandReply{}, result.err
			}
			last = result.reply
			if result.reply.Failed {
				failures = append(failures, fmt.Errorf("%w: %s: %s", ErrCommandFailed, firstWord(sent.Line), result.reply.Payload))
			}
		case <-ctx.Done():
			return CommandReply{}, ctx.Err()
		}
	}
	return last, errors.Join(failures...)
}

// Close ends the session by closing the connection. Run returns once
// the loop notices.
func (session *Session) Close() error {
	var err error
	session.closeOnce.Do(func() {
		err = session.connection.Close()
	})
	if netutil.IsExpectedCloseError(err) {
		return nil
	}
	return err
}

// Run reads the control stream until the connection ends, tmux sends
// %exit, ctx is cancelled, or a command write fails. On return every live pane has been
// marked exited, every pending command has failed with
// ErrConnectionClosed, and Done is closed. Run returns nil for an
// orderly end of stream and may only be called once.
func (session *Session) Run(ctx context.Context) error {
	if !session.running.CompareAndSwap(false, true) {
		return errors.New("controlmode: Session.Run called twice")
	}

	stop := context.AfterFunc(ctx, func() {
		session.Close()
	})
	defer stop()

	reason, err := session.readLoop()
	if err != nil && (netutil.IsExpectedCloseError(err) || ctx.Err() != nil) {
		err = nil
	}
	if err == nil && ctx.Err() == nil {
		if writeErr := session.encoder.writeFailure(); writeErr != nil && !netutil.IsExpectedCloseError(writeErr) {
			err = writeErr
		}
	}
	if ctx.Err() != nil && reason == "" {
		reason = "cancelled"
	}
	if reason == "" {
		reason = ReasonConnectionLost
	}
	session.teardown(reason, err)
	return err
}

// replyBlock accumulates the payload of one %begin/%end block.
type replyBlock struct {
	number uint64
	lines  []string
}

// readLoop runs the scanner until end of stream. It returns the %exit
// reason when tmux sent one.
func (session *Session) readLoop() (string, error) {
	scanner := bufio.NewScanner(session.connection)
	// The initial capacity must not exceed the limit: Scanner honors
	// whichever of the two is larger.
	scanner.Buffer(make([]byte, 0, min(64*1024, session.maxLineBytes)), session.maxLineBytes)

	attached := false
	var block *replyBlock
	for scanner.Scan() {
		line := bytes.TrimSuffix(scanner.Bytes(), []byte{'\r'})

		if block != nil {
			if end, ok := blockTerminator(line, block.number); ok {
				session.finishBlock(block, end, &attached)
				block = nil
				continue
			}
			block.lines = append(block.lines, string(line))
			continue
		}

		event := Decode(line)
		switch event := event.(type) {
		case BlockBegin:
			block = &replyBlock{number: event.Number}
			continue
		case BlockEnd:
			session.logger.Debug("reply terminator without %begin", "number", event.Number)
			continue
		case Exit:
			session.logger.Info("tmux closed control connection", "reason", event.Reason)
			session.emit(event)
			if event.Reason == "" {
				return "tmux exited", nil
			}
			return event.Reason, nil
		case Unknown:
			if len(event.Raw) > 0 {
				session.logger.Debug("unrecognized control line", "line", truncate(event.Raw, 200))
			}
		}
		session.apply(event)
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("reading control stream: %w", err)
	}
	return "", nil
}

// blockTerminator reports whether line is the %end or %error that
// closes the block numbered number. Lines inside a block that merely
// look like guards are payload.
func blockTerminator(line []byte, number uint64) (BlockEnd, bool) {
	if !bytes.HasPrefix(line, []byte("%end ")) && !bytes.HasPrefix(line, []byte("%error ")) {
		return BlockEnd{}, false
	}
	end, ok := Decode(line).(BlockEnd)
	if !ok || end.Number != number {
		return BlockEnd{}, false
	}
	return end, true
}

func (session *Session) finishBlock(block *replyBlock, end BlockEnd, attached *bool) {
	reply := CommandReply{
		Number:  block.number,
		Payload: strings.Join(block.lines, "\n"),
		Failed:  end.Failed,
	}

	// The first block answers the attach-session that started the
	// control client, not a command written by this session.
	if !*attached {
		*attached = true
		if reply.Failed {
			session.logger.Warn("attach reply reported an error", "payload", reply.Payload)
		}
		// The seed goes out before Ready so that any command a caller
		// sends after Ready is answered after the pane list.
		if session.seed {
			session.requestSeed()
		}
		session.readyOnce.Do(func() { close(session.ready) })
		return
	}

	pending := session.encoder.resolve()
	if pending == nil {
		session.logger.Debug("reply block without pending command", "number", reply.Number)
		session.emit(reply)
		return
	}
	reply.Seq = pending.Seq
	if reply.Failed {
		session.logger.Warn("tmux command failed",
			"seq", pending.Seq,
			"command", firstWord(pending.Line),
			"error", reply.Payload,
			"elapsed", clock.Since(session.clock, pending.SentAt),
		)
	}
	if pending.onReply != nil {
		pending.onReply(session.registry, reply)
	}
	pending.result <- commandResult{reply: reply}
	session.emit(reply)
}

// requestSeed asks tmux for every existing pane. The reply hook runs
// on the loop goroutine, so the registry keeps a single writer.
func (session *Session) requestSeed() {
	_, err := session.encoder.send(ListPanes{}, func(registry *Registry, reply CommandReply) {
		if reply.Failed {
			return
		}
		states, err := parseListPanes(reply.Payload)
		if err != nil {
			session.logger.Warn("malformed list-panes reply", "error", err)
		}
		for _, state := range states {
			registry.Upsert(state.ID, state)
		}
		session.logger.Debug("registry seeded", "panes", len(states))
	})
	if err != nil {
		session.logger.Warn("requesting pane list failed", "error", err)
	}
}

func (session *Session) apply(event Event) {
	// Registry.Apply records and logs unknown-pane drops itself.
	_ = session.registry.Apply(event)
	if _, ok := event.(WindowLayout); ok {
		session.settleUnplaced()
	}
	session.emit(event)
}

// settleUnplaced asks tmux which panes still exist once a layout
// change has left panes out of every window. Any layout that arrives
// before the reply is applied first, so a pane that moved between
// windows is placed again by then. At most one listing is outstanding;
// panes unplaced while it is in flight get their own listing after it.
func (session *Session) settleUnplaced() {
	if session.settling {
		return
	}
	candidates := session.registry.Unplaced()
	if len(candidates) == 0 {
		return
	}
	session.settling = true
	_, err := session.encoder.send(ListPanes{}, func(registry *Registry, reply CommandReply) {
		session.settling = false
		if reply.Failed {
			return
		}
		states, err := parseListPanes(reply.Payload)
		if err != nil {
			session.logger.Warn("malformed list-panes reply, keeping unplaced panes", "error", err)
			return
		}
		for _, state := range states {
			registry.Upsert(state.ID, state)
		}
		registry.SettleUnplaced(candidates, states)
		session.settleUnplaced()
	})
	if err != nil {
		session.settling = false
		session.logger.Debug("listing panes for unplaced panes failed", "error", err)
	}
}

func (session *Session) emit(event Event) {
	if session.eventHook != nil {
		session.eventHook(event)
	}
}

func (session *Session) teardown(reason string, err error) {
	session.exitReason = reason
	session.runErr = err
	session.encoder.fail(ErrConnectionClosed)
	session.registry.CloseAll(ExitStatus{Code: -1, Reason: ReasonConnectionLost})
	session.readyOnce.Do(func() { close(session.ready) })
	if closeErr := session.Close(); closeErr != nil {
		session.logger.Debug("closing control connection", "error", closeErr)
	}
	if err != nil {
		session.logger.Error("control session ended", "reason", reason, "error", err)
	} else {
		session.logger.Info("control session ended", "reason", reason)
	}
	close(session.done)
}

func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	return text[:limit] + "..."
}
