// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package controlmode

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bureau-foundation/remotemux/lib/clock"
)

// DefaultSendKeysChunk is the largest number of input bytes carried by
// a single send-keys command.
const DefaultSendKeysChunk = 512

// listPanesFormat is the -F format of the registry seed query. Fields
// are space separated and parseListPanesLine depends on their order.
const listPanesFormat = "#{pane_id} #{window_id} #{pane_width} #{pane_height} " +
	"#{cursor_x} #{cursor_y} #{pane_pid} #{pane_dead} #{pane_dead_status}"

// Command is an intent the encoder can render as tmux command text.
type Command interface {
	// lines renders the intent as one or more tmux command lines,
	// without terminators. chunk bounds the payload of each line for
	// commands that split.
	lines(chunk int) ([]string, error)
}

// SendKeys delivers raw input bytes to a pane.
type SendKeys struct {
	Pane PaneID
	Data []byte
}

// Resize asks tmux to change a pane's dimensions. The registry only
// changes when the resulting %layout-change arrives.
type Resize struct {
	Pane PaneID
	Cols int
	Rows int
}

// Kill destroys a pane.
type Kill struct {
	Pane PaneID
}

// ListPanes queries every pane of the attached session in the format
// used to seed the registry.
type ListPanes struct{}

// Raw sends Text verbatim as one command line.
type Raw struct {
	Text string
}

// lines encodes the data as "send-keys -t %N -H 68 69 ..." commands.
// Hex keys are delivered byte for byte, so the encoding needs no
// quoting and never depends on tmux key-name lookup.
func (command SendKeys) lines(chunk int) ([]string, error) {
	if chunk <= 0 {
		chunk = DefaultSendKeysChunk
	}
	var lines []string
	target := command.Pane.String()
	for start := 0; start < len(command.Data); start += chunk {
		end := min(start+chunk, len(command.Data))
		var builder strings.Builder
		builder.Grow(len("send-keys -t  -H") + len(target) + 3*(end-start))
		builder.WriteString("send-keys -t ")
		builder.WriteString(target)
		builder.WriteString(" -H")
		for _, value := range command.Data[start:end] {
			builder.WriteByte(' ')
			builder.WriteByte(hexDigits[value>>4])
			builder.WriteByte(hexDigits[value&0x0f])
		}
		lines = append(lines, builder.String())
	}
	return lines, nil
}

const hexDigits = "0123456789abcdef"

func (command Resize) lines(int) ([]string, error) {
	if command.Cols <= 0 || command.Rows <= 0 {
		return nil, fmt.Errorf("resize %s to %dx%d: dimensions must be positive", command.Pane, command.Cols, command.Rows)
	}
	return []string{fmt.Sprintf("resize-pane -t %s -x %d -y %d", command.Pane, command.Cols, command.Rows)}, nil
}

func (command Kill) lines(int) ([]string, error) {
	return []string{"kill-pane -t " + command.Pane.String()}, nil
}

func (ListPanes) lines(int) ([]string, error) {
	return []string{"list-panes -s -F '" + listPanesFormat + "'"}, nil
}

func (command Raw) lines(int) ([]string, error) {
	if command.Text == "" || strings.ContainsAny(command.Text, "\r\n") {
		return nil, fmt.Errorf("raw command %q: must be one non-empty line", command.Text)
	}
	return []string{command.Text}, nil
}

// PendingCommand is a command line written to tmux whose reply block
// has not arrived yet. Pending commands resolve strictly in the order
// they were written.
type PendingCommand struct {
	Seq    uint64
	Line   string
	SentAt time.Time

	// onReply runs on the Session loop goroutine when the reply
	// arrives, before the result is delivered.
	onReply func(*Registry, CommandReply)
	result  chan commandResult
}

type commandResult struct {
	reply CommandReply
	err   error
}

// encoder serializes every command written to the control connection.
type encoder struct {
	writeMutex sync.Mutex
	writer     io.Writer
	chunk      int
	clock      clock.Clock
	nextSeq    uint64

	// pendingMutex is taken inside writeMutex by send and alone by the
	// loop.
	pendingMutex sync.Mutex
	pending      []*PendingCommand
	closedErr    error

	// onWriteFailure runs once, under the writer lock, after a write
	// error has failed every pending command.
	onWriteFailure func()
}

func newEncoder(writer io.Writer, chunk int, clk clock.Clock) *encoder {
	return &encoder{writer: writer, chunk: chunk, clock: clk}
}

// send renders command and writes all of its lines with one Write call
// under the writer lock. It returns one PendingCommand per line. A
// command that renders to no lines (empty SendKeys) writes nothing.
func (enc *encoder) send(command Command, onReply func(*Registry, CommandReply)) ([]*PendingCommand, error) {
	lines, err := command.lines(enc.chunk)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, nil
	}

	enc.writeMutex.Lock()
	defer enc.writeMutex.Unlock()

	enc.pendingMutex.Lock()
	if enc.closedErr != nil {
		err := enc.closedErr
		enc.pendingMutex.Unlock()
		return nil, err
	}
	now := enc.clock.Now()
	commands := make([]*PendingCommand, len(lines))
	var payload strings.Builder
	for index, line := range lines {
		enc.nextSeq++
		commands[index] = &PendingCommand{
			Seq:    enc.nextSeq,
			Line:   line,
			SentAt: now,
			result: make(chan commandResult, 1),
		}
		payload.WriteString(line)
		payload.WriteByte('\n')
	}
	commands[len(commands)-1].onReply = onReply
	enc.pending = append(enc.pending, commands...)
	enc.pendingMutex.Unlock()

	if _, err := io.WriteString(enc.writer, payload.String()); err != nil {
		// Part of the payload may have reached tmux, so the replies can
		// no longer be matched to pending commands. The stream is over.
		err = fmt.Errorf("%w: %s: %w", ErrWriteFailed, firstWord(lines[0]), err)
		enc.fail(err)
		if enc.onWriteFailure != nil {
			enc.onWriteFailure()
		}
		return nil, err
	}
	return commands, nil
}

// resolve pops the oldest pending command, or returns nil when none is
// outstanding.
func (enc *encoder) resolve() *PendingCommand {
	enc.pendingMutex.Lock()
	defer enc.pendingMutex.Unlock()
	if len(enc.pending) == 0 {
		return nil
	}
	oldest := enc.pending[0]
	enc.pending[0] = nil
	enc.pending = enc.pending[1:]
	return oldest
}

// outstanding returns the number of commands awaiting a reply.
func (enc *encoder) outstanding() int {
	enc.pendingMutex.Lock()
	defer enc.pendingMutex.Unlock()
	return len(enc.pending)
}

// writeFailure returns the write error that closed the encoder, or nil
// when it is open or was closed for another reason.
func (enc *encoder) writeFailure() error {
	enc.pendingMutex.Lock()
	defer enc.pendingMutex.Unlock()
	if errors.Is(enc.closedErr, ErrWriteFailed) {
		return enc.closedErr
	}
	return nil
}

// fail resolves every pending command with err and rejects later sends
// with the first error it was given.
func (enc *encoder) fail(err error) {
	enc.pendingMutex.Lock()
	defer enc.pendingMutex.Unlock()
	if enc.closedErr == nil {
		enc.closedErr = err
	}
	for _, command := range enc.pending {
		command.result <- commandResult{err: err}
	}
	enc.pending = nil
}

func firstWord(line string) string {
	word, _, _ := strings.Cut(line, " ")
	return word
}

// parseListPanes decodes the reply to ListPanes. Malformed lines are
// returned as errors alongside the states that did parse.
func parseListPanes(payload string) ([]PaneState, error) {
	var states []PaneState
	var errs []error
	for _, line := range strings.Split(payload, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		state, err := parseListPanesLine(line)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		states = append(states, state)
	}
	return states, errors.Join(errs...)
}

func parseListPanesLine(line string) (PaneState, error) {
	// Split on single spaces: pane_dead_status is empty for live panes.
	fields := strings.Split(strings.TrimSpace(line), " ")
	if len(fields) == 8 {
		fields = append(fields, "")
	}
	if len(fields) != 9 {
		return PaneState{}, fmt.Errorf("list-panes line %q: expected 9 fields, got %d", line, len(fields))
	}
	pane, err := ParsePaneID(fields[0])
	if err != nil {
		return PaneState{}, fmt.Errorf("list-panes line %q: %w", line, err)
	}
	window, err := ParseWindowID(fields[1])
	if err != nil {
		return PaneState{}, fmt.Errorf("list-panes line %q: %w", line, err)
	}
	numbers := make([]int, 0, 7)
	for _, field := range fields[2:] {
		if field == "" {
			field = "0"
		}
		value, err := strconv.Atoi(field)
		if err != nil {
			return PaneState{}, fmt.Errorf("list-panes line %q: field %q: %w", line, field, err)
		}
		numbers = append(numbers, value)
	}
	return PaneState{
		ID:      pane,
		Window:  window,
		Cols:    numbers[0],
		Rows:    numbers[1],
		CursorX: numbers[2],
		CursorY: numbers[3],
		PID:     numbers[4],
		Alive:   numbers[5] == 0,
		Exit:    ExitStatus{Code: numbers[6]},
	}, nil
}
