// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package controlmode

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// PaneID identifies a pane on the remote tmux server. tmux never reuses
// a pane id within one server lifetime. On the wire it is written %N.
type PaneID uint64

// String returns the tmux target form of the id ("%3").
func (id PaneID) String() string {
	return "%" + strconv.FormatUint(uint64(id), 10)
}

// ParsePaneID parses "%N" or a bare "N".
func ParsePaneID(token string) (PaneID, error) {
	value, err := strconv.ParseUint(strings.TrimPrefix(token, "%"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid pane id %q", token)
	}
	return PaneID(value), nil
}

// WindowID identifies a tmux window. On the wire it is written @N.
type WindowID uint64

// NoWindow marks a pane whose window has not been reported yet.
const NoWindow = WindowID(math.MaxUint64)

// String returns the tmux target form of the id ("@1").
func (id WindowID) String() string {
	if id == NoWindow {
		return "@?"
	}
	return "@" + strconv.FormatUint(uint64(id), 10)
}

// ParseWindowID parses "@N" or a bare "N".
func ParseWindowID(token string) (WindowID, error) {
	value, err := strconv.ParseUint(strings.TrimPrefix(token, "@"), 10, 64)
	if err != nil || WindowID(value) == NoWindow {
		return 0, fmt.Errorf("invalid window id %q", token)
	}
	return WindowID(value), nil
}

// Event is one decoded control-mode line. The set of implementations is
// closed: every line decodes to exactly one of the types in this file.
type Event interface {
	event()
}

// Output carries bytes a pane wrote to its terminal, already unescaped.
type Output struct {
	Pane PaneID
	Data []byte
}

// LayoutChanged reports new dimensions for a single pane.
type LayoutChanged struct {
	Pane       PaneID
	Cols, Rows int
	// HasCursor is false when the notification carried no cursor
	// position, in which case CursorX and CursorY are zero.
	HasCursor        bool
	CursorX, CursorY int
}

// PaneExited reports that a pane's process ended.
type PaneExited struct {
	Pane   PaneID
	Status int
}

// PaneAdded reports a newly created pane. Window is NoWindow when the
// line did not name one.
type PaneAdded struct {
	Pane   PaneID
	Window WindowID
}

// PaneGeometry is one leaf of a tmux window layout.
type PaneGeometry struct {
	Pane       PaneID
	Cols, Rows int
	X, Y       int
}

// WindowLayout is the full pane layout of one window, decoded from
// "%layout-change @w <layout> ...".
type WindowLayout struct {
	Window WindowID
	Panes  []PaneGeometry
}

// WindowAdded reports a window linked into the session.
type WindowAdded struct {
	Window WindowID
}

// WindowClosed reports a window that no longer exists, from either
// %window-close or %unlinked-window-close.
type WindowClosed struct {
	Window WindowID
}

// BlockBegin opens a command reply block.
type BlockBegin struct {
	Time   int64
	Number uint64
	Flags  int
}

// BlockEnd closes a command reply block. Failed is true for %error.
type BlockEnd struct {
	Time   int64
	Number uint64
	Flags  int
	Failed bool
}

// CommandReply is one complete reply block. Decode never produces it:
// the Session loop assembles it from BlockBegin, the payload lines, and
// BlockEnd, and sets Seq to the sequence number of the command it
// answers.
type CommandReply struct {
	Seq     uint64
	Number  uint64
	Payload string
	Failed  bool
}

// Exit reports that tmux is about to close the control connection.
type Exit struct {
	Reason string
}

// SessionChanged reports the session the control client is attached to.
type SessionChanged struct {
	ID   string
	Name string
}

// Unknown is any line that is not a recognized notification, including
// malformed ones. Raw holds the line without its terminator.
type Unknown struct {
	Raw string
}

func (Output) event()         {}
func (LayoutChanged) event()  {}
func (PaneExited) event()     {}
func (PaneAdded) event()      {}
func (WindowLayout) event()   {}
func (WindowAdded) event()    {}
func (WindowClosed) event()   {}
func (BlockBegin) event()     {}
func (BlockEnd) event()       {}
func (CommandReply) event()   {}
func (Exit) event()           {}
func (SessionChanged) event() {}
func (Unknown) event()        {}

// controlModePrefix is the DCS sequence tmux -CC writes before the
// first notification.
var controlModePrefix = []byte("\x1bP1000p")

// Decode turns one line of the control stream into an Event. The line
// may still carry its "\r\n" or "\n" terminator. Decode keeps no state
// and never retains line: every byte slice in the result is freshly
// allocated.
func Decode(line []byte) Event {
	line = bytes.TrimRight(line, "\r\n")
	line = bytes.TrimPrefix(line, controlModePrefix)

	unknown := Unknown{Raw: string(line)}
	if len(line) == 0 || line[0] != '%' {
		return unknown
	}

	name, rest, _ := bytes.Cut(line, []byte{' '})
	switch string(name) {
	case "%output":
		return decodeOutput(rest, unknown)
	case "%extended-output":
		return decodeExtendedOutput(rest, unknown)
	case "%layout-change":
		return decodeLayoutChange(string(rest), unknown)
	case "%pane-add":
		return decodePaneAdd(string(rest), unknown)
	case "%pane-exit":
		return decodePaneExit(string(rest), unknown)
	case "%window-add":
		window, ok := decodeWindowOnly(string(rest))
		if !ok {
			return unknown
		}
		return WindowAdded{Window: window}
	case "%window-close", "%unlinked-window-close":
		window, ok := decodeWindowOnly(string(rest))
		if !ok {
			return unknown
		}
		return WindowClosed{Window: window}
	case "%begin", "%end", "%error":
		return decodeGuard(string(name), string(rest), unknown)
	case "%exit":
		return Exit{Reason: strings.TrimSpace(string(rest))}
	case "%session-changed":
		id, sessionName, ok := strings.Cut(string(rest), " ")
		if !ok || !strings.HasPrefix(id, "$") {
			return unknown
		}
		return SessionChanged{ID: id, Name: sessionName}
	}
	return unknown
}

// decodeOutput handles "%output <pane> <payload>". The payload follows
// exactly one space and may itself start with spaces.
func decodeOutput(rest []byte, unknown Unknown) Event {
	paneToken, payload, _ := bytes.Cut(rest, []byte{' '})
	pane, err := ParsePaneID(string(paneToken))
	if err != nil {
		return unknown
	}
	data, ok := UnescapeOutput(payload)
	if !ok {
		return unknown
	}
	return Output{Pane: pane, Data: data}
}

// decodeExtendedOutput handles "%extended-output <pane> <age> ... : <payload>".
// Arguments between the pane and the colon are reserved by tmux for
// future use and ignored here.
func decodeExtendedOutput(rest []byte, unknown Unknown) Event {
	paneToken, arguments, ok := bytes.Cut(rest, []byte{' '})
	if !ok {
		return unknown
	}
	pane, err := ParsePaneID(string(paneToken))
	if err != nil {
		return unknown
	}
	var payload []byte
	switch {
	case bytes.HasPrefix(arguments, []byte(": ")):
		payload = arguments[2:]
	default:
		separator := bytes.Index(arguments, []byte(" : "))
		if separator < 0 {
			return unknown
		}
		payload = arguments[separator+3:]
	}
	data, ok := UnescapeOutput(payload)
	if !ok {
		return unknown
	}
	return Output{Pane: pane, Data: data}
}

// decodeLayoutChange handles both the window form
// "%layout-change @w <layout> <visible-layout> <flags>" and the
// single-pane form "%layout-change <pane> <cols> <rows> [<cx> <cy>]".
func decodeLayoutChange(rest string, unknown Unknown) Event {
	fields := strings.Fields(rest)
	if len(fields) < 2 {
		return unknown
	}
	if strings.HasPrefix(fields[0], "@") {
		window, err := ParseWindowID(fields[0])
		if err != nil {
			return unknown
		}
		panes, err := ParseLayout(fields[1])
		if err != nil {
			return unknown
		}
		return WindowLayout{Window: window, Panes: panes}
	}

	if len(fields) != 3 && len(fields) != 5 {
		return unknown
	}
	pane, err := ParsePaneID(fields[0])
	if err != nil {
		return unknown
	}
	numbers, ok := parseNonNegative(fields[1:])
	if !ok || numbers[0] == 0 || numbers[1] == 0 {
		return unknown
	}
	changed := LayoutChanged{Pane: pane, Cols: numbers[0], Rows: numbers[1]}
	if len(numbers) == 4 {
		changed.HasCursor = true
		changed.CursorX = numbers[2]
		changed.CursorY = numbers[3]
	}
	return changed
}

func decodePaneAdd(rest string, unknown Unknown) Event {
	fields := strings.Fields(rest)
	if len(fields) < 1 || len(fields) > 2 {
		return unknown
	}
	pane, err := ParsePaneID(fields[0])
	if err != nil {
		return unknown
	}
	added := PaneAdded{Pane: pane, Window: NoWindow}
	if len(fields) == 2 {
		window, err := ParseWindowID(fields[1])
		if err != nil {
			return unknown
		}
		added.Window = window
	}
	return added
}

func decodePaneExit(rest string, unknown Unknown) Event {
	fields := strings.Fields(rest)
	if len(fields) < 1 || len(fields) > 2 {
		return unknown
	}
	pane, err := ParsePaneID(fields[0])
	if err != nil {
		return unknown
	}
	exited := PaneExited{Pane: pane}
	if len(fields) == 2 {
		status, err := strconv.Atoi(fields[1])
		if err != nil {
			return unknown
		}
		exited.Status = status
	}
	return exited
}

func decodeWindowOnly(rest string) (WindowID, bool) {
	fields := strings.Fields(rest)
	if len(fields) != 1 || !strings.HasPrefix(fields[0], "@") {
		return 0, false
	}
	window, err := ParseWindowID(fields[0])
	if err != nil {
		return 0, false
	}
	return window, true
}

// decodeGuard handles "%begin|%end|%error <time> <number> <flags>".
func decodeGuard(name, rest string, unknown Unknown) Event {
	fields := strings.Fields(rest)
	if len(fields) != 3 {
		return unknown
	}
	timestamp, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return unknown
	}
	number, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return unknown
	}
	flags, err := strconv.Atoi(fields[2])
	if err != nil {
		return unknown
	}
	if name == "%begin" {
		return BlockBegin{Time: timestamp, Number: number, Flags: flags}
	}
	return BlockEnd{Time: timestamp, Number: number, Flags: flags, Failed: name == "%error"}
}

func parseNonNegative(fields []string) ([]int, bool) {
	numbers := make([]int, len(fields))
	for index, field := range fields {
		value, err := strconv.Atoi(field)
		if err != nil || value < 0 {
			return nil, false
		}
		numbers[index] = value
	}
	return numbers, true
}
