// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package controlmode

import (
	"reflect"
	"testing"
)

func TestDecode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		line string
		want Event
	}{
		{"output", `%output %1 hello\015\012`, Output{Pane: 1, Data: []byte("hello\r\n")}},
		{"output bare pane id", "%output 1 hello", Output{Pane: 1, Data: []byte("hello")}},
		{"output keeps leading spaces", "%output %2   indented", Output{Pane: 2, Data: []byte("  indented")}},
		{"output empty payload", "%output %3", Output{Pane: 3, Data: []byte{}}},
		{"output with crlf terminator", "%output %1 x\r\n", Output{Pane: 1, Data: []byte("x")}},
		{"output after dcs prefix", "\x1bP1000p%output %4 hi", Output{Pane: 4, Data: []byte("hi")}},
		{"extended output", `%extended-output %5 1200 : data\012`, Output{Pane: 5, Data: []byte("data\n")}},
		{"extended output extra args", "%extended-output %5 1200 future : x", Output{Pane: 5, Data: []byte("x")}},
		{"pane layout", "%layout-change 1 80 24", LayoutChanged{Pane: 1, Cols: 80, Rows: 24}},
		{"pane layout cursor", "%layout-change %1 100 40 3 7", LayoutChanged{Pane: 1, Cols: 100, Rows: 40, HasCursor: true, CursorX: 3, CursorY: 7}},
		{
			"window layout",
			"%layout-change @2 020a,80x24,0,0{40x24,0,0,1,39x24,41,0,2} 020a,80x24,0,0{40x24,0,0,1,39x24,41,0,2} *",
			WindowLayout{Window: 2, Panes: []PaneGeometry{
				{Pane: 1, Cols: 40, Rows: 24},
				{Pane: 2, Cols: 39, Rows: 24, X: 41},
			}},
		},
		{"pane add", "%pane-add 1", PaneAdded{Pane: 1, Window: NoWindow}},
		{"pane add window", "%pane-add %7 @3", PaneAdded{Pane: 7, Window: 3}},
		{"pane exit", "%pane-exit 1 0", PaneExited{Pane: 1, Status: 0}},
		{"pane exit status", "%pane-exit %9 130", PaneExited{Pane: 9, Status: 130}},
		{"pane exit no status", "%pane-exit %9", PaneExited{Pane: 9}},
		{"window add", "%window-add @4", WindowAdded{Window: 4}},
		{"window close", "%window-close @4", WindowClosed{Window: 4}},
		{"unlinked window close", "%unlinked-window-close @5", WindowClosed{Window: 5}},
		{"begin", "%begin 1700000000 12 1", BlockBegin{Time: 1700000000, Number: 12, Flags: 1}},
		{"end", "%end 1700000000 12 1", BlockEnd{Time: 1700000000, Number: 12, Flags: 1}},
		{"error", "%error 1700000000 12 1", BlockEnd{Time: 1700000000, Number: 12, Flags: 1, Failed: true}},
		{"exit", "%exit", Exit{}},
		{"exit reason", "%exit server exited", Exit{Reason: "server exited"}},
		{"session changed", "%session-changed $1 work shell", SessionChanged{ID: "$1", Name: "work shell"}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			got := Decode([]byte(test.line))
			if !reflect.DeepEqual(got, test.want) {
				t.Errorf("Decode(%q) = %#v, want %#v", test.line, got, test.want)
			}
		})
	}
}

func TestDecodeUnknown(t *testing.T) {
	t.Parallel()

	lines := []string{
		"",
		"plain text inside nothing",
		"%sessions-changed",
		"%window-renamed @1 editor",
		"%output",
		"%output %x data",
		`%output %1 bad\`,
		"%layout-change 1 80",
		"%layout-change 1 0 24",
		"%layout-change 1 80 24 3",
		"%layout-change 1 -80 24",
		"%layout-change @1 ffff,80x24,0,0,1",
		"%layout-change @x b25e,80x24,0,0,1",
		"%pane-add",
		"%pane-add 1 window",
		"%pane-exit 1 abc",
		"%window-add 4",
		"%begin 1 2",
		"%end a 2 1",
		"%session-changed work",
		"%extended-output %1 100 no-separator",
	}
	for _, line := range lines {
		got := Decode([]byte(line))
		want := Unknown{Raw: line}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("Decode(%q) = %#v, want %#v", line, got, want)
		}
	}
}

// TestDecodeIsPure checks that decoding has no hidden state and that
// the result does not alias the input buffer.
func TestDecodeIsPure(t *testing.T) {
	t.Parallel()

	line := []byte(`%output %1 abc\015`)
	first := Decode(line)
	second := Decode(line)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("Decode is not deterministic: %#v vs %#v", first, second)
	}

	// Interleaving other lines must not change the result.
	Decode([]byte("%begin 1 1 0"))
	Decode([]byte("%output %2 other"))
	if third := Decode(line); !reflect.DeepEqual(first, third) {
		t.Fatalf("Decode depends on earlier lines: %#v vs %#v", first, third)
	}

	for index := range line {
		line[index] = 'z'
	}
	output := first.(Output)
	if string(output.Data) != "abc\r" {
		t.Errorf("decoded data changed with the input buffer: %q", output.Data)
	}
}

func TestPaneIDString(t *testing.T) {
	t.Parallel()
	if got := PaneID(12).String(); got != "%12" {
		t.Errorf("PaneID(12).String() = %q", got)
	}
	if got := WindowID(3).String(); got != "@3" {
		t.Errorf("WindowID(3).String() = %q", got)
	}
	for _, token := range []string{"%12", "12"} {
		id, err := ParsePaneID(token)
		if err != nil || id != 12 {
			t.Errorf("ParsePaneID(%q) = %d, %v", token, id, err)
		}
	}
	if _, err := ParsePaneID("@12"); err == nil {
		t.Error("ParsePaneID(\"@12\") succeeded")
	}
}
