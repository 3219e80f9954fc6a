// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package controlmode

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/remotemux/lib/testutil"
)

func TestPaneWriteSendsHexKeys(t *testing.T) {
	t.Parallel()
	peer := startFakeTmux(t, WithSendKeysChunk(4))
	pane := peer.addPane(1)

	n, err := pane.Write([]byte("ls -l\r"))
	if err != nil || n != 6 {
		t.Fatalf("Write = %d, %v", n, err)
	}
	for _, want := range []string{
		"send-keys -t %1 -H 6c 73 20 2d",
		"send-keys -t %1 -H 6c 0d",
	} {
		if got := peer.expectCommand(); got != want {
			t.Errorf("command = %q, want %q", got, want)
		}
	}
}

func TestPaneReadOnlyRefusesControl(t *testing.T) {
	t.Parallel()
	peer := startFakeTmux(t, WithReadOnly(true))
	pane := peer.addPane(1)

	if n, err := pane.Write([]byte("rm -rf /\r")); !errors.Is(err, ErrReadOnly) || n != 0 {
		t.Fatalf("Write = %d, %v; want 0, ErrReadOnly", n, err)
	}
	if err := pane.Resize(Size{Cols: 10, Rows: 5}); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Resize = %v, want ErrReadOnly", err)
	}
	if err := pane.Kill(); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Kill = %v, want ErrReadOnly", err)
	}

	// The next command on the wire must be this marker, so none of the
	// refused calls sent anything.
	if err := peer.session.Send(Raw{Text: "refresh-client"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := peer.expectCommand(); got != "refresh-client" {
		t.Errorf("first command = %q, want the marker", got)
	}
}

// TestPaneResizeIsFireAndForget checks that Resize only writes the
// command: the reported size changes when tmux confirms the layout.
func TestPaneResizeIsFireAndForget(t *testing.T) {
	t.Parallel()
	peer := startFakeTmux(t)
	pane := peer.addPane(3)

	testutil.RequireReturns(t, 5*time.Second, func() {
		if err := pane.Resize(Size{Cols: 120, Rows: 40}); err != nil {
			t.Errorf("Resize: %v", err)
		}
	}, "Resize must not wait for tmux")
	if got := peer.expectCommand(); got != "resize-pane -t %3 -x 120 -y 40" {
		t.Errorf("command = %q", got)
	}
	if size, _ := pane.Size(); size != (Size{Cols: 80, Rows: 24}) {
		t.Errorf("Size before confirmation = %+v, want 80x24", size)
	}

	peer.send("%layout-change 3 120 40")
	peer.sync()
	if size, _ := pane.Size(); size != (Size{Cols: 120, Rows: 40}) {
		t.Errorf("Size after confirmation = %+v, want 120x40", size)
	}

	if err := pane.Resize(Size{Cols: 0, Rows: 40}); err == nil {
		t.Error("Resize to zero columns succeeded")
	}
}

func TestPaneKillAndWait(t *testing.T) {
	t.Parallel()
	peer := startFakeTmux(t)
	pane := peer.addPane(2)

	waitResult := make(chan ExitStatus, 1)
	go func() {
		status, err := pane.Wait(context.Background())
		if err != nil {
			t.Errorf("Wait: %v", err)
		}
		waitResult <- status
	}()

	if err := pane.Kill(); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if got := peer.expectCommand(); got != "kill-pane -t %2" {
		t.Errorf("command = %q", got)
	}
	if _, exited := pane.TryWait(); exited {
		t.Error("pane reported exited before tmux confirmed")
	}

	peer.send("%pane-exit 2 137")
	status := testutil.RequireReceive(t, waitResult, 5*time.Second, "Wait after %pane-exit")
	if status.Code != 137 {
		t.Errorf("exit code = %d, want 137", status.Code)
	}

	if err := pane.Kill(); !errors.Is(err, ErrPaneExited) {
		t.Errorf("Kill after exit = %v, want ErrPaneExited", err)
	}
	if _, err := pane.Write([]byte("x")); !errors.Is(err, ErrPaneExited) {
		t.Errorf("Write after exit = %v, want ErrPaneExited", err)
	}
	if err := pane.Resize(Size{Cols: 10, Rows: 10}); !errors.Is(err, ErrPaneExited) {
		t.Errorf("Resize after exit = %v, want ErrPaneExited", err)
	}
}

func TestPaneWaitHonorsContext(t *testing.T) {
	t.Parallel()
	peer := startFakeTmux(t)
	pane := peer.addPane(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := pane.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait with cancelled context = %v", err)
	}
}

func TestPaneCloseDetaches(t *testing.T) {
	t.Parallel()
	peer := startFakeTmux(t)
	pane := peer.addPane(1)

	peer.send("%output %1 before")
	peer.sync()

	readResult := make(chan error, 1)
	if err := pane.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	go func() {
		_, err := pane.Read(make([]byte, 16))
		readResult <- err
	}()
	if err := testutil.RequireReceive(t, readResult, 5*time.Second, "Read after Close"); !errors.Is(err, io.EOF) {
		t.Errorf("Read after Close = %v, want io.EOF", err)
	}
	if err := pane.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	// The remote pane keeps running and output keeps arriving; it is
	// dropped without disturbing the loop.
	peer.send("%output %1 after")
	peer.sync()
	if state := pane.State(); !state.Alive {
		t.Error("Close killed the remote pane")
	}
	if got := string(pane.History()); got != "beforeafter" {
		t.Errorf("History = %q, want %q", got, "beforeafter")
	}
}

func TestPaneHistorySince(t *testing.T) {
	t.Parallel()
	peer := startFakeTmux(t, WithHistorySize(8))
	pane := peer.addPane(1)

	peer.send("%output %1 0123", "%output %1 456789")
	peer.sync()

	if offset := pane.HistoryOffset(); offset != 10 {
		t.Errorf("HistoryOffset = %d, want 10", offset)
	}
	if got := string(pane.History()); got != "23456789" {
		t.Errorf("History = %q, want %q", got, "23456789")
	}
	if got := string(pane.HistorySince(7)); got != "789" {
		t.Errorf("HistorySince(7) = %q", got)
	}
}

// TestPaneInterleavedReaders drives output for two panes through the
// session and reads both concurrently.
func TestPaneInterleavedReaders(t *testing.T) {
	t.Parallel()
	peer := startFakeTmux(t)
	first := peer.addPane(1)
	second := peer.addPane(2)

	collect := func(pane *Pane) <-chan string {
		result := make(chan string, 1)
		go func() {
			data, err := io.ReadAll(pane)
			if err != nil {
				t.Errorf("reading %s: %v", pane.ID(), err)
			}
			result <- string(data)
		}()
		return result
	}
	firstOutput := collect(first)
	secondOutput := collect(second)

	for index := range 50 {
		if index%3 == 0 {
			peer.send("%output %2 B")
		}
		peer.send("%output %1 A")
	}
	peer.send("%pane-exit 1 0", "%pane-exit 2 0")

	firstText := testutil.RequireReceive(t, firstOutput, 5*time.Second, "pane 1 output")
	secondText := testutil.RequireReceive(t, secondOutput, 5*time.Second, "pane 2 output")
	if firstText != strings.Repeat("A", 50) {
		t.Errorf("pane 1 read %q", firstText)
	}
	if secondText != strings.Repeat("B", 17) {
		t.Errorf("pane 2 read %q", secondText)
	}
}
