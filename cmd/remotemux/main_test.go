// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/remotemux/controlmode"
	"github.com/bureau-foundation/remotemux/lib/clock"
	"github.com/bureau-foundation/remotemux/lib/testutil"
)

func TestCommandTree(t *testing.T) {
	root := rootCommand()
	names := make(map[string]bool)
	for _, command := range root.Subcommands {
		if command.Summary == "" || command.Run == nil {
			t.Errorf("%s: missing Summary or Run", command.Name)
		}
		names[command.Name] = true
	}
	for _, want := range []string{"list", "attach", "serve", "connect", "version"} {
		if !names[want] {
			t.Errorf("command %q not registered", want)
		}
	}
	if err := root.Execute(context.Background(), []string{"attach"}, nil); err == nil || !strings.Contains(err.Error(), "pane argument") {
		t.Errorf("attach without a pane = %v", err)
	}
}

func TestOptionsOverrideConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "remotemux.jsonc")
	contents := `{
  // comments and trailing commas are allowed
  "tmux": {"socket": "/from/file.sock", "session": "file"},
  "bridge": {"read_only": true},
  "log": {"level": "debug", "format": "json"},
}`
	if err := os.WriteFile(configPath, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}

	var options commonOptions
	flagSet := newFlagSet("test", &options)
	if err := flagSet.Parse([]string{"--config", configPath, "-t", "flag", "--read-only=false"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cfg, logger, err := options.load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Tmux.Socket != "/from/file.sock" {
		t.Errorf("socket = %q, want the file value", cfg.Tmux.Socket)
	}
	if cfg.Tmux.Session != "flag" {
		t.Errorf("session = %q, want the flag value", cfg.Tmux.Session)
	}
	if cfg.Bridge.ReadOnly {
		t.Error("read_only = true, want the flag's false")
	}
	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("logger does not honor log.level debug")
	}
}

func TestOptionsRejectInvalidConfig(t *testing.T) {
	var options commonOptions
	flagSet := newFlagSet("test", &options)
	if err := flagSet.Parse([]string{"--log-format", "xml"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, _, err := options.load(); err == nil {
		t.Error("load accepted log format xml")
	}
}

func TestWritePaneTable(t *testing.T) {
	var output bytes.Buffer
	writePaneTable(&output, []controlmode.PaneState{
		{ID: 1, Window: 0, Cols: 80, Rows: 24, Alive: true, PID: 4242},
		{ID: 2, Window: controlmode.NoWindow, Cols: 40, Rows: 10, Exit: controlmode.ExitStatus{Code: 1}},
	})
	lines := strings.Split(strings.TrimSpace(output.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("table has %d lines:\n%s", len(lines), output.String())
	}
	for _, want := range []string{"%1", "@0", "80x24", "4242", "running"} {
		if !strings.Contains(lines[1], want) {
			t.Errorf("row %q missing %q", lines[1], want)
		}
	}
	if !strings.Contains(lines[2], "exit 1") || !strings.Contains(lines[2], "-") {
		t.Errorf("row %q", lines[2])
	}
}

func TestDetachReader(t *testing.T) {
	detached := 0
	reader := &detachReader{
		input:    strings.NewReader("ls\r\x1dnever sent"),
		key:      defaultDetachKey,
		onDetach: func() { detached++ },
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "ls\r" {
		t.Errorf("read %q, want %q", data, "ls\r")
	}
	if detached != 1 {
		t.Errorf("onDetach called %d times", detached)
	}
}

func TestExitResult(t *testing.T) {
	if err := exitResult(controlmode.ExitStatus{}); err != nil {
		t.Errorf("exit 0 = %v", err)
	}
	var coder interface{ ExitCode() int }
	if err := exitResult(controlmode.ExitStatus{Code: 3}); !errors.As(err, &coder) || coder.ExitCode() != 3 {
		t.Errorf("exit 3 = %v", err)
	}
	err := exitResult(controlmode.ExitStatus{Code: -1, Reason: controlmode.ReasonConnectionLost})
	if err == nil || !strings.Contains(err.Error(), "connection lost") {
		t.Errorf("connection lost = %v", err)
	}
}

// fakeTerminal is a PseudoTerminal whose output the test writes and
// whose input the test reads back.
type fakeTerminal struct {
	output *io.PipeReader
	feed   *io.PipeWriter
	exited chan struct{}
	status controlmode.ExitStatus

	mutex sync.Mutex
	input bytes.Buffer
}

func newFakeTerminal() *fakeTerminal {
	reader, writer := io.Pipe()
	return &fakeTerminal{output: reader, feed: writer, exited: make(chan struct{})}
}

func (terminal *fakeTerminal) Read(buffer []byte) (int, error) { return terminal.output.Read(buffer) }

func (terminal *fakeTerminal) Write(data []byte) (int, error) {
	terminal.mutex.Lock()
	defer terminal.mutex.Unlock()
	return terminal.input.Write(data)
}

func (terminal *fakeTerminal) Close() error { return terminal.output.Close() }

func (terminal *fakeTerminal) Resize(controlmode.Size) error { return nil }

func (terminal *fakeTerminal) Size() (controlmode.Size, error) {
	return controlmode.Size{Cols: 80, Rows: 24}, nil
}

func (terminal *fakeTerminal) TryWait() (controlmode.ExitStatus, bool) {
	select {
	case <-terminal.exited:
		return terminal.status, true
	default:
		return controlmode.ExitStatus{}, false
	}
}

func (terminal *fakeTerminal) Wait(ctx context.Context) (controlmode.ExitStatus, error) {
	select {
	case <-terminal.exited:
		return terminal.status, nil
	case <-ctx.Done():
		return controlmode.ExitStatus{}, ctx.Err()
	}
}

func (terminal *fakeTerminal) Kill() error { return nil }

func (terminal *fakeTerminal) ProcessID() int { return 0 }

func (terminal *fakeTerminal) written() string {
	terminal.mutex.Lock()
	defer terminal.mutex.Unlock()
	return terminal.input.String()
}

func TestBridgeTerminalReportsExit(t *testing.T) {
	terminal := newFakeTerminal()
	inputReader, inputWriter, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer inputWriter.Close()
	defer inputReader.Close()

	var output bytes.Buffer
	type result struct {
		status   controlmode.ExitStatus
		detached bool
		err      error
	}
	results := make(chan result, 1)
	go func() {
		status, detached, err := bridgeTerminal(context.Background(), terminal, inputReader, &output, slog.New(slog.DiscardHandler), false)
		results <- result{status, detached, err}
	}()

	inputWriter.WriteString("echo hi\r")
	terminal.feed.Write([]byte("hi\r\n"))
	testutil.RequireReturns(t, 5*time.Second, func() {
		for terminal.written() != "echo hi\r" {
			time.Sleep(time.Millisecond)
		}
	}, "input forwarded")

	terminal.status = controlmode.ExitStatus{Code: 7}
	close(terminal.exited)
	terminal.feed.Close()

	got := testutil.RequireReceive(t, results, 5*time.Second, "bridgeTerminal result")
	if got.err != nil || got.detached || got.status.Code != 7 {
		t.Errorf("bridgeTerminal = %+v", got)
	}
	if output.String() != "hi\r\n" {
		t.Errorf("output = %q", output.String())
	}
}

func TestBridgeTerminalDetach(t *testing.T) {
	terminal := newFakeTerminal()
	defer terminal.feed.Close()
	inputReader, inputWriter, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer inputWriter.Close()
	defer inputReader.Close()

	results := make(chan bool, 1)
	go func() {
		_, detached, _ := bridgeTerminal(context.Background(), terminal, inputReader, io.Discard, slog.New(slog.DiscardHandler), false)
		results <- detached
	}()
	inputWriter.Write([]byte{defaultDetachKey})
	if detached := testutil.RequireReceive(t, results, 5*time.Second, "bridgeTerminal after detach key"); !detached {
		t.Error("bridgeTerminal did not report a detach")
	}
	if _, exited := terminal.TryWait(); exited {
		t.Error("detach ended the pane")
	}
}

func TestWaitForWatch(t *testing.T) {
	t.Parallel()
	fakeClock := clock.Fake(time.Unix(1700000000, 0))
	done := make(chan struct{})

	returned := make(chan struct{})
	go func() {
		defer close(returned)
		waitForWatch(context.Background(), fakeClock, 2*time.Second, done)
	}()
	fakeClock.WaitForTimers(1)
	fakeClock.Advance(time.Second)
	select {
	case <-returned:
		t.Fatal("waitForWatch returned before the watch period")
	default:
	}
	fakeClock.Advance(time.Second)
	testutil.RequireClosed(t, returned, 5*time.Second, "waitForWatch after the watch period")

	close(done)
	testutil.RequireReturns(t, 5*time.Second, func() {
		waitForWatch(context.Background(), fakeClock, time.Hour, done)
	}, "waitForWatch after the session ended")
}
