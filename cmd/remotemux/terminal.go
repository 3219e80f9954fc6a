// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/bureau-foundation/remotemux/controlmode"
)

// defaultDetachKey is Ctrl-], the telnet escape.
const defaultDetachKey = 0x1d

// makeRaw puts file into raw mode when it is a terminal. The returned
// function restores the previous mode and is safe to call twice.
func makeRaw(file *os.File) (func(), error) {
	fd := int(file.Fd())
	if !term.IsTerminal(fd) {
		return func() {}, nil
	}
	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("set terminal raw mode: %w", err)
	}
	restored := false
	return func() {
		if !restored {
			restored = true
			term.Restore(fd, state)
		}
	}, nil
}

// terminalSize reads the window size of the terminal on file.
func terminalSize(file *os.File) (controlmode.Size, error) {
	winsize, err := unix.IoctlGetWinsize(int(file.Fd()), unix.TIOCGWINSZ)
	if err != nil {
		return controlmode.Size{}, fmt.Errorf("read terminal size: %w", err)
	}
	return controlmode.Size{Cols: int(winsize.Col), Rows: int(winsize.Row)}, nil
}

// watchResize reports the size of the terminal on file now and after
// every SIGWINCH until ctx is done. Only the latest size is kept when
// the consumer falls behind. Nothing is sent when file is not a
// terminal.
func watchResize(ctx context.Context, file *os.File, logger *slog.Logger) <-chan controlmode.Size {
	sizes := make(chan controlmode.Size, 1)
	if !term.IsTerminal(int(file.Fd())) {
		return sizes
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, unix.SIGWINCH)
	publish := func() {
		size, err := terminalSize(file)
		if err != nil {
			logger.Debug("ignoring terminal size", "error", err)
			return
		}
		select {
		case <-sizes:
		default:
		}
		sizes <- size
	}

	go func() {
		defer signal.Stop(signals)
		publish()
		for {
			select {
			case <-signals:
				publish()
			case <-ctx.Done():
				return
			}
		}
	}()
	return sizes
}

// detachReader passes input through until it sees the detach key, then
// calls onDetach and reports EOF. Bytes before the key in the same read
// are kept.
type detachReader struct {
	input    io.Reader
	key      byte
	onDetach func()
	detached bool
}

func (reader *detachReader) Read(buffer []byte) (int, error) {
	if reader.detached {
		return 0, io.EOF
	}
	n, err := reader.input.Read(buffer)
	if index := bytes.IndexByte(buffer[:n], reader.key); index >= 0 {
		reader.detached = true
		reader.onDetach()
		if index == 0 {
			return 0, io.EOF
		}
		return index, nil
	}
	return n, err
}
