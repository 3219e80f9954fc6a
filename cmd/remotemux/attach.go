// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/remotemux/cmd/remotemux/cli"
	"github.com/bureau-foundation/remotemux/controlmode"
)

func attachCommand() *cli.Command {
	var (
		options      commonOptions
		resizeRemote bool
	)
	return &cli.Command{
		Name:    "attach",
		Summary: "Attach this terminal to one remote pane",
		Description: `Connect the local terminal to a single pane of a tmux session through
control mode. Keystrokes are sent to the pane and its output is written
to this terminal. The command exits with the pane's exit status.

Press Ctrl-] to detach without touching the pane.`,
		Usage: "remotemux attach [flags] <pane>",
		Examples: []cli.Example{
			{Description: "Attach to pane %3", Command: "remotemux attach %3"},
			{Description: "Watch a pane without sending input", Command: "remotemux attach --read-only %3"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := newFlagSet("attach", &options)
			flagSet.BoolVar(&resizeRemote, "resize", true, "resize the remote pane to match this terminal")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, _ *slog.Logger) error {
			if len(args) != 1 {
				return errors.New("exactly one pane argument required\n\nUsage: remotemux attach [flags] <pane>")
			}
			id, err := controlmode.ParsePaneID(args[0])
			if err != nil {
				return err
			}
			cfg, logger, err := options.load()
			if err != nil {
				return err
			}
			session, err := openSession(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeSession(session)

			pane, err := session.Pane(id)
			if err != nil {
				return fmt.Errorf("%w (run 'remotemux list' to see panes)", err)
			}
			defer pane.Close()

			restore, err := makeRaw(os.Stdin)
			if err != nil {
				return err
			}
			defer restore()

			status, detached, err := bridgeTerminal(ctx, pane, os.Stdin, os.Stdout, logger, resizeRemote && !cfg.Bridge.ReadOnly)
			restore()
			if err != nil {
				return err
			}
			if detached {
				fmt.Fprintf(os.Stderr, "\r\n[detached from %s]\r\n", id)
				return nil
			}
			fmt.Fprintf(os.Stderr, "\r\n[%s %s]\r\n", id, status)
			return exitResult(status)
		},
	}
}

// bridgeTerminal copies pane output to output and input to the pane
// until the pane exits, the session ends, or the detach key is read.
// The second result reports a detach.
func bridgeTerminal(ctx context.Context, pane controlmode.PseudoTerminal, input *os.File, output io.Writer, logger *slog.Logger, resize bool) (controlmode.ExitStatus, bool, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	outputDone := make(chan error, 1)
	go func() {
		_, err := io.Copy(output, pane)
		outputDone <- err
	}()

	detachKey := make(chan struct{})
	go func() {
		reader := &detachReader{input: input, key: defaultDetachKey, onDetach: func() { close(detachKey) }}
		if _, err := io.Copy(pane, reader); err != nil && !errors.Is(err, controlmode.ErrPaneExited) {
			logger.Warn("forwarding input stopped", "error", err)
		}
	}()

	if resize {
		sizes := watchResize(ctx, input, logger)
		go func() {
			for {
				select {
				case size := <-sizes:
					if err := pane.Resize(size); err != nil {
						logger.Debug("resize failed", "error", err)
					}
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	wait := make(chan struct{})
	var waitStatus controlmode.ExitStatus
	var waitErr error
	go func() {
		defer close(wait)
		waitStatus, waitErr = pane.Wait(ctx)
	}()

	select {
	case <-wait:
		if waitErr != nil {
			return controlmode.ExitStatus{}, false, waitErr
		}
		// The pane's queue closes when it exits; let the last output
		// reach the terminal before reporting.
		if err := <-outputDone; err != nil {
			return waitStatus, false, fmt.Errorf("writing pane output: %w", err)
		}
		return waitStatus, false, nil
	case <-detachKey:
		return controlmode.ExitStatus{}, true, nil
	case <-ctx.Done():
		return controlmode.ExitStatus{}, false, ctx.Err()
	}
}
