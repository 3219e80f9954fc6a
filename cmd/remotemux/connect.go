// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/remotemux/cmd/remotemux/cli"
	"github.com/bureau-foundation/remotemux/controlmode"
	"github.com/bureau-foundation/remotemux/relay"
)

func connectCommand() *cli.Command {
	var (
		options commonOptions
		socket  string
	)
	return &cli.Command{
		Name:    "connect",
		Summary: "Attach this terminal to a pane served by remotemux serve",
		Description: `Connect to a relay socket and attach the local terminal to one of its
panes. The pane's retained output is replayed first, then output is
streamed live. The command exits with the pane's exit status.

Press Ctrl-] to detach.`,
		Usage: "remotemux connect [flags] <pane>",
		Examples: []cli.Example{
			{Description: "Attach to pane %1 on the default socket", Command: "remotemux connect %1"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := newFlagSet("connect", &options)
			flagSet.StringVar(&socket, "listen", "", "relay socket path (default from config)")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, _ *slog.Logger) error {
			if len(args) != 1 {
				return errors.New("exactly one pane argument required\n\nUsage: remotemux connect [flags] <pane>")
			}
			cfg, logger, err := options.load()
			if err != nil {
				return err
			}
			if socket != "" {
				cfg.Relay.Listen = socket
			}

			client, err := relay.Dial(cfg.Relay.Listen, relay.AttachRequest{Pane: args[0], ReadOnly: cfg.Bridge.ReadOnly})
			if err != nil {
				return err
			}
			defer client.Close()
			logger.Debug("attached through relay",
				"pane_id", client.Metadata.Pane,
				"history_bytes", len(client.History),
				"history_compression", client.HistoryCompression.String(),
			)

			restore, err := makeRaw(os.Stdin)
			if err != nil {
				return err
			}
			defer restore()

			if _, err := os.Stdout.Write(client.History); err != nil {
				return fmt.Errorf("writing pane history: %w", err)
			}

			runContext, cancel := context.WithCancel(ctx)
			defer cancel()
			input := &detachReader{input: os.Stdin, key: defaultDetachKey, onDetach: cancel}
			var resizes <-chan controlmode.Size
			if !client.Metadata.ReadOnly {
				resizes = watchResize(runContext, os.Stdin, logger)
			}
			exit, err := client.Run(runContext, input, os.Stdout, resizes)
			restore()

			if errors.Is(err, context.Canceled) && ctx.Err() == nil {
				fmt.Fprintf(os.Stderr, "\r\n[detached from %s]\r\n", client.Metadata.Pane)
				return nil
			}
			if err != nil {
				return err
			}
			status := controlmode.ExitStatus{Code: exit.Code, Reason: exit.Reason}
			fmt.Fprintf(os.Stderr, "\r\n[%s %s]\r\n", client.Metadata.Pane, status)
			return exitResult(status)
		},
	}
}
