// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// remotemux bridges the panes of a tmux session through a single
// control-mode connection. It can attach the local terminal to one
// pane, list the session's panes, or export panes over a unix socket
// for remotemux connect.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/remotemux/cmd/remotemux/cli"
	"github.com/bureau-foundation/remotemux/lib/process"
	"github.com/bureau-foundation/remotemux/lib/version"
)

func main() {
	if err := run(); err != nil {
		// Commands that mirror a pane's exit status return an error
		// carrying the code. The pane's own output already explains it.
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		process.Fatal("remotemux", err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
	defer stop()

	logger, err := cli.NewLogger(os.Stderr, "auto", slog.LevelInfo)
	if err != nil {
		return err
	}
	return rootCommand().Execute(ctx, os.Args[1:], logger)
}

func rootCommand() *cli.Command {
	return &cli.Command{
		Name: "remotemux",
		Description: `remotemux: tmux panes over one control-mode connection.

Attaches to a tmux session with "tmux -C" and exposes each pane as a
terminal stream: read its output, type into it, resize it, and see it
exit. Panes can be used locally or served over a unix socket.`,
		Subcommands: []*cli.Command{
			listCommand(),
			attachCommand(),
			serveCommand(),
			connectCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(_ context.Context, _ []string, _ *slog.Logger) error {
					fmt.Printf("remotemux %s\n", version.Full())
					return nil
				},
			},
		},
	}
}
