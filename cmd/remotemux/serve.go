// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/remotemux/cmd/remotemux/cli"
	"github.com/bureau-foundation/remotemux/relay"
)

func serveCommand() *cli.Command {
	var (
		options     commonOptions
		listen      string
		compression string
	)
	return &cli.Command{
		Name:    "serve",
		Summary: "Export the session's panes on a unix socket",
		Description: `Attach to a tmux session in control mode and serve its panes on a unix
socket. Each "remotemux connect" attaches to one pane; any number may
attach to the same pane. New connections receive the pane's retained
output first, then live output.

Runs until interrupted or until the tmux session ends.`,
		Usage: "remotemux serve [flags]",
		Examples: []cli.Example{
			{Description: "Serve the most recent session", Command: "remotemux serve"},
			{Description: "Serve read-only on a chosen socket", Command: "remotemux serve --read-only --listen /run/user/1000/build.sock -t build"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := newFlagSet("serve", &options)
			flagSet.StringVar(&listen, "listen", "", "relay socket path (default from config)")
			flagSet.StringVar(&compression, "compression", "", "history compression: auto, none, lz4, zstd")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, _ *slog.Logger) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			cfg, logger, err := options.load()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Relay.Listen = listen
			}
			if compression != "" {
				cfg.Relay.Compression = compression
			}
			historyCompression, err := relay.ParseCompression(cfg.Relay.Compression)
			if err != nil {
				return err
			}

			session, err := openSession(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeSession(session)

			listener, err := relay.Listen(cfg.Relay.Listen)
			if err != nil {
				return err
			}

			serveContext, cancel := context.WithCancel(ctx)
			defer cancel()
			go func() {
				select {
				case <-session.Done():
					logger.Info("tmux session ended, stopping relay", "reason", session.ExitReason())
					cancel()
				case <-serveContext.Done():
				}
			}()

			server := relay.NewServer(session,
				relay.WithLogger(logger),
				relay.WithCompression(historyCompression),
				relay.WithReadOnly(cfg.Bridge.ReadOnly),
				relay.WithSessionName(cfg.Tmux.Session),
			)
			logger.Info("serving panes",
				"listen", cfg.Relay.Listen,
				"panes", session.Registry().Len(),
				"read_only", cfg.Bridge.ReadOnly,
				"compression", string(historyCompression),
			)
			return server.Serve(serveContext, listener)
		},
	}
}
