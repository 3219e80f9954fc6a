// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/remotemux/cmd/remotemux/cli"
	"github.com/bureau-foundation/remotemux/controlmode"
	"github.com/bureau-foundation/remotemux/lib/clock"
)

func listCommand() *cli.Command {
	var (
		options     commonOptions
		diagnostics bool
		watch       time.Duration
	)
	return &cli.Command{
		Name:    "list",
		Summary: "List the panes of a tmux session",
		Description: `List every pane the control-mode connection knows about, with its
window, size, pane process and exit status.`,
		Usage: "remotemux list [flags]",
		Examples: []cli.Example{
			{Description: "Panes of the most recent session", Command: "remotemux list"},
			{Description: "Panes of a session on another server", Command: "remotemux list -S /tmp/work.sock -t build"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := newFlagSet("list", &options)
			flagSet.BoolVar(&diagnostics, "diagnostics", false, "also print dropped-notification diagnostics")
			flagSet.DurationVar(&watch, "watch", 0, "keep the connection open this long before listing, to collect diagnostics")
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
			session, err := openSession(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeSession(session)

			waitForWatch(ctx, clock.Real(), watch, session.Done())

			writePaneTable(os.Stdout, session.Panes())
			if diagnostics {
				writeDiagnostics(os.Stdout, session.Registry().Diagnostics())
			}
			return nil
		},
	}
}

// waitForWatch keeps the session open for watch, or until it ends or
// ctx is cancelled.
func waitForWatch(ctx context.Context, clk clock.Clock, watch time.Duration, done <-chan struct{}) {
	if watch <= 0 {
		return
	}
	select {
	case <-clk.After(watch):
	case <-done:
	case <-ctx.Done():
	}
}

func writePaneTable(w io.Writer, panes []controlmode.PaneState) {
	tw := tabwriter.NewWriter(w, 2, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PANE\tWINDOW\tSIZE\tPID\tSTATUS")
	for _, pane := range panes {
		window := "-"
		if pane.Window != controlmode.NoWindow {
			window = pane.Window.String()
		}
		pid := "-"
		if pane.PID > 0 {
			pid = fmt.Sprint(pane.PID)
		}
		status := "running"
		if !pane.Alive {
			status = pane.Exit.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%dx%d\t%s\t%s\n", pane.ID, window, pane.Cols, pane.Rows, pid, status)
	}
	tw.Flush()
}

func writeDiagnostics(w io.Writer, diagnostics []controlmode.Diagnostic) {
	if len(diagnostics) == 0 {
		fmt.Fprintln(w, "\nno diagnostics")
		return
	}
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 2, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tKIND\tPANE\tDETAIL")
	for _, diagnostic := range diagnostics {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			diagnostic.Time.Format(time.TimeOnly), diagnostic.Kind, diagnostic.Pane, diagnostic.Detail)
	}
	tw.Flush()
}
