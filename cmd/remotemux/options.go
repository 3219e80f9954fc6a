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
	"github.com/bureau-foundation/remotemux/lib/config"
	"github.com/bureau-foundation/remotemux/lib/tmux"
)

// commonOptions are the flags every command shares. Flags that were
// set explicitly override the configuration file.
type commonOptions struct {
	flagSet *pflag.FlagSet

	configPath string
	socket     string
	session    string
	readOnly   bool
	logLevel   string
	logFormat  string
}

func newFlagSet(name string, options *commonOptions) *pflag.FlagSet {
	flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
	options.flagSet = flagSet
	flagSet.StringVar(&options.configPath, "config", "", "configuration file (YAML or JSONC; default $"+config.EnvironmentVariable+")")
	flagSet.StringVarP(&options.socket, "socket", "S", "", "tmux server socket path")
	flagSet.StringVarP(&options.session, "target", "t", "", "tmux session to attach to (default: most recent)")
	flagSet.BoolVar(&options.readOnly, "read-only", false, "never send input or resize to tmux")
	flagSet.StringVar(&options.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flagSet.StringVar(&options.logFormat, "log-format", "", "log format: auto, text, json")
	return flagSet
}

// load reads the configuration, applies flag overrides, and builds the
// command logger.
func (options *commonOptions) load() (*config.Config, *slog.Logger, error) {
	var cfg *config.Config
	var err error
	if options.configPath != "" {
		cfg, err = config.LoadFile(options.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, nil, err
	}
	options.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	level, _ := cfg.Log.SlogLevel()
	logger, err := cli.NewLogger(os.Stderr, cfg.Log.Format, level)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func (options *commonOptions) apply(cfg *config.Config) {
	changed := func(name string) bool {
		return options.flagSet != nil && options.flagSet.Changed(name)
	}
	if changed("socket") {
		cfg.Tmux.Socket = options.socket
	}
	if changed("target") {
		cfg.Tmux.Session = options.session
	}
	if changed("read-only") {
		cfg.Bridge.ReadOnly = options.readOnly
	}
	if changed("log-level") {
		cfg.Log.Level = options.logLevel
	}
	if changed("log-format") {
		cfg.Log.Format = options.logFormat
	}
}

// openSession attaches a control client to the configured session and
// runs its loop in the background. It returns once the attach reply
// has arrived and the pane list has been seeded.
func openSession(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*controlmode.Session, error) {
	server := tmux.NewServer(cfg.Tmux.Socket, cfg.Tmux.ConfigFile)
	connection, err := server.AttachControl(ctx, cfg.Tmux.Session)
	if err != nil {
		return nil, err
	}
	logger = logger.With("tmux_socket", server.SocketPath(), "tmux_session", cfg.Tmux.Session)

	session := controlmode.NewSession(connection,
		controlmode.WithLogger(logger),
		controlmode.WithReadOnly(cfg.Bridge.ReadOnly),
		controlmode.WithHistorySize(cfg.Bridge.HistoryBytes),
		controlmode.WithMaxLineBytes(cfg.Bridge.MaxLineBytes),
		controlmode.WithSendKeysChunk(cfg.Bridge.SendKeysChunk),
	)
	go func() {
		if err := session.Run(ctx); err != nil {
			logger.Error("control-mode session failed", "error", err)
		}
	}()

	select {
	case <-session.Ready():
	case <-ctx.Done():
		session.Close()
		return nil, ctx.Err()
	}
	select {
	case <-session.Done():
		return nil, sessionEnded(session)
	default:
	}

	// Replies arrive in command order, so once this one is back the
	// list-panes seed sent after attach has been applied.
	if _, err := session.Exec(ctx, controlmode.Raw{Text: "display-message -p ready"}); err != nil {
		session.Close()
		<-session.Done()
		if errors.Is(err, controlmode.ErrConnectionClosed) {
			return nil, sessionEnded(session)
		}
		return nil, fmt.Errorf("waiting for pane list: %w", err)
	}
	logger.Debug("control-mode session ready", "panes", session.Registry().Len())
	return session, nil
}

func sessionEnded(session *controlmode.Session) error {
	if err := session.Err(); err != nil {
		return fmt.Errorf("tmux control client failed: %w", err)
	}
	return fmt.Errorf("tmux control client exited: %s", session.ExitReason())
}

// closeSession detaches the control client and waits for the loop.
func closeSession(session *controlmode.Session) {
	session.Close()
	<-session.Done()
}

// exitError carries a pane's exit code out of main.
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("pane exited with status %d", e.code) }

func (e *exitError) ExitCode() int { return e.code }

// exitResult turns a pane exit into the command's result.
func exitResult(status controlmode.ExitStatus) error {
	switch {
	case status.Code == 0:
		return nil
	case status.Code > 0:
		return &exitError{code: status.Code}
	default:
		return errors.New(status.String())
	}
}
