// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package tmux provides a typed handle on a tmux server.
//
// Server identifies a server by its socket path and prepends -S to
// every command it builds, so a caller cannot accidentally mix two
// servers in one bridge. An empty socket path means the invoking
// user's default server.
//
// The bridge itself never shells out per operation: it speaks control
// mode over the single connection returned by [Server.AttachControl].
// The remaining methods exist for session setup, teardown and tests.
package tmux

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Server represents a tmux server identified by its socket path.
type Server struct {
	socketPath string
	configFile string // passed as "-f <path>" on new-session; empty = tmux default
}

// NewServer returns a Server for socketPath. configFile is passed as
// -f on new-session, which is the only command that may start the
// server and therefore the only one that reads a config file. Pass
// "/dev/null" to keep ~/.tmux.conf out of servers remotemux starts.
func NewServer(socketPath, configFile string) *Server {
	return &Server{
		socketPath: socketPath,
		configFile: configFile,
	}
}

// SocketPath returns the socket path, or "" for the default server.
func (s *Server) SocketPath() string {
	return s.socketPath
}

// args prepends the socket selector to a subcommand.
func (s *Server) args(subcommand ...string) []string {
	if s.socketPath == "" {
		return subcommand
	}
	return append([]string{"-S", s.socketPath}, subcommand...)
}

// NewSession creates a detached session of cols x rows. If command is
// non-empty the session runs it instead of the default shell.
func (s *Server) NewSession(sessionName string, cols, rows int, command ...string) error {
	var args []string
	if s.configFile != "" {
		args = append(args, "-f", s.configFile)
	}
	args = append(args, s.args("new-session", "-d", "-s", sessionName,
		"-x", strconv.Itoa(cols), "-y", strconv.Itoa(rows))...)
	args = append(args, command...)
	cmd := exec.Command("tmux", args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("tmux new-session %q: %w (%s)",
			sessionName, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// HasSession reports whether sessionName exists. Returns false if the
// server is not running.
func (s *Server) HasSession(sessionName string) bool {
	return exec.Command("tmux", s.args("has-session", "-t", sessionName)...).Run() == nil
}

// KillServer terminates the server. A server that is already gone is
// not an error.
func (s *Server) KillServer() error {
	output, err := exec.Command("tmux", s.args("kill-server")...).CombinedOutput()
	if err != nil {
		outputString := strings.TrimSpace(string(output))
		// The socket can linger briefly after the server exits, which
		// produces "server exited unexpectedly" instead of "no server".
		if strings.Contains(outputString, "no server running") ||
			strings.Contains(outputString, "server exited unexpectedly") ||
			strings.Contains(outputString, "error connecting") {
			return nil
		}
		return fmt.Errorf("tmux kill-server: %w (%s)", err, outputString)
	}
	return nil
}

// Run executes a tmux subcommand and returns its combined output.
//
//	output, err := server.Run("list-panes", "-t", session, "-F", "#{pane_id}")
func (s *Server) Run(args ...string) (string, error) {
	output, err := exec.Command("tmux", s.args(args...)...).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("tmux %s: %w (%s)",
			strings.Join(args, " "), err, strings.TrimSpace(string(output)))
	}
	return string(output), nil
}

// CommandContext returns an unstarted *exec.Cmd for a tmux subcommand.
// The process receives SIGKILL when ctx is cancelled.
func (s *Server) CommandContext(ctx context.Context, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, "tmux", s.args(args...)...)
}
