// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tmux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
)

// ControlConn is the byte connection of a tmux control-mode client
// (tmux -C). Reads return the notification stream from the client's
// stdout; writes go to its stdin as commands.
type ControlConn struct {
	stdout io.ReadCloser
	stdin  io.WriteCloser
	cmd    *exec.Cmd
	cancel context.CancelFunc

	closeOnce sync.Once
	waitErr   error
}

// AttachControl starts "tmux -C attach-session" against sessionName (or
// the most recent session when it is empty) and returns its connection.
//
// Control clients do not take part in window size negotiation until
// they send refresh-client -C, so attaching one does not shrink the
// panes real clients see.
func (s *Server) AttachControl(ctx context.Context, sessionName string) (*ControlConn, error) {
	processContext, cancel := context.WithCancel(ctx)

	args := []string{"-C", "attach-session"}
	if sessionName != "" {
		args = append(args, "-t", sessionName)
	}
	cmd := s.CommandContext(processContext, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start tmux control mode: %w", err)
	}

	return &ControlConn{
		stdout: stdout,
		stdin:  stdin,
		cmd:    cmd,
		cancel: cancel,
	}, nil
}

// Read reads from the control client's stdout.
func (c *ControlConn) Read(p []byte) (int, error) { return c.stdout.Read(p) }

// Write writes to the control client's stdin.
func (c *ControlConn) Write(p []byte) (int, error) { return c.stdin.Write(p) }

// Close detaches the control client and reaps the process. Closing
// stdin makes tmux detach the client; the context cancel is the
// backstop for a client that does not exit.
func (c *ControlConn) Close() error {
	c.closeOnce.Do(func() {
		c.stdin.Close()
		c.cancel()
		err := c.cmd.Wait()
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			c.waitErr = fmt.Errorf("wait for tmux control client: %w", err)
		}
	})
	return c.waitErr
}

// PID returns the process id of the local tmux control client.
func (c *ControlConn) PID() int {
	if c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}
