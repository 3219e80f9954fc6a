// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tmux

import (
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/bureau-foundation/remotemux/lib/testutil"
)

// NewTestServer creates an isolated tmux server for a test. The server
// lives on a short /tmp socket, never loads ~/.tmux.conf, and is kept
// alive by a "_guard" session running "sleep infinity" until the test
// cleanup kills it. The test is skipped when tmux is not installed.
//
// Tests must only drive tmux through the returned Server. A bare
// "tmux" command targets the default server, which may be the one the
// tester is working in.
func NewTestServer(t *testing.T) *Server {
	t.Helper()

	if _, err := exec.LookPath("tmux"); err != nil {
		t.Skip("tmux not installed")
	}

	socketPath := filepath.Join(testutil.SocketDir(t), "tmux.sock")
	server := NewServer(socketPath, "/dev/null")
	if err := server.NewSession("_guard", 80, 24, "sleep", "infinity"); err != nil {
		t.Fatalf("start tmux test server: %v", err)
	}
	t.Cleanup(func() {
		server.KillServer()
	})
	return server
}
