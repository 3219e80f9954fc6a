// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"fmt"
	"io"
	"os"
)

// Fatal writes "<program>: error: err" to stderr and exits with code 1.
// Use it in main() for errors returned from run().
func Fatal(program string, err error) {
	report(os.Stderr, program, err)
	os.Exit(1)
}

// ExitCode extracts a process exit code from err. Errors that carry
// their own code (anything with an ExitCode() int method, such as
// *exec.ExitError) keep it; any other non-nil error maps to 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if coder, ok := err.(interface{ ExitCode() int }); ok {
		return coder.ExitCode()
	}
	return 1
}

func report(w io.Writer, program string, err error) {
	fmt.Fprintf(w, "%s: error: %v\n", program, err)
}
