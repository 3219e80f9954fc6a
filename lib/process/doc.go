// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the binary entrypoint helpers that run before
// a structured logger exists: reporting a fatal startup error and
// exiting.
package process
