// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for remotemux binaries.
//
// Four package-level variables may be injected at build time with
// -ldflags -X:
//
//   - [GitCommit] -- short git SHA of the build
//   - [GitDirty] -- "true" if there were uncommitted changes
//   - [BuildTime] -- UTC timestamp of the build
//   - [Version] -- semantic version string (set manually for releases)
//
// Without them, [Current] falls back to the VCS stamp that go build
// embeds from a git checkout.
//
//	go build -ldflags "-X github.com/bureau-foundation/remotemux/lib/version.Version=0.2.0" ./cmd/remotemux
package version
