// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"runtime/debug"
	"strings"
	"testing"
)

func TestFromBuildInfo(t *testing.T) {
	info := &debug.BuildInfo{Settings: []debug.BuildSetting{
		{Key: "vcs.revision", Value: "0123456789abcdef0123"},
		{Key: "vcs.modified", Value: "true"},
		{Key: "vcs.time", Value: "2026-10-01T12:00:00Z"},
	}}
	build := fromBuildInfo(Build{Version: "1.2.3", Commit: "unknown"}, info)
	if build.Commit != "0123456789ab" || !build.Dirty || build.BuildTime != "2026-10-01T12:00:00Z" {
		t.Errorf("fromBuildInfo = %+v", build)
	}
	if build.Version != "1.2.3" {
		t.Errorf("Version = %q, want it kept", build.Version)
	}
}

func TestFull(t *testing.T) {
	full := Full()
	if !strings.HasPrefix(full, Version) || !strings.Contains(full, "Go: go") {
		t.Errorf("Full() = %q", full)
	}
}
