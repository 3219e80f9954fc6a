// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads remotemux configuration.
//
// Configuration comes from a single file named by the --config flag
// (via [LoadFile]) or the REMOTEMUX_CONFIG environment variable (via
// [Load]). There is no search path. When neither is given the command
// runs on [Default] values, and flags override whatever was loaded.
//
// Files ending in .json or .jsonc are read as JSON with comments and
// trailing commas allowed; every other file is YAML.
//
// String fields that name paths are expanded after loading: ${HOME},
// ${XDG_RUNTIME_DIR} and ${VAR:-default} patterns resolve against the
// environment. No other environment variable overrides a config value.
//
// This package depends on no other remotemux packages.
package config
