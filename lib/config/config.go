// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the variable [Load] reads the config path from.
const EnvironmentVariable = "REMOTEMUX_CONFIG"

// Config is the complete remotemux configuration.
type Config struct {
	// Tmux selects the remote tmux server and session.
	Tmux TmuxConfig `yaml:"tmux"`

	// Bridge tunes the control-mode bridge.
	Bridge BridgeConfig `yaml:"bridge"`

	// Relay configures the pane relay socket used by serve and connect.
	Relay RelayConfig `yaml:"relay"`

	// Log configures structured logging.
	Log LogConfig `yaml:"log"`
}

// TmuxConfig selects the tmux server and session to attach to.
type TmuxConfig struct {
	// Socket is the tmux server socket path (tmux -S). Empty targets
	// the invoking user's default server.
	Socket string `yaml:"socket"`

	// Session is the session the control client attaches to. Empty
	// attaches to the most recently used session.
	Session string `yaml:"session"`

	// ConfigFile is passed as tmux -f when remotemux starts a server.
	// Default: /dev/null, so the user's ~/.tmux.conf is never loaded
	// into a server remotemux created.
	ConfigFile string `yaml:"config_file"`
}

// BridgeConfig tunes the control-mode bridge.
type BridgeConfig struct {
	// ReadOnly rejects writes to bridged panes with an error instead
	// of sending keys to the remote pane.
	ReadOnly bool `yaml:"read_only"`

	// HistoryBytes is the per-pane output history kept for replay.
	// Zero disables history. Default: 1 MiB.
	HistoryBytes int `yaml:"history_bytes"`

	// MaxLineBytes bounds one control-mode protocol line. A longer
	// line is a fatal connection error. Default: 16 MiB.
	MaxLineBytes int `yaml:"max_line_bytes"`

	// SendKeysChunk is the most input bytes carried by one send-keys
	// command. Default: 512.
	SendKeysChunk int `yaml:"send_keys_chunk"`
}

// RelayConfig configures the relay socket.
type RelayConfig struct {
	// Listen is the Unix socket path serve listens on and connect
	// dials. Default: ${XDG_RUNTIME_DIR:-/tmp}/remotemux.sock
	Listen string `yaml:"listen"`

	// Compression is the history compression policy: "auto", "zstd",
	// "lz4" or "none". Default: auto.
	Compression string `yaml:"compression"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error. Default: info.
	Level string `yaml:"level"`

	// Format is "text", "json" or "auto" (text on a terminal, JSON
	// otherwise). Default: auto.
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Tmux: TmuxConfig{
			ConfigFile: "/dev/null",
		},
		Bridge: BridgeConfig{
			HistoryBytes:  1024 * 1024,
			MaxLineBytes:  16 * 1024 * 1024,
			SendKeysChunk: 512,
		},
		Relay: RelayConfig{
			Listen:      "${XDG_RUNTIME_DIR:-/tmp}/remotemux.sock",
			Compression: "auto",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load loads the file named by REMOTEMUX_CONFIG, or returns the expanded
// defaults when the variable is unset.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		cfg := Default()
		cfg.expandVariables()
		return cfg, nil
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path on top of [Default].
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		// JSON is a subset of YAML flow syntax, so once comments and
		// trailing commas are stripped the YAML decoder reads it with
		// the same struct tags.
		data = jsonc.ToJSON(data)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) expandVariables() {
	c.Tmux.Socket = expandVars(c.Tmux.Socket)
	c.Tmux.ConfigFile = expandVars(c.Tmux.ConfigFile)
	c.Relay.Listen = expandVars(c.Relay.Listen)
}

// varPattern matches ${VAR} and ${VAR:-default}.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		if len(parts) >= 3 {
			return parts[2]
		}
		return ""
	})
}

// Validate checks the configuration for impossible values.
func (c *Config) Validate() error {
	var errs []error

	if c.Bridge.HistoryBytes < 0 {
		errs = append(errs, fmt.Errorf("bridge.history_bytes must not be negative"))
	}
	if c.Bridge.MaxLineBytes < 4096 {
		errs = append(errs, fmt.Errorf("bridge.max_line_bytes must be at least 4096, got %d", c.Bridge.MaxLineBytes))
	}
	if c.Bridge.SendKeysChunk <= 0 {
		errs = append(errs, fmt.Errorf("bridge.send_keys_chunk must be positive"))
	}
	if c.Relay.Listen == "" {
		errs = append(errs, fmt.Errorf("relay.listen is required"))
	}

	compressionValues := []string{"auto", "zstd", "lz4", "none"}
	if !contains(compressionValues, c.Relay.Compression) {
		errs = append(errs, fmt.Errorf("relay.compression must be one of: %v", compressionValues))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	formatValues := []string{"auto", "text", "json"}
	if !contains(formatValues, c.Log.Format) {
		errs = append(errs, fmt.Errorf("log.format must be one of: %v", formatValues))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// SlogLevel converts Level to a slog.Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level %q: must be one of debug, info, warn, error", l.Level)
	}
	return level, nil
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
