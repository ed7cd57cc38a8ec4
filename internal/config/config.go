// Package config manages application configuration from a TOML file,
// environment variables and flags, in ascending precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/pflag"
)

const envPrefix = "DIAGRAMFLOW_"

// Config holds runtime configuration for the render server and CLI.
type Config struct {
	TranscriptsDir  string        `toml:"transcripts_dir"`
	Port            int           `toml:"port"`
	RemoteRenderURL string        `toml:"remote_render_url"`
	TelemetryURL    string        `toml:"telemetry_url"`
	MermaidCLI      string        `toml:"mermaid_cli"`
	HeadlessBrowser string        `toml:"headless_browser"`
	RenderTimeout   time.Duration `toml:"render_timeout"`
	DisableEmbedded bool          `toml:"disable_embedded"`
	Verbose         bool          `toml:"verbose"`
}

// Default returns ready-to-use defaults prior to file/env/flag overrides.
func Default() Config {
	return Config{
		Port:            0, // 0 = auto-select random available port
		MermaidCLI:      "mmdc",
		HeadlessBrowser: "chromium",
		RenderTimeout:   15 * time.Second,
	}
}

// RegisterFlags attaches configuration flags to the provided FlagSet.
func RegisterFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.StringVarP(&cfg.TranscriptsDir, "transcripts", "t", cfg.TranscriptsDir, "directory of transcript markdown files to watch (optional)")
	fs.IntVarP(&cfg.Port, "port", "p", cfg.Port, "port to bind the HTTP server (0 = auto-assign)")
	fs.StringVar(&cfg.RemoteRenderURL, "remote-render", cfg.RemoteRenderURL, "base URL of the remote render service (empty = disabled)")
	fs.StringVar(&cfg.TelemetryURL, "telemetry", cfg.TelemetryURL, "URL of the telemetry collector (empty = disabled)")
	fs.StringVar(&cfg.MermaidCLI, "mermaid-cli", cfg.MermaidCLI, "mermaid CLI binary used for local mermaid rendering")
	fs.StringVar(&cfg.HeadlessBrowser, "headless-browser", cfg.HeadlessBrowser, "browser binary for the headless render tier")
	fs.DurationVar(&cfg.RenderTimeout, "render-timeout", cfg.RenderTimeout, "per-tier render timeout")
	fs.BoolVar(&cfg.DisableEmbedded, "no-embedded", cfg.DisableEmbedded, "disable the in-process D2 render tier")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "enable verbose logging (HTTP requests, pipeline steps)")
}

// LoadFile merges settings from a TOML file into cfg.
func LoadFile(path string, cfg *Config) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("load config file %s: %w", path, err)
	}
	return nil
}

// ApplyEnvOverrides reads supported environment variables and overrides cfg
// in place.
func ApplyEnvOverrides(cfg *Config) {
	applyStringEnv("TRANSCRIPTS", func(v string) { cfg.TranscriptsDir = v })
	applyIntEnv("PORT", func(v int) { cfg.Port = v })
	applyStringEnv("REMOTE_RENDER", func(v string) { cfg.RemoteRenderURL = v })
	applyStringEnv("TELEMETRY", func(v string) { cfg.TelemetryURL = v })
	applyStringEnv("MERMAID_CLI", func(v string) { cfg.MermaidCLI = v })
	applyStringEnv("HEADLESS_BROWSER", func(v string) { cfg.HeadlessBrowser = v })
	applyDurationEnv("RENDER_TIMEOUT", func(v time.Duration) { cfg.RenderTimeout = v })
	applyBoolEnv("NO_EMBEDDED", func(v bool) { cfg.DisableEmbedded = v })
	applyBoolEnv("VERBOSE", func(v bool) { cfg.Verbose = v })
}

func applyStringEnv(key string, apply func(string)) {
	if raw, ok := lookupNonEmpty(key); ok {
		apply(raw)
	}
}

func applyIntEnv(key string, apply func(int)) {
	if raw, ok := lookupNonEmpty(key); ok {
		if value, err := strconv.Atoi(raw); err == nil {
			apply(value)
		}
	}
}

func applyBoolEnv(key string, apply func(bool)) {
	if raw, ok := lookupNonEmpty(key); ok {
		if value, err := strconv.ParseBool(raw); err == nil {
			apply(value)
		}
	}
}

func applyDurationEnv(key string, apply func(time.Duration)) {
	if raw, ok := lookupNonEmpty(key); ok {
		if value, err := time.ParseDuration(raw); err == nil {
			apply(value)
		}
	}
}

func lookupNonEmpty(key string) (string, bool) {
	raw, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return "", false
	}
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", false
	}
	return value, true
}

// Finalize validates and normalizes paths.
func Finalize(cfg *Config) error {
	if cfg.TranscriptsDir != "" {
		dir, err := filepath.Abs(cfg.TranscriptsDir)
		if err != nil {
			return fmt.Errorf("resolve transcripts directory: %w", err)
		}
		cfg.TranscriptsDir = dir
	}

	// Allow port 0 for dynamic allocation, otherwise validate range
	if cfg.Port < 0 || cfg.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Port)
	}

	if cfg.RenderTimeout <= 0 {
		cfg.RenderTimeout = 15 * time.Second
	}

	return nil
}
