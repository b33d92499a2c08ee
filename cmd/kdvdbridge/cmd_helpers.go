package main

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/kuuji/kdvdbridge/internal/config"
	"github.com/kuuji/kdvdbridge/internal/control"
	"github.com/kuuji/kdvdbridge/pkg/protocol"
)

// resolvedConfigPath returns the config file path, using the global flag
// if set, otherwise the default per-user path.
func resolvedConfigPath() string {
	if globalConfigPath != "" {
		return globalConfigPath
	}
	p, err := config.DefaultConfigPath()
	if err != nil {
		return "config.toml"
	}
	return p
}

// loadConfig loads the TOML config from the resolved path. A missing file
// yields the defaults unless required is set.
func loadConfig(required bool) (*config.Config, error) {
	cfgPath := resolvedConfigPath()
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		if !required && errors.Is(err, fs.ErrNotExist) {
			return config.DefaultConfig(), nil
		}
		return nil, fmt.Errorf("loading config from %s: %w", cfgPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}
	return cfg, nil
}

// controlSocketPath returns the configured control socket or the
// platform default.
func controlSocketPath() string {
	if cfg, err := loadConfig(false); err == nil && cfg.Control.SocketPath != "" {
		return cfg.Control.SocketPath
	}
	return control.ResolveSocketPath()
}

func protocolVersion() string {
	return protocol.Version
}

// normalizeServerURL turns user input into a host router WebSocket URL.
// A missing scheme defaults to ws://, http(s) becomes ws(s), and an empty
// path becomes /connect.
func normalizeServerURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty URL")
	}

	if !strings.Contains(raw, "://") {
		raw = "ws://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parsing URL: %w", err)
	}

	switch u.Scheme {
	case "wss", "ws":
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported scheme %q (expected ws, wss, http, or https)", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("no host in URL %q", raw)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/connect"
	}

	return u.String(), nil
}

// hostAPIURL returns the http(s) base URL of a host router from its public
// or WebSocket URL, without a trailing slash or /connect suffix.
func hostAPIURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parsing URL: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("no host in URL %q", raw)
	}
	u.Path = strings.TrimSuffix(strings.TrimSuffix(u.Path, "/"), "/connect")
	u.RawQuery = ""
	return u.String(), nil
}

// formatDuration formats a duration into a human-readable string like "2h15m" or "45s".
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
