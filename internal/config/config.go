// Package config loads and saves the kdvdbridge TOML configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/redis/go-redis/v9"
)

// Defaults applied by DefaultConfig and applyDefaults.
const (
	DefaultQueueCapacity = 256
	DefaultListen        = "127.0.0.1:9180"
	DefaultDedupSize     = 1024
	DefaultStream        = "kdvdbridge:actions"
	DefaultStreamMaxLen  = 10000
	DefaultDialTimeout   = 10 * time.Second
	DefaultWriteTimeout  = 5 * time.Second
	DefaultInitialDelay  = time.Second
	DefaultMaxDelay      = 30 * time.Second
)

// Config is the top-level configuration for kdvdbridge.
// It is persisted as a TOML file at DefaultConfigPath().
type Config struct {
	Bridge    BridgeConfig    `toml:"bridge"`
	Transport TransportConfig `toml:"transport"`
	Host      HostConfig      `toml:"host"`
	Redis     RedisConfig     `toml:"redis"`
	Control   ControlConfig   `toml:"control"`
}

// BridgeConfig tunes the page-side message bridge.
type BridgeConfig struct {
	// QueueCapacity bounds the pending queue. Zero or negative means
	// unbounded; the oldest envelope is dropped when a bounded queue is full.
	QueueCapacity int `toml:"queue_capacity"`

	// Ready starts the bridge in the ready state instead of waiting for the
	// page to signal readiness.
	Ready bool `toml:"ready"`
}

// TransportConfig describes how the bridge reaches the host.
type TransportConfig struct {
	// ServerURL is the WebSocket URL of the host router
	// (e.g. "ws://127.0.0.1:9180/connect").
	ServerURL string `toml:"server_url"`

	// Name identifies this page to the host.
	Name string `toml:"name,omitempty"`

	DialTimeout  Duration `toml:"dial_timeout"`
	WriteTimeout Duration `toml:"write_timeout"`

	// Reconnect enables automatic reconnection with exponential backoff.
	Reconnect    bool     `toml:"reconnect"`
	InitialDelay Duration `toml:"initial_delay"`
	MaxDelay     Duration `toml:"max_delay"`

	// MaxAttempts limits consecutive reconnection attempts. Zero means
	// unlimited.
	MaxAttempts int `toml:"max_attempts,omitempty"`
}

// HostConfig configures the host router server.
type HostConfig struct {
	// Listen is the address the host server binds to.
	Listen string `toml:"listen"`

	// PublicURL is the base URL pages use to reach the host, shown by
	// `kdvdbridge qr`. Defaults to http://<listen>.
	PublicURL string `toml:"public_url,omitempty"`

	// DedupSize is how many recent envelopes are remembered to drop
	// duplicates. Zero disables duplicate suppression.
	DedupSize int `toml:"dedup_size"`
}

// RedisConfig enables the action journal. Leave URL empty to disable it.
type RedisConfig struct {
	URL    string `toml:"url,omitempty"`
	Stream string `toml:"stream,omitempty"`
	MaxLen int64  `toml:"max_len,omitempty"`
}

// ControlConfig configures the local control socket.
type ControlConfig struct {
	// SocketPath overrides the control socket location.
	SocketPath string `toml:"socket_path,omitempty"`
}

// Duration is a time.Duration that encodes as a string such as "1m30s".
type Duration struct {
	time.Duration
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// DefaultConfig returns a Config populated with defaults. The transport
// server URL is left empty and must be filled in by the user or by
// `kdvdbridge init`.
func DefaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			QueueCapacity: DefaultQueueCapacity,
		},
		Transport: TransportConfig{
			DialTimeout:  Duration{DefaultDialTimeout},
			WriteTimeout: Duration{DefaultWriteTimeout},
			Reconnect:    true,
			InitialDelay: Duration{DefaultInitialDelay},
			MaxDelay:     Duration{DefaultMaxDelay},
		},
		Host: HostConfig{
			Listen:    DefaultListen,
			DedupSize: DefaultDedupSize,
		},
	}
}

// DefaultConfigPath returns the default path for the config file.
// It respects $XDG_CONFIG_HOME if set, otherwise falls back to ~/.config.
func DefaultConfigPath() (string, error) {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("determining home directory: %w", err)
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "kdvdbridge", "config.toml"), nil
}

// LoadConfig reads and decodes a TOML config file from the given path.
// If the file does not exist, it returns an error wrapping fs.ErrNotExist.
// After loading, defaults are applied for any unset optional fields.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config file not found: %w", err)
		}
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

// ParseTOML decodes a config from TOML text, applying defaults. Unknown keys
// are rejected.
func ParseTOML(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown config keys: %v", undecoded)
	}
	applyDefaults(cfg)
	return cfg, nil
}

// MarshalTOML encodes cfg as TOML text.
func MarshalTOML(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	return buf.Bytes(), nil
}

// SaveConfig encodes the config as TOML and writes it to the given path.
// Parent directories are created if they don't exist. The file is written
// with mode 0600 since it may hold the Redis password.
func SaveConfig(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	data, err := MarshalTOML(cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config file %s: %w", path, err)
	}
	return nil
}

// Validate reports every invalid field.
func (c *Config) Validate() error {
	var errs []error

	if c.Transport.ServerURL != "" {
		u, err := url.Parse(c.Transport.ServerURL)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("transport.server_url: %w", err))
		case u.Scheme != "ws" && u.Scheme != "wss":
			errs = append(errs, fmt.Errorf("transport.server_url: scheme must be ws or wss, got %q", u.Scheme))
		case u.Host == "":
			errs = append(errs, errors.New("transport.server_url: missing host"))
		}
	}
	if c.Transport.MaxAttempts < 0 {
		errs = append(errs, errors.New("transport.max_attempts must not be negative"))
	}
	if c.Transport.MaxDelay.Duration < c.Transport.InitialDelay.Duration {
		errs = append(errs, errors.New("transport.max_delay must not be shorter than transport.initial_delay"))
	}
	if c.Host.Listen == "" {
		errs = append(errs, errors.New("host.listen is required"))
	}
	if c.Host.DedupSize < 0 {
		errs = append(errs, errors.New("host.dedup_size must not be negative"))
	}
	if c.Redis.URL != "" {
		if _, err := redis.ParseURL(c.Redis.URL); err != nil {
			errs = append(errs, fmt.Errorf("redis.url: %w", err))
		}
	}

	return errors.Join(errs...)
}

// HostPublicURL returns Host.PublicURL, or an http URL built from
// Host.Listen when unset.
func (c *Config) HostPublicURL() string {
	if c.Host.PublicURL != "" {
		return c.Host.PublicURL
	}
	return "http://" + c.Host.Listen
}

// applyDefaults fills in default values for optional fields that are
// zero-valued after TOML decoding.
func applyDefaults(cfg *Config) {
	if cfg.Transport.DialTimeout.Duration <= 0 {
		cfg.Transport.DialTimeout.Duration = DefaultDialTimeout
	}
	if cfg.Transport.WriteTimeout.Duration <= 0 {
		cfg.Transport.WriteTimeout.Duration = DefaultWriteTimeout
	}
	if cfg.Transport.InitialDelay.Duration <= 0 {
		cfg.Transport.InitialDelay.Duration = DefaultInitialDelay
	}
	if cfg.Transport.MaxDelay.Duration <= 0 {
		cfg.Transport.MaxDelay.Duration = DefaultMaxDelay
	}
	if cfg.Host.Listen == "" {
		cfg.Host.Listen = DefaultListen
	}
	if cfg.Redis.URL != "" {
		if cfg.Redis.Stream == "" {
			cfg.Redis.Stream = DefaultStream
		}
		if cfg.Redis.MaxLen <= 0 {
			cfg.Redis.MaxLen = DefaultStreamMaxLen
		}
	}
}
