package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/kuuji/kdvdbridge/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a config file interactively",
	Long: `Walk through the kdvdbridge settings and write them to the config
file. Refuses to overwrite an existing file unless --force is given.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite an existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	cfgPath := resolvedConfigPath()

	cfg, err := config.LoadConfig(cfgPath)
	switch {
	case err == nil && !initForce:
		return fmt.Errorf("config already exists at %s (use --force to overwrite)", cfgPath)
	case errors.Is(err, fs.ErrNotExist):
		cfg = config.DefaultConfig()
	case err != nil && !initForce:
		return fmt.Errorf("loading config: %w", err)
	case err != nil:
		cfg = config.DefaultConfig()
	}

	serverURL := cfg.Transport.ServerURL
	if serverURL == "" {
		serverURL = "ws://" + cfg.Host.Listen + "/connect"
	}
	name := cfg.Transport.Name
	if name == "" {
		if h, err := os.Hostname(); err == nil {
			name = h
		}
	}
	capacity := strconv.Itoa(cfg.Bridge.QueueCapacity)
	listen := cfg.Host.Listen
	publicURL := cfg.Host.PublicURL
	redisURL := cfg.Redis.URL

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Host router URL").
				Description("WebSocket URL the page-side bridge connects to").
				Value(&serverURL).
				Validate(func(s string) error {
					_, err := normalizeServerURL(s)
					return err
				}),
			huh.NewInput().
				Title("Client name").
				Description("Identifies this page to the host").
				Value(&name),
			huh.NewInput().
				Title("Pending queue capacity").
				Description("Envelopes kept while the host is unreachable (0 = unbounded)").
				Value(&capacity).
				Validate(func(s string) error {
					_, err := strconv.Atoi(strings.TrimSpace(s))
					return err
				}),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Host listen address").
				Description("Where 'kdvdbridge host' accepts pages").
				Value(&listen).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("listen address is required")
					}
					return nil
				}),
			huh.NewInput().
				Title("Public URL").
				Description("How pages reach the host, shown by 'kdvdbridge qr' (optional)").
				Value(&publicURL),
			huh.NewInput().
				Title("Redis URL").
				Description("Journal routed actions to a Redis stream (optional)").
				Placeholder("redis://localhost:6379/0").
				Value(&redisURL).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return nil
					}
					_, err := redis.ParseURL(strings.TrimSpace(s))
					return err
				}),
		),
	).WithTheme(customHuhTheme())

	if err := form.Run(); err != nil {
		return fmt.Errorf("form cancelled: %w", err)
	}

	cfg.Transport.ServerURL, err = normalizeServerURL(serverURL)
	if err != nil {
		return err
	}
	cfg.Transport.Name = strings.TrimSpace(name)
	cfg.Bridge.QueueCapacity, _ = strconv.Atoi(strings.TrimSpace(capacity))
	cfg.Host.Listen = strings.TrimSpace(listen)
	cfg.Host.PublicURL = strings.TrimSpace(publicURL)
	cfg.Redis.URL = strings.TrimSpace(redisURL)
	if cfg.Redis.URL != "" {
		if cfg.Redis.Stream == "" {
			cfg.Redis.Stream = config.DefaultStream
		}
		if cfg.Redis.MaxLen <= 0 {
			cfg.Redis.MaxLen = config.DefaultStreamMaxLen
		}
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := config.SaveConfig(cfgPath, cfg); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Config written to %s\n", cfgPath)
	fmt.Fprintln(os.Stderr, "Start the host with 'kdvdbridge host' and the bridge with 'kdvdbridge run'.")
	return nil
}
