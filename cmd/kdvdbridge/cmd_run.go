package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kuuji/kdvdbridge/internal/bridge"
	"github.com/kuuji/kdvdbridge/internal/control"
	"github.com/kuuji/kdvdbridge/internal/transport"
)

var (
	runServerURL string
	runName      string
	runReady     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the page-side bridge",
	Long: `Start a page-side bridge connected to a host router over WebSocket.

Actions sent with 'kdvdbridge send' are forwarded to the host (or queued
while the host is unreachable), and commands pushed by the host are
logged. The control socket serves 'kdvdbridge status'.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runServerURL, "server", "", "host router WebSocket URL (overrides transport.server_url)")
	runCmd.Flags().StringVar(&runName, "name", "", "client name sent to the host (overrides transport.name)")
	runCmd.Flags().BoolVar(&runReady, "ready", false, "start the bridge in the ready state")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}

	if runServerURL != "" {
		u, err := normalizeServerURL(runServerURL)
		if err != nil {
			return fmt.Errorf("invalid --server: %w", err)
		}
		cfg.Transport.ServerURL = u
	}
	if runName != "" {
		cfg.Transport.Name = runName
	}
	if cfg.Transport.ServerURL == "" {
		return fmt.Errorf("transport.server_url is required (run 'kdvdbridge init' or pass --server)")
	}

	opts := []bridge.Option{bridge.WithQueueCapacity(cfg.Bridge.QueueCapacity)}
	if runReady || cfg.Bridge.Ready {
		opts = append(opts, bridge.WithReady())
	}
	b := bridge.New(globalLogger, opts...)

	for _, event := range b.Capabilities() {
		b.Subscribe(event, func(data any) error {
			globalLogger.Info("event", "event", event, "data", data)
			return nil
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	socketPath := cfg.Control.SocketPath
	if socketPath == "" {
		socketPath = control.ResolveSocketPath()
	}
	ctrl := control.NewServer(socketPath, b, cfg.Transport.ServerURL, globalLogger)
	if err := ctrl.Start(); err != nil {
		return fmt.Errorf("starting control server: %w", err)
	}
	defer ctrl.Stop()

	tc := cfg.Transport
	client := transport.NewClient(b, transport.ClientConfig{
		ServerURL:    tc.ServerURL,
		Name:         tc.Name,
		Logger:       globalLogger,
		DialTimeout:  tc.DialTimeout.Duration,
		WriteTimeout: tc.WriteTimeout.Duration,
		Reconnect: transport.ReconnectConfig{
			Enabled:      tc.Reconnect,
			InitialDelay: tc.InitialDelay.Duration,
			MaxDelay:     tc.MaxDelay.Duration,
			MaxAttempts:  tc.MaxAttempts,
		},
	})

	globalLogger.Info("starting kdvdbridge", "config", resolvedConfigPath(), "server", tc.ServerURL, "version", b.Version())

	if err := client.Connect(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("connecting to host router: %w", err)
	}
	defer client.Close()

	<-ctx.Done()
	globalLogger.Info("kdvdbridge stopped", "pending", len(b.Pending()))
	return nil
}
