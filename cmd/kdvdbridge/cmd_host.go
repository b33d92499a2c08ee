package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/kuuji/kdvdbridge/internal/hostrouter"
)

var hostListen string

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Run the host router",
	Long: `Run the host side of the bridge: pages connect over WebSocket at
/connect, their actions are routed to handlers (and journaled to Redis when
redis.url is set), and commands posted to /commands are pushed to every
connected page.`,
	RunE: runHost,
}

func init() {
	hostCmd.Flags().StringVar(&hostListen, "listen", "", "address to listen on (overrides host.listen)")
}

func runHost(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	if hostListen != "" {
		cfg.Host.Listen = hostListen
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := []hostrouter.Option{hostrouter.WithDedupSize(cfg.Host.DedupSize)}
	if cfg.Redis.URL != "" {
		redisOpts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("parsing redis.url: %w", err)
		}
		rdb := redis.NewClient(redisOpts)
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}

		opts = append(opts, hostrouter.WithJournal(hostrouter.NewRedisJournal(rdb, cfg.Redis.Stream, cfg.Redis.MaxLen)))
		globalLogger.Info("action journal enabled", "stream", cfg.Redis.Stream, "max_len", cfg.Redis.MaxLen)
	}

	router := hostrouter.NewRouter(globalLogger, opts...)
	router.RegisterDefaultHandlers()

	srv := hostrouter.NewServer(router, globalLogger)
	defer srv.Close()

	httpServer := &http.Server{
		Addr:              cfg.Host.Listen,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		globalLogger.Info("host router listening", "addr", cfg.Host.Listen, "public_url", cfg.HostPublicURL())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("host router: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		globalLogger.Warn("host router shutdown", "error", err)
	}
	globalLogger.Info("host router stopped")
	return nil
}
