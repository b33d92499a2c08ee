package transport

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// ClientHeader carries ClientConfig.Name on the WebSocket handshake.
const ClientHeader = "X-Kdvdbridge-Client"

// ClientConfig holds configuration for a WebSocket Client.
type ClientConfig struct {
	// ServerURL is the WebSocket URL of the host router
	// (e.g. "ws://localhost:9180/connect").
	ServerURL string

	// Name identifies this page to the host. Sent in the ClientHeader
	// handshake header when non-empty.
	Name string

	// Logger is the structured logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger

	// DialTimeout bounds each dial attempt. Defaults to 10s if zero.
	DialTimeout time.Duration

	// WriteTimeout bounds each envelope write. Defaults to 5s if zero.
	WriteTimeout time.Duration

	// Reconnect controls automatic reconnection behavior.
	Reconnect ReconnectConfig
}

// ReconnectConfig controls the reconnection backoff strategy.
type ReconnectConfig struct {
	// Enabled controls whether automatic reconnection is attempted.
	Enabled bool

	// InitialDelay is the delay before the first reconnection attempt.
	// Defaults to 1s.
	InitialDelay time.Duration

	// MaxDelay caps the delay between attempts. Defaults to 30s.
	MaxDelay time.Duration

	// MaxAttempts is the maximum number of consecutive reconnection attempts.
	// Zero means unlimited.
	MaxAttempts int
}

// Client is a WebSocket transport. While connected it is the bridge's
// outbound channel; every text frame read from the host is handed to
// Endpoint.Receive.
type Client struct {
	cfg    ClientConfig
	bridge Endpoint
	log    *slog.Logger
	done   chan struct{}
	cancel context.CancelFunc

	mu       sync.Mutex
	conn     *websocket.Conn
	reconnCh chan struct{} // skips the backoff of the next reconnect
}

// NewClient creates a Client for b. Call Connect to start it.
func NewClient(b Endpoint, cfg ClientConfig) *Client {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Client{
		cfg:      cfg,
		bridge:   b,
		log:      log.With("component", "transport", "url", cfg.ServerURL),
		done:     make(chan struct{}),
		reconnCh: make(chan struct{}, 1),
	}
}

// Connect dials the host, attaches the client to the bridge and starts the
// receive loop. It blocks until the first dial succeeds or fails. With
// reconnection enabled a failed first dial is logged and retried in the
// background, and the bridge queues envelopes until the link comes up;
// otherwise the dial error is returned. Reconnections continue until ctx
// is cancelled, Close is called, or attempts are exhausted.
func (c *Client) Connect(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	if err := c.dial(ctx); err != nil {
		if !c.cfg.Reconnect.Enabled || ctx.Err() != nil {
			cancel()
			close(c.done)
			return fmt.Errorf("connecting to host: %w", err)
		}
		c.log.Warn("host unreachable, retrying in background", "error", err)
		go c.receiveLoop(ctx, false)
		return nil
	}

	c.log.Info("connected to host")
	c.bridge.AttachTransport(ctx, c)

	go c.receiveLoop(ctx, true)
	return nil
}

// Connected reports whether a WebSocket connection is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Send writes one envelope as a text frame. It returns ErrNotConnected
// while the link is down.
func (c *Client) Send(ctx context.Context, data []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	timeout := c.cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("writing envelope: %w", err)
	}
	return nil
}

// ForceReconnect drops the current connection and reconnects without
// waiting for the backoff delay. Used when the network changes under the
// player (sleep/wake, interface switch). No-op if reconnection is disabled.
func (c *Client) ForceReconnect() {
	if !c.cfg.Reconnect.Enabled {
		return
	}

	c.log.Info("force reconnect requested")

	select {
	case c.reconnCh <- struct{}{}:
	default:
	}

	c.closeConn()
}

// Close detaches the client from the bridge, closes the connection and
// waits for the receive loop to exit.
func (c *Client) Close() error {
	if c.cancel == nil {
		return nil
	}
	c.cancel()
	<-c.done
	return nil
}

func (c *Client) dial(ctx context.Context) error {
	dialTimeout := c.cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	dialCtx, dialCancel := context.WithTimeout(ctx, dialTimeout)
	defer dialCancel()

	var opts *websocket.DialOptions
	if c.cfg.Name != "" {
		opts = &websocket.DialOptions{
			HTTPHeader: http.Header{ClientHeader: []string{c.cfg.Name}},
		}
	}

	conn, _, err := websocket.Dial(dialCtx, c.cfg.ServerURL, opts)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return nil
}

func (c *Client) closeConn() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "closing")
	}
}

// receiveLoop feeds frames to the bridge and, on connection loss, detaches
// from the bridge and reconnects if configured. When connected is false it
// dials before reading. It closes done on exit.
func (c *Client) receiveLoop(ctx context.Context, connected bool) {
	defer close(c.done)

	for {
		if !connected {
			if !c.reconnect(ctx) {
				return
			}
			c.bridge.AttachTransport(ctx, c)
		}

		err := c.readFrames(ctx)

		c.bridge.DetachTransport(c)
		c.closeConn()

		if ctx.Err() != nil {
			return
		}
		c.log.Warn("connection lost", "error", err)

		if !c.cfg.Reconnect.Enabled {
			return
		}
		connected = false
	}
}

// readFrames reads until the connection fails or is closed by either side.
// The host closing the connection counts as a loss.
func (c *Client) readFrames(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			c.log.Debug("ignoring binary frame", "size", len(data))
			continue
		}

		// The bridge logs and counts rejected messages itself.
		_ = c.bridge.Receive(data)
	}
}

// reconnect redials with exponential backoff. It reports whether a new
// connection was established.
func (c *Client) reconnect(ctx context.Context) bool {
	immediate := false
	select {
	case <-c.reconnCh:
		immediate = true
	default:
	}

	maxAttempts := c.cfg.Reconnect.MaxAttempts
	for attempt := 1; maxAttempts == 0 || attempt <= maxAttempts; attempt++ {
		if !(immediate && attempt == 1) {
			delay := backoff(c.cfg.Reconnect, attempt)
			c.log.Info("reconnecting", "attempt", attempt, "backoff", delay)

			select {
			case <-ctx.Done():
				return false
			case <-time.After(delay):
			}
		}

		if err := c.dial(ctx); err != nil {
			c.log.Warn("reconnection failed", "attempt", attempt, "error", err)
			continue
		}

		c.log.Info("reconnected to host", "attempt", attempt)
		return true
	}

	c.log.Error("reconnection attempts exhausted")
	return false
}

// backoff returns InitialDelay * 2^(attempt-1), capped at MaxDelay.
func backoff(rc ReconnectConfig, attempt int) time.Duration {
	initial := rc.InitialDelay
	if initial <= 0 {
		initial = time.Second
	}
	ceiling := rc.MaxDelay
	if ceiling <= 0 {
		ceiling = 30 * time.Second
	}

	// 2^62 is the largest power of two that fits in an int64.
	if attempt > 62 {
		return ceiling
	}
	d := time.Duration(float64(initial) * math.Pow(2, float64(attempt-1)))
	if d <= 0 || d > ceiling {
		return ceiling
	}
	return d
}
