// Package control provides a Unix socket HTTP server for querying and
// driving a running bridge. `kdvdbridge run` starts the server and the
// `status` and `send` CLI commands connect to it.
package control

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/kuuji/kdvdbridge/internal/bridge"
	"github.com/kuuji/kdvdbridge/internal/httperror"
	"github.com/kuuji/kdvdbridge/pkg/protocol"
)

// ResolveSocketPath returns the best socket path for the current environment.
//
// On Linux, it checks in order:
//  1. /run/kdvdbridge/ if it exists (systemd RuntimeDirectory=)
//  2. $XDG_RUNTIME_DIR/kdvdbridge/
//  3. /tmp/kdvdbridge/
//
// On macOS it uses /var/run/kdvdbridge/ if it exists, else /tmp/kdvdbridge/.
func ResolveSocketPath() string {
	if runtime.GOOS == "darwin" {
		if info, err := os.Stat("/var/run/kdvdbridge"); err == nil && info.IsDir() {
			return "/var/run/kdvdbridge/control.sock"
		}
		return "/tmp/kdvdbridge/control.sock"
	}

	if info, err := os.Stat("/run/kdvdbridge"); err == nil && info.IsDir() {
		return "/run/kdvdbridge/control.sock"
	}
	if xdgDir := os.Getenv("XDG_RUNTIME_DIR"); xdgDir != "" {
		return filepath.Join(xdgDir, "kdvdbridge", "control.sock")
	}
	return "/tmp/kdvdbridge/control.sock"
}

// Status is returned by the /status endpoint.
type Status struct {
	Version           string   `json:"version"`
	Ready             bool     `json:"ready"`
	TransportAttached bool     `json:"transport_attached"`
	ServerURL         string   `json:"server_url,omitempty"`
	UptimeSeconds     float64  `json:"uptime_seconds"`
	Capabilities      []string `json:"capabilities"`

	Pending          int    `json:"pending"`
	Listeners        int    `json:"listeners"`
	Sent             uint64 `json:"sent"`
	Queued           uint64 `json:"queued"`
	Dropped          uint64 `json:"dropped"`
	Received         uint64 `json:"received"`
	Malformed        uint64 `json:"malformed"`
	Unknown          uint64 `json:"unknown"`
	ListenerFailures uint64 `json:"listener_failures"`
}

// DispatchRequest is the body of POST /dispatch.
type DispatchRequest struct {
	Action string   `json:"action"`
	Args   []string `json:"args,omitempty"`
}

// DispatchResponse reports what the bridge did with a dispatched action.
type DispatchResponse struct {
	Type      string   `json:"type"`
	Sent      bool     `json:"sent"`
	Queued    bool     `json:"queued"`
	Evicted   bool     `json:"evicted,omitempty"`
	Listeners int      `json:"listeners"`
	Failures  []string `json:"failures,omitempty"`
}

// ReadyResponse is returned by POST /ready.
type ReadyResponse struct {
	Transitioned bool `json:"transitioned"`
}

// Bridge is the part of *bridge.Bridge the control server uses.
type Bridge interface {
	Stats() bridge.Stats
	Version() string
	Capabilities() []protocol.Event
	DispatchNamed(ctx context.Context, name string, args ...string) (bridge.Result, error)
	MarkReady(ctx context.Context) bool
}

// Server is an HTTP server that listens on a Unix domain socket.
type Server struct {
	socketPath string
	bridge     Bridge
	serverURL  string
	log        *slog.Logger
	now        func() time.Time
	listener   net.Listener
	httpServer *http.Server
}

// NewServer creates a control server for b. serverURL is reported in the
// status as the host the bridge connects to.
func NewServer(socketPath string, b Bridge, serverURL string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		socketPath: socketPath,
		bridge:     b,
		serverURL:  serverURL,
		log:        logger.With("component", "control"),
		now:        time.Now,
	}
}

// Handler returns the control API routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/status", s.handleStatus)
	r.Post("/dispatch", s.handleDispatch)
	r.Post("/ready", s.handleReady)
	return r
}

// Start begins listening on the Unix socket and serving HTTP requests.
// It returns immediately; the server runs in the background.
func (s *Server) Start() error {
	dir := filepath.Dir(s.socketPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating socket directory %s: %w", dir, err)
	}

	// Remove stale socket file from a previous run.
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	s.listener = ln

	// Owner and group only: the socket can dispatch actions.
	if err := os.Chmod(s.socketPath, 0660); err != nil {
		s.log.Warn("setting socket permissions", "error", err)
	}

	s.httpServer = &http.Server{Handler: s.Handler()}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("control server error", "error", err)
		}
	}()

	s.log.Info("control server started", "socket", s.socketPath)
	return nil
}

// Stop gracefully shuts down the control server and removes the socket file.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.Warn("control server shutdown", "error", err)
		}
	}

	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		s.log.Warn("removing socket file", "error", err)
	}

	s.log.Info("control server stopped")
	return nil
}

// Status builds the current status.
func (s *Server) Status() Status {
	st := s.bridge.Stats()

	caps := s.bridge.Capabilities()
	names := make([]string, len(caps))
	for i, c := range caps {
		names[i] = string(c)
	}

	return Status{
		Version:           s.bridge.Version(),
		Ready:             st.Ready,
		TransportAttached: st.TransportAttached,
		ServerURL:         s.serverURL,
		UptimeSeconds:     s.now().Sub(st.Started).Seconds(),
		Capabilities:      names,
		Pending:           st.Pending,
		Listeners:         st.Listeners,
		Sent:              st.Sent,
		Queued:            st.Queued,
		Dropped:           st.Dropped,
		Received:          st.Received,
		Malformed:         st.Malformed,
		Unknown:           st.Unknown,
		ListenerFailures:  st.ListenerFailures,
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, s.Status())
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var req DispatchRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil {
		s.fail(w, r, httperror.BadRequestWithError("invalid request body", err))
		return
	}
	if req.Action == "" {
		s.fail(w, r, httperror.BadRequest("action is required"))
		return
	}

	res, err := s.bridge.DispatchNamed(r.Context(), req.Action, req.Args...)
	if err != nil {
		s.fail(w, r, httperror.BadRequestWithError(err.Error(), err))
		return
	}
	if res.Err != nil {
		s.fail(w, r, httperror.InternalServerError("encoding action", res.Err))
		return
	}

	resp := DispatchResponse{
		Type:      res.Envelope.Type,
		Sent:      res.Sent,
		Queued:    res.Queued,
		Evicted:   res.Evicted,
		Listeners: res.Listeners.Invoked,
	}
	for _, f := range res.Listeners.Failures {
		resp.Failures = append(resp.Failures, f.Error())
	}

	s.log.Info("dispatched via control socket", "action", req.Action, "sent", res.Sent, "queued", res.Queued)
	render.JSON(w, r, resp)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, ReadyResponse{Transitioned: s.bridge.MarkReady(r.Context())})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err *httperror.HTTPError) {
	render.Render(w, r, err)
	s.log.Warn("control request failed", "path", r.URL.Path, "status", err.Code, "error", err)
}

// Client talks to a control server over its Unix socket.
type Client struct {
	http *http.Client
}

// NewClient creates a client for the server at socketPath.
func NewClient(socketPath string) *Client {
	return &Client{http: &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socketPath)
			},
		},
		Timeout: 5 * time.Second,
	}}
}

// Status fetches the bridge status.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var status Status
	if err := c.do(ctx, http.MethodGet, "/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Dispatch asks the bridge to dispatch action with args.
func (c *Client) Dispatch(ctx context.Context, action string, args []string) (*DispatchResponse, error) {
	var resp DispatchResponse
	if err := c.do(ctx, http.MethodPost, "/dispatch", DispatchRequest{Action: action, Args: args}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// MarkReady asks the bridge to become ready and reports whether it
// transitioned.
func (c *Client) MarkReady(ctx context.Context) (bool, error) {
	var resp ReadyResponse
	if err := c.do(ctx, http.MethodPost, "/ready", nil, &resp); err != nil {
		return false, err
	}
	return resp.Transitioned, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, "http://kdvdbridge"+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to control socket: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var herr httperror.HTTPError
		if json.NewDecoder(resp.Body).Decode(&herr) == nil && herr.Message != "" {
			return fmt.Errorf("control server: %s (status %d)", herr.Message, resp.StatusCode)
		}
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

// FetchStatus connects to a running control server and returns the status.
func FetchStatus(socketPath string) (*Status, error) {
	return NewClient(socketPath).Status(context.Background())
}
