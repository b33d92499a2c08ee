package hostrouter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/olahol/melody"

	"github.com/kuuji/kdvdbridge/internal/httperror"
	"github.com/kuuji/kdvdbridge/pkg/protocol"
)

// ErrNoSessions is returned by Push when no page is connected.
var ErrNoSessions = errors.New("no pages connected")

// ClientHeader is the handshake header in which pages announce their name.
const ClientHeader = "X-Kdvdbridge-Client"

const maxCommandBody = 64 << 10

// Session keys.
const (
	keyID        = "id"
	keyClient    = "client"
	keyConnected = "connected"
)

// SessionInfo describes a connected page.
type SessionInfo struct {
	ID        string    `json:"id"`
	Client    string    `json:"client,omitempty"`
	Remote    string    `json:"remote"`
	Connected time.Time `json:"connected"`
}

// CommandRequest is the name-based body accepted by POST /commands, as an
// alternative to a full command envelope.
type CommandRequest struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// PushResponse is returned by POST /commands.
type PushResponse struct {
	Type     string `json:"type"`
	Sessions int    `json:"sessions"`
}

type handlerWithErr func(http.ResponseWriter, *http.Request) *httperror.HTTPError

// apiRouter wraps chi so handlers return *httperror.HTTPError.
type apiRouter struct {
	*chi.Mux
	log *slog.Logger
}

func (rt *apiRouter) handler(fn handlerWithErr) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(w, r); err != nil {
			render.Render(w, r, err)
			rt.log.Warn("request failed", "method", r.Method, "path", r.URL.Path, "status", err.Code, "error", err)
		}
	}
}

func (rt *apiRouter) get(pattern string, fn handlerWithErr) {
	rt.Mux.Get(pattern, rt.handler(fn))
}

func (rt *apiRouter) post(pattern string, fn handlerWithErr) {
	rt.Mux.Post(pattern, rt.handler(fn))
}

// Server is the host's HTTP endpoint. Pages connect to GET /connect over
// WebSocket; their frames go to the Router and commands are broadcast back
// to them.
type Server struct {
	router *Router
	melody *melody.Melody
	mux    *apiRouter
	log    *slog.Logger
	now    func() time.Time
	nextID atomic.Uint64
}

// NewServer creates a Server that routes page frames to router.
func NewServer(router *Router, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "hostserver")

	m := melody.New()
	m.Config.MaxMessageSize = maxCommandBody
	m.Config.WriteWait = 5 * time.Second

	s := &Server{
		router: router,
		melody: m,
		mux:    &apiRouter{Mux: chi.NewMux(), log: log},
		log:    log,
		now:    time.Now,
	}

	m.HandleConnect(s.handleConnect)
	m.HandleDisconnect(s.handleDisconnect)
	m.HandleMessage(s.handleMessage)
	m.HandleError(func(sess *melody.Session, err error) {
		s.log.Debug("session error", "session", sessionID(sess), "error", err)
	})

	s.mux.Use(middleware.RealIP)
	s.mux.Use(middleware.Recoverer)

	s.mux.get("/_healthz", func(w http.ResponseWriter, r *http.Request) *httperror.HTTPError {
		w.WriteHeader(http.StatusOK)
		return nil
	})

	s.mux.get("/version", func(w http.ResponseWriter, r *http.Request) *httperror.HTTPError {
		render.PlainText(w, r, protocol.Version)
		return nil
	})

	s.mux.get("/sessions", s.listSessions)
	s.mux.get("/journal", s.listJournal)
	s.mux.post("/commands", s.pushCommand)
	s.mux.get("/connect", s.connect)

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Sessions returns the number of connected pages.
func (s *Server) Sessions() int {
	return s.melody.Len()
}

// Push broadcasts cmd to every connected page and returns how many pages
// were connected.
func (s *Server) Push(ctx context.Context, cmd protocol.Command) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	data, err := protocol.Encode(cmd, s.now())
	if err != nil {
		return 0, err
	}
	return s.broadcast(cmd.MessageType(), data)
}

func (s *Server) broadcast(typ string, data []byte) (int, error) {
	n := s.melody.Len()
	if n == 0 {
		return 0, ErrNoSessions
	}
	if err := s.melody.Broadcast(data); err != nil {
		return 0, fmt.Errorf("broadcasting %s: %w", typ, err)
	}

	s.log.Info("command pushed", "type", typ, "sessions", n)
	return n, nil
}

// Close disconnects every page.
func (s *Server) Close() error {
	return s.melody.Close()
}

func (s *Server) connect(w http.ResponseWriter, r *http.Request) *httperror.HTTPError {
	client := r.Header.Get(ClientHeader)
	if len(client) > 128 {
		return httperror.BadRequest("client name must be 128 characters or less")
	}

	keys := map[string]any{
		keyID:        strconv.FormatUint(s.nextID.Add(1), 10),
		keyClient:    client,
		keyConnected: s.now(),
	}
	if err := s.melody.HandleRequestWithKeys(w, r, keys); err != nil {
		s.log.Debug("websocket session ended", "error", err)
	}
	return nil
}

func (s *Server) handleConnect(sess *melody.Session) {
	client, _ := sess.Get(keyClient)
	s.log.Info("page connected", "session", sessionID(sess), "client", client, "remote", sess.Request.RemoteAddr)
}

func (s *Server) handleDisconnect(sess *melody.Session) {
	s.log.Info("page disconnected", "session", sessionID(sess))
}

func (s *Server) handleMessage(sess *melody.Session, msg []byte) {
	err := s.router.Handle(sess.Request.Context(), msg)
	switch {
	case err == nil:
	case errors.Is(err, ErrDuplicate):
		s.log.Debug("duplicate envelope ignored", "session", sessionID(sess), "error", err)
	case errors.Is(err, ErrNoHandler):
		// Router already warned.
	default:
		s.log.Warn("rejected page message", "session", sessionID(sess), "error", err)
	}
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) *httperror.HTTPError {
	sessions, err := s.melody.Sessions()
	if err != nil {
		return httperror.InternalServerError("listing sessions", err)
	}

	infos := make([]SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		info := SessionInfo{ID: sessionID(sess), Remote: sess.Request.RemoteAddr}
		if v, ok := sess.Get(keyClient); ok {
			info.Client, _ = v.(string)
		}
		if v, ok := sess.Get(keyConnected); ok {
			info.Connected, _ = v.(time.Time)
		}
		infos = append(infos, info)
	}

	render.JSON(w, r, infos)
	return nil
}

func (s *Server) listJournal(w http.ResponseWriter, r *http.Request) *httperror.HTTPError {
	journal, ok := s.router.Journal().(RecentJournal)
	if !ok {
		return httperror.NotFound("journal disabled")
	}

	count := int64(50)
	if raw := r.URL.Query().Get("count"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 || n > 1000 {
			return httperror.BadRequest("count must be between 1 and 1000")
		}
		count = n
	}

	envs, err := journal.Recent(r.Context(), count)
	if err != nil {
		return httperror.InternalServerError("reading journal", err)
	}

	render.JSON(w, r, envs)
	return nil
}

func (s *Server) pushCommand(w http.ResponseWriter, r *http.Request) *httperror.HTTPError {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCommandBody))
	if err != nil {
		return httperror.BadRequestWithError("reading body", err)
	}

	cmd, err := parseCommandBody(body)
	if err != nil {
		return httperror.BadRequestWithError("invalid command", err)
	}

	n, err := s.Push(r.Context(), cmd)
	if errors.Is(err, ErrNoSessions) {
		return httperror.ServiceUnavailable(ErrNoSessions.Error())
	}
	if err != nil {
		return httperror.InternalServerError("pushing command", err)
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, PushResponse{Type: cmd.MessageType(), Sessions: n})
	return nil
}

// parseCommandBody accepts either a command envelope or a CommandRequest.
func parseCommandBody(body []byte) (protocol.Command, error) {
	var probe struct {
		Type    string `json:"type"`
		Command string `json:"command"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrMalformedMessage, err)
	}

	if probe.Type != "" {
		_, cmd, err := protocol.DecodeCommand(body)
		return cmd, err
	}

	var req CommandRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrMalformedMessage, err)
	}
	if req.Command == "" {
		return nil, errors.New("either type or command is required")
	}
	return protocol.ParseCommand(req.Command, req.Args)
}

func sessionID(sess *melody.Session) string {
	v, _ := sess.Get(keyID)
	id, _ := v.(string)
	return id
}
