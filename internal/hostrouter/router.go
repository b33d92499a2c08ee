// Package hostrouter is the native side of the bridge. It terminates page
// connections, decodes the action envelopes pages send and routes each one
// to the handler registered for its type. Commands for the pages travel the
// other way through Server.Push and POST /commands.
package hostrouter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kuuji/kdvdbridge/pkg/protocol"
)

var (
	// ErrNoHandler is returned by Handle when no handler is registered for
	// a well-formed envelope's type.
	ErrNoHandler = errors.New("no handler registered")

	// ErrDuplicate is returned by Handle for an envelope identical to one
	// handled recently.
	ErrDuplicate = errors.New("duplicate envelope")
)

// DefaultDedupSize is the number of recent envelopes remembered for
// duplicate suppression.
const DefaultDedupSize = 1024

// Handler processes one decoded action envelope.
type Handler func(ctx context.Context, env protocol.Envelope, action protocol.Action) error

// Option configures a Router.
type Option func(*Router)

// WithJournal records every accepted envelope in j before its handler runs.
func WithJournal(j Journal) Option {
	return func(r *Router) { r.journal = j }
}

// WithDedupSize sets how many recent envelopes are remembered. n <= 0
// disables duplicate suppression.
func WithDedupSize(n int) Option {
	return func(r *Router) { r.dedupSize = n }
}

// Router dispatches action envelopes to handlers keyed by envelope type. It
// is safe for concurrent use.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]Handler

	recent    *lru.Cache[string, struct{}]
	dedupSize int
	journal   Journal
	log       *slog.Logger
}

// NewRouter creates a Router with no handlers.
func NewRouter(logger *slog.Logger, opts ...Option) *Router {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Router{
		handlers:  make(map[string]Handler),
		dedupSize: DefaultDedupSize,
		log:       logger.With("component", "hostrouter"),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.dedupSize > 0 {
		// lru.New only fails for a non-positive size.
		r.recent, _ = lru.New[string, struct{}](r.dedupSize)
	}
	return r
}

// RegisterHandler sets the handler for envelope type typ, replacing any
// previous one.
func (r *Router) RegisterHandler(typ string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[typ] = h
	r.log.Debug("handler registered", "type", typ)
}

// UnregisterHandler removes the handler for typ and reports whether one was
// registered.
func (r *Router) UnregisterHandler(typ string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handlers[typ]; !ok {
		return false
	}
	delete(r.handlers, typ)
	return true
}

// RegisterDefaultHandlers registers a handler for every action type that
// logs the decoded request. Player integrations replace them with handlers
// that drive playback.
func (r *Router) RegisterDefaultHandlers() {
	for _, typ := range protocol.ActionTypes() {
		r.RegisterHandler(typ, r.logAction)
	}
}

func (r *Router) logAction(_ context.Context, env protocol.Envelope, action protocol.Action) error {
	attrs := []any{"type", env.Type, "sent_at", env.Time()}

	switch a := action.(type) {
	case *protocol.PlayTitle:
		attrs = append(attrs, "title_id", a.TitleID)
	case *protocol.ShowMenu:
		attrs = append(attrs, "menu_id", a.MenuID)
	case *protocol.Navigate:
		attrs = append(attrs, "direction", a.Direction)
	case *protocol.UpdateSetting:
		attrs = append(attrs, "setting", a.Setting, "value", a.Value)
	case *protocol.SetVolume:
		attrs = append(attrs, "volume", a.Volume)
	case *protocol.SeekTo:
		attrs = append(attrs, "position", a.Position)
	}

	r.log.Info("action", attrs...)
	return nil
}

// Types returns the envelope types that have a handler, sorted.
func (r *Router) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for typ := range r.handlers {
		types = append(types, typ)
	}
	slices.Sort(types)
	return types
}

// Journal returns the configured journal, or nil.
func (r *Router) Journal() Journal {
	return r.journal
}

// Handle decodes data as an action envelope and runs its handler.
// Envelopes that fail to decode, repeat a recent envelope, or have no
// handler are rejected with an error wrapping protocol.ErrMalformedMessage,
// protocol.ErrUnknownType, ErrDuplicate or ErrNoHandler. Journal failures
// are logged and do not stop the handler.
func (r *Router) Handle(ctx context.Context, data []byte) error {
	env, action, err := protocol.DecodeAction(data)
	if err != nil {
		return err
	}

	if r.recent != nil {
		if seen, _ := r.recent.ContainsOrAdd(dedupKey(env), struct{}{}); seen {
			return fmt.Errorf("%w: %s at %d", ErrDuplicate, env.Type, env.Timestamp)
		}
	}

	if r.journal != nil {
		if err := r.journal.Append(ctx, env); err != nil {
			r.log.Warn("journal append failed", "type", env.Type, "error", err)
		}
	}

	r.mu.RLock()
	h, ok := r.handlers[env.Type]
	r.mu.RUnlock()

	if !ok {
		r.log.Warn("handler not found", "type", env.Type)
		return fmt.Errorf("%w: %q", ErrNoHandler, env.Type)
	}

	if err := h(ctx, env, action); err != nil {
		return fmt.Errorf("handling %s: %w", env.Type, err)
	}
	return nil
}

func dedupKey(env protocol.Envelope) string {
	return env.Type + "|" + strconv.FormatInt(env.Timestamp, 10) + "|" + string(env.Payload)
}
