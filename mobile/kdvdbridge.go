// Package mobile provides a gomobile-compatible API for the 8KDVD message
// bridge. This package is compiled to an Android AAR or iOS framework via
// `gomobile bind`; the player's web view talks to it through the native
// host.
//
// All exported functions and types work within gomobile's type
// restrictions: only basic types (string, int, int64, float64, bool, error)
// and interfaces with methods using those types cross the boundary.
// Structured values are exchanged as JSON strings.
//
// Usage from Kotlin/Android:
//
//	Mobile.start(logCallback)
//	Mobile.setHost(nativeHost)       // SendMessage(json) -> Boolean
//	val id = Mobile.subscribe("playTitle", listener)
//	Mobile.markReady()
//	Mobile.playTitle(3)
//	Mobile.receive(jsonFromHost)
package mobile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/kuuji/kdvdbridge/internal/bridge"
	"github.com/kuuji/kdvdbridge/internal/config"
	"github.com/kuuji/kdvdbridge/internal/transport"
	"github.com/kuuji/kdvdbridge/pkg/protocol"
)

// ErrNotStarted is returned by every call made before Start.
var ErrNotStarted = errors.New("bridge not started")

// errHostUnavailable is what a Host reports by returning false.
var errHostUnavailable = errors.New("host unavailable")

// Logger receives log messages from the Go core. Implement this interface
// in Kotlin or Swift and pass it to Start().
//
// Level values: 0=Debug, 1=Info, 2=Warn, 3=Error
type Logger interface {
	Log(level int, msg string)
}

// Host is the native side of the bridge. SendMessage receives one JSON
// envelope and returns false when the host cannot take it; the envelope is
// then kept in the pending queue.
type Host interface {
	SendMessage(message string) bool
}

// EventListener receives an event name and its data encoded as JSON
// ("null" when the event carries none).
type EventListener interface {
	OnEvent(event string, dataJSON string)
}

// state is the single bridge instance of the process.
var state struct {
	mu     sync.Mutex
	cfg    *config.Config
	bridge *bridge.Bridge
	log    *slog.Logger
	host   *hostTransport
	client *transport.Client
	subs   map[int64]bridge.Subscription
	nextID int64
}

// Start creates the bridge with default settings. It fails if the bridge is
// already running; call Stop first to start over.
func Start(logger Logger) error {
	return start(logger, config.DefaultConfig())
}

// StartWithConfig creates the bridge from a TOML configuration string with
// the same structure as the kdvdbridge config.toml file.
func StartWithConfig(logger Logger, configTOML string) error {
	cfg, err := config.ParseTOML([]byte(configTOML))
	if err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return start(logger, cfg)
}

func start(logger Logger, cfg *config.Config) error {
	state.mu.Lock()
	defer state.mu.Unlock()

	if state.bridge != nil {
		return errors.New("bridge is already started")
	}

	log := slog.Default()
	if logger != nil {
		log = slog.New(&mobileLogHandler{callback: logger})
	}

	opts := []bridge.Option{bridge.WithQueueCapacity(cfg.Bridge.QueueCapacity)}
	if cfg.Bridge.Ready {
		opts = append(opts, bridge.WithReady())
	}

	state.cfg = cfg
	state.log = log
	state.bridge = bridge.New(log, opts...)
	state.subs = make(map[int64]bridge.Subscription)
	state.nextID = 0
	return nil
}

// Stop disconnects from the host and discards the bridge, its listeners and
// any pending envelopes.
func Stop() {
	state.mu.Lock()
	client := state.client
	state.client = nil
	state.bridge = nil
	state.host = nil
	state.subs = nil
	state.mu.Unlock()

	if client != nil {
		client.Close()
	}
}

func current() (*bridge.Bridge, error) {
	state.mu.Lock()
	defer state.mu.Unlock()
	if state.bridge == nil {
		return nil, ErrNotStarted
	}
	return state.bridge, nil
}

// hostTransport adapts a Host to bridge.Transport.
type hostTransport struct {
	host Host
}

func (h *hostTransport) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !h.host.SendMessage(string(data)) {
		return errHostUnavailable
	}
	return nil
}

// SetHost makes host the outbound channel and flushes pending envelopes to
// it in order. It replaces any previous host.
func SetHost(host Host) error {
	if host == nil {
		return ClearHost()
	}

	state.mu.Lock()
	b := state.bridge
	if b == nil {
		state.mu.Unlock()
		return ErrNotStarted
	}
	ht := &hostTransport{host: host}
	state.host = ht
	state.mu.Unlock()

	b.AttachTransport(context.Background(), ht)
	return nil
}

// ClearHost makes the native host unavailable. Later actions are queued.
func ClearHost() error {
	state.mu.Lock()
	b, ht := state.bridge, state.host
	state.host = nil
	state.mu.Unlock()

	if b == nil {
		return ErrNotStarted
	}
	if ht != nil {
		b.DetachTransport(ht)
	}
	return nil
}

// Connect dials a kdvdbridge host router over WebSocket and uses it as the
// outbound channel instead of a native Host. Commands pushed by the router
// are delivered to listeners. Reconnection follows the [transport] section
// of the config: with it enabled an unreachable router is retried in the
// background and actions queue meanwhile, otherwise the dial error is
// returned.
func Connect(serverURL string, name string) error {
	state.mu.Lock()
	b, cfg := state.bridge, state.cfg
	if b == nil {
		state.mu.Unlock()
		return ErrNotStarted
	}
	if state.client != nil {
		state.mu.Unlock()
		return errors.New("already connected")
	}
	tc := cfg.Transport
	client := transport.NewClient(b, transport.ClientConfig{
		ServerURL:    serverURL,
		Name:         name,
		Logger:       state.log,
		DialTimeout:  tc.DialTimeout.Duration,
		WriteTimeout: tc.WriteTimeout.Duration,
		Reconnect: transport.ReconnectConfig{
			Enabled:      tc.Reconnect,
			InitialDelay: tc.InitialDelay.Duration,
			MaxDelay:     tc.MaxDelay.Duration,
			MaxAttempts:  tc.MaxAttempts,
		},
	})
	state.client = client
	state.mu.Unlock()

	if err := client.Connect(context.Background()); err != nil {
		state.mu.Lock()
		if state.client == client {
			state.client = nil
		}
		state.mu.Unlock()
		return fmt.Errorf("connecting to host router: %w", err)
	}
	return nil
}

// Disconnect closes the host router connection opened by Connect.
func Disconnect() {
	state.mu.Lock()
	client := state.client
	state.client = nil
	state.mu.Unlock()

	if client != nil {
		client.Close()
	}
}

// MarkReady signals that the page has finished initializing. It reports
// whether this call performed the transition.
func MarkReady() bool {
	b, err := current()
	if err != nil {
		return false
	}
	return b.MarkReady(context.Background())
}

// Receive delivers one JSON command from the host to the listeners.
func Receive(message string) error {
	b, err := current()
	if err != nil {
		return err
	}
	return b.Receive([]byte(message))
}

func dispatch(action protocol.Action) error {
	b, err := current()
	if err != nil {
		return err
	}
	return b.Dispatch(context.Background(), action).Err
}

// PlayTitle asks the player to start the title with the given ID.
func PlayTitle(titleID int) error {
	return dispatch(protocol.PlayTitle{TitleID: titleID})
}

// ShowMenu asks the player to display the menu with the given ID.
func ShowMenu(menuID string) error {
	return dispatch(protocol.ShowMenu{MenuID: menuID})
}

// GoBack returns to the previous menu. It is sent to the host as a
// navigation in the back direction.
func GoBack() error {
	return dispatch(protocol.GoBack{})
}

// Navigate moves the menu focus. direction is one of up, down, left, right
// or back.
func Navigate(direction string) error {
	dir := protocol.Direction(direction)
	if !dir.Valid() {
		return fmt.Errorf("invalid direction %q", direction)
	}
	return dispatch(protocol.Navigate{Direction: dir})
}

// Select activates the focused menu item.
func Select() error {
	return dispatch(protocol.Select{})
}

// UpdateSetting changes a player setting. valueJSON is the new value encoded
// as JSON, e.g. `"en"`, `true` or `{"mode":"auto"}`.
func UpdateSetting(setting string, valueJSON string) error {
	var value any
	if err := json.Unmarshal([]byte(valueJSON), &value); err != nil {
		return fmt.Errorf("invalid setting value: %w", err)
	}
	return dispatch(protocol.UpdateSetting{Setting: setting, Value: value})
}

// SetVolume sets the playback volume. The value is forwarded unchanged;
// hosts conventionally expect 0 to 1.
func SetVolume(volume float64) error {
	return dispatch(protocol.SetVolume{Volume: volume})
}

// SeekTo moves playback to position, in seconds.
func SeekTo(position float64) error {
	return dispatch(protocol.SeekTo{Position: position})
}

// Subscribe registers listener for event and returns a subscription ID for
// Unsubscribe. It returns 0 if the bridge is not started or listener is nil.
func Subscribe(event string, listener EventListener) int64 {
	if listener == nil {
		return 0
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	if state.bridge == nil {
		return 0
	}

	log := state.log
	sub := state.bridge.Subscribe(protocol.Event(event), func(data any) error {
		encoded, err := json.Marshal(data)
		if err != nil {
			log.Warn("encoding listener data", "event", event, "error", err)
			return err
		}
		listener.OnEvent(event, string(encoded))
		return nil
	})

	state.nextID++
	state.subs[state.nextID] = sub
	return state.nextID
}

// Unsubscribe removes the subscription with the given ID. It reports whether
// the subscription was registered.
func Unsubscribe(id int64) bool {
	state.mu.Lock()
	defer state.mu.Unlock()

	sub, ok := state.subs[id]
	if !ok || state.bridge == nil {
		return false
	}
	delete(state.subs, id)
	return state.bridge.Unsubscribe(sub)
}

// IsReady reports whether MarkReady has been called. It returns false if
// the bridge is not started.
func IsReady() bool {
	b, err := current()
	return err == nil && b.IsReady()
}

// Version returns the bridge protocol version.
func Version() string {
	return protocol.Version
}

// Capabilities returns the supported events as a JSON array.
func Capabilities() string {
	data, err := json.Marshal(protocol.Capabilities())
	if err != nil {
		return "[]"
	}
	return string(data)
}

// GetStatus returns a JSON-encoded snapshot of the bridge counters, or "{}"
// if the bridge is not started.
func GetStatus() string {
	b, err := current()
	if err != nil {
		return "{}"
	}
	data, err := json.Marshal(b.Stats())
	if err != nil {
		return "{}"
	}
	return string(data)
}

// mobileLogHandler adapts Go's slog to the mobile Logger callback.
type mobileLogHandler struct {
	callback Logger
	attrs    []slog.Attr
	groups   []string
}

func (h *mobileLogHandler) Enabled(_ context.Context, _ slog.Level) bool {
	return true
}

func (h *mobileLogHandler) Handle(_ context.Context, r slog.Record) error {
	// Map slog levels to simple int: Debug=0, Info=1, Warn=2, Error=3
	var level int
	switch {
	case r.Level < slog.LevelInfo:
		level = 0
	case r.Level < slog.LevelWarn:
		level = 1
	case r.Level < slog.LevelError:
		level = 2
	default:
		level = 3
	}

	var sb strings.Builder
	sb.WriteString(r.Message)
	for _, a := range h.attrs {
		sb.WriteString(" " + a.Key + "=" + a.Value.String())
	}
	prefix := ""
	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}
	r.Attrs(func(a slog.Attr) bool {
		sb.WriteString(" " + prefix + a.Key + "=" + a.Value.String())
		return true
	})

	h.callback.Log(level, sb.String())
	return nil
}

func (h *mobileLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	prefix := ""
	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	for _, a := range attrs {
		merged = append(merged, slog.Attr{Key: prefix + a.Key, Value: a.Value})
	}
	return &mobileLogHandler{callback: h.callback, attrs: merged, groups: h.groups}
}

func (h *mobileLogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	groups := make([]string, 0, len(h.groups)+1)
	groups = append(groups, h.groups...)
	return &mobileLogHandler{callback: h.callback, attrs: h.attrs, groups: append(groups, name)}
}
