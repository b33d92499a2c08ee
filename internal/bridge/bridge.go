// Package bridge implements the message bridge between the disc menu UI and
// the native player host.
//
// UI code dispatches typed actions through a Bridge:
//
//	UI → Bridge.Dispatch → envelope → Transport.Send → host
//	                     └→ Registry.Notify(event, data) → local listeners
//
// The host answers with command envelopes delivered to Bridge.Receive, which
// decodes them and notifies the listeners of the equivalent action without
// echoing anything back to the host.
//
// Envelopes dispatched while no transport is attached are held in a bounded
// pending queue and drained in FIFO order when a transport is attached or
// the bridge becomes ready.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kuuji/kdvdbridge/pkg/protocol"
)

// Transport delivers serialized envelopes to the host. Send returns an error
// when the host cannot currently be reached; the bridge then keeps the
// envelope queued. Implementations must be comparable (pointer types) so
// DetachTransport can recognize them.
type Transport interface {
	Send(ctx context.Context, data []byte) error
}

// ErrListenerType is returned by listeners registered with On when the
// notified data does not have the expected type.
var ErrListenerType = errors.New("unexpected listener data type")

// Option configures a Bridge.
type Option func(*Bridge)

// WithReady constructs the bridge in the ready state, for hosts whose
// readiness signal has already fired.
func WithReady() Option {
	return func(b *Bridge) { b.ready = true }
}

// WithTransport attaches t at construction.
func WithTransport(t Transport) Option {
	return func(b *Bridge) { b.transport = t }
}

// WithQueueCapacity bounds the pending queue to n envelopes, evicting the
// oldest when full. n <= 0 leaves the queue unbounded.
func WithQueueCapacity(n int) Option {
	return func(b *Bridge) { b.capacity = n }
}

// WithClock overrides the envelope timestamp source.
func WithClock(now func() time.Time) Option {
	return func(b *Bridge) {
		if now != nil {
			b.now = now
		}
	}
}

// WithVersion overrides the identifier reported by Version.
func WithVersion(v string) Option {
	return func(b *Bridge) {
		if v != "" {
			b.version = v
		}
	}
}

// Result describes what Dispatch did with an action.
type Result struct {
	// Envelope is the envelope built for the action.
	Envelope protocol.Envelope

	// Sent is true when the envelope reached the transport during this call.
	Sent bool

	// Queued is true when the envelope was left in the pending queue, for a
	// later attach or for a drain already running on another goroutine.
	Queued bool

	// Evicted is true when queuing this envelope dropped the oldest one.
	Evicted bool

	// Err is set when the action could not be encoded. Such an action is
	// neither sent nor queued, but listeners are still notified.
	Err error

	// Listeners reports the local notification.
	Listeners Report
}

// Stats is a point-in-time snapshot of bridge counters.
type Stats struct {
	Ready             bool
	TransportAttached bool
	Pending           int
	Listeners         int
	Started           time.Time

	Sent             uint64
	Queued           uint64
	Dropped          uint64
	Received         uint64
	Malformed        uint64
	Unknown          uint64
	ListenerFailures uint64
}

// Bridge is the message bridge. Create one with New and pass it to the
// components that need it. It is safe for concurrent use, and listeners and
// transports may call back into it: no lock is held while a listener runs
// or while Transport.Send is in progress.
type Bridge struct {
	mu        sync.Mutex // guards the fields below; never held across Send
	ready     bool
	transport Transport
	queue     *queue[outbound]
	capacity  int
	nextSeq   uint64
	draining  bool // a goroutine owns the drain loop

	registry *Registry
	now      func() time.Time
	version  string
	started  time.Time
	log      *slog.Logger

	sent             atomic.Uint64
	queued           atomic.Uint64
	dropped          atomic.Uint64
	received         atomic.Uint64
	malformed        atomic.Uint64
	unknown          atomic.Uint64
	listenerFailures atomic.Uint64
}

// outbound is a queued envelope tagged with its dispatch order.
type outbound struct {
	seq uint64
	env protocol.Envelope
}

// New creates a Bridge in the uninitialized state with no transport, unless
// options say otherwise.
func New(logger *slog.Logger, opts ...Option) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}

	b := &Bridge{
		capacity: DefaultQueueCapacity,
		registry: NewRegistry(logger),
		now:      time.Now,
		version:  protocol.Version,
		log:      logger.With("component", "bridge"),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.queue = newQueue[outbound](b.capacity)
	b.started = b.now()

	return b
}

// MarkReady transitions the bridge to ready and, if a transport is attached,
// drains the pending queue. Only the first call has any effect; it reports
// whether this call performed the transition.
func (b *Bridge) MarkReady(ctx context.Context) bool {
	b.mu.Lock()
	if b.ready {
		b.mu.Unlock()
		return false
	}
	b.ready = true
	attached := b.transport != nil
	b.log.Info("bridge ready", "pending", b.queue.len(), "transport", attached)
	b.mu.Unlock()

	if attached {
		b.drain(ctx, 0)
	}
	return true
}

// AttachTransport makes t the outbound channel and drains the pending queue
// to it in FIFO order. Draining stops at the first failed send; the
// remaining envelopes stay queued. A nil t detaches the current transport.
func (b *Bridge) AttachTransport(ctx context.Context, t Transport) {
	b.mu.Lock()
	b.transport = t
	if t == nil {
		b.mu.Unlock()
		b.log.Info("transport detached")
		return
	}
	b.log.Info("transport attached", "pending", b.queue.len())
	b.mu.Unlock()

	if n, _ := b.drain(ctx, 0); n > 0 {
		b.log.Info("drained pending queue", "sent", n, "remaining", len(b.Pending()))
	}
}

// DetachTransport makes the outbound channel unavailable if t is the
// current transport. It reports whether t was detached.
func (b *Bridge) DetachTransport(t Transport) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t == nil || b.transport != t {
		return false
	}
	b.transport = nil
	b.log.Info("transport detached", "pending", b.queue.len())
	return true
}

// Dispatch forwards action to the host and notifies the listeners of its
// event. Envelopes leave in dispatch order: when no transport is attached,
// or the send fails, or another goroutine is still delivering earlier
// envelopes, the envelope waits in the pending queue. Listener notification
// happens in every case.
func (b *Bridge) Dispatch(ctx context.Context, action protocol.Action) Result {
	if action == nil {
		return Result{Err: errors.New("nil action")}
	}

	env, err := protocol.NewEnvelope(action, b.now())
	if err != nil {
		b.log.Error("encoding action", "event", action.Event(), "error", err)
		res := Result{Err: err}
		res.Listeners = b.Notify(action.Event(), action.ListenerData())
		return res
	}

	res := Result{Envelope: env}

	b.mu.Lock()
	b.nextSeq++
	seq := b.nextSeq
	res.Evicted = b.enqueueLocked(outbound{seq: seq, env: env})
	b.mu.Unlock()

	if _, res.Sent = b.drain(ctx, seq); !res.Sent {
		res.Queued = true
		b.queued.Add(1)
	}

	res.Listeners = b.Notify(action.Event(), action.ListenerData())
	return res
}

func (b *Bridge) enqueueLocked(o outbound) bool {
	evicted := b.queue.push(o)
	if evicted {
		b.dropped.Add(1)
		b.log.Warn("pending queue full, dropped oldest envelope", "capacity", b.capacity)
	}
	return evicted
}

// drain sends queued envelopes in FIFO order until the queue is empty, no
// transport is attached, or a send fails. One goroutine drains at a time. A
// call made while another drain runs returns at once; the running drain
// picks up whatever was queued meanwhile, including envelopes dispatched
// from inside Send. It returns the number of envelopes this call sent and
// whether the envelope numbered seq was among them. b.mu must not be held.
func (b *Bridge) drain(ctx context.Context, seq uint64) (n int, sentSeq bool) {
	b.mu.Lock()
	if b.draining {
		b.mu.Unlock()
		return 0, false
	}
	b.draining = true

	owner := true
	defer func() {
		// Only reached with owner set when Send panicked.
		if owner {
			b.mu.Lock()
			b.draining = false
			b.mu.Unlock()
		}
	}()

	for {
		t := b.transport
		next, ok := b.queue.peek()
		if t == nil || !ok {
			b.draining = false
			owner = false
			b.mu.Unlock()
			return n, sentSeq
		}
		b.queue.pop()
		b.mu.Unlock()

		err := b.send(ctx, t, next.env)

		b.mu.Lock()
		if err == nil {
			n++
			if next.seq == seq {
				sentSeq = true
			}
			continue
		}

		if !b.queue.pushFront(next) {
			b.dropped.Add(1)
			b.log.Warn("pending queue full, dropped oldest envelope", "capacity", b.capacity)
		}
		if b.transport != nil && b.transport != t {
			// A new transport was attached during the failed send.
			continue
		}
		b.log.Warn("pending queue drain interrupted", "remaining", b.queue.len(), "error", err)
		b.draining = false
		owner = false
		b.mu.Unlock()
		return n, sentSeq
	}
}

func (b *Bridge) send(ctx context.Context, t Transport, env protocol.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshaling envelope: %w", err)
	}
	if err := t.Send(ctx, data); err != nil {
		return err
	}
	b.sent.Add(1)
	b.log.Debug("envelope sent", "type", env.Type)
	return nil
}

// Receive handles a message from the host. A known command notifies the
// listeners of its equivalent action and is never sent back to the host.
// Malformed input and unknown types are logged, counted and returned as
// errors wrapping protocol.ErrMalformedMessage or protocol.ErrUnknownType;
// they change no state and invoke no listener.
func (b *Bridge) Receive(data []byte) error {
	b.received.Add(1)

	_, cmd, err := protocol.DecodeCommand(data)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownType) {
			b.unknown.Add(1)
			b.log.Warn("ignoring unknown message type", "error", err)
		} else {
			b.malformed.Add(1)
			b.log.Warn("dropping malformed message", "error", err, "size", len(data))
		}
		return err
	}

	action := cmd.Action()
	b.log.Debug("command received", "type", cmd.MessageType(), "event", action.Event())
	b.Notify(action.Event(), action.ListenerData())
	return nil
}

// Subscribe registers fn for event. See Registry.Subscribe.
func (b *Bridge) Subscribe(event protocol.Event, fn Listener) Subscription {
	return b.registry.Subscribe(event, fn)
}

// Unsubscribe removes one registration. See Registry.Unsubscribe.
func (b *Bridge) Unsubscribe(sub Subscription) bool {
	return b.registry.Unsubscribe(sub)
}

// Notify invokes the listeners of event with data.
func (b *Bridge) Notify(event protocol.Event, data any) Report {
	report := b.registry.Notify(event, data)
	if n := len(report.Failures); n > 0 {
		b.listenerFailures.Add(uint64(n))
	}
	return report
}

// On registers a listener that receives event data as a T. Events that
// carry no data deliver the zero T. Data of any other type is reported as
// a ListenerError wrapping ErrListenerType.
func On[T any](b *Bridge, event protocol.Event, fn func(T) error) Subscription {
	return b.Subscribe(event, func(data any) error {
		v, ok := data.(T)
		if !ok && data != nil {
			return fmt.Errorf("%w: want %T, got %T", ErrListenerType, v, data)
		}
		return fn(v)
	})
}

// IsReady reports whether the readiness transition has happened.
func (b *Bridge) IsReady() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ready
}

// HasTransport reports whether an outbound channel is attached.
func (b *Bridge) HasTransport() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.transport != nil
}

// Capabilities returns the supported action names in a fixed order.
func (b *Bridge) Capabilities() []protocol.Event {
	return protocol.Capabilities()
}

// Version returns the bridge API identifier.
func (b *Bridge) Version() string {
	return b.version
}

// Pending returns the queued envelopes, oldest first. An envelope whose
// send is in progress is not pending.
func (b *Bridge) Pending() []protocol.Envelope {
	b.mu.Lock()
	queued := b.queue.snapshot()
	b.mu.Unlock()

	out := make([]protocol.Envelope, len(queued))
	for i, o := range queued {
		out[i] = o.env
	}
	return out
}

// Stats returns a snapshot of the bridge counters.
func (b *Bridge) Stats() Stats {
	b.mu.Lock()
	st := Stats{
		Ready:             b.ready,
		TransportAttached: b.transport != nil,
		Pending:           b.queue.len(),
		Started:           b.started,
	}
	b.mu.Unlock()

	st.Listeners = b.registry.Len()
	st.Sent = b.sent.Load()
	st.Queued = b.queued.Load()
	st.Dropped = b.dropped.Load()
	st.Received = b.received.Load()
	st.Malformed = b.malformed.Load()
	st.Unknown = b.unknown.Load()
	st.ListenerFailures = b.listenerFailures.Load()
	return st
}
