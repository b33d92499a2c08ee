package mobile

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/kuuji/kdvdbridge/internal/bridge"
	"github.com/kuuji/kdvdbridge/pkg/protocol"
)

// The package holds a single bridge instance, so these tests do not run in
// parallel.

type fakeHost struct {
	mu        sync.Mutex
	messages  []string
	available bool
}

func (h *fakeHost) SendMessage(message string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.available {
		return false
	}
	h.messages = append(h.messages, message)
	return true
}

func (h *fakeHost) setAvailable(v bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.available = v
}

func (h *fakeHost) envelopes(t *testing.T) []protocol.Envelope {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()

	envs := make([]protocol.Envelope, len(h.messages))
	for i, m := range h.messages {
		if err := json.Unmarshal([]byte(m), &envs[i]); err != nil {
			t.Fatalf("host received invalid JSON %q: %v", m, err)
		}
	}
	return envs
}

// echoHost accepts every message and answers the first one synchronously
// through Receive, as a native host calling back into the bridge would.
type echoHost struct {
	fakeHost
	reply string
	once  sync.Once
}

func (h *echoHost) SendMessage(message string) bool {
	h.mu.Lock()
	h.messages = append(h.messages, message)
	h.mu.Unlock()

	h.once.Do(func() { _ = Receive(h.reply) })
	return true
}

type listenerFunc func(name, dataJSON string)

func (f listenerFunc) OnEvent(name string, dataJSON string) { f(name, dataJSON) }

type event struct {
	name string
	data string
}

type fakeListener struct {
	mu     sync.Mutex
	events []event
}

func (l *fakeListener) OnEvent(name string, dataJSON string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event{name, dataJSON})
}

func (l *fakeListener) snapshot() []event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]event(nil), l.events...)
}

type fakeLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *fakeLogger) Log(level int, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, msg)
}

func startBridge(t *testing.T) {
	t.Helper()
	if err := Start(nil); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(Stop)
}

func TestNotStarted(t *testing.T) {
	Stop()

	if err := PlayTitle(1); !errors.Is(err, ErrNotStarted) {
		t.Errorf("PlayTitle() error = %v, want ErrNotStarted", err)
	}
	if err := Receive(`{"type":"select","payload":{}}`); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Receive() error = %v, want ErrNotStarted", err)
	}
	if err := SetHost(&fakeHost{}); !errors.Is(err, ErrNotStarted) {
		t.Errorf("SetHost() error = %v, want ErrNotStarted", err)
	}
	if id := Subscribe("select", &fakeListener{}); id != 0 {
		t.Errorf("Subscribe() = %d, want 0", id)
	}
	if IsReady() || MarkReady() {
		t.Error("IsReady()/MarkReady() should be false before Start")
	}
	if got := GetStatus(); got != "{}" {
		t.Errorf("GetStatus() = %q, want {}", got)
	}
}

func TestStart_Twice(t *testing.T) {
	startBridge(t)
	if err := Start(nil); err == nil {
		t.Error("second Start() should fail")
	}
}

func TestSetHost_DrainsQueue(t *testing.T) {
	startBridge(t)

	if err := SetVolume(0.5); err != nil {
		t.Fatalf("SetVolume() error: %v", err)
	}
	if err := ShowMenu("root"); err != nil {
		t.Fatalf("ShowMenu() error: %v", err)
	}

	host := &fakeHost{available: true}
	if err := SetHost(host); err != nil {
		t.Fatalf("SetHost() error: %v", err)
	}

	envs := host.envelopes(t)
	if len(envs) != 2 {
		t.Fatalf("host received %d messages, want 2", len(envs))
	}
	if envs[0].Type != protocol.TypeVolumeChange || string(envs[0].Payload) != `{"volume":0.5}` {
		t.Errorf("first message = %s %s", envs[0].Type, envs[0].Payload)
	}
	if envs[1].Type != protocol.TypeShowMenu {
		t.Errorf("second message type = %s, want %s", envs[1].Type, protocol.TypeShowMenu)
	}
}

func TestHostUnavailable_Queues(t *testing.T) {
	startBridge(t)

	host := &fakeHost{}
	if err := SetHost(host); err != nil {
		t.Fatalf("SetHost() error: %v", err)
	}
	if err := SeekTo(12.5); err != nil {
		t.Fatalf("SeekTo() error: %v", err)
	}
	if len(host.envelopes(t)) != 0 {
		t.Fatal("unavailable host should not record messages")
	}

	host.setAvailable(true)
	if err := Select(); err != nil {
		t.Fatalf("Select() error: %v", err)
	}

	envs := host.envelopes(t)
	if len(envs) != 2 || envs[0].Type != protocol.TypeSeekTo || envs[1].Type != protocol.TypeSelect {
		t.Errorf("host received %+v, want seek then select", envs)
	}
}

func TestHost_AnswersInsideSendMessage(t *testing.T) {
	startBridge(t)

	host := &echoHost{reply: `{"type":"play_title","payload":{"titleId":4},"timestamp":1}`}
	if err := SetHost(host); err != nil {
		t.Fatalf("SetHost() error: %v", err)
	}

	var (
		mu     sync.Mutex
		status string
		inner  error
	)
	Subscribe(string(protocol.EventPlayTitle), listenerFunc(func(string, string) {
		mu.Lock()
		defer mu.Unlock()
		_ = IsReady()
		status = GetStatus()
		inner = ShowMenu("root")
	}))

	done := make(chan error, 1)
	go func() { done <- Select() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Select() error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Select() did not return; a listener reached from SendMessage blocked")
	}

	mu.Lock()
	defer mu.Unlock()
	if inner != nil {
		t.Errorf("ShowMenu() inside listener error: %v", inner)
	}
	if status == "{}" || status == "" {
		t.Errorf("GetStatus() inside listener = %q, want counters", status)
	}

	envs := host.envelopes(t)
	if len(envs) != 2 || envs[0].Type != protocol.TypeSelect || envs[1].Type != protocol.TypeShowMenu {
		t.Errorf("host received %+v, want select then show_menu", envs)
	}
}

func TestClearHost(t *testing.T) {
	startBridge(t)

	host := &fakeHost{available: true}
	if err := SetHost(host); err != nil {
		t.Fatalf("SetHost() error: %v", err)
	}
	if err := ClearHost(); err != nil {
		t.Fatalf("ClearHost() error: %v", err)
	}
	if err := GoBack(); err != nil {
		t.Fatalf("GoBack() error: %v", err)
	}
	if n := len(host.envelopes(t)); n != 0 {
		t.Errorf("cleared host received %d messages", n)
	}

	var st bridge.Stats
	if err := json.Unmarshal([]byte(GetStatus()), &st); err != nil {
		t.Fatalf("GetStatus() invalid JSON: %v", err)
	}
	if st.Pending != 1 || st.TransportAttached {
		t.Errorf("status = %+v, want 1 pending and no transport", st)
	}
}

func TestSubscribe_ListenerData(t *testing.T) {
	startBridge(t)

	l := &fakeListener{}
	for _, e := range []string{"playTitle", "navigate", "updateSetting", "select"} {
		if id := Subscribe(e, l); id == 0 {
			t.Fatalf("Subscribe(%q) returned 0", e)
		}
	}

	if err := PlayTitle(7); err != nil {
		t.Fatalf("PlayTitle() error: %v", err)
	}
	if err := Navigate("left"); err != nil {
		t.Fatalf("Navigate() error: %v", err)
	}
	if err := UpdateSetting("subtitles", `"fr"`); err != nil {
		t.Fatalf("UpdateSetting() error: %v", err)
	}
	if err := Receive(`{"type":"select","payload":{},"timestamp":1}`); err != nil {
		t.Fatalf("Receive() error: %v", err)
	}

	want := []event{
		{"playTitle", "7"},
		{"navigate", `"left"`},
		{"updateSetting", `{"setting":"subtitles","value":"fr"}`},
		{"select", "null"},
	}
	got := l.snapshot()
	if len(got) != len(want) {
		t.Fatalf("events = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestUnsubscribe(t *testing.T) {
	startBridge(t)

	l := &fakeListener{}
	id := Subscribe("seekTo", l)
	if !Unsubscribe(id) {
		t.Fatal("Unsubscribe() = false, want true")
	}
	if Unsubscribe(id) {
		t.Error("second Unsubscribe() = true, want false")
	}
	if err := SeekTo(1); err != nil {
		t.Fatalf("SeekTo() error: %v", err)
	}
	if n := len(l.snapshot()); n != 0 {
		t.Errorf("unsubscribed listener got %d events", n)
	}
	if Subscribe("seekTo", nil) != 0 {
		t.Error("Subscribe(nil) should return 0")
	}
}

func TestInvalidArguments(t *testing.T) {
	startBridge(t)

	if err := Navigate("sideways"); err == nil {
		t.Error("Navigate(sideways) should fail")
	}
	if err := UpdateSetting("audio", "not json"); err == nil {
		t.Error("UpdateSetting with invalid JSON should fail")
	}
	if err := Receive(`{"type":"eject","payload":{}}`); !errors.Is(err, protocol.ErrUnknownType) {
		t.Errorf("Receive(unknown) error = %v, want ErrUnknownType", err)
	}
	if err := Receive(`garbage`); !errors.Is(err, protocol.ErrMalformedMessage) {
		t.Errorf("Receive(garbage) error = %v, want ErrMalformedMessage", err)
	}
}

func TestIntrospection(t *testing.T) {
	startBridge(t)

	if IsReady() {
		t.Error("IsReady() = true before MarkReady")
	}
	if !MarkReady() || MarkReady() {
		t.Error("MarkReady() should transition exactly once")
	}
	if !IsReady() {
		t.Error("IsReady() = false after MarkReady")
	}
	if Version() != protocol.Version {
		t.Errorf("Version() = %q", Version())
	}

	var caps []string
	if err := json.Unmarshal([]byte(Capabilities()), &caps); err != nil {
		t.Fatalf("Capabilities() invalid JSON: %v", err)
	}
	if len(caps) != 8 || caps[0] != "playTitle" || caps[7] != "seekTo" {
		t.Errorf("Capabilities() = %v", caps)
	}
}

func TestStartWithConfig(t *testing.T) {
	logger := &fakeLogger{}
	err := StartWithConfig(logger, "[bridge]\nqueue_capacity = 1\nready = true\n")
	if err != nil {
		t.Fatalf("StartWithConfig() error: %v", err)
	}
	t.Cleanup(Stop)

	if !IsReady() {
		t.Error("bridge.ready = true should start ready")
	}
	if err := PlayTitle(1); err != nil {
		t.Fatalf("PlayTitle() error: %v", err)
	}
	if err := PlayTitle(2); err != nil {
		t.Fatalf("PlayTitle() error: %v", err)
	}

	host := &fakeHost{available: true}
	if err := SetHost(host); err != nil {
		t.Fatalf("SetHost() error: %v", err)
	}
	envs := host.envelopes(t)
	if len(envs) != 1 || string(envs[0].Payload) != `{"titleId":2}` {
		t.Errorf("host received %+v, want only the newest title", envs)
	}

	logger.mu.Lock()
	defer logger.mu.Unlock()
	found := false
	for _, line := range logger.lines {
		if strings.Contains(line, "dropped oldest envelope") && strings.Contains(line, "component=bridge") {
			found = true
		}
	}
	if !found {
		t.Errorf("logger lines %q missing drop warning", logger.lines)
	}
}

func TestStartWithConfig_Invalid(t *testing.T) {
	Stop()
	if err := StartWithConfig(nil, "[bridge"); err == nil {
		t.Error("StartWithConfig() with bad TOML should fail")
	}
	if err := StartWithConfig(nil, "[transport]\nserver_url = \"http://x\""); err == nil {
		t.Error("StartWithConfig() with http server_url should fail")
	}
}

func TestConnect_HostRouter(t *testing.T) {
	startBridge(t)

	frames := make(chan []byte, 4)
	var mu sync.Mutex
	var server *websocket.Conn
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		server = conn
		mu.Unlock()
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				return
			}
			frames <- data
		}
	}))
	defer srv.Close()

	l := &fakeListener{}
	Subscribe("showMenu", l)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	if err := Connect(url, "test"); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer Disconnect()

	if err := SetVolume(0.25); err != nil {
		t.Fatalf("SetVolume() error: %v", err)
	}
	select {
	case data := <-frames:
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type != protocol.TypeVolumeChange {
			t.Errorf("router received %s (%v)", data, err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for frame")
	}

	mu.Lock()
	conn := server
	mu.Unlock()
	if err := conn.Write(t.Context(), websocket.MessageText, []byte(`{"type":"show_menu","payload":{"menuId":"extras"}}`)); err != nil {
		t.Fatalf("router Write() error: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for len(l.snapshot()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for showMenu event")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := l.snapshot()[0]; got != (event{"showMenu", `"extras"`}) {
		t.Errorf("event = %+v", got)
	}
}

func TestMobileLogHandler(t *testing.T) {
	t.Parallel()

	logger := &fakeLogger{}
	log := slog.New(&mobileLogHandler{callback: logger}).With("component", "bridge").WithGroup("req")
	log.Info("hello", "id", 3)

	if len(logger.lines) != 1 || logger.lines[0] != "hello component=bridge req.id=3" {
		t.Errorf("lines = %q", logger.lines)
	}
}
