package control

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/kuuji/kdvdbridge/internal/bridge"
	"github.com/kuuji/kdvdbridge/pkg/protocol"
)

// recordingTransport collects the frames the bridge sends.
type recordingTransport struct {
	mu     sync.Mutex
	frames [][]byte
}

func (r *recordingTransport) Send(_ context.Context, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, append([]byte(nil), data...))
	return nil
}

func (r *recordingTransport) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func startServer(t *testing.T, b *bridge.Bridge) string {
	t.Helper()

	// Unix socket paths are limited to ~108 bytes; keep them short.
	dir, err := os.MkdirTemp("", "kdvd")
	if err != nil {
		t.Fatalf("MkdirTemp() error: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	socketPath := filepath.Join(dir, "c.sock")

	srv := NewServer(socketPath, b, "ws://127.0.0.1:9180/connect", nil)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })
	return socketPath
}

func TestServer_StartStopFetchStatus(t *testing.T) {
	t.Parallel()

	b := bridge.New(nil)
	b.Subscribe(protocol.EventPlayTitle, func(any) error { return nil })
	if res := b.PlayTitle(context.Background(), 3); res.Err != nil {
		t.Fatalf("PlayTitle() error: %v", res.Err)
	}

	socketPath := startServer(t, b)

	status, err := FetchStatus(socketPath)
	if err != nil {
		t.Fatalf("FetchStatus() error: %v", err)
	}

	if status.Version != protocol.Version {
		t.Errorf("Version = %q, want %q", status.Version, protocol.Version)
	}
	if status.Ready || status.TransportAttached {
		t.Errorf("Ready/TransportAttached = %v/%v, want false/false", status.Ready, status.TransportAttached)
	}
	if status.Pending != 1 || status.Queued != 1 {
		t.Errorf("Pending/Queued = %d/%d, want 1/1", status.Pending, status.Queued)
	}
	if status.Listeners != 1 {
		t.Errorf("Listeners = %d, want 1", status.Listeners)
	}
	if status.ServerURL != "ws://127.0.0.1:9180/connect" {
		t.Errorf("ServerURL = %q", status.ServerURL)
	}
	if len(status.Capabilities) != len(protocol.Capabilities()) {
		t.Errorf("Capabilities = %v", status.Capabilities)
	}
	if status.UptimeSeconds < 0 {
		t.Errorf("UptimeSeconds = %v, want >= 0", status.UptimeSeconds)
	}
}

func TestClient_DispatchAndReady(t *testing.T) {
	t.Parallel()

	b := bridge.New(nil)
	socketPath := startServer(t, b)
	c := NewClient(socketPath)
	ctx := context.Background()

	resp, err := c.Dispatch(ctx, "setVolume", []string{"0.5"})
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}
	if resp.Type != protocol.TypeVolumeChange || !resp.Queued || resp.Sent {
		t.Errorf("Dispatch() without transport = %+v, want queued volume change", resp)
	}

	transitioned, err := c.MarkReady(ctx)
	if err != nil {
		t.Fatalf("MarkReady() error: %v", err)
	}
	if !transitioned {
		t.Error("first MarkReady() should transition")
	}
	again, err := c.MarkReady(ctx)
	if err != nil {
		t.Fatalf("MarkReady() error: %v", err)
	}
	if again {
		t.Error("second MarkReady() should not transition")
	}

	rt := &recordingTransport{}
	b.AttachTransport(ctx, rt)
	if rt.count() != 1 {
		t.Fatalf("transport received %d frames after attach, want 1", rt.count())
	}

	resp, err = c.Dispatch(ctx, "goBack", nil)
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}
	if !resp.Sent || resp.Queued {
		t.Errorf("Dispatch() with transport = %+v, want sent", resp)
	}
	if rt.count() != 2 {
		t.Errorf("transport received %d frames, want 2", rt.count())
	}

	status, err := c.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	if !status.Ready || !status.TransportAttached || status.Sent != 2 {
		t.Errorf("status = %+v, want ready, attached, 2 sent", status)
	}
}

func TestClient_DispatchErrors(t *testing.T) {
	t.Parallel()

	socketPath := startServer(t, bridge.New(nil))
	c := NewClient(socketPath)

	tests := []struct {
		name    string
		action  string
		args    []string
		wantErr string
	}{
		{"missing action", "", nil, "action is required"},
		{"unknown action", "eject", nil, "status 400"},
		{"bad argument", "playTitle", []string{"first"}, "status 400"},
		{"missing argument", "seekTo", nil, "status 400"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := c.Dispatch(context.Background(), tt.action, tt.args)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Dispatch() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestHandler_DispatchInvalidBody(t *testing.T) {
	t.Parallel()

	srv := NewServer("", bridge.New(nil), "", nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/dispatch", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatalf("POST /dispatch error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	if body["error"] != "invalid request body" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestServer_ListenerFailuresReported(t *testing.T) {
	t.Parallel()

	b := bridge.New(nil)
	b.Subscribe(protocol.EventSelect, func(any) error { panic("boom") })
	socketPath := startServer(t, b)

	resp, err := NewClient(socketPath).Dispatch(context.Background(), "select", nil)
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}
	if resp.Listeners != 1 || len(resp.Failures) != 1 {
		t.Errorf("Dispatch() = %+v, want 1 listener with 1 failure", resp)
	}

	status, err := FetchStatus(socketPath)
	if err != nil {
		t.Fatalf("FetchStatus() error: %v", err)
	}
	if status.ListenerFailures != 1 {
		t.Errorf("ListenerFailures = %d, want 1", status.ListenerFailures)
	}
}

func TestFetchStatus_NoServer(t *testing.T) {
	t.Parallel()

	socketPath := filepath.Join(t.TempDir(), "nonexistent.sock")

	_, err := FetchStatus(socketPath)
	if err == nil {
		t.Fatal("expected error when server is not running, got nil")
	}
}

func TestResolveSocketPath_XDG(t *testing.T) {
	if _, err := os.Stat("/run/kdvdbridge"); err == nil {
		t.Skip("/run/kdvdbridge exists")
	}
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")

	got := ResolveSocketPath()
	if got != "/run/user/1000/kdvdbridge/control.sock" && got != "/tmp/kdvdbridge/control.sock" {
		t.Errorf("ResolveSocketPath() = %q", got)
	}
}

