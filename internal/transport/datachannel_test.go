package transport

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/kuuji/kdvdbridge/internal/bridge"
	"github.com/kuuji/kdvdbridge/pkg/protocol"
)

func TestDataChannel_RoundTrip(t *testing.T) {
	t.Parallel()

	local, remote := newDataChannelPair(t)

	received := make(chan []byte, 8)
	remote.OnMessage(func(msg webrtc.DataChannelMessage) {
		received <- msg.Data
	})

	ctx := context.Background()
	b := bridge.New(nil)
	b.SeekTo(ctx, 5)

	directions := make(chan protocol.Direction, 1)
	bridge.On(b, protocol.EventNavigate, func(d protocol.Direction) error {
		directions <- d
		return nil
	})

	dc := NewDataChannel(local, b, nil)
	waitFor(t, "data channel attach", b.HasTransport)

	select {
	case data := <-received:
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("remote received invalid JSON: %v", err)
		}
		if env.Type != protocol.TypeSeekTo || string(env.Payload) != `{"position":5}` {
			t.Errorf("remote received %s %s, want seek to 5", env.Type, env.Payload)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for drained envelope")
	}

	if err := remote.SendText(`{"type":"navigate","payload":{"direction":"up"},"timestamp":1}`); err != nil {
		t.Fatalf("remote SendText() error: %v", err)
	}
	select {
	case d := <-directions:
		if d != protocol.DirectionUp {
			t.Errorf("navigate listener got %q, want %q", d, protocol.DirectionUp)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for navigate notification")
	}

	if err := dc.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if b.HasTransport() {
		t.Error("bridge still has a transport after Close")
	}
}

func TestDataChannel_SendCancelled(t *testing.T) {
	t.Parallel()

	local, _ := newDataChannelPair(t)
	dc := NewDataChannel(local, bridge.New(nil), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := dc.Send(ctx, []byte(`{}`)); err == nil {
		t.Error("Send() with cancelled context should fail")
	}
}

// --- helpers ---

// newDataChannelPair connects two in-process peer connections and returns
// the offerer's data channel and the answerer's, both open.
func newDataChannelPair(t *testing.T) (*webrtc.DataChannel, *webrtc.DataChannel) {
	t.Helper()

	newPC := func(name string) *webrtc.PeerConnection {
		pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
		if err != nil {
			t.Fatalf("NewPeerConnection(%s) error: %v", name, err)
		}
		t.Cleanup(func() {
			if err := pc.Close(); err != nil {
				t.Logf("%s.Close() error: %v", name, err)
			}
		})
		return pc
	}
	offerer := newPC("offerer")
	answerer := newPC("answerer")

	remoteCh := make(chan *webrtc.DataChannel, 1)
	answerer.OnDataChannel(func(dc *webrtc.DataChannel) {
		dc.OnOpen(func() { remoteCh <- dc })
	})

	localOpen := make(chan struct{})
	local, err := offerer.CreateDataChannel("kdvdbridge", nil)
	if err != nil {
		t.Fatalf("CreateDataChannel() error: %v", err)
	}
	local.OnOpen(func() { close(localOpen) })

	// Non-trickle exchange: each side waits for gathering to finish so the
	// descriptions carry every candidate.
	offer, err := offerer.CreateOffer(nil)
	if err != nil {
		t.Fatalf("CreateOffer() error: %v", err)
	}
	gathered := webrtc.GatheringCompletePromise(offerer)
	if err := offerer.SetLocalDescription(offer); err != nil {
		t.Fatalf("SetLocalDescription(offer) error: %v", err)
	}
	waitChan(t, gathered, "offerer ICE gathering")

	if err := answerer.SetRemoteDescription(*offerer.LocalDescription()); err != nil {
		t.Fatalf("SetRemoteDescription(offer) error: %v", err)
	}
	answer, err := answerer.CreateAnswer(nil)
	if err != nil {
		t.Fatalf("CreateAnswer() error: %v", err)
	}
	gathered = webrtc.GatheringCompletePromise(answerer)
	if err := answerer.SetLocalDescription(answer); err != nil {
		t.Fatalf("SetLocalDescription(answer) error: %v", err)
	}
	waitChan(t, gathered, "answerer ICE gathering")

	if err := offerer.SetRemoteDescription(*answerer.LocalDescription()); err != nil {
		t.Fatalf("SetRemoteDescription(answer) error: %v", err)
	}

	waitChan(t, localOpen, "local data channel open")

	select {
	case remote := <-remoteCh:
		return local, remote
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for remote data channel open")
		return nil, nil
	}
}

func waitChan(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()

	select {
	case <-ch:
	case <-time.After(10 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}
