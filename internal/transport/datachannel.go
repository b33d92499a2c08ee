package transport

import (
	"context"
	"log/slog"

	"github.com/pion/webrtc/v4"
)

// DataChannel runs the bridge over a WebRTC data channel. Envelopes are sent
// as text messages.
type DataChannel struct {
	dc     *webrtc.DataChannel
	bridge Endpoint
	log    *slog.Logger
}

// NewDataChannel wires dc to b. The transport attaches itself to b when the
// channel opens (immediately if it already is) and detaches when it closes.
func NewDataChannel(dc *webrtc.DataChannel, b Endpoint, logger *slog.Logger) *DataChannel {
	if logger == nil {
		logger = slog.Default()
	}

	d := &DataChannel{
		dc:     dc,
		bridge: b,
		log:    logger.With("component", "transport", "label", dc.Label()),
	}

	dc.OnOpen(func() {
		d.log.Info("data channel open")
		b.AttachTransport(context.Background(), d)
	})
	dc.OnClose(func() {
		d.log.Info("data channel closed")
		b.DetachTransport(d)
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if !msg.IsString {
			d.log.Debug("ignoring binary message", "size", len(msg.Data))
			return
		}
		_ = b.Receive(msg.Data)
	})

	return d
}

// Send writes one envelope. It returns ErrNotConnected unless the channel
// is open.
func (d *DataChannel) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrNotConnected
	}
	return d.dc.SendText(string(data))
}

// Close detaches the transport and closes the data channel.
func (d *DataChannel) Close() error {
	d.bridge.DetachTransport(d)
	return d.dc.Close()
}
