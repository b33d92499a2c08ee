// Package transport connects a bridge.Bridge to the native host.
//
// Two transports are provided: Client, a reconnecting WebSocket client for
// hosts that expose the host router over HTTP, and DataChannel, which runs
// the same envelopes over an open WebRTC data channel. Both attach
// themselves to the bridge when the link comes up (draining its pending
// queue), detach when it drops, and feed every inbound frame to
// Bridge.Receive.
package transport

import (
	"context"
	"errors"

	"github.com/kuuji/kdvdbridge/internal/bridge"
)

// ErrNotConnected is returned by Send while the link to the host is down.
var ErrNotConnected = errors.New("not connected")

// Endpoint is the part of *bridge.Bridge a transport drives.
type Endpoint interface {
	AttachTransport(ctx context.Context, t bridge.Transport)
	DetachTransport(t bridge.Transport) bool
	Receive(data []byte) error
}

var (
	_ bridge.Transport = (*Client)(nil)
	_ bridge.Transport = (*DataChannel)(nil)
	_ Endpoint         = (*bridge.Bridge)(nil)
)
