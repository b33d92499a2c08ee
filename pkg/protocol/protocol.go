// Package protocol defines the envelope exchanged between the disc menu UI and
// the native player host, and the closed sets of messages carried inside it.
//
// Every message is a JSON object with a "type" discriminator, an
// action-specific "payload" and a millisecond "timestamp":
//
//	{"type":"8kdvd_play_title","payload":{"titleId":42},"timestamp":1760870000000}
//
// Actions flow from the UI to the host and use the "8kdvd_" namespace.
// Commands flow from the host to the UI and use bare names ("play_title").
// The package has no external dependencies; the gomobile binding and the host
// router both import it.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Version is the static identifier of the bridge API exposed to UI code.
const Version = "1.0.0"

var (
	// ErrMalformedMessage is returned when a payload cannot be decoded into an
	// Envelope, when the envelope has no type, or when the payload does not
	// match the shape of its type.
	ErrMalformedMessage = errors.New("malformed message")

	// ErrUnknownType is returned for a well-formed envelope whose type is not
	// in the dispatch table.
	ErrUnknownType = errors.New("unknown message type")

	// ErrUnknownAction is returned by ParseAction and ParseCommand for names
	// outside the supported set.
	ErrUnknownAction = errors.New("unknown action")
)

// Envelope is the wire-level wrapper around every message.
type Envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
}

// Time returns the envelope timestamp as a time.Time.
func (e Envelope) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// Message is implemented by every action and command.
type Message interface {
	// MessageType returns the wire-format type string (e.g. "8kdvd_seek_to").
	MessageType() string
}

// NewEnvelope wraps msg in an Envelope stamped with ts.
func NewEnvelope(msg Message, ts time.Time) (Envelope, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshaling %q payload: %w", msg.MessageType(), err)
	}
	return Envelope{
		Type:      msg.MessageType(),
		Payload:   payload,
		Timestamp: ts.UnixMilli(),
	}, nil
}

// Encode serializes msg as a JSON envelope stamped with ts.
func Encode(msg Message, ts time.Time) ([]byte, error) {
	env, err := NewEnvelope(msg, ts)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// DecodeCommand deserializes an inbound (host → UI) envelope.
func DecodeCommand(data []byte) (Envelope, Command, error) {
	return decode(data, commandTypes)
}

// DecodeAction deserializes an outbound (UI → host) envelope. It is used by
// the host side. Both "go back" and "navigate" share the 8kdvd_navigate_menu
// type, so a go-back decodes as *Navigate with DirectionBack.
func DecodeAction(data []byte) (Envelope, Action, error) {
	return decode(data, actionTypes)
}

// decode performs the two-pass decode: first the envelope, then the payload
// into the concrete type selected by the discriminator.
func decode[M Message](data []byte, table map[string]func() M) (Envelope, M, error) {
	var zero M

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, zero, fmt.Errorf("%w: decoding envelope: %v", ErrMalformedMessage, err)
	}
	if env.Type == "" {
		return env, zero, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}

	factory, ok := table[env.Type]
	if !ok {
		return env, zero, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	msg := factory()
	if len(env.Payload) > 0 && string(env.Payload) != "null" {
		if err := json.Unmarshal(env.Payload, msg); err != nil {
			return env, zero, fmt.Errorf("%w: decoding %q payload: %v", ErrMalformedMessage, env.Type, err)
		}
	}
	if v, ok := any(msg).(validator); ok {
		if err := v.validate(); err != nil {
			return env, zero, fmt.Errorf("%w: %q payload: %v", ErrMalformedMessage, env.Type, err)
		}
	}

	return env, msg, nil
}

func checkDirection(d Direction) error {
	if !d.Valid() {
		return fmt.Errorf("invalid direction %q", d)
	}
	return nil
}

// validator is implemented by payloads with constraints beyond their JSON
// shape.
type validator interface {
	validate() error
}
