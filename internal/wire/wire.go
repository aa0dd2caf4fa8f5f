// Package wire defines the JSON message envelope spoken over the tracking
// websocket. Every frame is an Envelope carrying a type tag and a payload;
// payloads are validated at the boundary before anything downstream sees
// them.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Message types. The set is closed: anything else is a protocol error.
const (
	TypeFix         = "fix"          // producer -> server: raw position report
	TypeSubscribe   = "subscribe"    // consumer -> server: join an agent room
	TypeUnsubscribe = "unsubscribe"  // consumer -> server: leave an agent room
	TypeSubscribed  = "subscribed"   // server -> consumer: join ack, with snapshot if any
	TypePosition    = "position"     // server -> consumer: smoothed position update
	TypeStatus      = "status"       // server -> consumer: producer online/offline transition
	TypeAck         = "ack"          // server -> producer: fix accepted
	TypeError       = "error"        // server -> either: request rejected
)

// ErrUnknownType is returned for a frame whose type tag is not in the closed
// message set.
var ErrUnknownType = errors.New("wire: unknown message type")

// ErrValidation wraps payload validation failures.
var ErrValidation = errors.New("wire: invalid payload")

// Envelope is the outer frame: a type tag plus the raw payload.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Fix is a raw position report from a producer.
type Fix struct {
	AgentID        string    `json:"agent_id" validate:"required,max=128"`
	Lat            float64   `json:"lat" validate:"gte=-90,lte=90"`
	Lng            float64   `json:"lng" validate:"gte=-180,lte=180"`
	SpeedKmh       *float64  `json:"speed_kmh,omitempty" validate:"omitempty,gte=0"`
	HeadingDeg     *float64  `json:"heading_deg,omitempty" validate:"omitempty,gte=0,lt=360"`
	AccuracyMeters *float64  `json:"accuracy_m,omitempty" validate:"omitempty,gt=0"`
	Timestamp      time.Time `json:"timestamp" validate:"required"`
}

// Subscribe asks to join one agent's room.
type Subscribe struct {
	AgentID string `json:"agent_id" validate:"required,max=128"`
}

// Unsubscribe asks to leave one agent's room.
type Unsubscribe struct {
	AgentID string `json:"agent_id" validate:"required,max=128"`
}

// Subscribed acknowledges a room join. Active reports whether the producer
// is currently alive; HasPosition is false when the agent has never
// reported, otherwise Position is the current snapshot.
type Subscribed struct {
	AgentID     string    `json:"agent_id"`
	Active      bool      `json:"active"`
	HasPosition bool      `json:"has_position"`
	Position    *Position `json:"position,omitempty"`
}

// Position is a smoothed estimate pushed to a room.
type Position struct {
	AgentID    string    `json:"agent_id"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	SpeedKmh   float64   `json:"speed_kmh"`
	HeadingDeg float64   `json:"heading_deg"`
	Confidence float64   `json:"confidence"`
	Stale      bool      `json:"stale"`
	Timestamp  time.Time `json:"timestamp"`
}

// Status announces a producer liveness transition: offline when an agent
// goes silent past the staleness threshold, online when it reports again.
type Status struct {
	AgentID   string    `json:"agent_id"`
	Active    bool      `json:"active"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Ack confirms that a fix was accepted.
type Ack struct {
	AgentID string `json:"agent_id"`
	OK      bool   `json:"ok"`
}

// Error reports a rejected request back to the peer.
type Error struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Error codes.
const (
	CodeBadPayload    = "bad_payload"
	CodeUnknownType   = "unknown_type"
	CodeRoomFull      = "room_full"
	CodeNotSubscribed = "not_subscribed"
)

var validate = validator.New()

// Encode wraps a payload in an envelope and marshals the frame.
func Encode(msgType string, payload any) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("wire: encoding %s payload: %w", msgType, err)
		}
	}
	return json.Marshal(Envelope{Type: msgType, Data: data})
}

// Decode parses one frame and returns the validated payload. The concrete
// type follows the type tag: *Fix, *Subscribe, *Unsubscribe, *Subscribed,
// *Position, *Status, *Ack or *Error.
func Decode(frame []byte) (string, any, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	var payload any
	switch env.Type {
	case TypeFix:
		payload = &Fix{}
	case TypeSubscribe:
		payload = &Subscribe{}
	case TypeUnsubscribe:
		payload = &Unsubscribe{}
	case TypeSubscribed:
		payload = &Subscribed{}
	case TypePosition:
		payload = &Position{}
	case TypeStatus:
		payload = &Status{}
	case TypeAck:
		payload = &Ack{}
	case TypeError:
		payload = &Error{}
	default:
		return env.Type, nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	if err := json.Unmarshal(env.Data, payload); err != nil {
		return env.Type, nil, fmt.Errorf("%w: %s payload: %v", ErrValidation, env.Type, err)
	}
	if err := validate.Struct(payload); err != nil {
		return env.Type, nil, fmt.Errorf("%w: %s: %v", ErrValidation, env.Type, err)
	}
	return env.Type, payload, nil
}
