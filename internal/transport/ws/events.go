package ws

import (
	"encoding/json"
	"time"

	"github.com/vedran77/nebula/internal/realtime"
)

// Envelope types - Client → Server
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeJoin        = "join"
	TypeLeave       = "leave"
	TypePing        = "ping"
)

// Envelope types - Server → Client
const (
	TypeAck    = "ack"
	TypeChange = "change"
	TypePong   = "pong"
	TypeError  = "error"
)

// TypeBroadcast goes both ways: a client sends it to publish, the server
// sends it to deliver.
const TypeBroadcast = "broadcast"

// Error codes
const (
	CodeInvalidPayload = "INVALID_PAYLOAD"
	CodeUnknownType    = "UNKNOWN_EVENT"
	CodeDuplicateRef   = "DUPLICATE_REF"
	CodeUnknownRef     = "UNKNOWN_REF"
	CodeRateLimited    = "RATE_LIMITED"
	CodeUnavailable    = "UNAVAILABLE"
)

// Envelope is the frame for every WebSocket message. Ref ties a reply to its
// request, and change or broadcast deliveries to the subscribe or join that
// asked for them.
type Envelope struct {
	Type      string          `json:"type"`
	Ref       string          `json:"ref,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"ts,omitempty"`
}

// --- Client → Server payloads ---

// SubscribePayload selects the changes to deliver.
type SubscribePayload = realtime.Filter

type JoinPayload struct {
	Channel string `json:"channel"`
}

// --- Shared payloads ---

type BroadcastPayload struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// --- Server → Client payloads ---

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewEnvelope creates an envelope stamped with the current time in
// milliseconds.
func NewEnvelope(typ, ref string, payload any) (*Envelope, error) {
	env := &Envelope{Type: typ, Ref: ref, Timestamp: time.Now().UnixMilli()}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Payload = data
	}
	return env, nil
}
