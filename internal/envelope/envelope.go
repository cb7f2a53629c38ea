// Package envelope defines the canonical message envelope carried on every
// room topic, the per-type payload shapes, and the codec that validates the
// (type, payload) pairing during parse.
//
// Envelopes are immutable after send. The gateway republishes an approved
// candidate from its original bytes, never a re-marshaled copy; replay
// re-encodes archived envelopes before republishing them.
package envelope

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type discriminates the envelope payload.
type Type string

const (
	TypeSay       Type = "say"
	TypeTask      Type = "task"
	TypeMicGrant  Type = "mic_grant"
	TypeMicRevoke Type = "mic_revoke"
	TypeHeartbeat Type = "heartbeat"
	TypeResult    Type = "result"
	TypeReject    Type = "reject"
	TypeSummary   Type = "summary"
)

// SenderKind categorizes the author of an envelope.
type SenderKind string

const (
	KindUser   SenderKind = "user"
	KindAgent  SenderKind = "agent"
	KindSystem SenderKind = "system"
)

// Sender identifies the author of an envelope.
type Sender struct {
	Kind SenderKind `json:"kind"`
	ID   string     `json:"id"`
}

// Envelope is the canonical wire message. Payload stays raw so a consumer
// can decode it per Type and a republisher can forward it byte-identical.
type Envelope struct {
	ID      string          `json:"id"`
	Type    Type            `json:"type"`
	RoomID  string          `json:"room_id"`
	From    Sender          `json:"from"`
	TS      int64           `json:"ts"`
	Payload json.RawMessage `json:"payload"`
}

// New builds an envelope with a fresh UUID and the current wall-clock ts.
func New(typ Type, roomID string, from Sender, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("envelope: marshal %s payload: %w", typ, err)
	}
	return Envelope{
		ID:      uuid.New().String(),
		Type:    typ,
		RoomID:  roomID,
		From:    from,
		TS:      time.Now().Unix(),
		Payload: raw,
	}, nil
}

// Encode serializes e as a single JSON object.
func Encode(e Envelope) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("envelope: encode %s: %w", e.ID, err)
	}
	return data, nil
}

// Parse decodes data into an Envelope and validates required fields and the
// (type, payload) pairing. The returned envelope's Payload holds the raw
// payload bytes of the input.
func Parse(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("envelope: parse: %w", err)
	}
	if err := Validate(e); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

// Validate checks structural requirements: non-empty id and room_id, a known
// type, a known sender kind with an id, and a payload that decodes under the
// envelope's type.
func Validate(e Envelope) error {
	if e.ID == "" {
		return fmt.Errorf("envelope: missing id")
	}
	if e.RoomID == "" {
		return fmt.Errorf("envelope: %s: missing room_id", e.ID)
	}
	switch e.From.Kind {
	case KindUser, KindAgent, KindSystem:
	default:
		return fmt.Errorf("envelope: %s: unknown sender kind %q", e.ID, e.From.Kind)
	}
	if e.From.ID == "" {
		return fmt.Errorf("envelope: %s: missing sender id", e.ID)
	}
	if len(e.Payload) == 0 {
		return fmt.Errorf("envelope: %s: missing payload", e.ID)
	}

	var err error
	switch e.Type {
	case TypeSay:
		_, err = e.Say()
	case TypeTask:
		_, err = e.Task()
	case TypeMicGrant:
		_, err = e.MicGrant()
	case TypeMicRevoke:
		_, err = e.MicRevoke()
	case TypeHeartbeat:
		_, err = e.Heartbeat()
	case TypeResult:
		_, err = e.Result()
	case TypeReject:
		_, err = e.Reject()
	case TypeSummary:
		_, err = e.Summary()
	default:
		return fmt.Errorf("envelope: %s: unknown type %q", e.ID, e.Type)
	}
	return err
}

// Say decodes the payload of a say envelope.
func (e Envelope) Say() (SayPayload, error) {
	var p SayPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return SayPayload{}, fmt.Errorf("envelope: %s: say payload: %w", e.ID, err)
	}
	if p.Text == "" {
		return SayPayload{}, fmt.Errorf("envelope: %s: say payload: missing text", e.ID)
	}
	return p, nil
}

// Task decodes the payload of a task envelope.
func (e Envelope) Task() (TaskPayload, error) {
	var p TaskPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return TaskPayload{}, fmt.Errorf("envelope: %s: task payload: %w", e.ID, err)
	}
	if p.TaskID == "" || p.Goal == "" {
		return TaskPayload{}, fmt.Errorf("envelope: %s: task payload: missing task_id or goal", e.ID)
	}
	return p, nil
}

// MicGrant decodes the payload of a mic_grant envelope.
func (e Envelope) MicGrant() (MicGrantPayload, error) {
	var p MicGrantPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return MicGrantPayload{}, fmt.Errorf("envelope: %s: mic_grant payload: %w", e.ID, err)
	}
	if p.TaskID == "" || p.AgentID == "" {
		return MicGrantPayload{}, fmt.Errorf("envelope: %s: mic_grant payload: missing task_id or agent_id", e.ID)
	}
	if len(p.AllowedMessageTypes) == 0 {
		return MicGrantPayload{}, fmt.Errorf("envelope: %s: mic_grant payload: empty allowed_message_types", e.ID)
	}
	for _, mt := range p.AllowedMessageTypes {
		if !KnownMessageType(mt) {
			return MicGrantPayload{}, fmt.Errorf("envelope: %s: mic_grant payload: unknown message type %q", e.ID, mt)
		}
	}
	return p, nil
}

// MicRevoke decodes the payload of a mic_revoke envelope.
func (e Envelope) MicRevoke() (MicRevokePayload, error) {
	var p MicRevokePayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return MicRevokePayload{}, fmt.Errorf("envelope: %s: mic_revoke payload: %w", e.ID, err)
	}
	if p.TaskID == "" || p.AgentID == "" {
		return MicRevokePayload{}, fmt.Errorf("envelope: %s: mic_revoke payload: missing task_id or agent_id", e.ID)
	}
	return p, nil
}

// Heartbeat decodes the payload of a heartbeat envelope.
func (e Envelope) Heartbeat() (HeartbeatPayload, error) {
	var p HeartbeatPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return HeartbeatPayload{}, fmt.Errorf("envelope: %s: heartbeat payload: %w", e.ID, err)
	}
	return p, nil
}

// Result decodes the payload of a result (disclosure) envelope. Field
// presence and the content sub-schema are NOT checked here: the gateway's
// ordered rules decide how a missing task_id or message_type rejects, so
// the codec only requires the payload to decode.
func (e Envelope) Result() (ResultPayload, error) {
	var p ResultPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return ResultPayload{}, fmt.Errorf("envelope: %s: result payload: %w", e.ID, err)
	}
	return p, nil
}

// Reject decodes the payload of a reject envelope.
func (e Envelope) Reject() (RejectPayload, error) {
	var p RejectPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return RejectPayload{}, fmt.Errorf("envelope: %s: reject payload: %w", e.ID, err)
	}
	if p.MessageID == "" && p.Reason == "" {
		return RejectPayload{}, fmt.Errorf("envelope: %s: reject payload: missing message_id and reason", e.ID)
	}
	return p, nil
}

// Summary decodes the payload of a summary envelope.
func (e Envelope) Summary() (SummaryPayload, error) {
	var p SummaryPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return SummaryPayload{}, fmt.Errorf("envelope: %s: summary payload: %w", e.ID, err)
	}
	return p, nil
}
