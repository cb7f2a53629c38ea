package envelope

import (
	"encoding/json"
	"fmt"
)

// SayPayload is free-form human (or facilitator) chat.
type SayPayload struct {
	Text string `json:"text"`
}

// TaskPayload is an authoritative instruction to perform work, delivered on
// an agent's private inbox.
type TaskPayload struct {
	TaskID   string `json:"task_id"`
	Goal     string `json:"goal"`
	Format   string `json:"format,omitempty"`
	Deadline int64  `json:"deadline,omitempty"`
}

// MicGrantPayload grants a (agent, task) pair time-boxed, quota-bounded
// permission to emit disclosures of specific types.
type MicGrantPayload struct {
	TaskID              string        `json:"task_id"`
	AgentID             string        `json:"agent_id"`
	MaxMessages         int           `json:"max_messages"`
	AllowedMessageTypes []MessageType `json:"allowed_message_types"`
	ExpiresAt           int64         `json:"expires_at"`
}

// MicRevokePayload withdraws an active mic grant.
type MicRevokePayload struct {
	TaskID  string `json:"task_id"`
	AgentID string `json:"agent_id"`
	Reason  string `json:"reason,omitempty"`
}

// HeartbeatPayload announces presence. Description rides along every 3rd
// beat only, so the registry must retain the last non-empty value.
type HeartbeatPayload struct {
	TS          int64  `json:"ts"`
	Description string `json:"description,omitempty"`
}

// ResultPayload is a structured agent disclosure. Content stays raw; its
// shape is selected by MessageType (see ValidateContent).
type ResultPayload struct {
	TaskID      string          `json:"task_id"`
	MessageType MessageType     `json:"message_type"`
	Content     json.RawMessage `json:"content"`
}

// RejectPayload explains why a candidate was blocked.
type RejectPayload struct {
	MessageID string `json:"message_id"`
	TaskID    string `json:"task_id"`
	Reason    string `json:"reason"`
}

// SummaryPayload carries one condensation round's output.
type SummaryPayload struct {
	SummaryText   string `json:"summary_text"`
	CoversUntilTS int64  `json:"covers_until_ts"`
	MessageCount  int    `json:"message_count"`
	GeneratedAt   int64  `json:"generated_at"`
}

// MessageType selects the disclosure content sub-schema.
type MessageType string

const (
	MsgAck                MessageType = "ack"
	MsgClarifyingQuestion MessageType = "clarifying_question"
	MsgProgress           MessageType = "progress"
	MsgFinding            MessageType = "finding"
	MsgRisk               MessageType = "risk"
	MsgResult             MessageType = "result"
	MsgArtifactLink       MessageType = "artifact_link"
)

// AllMessageTypes is the full disclosure vocabulary in canonical order.
var AllMessageTypes = []MessageType{
	MsgAck, MsgClarifyingQuestion, MsgProgress, MsgFinding,
	MsgRisk, MsgResult, MsgArtifactLink,
}

// KnownMessageType reports whether mt is in the disclosure vocabulary.
func KnownMessageType(mt MessageType) bool {
	switch mt {
	case MsgAck, MsgClarifyingQuestion, MsgProgress, MsgFinding,
		MsgRisk, MsgResult, MsgArtifactLink:
		return true
	}
	return false
}

// AckContent acknowledges task acceptance.
type AckContent struct {
	Text string `json:"text"`
}

// ClarifyingQuestionContent requests user input.
type ClarifyingQuestionContent struct {
	Question string `json:"question"`
}

// ProgressContent is a lightweight status update.
type ProgressContent struct {
	Text string `json:"text"`
}

// FindingContent reports an intermediate discovery.
type FindingContent struct {
	Bullets []string `json:"bullets"`
}

// RiskContent is an early warning or constraint.
type RiskContent struct {
	Text       string `json:"text"`
	Severity   string `json:"severity"`
	Mitigation string `json:"mitigation,omitempty"`
}

// ResultContent is the final output of a task.
type ResultContent struct {
	Text string `json:"text"`
}

// ArtifactLinkContent references an external artifact.
type ArtifactLinkContent struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// ValidateContent checks content against the sub-schema selected by mt.
// Unknown message types and missing required fields are errors.
func ValidateContent(mt MessageType, content json.RawMessage) error {
	if len(content) == 0 {
		return fmt.Errorf("envelope: %s content: missing", mt)
	}
	switch mt {
	case MsgAck:
		var c AckContent
		if err := json.Unmarshal(content, &c); err != nil {
			return fmt.Errorf("envelope: ack content: %w", err)
		}
		if c.Text == "" {
			return fmt.Errorf("envelope: ack content: missing text")
		}
	case MsgClarifyingQuestion:
		var c ClarifyingQuestionContent
		if err := json.Unmarshal(content, &c); err != nil {
			return fmt.Errorf("envelope: clarifying_question content: %w", err)
		}
		if c.Question == "" {
			return fmt.Errorf("envelope: clarifying_question content: missing question")
		}
	case MsgProgress:
		var c ProgressContent
		if err := json.Unmarshal(content, &c); err != nil {
			return fmt.Errorf("envelope: progress content: %w", err)
		}
		if c.Text == "" {
			return fmt.Errorf("envelope: progress content: missing text")
		}
	case MsgFinding:
		var c FindingContent
		if err := json.Unmarshal(content, &c); err != nil {
			return fmt.Errorf("envelope: finding content: %w", err)
		}
		if len(c.Bullets) == 0 {
			return fmt.Errorf("envelope: finding content: missing bullets")
		}
	case MsgRisk:
		var c RiskContent
		if err := json.Unmarshal(content, &c); err != nil {
			return fmt.Errorf("envelope: risk content: %w", err)
		}
		if c.Text == "" {
			return fmt.Errorf("envelope: risk content: missing text")
		}
		switch c.Severity {
		case "low", "med", "high":
		default:
			return fmt.Errorf("envelope: risk content: bad severity %q", c.Severity)
		}
	case MsgResult:
		var c ResultContent
		if err := json.Unmarshal(content, &c); err != nil {
			return fmt.Errorf("envelope: result content: %w", err)
		}
		if c.Text == "" {
			return fmt.Errorf("envelope: result content: missing text")
		}
	case MsgArtifactLink:
		var c ArtifactLinkContent
		if err := json.Unmarshal(content, &c); err != nil {
			return fmt.Errorf("envelope: artifact_link content: %w", err)
		}
		if c.Label == "" || c.URL == "" {
			return fmt.Errorf("envelope: artifact_link content: missing label or url")
		}
	default:
		return fmt.Errorf("envelope: unknown message type %q", mt)
	}
	return nil
}
