package envelope

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ContextLine flattens an envelope into a single prompt line for oracle
// context ("alice: hi", "math [finding]: ..."), or "" for envelope types an
// oracle does not need (heartbeats, grants, summaries).
func ContextLine(e Envelope) string {
	switch e.Type {
	case TypeSay:
		p, err := e.Say()
		if err != nil {
			return ""
		}
		return fmt.Sprintf("%s: %s", e.From.ID, p.Text)
	case TypeResult:
		p, err := e.Result()
		if err != nil {
			return ""
		}
		text := DisclosureText(p)
		if text == "" {
			return ""
		}
		return fmt.Sprintf("%s [%s]: %s", e.From.ID, p.MessageType, text)
	}
	return ""
}

// DisclosureText extracts the human-readable core of a disclosure: the
// text, question, joined bullets, or labeled link, depending on the
// message type.
func DisclosureText(p ResultPayload) string {
	switch p.MessageType {
	case MsgAck, MsgProgress, MsgRisk, MsgResult:
		var c struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(p.Content, &c); err != nil {
			return ""
		}
		return c.Text
	case MsgClarifyingQuestion:
		var c ClarifyingQuestionContent
		if err := json.Unmarshal(p.Content, &c); err != nil {
			return ""
		}
		return c.Question
	case MsgFinding:
		var c FindingContent
		if err := json.Unmarshal(p.Content, &c); err != nil {
			return ""
		}
		return strings.Join(c.Bullets, "; ")
	case MsgArtifactLink:
		var c ArtifactLinkContent
		if err := json.Unmarshal(p.Content, &c); err != nil {
			return ""
		}
		return fmt.Sprintf("%s <%s>", c.Label, c.URL)
	}
	return ""
}
