package facilitator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haricheung/agent-ops-room/internal/llm"
)

// Oracle is the text-completion dependency. *llm.Client satisfies it.
type Oracle interface {
	Chat(ctx context.Context, system, user string) (string, llm.Usage, error)
}

const (
	// ActionDirectReply answers the user without delegation.
	ActionDirectReply = "direct_reply"
	// ActionDelegate assigns the work to a specialist agent.
	ActionDelegate = "delegate"
)

// Decision is the oracle's verdict for one user utterance.
type Decision struct {
	Action   string `json:"action"`
	Text     string `json:"text,omitempty"`
	AgentID  string `json:"agent_id,omitempty"`
	Goal     string `json:"goal,omitempty"`
	Format   string `json:"format,omitempty"`
	Deadline int64  `json:"deadline,omitempty"`
}

const decisionSystemPrompt = `You are the facilitator of a moderated collaboration room. Users chat; specialist agents do delegated work.

For the latest user message, decide ONE of:
- Answer directly when no specialist work is needed (greetings, meta questions, anything you can answer from the conversation alone).
- Delegate when a listed agent's capabilities fit the request. Write the goal as a complete, self-contained instruction; the agent sees only the goal, not the conversation.

Rules:
- Delegate ONLY to an agent from the AVAILABLE AGENTS list, using its exact id.
- Never invent agents. With no suitable agent, answer directly and say what is missing.
- One decision per message. Prefer direct replies for small talk.

Output ONLY a JSON object (no markdown, no prose):
{"action":"direct_reply","text":"<answer>"}
or
{"action":"delegate","agent_id":"<id>","goal":"<instruction>","format":"<optional output format>","deadline":0}`

// buildDecisionPrompt renders the oracle's user prompt: summary, tail,
// registry, and the utterance, in that order.
func buildDecisionPrompt(summary string, tail []string, agents []AgentEntry, userID, text string) string {
	var sb strings.Builder
	if summary != "" {
		sb.WriteString("CONVERSATION SUMMARY:\n")
		sb.WriteString(summary)
		sb.WriteString("\n\n")
	}
	if len(tail) > 0 {
		sb.WriteString("RECENT MESSAGES:\n")
		for _, line := range tail {
			sb.WriteString(line)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("AVAILABLE AGENTS:\n")
	if len(agents) == 0 {
		sb.WriteString("(none)\n")
	}
	for _, a := range agents {
		if a.Description != "" {
			fmt.Fprintf(&sb, "- %s: %s\n", a.ID, a.Description)
		} else {
			fmt.Fprintf(&sb, "- %s\n", a.ID)
		}
	}
	fmt.Fprintf(&sb, "\nUSER MESSAGE (%s):\n%s", userID, text)
	return sb.String()
}

// parseDecision decodes the oracle's JSON verdict after fence stripping.
//
// Expectations:
//   - Accepts a bare JSON object and a fenced one
//   - direct_reply requires non-empty text
//   - delegate requires non-empty agent_id and goal
//   - Unknown actions are errors
func parseDecision(raw string) (Decision, error) {
	raw = llm.StripFences(raw)
	var d Decision
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return Decision{}, fmt.Errorf("facilitator: parse decision: %w (raw: %s)", err, raw)
	}
	switch d.Action {
	case ActionDirectReply:
		if d.Text == "" {
			return Decision{}, fmt.Errorf("facilitator: direct_reply with empty text")
		}
	case ActionDelegate:
		if d.AgentID == "" || d.Goal == "" {
			return Decision{}, fmt.Errorf("facilitator: delegate missing agent_id or goal")
		}
	default:
		return Decision{}, fmt.Errorf("facilitator: unknown action %q", d.Action)
	}
	return d, nil
}

// decide runs one oracle round for a user utterance.
func decide(ctx context.Context, o Oracle, summary string, tail []string, agents []AgentEntry, userID, text string) (Decision, error) {
	raw, _, err := o.Chat(ctx, decisionSystemPrompt, buildDecisionPrompt(summary, tail, agents, userID, text))
	if err != nil {
		return Decision{}, fmt.Errorf("facilitator: oracle: %w", err)
	}
	return parseDecision(raw)
}
