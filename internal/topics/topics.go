// Package topics constructs the room topic names. The literal layout is
// compatibility-critical; every component must build names through these
// helpers rather than formatting strings inline.
package topics

import "fmt"

// Public is the approved timeline. Read: all; write: gateway, facilitator, users.
func Public(roomID string) string {
	return fmt.Sprintf("rooms/%s/public", roomID)
}

// PublicCandidates carries agent proposals awaiting gateway decision.
func PublicCandidates(roomID string) string {
	return fmt.Sprintf("rooms/%s/public_candidates", roomID)
}

// Control carries mic grants, revokes, and rejection receipts.
func Control(roomID string) string {
	return fmt.Sprintf("rooms/%s/control", roomID)
}

// Summary carries summarizer output.
func Summary(roomID string) string {
	return fmt.Sprintf("rooms/%s/summary", roomID)
}

// AgentInbox is the private task dispatch topic for one agent.
func AgentInbox(roomID, agentID string) string {
	return fmt.Sprintf("rooms/%s/agents/%s/inbox", roomID, agentID)
}

// AgentHeartbeat is the presence topic for one agent.
func AgentHeartbeat(roomID, agentID string) string {
	return fmt.Sprintf("rooms/%s/agents/%s/heartbeat", roomID, agentID)
}

// AllAgentHeartbeats is the wildcard subscription matching every agent's
// heartbeat topic in a room.
func AllAgentHeartbeats(roomID string) string {
	return fmt.Sprintf("rooms/%s/agents/+/heartbeat", roomID)
}

// HeartbeatAgentID extracts the agent id from a concrete heartbeat topic,
// returning "" when the topic does not match the heartbeat layout.
func HeartbeatAgentID(topic string) string {
	// rooms/{roomId}/agents/{agentId}/heartbeat
	var parts [5]string
	n := 0
	start := 0
	for i := 0; i <= len(topic); i++ {
		if i == len(topic) || topic[i] == '/' {
			if n >= len(parts) {
				return ""
			}
			parts[n] = topic[start:i]
			n++
			start = i + 1
		}
	}
	if n != 5 || parts[0] != "rooms" || parts[2] != "agents" || parts[4] != "heartbeat" {
		return ""
	}
	return parts[3]
}
