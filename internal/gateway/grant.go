package gateway

import (
	"github.com/haricheung/agent-ops-room/internal/envelope"
)

// Status is the lifecycle state of a mic grant.
type Status string

const (
	StatusActive    Status = "active"
	StatusExhausted Status = "exhausted"
	StatusExpired   Status = "expired"
	StatusRevoked   Status = "revoked"
)

// terminalGraceSecs is how long a terminal grant stays in the table before a
// sweep discards it. Candidates arriving in that window still get the
// precise reason (revoked/expired/exhausted) instead of no_grant.
const terminalGraceSecs = 60

type grantKey struct {
	roomID  string
	agentID string
	taskID  string
}

// grant tracks one (room, agent, task) speaking permission. At most one
// entry exists per key; replacing an Active grant resets the counter.
type grant struct {
	maxMessages int
	allowed     map[envelope.MessageType]struct{}
	expiresAt   int64
	usedCount   int
	status      Status
	terminalAt  int64 // set when status leaves Active
}

// grantTable owns every grant. All access happens from the gateway's single
// reader goroutine; no lock is needed.
type grantTable struct {
	grants map[grantKey]*grant
}

func newGrantTable() *grantTable {
	return &grantTable{grants: make(map[grantKey]*grant)}
}

// put installs a fresh Active grant for the payload's key. A prior grant in
// any state is replaced and its used_count resets.
func (t *grantTable) put(roomID string, p envelope.MicGrantPayload) {
	allowed := make(map[envelope.MessageType]struct{}, len(p.AllowedMessageTypes))
	for _, mt := range p.AllowedMessageTypes {
		allowed[mt] = struct{}{}
	}
	t.grants[grantKey{roomID, p.AgentID, p.TaskID}] = &grant{
		maxMessages: p.MaxMessages,
		allowed:     allowed,
		expiresAt:   p.ExpiresAt,
		status:      StatusActive,
	}
}

// revoke marks the grant for (room, agent, task) Revoked. Terminal grants
// are left as they are so their original reason keeps winning.
func (t *grantTable) revoke(roomID, agentID, taskID string, now int64) bool {
	g, ok := t.grants[grantKey{roomID, agentID, taskID}]
	if !ok || g.status != StatusActive {
		return false
	}
	g.status = StatusRevoked
	g.terminalAt = now
	return true
}

// get returns the grant for the key after lazily applying expiry: an Active
// grant observed at now >= expires_at transitions to Expired.
func (t *grantTable) get(roomID, agentID, taskID string, now int64) *grant {
	g, ok := t.grants[grantKey{roomID, agentID, taskID}]
	if !ok {
		return nil
	}
	if g.status == StatusActive && now >= g.expiresAt {
		g.status = StatusExpired
		g.terminalAt = now
	}
	return g
}

// approve records one approved disclosure. The caller must have completed
// validation; the increment and the exhaustion transition are a single step
// so per-grant accounting is strictly sequential.
func (g *grant) approve(now int64) {
	g.usedCount++
	if g.usedCount >= g.maxMessages {
		g.status = StatusExhausted
		g.terminalAt = now
	}
}

// sweep applies lazy expiry across the table and discards terminal grants
// older than the grace period. Returns the number discarded.
func (t *grantTable) sweep(now int64) int {
	removed := 0
	for key, g := range t.grants {
		if g.status == StatusActive && now >= g.expiresAt {
			g.status = StatusExpired
			g.terminalAt = now
		}
		if g.status != StatusActive && now-g.terminalAt > terminalGraceSecs {
			delete(t.grants, key)
			removed++
		}
	}
	return removed
}
