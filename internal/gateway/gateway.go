// Package gateway implements the moderation gateway: the sole writer of the
// approved public timeline for agent-originated content. It is fully
// deterministic — no oracle calls — so its decisions are reproducible from
// the candidate and control streams alone.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/haricheung/agent-ops-room/internal/envelope"
	"github.com/haricheung/agent-ops-room/internal/topics"
	"github.com/haricheung/agent-ops-room/internal/transport"
)

// Canonical reject reasons. Every blocked candidate yields exactly one
// reject receipt carrying one of these strings.
const (
	ReasonInvalidType     = "invalid_type"
	ReasonInvalidSender   = "invalid_sender"
	ReasonNoGrant         = "no_grant"
	ReasonExpired         = "mic_grant_expired"
	ReasonRevoked         = "mic_grant_revoked"
	ReasonDisallowedType  = "disallowed_message_type"
	ReasonQuotaExhausted  = "quota_exhausted"
	ReasonSchemaViolation = "schema_violation"
	ReasonMalformed       = "malformed_envelope"
)

const (
	dedupWindow        = 1024
	sweepInterval      = 30 * time.Second
	heartbeatInterval  = 10 * time.Second
	gatewayDescription = "Gateway - validates and moderates agent disclosures"
)

// Gateway moderates one room. All grant state is owned by the Run loop;
// candidates from one agent are decided strictly in delivery order.
type Gateway struct {
	tr     transport.Transport
	roomID string
	log    *slog.Logger

	grants *grantTable
	seen   *dedupRing

	now func() int64
}

// New creates a Gateway for roomID over tr.
func New(tr transport.Transport, roomID string, log *slog.Logger) *Gateway {
	return &Gateway{
		tr:     tr,
		roomID: roomID,
		log:    log,
		grants: newGrantTable(),
		seen:   newDedupRing(dedupWindow),
		now:    func() int64 { return time.Now().Unix() },
	}
}

// Run subscribes to the candidate and control topics and processes frames
// until ctx is cancelled. It never returns early on protocol violations;
// those surface as reject receipts.
func (g *Gateway) Run(ctx context.Context) error {
	candCh, err := g.tr.Subscribe(topics.PublicCandidates(g.roomID))
	if err != nil {
		return err
	}
	ctrlCh, err := g.tr.Subscribe(topics.Control(g.roomID))
	if err != nil {
		return err
	}

	go g.heartbeatLoop(ctx)

	sweep := time.NewTicker(sweepInterval)
	defer sweep.Stop()

	g.log.Info("gateway running", "room", g.roomID)

	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ctrlCh:
			if !ok {
				return nil
			}
			g.handleControl(m.Payload)
		case m, ok := <-candCh:
			if !ok {
				return nil
			}
			g.handleCandidate(m.Payload)
		case <-sweep.C:
			if n := g.grants.sweep(g.now()); n > 0 {
				g.log.Debug("swept terminal grants", "removed", n)
			}
		}
	}
}

// handleControl applies mic_grant and mic_revoke envelopes to the grant
// table. Other control traffic (including the gateway's own rejects) is
// observational and skipped; unparsable frames are logged and skipped.
func (g *Gateway) handleControl(raw []byte) {
	e, err := envelope.Parse(raw)
	if err != nil {
		g.log.Warn("skipping bad control frame", "error", err)
		return
	}
	switch e.Type {
	case envelope.TypeMicGrant:
		p, err := e.MicGrant()
		if err != nil {
			g.log.Warn("bad mic_grant payload", "id", e.ID, "error", err)
			return
		}
		g.grants.put(g.roomID, p)
		g.log.Info("mic grant", "agent", p.AgentID, "task", p.TaskID,
			"max_messages", p.MaxMessages, "expires_at", p.ExpiresAt)
	case envelope.TypeMicRevoke:
		p, err := e.MicRevoke()
		if err != nil {
			g.log.Warn("bad mic_revoke payload", "id", e.ID, "error", err)
			return
		}
		if g.grants.revoke(g.roomID, p.AgentID, p.TaskID, g.now()) {
			g.log.Info("mic revoke", "agent", p.AgentID, "task", p.TaskID)
		}
	}
}

// handleCandidate decides one proposed disclosure: republish verbatim on
// approval, or emit exactly one reject receipt naming the first failed rule.
func (g *Gateway) handleCandidate(raw []byte) {
	now := g.now()

	e, err := envelope.Parse(raw)
	if err != nil {
		g.log.Warn("malformed candidate", "error", err)
		g.reject(recoverID(raw), "", ReasonMalformed, now)
		return
	}

	if g.seen.contains(e.ID) {
		// QoS-1 redelivery: the first decision stands.
		g.log.Debug("duplicate candidate dropped", "id", e.ID)
		return
	}
	g.seen.add(e.ID)

	reason, taskID, gr := g.validate(e, now)
	if reason != "" {
		g.log.Warn("rejected candidate", "id", e.ID, "from", e.From.ID, "reason", reason)
		g.reject(e.ID, taskID, reason, now)
		return
	}

	// Republish the original bytes so the approved envelope is
	// byte-identical to the candidate.
	if err := g.tr.Publish(topics.Public(g.roomID), raw); err != nil {
		g.log.Error("republish failed", "id", e.ID, "error", err)
		return
	}
	gr.approve(now)
	g.log.Info("approved", "id", e.ID, "from", e.From.ID, "task", taskID,
		"used", gr.usedCount, "max", gr.maxMessages)
}

// validate applies the decision rules in their fixed order and returns the
// first failing rule's reason, the candidate's task id when known, and the
// grant to charge on approval (reason == "").
func (g *Gateway) validate(e envelope.Envelope, now int64) (reason, taskID string, gr *grant) {
	if e.Type != envelope.TypeResult {
		return ReasonInvalidType, "", nil
	}
	if e.From.Kind != envelope.KindAgent || e.From.ID == "" {
		return ReasonInvalidSender, "", nil
	}
	p, err := e.Result()
	if err != nil || p.TaskID == "" {
		return ReasonNoGrant, "", nil
	}
	gr = g.grants.get(e.RoomID, e.From.ID, p.TaskID, now)
	if gr == nil {
		return ReasonNoGrant, p.TaskID, nil
	}
	switch gr.status {
	case StatusRevoked:
		return ReasonRevoked, p.TaskID, nil
	case StatusExpired:
		return ReasonExpired, p.TaskID, nil
	}
	if _, ok := gr.allowed[p.MessageType]; !ok {
		return ReasonDisallowedType, p.TaskID, nil
	}
	if gr.usedCount >= gr.maxMessages {
		return ReasonQuotaExhausted, p.TaskID, nil
	}
	if err := envelope.ValidateContent(p.MessageType, p.Content); err != nil {
		return ReasonSchemaViolation, p.TaskID, nil
	}
	return "", p.TaskID, gr
}

// reject publishes a rejection receipt to the control topic.
func (g *Gateway) reject(messageID, taskID, reason string, now int64) {
	e, err := envelope.New(envelope.TypeReject, g.roomID,
		envelope.Sender{Kind: envelope.KindSystem, ID: "gateway"},
		envelope.RejectPayload{MessageID: messageID, TaskID: taskID, Reason: reason})
	if err != nil {
		g.log.Error("build reject", "error", err)
		return
	}
	e.TS = now
	data, err := envelope.Encode(e)
	if err != nil {
		g.log.Error("encode reject", "error", err)
		return
	}
	if err := g.tr.Publish(topics.Control(g.roomID), data); err != nil {
		g.log.Error("publish reject", "message_id", messageID, "error", err)
	}
}

// heartbeatLoop announces gateway presence every 10s, with the description
// riding along every 3rd beat.
func (g *Gateway) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	counter := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			counter++
			desc := ""
			if counter%3 == 0 {
				desc = gatewayDescription
			}
			hb, err := envelope.New(envelope.TypeHeartbeat, g.roomID,
				envelope.Sender{Kind: envelope.KindSystem, ID: "gateway"},
				envelope.HeartbeatPayload{TS: g.now(), Description: desc})
			if err != nil {
				continue
			}
			data, err := envelope.Encode(hb)
			if err != nil {
				continue
			}
			if err := g.tr.Publish(topics.AgentHeartbeat(g.roomID, "gateway"), data); err != nil {
				g.log.Warn("heartbeat publish failed", "error", err)
			}
		}
	}
}

// recoverID best-effort extracts the id field from an unparsable candidate
// so its reject receipt can still reference it.
func recoverID(raw []byte) string {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ""
	}
	return probe.ID
}

// dedupRing remembers the last n candidate ids in arrival order.
type dedupRing struct {
	ids  []string
	set  map[string]struct{}
	next int
}

func newDedupRing(n int) *dedupRing {
	return &dedupRing{ids: make([]string, n), set: make(map[string]struct{}, n)}
}

func (r *dedupRing) contains(id string) bool {
	_, ok := r.set[id]
	return ok
}

func (r *dedupRing) add(id string) {
	if old := r.ids[r.next]; old != "" {
		delete(r.set, old)
	}
	r.ids[r.next] = id
	r.set[id] = struct{}{}
	r.next = (r.next + 1) % len(r.ids)
}
