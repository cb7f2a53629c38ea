package gateway

import (
	"testing"

	"github.com/haricheung/agent-ops-room/internal/envelope"
)

func grantPayload(task, agent string, max int, expires int64, types ...envelope.MessageType) envelope.MicGrantPayload {
	if len(types) == 0 {
		types = []envelope.MessageType{envelope.MsgAck, envelope.MsgResult}
	}
	return envelope.MicGrantPayload{
		TaskID:              task,
		AgentID:             agent,
		MaxMessages:         max,
		AllowedMessageTypes: types,
		ExpiresAt:           expires,
	}
}

func TestGrantTable_PutCreatesActive(t *testing.T) {
	// A mic_grant arrival creates an Active grant with used_count 0
	tbl := newGrantTable()
	tbl.put("r", grantPayload("t1", "math", 5, 1000))
	g := tbl.get("r", "math", "t1", 500)
	if g == nil {
		t.Fatal("expected grant")
	}
	if g.status != StatusActive {
		t.Errorf("status = %q, want active", g.status)
	}
	if g.usedCount != 0 {
		t.Errorf("usedCount = %d, want 0", g.usedCount)
	}
}

func TestGrantTable_GetLazyExpiry(t *testing.T) {
	// An Active grant observed at now >= expires_at transitions to Expired
	tbl := newGrantTable()
	tbl.put("r", grantPayload("t1", "math", 5, 1000))
	g := tbl.get("r", "math", "t1", 1000)
	if g.status != StatusExpired {
		t.Errorf("status = %q, want expired at boundary", g.status)
	}
}

func TestGrantTable_GetBeforeExpiryStaysActive(t *testing.T) {
	// Observation strictly before expires_at leaves the grant Active
	tbl := newGrantTable()
	tbl.put("r", grantPayload("t1", "math", 5, 1000))
	g := tbl.get("r", "math", "t1", 999)
	if g.status != StatusActive {
		t.Errorf("status = %q, want active", g.status)
	}
}

func TestGrant_ApproveExhaustsAtMax(t *testing.T) {
	// The approval that makes used_count == max_messages marks the grant Exhausted
	tbl := newGrantTable()
	tbl.put("r", grantPayload("t1", "math", 2, 1000))
	g := tbl.get("r", "math", "t1", 10)
	g.approve(10)
	if g.status != StatusActive {
		t.Errorf("after 1/2: status = %q, want active", g.status)
	}
	g.approve(11)
	if g.status != StatusExhausted {
		t.Errorf("after 2/2: status = %q, want exhausted", g.status)
	}
	if g.usedCount != 2 {
		t.Errorf("usedCount = %d, want 2", g.usedCount)
	}
}

func TestGrantTable_RevokeActive(t *testing.T) {
	// mic_revoke moves an Active grant to Revoked
	tbl := newGrantTable()
	tbl.put("r", grantPayload("t1", "math", 5, 1000))
	if !tbl.revoke("r", "math", "t1", 10) {
		t.Fatal("expected revoke to apply")
	}
	g := tbl.get("r", "math", "t1", 20)
	if g.status != StatusRevoked {
		t.Errorf("status = %q, want revoked", g.status)
	}
}

func TestGrantTable_RevokeTerminalNoop(t *testing.T) {
	// Revoking a grant already in a terminal state leaves its state unchanged
	tbl := newGrantTable()
	tbl.put("r", grantPayload("t1", "math", 1, 1000))
	g := tbl.get("r", "math", "t1", 10)
	g.approve(10) // exhausted
	if tbl.revoke("r", "math", "t1", 20) {
		t.Error("expected revoke of exhausted grant to be a no-op")
	}
	if g.status != StatusExhausted {
		t.Errorf("status = %q, want exhausted", g.status)
	}
}

func TestGrantTable_RevokeUnknownKey(t *testing.T) {
	// Revoking a key with no grant is a no-op
	tbl := newGrantTable()
	if tbl.revoke("r", "math", "t1", 10) {
		t.Error("expected revoke of unknown key to report false")
	}
}

func TestGrantTable_ReplaceActiveResetsCounter(t *testing.T) {
	// A second mic_grant for the same key while Active replaces the grant and resets used_count
	tbl := newGrantTable()
	tbl.put("r", grantPayload("t1", "math", 2, 1000))
	g := tbl.get("r", "math", "t1", 10)
	g.approve(10)
	tbl.put("r", grantPayload("t1", "math", 3, 2000))
	g = tbl.get("r", "math", "t1", 20)
	if g.usedCount != 0 {
		t.Errorf("usedCount = %d, want 0 after replacement", g.usedCount)
	}
	if g.maxMessages != 3 {
		t.Errorf("maxMessages = %d, want 3", g.maxMessages)
	}
	if g.status != StatusActive {
		t.Errorf("status = %q, want active", g.status)
	}
}

func TestGrantTable_NewGrantAfterTerminal(t *testing.T) {
	// While in a terminal state, a new mic_grant creates a fresh Active grant
	tbl := newGrantTable()
	tbl.put("r", grantPayload("t1", "math", 5, 100))
	_ = tbl.get("r", "math", "t1", 200) // expire
	tbl.put("r", grantPayload("t1", "math", 5, 1000))
	g := tbl.get("r", "math", "t1", 300)
	if g.status != StatusActive {
		t.Errorf("status = %q, want active after re-grant", g.status)
	}
}

func TestGrantTable_SweepDiscardsAfterGrace(t *testing.T) {
	// Terminal grants older than the grace period are removed; fresh ones are kept
	tbl := newGrantTable()
	tbl.put("r", grantPayload("t1", "math", 5, 100))
	tbl.put("r", grantPayload("t2", "math", 5, 100))
	_ = tbl.get("r", "math", "t1", 200) // expired at 200
	if n := tbl.sweep(200 + terminalGraceSecs); n != 0 {
		t.Errorf("sweep within grace removed %d, want 0", n)
	}
	// The sweep itself lazily expired t2 at 260; only t1 is past grace now.
	if n := tbl.sweep(201 + terminalGraceSecs); n != 1 {
		t.Errorf("sweep past grace removed %d, want 1", n)
	}
	if g := tbl.get("r", "math", "t1", 300); g != nil {
		t.Error("expected t1 grant discarded")
	}
}

func TestDedupRing_RemembersWindow(t *testing.T) {
	// The ring reports ids inside the window and evicts the oldest beyond capacity
	r := newDedupRing(2)
	r.add("a")
	r.add("b")
	if !r.contains("a") || !r.contains("b") {
		t.Fatal("expected both ids present")
	}
	r.add("c") // evicts "a"
	if r.contains("a") {
		t.Error("expected oldest id evicted")
	}
	if !r.contains("b") || !r.contains("c") {
		t.Error("expected newer ids retained")
	}
}
