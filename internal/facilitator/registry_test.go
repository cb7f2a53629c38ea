package facilitator

import "testing"

func TestRegistry_UpdateRegistersAgent(t *testing.T) {
	// A first heartbeat registers the agent as active
	r := NewRegistry(30, "facilitator")
	r.Update("math", "does math", 100)
	agents := r.Active(110)
	if len(agents) != 1 || agents[0].ID != "math" {
		t.Fatalf("active = %+v, want [math]", agents)
	}
	if agents[0].Description != "does math" {
		t.Errorf("description = %q, want retained", agents[0].Description)
	}
}

func TestRegistry_UpdateRetainsDescription(t *testing.T) {
	// A beat without a description keeps the previously announced one
	r := NewRegistry(30, "facilitator")
	r.Update("math", "does math", 100)
	r.Update("math", "", 110)
	agents := r.Active(115)
	if agents[0].Description != "does math" {
		t.Errorf("description = %q, want does math", agents[0].Description)
	}
}

func TestRegistry_IgnoresSelf(t *testing.T) {
	// The facilitator's own identity is never an assignable agent
	r := NewRegistry(30, "facilitator")
	r.Update("facilitator", "me", 100)
	if got := r.Active(110); len(got) != 0 {
		t.Errorf("active = %+v, want empty", got)
	}
}

func TestRegistry_StaleAgentNotActive(t *testing.T) {
	// An agent whose last beat is older than the TTL is not listed as active
	r := NewRegistry(30, "facilitator")
	r.Update("math", "", 100)
	if r.Contains("math", 130) != true {
		t.Error("expected active at exactly ttl")
	}
	if len(r.Active(131)) != 0 {
		t.Error("expected stale agent excluded from Active")
	}
	if r.Contains("math", 131) {
		t.Error("expected Contains false past ttl")
	}
}

func TestRegistry_SweepDropsStale(t *testing.T) {
	// Sweep removes entries past the TTL and keeps fresh ones
	r := NewRegistry(30, "facilitator")
	r.Update("math", "", 100)
	r.Update("web", "", 125)
	if n := r.Sweep(131); n != 1 {
		t.Errorf("swept %d, want 1", n)
	}
	agents := r.Active(131)
	if len(agents) != 1 || agents[0].ID != "web" {
		t.Errorf("active = %+v, want [web]", agents)
	}
}

func TestRegistry_ActiveSortedByID(t *testing.T) {
	// Active output is sorted by agent id for stable oracle prompts
	r := NewRegistry(30, "facilitator")
	r.Update("web", "", 100)
	r.Update("math", "", 100)
	agents := r.Active(110)
	if len(agents) != 2 || agents[0].ID != "math" || agents[1].ID != "web" {
		t.Errorf("active = %+v, want sorted [math web]", agents)
	}
}
