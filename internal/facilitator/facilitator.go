// Package facilitator implements the coordination loop: it reads the
// approved timeline, interprets user intent through the oracle, dispatches
// tasks to specialist agents, issues mic grants, and accounts for
// completions. All outbound traffic for one utterance flows through a
// single worker goroutine so the task publish happens-before the grant
// publish happens-before any user-facing say.
package facilitator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haricheung/agent-ops-room/internal/envelope"
	"github.com/haricheung/agent-ops-room/internal/topics"
	"github.com/haricheung/agent-ops-room/internal/transport"
)

const (
	selfID            = "facilitator"
	heartbeatInterval = 5 * time.Second
	sweepInterval     = 10 * time.Second
	utteranceBacklog  = 16
	maxHistoryLines   = 200
	selfDescription   = "Facilitator - interprets intent and assigns work to agents"
)

// Options tunes one facilitator instance.
type Options struct {
	RoomID           string
	MaxMessages      int
	MicDurationSecs  int64
	HeartbeatTTLSecs int64
	OracleTimeout    time.Duration
}

type utterance struct {
	userID string
	text   string
}

type histLine struct {
	ts   int64
	line string
}

// Facilitator drives one room.
type Facilitator struct {
	tr     transport.Transport
	opts   Options
	oracle Oracle
	log    *slog.Logger

	registry *Registry
	tasks    *taskTable

	mu          sync.Mutex
	summaryText string
	coversUntil int64
	history     []histLine

	utterCh chan utterance
	now     func() int64
}

// New creates a Facilitator for opts.RoomID over tr.
func New(tr transport.Transport, o Oracle, opts Options, log *slog.Logger) *Facilitator {
	return &Facilitator{
		tr:       tr,
		opts:     opts,
		oracle:   o,
		log:      log,
		registry: NewRegistry(opts.HeartbeatTTLSecs, selfID),
		tasks:    newTaskTable(),
		utterCh:  make(chan utterance, utteranceBacklog),
		now:      func() int64 { return time.Now().Unix() },
	}
}

// Run subscribes to the room topics and processes frames until ctx is
// cancelled. Oracle work runs on a single worker goroutine so the broker
// reader never blocks on an LLM call.
func (f *Facilitator) Run(ctx context.Context) error {
	pubCh, err := f.tr.Subscribe(topics.Public(f.opts.RoomID))
	if err != nil {
		return err
	}
	ctrlCh, err := f.tr.Subscribe(topics.Control(f.opts.RoomID))
	if err != nil {
		return err
	}
	sumCh, err := f.tr.Subscribe(topics.Summary(f.opts.RoomID))
	if err != nil {
		return err
	}
	hbCh, err := f.tr.Subscribe(topics.AllAgentHeartbeats(f.opts.RoomID))
	if err != nil {
		return err
	}

	go f.worker(ctx)

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	sweep := time.NewTicker(sweepInterval)
	defer sweep.Stop()

	f.log.Info("facilitator running", "room", f.opts.RoomID)

	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-pubCh:
			if !ok {
				return nil
			}
			f.handlePublic(m.Payload)
		case m, ok := <-ctrlCh:
			if !ok {
				return nil
			}
			f.handleControl(m.Payload)
		case m, ok := <-sumCh:
			if !ok {
				return nil
			}
			f.handleSummary(m.Payload)
		case m, ok := <-hbCh:
			if !ok {
				return nil
			}
			f.handleHeartbeat(m.Topic, m.Payload)
		case <-heartbeat.C:
			f.publishHeartbeat()
		case <-sweep.C:
			f.sweepState()
		}
	}
}

// handlePublic folds an approved envelope into history, forwards user
// utterances to the worker, and applies agent disclosures to the task table.
func (f *Facilitator) handlePublic(raw []byte) {
	e, err := envelope.Parse(raw)
	if err != nil {
		f.log.Warn("skipping bad public frame", "error", err)
		return
	}
	f.remember(e)
	if e.From.ID == selfID {
		return
	}

	switch {
	case e.Type == envelope.TypeSay && e.From.Kind == envelope.KindUser:
		p, err := e.Say()
		if err != nil {
			f.log.Warn("bad say payload", "id", e.ID, "error", err)
			return
		}
		select {
		case f.utterCh <- utterance{userID: e.From.ID, text: p.Text}:
		default:
			f.log.Warn("utterance backlog full, message not processed", "from", e.From.ID)
		}

	case e.Type == envelope.TypeResult && e.From.Kind == envelope.KindAgent:
		p, err := e.Result()
		if err != nil || p.TaskID == "" {
			return
		}
		switch p.MessageType {
		case envelope.MsgAck:
			if f.tasks.ack(p.TaskID) {
				f.log.Debug("task acked", "task", p.TaskID, "agent", e.From.ID)
			}
		case envelope.MsgResult:
			f.onCompletion(p.TaskID, e.From.ID)
		}
	}
}

// onCompletion marks the task Completed and withdraws the agent's mic.
func (f *Facilitator) onCompletion(taskID, agentID string) {
	task, ok := f.tasks.complete(taskID)
	if !ok {
		return
	}
	f.log.Info("task completed", "task", taskID, "agent", agentID, "goal", task.Goal)
	err := f.publish(topics.Control(f.opts.RoomID), envelope.TypeMicRevoke, envelope.MicRevokePayload{
		TaskID:  taskID,
		AgentID: agentID,
		Reason:  "task completed",
	})
	if err != nil {
		f.log.Error("revoke publish failed", "task", taskID, "error", err)
	}
}

// handleControl observes gateway rejects and externally issued revokes.
func (f *Facilitator) handleControl(raw []byte) {
	e, err := envelope.Parse(raw)
	if err != nil {
		return
	}
	switch e.Type {
	case envelope.TypeReject:
		p, err := e.Reject()
		if err != nil {
			return
		}
		f.log.Warn("gateway rejected a candidate", "message_id", p.MessageID,
			"task", p.TaskID, "reason", p.Reason)
	case envelope.TypeMicRevoke:
		if e.From.ID == selfID {
			return
		}
		p, err := e.MicRevoke()
		if err != nil {
			return
		}
		if f.tasks.cancel(p.TaskID) {
			f.log.Info("task cancelled by external revoke", "task", p.TaskID, "agent", p.AgentID)
		}
	}
}

// handleSummary adopts the newest condensation and trims covered history.
func (f *Facilitator) handleSummary(raw []byte) {
	e, err := envelope.Parse(raw)
	if err != nil || e.Type != envelope.TypeSummary {
		return
	}
	p, err := e.Summary()
	if err != nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.CoversUntilTS < f.coversUntil {
		return
	}
	f.summaryText = p.SummaryText
	f.coversUntil = p.CoversUntilTS
	kept := f.history[:0]
	for _, h := range f.history {
		if h.ts > p.CoversUntilTS {
			kept = append(kept, h)
		}
	}
	f.history = kept
}

// handleHeartbeat upserts agent presence. Only agent-kind beats register;
// system components (gateway, sink) announce themselves but are never
// assignable.
func (f *Facilitator) handleHeartbeat(topic string, raw []byte) {
	agentID := topics.HeartbeatAgentID(topic)
	if agentID == "" || agentID == selfID {
		return
	}
	e, err := envelope.Parse(raw)
	if err != nil || e.Type != envelope.TypeHeartbeat || e.From.Kind != envelope.KindAgent {
		return
	}
	p, err := e.Heartbeat()
	if err != nil {
		return
	}
	f.registry.Update(agentID, p.Description, f.now())
}

// worker serializes oracle rounds so a single utterance's task, grant, and
// acknowledgement publish in order.
func (f *Facilitator) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-f.utterCh:
			f.processUtterance(ctx, u)
		}
	}
}

func (f *Facilitator) processUtterance(ctx context.Context, u utterance) {
	now := f.now()
	agents := f.registry.Active(now)
	summary, tail := f.contextSnapshot()

	octx, cancel := context.WithTimeout(ctx, f.opts.OracleTimeout)
	defer cancel()
	d, err := decide(octx, f.oracle, summary, tail, agents, u.userID, u.text)
	if err != nil {
		f.log.Error("oracle round failed", "from", u.userID, "error", err)
		f.say("Sorry, I could not process that just now. Please try again.")
		return
	}

	switch d.Action {
	case ActionDirectReply:
		f.say(d.Text)
	case ActionDelegate:
		if !f.registry.Contains(d.AgentID, f.now()) {
			f.log.Warn("oracle chose an inactive agent", "agent", d.AgentID)
			f.say(fmt.Sprintf("I wanted to hand this to %s, but that agent is not available right now.", d.AgentID))
			return
		}
		f.delegate(u, d)
	}
}

// delegate publishes the task, then the mic grant, then the user-facing
// acknowledgement. The order is load-bearing: the gateway must hold the
// grant before the agent's first candidate arrives.
func (f *Facilitator) delegate(u utterance, d Decision) {
	now := f.now()
	taskID := uuid.New().String()
	deadline := d.Deadline
	if deadline == 0 {
		deadline = now + f.opts.MicDurationSecs
	}

	err := f.publish(topics.AgentInbox(f.opts.RoomID, d.AgentID), envelope.TypeTask, envelope.TaskPayload{
		TaskID:   taskID,
		Goal:     d.Goal,
		Format:   d.Format,
		Deadline: deadline,
	})
	if err != nil {
		f.log.Error("task publish failed", "task", taskID, "agent", d.AgentID, "error", err)
		f.say("Sorry, I could not reach the agent for that request.")
		return
	}

	err = f.publish(topics.Control(f.opts.RoomID), envelope.TypeMicGrant, envelope.MicGrantPayload{
		TaskID:              taskID,
		AgentID:             d.AgentID,
		MaxMessages:         f.opts.MaxMessages,
		AllowedMessageTypes: envelope.AllMessageTypes,
		ExpiresAt:           now + f.opts.MicDurationSecs,
	})
	if err != nil {
		f.log.Error("grant publish failed", "task", taskID, "agent", d.AgentID, "error", err)
		return
	}

	f.tasks.dispatch(Task{
		TaskID:       taskID,
		AgentID:      d.AgentID,
		Goal:         d.Goal,
		Format:       d.Format,
		Deadline:     deadline,
		DispatchedAt: now,
	})
	f.log.Info("task dispatched", "task", taskID, "agent", d.AgentID, "goal", d.Goal)
	f.say(fmt.Sprintf("Assigned to %s: %s", d.AgentID, d.Goal))
}

// say publishes a facilitator chat line to the approved timeline.
func (f *Facilitator) say(text string) {
	err := f.publish(topics.Public(f.opts.RoomID), envelope.TypeSay, envelope.SayPayload{Text: text})
	if err != nil {
		f.log.Error("say publish failed", "error", err)
	}
}

func (f *Facilitator) publish(topic string, typ envelope.Type, payload any) error {
	e, err := envelope.New(typ, f.opts.RoomID, envelope.Sender{Kind: envelope.KindSystem, ID: selfID}, payload)
	if err != nil {
		return err
	}
	data, err := envelope.Encode(e)
	if err != nil {
		return err
	}
	return f.tr.Publish(topic, data)
}

func (f *Facilitator) publishHeartbeat() {
	err := f.publish(topics.AgentHeartbeat(f.opts.RoomID, selfID), envelope.TypeHeartbeat,
		envelope.HeartbeatPayload{TS: f.now(), Description: selfDescription})
	if err != nil {
		f.log.Warn("heartbeat publish failed", "error", err)
	}
}

func (f *Facilitator) sweepState() {
	now := f.now()
	if n := f.registry.Sweep(now); n > 0 {
		f.log.Info("dropped stale agents", "count", n)
	}
	for _, task := range f.tasks.sweepDeadlines(now, f.opts.MicDurationSecs) {
		f.log.Warn("task failed: no result within mic window", "task", task.TaskID, "agent", task.AgentID)
	}
}

// remember appends a rendered line for say and result envelopes so the
// oracle sees the tail of the conversation since the last summary.
func (f *Facilitator) remember(e envelope.Envelope) {
	line := envelope.ContextLine(e)
	if line == "" {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, histLine{ts: e.TS, line: line})
	if len(f.history) > maxHistoryLines {
		f.history = f.history[len(f.history)-maxHistoryLines:]
	}
}

func (f *Facilitator) contextSnapshot() (string, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tail := make([]string, len(f.history))
	for i, h := range f.history {
		tail[i] = h.line
	}
	return f.summaryText, tail
}
