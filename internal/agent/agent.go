// Package agent implements a specialist worker: it listens on its private
// inbox, executes one task at a time, and proposes bounded disclosures on
// the candidate topic. It never writes to the public timeline directly —
// every disclosure goes through the gateway.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/haricheung/agent-ops-room/internal/envelope"
	"github.com/haricheung/agent-ops-room/internal/llm"
	"github.com/haricheung/agent-ops-room/internal/topics"
	"github.com/haricheung/agent-ops-room/internal/transport"
)

const (
	heartbeatInterval = 5 * time.Second
	contextLines      = 20
)

// Oracle is the text-completion dependency. *llm.Client satisfies it.
type Oracle interface {
	Chat(ctx context.Context, system, user string) (string, llm.Usage, error)
}

// Options tunes one specialist agent.
type Options struct {
	RoomID        string
	AgentID       string
	Description   string
	QueueDepth    int
	OracleTimeout time.Duration
}

// Agent is one stateful specialist worker.
type Agent struct {
	tr     transport.Transport
	opts   Options
	oracle Oracle
	mem    *Memory
	log    *slog.Logger

	queue chan envelope.TaskPayload

	mu       sync.Mutex
	ownTasks map[string]struct{}

	now func() int64
}

// New creates an Agent. mem may be nil; execution then runs without room
// context.
func New(tr transport.Transport, o Oracle, mem *Memory, opts Options, log *slog.Logger) *Agent {
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = 4
	}
	return &Agent{
		tr:       tr,
		opts:     opts,
		oracle:   o,
		mem:      mem,
		log:      log,
		queue:    make(chan envelope.TaskPayload, opts.QueueDepth),
		ownTasks: make(map[string]struct{}),
		now:      func() int64 { return time.Now().Unix() },
	}
}

// Run subscribes to the agent's topics and processes frames until ctx is
// cancelled. Task execution is strictly serial on a single runner
// goroutine; the broker reader never blocks on an LLM call.
func (a *Agent) Run(ctx context.Context) error {
	inboxCh, err := a.tr.Subscribe(topics.AgentInbox(a.opts.RoomID, a.opts.AgentID))
	if err != nil {
		return err
	}
	pubCh, err := a.tr.Subscribe(topics.Public(a.opts.RoomID))
	if err != nil {
		return err
	}
	ctrlCh, err := a.tr.Subscribe(topics.Control(a.opts.RoomID))
	if err != nil {
		return err
	}

	go a.mem.Run(ctx.Done())
	go a.runner(ctx)
	go a.heartbeatLoop(ctx)

	a.log.Info("agent running", "room", a.opts.RoomID, "agent", a.opts.AgentID)

	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-inboxCh:
			if !ok {
				return nil
			}
			a.handleInbox(m.Payload)
		case m, ok := <-pubCh:
			if !ok {
				return nil
			}
			a.handlePublic(m.Payload)
		case m, ok := <-ctrlCh:
			if !ok {
				return nil
			}
			a.handleControl(m.Payload)
		}
	}
}

// handleInbox enqueues a task. The queue is bounded; on overflow the oldest
// queued task is dropped with a warning — tasks are private, so there is no
// public side-effect.
func (a *Agent) handleInbox(raw []byte) {
	e, err := envelope.Parse(raw)
	if err != nil {
		a.log.Warn("skipping bad inbox frame", "error", err)
		return
	}
	if e.Type != envelope.TypeTask {
		return
	}
	p, err := e.Task()
	if err != nil {
		a.log.Warn("bad task payload", "id", e.ID, "error", err)
		return
	}

	a.mu.Lock()
	a.ownTasks[p.TaskID] = struct{}{}
	a.mu.Unlock()

	for {
		select {
		case a.queue <- p:
			a.log.Info("task queued", "task", p.TaskID, "goal", p.Goal)
			return
		default:
		}
		select {
		case dropped := <-a.queue:
			a.log.Warn("task queue full, dropping oldest", "dropped", dropped.TaskID)
		default:
		}
	}
}

// handlePublic feeds the agent's local memory.
func (a *Agent) handlePublic(raw []byte) {
	e, err := envelope.Parse(raw)
	if err != nil {
		return
	}
	a.mem.Observe(e)
}

// handleControl surfaces gateway rejects that reference this agent's tasks.
func (a *Agent) handleControl(raw []byte) {
	e, err := envelope.Parse(raw)
	if err != nil || e.Type != envelope.TypeReject {
		return
	}
	p, err := e.Reject()
	if err != nil {
		return
	}
	a.mu.Lock()
	_, mine := a.ownTasks[p.TaskID]
	a.mu.Unlock()
	if mine {
		a.log.Warn("disclosure rejected by gateway", "message_id", p.MessageID,
			"task", p.TaskID, "reason", p.Reason)
	}
}

// runner executes queued tasks one at a time.
func (a *Agent) runner(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-a.queue:
			a.execute(ctx, task)
		}
	}
}

// execute runs one task: ack, domain work, exactly one result disclosure.
// A failed oracle round still terminates the task with a result conveying
// the failure — an agent never crashes the room.
func (a *Agent) execute(ctx context.Context, task envelope.TaskPayload) {
	a.log.Info("task started", "task", task.TaskID, "goal", task.Goal)

	a.disclose(task.TaskID, envelope.MsgAck,
		envelope.AckContent{Text: "Task received, working on it."})

	octx, cancel := context.WithTimeout(ctx, a.opts.OracleTimeout)
	defer cancel()
	answer, err := a.domainWork(octx, task)
	if err != nil {
		a.log.Error("task failed", "task", task.TaskID, "error", err)
		a.disclose(task.TaskID, envelope.MsgResult,
			envelope.ResultContent{Text: fmt.Sprintf("I could not complete this task: %v", err)})
		return
	}

	a.disclose(task.TaskID, envelope.MsgResult, envelope.ResultContent{Text: answer})
	a.log.Info("task finished", "task", task.TaskID)
}

// domainWork runs the oracle over the goal plus recent room context.
func (a *Agent) domainWork(ctx context.Context, task envelope.TaskPayload) (string, error) {
	system := fmt.Sprintf(`You are %q, a specialist agent in a collaboration room. %s

Complete the assigned task directly and concisely. Output plain text only — your answer is published to the room as-is.`,
		a.opts.AgentID, a.opts.Description)

	var sb strings.Builder
	lines, err := a.mem.Recent(contextLines)
	if err != nil {
		a.log.Warn("memory scan failed, continuing without context", "error", err)
	}
	if len(lines) > 0 {
		sb.WriteString("ROOM CONTEXT (recent messages):\n")
		for _, line := range lines {
			sb.WriteString(line)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "TASK:\n%s", task.Goal)
	if task.Format != "" {
		fmt.Fprintf(&sb, "\n\nOUTPUT FORMAT:\n%s", task.Format)
	}

	answer, _, err := a.oracle.Chat(ctx, system, sb.String())
	if err != nil {
		return "", fmt.Errorf("agent: oracle: %w", err)
	}
	answer = llm.StripThinkBlocks(answer)
	if answer == "" {
		return "", fmt.Errorf("agent: oracle returned empty answer")
	}
	return answer, nil
}

// disclose proposes one disclosure on the candidate topic. Every disclosure
// carries the originating task_id.
func (a *Agent) disclose(taskID string, mt envelope.MessageType, content any) {
	raw, err := json.Marshal(content)
	if err != nil {
		a.log.Error("marshal disclosure content", "task", taskID, "error", err)
		return
	}
	e, err := envelope.New(envelope.TypeResult, a.opts.RoomID,
		envelope.Sender{Kind: envelope.KindAgent, ID: a.opts.AgentID},
		envelope.ResultPayload{TaskID: taskID, MessageType: mt, Content: raw})
	if err != nil {
		a.log.Error("build disclosure", "task", taskID, "error", err)
		return
	}
	data, err := envelope.Encode(e)
	if err != nil {
		a.log.Error("encode disclosure", "task", taskID, "error", err)
		return
	}
	if err := a.tr.Publish(topics.PublicCandidates(a.opts.RoomID), data); err != nil {
		a.log.Error("publish disclosure", "task", taskID, "error", err)
	}
}

// heartbeatLoop announces presence every 5s with the description riding
// along every 3rd beat.
func (a *Agent) heartbeatLoop(ctx context.Context) {
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
				desc = a.opts.Description
			}
			hb, err := envelope.New(envelope.TypeHeartbeat, a.opts.RoomID,
				envelope.Sender{Kind: envelope.KindAgent, ID: a.opts.AgentID},
				envelope.HeartbeatPayload{TS: a.now(), Description: desc})
			if err != nil {
				continue
			}
			data, err := envelope.Encode(hb)
			if err != nil {
				continue
			}
			topic := topics.AgentHeartbeat(a.opts.RoomID, a.opts.AgentID)
			if err := a.tr.Publish(topic, data); err != nil {
				a.log.Warn("heartbeat publish failed", "error", err)
			}
		}
	}
}
