// Package summarizer maintains a rolling incremental summary of the
// approved timeline. The invariant: summary_text plus every approved
// envelope with ts > covers_until_ts represents the conversation exactly
// once — condensation folds the tail in, it never drops it.
package summarizer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/haricheung/agent-ops-room/internal/envelope"
	"github.com/haricheung/agent-ops-room/internal/llm"
	"github.com/haricheung/agent-ops-room/internal/topics"
	"github.com/haricheung/agent-ops-room/internal/transport"
)

// Oracle is the text-completion dependency. *llm.Client satisfies it.
type Oracle interface {
	Chat(ctx context.Context, system, user string) (string, llm.Usage, error)
}

// Options tunes one summarizer instance.
type Options struct {
	RoomID        string
	Interval      int // completed tasks per condensation round
	OracleTimeout time.Duration
}

type tailEntry struct {
	ts   int64
	line string
}

type condenseReq struct {
	prev string
	tail []tailEntry
}

type condenseRes struct {
	text   string
	covers int64
	count  int
	err    error
}

// Summarizer condenses one room's timeline. All state is owned by the Run
// loop; the oracle call runs on a worker goroutine so the broker reader
// never blocks.
type Summarizer struct {
	tr     transport.Transport
	opts   Options
	oracle Oracle
	log    *slog.Logger

	summaryText      string
	coversUntil      int64
	messageCount     int
	completionsSince int
	tail             []tailEntry
	condensing       bool

	reqCh chan condenseReq
	resCh chan condenseRes

	now func() int64
}

// New creates a Summarizer for opts.RoomID over tr.
func New(tr transport.Transport, o Oracle, opts Options, log *slog.Logger) *Summarizer {
	if opts.Interval <= 0 {
		opts.Interval = 3
	}
	return &Summarizer{
		tr:     tr,
		opts:   opts,
		oracle: o,
		log:    log,
		reqCh:  make(chan condenseReq, 1),
		resCh:  make(chan condenseRes, 1),
		now:    func() int64 { return time.Now().Unix() },
	}
}

// Run subscribes to the public topic and condenses after every
// opts.Interval observed completions.
func (s *Summarizer) Run(ctx context.Context) error {
	pubCh, err := s.tr.Subscribe(topics.Public(s.opts.RoomID))
	if err != nil {
		return err
	}

	go s.worker(ctx)

	s.log.Info("summarizer running", "room", s.opts.RoomID, "interval", s.opts.Interval)

	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-pubCh:
			if !ok {
				return nil
			}
			s.observe(m.Payload)
		case res := <-s.resCh:
			s.applyRound(res)
		}
	}
}

// observe absorbs one approved envelope into the tail and triggers a
// condensation round when enough completions have accumulated.
func (s *Summarizer) observe(raw []byte) {
	e, err := envelope.Parse(raw)
	if err != nil {
		s.log.Warn("skipping bad public frame", "error", err)
		return
	}
	if e.Type == envelope.TypeSummary {
		// Never summarize summaries.
		return
	}
	if e.TS <= s.coversUntil {
		// Replayed or late frame already folded into the summary.
		return
	}
	s.tail = append(s.tail, tailEntry{ts: e.TS, line: envelope.ContextLine(e)})

	if !s.isCompletion(e) {
		return
	}
	s.completionsSince++
	s.log.Debug("completion observed", "count", s.completionsSince, "interval", s.opts.Interval)
	if s.completionsSince >= s.opts.Interval {
		s.startRound()
	}
}

// isCompletion reports whether e is an agent's result-typed disclosure.
func (s *Summarizer) isCompletion(e envelope.Envelope) bool {
	if e.Type != envelope.TypeResult || e.From.Kind != envelope.KindAgent {
		return false
	}
	p, err := e.Result()
	if err != nil {
		return false
	}
	return p.MessageType == envelope.MsgResult
}

// startRound snapshots the tail for the worker. One round runs at a time;
// a trigger during an in-flight round is retried when the next completion
// arrives (the counter is only reset on success).
func (s *Summarizer) startRound() {
	if s.condensing || len(s.tail) == 0 {
		return
	}
	snapshot := make([]tailEntry, len(s.tail))
	copy(snapshot, s.tail)
	select {
	case s.reqCh <- condenseReq{prev: s.summaryText, tail: snapshot}:
		s.condensing = true
	default:
	}
}

// applyRound commits a finished condensation: adopt the new summary, fold
// the covered tail out, reset the completion counter, publish.
func (s *Summarizer) applyRound(res condenseRes) {
	s.condensing = false
	if res.err != nil {
		s.log.Error("condensation failed, will retry on next completion", "error", res.err)
		return
	}

	s.summaryText = res.text
	s.coversUntil = res.covers
	s.messageCount += res.count
	s.completionsSince = 0

	kept := s.tail[:0]
	for _, t := range s.tail {
		if t.ts > res.covers {
			kept = append(kept, t)
		}
	}
	s.tail = kept

	now := s.now()
	e, err := envelope.New(envelope.TypeSummary, s.opts.RoomID,
		envelope.Sender{Kind: envelope.KindSystem, ID: "summarizer"},
		envelope.SummaryPayload{
			SummaryText:   s.summaryText,
			CoversUntilTS: s.coversUntil,
			MessageCount:  s.messageCount,
			GeneratedAt:   now,
		})
	if err != nil {
		s.log.Error("build summary envelope", "error", err)
		return
	}
	data, err := envelope.Encode(e)
	if err != nil {
		s.log.Error("encode summary envelope", "error", err)
		return
	}
	if err := s.tr.Publish(topics.Summary(s.opts.RoomID), data); err != nil {
		s.log.Error("publish summary", "error", err)
		return
	}
	s.log.Info("summary published", "covers_until", s.coversUntil,
		"message_count", s.messageCount, "chars", len(s.summaryText))
}

// worker runs condensation rounds off the reader goroutine.
func (s *Summarizer) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-s.reqCh:
			octx, cancel := context.WithTimeout(ctx, s.opts.OracleTimeout)
			res := s.condense(octx, req)
			cancel()
			select {
			case s.resCh <- res:
			case <-ctx.Done():
				return
			}
		}
	}
}

// condense asks the oracle for new_summary = condense(prev, tail).
func (s *Summarizer) condense(ctx context.Context, req condenseReq) condenseRes {
	covers := int64(0)
	var lines []string
	for _, t := range req.tail {
		if t.ts > covers {
			covers = t.ts
		}
		if t.line != "" {
			lines = append(lines, t.line)
		}
	}

	text, _, err := s.oracle.Chat(ctx, condensePrompt(req.prev), strings.Join(lines, "\n"))
	if err != nil {
		return condenseRes{err: fmt.Errorf("summarizer: oracle: %w", err)}
	}
	text = llm.StripThinkBlocks(text)
	if text == "" {
		return condenseRes{err: fmt.Errorf("summarizer: oracle returned empty summary")}
	}
	return condenseRes{text: text, covers: covers, count: len(req.tail)}
}

func condensePrompt(prev string) string {
	if prev == "" {
		return `You are the summarizer for an agent collaboration room.

Write a BRIEF summary (2-3 sentences) of the messages below. Keep every fact a reader would need to continue the conversation: user requests, agent results, key findings, open questions. Omit greetings and routine acknowledgements. Output plain text only.`
	}
	return fmt.Sprintf(`You are the summarizer for an agent collaboration room.

Fold the new messages below into the previous summary. The updated summary must preserve every fact from the previous summary that is still relevant, plus the essential new information. 2-4 sentences, plain text only.

Previous summary:
%s`, prev)
}
