package summarizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/haricheung/agent-ops-room/internal/envelope"
	"github.com/haricheung/agent-ops-room/internal/llm"
	"github.com/haricheung/agent-ops-room/internal/topics"
	"github.com/haricheung/agent-ops-room/internal/transport"
)

// concatOracle condenses by concatenation, so tests can check that no line
// is lost across rounds.
type concatOracle struct{}

func (concatOracle) Chat(_ context.Context, system, user string) (string, llm.Usage, error) {
	// The previous summary is embedded in the system prompt after the last
	// colon-terminated header line; keep the whole thing plus the new lines.
	prev := ""
	if i := strings.Index(system, "Previous summary:\n"); i != -1 {
		prev = system[i+len("Previous summary:\n"):]
	}
	if prev == "" {
		return user, llm.Usage{}, nil
	}
	return prev + "\n" + user, llm.Usage{}, nil
}

type failOracle struct{}

func (failOracle) Chat(context.Context, string, string) (string, llm.Usage, error) {
	return "", llm.Usage{}, errors.New("oracle down")
}

func newTestSummarizer(t *testing.T, o Oracle) (*Summarizer, <-chan transport.Message) {
	t.Helper()
	bus := transport.NewMemBus()
	t.Cleanup(bus.Close)
	sumCh, err := bus.Subscribe(topics.Summary("default"))
	if err != nil {
		t.Fatal(err)
	}
	s := New(bus, o, Options{RoomID: "default", Interval: 3, OracleTimeout: time.Second}, slog.Default())
	s.now = func() int64 { return 9999 }
	return s, sumCh
}

func sayFrame(t *testing.T, id string, ts int64, from, text string) []byte {
	t.Helper()
	payload, err := json.Marshal(envelope.SayPayload{Text: text})
	if err != nil {
		t.Fatal(err)
	}
	raw, err := envelope.Encode(envelope.Envelope{
		ID: id, Type: envelope.TypeSay, RoomID: "default",
		From: envelope.Sender{Kind: envelope.KindUser, ID: from},
		TS:   ts, Payload: payload,
	})
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func resultFrame(t *testing.T, id string, ts int64, agent, task, text string) []byte {
	t.Helper()
	content, err := json.Marshal(envelope.ResultContent{Text: text})
	if err != nil {
		t.Fatal(err)
	}
	payload, err := json.Marshal(envelope.ResultPayload{
		TaskID: task, MessageType: envelope.MsgResult, Content: content,
	})
	if err != nil {
		t.Fatal(err)
	}
	raw, err := envelope.Encode(envelope.Envelope{
		ID: id, Type: envelope.TypeResult, RoomID: "default",
		From: envelope.Sender{Kind: envelope.KindAgent, ID: agent},
		TS:   ts, Payload: payload,
	})
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

// pumpRound runs the queued condensation request synchronously.
func pumpRound(t *testing.T, s *Summarizer) {
	t.Helper()
	select {
	case req := <-s.reqCh:
		s.applyRound(s.condense(context.Background(), req))
	default:
		t.Fatal("no condensation round was queued")
	}
}

func recvSummary(t *testing.T, ch <-chan transport.Message) envelope.SummaryPayload {
	t.Helper()
	select {
	case m := <-ch:
		e, err := envelope.Parse(m.Payload)
		if err != nil {
			t.Fatal(err)
		}
		if e.Type != envelope.TypeSummary {
			t.Fatalf("type = %q, want summary", e.Type)
		}
		p, err := e.Summary()
		if err != nil {
			t.Fatal(err)
		}
		return p
	default:
		t.Fatal("expected a summary envelope")
		return envelope.SummaryPayload{}
	}
}

func TestSummarizer_RoundTripAfterThreeCompletions(t *testing.T) {
	// Three completed tasks trigger one summary whose covers_until_ts is the third result's ts
	s, sumCh := newTestSummarizer(t, concatOracle{})

	s.observe(sayFrame(t, "s1", 100, "alice", "question one"))
	s.observe(resultFrame(t, "r1", 110, "math", "t1", "answer one"))
	s.observe(resultFrame(t, "r2", 120, "math", "t2", "answer two"))
	select {
	case <-s.reqCh:
		t.Fatal("round started before the interval was reached")
	default:
	}
	s.observe(resultFrame(t, "r3", 130, "math", "t3", "answer three"))
	pumpRound(t, s)

	p := recvSummary(t, sumCh)
	if p.CoversUntilTS != 130 {
		t.Errorf("covers_until_ts = %d, want 130", p.CoversUntilTS)
	}
	if p.MessageCount != 4 {
		t.Errorf("message_count = %d, want 4 absorbed envelopes", p.MessageCount)
	}
	if p.GeneratedAt != 9999 {
		t.Errorf("generated_at = %d, want the clock value", p.GeneratedAt)
	}
	for _, want := range []string{"question one", "answer one", "answer two", "answer three"} {
		if !strings.Contains(p.SummaryText, want) {
			t.Errorf("summary missing %q:\n%s", want, p.SummaryText)
		}
	}
	if s.completionsSince != 0 {
		t.Errorf("completion counter = %d, want reset", s.completionsSince)
	}
}

func TestSummarizer_ZeroLossAcrossRounds(t *testing.T) {
	// After any round, summary_text plus the remaining tail covers every absorbed line exactly once
	s, sumCh := newTestSummarizer(t, concatOracle{})

	var allLines []string
	ts := int64(100)
	emit := func(task, text string) {
		ts++
		s.observe(resultFrame(t, fmt.Sprintf("r%d", ts), ts, "math", task, text))
		allLines = append(allLines, text)
	}

	for i := 1; i <= 3; i++ {
		emit(fmt.Sprintf("t%d", i), fmt.Sprintf("fact %d", i))
	}
	pumpRound(t, s)
	p1 := recvSummary(t, sumCh)

	// A message arriving after the round stays in the tail.
	emit("t4", "fact 4")
	reconstructed := p1.SummaryText
	for _, entry := range s.tail {
		reconstructed += "\n" + entry.line
	}
	for _, want := range allLines {
		if strings.Count(reconstructed, want) != 1 {
			t.Errorf("line %q appears %d times in reconstruction, want exactly once",
				want, strings.Count(reconstructed, want))
		}
	}

	// Second round folds the tail in and keeps earlier facts via the
	// previous summary.
	emit("t5", "fact 5")
	emit("t6", "fact 6")
	pumpRound(t, s)
	p2 := recvSummary(t, sumCh)
	for i := 1; i <= 6; i++ {
		want := fmt.Sprintf("fact %d", i)
		if !strings.Contains(p2.SummaryText, want) {
			t.Errorf("second summary lost %q", want)
		}
	}
	if p2.CoversUntilTS <= p1.CoversUntilTS {
		t.Errorf("covers_until_ts did not advance: %d -> %d", p1.CoversUntilTS, p2.CoversUntilTS)
	}
	if len(s.tail) != 0 {
		t.Errorf("tail = %d entries, want empty after full fold", len(s.tail))
	}
}

func TestSummarizer_AcksDoNotTrigger(t *testing.T) {
	// Only result-typed disclosures count toward the trigger
	s, _ := newTestSummarizer(t, concatOracle{})
	content, _ := json.Marshal(envelope.AckContent{Text: "on it"})
	payload, _ := json.Marshal(envelope.ResultPayload{
		TaskID: "t1", MessageType: envelope.MsgAck, Content: content,
	})
	raw, _ := envelope.Encode(envelope.Envelope{
		ID: "a1", Type: envelope.TypeResult, RoomID: "default",
		From: envelope.Sender{Kind: envelope.KindAgent, ID: "math"},
		TS:   100, Payload: payload,
	})
	for range 5 {
		s.observe(raw)
	}
	if s.completionsSince != 0 {
		t.Errorf("completions = %d, want 0 for acks", s.completionsSince)
	}
}

func TestSummarizer_OracleFailureKeepsCounter(t *testing.T) {
	// A failed round leaves the tail and counter intact so the next completion retries
	s, sumCh := newTestSummarizer(t, failOracle{})
	for i := 1; i <= 3; i++ {
		s.observe(resultFrame(t, fmt.Sprintf("r%d", i), int64(100+i), "math", fmt.Sprintf("t%d", i), "x"))
	}
	pumpRound(t, s)

	select {
	case <-sumCh:
		t.Fatal("no summary should publish on oracle failure")
	default:
	}
	if s.completionsSince != 3 {
		t.Errorf("completions = %d, want 3 retained", s.completionsSince)
	}
	if len(s.tail) != 3 {
		t.Errorf("tail = %d, want 3 retained", len(s.tail))
	}

	// Next completion retries with a working oracle path.
	s.oracle = concatOracle{}
	s.observe(resultFrame(t, "r4", 110, "math", "t4", "y"))
	pumpRound(t, s)
	p := recvSummary(t, sumCh)
	if p.CoversUntilTS != 110 {
		t.Errorf("covers_until_ts = %d, want 110", p.CoversUntilTS)
	}
}

func TestSummarizer_CoveredFramesSkipped(t *testing.T) {
	// A frame with ts <= covers_until_ts (replay) is not absorbed twice
	s, sumCh := newTestSummarizer(t, concatOracle{})
	for i := 1; i <= 3; i++ {
		s.observe(resultFrame(t, fmt.Sprintf("r%d", i), int64(100+i), "math", fmt.Sprintf("t%d", i), "x"))
	}
	pumpRound(t, s)
	recvSummary(t, sumCh)

	s.observe(resultFrame(t, "r1", 101, "math", "t1", "x"))
	if len(s.tail) != 0 {
		t.Errorf("tail = %d, want 0: covered replay must not re-enter", len(s.tail))
	}
}
