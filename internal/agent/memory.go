package agent

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/haricheung/agent-ops-room/internal/envelope"
)

// LevelDB key scheme — "|" as separator, timestamps zero-padded so byte
// order equals timestamp order.
//
//	e|<ts20>|<envelope id> → envelope JSON
const prefixEnvelope = "e|"

const memoryWriteQueue = 1024

// Memory is the agent's persistent view of the approved timeline, used to
// build LLM context for task execution. Writes are async so observing the
// room never blocks the broker reader; reads are synchronous.
//
// All methods are nil-safe so an agent without a state dir degrades to
// context-free execution instead of crashing.
type Memory struct {
	db      *leveldb.DB
	writeCh chan envelope.Envelope
}

// OpenMemory opens (or creates) the LevelDB store at dir.
func OpenMemory(dir string) (*Memory, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("agent: open memory at %s: %w (is another agent process using it?)", dir, err)
	}
	return &Memory{
		db:      db,
		writeCh: make(chan envelope.Envelope, memoryWriteQueue),
	}, nil
}

// Observe enqueues an approved envelope for persistence. Non-blocking; a
// full queue drops the envelope with a warning.
//
// Expectations:
//   - Never blocks the caller goroutine
//   - No-op on nil receiver
//   - Drops with a log warning when the queue is at capacity
func (m *Memory) Observe(e envelope.Envelope) {
	if m == nil {
		return
	}
	select {
	case m.writeCh <- e:
	default:
		slog.Warn("agent memory write queue full, envelope dropped", "id", e.ID)
	}
}

// Run processes the async write queue. Drains pending writes and closes the
// DB when done is closed. Safe to skip entirely on a nil receiver.
func (m *Memory) Run(done <-chan struct{}) {
	if m == nil {
		return
	}
	for {
		select {
		case <-done:
			m.drain()
			if err := m.db.Close(); err != nil {
				slog.Warn("agent memory close", "error", err)
			}
			return
		case e := <-m.writeCh:
			m.persist(e)
		}
	}
}

func (m *Memory) drain() {
	for {
		select {
		case e := <-m.writeCh:
			m.persist(e)
		default:
			return
		}
	}
}

func (m *Memory) persist(e envelope.Envelope) {
	data, err := json.Marshal(e)
	if err != nil {
		slog.Error("agent memory marshal", "id", e.ID, "error", err)
		return
	}
	if err := m.db.Put([]byte(envelopeKey(e)), data, nil); err != nil {
		slog.Error("agent memory put", "id", e.ID, "error", err)
	}
}

// Recent returns context lines for the newest n stored envelopes, oldest
// first. Envelopes with no renderable text are skipped.
//
// Expectations:
//   - Returns at most n lines
//   - Lines are ordered oldest to newest
//   - Returns nil on nil receiver
func (m *Memory) Recent(n int) ([]string, error) {
	if m == nil || n <= 0 {
		return nil, nil
	}
	iter := m.db.NewIterator(util.BytesPrefix([]byte(prefixEnvelope)), nil)
	defer iter.Release()

	var lines []string
	for ok := iter.Last(); ok && len(lines) < n; ok = iter.Prev() {
		var e envelope.Envelope
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			continue
		}
		if line := envelope.ContextLine(e); line != "" {
			lines = append(lines, line)
		}
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("agent: memory scan: %w", err)
	}
	// Reverse into chronological order.
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return lines, nil
}

func envelopeKey(e envelope.Envelope) string {
	return fmt.Sprintf("%s%020d|%s", prefixEnvelope, e.TS, e.ID)
}
