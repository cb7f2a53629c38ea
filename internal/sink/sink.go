// Package sink archives the approved timeline: one JSONL line per
// envelope, flushed per write, no filtering. The reader half serves the
// replay component.
package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/haricheung/agent-ops-room/internal/envelope"
	"github.com/haricheung/agent-ops-room/internal/topics"
	"github.com/haricheung/agent-ops-room/internal/transport"
)

const (
	heartbeatInterval = 10 * time.Second
	sinkDescription   = "Sink - archives the approved timeline to JSONL"
)

// Options tunes one sink instance.
type Options struct {
	RoomID     string
	OutputFile string
	Append     bool
}

// Sink writes every approved envelope to the archive in arrival order.
type Sink struct {
	tr   transport.Transport
	opts Options
	log  *slog.Logger
	now  func() int64
}

// New creates a Sink for opts.RoomID over tr.
func New(tr transport.Transport, opts Options, log *slog.Logger) *Sink {
	return &Sink{
		tr:   tr,
		opts: opts,
		log:  log,
		now:  func() int64 { return time.Now().Unix() },
	}
}

// Run opens the archive and appends approved envelopes until ctx is
// cancelled. Each line is synced to the OS before the next frame is read.
func (s *Sink) Run(ctx context.Context) error {
	flags := os.O_CREATE | os.O_WRONLY
	if s.opts.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(s.opts.OutputFile, flags, 0o644)
	if err != nil {
		return fmt.Errorf("sink: open %s: %w", s.opts.OutputFile, err)
	}
	defer f.Close()

	pubCh, err := s.tr.Subscribe(topics.Public(s.opts.RoomID))
	if err != nil {
		return err
	}

	go s.heartbeatLoop(ctx)

	s.log.Info("sink running", "room", s.opts.RoomID, "output", s.opts.OutputFile, "append", s.opts.Append)

	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-pubCh:
			if !ok {
				return nil
			}
			s.write(f, m.Payload)
		}
	}
}

// write appends one envelope line. Unparsable frames on the observational
// public topic are logged and skipped, never archived.
func (s *Sink) write(f *os.File, raw []byte) {
	e, err := envelope.Parse(raw)
	if err != nil {
		s.log.Warn("skipping bad public frame", "error", err)
		return
	}
	line, err := json.Marshal(e)
	if err != nil {
		s.log.Error("marshal envelope", "id", e.ID, "error", err)
		return
	}
	if _, err := fmt.Fprintf(f, "%s\n", line); err != nil {
		s.log.Error("archive write", "id", e.ID, "error", err)
		return
	}
	if err := f.Sync(); err != nil {
		s.log.Error("archive flush", "id", e.ID, "error", err)
		return
	}
	s.log.Debug("archived", "id", e.ID, "from", e.From.ID, "type", e.Type)
}

// heartbeatLoop announces sink presence every 10s, description every 3rd
// beat.
func (s *Sink) heartbeatLoop(ctx context.Context) {
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
				desc = sinkDescription
			}
			hb, err := envelope.New(envelope.TypeHeartbeat, s.opts.RoomID,
				envelope.Sender{Kind: envelope.KindSystem, ID: "sink"},
				envelope.HeartbeatPayload{TS: s.now(), Description: desc})
			if err != nil {
				continue
			}
			data, err := envelope.Encode(hb)
			if err != nil {
				continue
			}
			if err := s.tr.Publish(topics.AgentHeartbeat(s.opts.RoomID, "sink"), data); err != nil {
				s.log.Warn("heartbeat publish failed", "error", err)
			}
		}
	}
}

// ReadArchive loads every parsable envelope from a JSONL archive in file
// order. Unparsable lines are skipped with a warning so a torn final line
// never blocks a replay.
func ReadArchive(path string) ([]envelope.Envelope, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sink: open archive %s: %w", path, err)
	}
	defer f.Close()

	var out []envelope.Envelope
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		e, err := envelope.Parse(line)
		if err != nil {
			slog.Warn("skipping bad archive line", "path", path, "line", lineNo, "error", err)
			continue
		}
		out = append(out, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("sink: read archive %s: %w", path, err)
	}
	return out, nil
}
