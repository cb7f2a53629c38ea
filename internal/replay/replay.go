// Package replay republishes archived envelopes to the public topic, where
// they flow through the ordinary consumers again.
package replay

import (
	"context"
	"log/slog"
	"time"

	"github.com/haricheung/agent-ops-room/internal/envelope"
	"github.com/haricheung/agent-ops-room/internal/sink"
	"github.com/haricheung/agent-ops-room/internal/topics"
	"github.com/haricheung/agent-ops-room/internal/transport"
)

// messageSpacing paces republished frames so downstream consumers see them
// as a stream rather than a burst.
const messageSpacing = 100 * time.Millisecond

// Options selects what to replay.
type Options struct {
	RoomID    string
	InputFile string
	Type      string // optional envelope type filter; "" replays everything
}

// Replayer republishes an archive once and returns.
type Replayer struct {
	tr   transport.Transport
	opts Options
	log  *slog.Logger
}

// New creates a Replayer for opts.RoomID over tr.
func New(tr transport.Transport, opts Options, log *slog.Logger) *Replayer {
	return &Replayer{tr: tr, opts: opts, log: log}
}

// Run loads the archive and republishes the selected envelopes in file
// order. Returns the number republished.
func (r *Replayer) Run(ctx context.Context) (int, error) {
	envelopes, err := sink.ReadArchive(r.opts.InputFile)
	if err != nil {
		return 0, err
	}
	r.log.Info("archive loaded", "path", r.opts.InputFile, "envelopes", len(envelopes))

	count := 0
	for _, e := range envelopes {
		if r.opts.Type != "" && e.Type != envelope.Type(r.opts.Type) {
			continue
		}
		data, err := envelope.Encode(e)
		if err != nil {
			r.log.Warn("skipping unencodable envelope", "id", e.ID, "error", err)
			continue
		}
		if err := r.tr.Publish(topics.Public(r.opts.RoomID), data); err != nil {
			r.log.Error("replay publish failed", "id", e.ID, "error", err)
			continue
		}
		count++
		r.log.Debug("replayed", "id", e.ID, "type", e.Type)

		select {
		case <-ctx.Done():
			r.log.Warn("replay interrupted", "replayed", count, "total", len(envelopes))
			return count, ctx.Err()
		case <-time.After(messageSpacing):
		}
	}
	r.log.Info("replay complete", "replayed", count)
	return count, nil
}
