package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/haricheung/agent-ops-room/internal/display"
	"github.com/haricheung/agent-ops-room/internal/envelope"
	"github.com/haricheung/agent-ops-room/internal/topics"
	"github.com/haricheung/agent-ops-room/internal/transport"
)

var sayCmd = &cobra.Command{
	Use:   "say",
	Short: "Join a room as a user",
	Long: `An interactive client: each line you type publishes a say envelope to
the room's public timeline, and approved traffic, summaries, and gateway
rejections render live. Type 'exit' to leave.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, _, err := setup(cmd, "say")
		if err != nil {
			return err
		}
		userID := cfg.Say.UserID
		tr, err := dial(cfg, "user-"+userID)
		if err != nil {
			return err
		}
		defer tr.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		rl, err := readline.NewEx(&readline.Config{Prompt: display.Prompt(userID)})
		if err != nil {
			return misconfig(fmt.Errorf("say: init readline: %w", err))
		}
		defer rl.Close()

		go renderRoom(ctx, tr, cfg.RoomID, userID, rl.Stdout())

		fmt.Printf("joined room %q as %q — type a message, or 'exit' to leave\n", cfg.RoomID, userID)
		for {
			line, err := rl.Readline()
			if err != nil { // io.EOF or readline.ErrInterrupt
				return nil
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			if text == "exit" || text == "quit" {
				return nil
			}
			if err := publishSay(tr, cfg.RoomID, userID, text); err != nil {
				fmt.Fprintf(rl.Stdout(), "send failed: %v\n", err)
			}
		}
	},
}

func init() {
	sayCmd.Flags().String("user-id", "", "user identity to post as")
}

// publishSay sends one user chat line straight to the public timeline.
// Users do not pass through the gateway; only agent candidates do.
func publishSay(tr transport.Transport, roomID, userID, text string) error {
	e, err := envelope.New(envelope.TypeSay, roomID,
		envelope.Sender{Kind: envelope.KindUser, ID: userID},
		envelope.SayPayload{Text: text})
	if err != nil {
		return err
	}
	data, err := envelope.Encode(e)
	if err != nil {
		return err
	}
	return tr.Publish(topics.Public(roomID), data)
}

// renderRoom prints approved traffic, summaries, and rejections above the
// prompt until ctx is cancelled.
func renderRoom(ctx context.Context, tr transport.Transport, roomID, userID string, out io.Writer) {
	pubCh, err := tr.Subscribe(topics.Public(roomID))
	if err != nil {
		fmt.Fprintf(out, "subscribe failed: %v\n", err)
		return
	}
	sumCh, err := tr.Subscribe(topics.Summary(roomID))
	if err != nil {
		fmt.Fprintf(out, "subscribe failed: %v\n", err)
		return
	}
	ctrlCh, err := tr.Subscribe(topics.Control(roomID))
	if err != nil {
		fmt.Fprintf(out, "subscribe failed: %v\n", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-pubCh:
			if !ok {
				return
			}
			e, err := envelope.Parse(m.Payload)
			if err != nil || e.From.ID == userID {
				continue
			}
			if line := display.PublicLine(e); line != "" {
				fmt.Fprintln(out, line)
			}
		case m, ok := <-sumCh:
			if !ok {
				return
			}
			e, err := envelope.Parse(m.Payload)
			if err != nil || e.Type != envelope.TypeSummary {
				continue
			}
			if p, err := e.Summary(); err == nil {
				fmt.Fprintln(out, display.SummaryLine(p))
			}
		case m, ok := <-ctrlCh:
			if !ok {
				return
			}
			e, err := envelope.Parse(m.Payload)
			if err != nil || e.Type != envelope.TypeReject {
				continue
			}
			if p, err := e.Reject(); err == nil {
				fmt.Fprintln(out, display.RejectLine(p))
			}
		}
	}
}
