package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/haricheung/agent-ops-room/internal/replay"
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Republish archived envelopes to the room",
	Long: `Replay reads a sink archive and republishes the selected envelopes to
the public topic, where they flow through the ordinary consumers again.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := setup(cmd, "replay")
		if err != nil {
			return err
		}
		tr, err := dial(cfg, "replay")
		if err != nil {
			return err
		}
		defer tr.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		r := replay.New(tr, replay.Options{
			RoomID:    cfg.RoomID,
			InputFile: cfg.Replay.InputFile,
			Type:      cfg.Replay.Type,
		}, log)
		_, err = r.Run(ctx)
		return err
	},
}

func init() {
	replayCmd.Flags().String("input-file", "", "archive file to replay")
	replayCmd.Flags().String("type", "", "only replay envelopes of this type")
}
