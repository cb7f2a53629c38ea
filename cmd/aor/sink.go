package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/haricheung/agent-ops-room/internal/sink"
)

var sinkCmd = &cobra.Command{
	Use:   "sink",
	Short: "Archive the approved timeline to JSONL",
	Long: `The sink appends every approved envelope to a JSONL archive, one
complete envelope per line, flushed per write. No filtering.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := setup(cmd, "sink")
		if err != nil {
			return err
		}
		tr, err := dial(cfg, "sink")
		if err != nil {
			return err
		}
		defer tr.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		s := sink.New(tr, sink.Options{
			RoomID:     cfg.RoomID,
			OutputFile: cfg.Sink.OutputFile,
			Append:     cfg.Sink.Append,
		}, log)
		return s.Run(ctx)
	},
}

func init() {
	sinkCmd.Flags().String("output-file", "", "archive file path")
	sinkCmd.Flags().Bool("append", true, "append to an existing archive instead of truncating")
}
