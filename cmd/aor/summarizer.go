package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haricheung/agent-ops-room/internal/llm"
	"github.com/haricheung/agent-ops-room/internal/summarizer"
)

var summarizerCmd = &cobra.Command{
	Use:   "summarizer",
	Short: "Run the incremental summarizer",
	Long: `The summarizer condenses the approved timeline after every N completed
tasks into a rolling summary. Summary plus tail is always lossless: every
approved envelope is represented exactly once.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := setup(cmd, "summarizer")
		if err != nil {
			return err
		}
		oracle := llm.New(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model)
		if err := oracle.Validate(); err != nil {
			return misconfig(err)
		}
		tr, err := dial(cfg, "summarizer")
		if err != nil {
			return err
		}
		defer tr.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		s := summarizer.New(tr, oracle, summarizer.Options{
			RoomID:        cfg.RoomID,
			Interval:      cfg.Summarizer.Interval,
			OracleTimeout: time.Duration(cfg.LLM.TimeoutSecs) * time.Second,
		}, log)
		return s.Run(ctx)
	},
}

func init() {
	addLLMFlags(summarizerCmd)
	summarizerCmd.Flags().Int("summary-interval", 0, "completed tasks per condensation round")
}
