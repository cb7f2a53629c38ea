package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haricheung/agent-ops-room/internal/facilitator"
	"github.com/haricheung/agent-ops-room/internal/llm"
)

var facilitatorCmd = &cobra.Command{
	Use:   "facilitator",
	Short: "Run the coordination facilitator",
	Long: `The facilitator reads the approved timeline, interprets each user
utterance through the LLM oracle, and either replies directly or dispatches
a task to a specialist agent together with a mic grant.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := setup(cmd, "facilitator")
		if err != nil {
			return err
		}
		oracle := llm.New(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model)
		if err := oracle.Validate(); err != nil {
			return misconfig(err)
		}
		tr, err := dial(cfg, "facilitator")
		if err != nil {
			return err
		}
		defer tr.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		f := facilitator.New(tr, oracle, facilitator.Options{
			RoomID:           cfg.RoomID,
			MaxMessages:      cfg.Facilitator.MaxMessages,
			MicDurationSecs:  int64(cfg.Facilitator.MicDurationSecs),
			HeartbeatTTLSecs: int64(cfg.Facilitator.HeartbeatTTLSecs),
			OracleTimeout:    time.Duration(cfg.LLM.TimeoutSecs) * time.Second,
		}, log)
		return f.Run(ctx)
	},
}

func init() {
	addLLMFlags(facilitatorCmd)
}
