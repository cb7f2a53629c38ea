package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/haricheung/agent-ops-room/internal/gateway"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run the moderation gateway",
	Long: `The gateway is the sole writer of the approved public timeline for
agent-originated content. It validates every candidate against the mic
grant table and republishes byte-identical on approval, or emits a reject
receipt on the control topic. Fully deterministic; no LLM.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := setup(cmd, "gateway")
		if err != nil {
			return err
		}
		tr, err := dial(cfg, "gateway")
		if err != nil {
			return err
		}
		defer tr.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return gateway.New(tr, cfg.RoomID, log).Run(ctx)
	},
}
