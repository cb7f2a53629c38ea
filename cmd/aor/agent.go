package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haricheung/agent-ops-room/internal/agent"
	"github.com/haricheung/agent-ops-room/internal/llm"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run a specialist agent",
	Long: `A specialist agent listens on its private inbox, executes one task at a
time through the LLM oracle, and proposes bounded disclosures on the
candidate topic. It never writes to the public timeline directly.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := setup(cmd, "agent")
		if err != nil {
			return err
		}
		if cfg.Agent.ID == "" {
			return misconfig(fmt.Errorf("agent: --agent-id is required"))
		}
		oracle := llm.New(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model)
		if err := oracle.Validate(); err != nil {
			return misconfig(err)
		}

		stateDir := cfg.Agent.StateDir
		if stateDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return misconfig(fmt.Errorf("agent: resolve home dir: %w", err))
			}
			stateDir = filepath.Join(home, ".cache", "aor")
		}
		mem, err := agent.OpenMemory(filepath.Join(stateDir, cfg.RoomID, cfg.Agent.ID))
		if err != nil {
			return misconfig(err)
		}

		tr, err := dial(cfg, "agent-"+cfg.Agent.ID)
		if err != nil {
			return err
		}
		defer tr.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		description, _ := cmd.Flags().GetString("description")
		a := agent.New(tr, oracle, mem, agent.Options{
			RoomID:        cfg.RoomID,
			AgentID:       cfg.Agent.ID,
			Description:   description,
			QueueDepth:    cfg.Agent.QueueDepth,
			OracleTimeout: time.Duration(cfg.LLM.TimeoutSecs) * time.Second,
		}, log)
		return a.Run(ctx)
	},
}

func init() {
	addLLMFlags(agentCmd)
	agentCmd.Flags().String("agent-id", "", "agent identity (required)")
	agentCmd.Flags().String("state-dir", "", "local memory directory (default ~/.cache/aor)")
	agentCmd.Flags().String("description", "", "capability description announced via heartbeat")
}
