// Command aor runs the Agent Ops Room components: one subcommand per
// process (gateway, facilitator, agent, summarizer, sink, replay, say),
// all meeting on the room topics of a shared MQTT broker.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/haricheung/agent-ops-room/internal/config"
	"github.com/haricheung/agent-ops-room/internal/logging"
	"github.com/haricheung/agent-ops-room/internal/transport"
)

// Exit codes per the CLI contract.
const (
	exitOK          = 0
	exitMisconfig   = 1
	exitUnreachable = 2
)

// exitError carries a process exit code up through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func misconfig(err error) error   { return &exitError{code: exitMisconfig, err: err} }
func unreachable(err error) error { return &exitError{code: exitUnreachable, err: err} }

var configFile string

var rootCmd = &cobra.Command{
	Use:           "aor",
	Short:         "Agent Ops Room - moderated agent coordination over MQTT",
	SilenceUsage:  true,
	SilenceErrors: true,
	Long: `Agent Ops Room is a moderated coordination runtime: users chat in rooms,
a facilitator interprets intent and assigns work, specialist agents propose
disclosures, and a deterministic gateway approves or rejects each one
before it reaches the public timeline.

Each subcommand runs one component. Configuration precedence:
flags > AOR_* environment variables > aor.yaml > built-in defaults.`,
}

func main() {
	// Local overrides (API keys, broker address) load before viper reads
	// the environment.
	_ = godotenv.Load(".env")

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to config file (default ./aor.yaml)")
	rootCmd.PersistentFlags().String("room-id", "", "room identifier")
	rootCmd.PersistentFlags().String("mqtt-host", "", "MQTT broker host")
	rootCmd.PersistentFlags().Int("mqtt-port", 0, "MQTT broker port")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(gatewayCmd, facilitatorCmd, agentCmd, summarizerCmd, sinkCmd, replayCmd, sayCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "aor: %v\n", err)
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(exitMisconfig)
	}
}

// setup loads configuration and installs logging for one component.
func setup(cmd *cobra.Command, component string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return nil, nil, misconfig(err)
	}
	log, err := logging.Setup(cfg.LogLevel, component)
	if err != nil {
		return nil, nil, misconfig(err)
	}
	return cfg, log, nil
}

// dial connects to the broker; failure is the broker-unreachable exit.
func dial(cfg *config.Config, component string) (transport.Transport, error) {
	clientID := fmt.Sprintf("%s-%s", cfg.MQTT.ClientIDPrefix, component)
	tr, err := transport.DialMQTT(cfg.MQTT.Host, cfg.MQTT.Port, clientID,
		time.Duration(cfg.MQTT.KeepAliveSecs)*time.Second)
	if err != nil {
		return nil, unreachable(err)
	}
	return tr, nil
}

// addLLMFlags registers the oracle flags shared by LLM-backed components.
func addLLMFlags(cmd *cobra.Command) {
	cmd.Flags().String("llm-api-key", "", "LLM API key")
	cmd.Flags().String("llm-base-url", "", "LLM API base URL")
	cmd.Flags().String("llm-model", "", "LLM model name")
}
