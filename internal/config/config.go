// Package config loads component configuration with the precedence
// flags > environment (AOR_*) > config file (aor.yaml) > built-in defaults.
// A missing config file is fine; a malformed one is fatal misconfiguration.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the full configuration tree shared by every component. Each
// component reads only its slice of it.
type Config struct {
	RoomID   string `mapstructure:"room_id"`
	LogLevel string `mapstructure:"log_level"`

	MQTT        MQTTConfig        `mapstructure:"mqtt"`
	LLM         LLMConfig         `mapstructure:"llm"`
	Facilitator FacilitatorConfig `mapstructure:"facilitator"`
	Summarizer  SummarizerConfig  `mapstructure:"summarizer"`
	Sink        SinkConfig        `mapstructure:"sink"`
	Agent       AgentConfig       `mapstructure:"agent"`
	Replay      ReplayConfig      `mapstructure:"replay"`
	Say         SayConfig         `mapstructure:"say"`
}

// MQTTConfig locates the broker.
type MQTTConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	ClientIDPrefix string `mapstructure:"client_id_prefix"`
	KeepAliveSecs  int    `mapstructure:"keep_alive_secs"`
}

// LLMConfig locates the text-completion oracle.
type LLMConfig struct {
	APIKey      string `mapstructure:"api_key"`
	BaseURL     string `mapstructure:"base_url"`
	Model       string `mapstructure:"model"`
	TimeoutSecs int    `mapstructure:"timeout_secs"`
}

// FacilitatorConfig holds mic-grant defaults and registry tuning.
type FacilitatorConfig struct {
	MaxMessages      int `mapstructure:"max_messages"`
	MicDurationSecs  int `mapstructure:"mic_duration_secs"`
	HeartbeatTTLSecs int `mapstructure:"heartbeat_ttl_secs"`
}

// SummarizerConfig holds the condensation trigger interval.
type SummarizerConfig struct {
	Interval int `mapstructure:"interval"`
}

// SinkConfig holds archive output settings.
type SinkConfig struct {
	OutputFile string `mapstructure:"output_file"`
	Append     bool   `mapstructure:"append"`
}

// AgentConfig holds specialist agent identity and queue settings.
type AgentConfig struct {
	ID         string `mapstructure:"id"`
	StateDir   string `mapstructure:"state_dir"`
	QueueDepth int    `mapstructure:"queue_depth"`
}

// ReplayConfig holds archive replay settings.
type ReplayConfig struct {
	InputFile string `mapstructure:"input_file"`
	Type      string `mapstructure:"type"`
}

// SayConfig holds user-client settings.
type SayConfig struct {
	UserID string `mapstructure:"user_id"`
}

// flagKeys maps viper keys to the CLI flag that overrides them. Only flags
// actually registered on the calling command are bound.
var flagKeys = map[string]string{
	"room_id":             "room-id",
	"log_level":           "log-level",
	"mqtt.host":           "mqtt-host",
	"mqtt.port":           "mqtt-port",
	"llm.api_key":         "llm-api-key",
	"llm.base_url":        "llm-base-url",
	"llm.model":           "llm-model",
	"summarizer.interval": "summary-interval",
	"sink.output_file":    "output-file",
	"sink.append":         "append",
	"agent.id":            "agent-id",
	"agent.state_dir":     "state-dir",
	"replay.input_file":   "input-file",
	"replay.type":         "type",
	"say.user_id":         "user-id",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("room_id", "default")
	v.SetDefault("log_level", "info")

	v.SetDefault("mqtt.host", "localhost")
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.client_id_prefix", "aor")
	v.SetDefault("mqtt.keep_alive_secs", 30)

	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-oss-120b")
	v.SetDefault("llm.timeout_secs", 30)

	v.SetDefault("facilitator.max_messages", 10)
	v.SetDefault("facilitator.mic_duration_secs", 300)
	v.SetDefault("facilitator.heartbeat_ttl_secs", 30)

	v.SetDefault("summarizer.interval", 3)

	v.SetDefault("sink.output_file", "aor-archive.jsonl")
	v.SetDefault("sink.append", true)

	v.SetDefault("agent.id", "")
	v.SetDefault("agent.state_dir", "")
	v.SetDefault("agent.queue_depth", 4)

	v.SetDefault("replay.input_file", "aor-archive.jsonl")
	v.SetDefault("replay.type", "")

	v.SetDefault("say.user_id", "alice")
}

// Load builds a Config. flags may be nil; when present, set flags take the
// highest precedence via viper's flag binding. configFile overrides the
// default search path ("" searches ./aor.yaml then ~/.config/aor/aor.yaml).
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("AOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("aor")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/aor")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read %s: %w", v.ConfigFileUsed(), err)
		}
	}

	if flags != nil {
		for key, name := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("config: bind --%s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if cfg.RoomID == "" {
		return nil, fmt.Errorf("config: room_id must not be empty")
	}
	return &cfg, nil
}
