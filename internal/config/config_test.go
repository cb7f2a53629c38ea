package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
)

func TestLoad_BuiltInDefaults(t *testing.T) {
	// With no file, env, or flags, the built-in defaults apply
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	if err == nil {
		t.Fatal("expected error for an explicitly named missing file")
	}

	cfg, err = Load("", nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.RoomID != "default" {
		t.Errorf("room_id = %q, want default", cfg.RoomID)
	}
	if cfg.MQTT.Host != "localhost" || cfg.MQTT.Port != 1883 {
		t.Errorf("mqtt = %+v", cfg.MQTT)
	}
	if cfg.Facilitator.MaxMessages != 10 || cfg.Facilitator.MicDurationSecs != 300 {
		t.Errorf("facilitator = %+v", cfg.Facilitator)
	}
	if cfg.Summarizer.Interval != 3 {
		t.Errorf("summarizer.interval = %d, want 3", cfg.Summarizer.Interval)
	}
	if cfg.Agent.QueueDepth != 4 {
		t.Errorf("agent.queue_depth = %d, want 4", cfg.Agent.QueueDepth)
	}
	if !cfg.Sink.Append {
		t.Error("sink.append default should be true")
	}
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	// AOR_* environment variables override built-in defaults
	t.Setenv("AOR_ROOM_ID", "ops")
	t.Setenv("AOR_MQTT_HOST", "broker.internal")
	t.Setenv("AOR_MQTT_PORT", "8883")
	t.Setenv("AOR_LLM_MODEL", "gpt-oss-20b")

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.RoomID != "ops" {
		t.Errorf("room_id = %q, want ops", cfg.RoomID)
	}
	if cfg.MQTT.Host != "broker.internal" || cfg.MQTT.Port != 8883 {
		t.Errorf("mqtt = %+v", cfg.MQTT)
	}
	if cfg.LLM.Model != "gpt-oss-20b" {
		t.Errorf("llm.model = %q", cfg.LLM.Model)
	}
}

func TestLoad_FileOverridesDefaultsEnvOverridesFile(t *testing.T) {
	// Precedence: env > file > defaults
	dir := t.TempDir()
	path := filepath.Join(dir, "aor.yaml")
	content := "room_id: fromfile\nmqtt:\n  host: filehost\n  port: 2883\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("AOR_MQTT_HOST", "envhost")

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.RoomID != "fromfile" {
		t.Errorf("room_id = %q, want file value", cfg.RoomID)
	}
	if cfg.MQTT.Port != 2883 {
		t.Errorf("mqtt.port = %d, want file value", cfg.MQTT.Port)
	}
	if cfg.MQTT.Host != "envhost" {
		t.Errorf("mqtt.host = %q, want env to beat file", cfg.MQTT.Host)
	}
}

func TestLoad_FlagsBeatEnv(t *testing.T) {
	// A set flag takes precedence over the environment
	t.Setenv("AOR_ROOM_ID", "fromenv")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("room-id", "", "")
	if err := flags.Set("room-id", "fromflag"); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load("", flags)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.RoomID != "fromflag" {
		t.Errorf("room_id = %q, want flag value", cfg.RoomID)
	}
}

func TestLoad_MalformedFileIsError(t *testing.T) {
	// A malformed config file is fatal misconfiguration, not a silent default
	path := filepath.Join(t.TempDir(), "aor.yaml")
	if err := os.WriteFile(path, []byte("room_id: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path, nil); err == nil {
		t.Error("expected error for malformed yaml")
	}
}

func TestLoad_EmptyRoomIDRejected(t *testing.T) {
	// An explicitly empty room_id is rejected
	t.Setenv("AOR_ROOM_ID", "")
	path := filepath.Join(t.TempDir(), "aor.yaml")
	if err := os.WriteFile(path, []byte(`room_id: ""`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path, nil); err == nil {
		t.Error("expected error for empty room_id")
	}
}
