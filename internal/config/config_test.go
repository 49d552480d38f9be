package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Engine.DefaultVoice != "af_bella" {
		t.Fatalf("expected default voice af_bella, got %q", cfg.Engine.DefaultVoice)
	}
	if cfg.Engine.DefaultSpeed != 1.0 {
		t.Fatalf("expected default speed 1.0, got %v", cfg.Engine.DefaultSpeed)
	}
	if len(cfg.Audio.Players) != 3 || cfg.Audio.Players[0] != "pw-play" {
		t.Fatalf("unexpected default players: %v", cfg.Audio.Players)
	}
	if cfg.Audio.PlayerTimeoutMS != 10000 {
		t.Fatalf("expected 10s player timeout, got %d", cfg.Audio.PlayerTimeoutMS)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SPEAKD_DAEMON_MODE", "pipe")
	t.Setenv("SPEAKD_DAEMON_PIPE_PATH", "/tmp/test.fifo")
	t.Setenv("SPEAKD_ENGINE_DEFAULT_VOICE", "af_sarah")
	t.Setenv("SPEAKD_ENGINE_DEFAULT_SPEED", "1.25")
	t.Setenv("SPEAKD_AUDIO_PLAYERS", "paplay, aplay -q")
	t.Setenv("SPEAKD_AUDIO_PLAYER_TIMEOUT_MS", "5000")
	t.Setenv("SPEAKD_EVENT_STORE_PATH", "./tmp.db")
	t.Setenv("SPEAKD_EVENT_STORE_RETENTION_MODE", "ephemeral")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Daemon.Mode != "pipe" || cfg.Daemon.PipePath != "/tmp/test.fifo" {
		t.Fatalf("expected daemon overrides, got %+v", cfg.Daemon)
	}
	if cfg.Engine.DefaultVoice != "af_sarah" {
		t.Fatalf("expected voice override, got %q", cfg.Engine.DefaultVoice)
	}
	if cfg.Engine.DefaultSpeed != 1.25 {
		t.Fatalf("expected speed override, got %v", cfg.Engine.DefaultSpeed)
	}
	if len(cfg.Audio.Players) != 2 || cfg.Audio.Players[1] != "aplay -q" {
		t.Fatalf("expected players override, got %v", cfg.Audio.Players)
	}
	if cfg.Audio.PlayerTimeoutMS != 5000 {
		t.Fatalf("expected timeout override, got %d", cfg.Audio.PlayerTimeoutMS)
	}
	if cfg.EventStore.Path != "./tmp.db" {
		t.Fatalf("expected event store path override")
	}
	if cfg.EventStore.RetentionMode != "ephemeral" {
		t.Fatalf("expected retention mode override")
	}
}

func TestValidateRejectsBadDaemonMode(t *testing.T) {
	t.Setenv("SPEAKD_DAEMON_MODE", "carrier-pigeon")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for unknown daemon mode")
	}
}

func TestValidateRejectsNonPositiveSpeed(t *testing.T) {
	t.Setenv("SPEAKD_ENGINE_DEFAULT_SPEED", "-1")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for non-positive default speed")
	}
}
