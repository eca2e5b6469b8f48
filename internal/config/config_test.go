package config

import (
	"testing"
	"time"
)

func TestLoadRelayFromEnv_Defaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")

	cfg, err := LoadRelayFromEnv()
	if err != nil {
		t.Fatalf("LoadRelayFromEnv: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Expected port 8080, got %s", cfg.Port)
	}
	if cfg.Reconnect.Base != 1200*time.Millisecond || cfg.Reconnect.MaxAttempts != 5 {
		t.Errorf("Unexpected reconnect policy %+v", cfg.Reconnect)
	}
	if cfg.MaxPending != 50 {
		t.Errorf("Expected max pending 50, got %d", cfg.MaxPending)
	}
}

func TestLoadRelayFromEnv_Overrides(t *testing.T) {
	t.Setenv("RELAY_UPSTREAM", "echo")
	t.Setenv("RELAY_RECONNECT_BASE_DELAY", "250")
	t.Setenv("RELAY_RECONNECT_MAX_DELAY", "3s")
	t.Setenv("RELAY_MAX_RECONNECT_ATTEMPTS", "2")
	t.Setenv("RELAY_ALLOWED_ORIGINS", "http://a.test, http://b.test")
	t.Setenv("RELAY_SENTIMENT_ENABLED", "false")

	cfg, err := LoadRelayFromEnv()
	if err != nil {
		t.Fatalf("LoadRelayFromEnv: %v", err)
	}
	if cfg.Reconnect.Base != 250*time.Millisecond {
		t.Errorf("Expected 250ms base, got %v", cfg.Reconnect.Base)
	}
	if cfg.Reconnect.Max != 3*time.Second {
		t.Errorf("Expected 3s max, got %v", cfg.Reconnect.Max)
	}
	if cfg.Reconnect.MaxAttempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", cfg.Reconnect.MaxAttempts)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "http://b.test" {
		t.Errorf("Unexpected origins %v", cfg.AllowedOrigins)
	}
	if cfg.SentimentEnabled {
		t.Error("Expected sentiment disabled")
	}
}

func TestRelay_Validate(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	if _, err := LoadRelayFromEnv(); err == nil {
		t.Error("Expected error without GEMINI_API_KEY")
	}

	t.Setenv("RELAY_UPSTREAM", "carrier-pigeon")
	if _, err := LoadRelayFromEnv(); err == nil {
		t.Error("Expected error for unknown upstream")
	}
}

func TestLoadClientFromEnv(t *testing.T) {
	t.Setenv("LIVE_RELAY_URL", "wss://relay.test/ws")
	t.Setenv("LIVE_PLAYBACK_PREBUFFER", "4800")

	cfg, err := LoadClientFromEnv()
	if err != nil {
		t.Fatalf("LoadClientFromEnv: %v", err)
	}
	if cfg.Playback.Prebuffer != 4800 {
		t.Errorf("Expected prebuffer 4800, got %d", cfg.Playback.Prebuffer)
	}
	if cfg.Playback.LongDrainFrames != 94 || cfg.Playback.ShortDrainFrames != 38 {
		t.Errorf("Unexpected drain thresholds %+v", cfg.Playback)
	}

	t.Setenv("LIVE_RELAY_URL", "http://nope")
	if _, err := LoadClientFromEnv(); err == nil {
		t.Error("Expected error for non-websocket URL")
	}
}
