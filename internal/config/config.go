// Package config loads relay and client settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/M7mdRef3t/dawayir-live-agent/internal/audio"
	"github.com/M7mdRef3t/dawayir-live-agent/internal/backoff"
)

// Relay configures cmd/relay.
type Relay struct {
	Port           string
	AllowedOrigins []string

	Upstream     string // "gemini" or "echo"
	GeminiAPIKey string
	GeminiModel  string
	GeminiVoice  string

	Reconnect         backoff.Policy
	ConnectTimeout    time.Duration
	MaxPending        int
	TranscriptFlush   time.Duration
	CommandDedupe     time.Duration
	SentimentQuiet    time.Duration
	SentimentEnabled  bool
	CommandsEnabled   bool
	MemoryLines       int
	SystemInstruction string

	JWTSecret string
	AccessKey string

	MongoURI      string
	MongoDatabase string
	RedisURL      string
	RecordTTL     time.Duration
}

// LoadRelayFromEnv reads relay settings, applying defaults for anything unset.
func LoadRelayFromEnv() (Relay, error) {
	cfg := Relay{
		Port:           envOr("PORT", "8080"),
		AllowedOrigins: envListOr("RELAY_ALLOWED_ORIGINS", nil),

		Upstream:     envOr("RELAY_UPSTREAM", "gemini"),
		GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),
		GeminiModel:  envOr("GEMINI_MODEL", "gemini-2.5-flash-native-audio-preview-09-2025"),
		GeminiVoice:  envOr("GEMINI_VOICE", "Aoede"),

		Reconnect: backoff.Policy{
			Base:        envDurationOr("RELAY_RECONNECT_BASE_DELAY", 1200*time.Millisecond),
			Max:         envDurationOr("RELAY_RECONNECT_MAX_DELAY", 10*time.Second),
			MaxAttempts: envIntOr("RELAY_MAX_RECONNECT_ATTEMPTS", 5),
		},
		ConnectTimeout:    envDurationOr("RELAY_CONNECT_TIMEOUT", 15*time.Second),
		MaxPending:        envIntOr("RELAY_MAX_PENDING", 50),
		TranscriptFlush:   envDurationOr("RELAY_TRANSCRIPT_FLUSH", 1200*time.Millisecond),
		CommandDedupe:     envDurationOr("RELAY_COMMAND_DEDUPE_WINDOW", 4*time.Second),
		SentimentQuiet:    envDurationOr("RELAY_SENTIMENT_QUIET", 2500*time.Millisecond),
		SentimentEnabled:  envBoolOr("RELAY_SENTIMENT_ENABLED", true),
		CommandsEnabled:   envBoolOr("RELAY_COMMANDS_ENABLED", true),
		MemoryLines:       envIntOr("RELAY_MEMORY_LINES", 12),
		SystemInstruction: os.Getenv("RELAY_SYSTEM_INSTRUCTION"),

		JWTSecret: os.Getenv("RELAY_JWT_SECRET"),
		AccessKey: os.Getenv("RELAY_ACCESS_KEY"),

		MongoURI:      os.Getenv("MONGODB_URI"),
		MongoDatabase: envOr("MONGODB_DATABASE", "dawayir"),
		RedisURL:      os.Getenv("REDIS_URL"),
		RecordTTL:     envDurationOr("RELAY_RECORD_TTL", 24*time.Hour),
	}
	return cfg, cfg.Validate()
}

// Validate checks for settings the relay cannot run with.
func (c Relay) Validate() error {
	var errs []error
	if c.Upstream != "gemini" && c.Upstream != "echo" {
		errs = append(errs, fmt.Errorf("RELAY_UPSTREAM must be gemini or echo, got %q", c.Upstream))
	}
	if c.Upstream == "gemini" && c.GeminiAPIKey == "" {
		errs = append(errs, errors.New("GEMINI_API_KEY is required"))
	}
	if c.Reconnect.MaxAttempts < 0 {
		errs = append(errs, errors.New("RELAY_MAX_RECONNECT_ATTEMPTS must not be negative"))
	}
	if c.Reconnect.Base <= 0 {
		errs = append(errs, errors.New("RELAY_RECONNECT_BASE_DELAY must be positive"))
	}
	if c.MaxPending < 1 {
		errs = append(errs, errors.New("RELAY_MAX_PENDING must be at least 1"))
	}
	if c.AccessKey != "" && c.JWTSecret == "" {
		errs = append(errs, errors.New("RELAY_ACCESS_KEY requires RELAY_JWT_SECRET"))
	}
	return errors.Join(errs...)
}

// Client configures cmd/live-client.
type Client struct {
	RelayURL string
	Token    string

	Reconnect        backoff.Policy
	MaxPending       int
	MicDefer         time.Duration
	RestoreWindow    time.Duration
	SpeakingDebounce time.Duration
	ContextLines     int
	Playback         audio.PlaybackConfig
	Capture          audio.CaptureConfig
	BootstrapPrompt  string
}

// LoadClientFromEnv reads live client settings.
func LoadClientFromEnv() (Client, error) {
	playback := audio.DefaultPlaybackConfig()
	playback.Capacity = envIntOr("LIVE_PLAYBACK_CAPACITY", playback.Capacity)
	playback.Prebuffer = envIntOr("LIVE_PLAYBACK_PREBUFFER", playback.Prebuffer)
	playback.LongDrainFrames = envIntOr("LIVE_DRAIN_LONG_FRAMES", playback.LongDrainFrames)
	playback.ShortDrainFrames = envIntOr("LIVE_DRAIN_SHORT_FRAMES", playback.ShortDrainFrames)
	playback.SlowStartSamples = envIntOr("LIVE_DRAIN_SLOW_START_SAMPLES", playback.SlowStartSamples)

	cfg := Client{
		RelayURL: envOr("LIVE_RELAY_URL", "ws://localhost:8080/ws"),
		Token:    os.Getenv("LIVE_RELAY_TOKEN"),
		Reconnect: backoff.Policy{
			Base:        envDurationOr("LIVE_RECONNECT_BASE_DELAY", time.Second),
			Max:         envDurationOr("LIVE_RECONNECT_MAX_DELAY", 8*time.Second),
			MaxAttempts: envIntOr("LIVE_MAX_RECONNECT_ATTEMPTS", 5),
		},
		MaxPending:       envIntOr("LIVE_MAX_PENDING", 50),
		MicDefer:         envDurationOr("LIVE_MIC_DEFER", 2500*time.Millisecond),
		RestoreWindow:    envDurationOr("LIVE_RESTORE_WINDOW", 6*time.Second),
		SpeakingDebounce: envDurationOr("LIVE_TEXT_SPEAKING_DEBOUNCE", 1200*time.Millisecond),
		ContextLines:     envIntOr("LIVE_CONTEXT_LINES", 3),
		Playback:         playback,
		Capture:          audio.DefaultCaptureConfig(),
		BootstrapPrompt:  os.Getenv("LIVE_BOOTSTRAP_PROMPT"),
	}
	return cfg, cfg.Validate()
}

// Validate checks client settings.
func (c Client) Validate() error {
	var errs []error
	if !strings.HasPrefix(c.RelayURL, "ws://") && !strings.HasPrefix(c.RelayURL, "wss://") {
		errs = append(errs, fmt.Errorf("LIVE_RELAY_URL must be a ws:// or wss:// URL, got %q", c.RelayURL))
	}
	if c.MaxPending < 1 {
		errs = append(errs, errors.New("LIVE_MAX_PENDING must be at least 1"))
	}
	if err := c.Playback.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envIntOr(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// envDurationOr accepts Go durations ("1.5s") or bare milliseconds ("1500").
func envDurationOr(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func envListOr(key string, def []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
