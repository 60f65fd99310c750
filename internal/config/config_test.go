package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want :8080", cfg.BindAddr)
	}
	if cfg.ConnectTimeout != 8*time.Second {
		t.Fatalf("ConnectTimeout = %v, want 8s", cfg.ConnectTimeout)
	}
	if cfg.MinCaptureDuration != 150*time.Millisecond {
		t.Fatalf("MinCaptureDuration = %v, want 150ms", cfg.MinCaptureDuration)
	}
	if cfg.RealtimeModel != "gpt-realtime" {
		t.Fatalf("RealtimeModel = %q", cfg.RealtimeModel)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("REALTIME_CONNECT_TIMEOUT", "3s")
	t.Setenv("PTT_MIN_CAPTURE_DURATION", "90ms")
	t.Setenv("AGENT_DEFAULT", "airline-desk")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ConnectTimeout != 3*time.Second {
		t.Fatalf("ConnectTimeout = %v, want 3s", cfg.ConnectTimeout)
	}
	if cfg.MinCaptureDuration != 90*time.Millisecond {
		t.Fatalf("MinCaptureDuration = %v, want 90ms", cfg.MinCaptureDuration)
	}
	if cfg.DefaultAgent != "airline-desk" {
		t.Fatalf("DefaultAgent = %q", cfg.DefaultAgent)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"REALTIME_CONNECT_TIMEOUT":       "-1s",
		"PTT_CREATE_RETRY_DELAY":         "0s",
		"PTT_CAPTURE_SAMPLE_RATE_HZ":     "0",
		"APP_SESSION_INACTIVITY_TIMEOUT": "1s",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() with %s=%s should fail", key, value)
			}
		})
	}
}

func TestLoadRejectsUnparsableDuration(t *testing.T) {
	t.Setenv("REALTIME_CONNECT_TIMEOUT", "soon")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() should fail on unparsable duration")
	}
}
