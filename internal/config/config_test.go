package config

import (
	"errors"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "API_KEY", "OPENAI_API_KEY", "SUMMARY_PROVIDER", "SUMMARY_TEMPERATURE", "SESSION_IDLE_TIMEOUT", "CREDENTIALS_FILE", "REGISTRATION_PREAUTHORIZED", "TRUST_PROXY"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Fatalf("unexpected addr %q", cfg.Server.Addr)
	}
	if cfg.Assistants.Enabled() {
		t.Fatal("assistants must be disabled without a key")
	}
	if err := cfg.Assistants.Validate(); !errors.Is(err, ErrConfigMissing) {
		t.Fatalf("expected ErrConfigMissing, got %v", err)
	}
	if cfg.Summary.Provider != SummaryProviderOpenAI || cfg.Summary.Model != "gpt-3.5-turbo" || cfg.Summary.Temperature != 0.5 {
		t.Fatalf("unexpected summary config %+v", cfg.Summary)
	}
	if cfg.Session.IdleTimeout != 12*time.Hour {
		t.Fatalf("unexpected idle timeout %s", cfg.Session.IdleTimeout)
	}
	if cfg.Auth.CredentialsFile != "config.yaml" || cfg.Auth.RequirePreauthorized {
		t.Fatalf("unexpected auth config %+v", cfg.Auth)
	}
	if cfg.Server.TrustProxy {
		t.Fatal("forwarding headers must not be trusted by default")
	}
}

func TestLoadOptInFlags(t *testing.T) {
	t.Setenv("REGISTRATION_PREAUTHORIZED", "true")
	t.Setenv("TRUST_PROXY", "1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if !cfg.Auth.RequirePreauthorized || !cfg.Server.TrustProxy {
		t.Fatalf("expected opt-in flags to be set, got auth=%+v server=%+v", cfg.Auth, cfg.Server)
	}
}

func TestLoadAPIKeyFallback(t *testing.T) {
	t.Setenv("API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if cfg.Assistants.APIKey != "sk-test" {
		t.Fatalf("expected fallback key, got %q", cfg.Assistants.APIKey)
	}
	if err := cfg.Assistants.Validate(); err != nil {
		t.Fatalf("Validate err: %v", err)
	}
}

func TestLoadPortForms(t *testing.T) {
	cases := map[string]string{
		"9000":           ":9000",
		"127.0.0.1:9000": "127.0.0.1:9000",
	}
	for raw, want := range cases {
		t.Setenv("PORT", raw)
		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load(%q) err: %v", raw, err)
		}
		if cfg.Server.Addr != want {
			t.Fatalf("PORT=%q: got %q want %q", raw, cfg.Server.Addr, want)
		}
	}

	t.Setenv("PORT", "80 80")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid PORT")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"SUMMARY_PROVIDER":      "claude",
		"SUMMARY_TEMPERATURE":   "warm",
		"SESSION_IDLE_TIMEOUT":  "-1h",
		"LOGIN_RATE_PER_MINUTE": "0",
		"COOKIE_SECURE":         "maybe",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%q", key, value)
			}
		})
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" https://a.example , ,https://b.example")
	if len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Fatalf("unexpected list %v", got)
	}
}
