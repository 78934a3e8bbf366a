package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestLoad_EnvSubstitution(t *testing.T) {
	// Setup env var
	os.Setenv("TEST_VAULT_URL", "https://vault.example.com")
	defer os.Unsetenv("TEST_VAULT_URL")

	// Create temp config file
	configContent := `
deployment:
  base_url: ${TEST_VAULT_URL}
  scheme: limited
`
	tmpFile, err := os.CreateTemp("", "config_*.yaml")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.Write([]byte(configContent)); err != nil {
		t.Fatalf("Failed to write to temp file: %v", err)
	}
	tmpFile.Close()

	// Load config
	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Deployment.BaseURL != "https://vault.example.com" {
		t.Errorf("Expected base URL https://vault.example.com, got %s", cfg.Deployment.BaseURL)
	}
	if got := cfg.Deployment.URL(cfg.Deployment.Endpoints.Check); got != "https://vault.example.com/api/vault" {
		t.Errorf("check URL = %s", got)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestParse_SchemeDefaults(t *testing.T) {
	tests := []struct {
		scheme      string
		session     string
		vault       string
		header      string
		direction   string
		spoof       bool
		rotateSig   bool
		threshold   int
		rateDefault time.Duration
	}{
		{SchemeUnlimited, "", "", "", "ascending", false, false, 0, 60 * time.Second},
		{SchemeLimited, "", "", "", "ascending", true, false, 0, 10 * time.Second},
		{SchemeAdvanced, "/api/session", "", "X-Session-Token", "descending", true, true, 0, 60 * time.Second},
		{SchemeQuantum, "/api/quantum-session", "/api/quantum-vault", "X-Quantum-Token", "ascending", true, false, 2, 60 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.scheme, func(t *testing.T) {
			cfg, err := Parse([]byte("deployment:\n  base_url: http://localhost:8081\n  scheme: " + tt.scheme + "\n"))
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			d, s := cfg.Deployment, cfg.Search
			if d.Endpoints.Session != tt.session || d.Endpoints.Vault != tt.vault {
				t.Errorf("endpoints = %+v", d.Endpoints)
			}
			if d.TokenHeader != tt.header {
				t.Errorf("token header = %q", d.TokenHeader)
			}
			if s.Direction != tt.direction {
				t.Errorf("direction = %q", s.Direction)
			}
			if *d.SpoofAddress != tt.spoof || *d.RotateSignature != tt.rotateSig {
				t.Errorf("spoof = %v, rotate signature = %v", *d.SpoofAddress, *d.RotateSignature)
			}
			if *s.ProactiveRotationThreshold != tt.threshold {
				t.Errorf("threshold = %d", *s.ProactiveRotationThreshold)
			}
			if s.RateLimitDefault != tt.rateDefault || s.RateLimitMargin != 2*time.Second {
				t.Errorf("rate limit = %v + %v", s.RateLimitDefault, s.RateLimitMargin)
			}
			if d.Name != tt.scheme {
				t.Errorf("name = %q", d.Name)
			}
		})
	}
}

func TestParse_Overrides(t *testing.T) {
	cfg, err := Parse([]byte(`
deployment:
  name: staging-vault
  base_url: http://localhost:9000/
  scheme: quantum
  spoof_address: false
search:
  retry_cap_per_candidate: 5
  proactive_rotation_threshold: 0
  base_delay: 0s
  request_timeout: 2s
  direction: descending
  start: 42
  rate_limit_margin: 500ms
metrics:
  port: 9100
redis:
  url: redis://localhost:6379/0
  ttl: 1h
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Deployment.Name != "staging-vault" || *cfg.Deployment.SpoofAddress {
		t.Errorf("deployment = %+v", cfg.Deployment)
	}
	if got := cfg.Deployment.URL(cfg.Deployment.Endpoints.Rotate); got != "http://localhost:9000/api/rotate-token" {
		t.Errorf("rotate URL = %s", got)
	}
	s := cfg.Search
	if s.RetryCapPerCandidate != 5 || *s.ProactiveRotationThreshold != 0 {
		t.Errorf("cap = %d, threshold = %d", s.RetryCapPerCandidate, *s.ProactiveRotationThreshold)
	}
	if s.RequestTimeout != 2*time.Second || s.RateLimitMargin != 500*time.Millisecond {
		t.Errorf("timeout = %v, margin = %v", s.RequestTimeout, s.RateLimitMargin)
	}
	// A zero base delay falls back to the scheme default.
	if s.BaseDelay != 50*time.Millisecond {
		t.Errorf("base delay = %v", s.BaseDelay)
	}
	if s.Direction != "descending" || s.Start == nil || *s.Start != 42 {
		t.Errorf("direction = %s, start = %v", s.Direction, s.Start)
	}
	if cfg.Metrics.Port != 9100 || cfg.Redis.TTL != time.Hour || cfg.Redis.URL == "" {
		t.Errorf("metrics = %+v, redis = %+v", cfg.Metrics, cfg.Redis)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown scheme", "deployment:\n  base_url: http://x\n  scheme: fortress\n", "unknown scheme"},
		{"missing base url", "deployment:\n  scheme: limited\n", "base_url"},
		{"relative base url", "deployment:\n  base_url: vault.local\n", "base_url"},
		{"start out of range", "deployment:\n  base_url: http://x\nsearch:\n  start: 10000\n", "search.start"},
		{"negative start", "deployment:\n  base_url: http://x\nsearch:\n  start: -1\n", "search.start"},
		{"bad direction", "deployment:\n  base_url: http://x\nsearch:\n  direction: sideways\n", "search.direction"},
		{"negative cap", "deployment:\n  base_url: http://x\nsearch:\n  retry_cap_per_candidate: -2\n", "retry_cap_per_candidate"},
		{"negative threshold", "deployment:\n  base_url: http://x\nsearch:\n  proactive_rotation_threshold: -1\n", "proactive_rotation_threshold"},
		{"rotate without session", "deployment:\n  base_url: http://x\n  endpoints:\n    check: /c\n    rotate: /r\n", "need a session endpoint"},
		{"bad log level", "deployment:\n  base_url: http://x\nlogging:\n  level: loud\n", "logging.level"},
		{"bad yaml", "deployment: [", "failed to parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestForScheme(t *testing.T) {
	cfg, err := ForScheme(SchemeAdvanced, "http://127.0.0.1:8081")
	if err != nil {
		t.Fatalf("ForScheme failed: %v", err)
	}
	if !cfg.Deployment.Guarded() {
		t.Error("advanced scheme should be guarded")
	}
	if cfg.Deployment.SessionBody != `{"success":true}` {
		t.Errorf("session body = %q", cfg.Deployment.SessionBody)
	}

	if _, err := ForScheme("bogus", "http://127.0.0.1"); err == nil {
		t.Error("expected error for unknown scheme")
	}
}
