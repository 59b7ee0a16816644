package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadFromEnv(t *testing.T) {
	cfg, err := Load("", envMap(map[string]string{
		"BACKEND_BASE_URL": "https://backend.test",
		"AUTH0_TEST_MODE":  "1",
		"TEST_JWT_SECRET":  "secret",
		"REQUEST_TIMEOUT":  "3s",
		"DEBUG":            "true",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BackendBaseURL != "https://backend.test" || !cfg.Auth.TestMode || cfg.Auth.TestSecret != "secret" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.RequestTimeout != 3*time.Second || !cfg.Debug {
		t.Fatalf("unexpected timeout/debug %+v", cfg)
	}
	if cfg.ListenAddr != defaultListenAddr || cfg.Redis.Channel != defaultUpdatesChannel || cfg.Journal.Table != defaultJournalTableName {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.yaml")
	yml := `
backend_base_url: https://from-file.test
listen_addr: ":9090"
request_timeout: 20s
auth:
  domain: tenant.auth0.test
  audience: api://prism
redis:
  connection_string: localhost:6379
  channel: updates
`
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path, envMap(map[string]string{"LISTEN_ADDR": ":7070"}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BackendBaseURL != "https://from-file.test" || cfg.ListenAddr != ":7070" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.RequestTimeout != 20*time.Second {
		t.Fatalf("expected 20s timeout, got %v", cfg.RequestTimeout)
	}
	if cfg.Redis.Channel != "updates" || cfg.Redis.ConnectionString != "localhost:6379" {
		t.Fatalf("unexpected redis %+v", cfg.Redis)
	}
	if cfg.Auth.Issuer() != "https://tenant.auth0.test/" {
		t.Fatalf("unexpected issuer %s", cfg.Auth.Issuer())
	}
	if cfg.Auth.JWKSURL() != "https://tenant.auth0.test/.well-known/jwks.json" {
		t.Fatalf("unexpected jwks url %s", cfg.Auth.JWKSURL())
	}
}

func TestLoadValidation(t *testing.T) {
	_, err := Load("", envMap(map[string]string{"AUTH0_TEST_MODE": "1"}))
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"backend base url", "TEST_JWT_SECRET"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}

	if _, err := Load("", envMap(map[string]string{"BACKEND_BASE_URL": "x"})); err == nil || !strings.Contains(err.Error(), "Auth0") {
		t.Fatalf("expected missing Auth0 config, got %v", err)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	base := map[string]string{"BACKEND_BASE_URL": "x", "AUTH0_TEST_MODE": "1", "TEST_JWT_SECRET": "s"}
	for k, v := range map[string]string{"REQUEST_TIMEOUT": "-1s", "DEBUG": "maybe"} {
		env := map[string]string{k: v}
		for bk, bv := range base {
			env[bk] = bv
		}
		if _, err := Load("", envMap(env)); err == nil {
			t.Fatalf("%s=%s: expected error", k, v)
		}
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), envMap(base)); err == nil {
		t.Fatalf("expected missing file error")
	}
}
