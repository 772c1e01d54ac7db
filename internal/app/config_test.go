package app

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/raysh454/zapctl/internal/webclient"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "zapctl.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultConfig_ScriptConstants(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	if cfg.Target != "http://localhost:3000" {
		t.Errorf("target = %q", cfg.Target)
	}
	if cfg.Zap.ProxyAddr != "http://127.0.0.1:8080" || cfg.Zap.APIKey != "change-me-to-your-api-key" {
		t.Errorf("unexpected zap config %+v", cfg.Zap)
	}
	if cfg.Scan.SettleDelay != 2*time.Second || cfg.Scan.SpiderInterval != 2*time.Second || cfg.Scan.AscanInterval != 5*time.Second {
		t.Errorf("unexpected pacing %+v", cfg.Scan)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadConfig_Overlay(t *testing.T) {
	t.Parallel()
	path := writeFile(t, `
target: http://juice.local:3000
zap:
  proxy: http://10.0.0.5:8090
  api_key: s3cret
scan:
  spider_interval: 500ms
  max_wait: 10m
webclient:
  backend: chromedp
format: json
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Target != "http://juice.local:3000" || cfg.Zap.APIKey != "s3cret" {
		t.Errorf("overlay not applied: %+v", cfg)
	}
	if cfg.Scan.SpiderInterval != 500*time.Millisecond || cfg.Scan.MaxWait != 10*time.Minute {
		t.Errorf("durations not parsed: %+v", cfg.Scan)
	}
	if cfg.Scan.AscanInterval != 5*time.Second {
		t.Errorf("unset fields should keep defaults, got %v", cfg.Scan.AscanInterval)
	}
	if cfg.Zap.BaseURL != "http://zap" {
		t.Errorf("unset nested field lost default: %q", cfg.Zap.BaseURL)
	}
	if cfg.WebClient.Client != webclient.ClientChromedp || cfg.Format != FormatJSON {
		t.Errorf("unexpected backend/format %+v", cfg)
	}
	if got := cfg.WebClientConfig().ProxyAddr; got != "http://10.0.0.5:8090" {
		t.Errorf("webclient should use scanner proxy, got %q", got)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	t.Parallel()
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	_, err := LoadConfig(writeFile(t, "targt: http://typo\n"))
	if err == nil || !strings.Contains(err.Error(), "targt") {
		t.Errorf("expected unknown field error, got %v", err)
	}
}

func TestLoadConfig_EmptyFileAndPath(t *testing.T) {
	t.Parallel()
	cfg, err := LoadConfig(writeFile(t, ""))
	if err != nil {
		t.Fatalf("empty file: %v", err)
	}
	if cfg.Target != DefaultConfig().Target {
		t.Error("empty file should keep defaults")
	}
	if _, err := LoadConfig(""); err != nil {
		t.Errorf("empty path: %v", err)
	}
}

func TestConfig_ApplyEnv(t *testing.T) {
	t.Setenv(EnvAPIKey, "from-env")
	t.Setenv(EnvProxy, "http://proxy.env:8080")
	t.Setenv(EnvTarget, "")

	cfg := DefaultConfig()
	cfg.ApplyEnv()
	if cfg.Zap.APIKey != "from-env" || cfg.Zap.ProxyAddr != "http://proxy.env:8080" {
		t.Errorf("env not applied: %+v", cfg.Zap)
	}
	if cfg.Target != "http://localhost:3000" {
		t.Errorf("empty env target should be ignored, got %q", cfg.Target)
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()
	cases := map[string]func(c *Config){
		"format":   func(c *Config) { c.Format = "xml" },
		"interval": func(c *Config) { c.Scan.AscanInterval = 0 },
		"maxwait":  func(c *Config) { c.Scan.MaxWait = -time.Second },
		"proxy":    func(c *Config) { c.Zap.ProxyAddr = "" },
	}
	for name, mutate := range cases {
		cfg := DefaultConfig()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestExpandPath(t *testing.T) {
	t.Parallel()
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	got, err := expandPath("~/.config/zapctl/history.db")
	if err != nil {
		t.Fatalf("expandPath: %v", err)
	}
	if got != filepath.Join(home, ".config", "zapctl", "history.db") {
		t.Errorf("unexpected path %q", got)
	}
	if got, _ := expandPath("/tmp/h.db"); got != "/tmp/h.db" {
		t.Errorf("absolute path changed: %q", got)
	}
}
