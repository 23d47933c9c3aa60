package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Engine.WindowSource != "static" {
		t.Fatalf("expected static window source, got %q", cfg.Engine.WindowSource)
	}
	if !cfg.Dispatch.Enabled || cfg.Dispatch.DedupeSize != 512 {
		t.Fatalf("unexpected dispatch defaults: %+v", cfg.Dispatch)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOQA_GRAMMAR_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("LOQA_GRAMMAR_BUS_USERNAME", "alice")
	t.Setenv("LOQA_GRAMMAR_BUS_PASSWORD", "secret")
	t.Setenv("LOQA_GRAMMAR_BUS_TLS_INSECURE", "true")
	t.Setenv("LOQA_GRAMMAR_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("LOQA_GRAMMAR_BUS_CONNECT_RETRIES", "9")
	t.Setenv("LOQA_GRAMMAR_HISTORY_PATH", "./tmp.db")
	t.Setenv("LOQA_GRAMMAR_HISTORY_RETENTION_MODE", "persistent")
	t.Setenv("LOQA_GRAMMAR_HISTORY_RETENTION_DAYS", "7")
	t.Setenv("LOQA_GRAMMAR_HISTORY_MAX_ENTRIES", "123")
	t.Setenv("LOQA_GRAMMAR_HISTORY_VACUUM_ON_START", "true")
	t.Setenv("LOQA_GRAMMAR_GRAMMARS_DIRECTORY", "/etc/grammars")
	t.Setenv("LOQA_GRAMMAR_GRAMMARS_EXCLUSIVE", "sleep, modal")
	t.Setenv("LOQA_GRAMMAR_ENGINE_WINDOW_SOURCE", "hyprland")
	t.Setenv("LOQA_GRAMMAR_DICTATION_TWO_SPACES_AFTER_PERIOD", "true")
	t.Setenv("LOQA_GRAMMAR_DISPATCH_DEDUPE_SIZE", "64")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Bus.ConnectTimeout != 5000 || cfg.Bus.ConnectRetries != 9 {
		t.Fatalf("expected connect overrides, got %d/%d", cfg.Bus.ConnectTimeout, cfg.Bus.ConnectRetries)
	}
	if cfg.History.Path != "./tmp.db" {
		t.Fatalf("expected history path override")
	}
	if cfg.History.RetentionMode != "persistent" {
		t.Fatalf("expected history retention mode override")
	}
	if cfg.History.RetentionDays != 7 {
		t.Fatalf("expected history retention days override")
	}
	if cfg.History.MaxEntries != 123 {
		t.Fatalf("expected history max entries override")
	}
	if !cfg.History.VacuumOnStart {
		t.Fatalf("expected history vacuum flag override")
	}
	if cfg.Grammars.Directory != "/etc/grammars" {
		t.Fatalf("expected grammars directory override")
	}
	if len(cfg.Grammars.Exclusive) != 2 || cfg.Grammars.Exclusive[1] != "modal" {
		t.Fatalf("expected exclusive grammars override, got %v", cfg.Grammars.Exclusive)
	}
	if cfg.Engine.WindowSource != "hyprland" {
		t.Fatalf("expected window source override")
	}
	if !cfg.Dictation.TwoSpacesAfterPeriod {
		t.Fatalf("expected dictation override")
	}
	if cfg.Dispatch.DedupeSize != 64 {
		t.Fatalf("expected dedupe size override")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
runtime_name: desk
bus:
  embedded: false
  servers: ["nats://bus:4222"]
engine:
  window_source: static
  executable: code
  title: main.go
grammars:
  directory: ./g
  watch: false
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RuntimeName != "desk" || cfg.Bus.Embedded {
		t.Fatalf("expected file values, got %+v", cfg)
	}
	if cfg.Engine.Executable != "code" || cfg.Engine.Title != "main.go" {
		t.Fatalf("expected static window, got %+v", cfg.Engine)
	}
	if cfg.History.RetentionMode != "session" {
		t.Fatalf("expected defaults to survive partial file")
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"window source": func(c *Config) { c.Engine.WindowSource = "x11" },
		"retention":     func(c *Config) { c.History.RetentionMode = "forever" },
		"http port":     func(c *Config) { c.HTTP.Port = 0 },
		"dedupe":        func(c *Config) { c.Dispatch.DedupeSize = 0 },
		"watch dir":     func(c *Config) { c.Grammars.Directory = "" },
		"retries":       func(c *Config) { c.Bus.ConnectRetries = -1 },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := validate(cfg); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
