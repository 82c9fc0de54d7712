package internal

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// TestLoadConfigDefaults tests that the default values are applied correctly when loading a config.
func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Server.Address != "0.0.0.0:2000" {
		t.Fatalf("expected default address, got %q", cfg.Server.Address)
	}
	if cfg.Server.Workers != 1 {
		t.Fatalf("expected one worker by default, got %d", cfg.Server.Workers)
	}
	if cfg.Server.MetricsPath != "/metrics" {
		t.Fatalf("expected default metrics path, got %q", cfg.Server.MetricsPath)
	}
	if cfg.Metrics.Driver != "prometheus" {
		t.Fatalf("expected default metrics driver, got %q", cfg.Metrics.Driver)
	}
	if cfg.Watermill.Driver != "gochannel" {
		t.Fatalf("expected default watermill driver, got %q", cfg.Watermill.Driver)
	}
	if len(cfg.Watermill.Drivers) != 0 {
		t.Fatalf("expected no default drivers, got %v", cfg.Watermill.Drivers)
	}
	if cfg.Watermill.GoChannel.OutputChannelBuffer != 64 {
		t.Fatalf("expected default gochannel output buffer, got %d", cfg.Watermill.GoChannel.OutputChannelBuffer)
	}
	if cfg.Journal.Table != "lookout_calls" {
		t.Fatalf("expected default journal table, got %q", cfg.Journal.Table)
	}
}

// TestLoadConfigWithoutFile tests that an empty path yields the defaults.
func TestLoadConfigWithoutFile(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "console" {
		t.Fatalf("unexpected logging defaults: %+v", cfg.Logging)
	}
}

// TestLoadConfigExpandsEnv tests that ${VAR} references in the file are expanded.
func TestLoadConfigExpandsEnv(t *testing.T) {
	t.Setenv("TEST_LOOKOUT_PORT", "2101")
	cfg, err := LoadConfig(writeConfig(t, "server:\n  address: 127.0.0.1:${TEST_LOOKOUT_PORT}\n  workers: 4\n"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Server.Address != "127.0.0.1:2101" {
		t.Fatalf("expected expanded address, got %q", cfg.Server.Address)
	}
	if cfg.Server.Workers != 4 {
		t.Fatalf("expected 4 workers, got %d", cfg.Server.Workers)
	}
}

// TestLoadConfigEnvOverrides tests that LOOKOUT_* variables win over the file.
func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("LOOKOUT_ADDRESS", "127.0.0.1:9999")
	t.Setenv("LOOKOUT_WORKERS", "8")
	t.Setenv("LOOKOUT_LOG_LEVEL", "debug")

	cfg, err := LoadConfig(writeConfig(t, "server:\n  address: 0.0.0.0:1\n  workers: 2\n"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Server.Address != "127.0.0.1:9999" {
		t.Fatalf("expected env address, got %q", cfg.Server.Address)
	}
	if cfg.Server.Workers != 8 {
		t.Fatalf("expected env workers, got %d", cfg.Server.Workers)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected env log level, got %q", cfg.Logging.Level)
	}
}

// TestLoadConfigRejectsInvalidValues tests validation of the loaded config.
func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"negative workers": "server:\n  workers: -1\n",
		"metrics driver":   "metrics:\n  driver: statsd\n",
		"journal dsn":      "journal:\n  enabled: true\n",
	}
	for name, content := range cases {
		if _, err := LoadConfig(writeConfig(t, content)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

// TestLoadConfigInvalidRule tests that loading a config with an invalid rule returns an error.
func TestLoadConfigInvalidRule(t *testing.T) {
	path := writeConfig(t, "rules:\n  - when: type == \"PushEvent\"\n")
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected error for missing emit")
	}
}

// TestLoadConfigTrimsFields tests that the fields in a rule are trimmed correctly.
func TestLoadConfigTrimsFields(t *testing.T) {
	content := "rules:\n" +
		"  - when: \"  type == \\\"ReviewEvent\\\"  \"\n" +
		"    emit: \"  review.done  \"\n" +
		"  - when: count > 1\n" +
		"    emit: [\"push.many\", \" push.audit \"]\n" +
		"    drivers: [\" kafka \", \"\"]\n"

	cfg, err := LoadConfig(writeConfig(t, content))
	if err != nil {
		t.Fatalf("load rules config: %v", err)
	}
	if cfg.Rules[0].When != "type == \"ReviewEvent\"" {
		t.Fatalf("expected trimmed when, got %q", cfg.Rules[0].When)
	}
	if len(cfg.Rules[0].Emit) != 1 || cfg.Rules[0].Emit[0] != "review.done" {
		t.Fatalf("expected trimmed emit, got %q", cfg.Rules[0].Emit)
	}
	if len(cfg.Rules[1].Emit) != 2 || cfg.Rules[1].Emit[1] != "push.audit" {
		t.Fatalf("expected emit list, got %q", cfg.Rules[1].Emit)
	}
	if len(cfg.Rules[1].Drivers) != 1 || cfg.Rules[1].Drivers[0] != "kafka" {
		t.Fatalf("expected trimmed drivers, got %q", cfg.Rules[1].Drivers)
	}
}
