package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	t.Setenv("FINCH_CONFIG", filepath.Join(t.TempDir(), "missing.json"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Safety.MaxFailures != 3 {
		t.Errorf("MaxFailures = %d, want 3", cfg.Safety.MaxFailures)
	}
	if cfg.Safety.ApprovalTimeoutHours != 24 {
		t.Errorf("ApprovalTimeoutHours = %d, want 24", cfg.Safety.ApprovalTimeoutHours)
	}
	if cfg.Safety.RetentionHours != 168 {
		t.Errorf("RetentionHours = %d, want 168", cfg.Safety.RetentionHours)
	}
	if !cfg.Safety.RequireApproval {
		t.Error("RequireApproval should default on")
	}
	if cfg.Scheduler.TickInterval != 30*time.Second {
		t.Errorf("TickInterval = %v", cfg.Scheduler.TickInterval)
	}
	if cfg.Admin.Host != "127.0.0.1" {
		t.Errorf("Admin.Host = %q, want loopback", cfg.Admin.Host)
	}
}

func TestFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	raw := map[string]any{
		"safety": map[string]any{"maxFailures": 5, "dryRun": true},
		"paths":  map[string]any{"dataDir": "/tmp/finch-test"},
	}
	data, _ := json.Marshal(raw)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("FINCH_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Safety.MaxFailures != 5 {
		t.Errorf("MaxFailures = %d, want 5", cfg.Safety.MaxFailures)
	}
	if !cfg.Safety.DryRun {
		t.Error("DryRun from file not applied")
	}
	if cfg.Paths.DataDir != "/tmp/finch-test" {
		t.Errorf("DataDir = %q", cfg.Paths.DataDir)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data, _ := json.Marshal(map[string]any{"safety": map[string]any{"maxFailures": 5}})
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("FINCH_CONFIG", path)
	t.Setenv("FINCH_SAFETY_MAX_FAILURES", "7")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Safety.MaxFailures != 7 {
		t.Errorf("MaxFailures = %d, want 7 (env beats file)", cfg.Safety.MaxFailures)
	}
}

func TestFloorsGuardBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data, _ := json.Marshal(map[string]any{
		"safety": map[string]any{"maxFailures": -1, "approvalTimeoutHours": 0, "retentionHours": -5},
	})
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("FINCH_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Safety.MaxFailures != 3 || cfg.Safety.ApprovalTimeoutHours != 24 || cfg.Safety.RetentionHours != 168 {
		t.Errorf("floors not applied: %+v", cfg.Safety)
	}
}

func TestAPIKeyFallback(t *testing.T) {
	t.Setenv("FINCH_CONFIG", filepath.Join(t.TempDir(), "missing.json"))
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider.APIKey != "sk-test" {
		t.Errorf("APIKey = %q, want fallback from OPENAI_API_KEY", cfg.Provider.APIKey)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	t.Setenv("FINCH_CONFIG", path)

	cfg := DefaultConfig()
	cfg.Safety.MaxFailures = 9
	if err := Save(cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Safety.MaxFailures != 9 {
		t.Errorf("MaxFailures = %d, want 9", loaded.Safety.MaxFailures)
	}
}
