package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Profile != ProfileDefault {
		t.Fatalf("Profile = %q, want default", cfg.Profile)
	}
	if cfg.Lifecycle.InitTimeout.String() != "30s" {
		t.Fatalf("InitTimeout = %v, want 30s", cfg.Lifecycle.InitTimeout)
	}
	if !cfg.Watchers.Enabled {
		t.Fatal("expected watchers enabled by default")
	}
}

func TestServerlessProfileDisablesLoops(t *testing.T) {
	clearEnv(t)
	os.Setenv("ONEIRIC_PROFILE", "serverless")
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Watchers.Enabled {
		t.Fatal("serverless profile must disable watchers")
	}
	if cfg.Remote.RefreshInterval != 0 {
		t.Fatal("serverless profile must force a one-shot remote sync")
	}
}

func TestLoadRejectsUnknownProfile(t *testing.T) {
	clearEnv(t)
	os.Setenv("ONEIRIC_PROFILE", "bogus")
	if _, err := Load(); err == nil {
		t.Fatal("expected validation error for unknown profile")
	}
}

func TestLoadSelectionsFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "selections.yaml")
	content := "selections:\n  adapter:\n    cache: memcached\nstack_order:\n  redis: 10\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	os.Setenv("ONEIRIC_SELECTIONS_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Selections["adapter"]["cache"] != "memcached" {
		t.Fatalf("Selections = %+v", cfg.Selections)
	}
	if cfg.StackOrder["redis"] != 10 {
		t.Fatalf("StackOrder = %+v", cfg.StackOrder)
	}
}

func TestLoadSelectionsFileRejectsUnknownKeys(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "selections.yaml")
	content := "selections:\n  adapter:\n    cache: memcached\nbogus_key: true\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	os.Setenv("ONEIRIC_SELECTIONS_FILE", path)

	if _, err := Load(); err == nil {
		t.Fatal("expected an error for an unknown selections-file key")
	}
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"ONEIRIC_PROFILE", "ONEIRIC_SELECTIONS_FILE", "ONEIRIC_REMOTE_ENABLED",
		"ONEIRIC_WATCHERS_ENABLED", "ONEIRIC_REMOTE_REFRESH_INTERVAL",
	} {
		os.Unsetenv(key)
	}
}
