package activity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/oneiric/oneiric/internal/telemetry"
)

func TestPauseResumeIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.json")
	s, err := Open(path, telemetry.NoopSink{})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Pause("service", "payment", "investigating"); err != nil {
		t.Fatal(err)
	}
	if err := s.Pause("service", "payment", ""); err != nil {
		t.Fatal(err)
	}
	if !s.Get("service", "payment").Paused {
		t.Fatal("expected paused=true after Pause")
	}

	if err := s.Resume("service", "payment"); err != nil {
		t.Fatal(err)
	}
	if s.Get("service", "payment").Paused {
		t.Fatal("expected paused=false after Resume")
	}
	// Resume when not paused is a no-op but must not error.
	if err := s.Resume("service", "payment"); err != nil {
		t.Fatal(err)
	}
}

func TestDrainClearDrain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.json")
	s, _ := Open(path, telemetry.NoopSink{})

	if err := s.Drain("adapter", "cache", "migrating"); err != nil {
		t.Fatal(err)
	}
	if !s.Get("adapter", "cache").Draining {
		t.Fatal("expected draining=true")
	}
	if err := s.ClearDrain("adapter", "cache"); err != nil {
		t.Fatal(err)
	}
	if s.Get("adapter", "cache").Draining {
		t.Fatal("expected draining=false")
	}
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.json")
	s1, _ := Open(path, telemetry.NoopSink{})
	if err := s1.Pause("service", "payment", "maintenance"); err != nil {
		t.Fatal(err)
	}

	s2, err := Open(path, telemetry.NoopSink{})
	if err != nil {
		t.Fatal(err)
	}
	state := s2.Get("service", "payment")
	if !state.Paused || state.Note != "maintenance" {
		t.Fatalf("state after reopen = %+v", state)
	}
}

func TestStoreToleratesCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "activity.json")
	if err := os.WriteFile(path, []byte("{not valid json"), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Open(path, telemetry.NoopSink{})
	if err != nil {
		t.Fatalf("Open should tolerate corrupt file, got error: %v", err)
	}
	if s.Get("service", "payment").Paused {
		t.Fatal("expected empty state after corrupt file recovery")
	}
}

func TestSQLiteBackendPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.db")
	s1, err := Open(path, telemetry.NoopSink{})
	if err != nil {
		t.Fatal(err)
	}
	if err := s1.Pause("service", "payment", "maintenance"); err != nil {
		t.Fatal(err)
	}
	if err := s1.Drain("adapter", "cache", ""); err != nil {
		t.Fatal(err)
	}

	s2, err := Open(path, telemetry.NoopSink{})
	if err != nil {
		t.Fatal(err)
	}
	state := s2.Get("service", "payment")
	if !state.Paused || state.Note != "maintenance" {
		t.Fatalf("state after reopen = %+v", state)
	}
	if !s2.Get("adapter", "cache").Draining {
		t.Fatal("expected draining=true after reopen")
	}
}

func TestStoreToleratesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.json")
	s, err := Open(path, telemetry.NoopSink{})
	if err != nil {
		t.Fatal(err)
	}
	if s.Get("service", "payment").Paused {
		t.Fatal("expected empty state for missing file")
	}
}
