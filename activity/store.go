// Package activity durably tracks per-(domain,key) {paused, draining, note}
// operator flags (§4.6). The default backend is a JSON file under a known
// cache directory, atomically written (temp+rename) and tolerant of
// missing/corrupt reads (falls back to empty state, never fatal). A path
// ending in .db or .sqlite selects the SQLite backend instead.
package activity

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/oneiric/oneiric/internal/telemetry"
)

// State is the per-(domain,key) activity flag set (§3 ActiveBinding.activity).
type State struct {
	Paused   bool   `json:"paused"`
	Draining bool   `json:"draining"`
	Note     string `json:"note,omitempty"`
}

type fileDoc struct {
	Entries map[string]State `json:"entries"`
}

// backend persists activity state. load tolerates a missing store; save is
// called under the Store's lock after every transition.
type backend interface {
	load() (map[string]State, error)
	save(all map[string]State, domain, key string, st State) error
}

// Store is the file-backed Activity Store (§4.6). Every mutating method
// persists immediately; reads are served from an in-memory cache kept in
// sync with the backing file or database.
type Store struct {
	mu   sync.Mutex
	sink telemetry.Sink
	data map[string]State
	be   backend
}

// Open loads (or initializes) the activity store at path. The backend is
// chosen by extension: .db/.sqlite selects SQLite, anything else the JSON
// file. A missing or corrupt store is treated as empty with a sink-emitted
// warning, never a fatal error (§4.6).
func Open(path string, sink telemetry.Sink) (*Store, error) {
	if sink == nil {
		sink = telemetry.NoopSink{}
	}
	s := &Store{sink: sink, data: make(map[string]State)}

	switch filepath.Ext(path) {
	case ".db", ".sqlite":
		be, err := openSQLite(path)
		if err != nil {
			sink.Event(telemetry.Event{Kind: "activity-store-open-error", Fields: map[string]any{"error": err.Error(), "path": path}})
			s.be = &jsonBackend{} // memory-only fallback, path empty
			return s, nil
		}
		s.be = be
	default:
		s.be = &jsonBackend{path: path}
	}

	data, err := s.be.load()
	if err != nil {
		sink.Event(telemetry.Event{Kind: "activity-store-corrupt", Fields: map[string]any{"error": err.Error(), "path": path}})
		return s, nil
	}
	if data != nil {
		s.data = data
	}
	return s, nil
}

func slot(domain, key string) string { return domain + "\x00" + key }

// Get returns the current activity state for (domain,key), zero-value if
// never set.
func (s *Store) Get(domain, key string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[slot(domain, key)]
}

// Pause sets paused=true. Idempotent: pausing twice is equivalent to once
// (§8.8).
func (s *Store) Pause(domain, key, note string) error {
	return s.mutate(domain, key, "pause", func(st *State) {
		st.Paused = true
		if note != "" {
			st.Note = note
		}
	})
}

// Resume clears paused. Resuming when not paused is a no-op (§8.8) but still
// persists and emits for auditability.
func (s *Store) Resume(domain, key string) error {
	return s.mutate(domain, key, "resume", func(st *State) {
		st.Paused = false
	})
}

// Drain sets draining=true.
func (s *Store) Drain(domain, key, note string) error {
	return s.mutate(domain, key, "drain", func(st *State) {
		st.Draining = true
		if note != "" {
			st.Note = note
		}
	})
}

// ClearDrain clears draining, e.g. once a delayed swap has been applied.
func (s *Store) ClearDrain(domain, key string) error {
	return s.mutate(domain, key, "drain-clear", func(st *State) {
		st.Draining = false
	})
}

func (s *Store) mutate(domain, key, transition string, apply func(*State)) error {
	s.mu.Lock()
	k := slot(domain, key)
	st := s.data[k]
	apply(&st)
	s.data[k] = st
	err := s.be.save(s.data, domain, key, st)
	s.mu.Unlock()

	s.sink.Event(telemetry.Event{
		Kind:   "activity-event",
		Domain: domain,
		Key:    key,
		Fields: map[string]any{"transition": transition, "paused": st.Paused, "draining": st.Draining},
	})
	s.sink.Count("activity_transitions_total", map[string]string{"domain": domain, "transition": transition}, 1)
	return err
}

// jsonBackend persists the whole store as one JSON document, written
// atomically (write temp + rename), matching §6.3's status snapshot idiom.
// An empty path means memory-only (persistence disabled).
type jsonBackend struct {
	path string
}

func (b *jsonBackend) load() (map[string]State, error) {
	if b.path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var doc fileDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc.Entries, nil
}

func (b *jsonBackend) save(all map[string]State, _, _ string, _ State) error {
	if b.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(fileDoc{Entries: all}, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".activity-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, b.path)
}
