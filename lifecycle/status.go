package lifecycle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// StatusSnapshot is the per-process status document (§6.3), written
// atomically (write temp + rename) after every transition.
type StatusSnapshot struct {
	Domain             string     `json:"domain"`
	Key                string     `json:"key"`
	State              string     `json:"state"`
	CurrentProvider    *string    `json:"current_provider"`
	PreviousProvider   *string    `json:"previous_provider"`
	LastActivatedAt    *time.Time `json:"last_activated_at"`
	LastError          *string    `json:"last_error"`
	LastHealthAt       *time.Time `json:"last_health_at"`
	LastHealthOK       *bool      `json:"last_health_ok"`
	Activity           struct {
		Paused   bool   `json:"paused"`
		Draining bool   `json:"draining"`
		Note     string `json:"note,omitempty"`
	} `json:"activity"`
}

func (b *binding) snapshotLocked() StatusSnapshot {
	snap := StatusSnapshot{
		Domain: string(b.domain),
		Key:    b.key,
		State:  string(b.state),
	}
	if b.current != nil {
		p := b.current.candidate.Provider
		snap.CurrentProvider = &p
	}
	if b.prev != nil {
		p := b.prev.candidate.Provider
		snap.PreviousProvider = &p
	}
	if !b.lastActivatedAt.IsZero() {
		t := b.lastActivatedAt
		snap.LastActivatedAt = &t
	}
	if b.lastError != "" {
		e := b.lastError
		snap.LastError = &e
	}
	if !b.lastHealthAt.IsZero() {
		t := b.lastHealthAt
		snap.LastHealthAt = &t
		ok := b.lastHealthOK
		snap.LastHealthOK = &ok
	}
	snap.Activity.Paused = b.paused
	snap.Activity.Draining = b.draining
	snap.Activity.Note = b.note
	return snap
}

// statusPath returns the file a (domain,key) binding's status is written
// to, under dir.
func statusPath(dir, domain, key string) string {
	return filepath.Join(dir, fmt.Sprintf("%s__%s.status.json", domain, key))
}

// writeStatus atomically persists snap to dir (write temp + rename, §4.4
// "Status snapshot", §6.3).
func writeStatus(dir string, snap StatusSnapshot) error {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".status-*.tmp")
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
	return os.Rename(tmpPath, statusPath(dir, snap.Domain, snap.Key))
}

// ReadStatus loads a previously written StatusSnapshot for (domain,key), if
// present (§6.4 `status` CLI operation).
func ReadStatus(dir, domain, key string) (StatusSnapshot, error) {
	data, err := os.ReadFile(statusPath(dir, domain, key))
	if err != nil {
		return StatusSnapshot{}, err
	}
	var snap StatusSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return StatusSnapshot{}, err
	}
	return snap, nil
}
