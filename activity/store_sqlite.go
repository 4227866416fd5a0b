package activity

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// sqliteBackend persists activity state in a single SQLite table, selected
// when activity.store_path ends in .db or .sqlite (§4.6 "JSON or SQLite").
type sqliteBackend struct {
	db *sql.DB
}

func openSQLite(path string) (*sqliteBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("preparing activity store directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening activity store: %w", err)
	}
	b := &sqliteBackend{db: db}
	if err := b.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating activity store: %w", err)
	}
	return b, nil
}

func (b *sqliteBackend) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS activity (
		domain TEXT NOT NULL,
		key TEXT NOT NULL,
		paused INTEGER NOT NULL DEFAULT 0,
		draining INTEGER NOT NULL DEFAULT 0,
		note TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (domain, key)
	);`
	_, err := b.db.ExecContext(context.Background(), query)
	return err
}

func (b *sqliteBackend) load() (map[string]State, error) {
	rows, err := b.db.QueryContext(context.Background(),
		`SELECT domain, key, paused, draining, note FROM activity`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]State)
	for rows.Next() {
		var (
			domain, key, note string
			paused, draining  int
		)
		if err := rows.Scan(&domain, &key, &paused, &draining, &note); err != nil {
			return nil, err
		}
		out[slot(domain, key)] = State{Paused: paused != 0, Draining: draining != 0, Note: note}
	}
	return out, rows.Err()
}

func (b *sqliteBackend) save(_ map[string]State, domain, key string, st State) error {
	query := `
	INSERT INTO activity (domain, key, paused, draining, note) VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(domain, key) DO UPDATE SET
		paused = excluded.paused,
		draining = excluded.draining,
		note = excluded.note;`
	_, err := b.db.ExecContext(context.Background(), query,
		domain, key, boolInt(st.Paused), boolInt(st.Draining), st.Note)
	return err
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
