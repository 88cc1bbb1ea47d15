package prefs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// SQLiteStore keeps one row per preference key, with values stored as
// JSON text.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a preference store, running migrations on
// first use.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate preferences: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS preferences (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

// Load returns every stored preference.
func (s *SQLiteStore) Load(ctx context.Context) (Preferences, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM preferences`)
	if err != nil {
		return nil, fmt.Errorf("query preferences: %w", err)
	}
	defer rows.Close()

	p := Preferences{}
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, err
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("decode preference %q: %w", key, err)
		}
		p[key] = v
	}
	return p, rows.Err()
}

// Save replaces the stored set with p in one transaction. Keys absent
// from p are removed.
func (s *SQLiteStore) Save(ctx context.Context, p Preferences) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM preferences`); err != nil {
		return fmt.Errorf("clear preferences: %w", err)
	}
	for key, v := range p {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode preference %q: %w", key, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO preferences (key, value) VALUES (?, ?)`,
			key, string(raw),
		); err != nil {
			return fmt.Errorf("insert preference %q: %w", key, err)
		}
	}
	return tx.Commit()
}
