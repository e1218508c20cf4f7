package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pipeboard/contact-sync/internal/biz/domain"
	"github.com/pipeboard/contact-sync/internal/biz/repo"

	_ "modernc.org/sqlite"
)

// snapshotRepo implements the Snapshot repository
type snapshotRepo struct {
	db *sql.DB
}

// NewSnapshotRepo opens (or creates) the snapshot database
func NewSnapshotRepo(dbPath string) (repo.SnapshotRepo, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps :memory: databases shared and serializes writers
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS contact_snapshots (
			line_id TEXT NOT NULL,
			contact_id TEXT NOT NULL,
			payload TEXT NOT NULL,
			saved_at INTEGER NOT NULL,
			PRIMARY KEY (line_id, contact_id)
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_contact_snapshots_saved_at ON contact_snapshots(saved_at)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	return &snapshotRepo{db: db}, nil
}

// Save replaces the stored snapshot of a line
func (r *snapshotRepo) Save(ctx context.Context, lineID string, contacts []*domain.Contact) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM contact_snapshots WHERE line_id = ?`, lineID); err != nil {
		return fmt.Errorf("failed to clear snapshot: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO contact_snapshots (line_id, contact_id, payload, saved_at)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for _, c := range contacts {
		if c == nil || c.ID == "" {
			continue
		}
		payload, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to marshal contact %s: %w", c.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, lineID, c.ID, string(payload), now); err != nil {
			return fmt.Errorf("failed to save contact %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}

// Load returns the stored snapshot of a line
func (r *snapshotRepo) Load(ctx context.Context, lineID string) ([]*domain.Contact, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT payload FROM contact_snapshots
		WHERE line_id = ?
		ORDER BY contact_id
	`, lineID)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}
	defer rows.Close()

	var contacts []*domain.Contact
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		c, err := domain.DecodeContact([]byte(payload))
		if err != nil {
			continue
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// Lines lists the stored snapshots, newest first
func (r *snapshotRepo) Lines(ctx context.Context) ([]repo.SnapshotInfo, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT line_id, COUNT(*), MAX(saved_at)
		FROM contact_snapshots
		GROUP BY line_id
		ORDER BY MAX(saved_at) DESC, line_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var infos []repo.SnapshotInfo
	for rows.Next() {
		var info repo.SnapshotInfo
		var savedAt int64
		if err := rows.Scan(&info.LineID, &info.Contacts, &savedAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		info.SavedAt = time.UnixMilli(savedAt).UTC().Format(domain.TimestampLayout)
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// Close closes the database
func (r *snapshotRepo) Close() error {
	return r.db.Close()
}
