// Package sqlite keeps a history of accepted table manifests so the last
// good tables survive a restart.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mehrguard/mehrguard/internal/tables"
)

// ErrNoManifest is returned by Latest when nothing has been saved.
var ErrNoManifest = errors.New("no stored manifest")

type Store struct {
	db *sql.DB
}

// Record describes one stored manifest.
type Record struct {
	Version   int       `json:"version"`
	Digest    string    `json:"digest"`
	Source    string    `json:"source"`
	Size      int       `json:"size"`
	AppliedAt time.Time `json:"applied_at"`
}

func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`CREATE TABLE IF NOT EXISTS manifests (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			digest TEXT NOT NULL UNIQUE,
			version INTEGER NOT NULL,
			source TEXT NOT NULL,
			payload BLOB NOT NULL,
			applied_ts_unix_ns INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_manifests_applied ON manifests(applied_ts_unix_ns);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite migrate: %w", err)
		}
	}
	return nil
}

// Save records an accepted manifest. Saving the same bytes again only
// refreshes its applied time.
func (s *Store) Save(ctx context.Context, snap *tables.Snapshot, raw []byte) error {
	if snap == nil {
		return tables.ErrNilSnapshot
	}
	if len(raw) == 0 {
		return fmt.Errorf("manifest payload is empty")
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO manifests (digest, version, source, payload, applied_ts_unix_ns)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(digest) DO UPDATE SET
			source = excluded.source,
			applied_ts_unix_ns = excluded.applied_ts_unix_ns`,
		snap.Digest, snap.Version, snap.Source, raw, time.Now().UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("save manifest: %w", err)
	}
	return nil
}

// Latest recompiles the most recently applied manifest. Stored bytes go
// through the same validation as any other source.
func (s *Store) Latest(ctx context.Context) (*tables.Snapshot, []byte, error) {
	var (
		payload []byte
		source  string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, source FROM manifests ORDER BY applied_ts_unix_ns DESC, id DESC LIMIT 1`).
		Scan(&payload, &source)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNoManifest
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load manifest: %w", err)
	}
	snap, err := tables.Load(payload, source)
	if err != nil {
		return nil, nil, fmt.Errorf("stored manifest: %w", err)
	}
	return snap, payload, nil
}

// History lists stored manifests, newest first. limit <= 0 means 50.
func (s *Store) History(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT version, digest, source, length(payload), applied_ts_unix_ns
		 FROM manifests ORDER BY applied_ts_unix_ns DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query manifests: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r  Record
			ns int64
		)
		if err := rows.Scan(&r.Version, &r.Digest, &r.Source, &r.Size, &ns); err != nil {
			return nil, fmt.Errorf("scan manifest: %w", err)
		}
		r.AppliedAt = time.Unix(0, ns).UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Prune deletes all but the keep most recently applied manifests.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	if keep < 1 {
		keep = 1
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM manifests WHERE id NOT IN (
		SELECT id FROM manifests ORDER BY applied_ts_unix_ns DESC, id DESC LIMIT ?)`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune manifests: %w", err)
	}
	return res.RowsAffected()
}
