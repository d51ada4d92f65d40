package store

import (
	"context"
	"fmt"
	"time"

	"github.com/andresmejia3/faceexport/internal/export"
	"github.com/jackc/pgx/v5"
)

// Store manages the PostgreSQL connection used as the export log.
type Store struct {
	conn *pgx.Conn
}

// Export is one logged crop.
type Export struct {
	ID         int64
	SourceID   string
	SourcePath string
	FrameIndex int
	Face       export.Rect
	Crop       export.Rect
	Path       string
	Small      bool
	CreatedAt  time.Time
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the export log tables if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS export_sources (
			id TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			exported_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS face_exports (
			id BIGSERIAL PRIMARY KEY,
			source_id TEXT REFERENCES export_sources(id) ON DELETE CASCADE,
			frame_index INT NOT NULL,
			face_rect INT[4] NOT NULL,
			crop_rect INT[4] NOT NULL,
			path TEXT NOT NULL,
			small BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS face_exports_source_id_idx ON face_exports (source_id);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// EnsureSource registers the input in the database. If it exists, it updates the timestamp and path.
func (s *Store) EnsureSource(ctx context.Context, sourceID, path string) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO export_sources (id, path, exported_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (id) DO UPDATE SET exported_at = NOW(), path = EXCLUDED.path
	`, sourceID, path)
	return err
}

func rectArray(r export.Rect) []int32 {
	return []int32{int32(r.Left), int32(r.Top), int32(r.Right), int32(r.Bottom)}
}

func arrayRect(a []int32) export.Rect {
	if len(a) != 4 {
		return export.Rect{}
	}
	return export.Rect{Left: int(a[0]), Top: int(a[1]), Right: int(a[2]), Bottom: int(a[3])}
}

// InsertExports logs every crop written for one frame in a single batch.
func (s *Store) InsertExports(ctx context.Context, sourceID string, frameIdx int, results []export.Result) error {
	if len(results) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, r := range results {
		batch.Queue(`
			INSERT INTO face_exports (source_id, frame_index, face_rect, crop_rect, path, small)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, sourceID, frameIdx, rectArray(r.Face), rectArray(export.FromImage(r.Crop)), r.Path, r.Small)
	}
	return s.conn.SendBatch(ctx, batch).Close()
}

// ListExports returns the most recent exports, newest first. limit <= 0 returns everything.
func (s *Store) ListExports(ctx context.Context, limit int) ([]Export, error) {
	query := `
		SELECT e.id, e.source_id, src.path, e.frame_index, e.face_rect, e.crop_rect, e.path, e.small, e.created_at
		FROM face_exports e
		JOIN export_sources src ON src.id = e.source_id
		ORDER BY e.id DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exports []Export
	for rows.Next() {
		var e Export
		var face, crop []int32
		if err := rows.Scan(&e.ID, &e.SourceID, &e.SourcePath, &e.FrameIndex, &face, &crop, &e.Path, &e.Small, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Face = arrayRect(face)
		e.Crop = arrayRect(crop)
		exports = append(exports, e)
	}
	return exports, rows.Err()
}

// CountExports returns the total and small-face export counts for a source.
func (s *Store) CountExports(ctx context.Context, sourceID string) (total, small int, err error) {
	err = s.conn.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE small)
		FROM face_exports WHERE source_id = $1
	`, sourceID).Scan(&total, &small)
	return total, small, err
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS face_exports CASCADE;
		DROP TABLE IF EXISTS export_sources CASCADE;
	`)
	return err
}
