package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"go.uber.org/zap"

	"github.com/ebogdum/cloudfs/metadata"
)

// SQLiteManifest stores the manifest in a single-file SQLite database. Each save
// replaces the table contents inside one transaction.
type SQLiteManifest struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewSQLiteManifest(dbPath string, logger *zap.Logger) (*SQLiteManifest, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create manifest directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// One writer; the index already serializes saves
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	m := &SQLiteManifest{db: db, logger: logger}
	if err := m.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return m, nil
}

func (m *SQLiteManifest) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS files (
    filepath TEXT PRIMARY KEY,
    mime_type TEXT NOT NULL,
    size INTEGER NOT NULL CHECK (size >= 0),
    tags TEXT NOT NULL DEFAULT '[]',
    uploaded_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
`

	if _, err := m.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize sqlite schema: %w", err)
	}
	return nil
}

func (m *SQLiteManifest) Load(ctx context.Context) ([]*metadata.FileMetadata, error) {
	query := `
		SELECT filepath, mime_type, size, tags, uploaded_at, updated_at
		FROM files
		ORDER BY filepath`

	rows, err := m.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query manifest: %w", err)
	}
	defer rows.Close()

	entries := []*metadata.FileMetadata{}
	for rows.Next() {
		var md metadata.FileMetadata
		var tags, uploadedAt, updatedAt string
		if err := rows.Scan(&md.Filepath, &md.MimeType, &md.Size, &tags, &uploadedAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan manifest row: %w", err)
		}
		if err := json.Unmarshal([]byte(tags), &md.Tags); err != nil {
			return nil, fmt.Errorf("failed to decode tags for %s: %w", md.Filepath, err)
		}
		if md.Tags == nil {
			md.Tags = []string{}
		}
		md.UploadedAt = parseTimestamp(uploadedAt)
		md.UpdatedAt = parseTimestamp(updatedAt)
		entries = append(entries, &md)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate manifest rows: %w", err)
	}

	return entries, nil
}

func (m *SQLiteManifest) Save(ctx context.Context, entries []*metadata.FileMetadata) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin manifest transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				m.logger.Warn("Failed to roll back manifest transaction", zap.Error(rbErr))
			}
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM files`); err != nil {
		return fmt.Errorf("failed to clear manifest: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO files (filepath, mime_type, size, tags, uploaded_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare manifest insert: %w", err)
	}
	defer stmt.Close()

	for _, md := range entries {
		var tags []byte
		tags, err = json.Marshal(nonNilTags(md.Tags))
		if err != nil {
			return fmt.Errorf("failed to encode tags for %s: %w", md.Filepath, err)
		}
		if _, err = stmt.ExecContext(ctx,
			md.Filepath,
			md.MimeType,
			md.Size,
			string(tags),
			md.UploadedAt.UTC().Format(time.RFC3339Nano),
			md.UpdatedAt.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("failed to insert manifest row %s: %w", md.Filepath, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit manifest: %w", err)
	}
	return nil
}

func (m *SQLiteManifest) Close() error {
	return m.db.Close()
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func parseTimestamp(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		parsed, err = time.Parse(time.RFC3339, value)
		if err != nil {
			return time.Time{}
		}
	}
	return parsed.UTC()
}
