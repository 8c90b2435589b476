package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/brewtune/brewtune/internal/dbx"
	"github.com/brewtune/brewtune/internal/intune"

	_ "modernc.org/sqlite"
)

// keepRows caps the table size; older rows are pruned on insert.
const keepRows = 500

// SQLiteRepository implements Repository on a local sqlite database.
type SQLiteRepository struct {
	db *sql.DB
}

// Open opens (creating if necessary) the history database at path and
// ensures the schema exists. Use ":memory:" for an ephemeral store.
func Open(ctx context.Context, path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening history db: %w", err)
	}

	schema := `
CREATE TABLE IF NOT EXISTS uploads (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  app_id TEXT NOT NULL,
  app_name TEXT NOT NULL,
  app_version TEXT NOT NULL,
  bundle_id TEXT NOT NULL,
  required_assigned INTEGER NOT NULL,
  available_assigned INTEGER NOT NULL,
  finished_at TEXT NOT NULL
);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating history schema: %w", err)
	}
	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// Insert stores the result and prunes rows beyond the retention cap, both in
// one transaction.
func (r *SQLiteRepository) Insert(ctx context.Context, res *intune.UploadResult) error {
	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO uploads (app_id, app_name, app_version, bundle_id, required_assigned, available_assigned, finished_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
			res.AppID, res.AppName, res.AppVersion, res.BundleID,
			res.RequiredGroupsAssigned, res.AvailableGroupsAssigned,
			res.FinishedAt.UTC().Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("failed to insert upload record: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
DELETE FROM uploads WHERE id NOT IN (SELECT id FROM uploads ORDER BY id DESC LIMIT ?)`, keepRows)
		if err != nil {
			return fmt.Errorf("failed to prune upload records: %w", err)
		}
		return nil
	})
}

// List returns the most recent uploads, newest first.
func (r *SQLiteRepository) List(ctx context.Context, limit int) ([]intune.UploadResult, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT app_id, app_name, app_version, bundle_id, required_assigned, available_assigned, finished_at
FROM uploads ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select uploads: %w", err)
	}
	defer rows.Close()

	var result []intune.UploadResult
	for rows.Next() {
		var item intune.UploadResult
		var finished string
		if err := rows.Scan(&item.AppID, &item.AppName, &item.AppVersion, &item.BundleID,
			&item.RequiredGroupsAssigned, &item.AvailableGroupsAssigned, &finished); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339, finished); err == nil {
			item.FinishedAt = ts
		}
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
