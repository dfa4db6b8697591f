package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/livinlefevreloca/relay/internal/record"
)

// =============================================================================
// Export Operations
// =============================================================================

// upsertExport writes the record's document for format, replacing any prior
// export of that format. The export keeps its ID across overwrites.
func (c conn) upsertExport(ctx context.Context, recordID string, format record.Format, content string) (string, error) {
	query := `
		INSERT INTO exports (id, record_id, format, content, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (record_id, format) DO UPDATE
		SET content = excluded.content, created_at = excluded.created_at
		RETURNING id
	`

	var id string
	err := c.queryRow(ctx, query, uuid.NewString(), recordID, string(format), content, time.Now().UTC()).Scan(&id)
	if err != nil {
		if IsForeignKey(err) {
			return "", ErrNotFound
		}
		return "", err
	}
	return id, nil
}

func (c conn) getExport(ctx context.Context, recordID string, format record.Format) (*Export, error) {
	query := `
		SELECT id, record_id, format, content, created_at
		FROM exports
		WHERE record_id = ? AND format = ?
	`

	exp := &Export{}
	var f string
	err := c.queryRow(ctx, query, recordID, string(format)).Scan(
		&exp.ID,
		&exp.RecordID,
		&f,
		&exp.Content,
		&exp.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	exp.Format = record.Format(f)
	return exp, nil
}

// UpsertExport writes a record's document for a format
func (db *DB) UpsertExport(ctx context.Context, recordID string, format record.Format, content string) (string, error) {
	return db.conn().upsertExport(ctx, recordID, format, content)
}

// UpsertExport writes a record's document within a transaction
func (tx *Tx) UpsertExport(ctx context.Context, recordID string, format record.Format, content string) (string, error) {
	return tx.conn().upsertExport(ctx, recordID, format, content)
}

// GetExport retrieves the export of a record for a format
func (db *DB) GetExport(ctx context.Context, recordID string, format record.Format) (*Export, error) {
	return db.conn().getExport(ctx, recordID, format)
}

// ListExports returns every export of a record, oldest first
func (db *DB) ListExports(ctx context.Context, recordID string) ([]*Export, error) {
	query := `
		SELECT id, record_id, format, content, created_at
		FROM exports
		WHERE record_id = ?
		ORDER BY created_at, format
	`

	rows, err := db.conn().query(ctx, query, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	exports := []*Export{}
	for rows.Next() {
		exp := &Export{}
		var f string
		if err := rows.Scan(&exp.ID, &exp.RecordID, &f, &exp.Content, &exp.CreatedAt); err != nil {
			return nil, err
		}
		exp.Format = record.Format(f)
		exports = append(exports, exp)
	}

	return exports, rows.Err()
}
