package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/livinlefevreloca/relay/internal/record"
)

// =============================================================================
// Record Operations
// =============================================================================

const recordColumns = `id, kind, ref, status, document_no, detail_url, call_state, from_number,
		to_number, extension, caller_name, call_at, created_at, updated_at`

func scanRecord(row interface{ Scan(...any) error }) (*Record, error) {
	rec := &Record{}
	var kind, status string
	err := row.Scan(
		&rec.ID,
		&kind,
		&rec.Ref,
		&status,
		&rec.DocumentNo,
		&rec.DetailURL,
		&rec.CallState,
		&rec.FromNumber,
		&rec.ToNumber,
		&rec.Extension,
		&rec.CallerName,
		&rec.CallAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Kind = record.Kind(kind)
	rec.Status = record.Status(status)
	return rec, nil
}

// upsertRecord creates rec unless a record with the same kind and reference
// exists. It returns the stored record and whether it was created; an
// existing record is returned unchanged.
func (c conn) upsertRecord(ctx context.Context, rec *Record) (*Record, bool, error) {
	if rec.Status == "" {
		rec.Status = rec.Kind.InitialStatus()
	}
	if _, ok := rec.Kind.Rank(rec.Status); !ok {
		return nil, false, fmt.Errorf("%w: %q is not a %s status", ErrInvalidTransition, rec.Status, rec.Kind)
	}

	now := time.Now().UTC()
	id := uuid.NewString()

	query := `
		INSERT INTO records (id, kind, ref, status, document_no, detail_url, call_state, from_number,
			to_number, extension, caller_name, call_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (kind, ref) DO NOTHING
	`

	result, err := c.exec(ctx, query,
		id, string(rec.Kind), rec.Ref, string(rec.Status), rec.DocumentNo, rec.DetailURL,
		rec.CallState, rec.FromNumber, rec.ToNumber, rec.Extension, rec.CallerName, rec.CallAt,
		now, now)
	if err != nil {
		return nil, false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, false, err
	}

	stored, err := c.getRecord(ctx, rec.Kind, rec.Ref)
	if err != nil {
		return nil, false, err
	}
	return stored, rows == 1, nil
}

func (c conn) getRecord(ctx context.Context, kind record.Kind, ref string) (*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records WHERE kind = ? AND ref = ?`

	rec, err := scanRecord(c.queryRow(ctx, query, string(kind), ref))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

func (c conn) getRecordByID(ctx context.Context, id string) (*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records WHERE id = ?`

	rec, err := scanRecord(c.queryRow(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// setStatus advances a record's status after checking the transition table.
func (c conn) setStatus(ctx context.Context, id string, to record.Status) error {
	var kind, from string
	err := c.queryRow(ctx, `SELECT kind, status FROM records WHERE id = ?`, id).Scan(&kind, &from)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	if err := record.CheckTransition(record.Kind(kind), record.Status(from), to); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTransition, err)
	}
	if record.Status(from) == to {
		return nil
	}

	query := `
		UPDATE records
		SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`
	result, err := c.exec(ctx, query, string(to), time.Now().UTC(), id, from)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrStatusChanged
	}
	return nil
}

func (c conn) updateCallDetails(ctx context.Context, id, state string, callerName *string) error {
	query := `
		UPDATE records
		SET call_state = ?, caller_name = COALESCE(?, caller_name), updated_at = ?
		WHERE id = ? AND kind = ?
	`
	result, err := c.exec(ctx, query, state, callerName, time.Now().UTC(), id, string(record.KindCall))
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertRecord creates the record if its reference is unseen, else returns the existing one.
func (db *DB) UpsertRecord(ctx context.Context, rec *Record) (*Record, bool, error) {
	return db.conn().upsertRecord(ctx, rec)
}

// UpsertRecord creates the record within a transaction
func (tx *Tx) UpsertRecord(ctx context.Context, rec *Record) (*Record, bool, error) {
	return tx.conn().upsertRecord(ctx, rec)
}

// GetRecord retrieves a record by kind and external reference
func (db *DB) GetRecord(ctx context.Context, kind record.Kind, ref string) (*Record, error) {
	return db.conn().getRecord(ctx, kind, ref)
}

// GetRecord retrieves a record within a transaction
func (tx *Tx) GetRecord(ctx context.Context, kind record.Kind, ref string) (*Record, error) {
	return tx.conn().getRecord(ctx, kind, ref)
}

// GetRecordByID retrieves a record by its row ID
func (db *DB) GetRecordByID(ctx context.Context, id string) (*Record, error) {
	return db.conn().getRecordByID(ctx, id)
}

// SetStatus advances a record's status. Writes that skip a status or move
// backwards fail with ErrInvalidTransition; rewriting the current status is a no-op.
func (db *DB) SetStatus(ctx context.Context, id string, status record.Status) error {
	return db.conn().setStatus(ctx, id, status)
}

// SetStatus advances a record's status within a transaction
func (tx *Tx) SetStatus(ctx context.Context, id string, status record.Status) error {
	return tx.conn().setStatus(ctx, id, status)
}

// UpdateCallDetails refreshes the call state and caller name of a re-delivered call event.
// A nil caller name keeps the stored one.
func (db *DB) UpdateCallDetails(ctx context.Context, id, state string, callerName *string) error {
	return db.conn().updateCallDetails(ctx, id, state, callerName)
}

// UpdateCallDetails refreshes a re-delivered call event within a transaction
func (tx *Tx) UpdateCallDetails(ctx context.Context, id, state string, callerName *string) error {
	return tx.conn().updateCallDetails(ctx, id, state, callerName)
}

// ListRecordRefs returns the external references of every record of a kind
func (db *DB) ListRecordRefs(ctx context.Context, kind record.Kind) ([]string, error) {
	rows, err := db.conn().query(ctx, `SELECT ref FROM records WHERE kind = ? ORDER BY ref`, string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	refs := []string{}
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}

	return refs, rows.Err()
}

// ListRecordsByStatus returns the records of a kind resting at status, oldest first
func (db *DB) ListRecordsByStatus(ctx context.Context, kind record.Kind, status record.Status) ([]*Record, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM records
		WHERE kind = ? AND status = ?
		ORDER BY created_at, ref
	`

	rows, err := db.conn().query(ctx, query, string(kind), string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []*Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// DeleteRecord deletes a record and, by cascade, its exports
func (db *DB) DeleteRecord(ctx context.Context, id string) error {
	result, err := db.conn().exec(ctx, `DELETE FROM records WHERE id = ?`, id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrNotFound
	}

	return nil
}
