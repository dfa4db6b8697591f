package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Schedule Entry Operations
// =============================================================================

// CreateScheduleEntry adds a daily fire time. A second entry for the same
// hour and minute fails with ErrDuplicate.
func (db *DB) CreateScheduleEntry(ctx context.Context, hour, minute int) (*ScheduleEntry, error) {
	if hour < 0 || hour > 23 {
		return nil, fmt.Errorf("hour must be between 0 and 23, got %d", hour)
	}
	if minute < 0 || minute > 59 {
		return nil, fmt.Errorf("minute must be between 0 and 59, got %d", minute)
	}

	entry := &ScheduleEntry{
		ID:        uuid.NewString(),
		Hour:      hour,
		Minute:    minute,
		Enabled:   true,
		CreatedAt: time.Now().UTC(),
	}

	query := `
		INSERT INTO schedule_entries (id, hour, minute, enabled, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := db.conn().exec(ctx, query, entry.ID, entry.Hour, entry.Minute, entry.Enabled, entry.CreatedAt)
	if err != nil {
		if IsDuplicate(err) {
			return nil, fmt.Errorf("%w: schedule entry %02d:%02d", ErrDuplicate, hour, minute)
		}
		return nil, err
	}

	return entry, nil
}

// GetScheduleEntry retrieves a schedule entry by ID
func (db *DB) GetScheduleEntry(ctx context.Context, id string) (*ScheduleEntry, error) {
	query := `
		SELECT id, hour, minute, enabled, created_at
		FROM schedule_entries
		WHERE id = ?
	`

	entry := &ScheduleEntry{}
	err := db.conn().queryRow(ctx, query, id).Scan(
		&entry.ID,
		&entry.Hour,
		&entry.Minute,
		&entry.Enabled,
		&entry.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// ListScheduleEntries returns every schedule entry ordered by time of day
func (db *DB) ListScheduleEntries(ctx context.Context) ([]*ScheduleEntry, error) {
	return db.listScheduleEntries(ctx, false)
}

// ListEnabledScheduleEntries returns the entries that define the trigger
func (db *DB) ListEnabledScheduleEntries(ctx context.Context) ([]*ScheduleEntry, error) {
	return db.listScheduleEntries(ctx, true)
}

func (db *DB) listScheduleEntries(ctx context.Context, enabledOnly bool) ([]*ScheduleEntry, error) {
	query := `
		SELECT id, hour, minute, enabled, created_at
		FROM schedule_entries
	`
	var args []any
	if enabledOnly {
		query += ` WHERE enabled = ?`
		args = append(args, true)
	}
	query += ` ORDER BY hour, minute`

	rows, err := db.conn().query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []*ScheduleEntry{}
	for rows.Next() {
		entry := &ScheduleEntry{}
		if err := rows.Scan(&entry.ID, &entry.Hour, &entry.Minute, &entry.Enabled, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// ToggleScheduleEntry flips the enabled flag of an entry and returns the updated entry
func (db *DB) ToggleScheduleEntry(ctx context.Context, id string) (*ScheduleEntry, error) {
	result, err := db.conn().exec(ctx, `UPDATE schedule_entries SET enabled = NOT enabled WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, ErrNotFound
	}

	return db.GetScheduleEntry(ctx, id)
}

// DeleteScheduleEntry removes a schedule entry
func (db *DB) DeleteScheduleEntry(ctx context.Context, id string) error {
	result, err := db.conn().exec(ctx, `DELETE FROM schedule_entries WHERE id = ?`, id)
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

// =============================================================================
// Scrape Configuration Operations
// =============================================================================

// GetScrapeConfig returns the singleton scrape configuration. Before the
// first write it returns an empty configuration.
func (db *DB) GetScrapeConfig(ctx context.Context) (*ScrapeConfig, error) {
	cfg := &ScrapeConfig{}
	err := db.conn().queryRow(ctx, `SELECT listing_url, updated_at FROM scrape_config WHERE id = 1`).Scan(
		&cfg.ListingURL,
		&cfg.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return &ScrapeConfig{}, nil
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// SetScrapeConfig creates or updates the singleton scrape configuration.
// A nil URL clears the override.
func (db *DB) SetScrapeConfig(ctx context.Context, listingURL *string) (*ScrapeConfig, error) {
	cfg := &ScrapeConfig{
		ListingURL: listingURL,
		UpdatedAt:  time.Now().UTC(),
	}

	query := `
		INSERT INTO scrape_config (id, listing_url, updated_at)
		VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE
		SET listing_url = excluded.listing_url, updated_at = excluded.updated_at
	`

	if _, err := db.conn().exec(ctx, query, cfg.ListingURL, cfg.UpdatedAt); err != nil {
		return nil, err
	}
	return cfg, nil
}
