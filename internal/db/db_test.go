package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/livinlefevreloca/relay/internal/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test Fixtures and Helpers

// NewTestDB creates a migrated in-memory SQLite database for testing
func NewTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(DriverSQLite, ":memory:")
	require.NoError(t, err, "failed to create test database")
	t.Cleanup(func() { db.Close() })

	_, err = db.Migrate()
	require.NoError(t, err, "failed to migrate test database")

	return db
}

// MakeTestOrder creates an order record with default test values
func MakeTestOrder(ref string) *Record {
	return &Record{
		Kind:       record.KindOrder,
		Ref:        ref,
		DocumentNo: "45000" + ref,
		DetailURL:  "https://portal.example/orders/" + ref,
	}
}

// MakeTestCall creates a call record with default test values
func MakeTestCall(ref string) *Record {
	at := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	name := "Muster GmbH"
	return &Record{
		Kind:       record.KindCall,
		Ref:        ref,
		CallState:  "ringing",
		FromNumber: "+49 30 1234",
		ToNumber:   "200",
		CallerName: &name,
		CallAt:     &at,
	}
}

// Connection Tests

func TestOpen(t *testing.T) {
	tests := []struct {
		name        string
		driver      string
		dsn         string
		errContains string
	}{
		{name: "sqlite in-memory", driver: DriverSQLite, dsn: ":memory:"},
		{name: "invalid driver", driver: "oracle", errContains: "unsupported database driver"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, err := Open(tt.driver, tt.dsn)
			if tt.errContains != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
				return
			}
			require.NoError(t, err)
			defer db.Close()
			assert.Equal(t, tt.driver, db.Driver())
		})
	}
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, "file::memory:?_foreign_keys=on", sqliteDSN(":memory:"))
	assert.Equal(t, "relay.db?_foreign_keys=on", sqliteDSN("relay.db"))
	assert.Equal(t, "relay.db?cache=shared&_foreign_keys=on", sqliteDSN("relay.db?cache=shared"))
	assert.Equal(t, "relay.db?_fk=1", sqliteDSN("relay.db?_fk=1"))
}

func TestRebind(t *testing.T) {
	q := `UPDATE records SET status = ? WHERE id = ? AND status = ?`
	assert.Equal(t, q, rebind(DriverSQLite, q))
	assert.Equal(t, `UPDATE records SET status = $1 WHERE id = $2 AND status = $3`, rebind(DriverPostgres, q))
}

func TestMigrate_Idempotent(t *testing.T) {
	db := NewTestDB(t)

	version, err := db.Migrate()
	require.NoError(t, err)
	assert.Equal(t, 3, version)
}

// Record Tests

func TestUpsertRecord_CreatesWithInitialStatus(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()

	order, created, err := db.UpsertRecord(ctx, MakeTestOrder("R1"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, order.ID)
	assert.Equal(t, record.StatusPending, order.Status)
	assert.Equal(t, "45000R1", order.DocumentNo)

	call, created, err := db.UpsertRecord(ctx, MakeTestCall("20240301093000_49301234"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, record.StatusReceived, call.Status)
	require.NotNil(t, call.CallerName)
	assert.Equal(t, "Muster GmbH", *call.CallerName)
	require.NotNil(t, call.CallAt)
	assert.True(t, call.CallAt.Equal(time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)))
}

func TestUpsertRecord_ExistingReferenceIsReused(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()

	first, created, err := db.UpsertRecord(ctx, MakeTestOrder("R1"))
	require.NoError(t, err)
	require.True(t, created)
	require.NoError(t, db.SetStatus(ctx, first.ID, record.StatusScraped))

	again := MakeTestOrder("R1")
	again.DocumentNo = "other"
	second, created, err := db.UpsertRecord(ctx, again)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, record.StatusScraped, second.Status)
	assert.Equal(t, "45000R1", second.DocumentNo)

	// The same reference under the other kind is a different record.
	other := MakeTestCall("R1")
	third, created, err := db.UpsertRecord(ctx, other)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestUpsertRecord_RejectsForeignStatus(t *testing.T) {
	db := NewTestDB(t)

	rec := MakeTestOrder("R1")
	rec.Status = record.StatusReceived
	_, _, err := db.UpsertRecord(context.Background(), rec)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestGetRecord_NotFound(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()

	_, err := db.GetRecord(ctx, record.KindOrder, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = db.GetRecordByID(ctx, "missing")
	assert.True(t, IsNotFound(err))
}

func TestSetStatus_Transitions(t *testing.T) {
	tests := []struct {
		name      string
		steps     []record.Status
		wantErr   error
		recordErr error
	}{
		{
			name:  "full forward path",
			steps: []record.Status{record.StatusScraped, record.StatusConverted, record.StatusSent},
		},
		{
			name:  "rewrite current status",
			steps: []record.Status{record.StatusScraped, record.StatusScraped},
		},
		{
			name:      "skip a status",
			steps:     []record.Status{record.StatusConverted},
			wantErr:   ErrInvalidTransition,
			recordErr: record.ErrInvalidTransition,
		},
		{
			name:      "move backwards",
			steps:     []record.Status{record.StatusScraped, record.StatusPending},
			wantErr:   ErrInvalidTransition,
			recordErr: record.ErrInvalidTransition,
		},
		{
			name:      "status of another kind",
			steps:     []record.Status{record.StatusReceived},
			wantErr:   ErrInvalidTransition,
			recordErr: record.ErrUnknownStatus,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := NewTestDB(t)
			ctx := context.Background()

			rec, _, err := db.UpsertRecord(ctx, MakeTestOrder("R1"))
			require.NoError(t, err)

			var last error
			for _, s := range tt.steps {
				if last = db.SetStatus(ctx, rec.ID, s); last != nil {
					break
				}
			}

			if tt.wantErr == nil {
				require.NoError(t, last)
				got, err := db.GetRecordByID(ctx, rec.ID)
				require.NoError(t, err)
				assert.Equal(t, tt.steps[len(tt.steps)-1], got.Status)
				return
			}
			assert.ErrorIs(t, last, tt.wantErr)
			assert.ErrorIs(t, last, tt.recordErr)
		})
	}
}

func TestSetStatus_WithinTransaction(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()

	rec, _, err := db.UpsertRecord(ctx, MakeTestOrder("R1"))
	require.NoError(t, err)

	boom := errors.New("boom")
	err = db.WithTransaction(ctx, func(tx *Tx) error {
		if err := tx.SetStatus(ctx, rec.ID, record.StatusScraped); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := db.GetRecordByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, record.StatusPending, got.Status, "rolled back transaction must not advance status")

	err = db.WithTransaction(ctx, func(tx *Tx) error {
		return tx.SetStatus(ctx, rec.ID, record.StatusScraped)
	})
	require.NoError(t, err)

	got, err = db.GetRecordByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, record.StatusScraped, got.Status)
}

func TestSetStatus_UnknownRecord(t *testing.T) {
	db := NewTestDB(t)
	assert.ErrorIs(t, db.SetStatus(context.Background(), "missing", record.StatusScraped), ErrNotFound)
}

func TestUpdateCallDetails(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()

	rec, _, err := db.UpsertRecord(ctx, MakeTestCall("K1"))
	require.NoError(t, err)

	require.NoError(t, db.UpdateCallDetails(ctx, rec.ID, "answered", nil))
	got, err := db.GetRecordByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "answered", got.CallState)
	require.NotNil(t, got.CallerName)
	assert.Equal(t, "Muster GmbH", *got.CallerName, "nil caller name keeps the stored one")

	name := "Beispiel AG"
	require.NoError(t, db.UpdateCallDetails(ctx, rec.ID, "ended", &name))
	got, err = db.GetRecordByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "ended", got.CallState)
	assert.Equal(t, "Beispiel AG", *got.CallerName)

	order, _, err := db.UpsertRecord(ctx, MakeTestOrder("R1"))
	require.NoError(t, err)
	assert.ErrorIs(t, db.UpdateCallDetails(ctx, order.ID, "ended", nil), ErrNotFound)
}

func TestListRecordRefs(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()

	for _, ref := range []string{"R3", "R1", "R2"} {
		_, _, err := db.UpsertRecord(ctx, MakeTestOrder(ref))
		require.NoError(t, err)
	}
	_, _, err := db.UpsertRecord(ctx, MakeTestCall("K1"))
	require.NoError(t, err)

	refs, err := db.ListRecordRefs(ctx, record.KindOrder)
	require.NoError(t, err)
	assert.Equal(t, []string{"R1", "R2", "R3"}, refs)

	refs, err = db.ListRecordRefs(ctx, record.KindCall)
	require.NoError(t, err)
	assert.Equal(t, []string{"K1"}, refs)
}

func TestListRecordsByStatus(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()

	r1, _, err := db.UpsertRecord(ctx, MakeTestOrder("R1"))
	require.NoError(t, err)
	_, _, err = db.UpsertRecord(ctx, MakeTestOrder("R2"))
	require.NoError(t, err)

	require.NoError(t, db.SetStatus(ctx, r1.ID, record.StatusScraped))
	require.NoError(t, db.SetStatus(ctx, r1.ID, record.StatusConverted))

	converted, err := db.ListRecordsByStatus(ctx, record.KindOrder, record.StatusConverted)
	require.NoError(t, err)
	require.Len(t, converted, 1)
	assert.Equal(t, "R1", converted[0].Ref)

	pending, err := db.ListRecordsByStatus(ctx, record.KindOrder, record.StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "R2", pending[0].Ref)
}

// Export Tests

func TestUpsertExport_OverwriteKeepsID(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()

	rec, _, err := db.UpsertRecord(ctx, MakeTestOrder("R1"))
	require.NoError(t, err)

	id1, err := db.UpsertExport(ctx, rec.ID, record.FormatHapodu, "<v1/>")
	require.NoError(t, err)
	id2, err := db.UpsertExport(ctx, rec.ID, record.FormatHapodu, "<v2/>")
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	exp, err := db.GetExport(ctx, rec.ID, record.FormatHapodu)
	require.NoError(t, err)
	assert.Equal(t, "<v2/>", exp.Content)
	assert.Equal(t, record.FormatHapodu, exp.Format)

	_, err = db.UpsertExport(ctx, rec.ID, record.FormatTaifun, "<taifun/>")
	require.NoError(t, err)

	exports, err := db.ListExports(ctx, rec.ID)
	require.NoError(t, err)
	assert.Len(t, exports, 2)
}

func TestUpsertExport_UnknownRecord(t *testing.T) {
	db := NewTestDB(t)

	_, err := db.UpsertExport(context.Background(), "missing", record.FormatTaifun, "<x/>")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetExport_NotFound(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()

	rec, _, err := db.UpsertRecord(ctx, MakeTestOrder("R1"))
	require.NoError(t, err)

	_, err = db.GetExport(ctx, rec.ID, record.FormatTaifun)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteRecord_CascadesExports(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()

	rec, _, err := db.UpsertRecord(ctx, MakeTestOrder("R1"))
	require.NoError(t, err)
	_, err = db.UpsertExport(ctx, rec.ID, record.FormatHapodu, "<x/>")
	require.NoError(t, err)

	require.NoError(t, db.DeleteRecord(ctx, rec.ID))

	exports, err := db.ListExports(ctx, rec.ID)
	require.NoError(t, err)
	assert.Empty(t, exports)

	assert.ErrorIs(t, db.DeleteRecord(ctx, rec.ID), ErrNotFound)
}

// Schedule Tests

func TestCreateScheduleEntry(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()

	entry, err := db.CreateScheduleEntry(ctx, 6, 30)
	require.NoError(t, err)
	assert.True(t, entry.Enabled)

	_, err = db.CreateScheduleEntry(ctx, 6, 30)
	assert.ErrorIs(t, err, ErrDuplicate)

	_, err = db.CreateScheduleEntry(ctx, 24, 0)
	assert.Error(t, err)
	_, err = db.CreateScheduleEntry(ctx, 0, 60)
	assert.Error(t, err)
}

func TestScheduleEntries_ToggleAndList(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()

	late, err := db.CreateScheduleEntry(ctx, 18, 0)
	require.NoError(t, err)
	_, err = db.CreateScheduleEntry(ctx, 6, 0)
	require.NoError(t, err)

	toggled, err := db.ToggleScheduleEntry(ctx, late.ID)
	require.NoError(t, err)
	assert.False(t, toggled.Enabled)

	all, err := db.ListScheduleEntries(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, 6, all[0].Hour, "entries are ordered by time of day")

	enabled, err := db.ListEnabledScheduleEntries(ctx)
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, 6, enabled[0].Hour)

	toggled, err = db.ToggleScheduleEntry(ctx, late.ID)
	require.NoError(t, err)
	assert.True(t, toggled.Enabled)

	_, err = db.ToggleScheduleEntry(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteScheduleEntry(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()

	entry, err := db.CreateScheduleEntry(ctx, 7, 15)
	require.NoError(t, err)

	require.NoError(t, db.DeleteScheduleEntry(ctx, entry.ID))
	assert.ErrorIs(t, db.DeleteScheduleEntry(ctx, entry.ID), ErrNotFound)

	_, err = db.GetScheduleEntry(ctx, entry.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestScrapeConfig_Singleton(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()

	cfg, err := db.GetScrapeConfig(ctx)
	require.NoError(t, err)
	assert.Nil(t, cfg.ListingURL)

	first := "https://portal.example/list?a=1"
	_, err = db.SetScrapeConfig(ctx, &first)
	require.NoError(t, err)

	second := "https://portal.example/list?a=2"
	_, err = db.SetScrapeConfig(ctx, &second)
	require.NoError(t, err)

	cfg, err = db.GetScrapeConfig(ctx)
	require.NoError(t, err)
	require.NotNil(t, cfg.ListingURL)
	assert.Equal(t, second, *cfg.ListingURL)

	var rows int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM scrape_config`).Scan(&rows))
	assert.Equal(t, 1, rows)

	_, err = db.SetScrapeConfig(ctx, nil)
	require.NoError(t, err)
	cfg, err = db.GetScrapeConfig(ctx)
	require.NoError(t, err)
	assert.Nil(t, cfg.ListingURL)
}
