package db

import (
	"time"

	"github.com/livinlefevreloca/relay/internal/record"
)

// Record is an order or call driven through the pipeline.
type Record struct {
	ID     string
	Kind   record.Kind
	Ref    string // external reference, unique per kind
	Status record.Status

	// Order payload
	DocumentNo string // SAP document number (BELNR)
	DetailURL  string

	// Call payload
	CallState  string
	FromNumber string
	ToNumber   string
	Extension  *string
	CallerName *string
	CallAt     *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Export is the document snapshot of a record in one format.
type Export struct {
	ID        string
	RecordID  string
	Format    record.Format
	Content   string
	CreatedAt time.Time
}

// ScheduleEntry is one daily fire time of the batch trigger.
type ScheduleEntry struct {
	ID        string
	Hour      int
	Minute    int
	Enabled   bool
	CreatedAt time.Time
}

// ScrapeConfig is the singleton scrape configuration row.
type ScrapeConfig struct {
	ListingURL *string
	UpdatedAt  time.Time
}
