// Package scraper is the contract to the order portal scraper.
//
// The browser automation itself runs out of process. This package provides an
// HTTP adapter to that sidecar and an in-memory mock for offline runs and tests.
package scraper

import (
	"context"
	"errors"
	"strings"
)

// ErrNotAvailable is returned by FetchDocument when the portal offers no
// export for the order.
var ErrNotAvailable = errors.New("scraper: document not available")

// Candidate is one order found on the listing page.
type Candidate struct {
	Ref        string `json:"ref"`         // portal order id
	DocumentNo string `json:"document_no"` // SAP document number (BELNR)
	DetailURL  string `json:"detail_url"`
}

// Scraper lists candidate orders and fetches their source documents.
type Scraper interface {
	// ListCandidates returns the orders on the listing page. An empty url
	// selects the portal's default listing.
	ListCandidates(ctx context.Context, url string) ([]Candidate, error)

	// FetchDocument returns the source document behind a detail page, or
	// ErrNotAvailable.
	FetchDocument(ctx context.Context, detailURL string) (string, error)
}

// Normalize trims candidates and drops blank and repeated references,
// keeping first-seen order.
func Normalize(in []Candidate) []Candidate {
	out := make([]Candidate, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, c := range in {
		c.Ref = strings.TrimSpace(c.Ref)
		if c.Ref == "" {
			continue
		}
		if _, ok := seen[c.Ref]; ok {
			continue
		}
		seen[c.Ref] = struct{}{}
		c.DocumentNo = strings.TrimSpace(c.DocumentNo)
		c.DetailURL = strings.TrimSpace(c.DetailURL)
		out = append(out, c)
	}
	return out
}
