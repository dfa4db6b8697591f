package scraper

import (
	"context"
	"sync"
)

// Mock is an in-memory Scraper. It serves whatever candidates and documents
// it was loaded with and records every call.
type Mock struct {
	mu         sync.Mutex
	candidates []Candidate
	documents  map[string]string
	listErr    error
	fetchErr   map[string]error

	listCalls  []string
	fetchCalls []string
}

func NewMock() *Mock {
	return &Mock{
		documents: make(map[string]string),
		fetchErr:  make(map[string]error),
	}
}

// SetCandidates replaces the listing.
func (m *Mock) SetCandidates(candidates ...Candidate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candidates = append([]Candidate(nil), candidates...)
}

// SetDocument registers the source document behind a detail URL.
func (m *Mock) SetDocument(detailURL, doc string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents[detailURL] = doc
}

// SetListError makes ListCandidates fail with err until cleared with nil.
func (m *Mock) SetListError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listErr = err
}

// SetFetchError makes FetchDocument fail for one detail URL.
func (m *Mock) SetFetchError(detailURL string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.fetchErr, detailURL)
		return
	}
	m.fetchErr[detailURL] = err
}

func (m *Mock) ListCandidates(ctx context.Context, url string) ([]Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls = append(m.listCalls, url)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.listErr != nil {
		return nil, m.listErr
	}
	return Normalize(m.candidates), nil
}

func (m *Mock) FetchDocument(ctx context.Context, detailURL string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchCalls = append(m.fetchCalls, detailURL)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err, ok := m.fetchErr[detailURL]; ok {
		return "", err
	}
	doc, ok := m.documents[detailURL]
	if !ok {
		return "", ErrNotAvailable
	}
	return doc, nil
}

// ListCalls returns the URLs ListCandidates was called with.
func (m *Mock) ListCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.listCalls...)
}

// FetchCalls returns the detail URLs FetchDocument was called with.
func (m *Mock) FetchCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.fetchCalls...)
}
