package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/livinlefevreloca/relay/internal/stage"
)

// HTTPAdapter talks to the scraping sidecar over JSON/HTTP.
//
// Endpoints:
//
//	GET {base}/api/orders?url=...            -> {"orders":[...]} or [...]
//	GET {base}/api/orders/export?detail_url= -> source document body, 404 if none
//
// Portal credentials are forwarded as basic auth; the sidecar logs in once per
// request so no session outlives a call.
type HTTPAdapter struct {
	baseURL   string
	client    *http.Client
	userAgent string
	username  string
	password  string
}

// HTTPAdapterOptions configures an HTTPAdapter.
type HTTPAdapterOptions struct {
	BaseURL   string
	UserAgent string
	Username  string
	Password  string
	Timeout   time.Duration
}

func NewHTTPAdapter(opts HTTPAdapterOptions) (*HTTPAdapter, error) {
	base := strings.TrimSpace(opts.BaseURL)
	if base == "" {
		return nil, errors.New("scraper base URL is required")
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid scraper base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid scraper base URL %q: scheme must be http or https", base)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = "relay/1.0"
	}
	return &HTTPAdapter{
		baseURL:   strings.TrimRight(base, "/"),
		client:    &http.Client{Timeout: timeout},
		userAgent: ua,
		username:  opts.Username,
		password:  opts.Password,
	}, nil
}

func (a *HTTPAdapter) ListCandidates(ctx context.Context, listingURL string) ([]Candidate, error) {
	q := url.Values{}
	if listingURL != "" {
		q.Set("url", listingURL)
	}
	u := a.baseURL + "/api/orders"
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	body, err := a.get(ctx, u, "application/json")
	if err != nil {
		return nil, err
	}

	// Accept both object-wrapped and bare-array payloads.
	var wrapped struct {
		Orders []Candidate `json:"orders"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Orders != nil {
		return Normalize(wrapped.Orders), nil
	}
	var arr []Candidate
	if err := json.Unmarshal(body, &arr); err != nil {
		return nil, fmt.Errorf("listing payload parse: %w", err)
	}
	return Normalize(arr), nil
}

func (a *HTTPAdapter) FetchDocument(ctx context.Context, detailURL string) (string, error) {
	if strings.TrimSpace(detailURL) == "" {
		return "", errors.New("detail URL is required")
	}
	u := a.baseURL + "/api/orders/export?" + url.Values{"detail_url": {detailURL}}.Encode()

	body, err := a.get(ctx, u, "application/xml")
	if err != nil {
		return "", err
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return "", ErrNotAvailable
	}
	return string(body), nil
}

// get performs a GET and classifies failures. Transport errors, 5xx and 429
// are transient; 404 means the document is not available.
func (a *HTTPAdapter) get(ctx context.Context, u, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", a.userAgent)
	if a.username != "" {
		req.SetBasicAuth(a.username, a.password)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, stage.Transient(fmt.Errorf("scraper request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, stage.Transient(fmt.Errorf("scraper response: %w", err))
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotAvailable
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, stage.Transient(fmt.Errorf("scraper http status %d", resp.StatusCode))
	default:
		return nil, fmt.Errorf("scraper http status %d", resp.StatusCode)
	}
}
