package tsdb

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"

	"github.com/roach88/tidewatch/internal/observation"
)

const (
	// DefaultTimeout bounds one HTTP request.
	DefaultTimeout = 10 * time.Second

	// DefaultMaxTries is how many times a write is attempted.
	DefaultMaxTries = 2

	writePath  = "/write_measurement"
	latestPath = "/get_latest_measurement"
)

// HTTPStore talks to the hosted measurement API.
type HTTPStore struct {
	baseURL    string
	user       string
	password   string
	client     *http.Client
	maxTries   int
	retryDelay time.Duration
	logger     *slog.Logger
}

// HTTPOption configures an HTTPStore.
type HTTPOption func(*HTTPStore)

// WithBasicAuth sets the credentials sent with every request.
func WithBasicAuth(user, password string) HTTPOption {
	return func(s *HTTPStore) {
		s.user, s.password = user, password
	}
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(s *HTTPStore) {
		s.client = c
	}
}

// WithHTTPTimeout bounds each request. Apply after WithHTTPClient.
func WithHTTPTimeout(d time.Duration) HTTPOption {
	return func(s *HTTPStore) {
		if d > 0 {
			s.client = &http.Client{Timeout: d, Transport: s.client.Transport}
		}
	}
}

// WithMaxTries sets how many times a write is attempted before failing.
func WithMaxTries(n int) HTTPOption {
	return func(s *HTTPStore) {
		if n > 0 {
			s.maxTries = n
		}
	}
}

// WithRetryDelay sets the pause between write attempts.
func WithRetryDelay(d time.Duration) HTTPOption {
	return func(s *HTTPStore) {
		s.retryDelay = d
	}
}

// WithHTTPLogger sets the logger.
func WithHTTPLogger(l *slog.Logger) HTTPOption {
	return func(s *HTTPStore) {
		s.logger = l
	}
}

// NewHTTPStore returns a client for the API rooted at baseURL.
func NewHTTPStore(baseURL string, opts ...HTTPOption) *HTTPStore {
	s := &HTTPStore{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: DefaultTimeout},
		maxTries: DefaultMaxTries,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Write posts m, retrying up to the configured number of tries.
func (s *HTTPStore) Write(ctx context.Context, m Measurement) error {
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode measurement: %w", err)
	}

	attempt := 0
	op := func() error {
		attempt++
		err := s.post(ctx, body)
		if err != nil {
			s.logger.Debug("write attempt failed",
				"seq", m.Seq,
				"attempt", attempt,
				"error", err,
			)
		}
		return err
	}

	var b backoff.BackOff = backoff.NewConstantBackOff(s.retryDelay)
	b = backoff.WithMaxRetries(b, uint64(s.maxTries-1))
	b = backoff.WithContext(b, ctx)
	if err := backoff.Retry(op, b); err != nil {
		return fmt.Errorf("write seq %d after %d attempts: %w", m.Seq, attempt, err)
	}
	return nil
}

func (s *HTTPStore) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+writePath, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	s.authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("store answered %s", resp.Status)
	}
	return nil
}

// latestRecord is one element of the latest-measurement response.
type latestRecord struct {
	Date string `json:"date"`
	Seq  int64  `json:"seqNum"`
}

// Latest asks the API for the newest measurement of siteID.
func (s *HTTPStore) Latest(ctx context.Context, siteID string) (observation.Anchor, error) {
	u := s.baseURL + latestPath + "?" + url.Values{"sensor_ID": {siteID}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return observation.Anchor{}, err
	}
	s.authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return observation.Anchor{}, fmt.Errorf("query latest: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return observation.Anchor{}, fmt.Errorf("query latest: store answered %s", resp.Status)
	}

	var records []latestRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return observation.Anchor{}, fmt.Errorf("decode latest: %w", err)
	}
	if len(records) == 0 {
		return observation.Anchor{}, fmt.Errorf("%w: %s", ErrNoData, siteID)
	}

	ts, err := time.Parse(time.RFC3339, records[0].Date)
	if err != nil {
		return observation.Anchor{}, fmt.Errorf("decode latest date %q: %w", records[0].Date, err)
	}
	return observation.Anchor{Timestamp: ts, Seq: records[0].Seq}, nil
}

func (s *HTTPStore) authorize(req *http.Request) {
	if s.user != "" || s.password != "" {
		req.SetBasicAuth(s.user, s.password)
	}
}
