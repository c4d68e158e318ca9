// Package lichess wraps the Lichess game-export API as a paginated record
// source. Pages are requested oldest-first so the ingest cursor stays
// monotonic across resumes.
package lichess

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pawnstats/pawnstats/internal/model"
	"github.com/pawnstats/pawnstats/internal/pgntext"
)

// FetchError is a non-recoverable source failure: either an immediate
// rejection (auth, bad filter) or transient errors past the retry budget.
type FetchError struct {
	Username string
	Status   int // last HTTP status, 0 for transport errors
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch games for %s (status %d, %d attempts): %v",
		e.Username, e.Status, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Options configures the export client.
type Options struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	PageSize   int
	MaxRetries int
	RatedOnly  bool
	PerfTypes  []string
	Until      time.Time // zero = open-ended
}

// Client fetches raw PGN game records from the export endpoint.
type Client struct {
	opts  Options
	httpc *http.Client
	log   zerolog.Logger
}

// NewClient builds a Client. Zero option fields get usable defaults.
func NewClient(opts Options, log zerolog.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://lichess.org"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.PageSize == 0 {
		opts.PageSize = 300
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 4
	}
	return &Client{
		opts:  opts,
		httpc: &http.Client{Timeout: opts.Timeout},
		log:   log,
	}
}

// Page is one fetched page of raw records for a single user.
type Page struct {
	Games      []model.RawGame
	NextCursor int64 // ms epoch just past the newest record on the page
	Last       bool  // fewer records than requested: this user is exhausted
}

// FetchPage fetches up to the configured page size of games played at or
// after sinceMS. Transient failures (429, 5xx, transport errors) are retried
// with exponential backoff; anything else fails immediately.
func (c *Client) FetchPage(ctx context.Context, username string, sinceMS int64) (*Page, error) {
	reqURL := c.exportURL(username, sinceMS)

	var lastStatus int
	var lastErr error

	for attempt := 1; attempt <= c.opts.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		body, status, err := c.doRequest(ctx, reqURL)
		lastStatus, lastErr = status, err

		switch {
		case err == nil:
			return c.buildPage(username, body, sinceMS)
		case status == http.StatusUnauthorized,
			status == http.StatusForbidden,
			status == http.StatusBadRequest,
			status == http.StatusNotFound:
			// Permanent: no retry.
			return nil, &FetchError{Username: username, Status: status, Attempts: attempt, Err: err}
		}

		if attempt < c.opts.MaxRetries {
			delay := c.retryDelay(attempt, status, err)
			c.log.Warn().
				Str("user", username).
				Int("attempt", attempt).
				Int("status", status).
				Dur("retry_in", delay).
				Err(err).
				Msg("page fetch failed, retrying")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return nil, &FetchError{Username: username, Status: lastStatus, Attempts: c.opts.MaxRetries, Err: lastErr}
}

func (c *Client) exportURL(username string, sinceMS int64) string {
	q := url.Values{}
	q.Set("max", strconv.Itoa(c.opts.PageSize))
	q.Set("sort", "dateAsc")
	q.Set("opening", "true")
	q.Set("moves", "true")
	q.Set("tags", "true")
	if sinceMS > 0 {
		q.Set("since", strconv.FormatInt(sinceMS, 10))
	}
	if !c.opts.Until.IsZero() {
		q.Set("until", strconv.FormatInt(c.opts.Until.UnixMilli(), 10))
	}
	if c.opts.RatedOnly {
		q.Set("rated", "true")
	}
	if len(c.opts.PerfTypes) > 0 {
		q.Set("perfType", strings.Join(c.opts.PerfTypes, ","))
	}
	return fmt.Sprintf("%s/api/games/user/%s?%s", c.opts.BaseURL, url.PathEscape(username), q.Encode())
}

// retryAfter captures an optional Retry-After value with a retryable error.
type retryAfter struct {
	err   error
	delay time.Duration
}

func (r *retryAfter) Error() string { return r.err.Error() }
func (r *retryAfter) Unwrap() error { return r.err }

func (c *Client) doRequest(ctx context.Context, reqURL string) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Accept", "application/x-chess-pgn")
	if c.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.Token)
	}

	res, err := c.httpc.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", res.StatusCode, err
	}
	if res.StatusCode != http.StatusOK {
		err := fmt.Errorf("http %d: %s", res.StatusCode, truncate(string(body), 200))
		if res.StatusCode == http.StatusTooManyRequests {
			if d := parseRetryAfter(res.Header.Get("Retry-After")); d > 0 {
				return "", res.StatusCode, &retryAfter{err: err, delay: d}
			}
		}
		return "", res.StatusCode, err
	}
	return string(body), res.StatusCode, nil
}

func (c *Client) buildPage(username, body string, sinceMS int64) (*Page, error) {
	records, err := pgntext.SplitAll(strings.NewReader(body))
	if err != nil {
		return nil, &FetchError{Username: username, Attempts: 1, Err: err}
	}

	page := &Page{
		NextCursor: sinceMS,
		Last:       len(records) < c.opts.PageSize,
	}
	for _, rec := range records {
		page.Games = append(page.Games, model.RawGame{Username: username, Text: rec})
		if ts := recordTimestampMS(rec); ts >= page.NextCursor {
			page.NextCursor = ts + 1
		}
	}

	// A full page whose records carry no usable timestamps cannot advance
	// the cursor; stop rather than refetch the same page forever.
	if !page.Last && page.NextCursor <= sinceMS {
		c.log.Warn().Str("user", username).Msg("page carries no usable timestamps, stopping user")
		page.Last = true
	}
	return page, nil
}

var (
	utcDateRe = regexp.MustCompile(`\[UTCDate\s+"([0-9.]+)"\]`)
	utcTimeRe = regexp.MustCompile(`\[UTCTime\s+"([0-9:]+)"\]`)
)

// recordTimestampMS extracts the played-at timestamp of a raw record without
// fully parsing it; 0 when the headers are absent.
func recordTimestampMS(rec string) int64 {
	d := utcDateRe.FindStringSubmatch(rec)
	t := utcTimeRe.FindStringSubmatch(rec)
	if d == nil || t == nil {
		return 0
	}
	ts, err := time.Parse("2006.01.02 15:04:05", d[1]+" "+t[1])
	if err != nil {
		return 0
	}
	return ts.UnixMilli()
}

func (c *Client) retryDelay(attempt, status int, err error) time.Duration {
	var ra *retryAfter
	if status == http.StatusTooManyRequests && errors.As(err, &ra) {
		return ra.delay
	}
	base := 500 * time.Millisecond
	d := float64(base) * math.Pow(2, float64(attempt-1))
	d += d * 0.1 * (2*rand.Float64() - 1) // jitter
	if d > float64(15*time.Second) {
		d = float64(15 * time.Second)
	}
	return time.Duration(d)
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
