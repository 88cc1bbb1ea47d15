package httpkit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Fetcher defaults. The backoff schedule is DefaultBaseDelay * 2^attempt.
const (
	DefaultMaxAttempts  = 3
	DefaultFetchTimeout = 15 * time.Second
	DefaultBaseDelay    = time.Second
	DefaultMaxDelay     = 30 * time.Second

	maxFetchBody = 16 << 20
)

// StatusError reports a non-2xx HTTP response.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s returned HTTP %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("%s returned HTTP %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// Retryable reports whether the status indicates rate limiting or a
// server-side failure.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// TransientFailure is returned when every attempt failed with a
// retryable error. Err holds the last failure.
type TransientFailure struct {
	Endpoint string
	Attempts int
	Err      error
}

func (e *TransientFailure) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempts: %v", e.Endpoint, e.Attempts, e.Err)
}

func (e *TransientFailure) Unwrap() error { return e.Err }

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Attempts   int
}

// ContentType returns the response media type header.
func (r *Response) ContentType() string {
	return r.Header.Get("Content-Type")
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithHTTPClient replaces the client used for attempts.
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) { f.client = c }
}

// WithBaseDelay sets the first backoff interval.
func WithBaseDelay(d time.Duration) FetcherOption {
	return func(f *Fetcher) { f.baseDelay = d }
}

// WithMaxDelay caps a single backoff interval.
func WithMaxDelay(d time.Duration) FetcherOption {
	return func(f *Fetcher) { f.maxDelay = d }
}

// WithJitter randomizes each interval by +/- fraction (0 disables).
func WithJitter(fraction float64) FetcherOption {
	return func(f *Fetcher) { f.jitter = fraction }
}

// WithDefaults sets the timeout and attempt count used by Get and GetJSON.
func WithDefaults(timeout time.Duration, maxAttempts int) FetcherOption {
	return func(f *Fetcher) {
		f.timeout = timeout
		f.maxAttempts = maxAttempts
	}
}

// WithFetchLogger sets the logger for retry diagnostics.
func WithFetchLogger(l *slog.Logger) FetcherOption {
	return func(f *Fetcher) { f.logger = l }
}

// Fetcher performs GET requests against unreliable endpoints with
// bounded retries and exponential backoff. It holds no per-call state
// and is safe for concurrent use.
type Fetcher struct {
	client      *http.Client
	baseDelay   time.Duration
	maxDelay    time.Duration
	jitter      float64
	timeout     time.Duration
	maxAttempts int
	logger      *slog.Logger
}

// NewFetcher returns a Fetcher with the package defaults applied.
func NewFetcher(opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		baseDelay:   DefaultBaseDelay,
		maxDelay:    DefaultMaxDelay,
		timeout:     DefaultFetchTimeout,
		maxAttempts: DefaultMaxAttempts,
	}
	for _, o := range opts {
		o(f)
	}
	if f.client == nil {
		// Attempts are bounded by their own context deadline.
		f.client = NewClient(WithTimeout(0))
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	return f
}

// Get fetches endpoint with the fetcher's default timeout and attempts.
func (f *Fetcher) Get(ctx context.Context, endpoint string, params url.Values) (*Response, error) {
	return f.Fetch(ctx, endpoint, params, f.timeout, f.maxAttempts)
}

// GetJSON fetches endpoint and decodes the JSON body into v.
func (f *Fetcher) GetJSON(ctx context.Context, endpoint string, params url.Values, v any) error {
	resp, err := f.Get(ctx, endpoint, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

// Fetch issues up to maxAttempts GET requests. An attempt fails when the
// transport errors or the server answers 429 or 5xx; failed attempts are
// separated by baseDelay * 2^attempt. Other non-2xx statuses return a
// *StatusError immediately. When attempts run out the last failure is
// wrapped in a *TransientFailure.
func (f *Fetcher) Fetch(ctx context.Context, endpoint string, params url.Values, timeout time.Duration, maxAttempts int) (*Response, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}

	target, err := buildURL(endpoint, params)
	if err != nil {
		return nil, err
	}

	var (
		attempts int
		resp     *Response
	)
	op := func() error {
		attempts++
		r, err := f.attempt(ctx, target, timeout)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			var se *StatusError
			if errors.As(err, &se) && !se.Retryable() {
				return backoff.Permanent(se)
			}
			return err
		}
		r.Attempts = attempts
		resp = r
		return nil
	}
	notify := func(err error, wait time.Duration) {
		f.logger.Debug("fetch attempt failed, backing off",
			"endpoint", endpoint,
			"attempt", attempts,
			"max_attempts", maxAttempts,
			"wait", wait,
			"error", err,
		)
	}

	err = backoff.RetryNotify(op, f.newBackOff(ctx, maxAttempts), notify)
	if err == nil {
		if attempts > 1 {
			f.logger.Info("fetch succeeded after retry", "endpoint", endpoint, "attempts", attempts)
		}
		return resp, nil
	}

	if ctx.Err() != nil {
		return nil, fmt.Errorf("fetch %s: %w", endpoint, ctx.Err())
	}
	var se *StatusError
	if errors.As(err, &se) && !se.Retryable() {
		return nil, se
	}

	f.logger.Warn("fetch exhausted retries",
		"endpoint", endpoint,
		"attempts", attempts,
		"error", err,
	)
	return nil, &TransientFailure{Endpoint: endpoint, Attempts: attempts, Err: err}
}

// newBackOff builds the retry schedule for one Fetch call.
func (f *Fetcher) newBackOff(ctx context.Context, maxAttempts int) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.baseDelay
	b.Multiplier = 2
	b.RandomizationFactor = f.jitter
	b.MaxInterval = f.maxDelay
	b.MaxElapsedTime = 0
	b.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(maxAttempts-1)), ctx)
}

// attempt performs a single request bounded by timeout.
func (f *Fetcher) attempt(ctx context.Context, target string, timeout time.Duration) (*Response, error) {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(actx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	httpResp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, &StatusError{
			Endpoint:   stripQuery(target),
			StatusCode: httpResp.StatusCode,
			Body:       ReadErrorBody(httpResp.Body, 512),
		}
	}
	defer DrainAndClose(httpResp.Body, 1<<20)

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxFetchBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       body,
	}, nil
}

func buildURL(endpoint string, params url.Values) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint %q: %w", endpoint, err)
	}
	if len(params) > 0 {
		q := u.Query()
		for k, vs := range params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func stripQuery(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	u.RawQuery = ""
	return u.String()
}
