package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"maxbridge/internal/domain"
)

// Error wraps the final failure after the retry budget is spent. Unwrap
// yields the last underlying error, so a timeout that exhausted all attempts
// is still recognizable with errors.Is / errors.As.
type Error struct {
	URL      string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("download %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// statusError is a non-2xx response. 5xx and 429 count as transient.
type statusError struct {
	code   int
	status string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %s", e.status)
}

// RetryPolicy parameterizes the fetcher: attempt ceiling, wait between
// attempts, and which errors are worth retrying.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
	Retryable   func(err error) bool
}

// DefaultPolicy retries transient failures up to 3 attempts with 2^attempt
// second waits.
func DefaultPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     ExpBackoff,
		Retryable:   Transient,
	}
}

// ExpBackoff waits 2^attempt seconds: 2s after the first failed attempt,
// then 4s, 8s, ...
func ExpBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(1<<attempt) * time.Second
}

// Transient reports whether err is a timeout or transport-level failure.
// Anything else (cancellation, 4xx responses, bad URLs) aborts immediately.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500 || se.code == http.StatusTooManyRequests
	}

	var ue *url.Error
	if errors.As(err, &ue) {
		if ue.Timeout() {
			return true
		}
		err = ue.Err
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var oe *net.OpError
	if errors.As(err, &oe) {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

// Config configures a Fetcher. Zero timeouts fall back to defaults.
type Config struct {
	ConnectTimeout  time.Duration // TCP dial + TLS handshake
	ResponseTimeout time.Duration // wait for response headers
	TotalTimeout    time.Duration // whole request including body
	Policy          RetryPolicy
	Logger          *slog.Logger
}

// Fetcher downloads media bytes with bounded retries and backoff.
type Fetcher struct {
	client *http.Client
	policy RetryPolicy
	logger *slog.Logger
}

func New(cfg Config) *Fetcher {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = 30 * time.Second
	}
	if cfg.TotalTimeout <= 0 {
		cfg.TotalTimeout = 120 * time.Second
	}
	if cfg.Policy.MaxAttempts < 1 {
		cfg.Policy.MaxAttempts = 3
	}
	if cfg.Policy.Backoff == nil {
		cfg.Policy.Backoff = ExpBackoff
	}
	if cfg.Policy.Retryable == nil {
		cfg.Policy.Retryable = Transient
	}

	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ResponseTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &Fetcher{
		client: &http.Client{
			Timeout:   cfg.TotalTimeout,
			Transport: transport,
		},
		policy: cfg.Policy,
		logger: cfg.Logger,
	}
}

// Fetch downloads the resource at rawURL and returns it under the given
// filename. On a retryable failure it backs off and tries again up to the
// policy ceiling; on exhaustion the last underlying error is surfaced inside
// *Error. No partial buffer is ever returned.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, filename string) (*domain.DownloadedMedia, error) {
	var lastErr error

	for attempt := 1; attempt <= f.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			backoff := f.policy.Backoff(attempt - 1)
			f.logger.Warn("retrying download",
				"attempt", attempt, "max_attempts", f.policy.MaxAttempts, "backoff", backoff,
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		data, err := f.once(ctx, rawURL)
		if err == nil {
			return &domain.DownloadedMedia{Data: data, Filename: filename}, nil
		}
		lastErr = err

		if !f.policy.Retryable(err) {
			return nil, &Error{URL: rawURL, Attempts: attempt, Err: err}
		}
		f.logger.Warn("download failed", "attempt", attempt, "err", err)
	}

	return nil, &Error{URL: rawURL, Attempts: f.policy.MaxAttempts, Err: lastErr}
}

// once performs a single GET. A fresh request is built per attempt.
func (f *Fetcher) once(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &statusError{code: resp.StatusCode, status: resp.Status}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return data, nil
}
