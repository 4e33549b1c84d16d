package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	defaultMaxAttempts    = 10
	defaultRetryDelay     = 500 * time.Millisecond
	defaultAttemptTimeout = 30 * time.Second
)

// Options tune delivery. Zero values fall back to the defaults.
type Options struct {
	MaxAttempts    int
	RetryDelay     time.Duration
	AttemptTimeout time.Duration

	// Transport overrides the round tripper, mainly for tests.
	Transport http.RoundTripper
}

// Request is an inbound request with its body already buffered, so it can
// be replayed on every attempt.
type Request struct {
	Method string
	URL    *url.URL
	Header http.Header
	Body   []byte
}

// Target is the single backend every request is delivered to.
type Target struct {
	url         *url.URL
	client      *http.Client
	maxAttempts int
	retryDelay  time.Duration
	logger      *slog.Logger
}

// New creates a Target for the backend at u.
func New(u *url.URL, opts Options, logger *slog.Logger) *Target {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = defaultAttemptTimeout
	}

	transport := opts.Transport
	if transport == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		// Bodies are mirrored byte for byte, so leave Accept-Encoding to the client
		t.DisableCompression = true
		transport = t
	}

	return &Target{
		url: u,
		client: &http.Client{
			Transport: transport,
			Timeout:   opts.AttemptTimeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		maxAttempts: opts.MaxAttempts,
		retryDelay:  opts.RetryDelay,
		logger:      logger,
	}
}

// URL returns the backend base URL.
func (t *Target) URL() *url.URL {
	return t.url
}

// ResolveURL maps an inbound request URL onto the backend, keeping the path,
// its raw encoding and the query exactly as received.
func (t *Target) ResolveURL(in *url.URL) *url.URL {
	out := *t.url
	out.Path = in.Path
	out.RawPath = in.RawPath
	out.RawQuery = in.RawQuery
	out.ForceQuery = in.ForceQuery
	out.Fragment = ""
	out.RawFragment = ""
	return &out
}

// Deliver sends req to the backend, retrying transport errors with a constant
// delay until an HTTP response arrives or the attempt budget is spent. Any
// HTTP response counts as delivered, whatever its status. It returns the
// number of attempts made. The caller closes the response body.
func (t *Target) Deliver(ctx context.Context, req Request) (*http.Response, int, error) {
	attempts := 0

	operation := func() (*http.Response, error) {
		attempts++

		out, err := t.newRequest(ctx, req)
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		resp, err := t.client.Do(out)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			return nil, err
		}
		return resp, nil
	}

	notify := func(err error, next time.Duration) {
		t.logger.Debug("Backend not reachable, retrying",
			slog.Int("attempt", attempts),
			slog.Duration("delay", next),
			slog.Any("err", err))
	}

	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(t.retryDelay)),
		backoff.WithMaxTries(uint(t.maxAttempts)),
		backoff.WithNotify(notify))
	if err != nil {
		return nil, attempts, err
	}

	return resp, attempts, nil
}

func (t *Target) newRequest(ctx context.Context, req Request) (*http.Request, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	out, err := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to build backend request: %w", err)
	}

	out.Header = RequestHeaders(req.Header)
	return out, nil
}
