/*
Package rest is the small JSON-over-HTTP client the providers share.

PURPOSE:
  Every external system here is a JSON REST API. This package builds the
  request, attaches credentials, retries on rate limiting and decodes
  the response, so that provider packages only describe endpoints and
  payloads.

RETRIES:
  429 is retried for every method. 503 is retried for GET, HEAD, PUT and
  DELETE only: a POST that creates or sends something is tried once.

AUTHENTICATION:
  Bearer tokens go through golang.org/x/oauth2 (BearerClient), the same
  way a refreshed OAuth token would. Basic auth (Toggl's api_token
  scheme) is a request option.

ERRORS:
  Non-2xx responses become *StatusError. A 404 unwraps to
  billing.ErrNotFound so callers can use errors.Is.

SEE ALSO:
  - provider/toggl, provider/debitoor, provider/contentful
*/
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/warp/billing-engine/billing"
	"golang.org/x/oauth2"
)

const (
	maxAttempts    = 3
	defaultBackoff = time.Second
	maxErrorBody   = 512
)

// BearerClient returns an HTTP client that sends token as a bearer
// token on every request.
func BearerClient(ctx context.Context, token string) *http.Client {
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
	}))
}

// Client talks to one API rooted at a base URL.
type Client struct {
	base     string
	http     *http.Client
	user     string
	password string
	basic    bool
	backoff  time.Duration
}

type Option func(*Client)

// WithBasicAuth sets HTTP basic credentials on every request.
func WithBasicAuth(user, password string) Option {
	return func(c *Client) {
		c.user, c.password, c.basic = user, password, true
	}
}

// WithBackoff overrides the wait before retrying a rate-limited request
// when the server sends no Retry-After.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) { c.backoff = d }
}

func New(baseURL string, httpClient *http.Client, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &Client{
		base:    strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		backoff: defaultBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StatusError is a non-2xx answer.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Code, e.Body)
}

func (e *StatusError) Unwrap() error {
	if e.Code == http.StatusNotFound {
		return billing.ErrNotFound
	}
	return nil
}

// Do sends in as JSON (when non-nil) and decodes the answer into out
// (when non-nil). path is appended to the base URL.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
	}

	return c.send(ctx, method, c.url(path, query), "application/json", body, out)
}

// Upload posts data as the single file field of a multipart form.
func (c *Client) Upload(ctx context.Context, path string, query url.Values, field, fileName, contentType string, data []byte, out any) error {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, fileName))
	header.Set("Content-Type", contentType)
	part, err := form.CreatePart(header)
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	if err := form.Close(); err != nil {
		return err
	}
	return c.send(ctx, http.MethodPost, c.url(path, query), form.FormDataContentType(), buf.Bytes(), out)
}

// Download fetches path and returns the body undecoded.
func (c *Client) Download(ctx context.Context, path string) ([]byte, error) {
	var raw []byte
	if err := c.send(ctx, http.MethodGet, c.url(path, nil), "", nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *Client) url(path string, query url.Values) string {
	target := c.base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	return target
}

func (c *Client) send(ctx context.Context, method, target, contentType string, body []byte, out any) error {
	for attempt := 1; ; attempt++ {
		data, retryAfter, err := c.once(ctx, method, target, contentType, body)
		if err == nil {
			if out == nil || len(data) == 0 {
				return nil
			}
			if raw, ok := out.(*[]byte); ok {
				*raw = data
				return nil
			}
			if err := json.Unmarshal(data, out); err != nil {
				return fmt.Errorf("decode %s %s: %w", method, target, err)
			}
			return nil
		}
		if retryAfter < 0 || attempt == maxAttempts {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryAfter):
		}
	}
}

// once performs a single request. A non-negative wait means the request
// may be retried after it.
func (c *Client) once(ctx context.Context, method, target, contentType string, body []byte) ([]byte, time.Duration, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, -1, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}
	if c.basic {
		req.SetBasicAuth(c.user, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, -1, fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, -1, fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return data, -1, nil
	}

	statusErr := &StatusError{Method: method, URL: target, Code: resp.StatusCode, Body: truncate(string(data))}
	if retryable(method, resp.StatusCode) {
		return nil, c.retryAfter(resp.Header.Get("Retry-After")), statusErr
	}
	return nil, -1, statusErr
}

// retryable reports whether a failed request may be sent again. A 429 was
// rejected before it was processed. A 503 may come after the upstream
// acted, so only idempotent methods are repeated.
func retryable(method string, code int) bool {
	switch code {
	case http.StatusTooManyRequests:
		return true
	case http.StatusServiceUnavailable:
		switch method {
		case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete:
			return true
		}
	}
	return false
}

func (c *Client) retryAfter(header string) time.Duration {
	if secs, err := strconv.Atoi(header); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	return c.backoff
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}
