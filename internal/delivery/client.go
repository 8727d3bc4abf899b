package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ilovespectra/solo-silo-sub000/internal/apperrors"
	"github.com/ilovespectra/solo-silo-sub000/internal/model"
)

// Deliverer sends one feedback item to the backend.
// A nil error means the backend accepted it.
type Deliverer interface {
	Deliver(ctx context.Context, item model.FeedbackItem) error
}

// Ensure Client implements Deliverer at compile time.
var _ Deliverer = (*Client)(nil)

// Client talks to the media backend HTTP API.
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	userAgent string
}

const (
	defaultBaseURL   = "127.0.0.1:8000"
	defaultUserAgent = "silo-feedback-sync"
	defaultTimeout   = 8 * time.Second
)

// NewClient builds a Client for baseURL. Zero timeout and empty userAgent use defaults.
func NewClient(baseURL string, timeout time.Duration, userAgent string) (*Client, error) {
	base, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if strings.TrimSpace(userAgent) == "" {
		userAgent = defaultUserAgent
	}
	return &Client{
		baseURL: base,
		http: &http.Client{
			Timeout: timeout,
		},
		userAgent: userAgent,
	}, nil
}

type keywordsPayload struct {
	Keywords []string `json:"keywords"`
}

// Deliver maps the item's action to its endpoint and performs one attempt.
func (c *Client) Deliver(ctx context.Context, item model.FeedbackItem) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}

	if verb, ok := item.Action.BackendVerb(); ok {
		values := url.Values{}
		values.Set("file_id", strconv.FormatInt(item.SubjectID, 10))
		path := "/api/search/" + escapeSegment(item.Query) + "/" + verb
		return c.doURL(ctx, http.MethodPost, path, values.Encode(), nil)
	}

	if item.Action.IsKeyword() {
		keywords := []string(item.Keywords)
		if keywords == nil {
			keywords = []string{}
		}
		body, err := json.Marshal(keywordsPayload{Keywords: keywords})
		if err != nil {
			return fmt.Errorf("encode keywords: %w", err)
		}
		path := "/api/media/" + strconv.FormatInt(item.SubjectID, 10) + "/keywords"
		return c.doURL(ctx, http.MethodPost, path, "", body)
	}

	return apperrors.NewFatal(apperrors.ErrValidation, "unsupported action %q", item.Action)
}

// escapeSegment escapes s for use as one path segment. The dot segments "."
// and ".." are percent-encoded so they are not collapsed into the parent path.
func escapeSegment(s string) string {
	escaped := url.PathEscape(s)
	if s == "." || s == ".." {
		escaped = strings.ReplaceAll(escaped, ".", "%2E")
	}
	return escaped
}

// doURL appends path, already escaped, to the base URL and performs one request.
func (c *Client) doURL(ctx context.Context, method, path, rawQuery string, body []byte) error {
	reqURL := c.baseURL.String() + path
	if rawQuery != "" {
		reqURL += "?" + rawQuery
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return apperrors.NewFatal(apperrors.ErrValidation, "create request for %s: %v", path, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return apperrors.NewRetryable(fmt.Errorf("%w: %w: %w", apperrors.ErrDeliveryTransient, apperrors.ErrTimeout, err), "execute request %s", path)
		}
		return apperrors.NewRetryable(fmt.Errorf("%w: %w", apperrors.ErrDeliveryTransient, err), "execute request %s", path)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 500:
		return apperrors.NewRetryable(apperrors.ErrDeliveryTransient, "api %s returned status %d", path, resp.StatusCode)
	case resp.StatusCode >= 400:
		return apperrors.NewFatal(apperrors.ErrDeliveryRejected, "api %s returned status %d", path, resp.StatusCode)
	case resp.StatusCode >= 300:
		// Redirects are followed by http.Client, so a 3xx here was not resolvable.
		return apperrors.NewRetryable(apperrors.ErrDeliveryTransient, "api %s returned status %d", path, resp.StatusCode)
	}
	return nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}

func parseBaseURL(baseURL string) (*url.URL, error) {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		trimmed = defaultBaseURL
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: parse backend url %q: %w", apperrors.ErrBadRequest, baseURL, err)
	}
	u.Path = ""
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}
