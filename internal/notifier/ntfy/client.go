// Package ntfy publishes messages to an ntfy relay (https://ntfy.sh or a
// self-hosted server) using the plain-text POST API.
package ntfy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultURL is the public relay used when no url is configured.
	DefaultURL = "https://ntfy.sh"
	// DefaultTimeout bounds one publish, including reading the response.
	DefaultTimeout = 5 * time.Second

	userAgent    = "cuinotify/1.0"
	maxErrorBody = 2048
)

// Metadata headers carried alongside every message.
const (
	HeaderSessionID           = "X-CUI-SessionId"
	HeaderStreamingID         = "X-CUI-StreamingId"
	HeaderPermissionRequestID = "X-CUI-PermissionRequestId"
)

// ErrTimeout is wrapped by Publish when the relay did not answer in time.
var ErrTimeout = errors.New("ntfy request timed out")

// StatusError is returned for any non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ntfy returned %d: %s", e.StatusCode, e.Body)
}

// Message is one relay publish. Body is sent verbatim.
type Message struct {
	Title    string
	Body     string
	Priority string
	Tags     []string

	SessionID           string
	StreamingID         string
	PermissionRequestID string
}

// Client posts messages to {baseURL}/{topic}.
type Client struct {
	http    *http.Client
	timeout time.Duration
}

type Option func(*Client)

// WithHTTPClient overrides the transport. The client's own Timeout is left
// alone; the per-request deadline always applies.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func New(opts ...Option) *Client {
	c := &Client{http: &http.Client{}, timeout: DefaultTimeout}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Endpoint joins the base URL (DefaultURL when blank) and topic.
func Endpoint(baseURL, topic string) string {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = DefaultURL
	}
	return base + "/" + topic
}

// Publish sends msg and returns nil for any 2xx response.
func (c *Client) Publish(ctx context.Context, baseURL, topic string, msg Message) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := Endpoint(baseURL, topic)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(msg.Body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.Title != "" {
		req.Header.Set("Title", msg.Title)
	}
	if msg.Priority != "" {
		req.Header.Set("Priority", msg.Priority)
	}
	if len(msg.Tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.Tags, ","))
	}
	req.Header.Set(HeaderSessionID, msg.SessionID)
	req.Header.Set(HeaderStreamingID, msg.StreamingID)
	if msg.PermissionRequestID != "" {
		req.Header.Set(HeaderPermissionRequestID, msg.PermissionRequestID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s", ErrTimeout, c.timeout)
		}
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
