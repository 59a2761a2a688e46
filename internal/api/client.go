package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"table-client/internal/auth"
)

const (
	StatusOk       = "Ok"
	defaultTimeout = 5 * time.Second
)

var ErrMissingBaseURL = errors.New("missing_api_base_url")

// Client talks to the platform REST API. Every response is wrapped in a
// {Status, Data} envelope; anything but StatusOk is an application error.
type Client struct {
	base  string
	inner *http.Client
	creds *credentials
}

type credentials struct {
	mu   sync.RWMutex
	auth auth.Context
}

type envelope struct {
	Status string          `json:"Status"`
	Data   json.RawMessage `json:"Data"`
}

func NewClient(baseURL string, timeout time.Duration, a auth.Context) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, ErrMissingBaseURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{base: baseURL, inner: &http.Client{Timeout: timeout}, creds: &credentials{auth: a}}, nil
}

// WithAuth returns a client that sends a different credential. The receiver
// is left untouched.
func (c *Client) WithAuth(a auth.Context) *Client {
	cp := *c
	cp.creds = &credentials{auth: a}
	return &cp
}

// SetAuth rotates the credential used by every later request.
func (c *Client) SetAuth(a auth.Context) {
	c.creds.mu.Lock()
	c.creds.auth = a
	c.creds.mu.Unlock()
}

func (c *Client) Auth() auth.Context {
	c.creds.mu.RLock()
	defer c.creds.mu.RUnlock()
	return c.creds.auth
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if h := c.Auth().Authorization(); h != "" {
		req.Header.Set("Authorization", h)
	}

	start := time.Now()
	metricRequestsTotal.Add(1)
	resp, err := c.inner.Do(req)
	if err != nil {
		metricRequestErrors.Add(1)
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		metricRequestErrors.Add(1)
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("api_request")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metricRequestErrors.Add(1)
		return &HTTPError{Method: method, Path: path, Code: resp.StatusCode, Body: string(raw)}
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		metricRequestErrors.Add(1)
		return fmt.Errorf("%s %s: decode envelope: %w", method, path, err)
	}
	if env.Status != StatusOk {
		metricStatusErrors.Add(1)
		return &StatusError{Method: method, Path: path, Status: env.Status}
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%s %s: decode data: %w", method, path, err)
	}
	return nil
}
