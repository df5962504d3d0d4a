// Package client is a Go client for the SharedContext REST and WebSocket API.
package client

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

	"github.com/gorilla/websocket"

	"github.com/localrivet/sharedcontext/internal/contextstore"
	"github.com/localrivet/sharedcontext/internal/errortypes"
	"github.com/localrivet/sharedcontext/internal/service"
	"github.com/localrivet/sharedcontext/internal/subscription"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server returned %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client talks to a SharedContext server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	dialer     *websocket.Dialer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// New creates a client for the server at baseURL, e.g. "http://localhost:3000".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the server URL the client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errortypes.InternalError(err, "failed to encode request")
		}
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return errortypes.InternalError(err, "failed to build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errortypes.NetworkError(err, "request failed").
			WithField("method", method).
			WithField("path", path)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errortypes.NetworkError(err, "failed to read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var body struct {
			Code    string `json:"code"`
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		if json.Unmarshal(data, &body) == nil {
			apiErr.Code = body.Code
			switch {
			case body.Message != "":
				apiErr.Message = body.Message
			case body.Error != "":
				apiErr.Message = body.Error
			}
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errortypes.APIError(err, "failed to decode response")
	}
	return nil
}

func pageQuery(limit, offset int) url.Values {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	return q
}

func withQuery(path string, q url.Values) string {
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}

// ListContexts lists contexts, newest first.
func (c *Client) ListContexts(ctx context.Context, limit, offset int) (*service.ContextsPage, error) {
	var out service.ContextsPage
	if err := c.do(ctx, http.MethodGet, withQuery("/contexts", pageQuery(limit, offset)), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateContext creates a context with optional initial entries and readme.
func (c *Client) CreateContext(ctx context.Context, entries []string, readme *string) (*service.CreateResult, error) {
	type entry struct {
		Content string `json:"content"`
	}
	body := struct {
		Entries []entry `json:"entries,omitempty"`
		Readme  *string `json:"readme,omitempty"`
	}{Readme: readme}
	for _, e := range entries {
		body.Entries = append(body.Entries, entry{Content: e})
	}

	var out service.CreateResult
	if err := c.do(ctx, http.MethodPost, "/contexts", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetContext fetches a page of entries.
func (c *Client) GetContext(ctx context.Context, contextID string, order contextstore.Order, limit, offset int) (*service.EntriesPage, error) {
	q := pageQuery(limit, offset)
	if order != "" {
		q.Set("order", string(order))
	}

	var out service.EntriesPage
	path := withQuery("/contexts/"+url.PathEscape(contextID)+"/context", q)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetReadme returns the readme, or nil when unset.
func (c *Client) GetReadme(ctx context.Context, contextID string) (*string, error) {
	var out struct {
		Readme *string `json:"readme"`
	}
	if err := c.do(ctx, http.MethodGet, "/contexts/"+url.PathEscape(contextID)+"/readme", nil, &out); err != nil {
		return nil, err
	}
	return out.Readme, nil
}

// UpdateReadme replaces the readme.
func (c *Client) UpdateReadme(ctx context.Context, contextID, readme string) (bool, error) {
	var out struct {
		Success bool `json:"success"`
	}
	body := map[string]string{"readme": readme}
	if err := c.do(ctx, http.MethodPut, "/contexts/"+url.PathEscape(contextID)+"/readme", body, &out); err != nil {
		return false, err
	}
	return out.Success, nil
}

// AddEntry appends an entry.
func (c *Client) AddEntry(ctx context.Context, contextID, content string) (*service.EntryView, error) {
	var out service.EntryView
	body := map[string]string{"content": content}
	if err := c.do(ctx, http.MethodPost, "/contexts/"+url.PathEscape(contextID)+"/context", body, &out); err != nil {
		return nil, err
	}
	out.Content = content
	return &out, nil
}

// Subscribe streams updates for contextID to fn until ctx is done or the
// server closes the connection. A normal close or cancellation returns nil.
func (c *Client) Subscribe(ctx context.Context, contextID string, fn func(subscription.Message)) error {
	wsURL := c.baseURL
	switch {
	case strings.HasPrefix(wsURL, "https://"):
		wsURL = "wss://" + strings.TrimPrefix(wsURL, "https://")
	case strings.HasPrefix(wsURL, "http://"):
		wsURL = "ws://" + strings.TrimPrefix(wsURL, "http://")
	}
	wsURL += "/contexts/" + url.PathEscape(contextID) + "/subscribe"

	conn, resp, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return errortypes.NetworkError(err, "websocket dial failed").WithField("url", wsURL)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return errortypes.NetworkError(err, "subscription closed unexpectedly")
		}

		var msg subscription.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		fn(msg)
	}
}
