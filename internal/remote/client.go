// Package remote is the only code that talks to the billing backend.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tallybill/internal/domain"
)

const DefaultTimeout = 30 * time.Second

// maxErrorBody bounds how much of a failed response ends up in an error.
const maxErrorBody = 512

type Client struct {
	endpoint   string
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.httpClient = client }
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// NewClient returns a gateway for the backend at endpoint, e.g. a deployed
// sheet script URL or http://127.0.0.1:8080/exec.
func NewClient(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint:   strings.TrimSpace(endpoint),
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Endpoint() string { return c.endpoint }

func (c *Client) FetchInventory(ctx context.Context) ([]domain.Product, error) {
	return fetchSnapshot[domain.Product](ctx, c, "getInventory")
}

func (c *Client) FetchBills(ctx context.Context) ([]domain.Bill, error) {
	return fetchSnapshot[domain.Bill](ctx, c, "getBills")
}

// Send posts one action. Any 2xx counts as applied; the body is not parsed.
func (c *Client) Send(ctx context.Context, action domain.Action, requestID string) error {
	op := "send " + string(action.Name())
	body, err := domain.EncodeAction(action, requestID)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	// text/plain keeps sheet script endpoints from requiring a CORS preflight.
	req.Header.Set("Content-Type", "text/plain;charset=utf-8")

	_, err = c.do(req, op)
	return err
}

// Ping reports whether the backend answers at all. Any HTTP response counts.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.actionURL("ping"), nil)
	if err != nil {
		return &NetworkError{Op: "ping", Err: err}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Op: "ping", Err: err}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	return nil
}

func fetchSnapshot[T any](ctx context.Context, c *Client, action string) ([]T, error) {
	op := "fetch " + action
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.actionURL(action), nil)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}
	data, err := c.do(req, op)
	if err != nil {
		return nil, err
	}

	var out []T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &NetworkError{Op: op, Err: fmt.Errorf("unexpected snapshot body: %w", err)}
	}
	if out == nil {
		return nil, &NetworkError{Op: op, Err: errors.New("snapshot is not an array")}
	}
	return out, nil
}

func (c *Client) do(req *http.Request, op string) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: fmt.Errorf("read body: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if len(data) > maxErrorBody {
			data = data[:maxErrorBody]
		}
		return nil, &NetworkError{Op: op, StatusCode: resp.StatusCode, Err: errors.New(strings.TrimSpace(string(data)))}
	}
	return data, nil
}

func (c *Client) actionURL(action string) string {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return c.endpoint + "?action=" + url.QueryEscape(action)
	}
	q := u.Query()
	q.Set("action", action)
	u.RawQuery = q.Encode()
	return u.String()
}
