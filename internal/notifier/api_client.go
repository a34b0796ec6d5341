package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/evetabi/contract/internal/domain"
	"github.com/shopspring/decimal"
)

// APIClient talks to the public contract API on behalf of one user.
type APIClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewAPIClient creates a client for baseURL authenticating with a bearer token.
func NewAPIClient(baseURL, token string, timeout time.Duration) *APIClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// envelope mirrors the API's {success, data, error, code} response.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

// APIError is a non-success envelope returned by the server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s: %s", e.Status, e.Code, e.Message)
}

// SettleUser settles the caller's expired positions at price and returns how
// many were closed.
func (c *APIClient) SettleUser(ctx context.Context, symbol string, price decimal.Decimal) (int, error) {
	body, err := json.Marshal(map[string]any{"symbol": symbol, "currentPrice": price})
	if err != nil {
		return 0, fmt.Errorf("api_client.SettleUser: marshal: %w", err)
	}

	var out struct {
		Settled int `json:"settled"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/contract/settle-user", bytes.NewReader(body), &out); err != nil {
		return 0, fmt.Errorf("api_client.SettleUser: %w", err)
	}
	return out.Settled, nil
}

// ListClosed returns the caller's most recently closed positions.
func (c *APIClient) ListClosed(ctx context.Context, limit int) ([]domain.PositionResponse, error) {
	q := url.Values{}
	q.Set("status", string(domain.PositionClosed))
	q.Set("limit", strconv.Itoa(limit))

	var out []domain.PositionResponse
	if err := c.do(ctx, http.MethodGet, "/api/contract/positions?"+q.Encode(), nil, &out); err != nil {
		return nil, fmt.Errorf("api_client.ListClosed: %w", err)
	}
	return out, nil
}

func (c *APIClient) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&env); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	if !env.Success || resp.StatusCode >= 300 {
		return &APIError{Status: resp.StatusCode, Code: env.Code, Message: env.Error}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}
