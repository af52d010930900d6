package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Token is one row of the server's token rule table.
type Token struct {
	Symbol         string            `json:"symbol"`
	Decimals       int               `json:"decimals"`
	MinTransfer    string            `json:"min_transfer"`
	Fee            string            `json:"fee"`
	AddressScheme  string            `json:"address_scheme"`
	FeeMultipliers map[string]string `json:"fee_multipliers,omitempty"`
}

// Result is a validation verdict.
type Result struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Transaction is a ledger record. Amount is in smallest units.
type Transaction struct {
	ID            uint64    `json:"id"`
	Kind          string    `json:"kind"`
	Token         string    `json:"token"`
	Amount        string    `json:"amount"`
	AmountDisplay string    `json:"amount_display"`
	From          string    `json:"from"`
	To            string    `json:"to"`
	Status        string    `json:"status"`
	Timestamp     int64     `json:"timestamp"`
	Time          time.Time `json:"time"`
	BlockIndex    *string   `json:"block_index,omitempty"`
}

// Criteria filters history. Empty fields match everything.
type Criteria struct {
	Kind   string `json:"kind,omitempty"`
	Token  string `json:"token,omitempty"`
	Status string `json:"status,omitempty"`
	Search string `json:"search,omitempty"`
}

func (c Criteria) values() url.Values {
	v := url.Values{}
	if c.Kind != "" {
		v.Set("kind", c.Kind)
	}
	if c.Token != "" {
		v.Set("token", c.Token)
	}
	if c.Status != "" {
		v.Set("status", c.Status)
	}
	if c.Search != "" {
		v.Set("q", c.Search)
	}
	return v
}

// Summary counts records by status.
type Summary struct {
	Total     int `json:"total"`
	Confirmed int `json:"confirmed"`
	Pending   int `json:"pending"`
	Failed    int `json:"failed"`
}

// Page is one page of filtered history.
type Page struct {
	Items      []Transaction `json:"items"`
	Page       int           `json:"page"`
	PageSize   int           `json:"page_size"`
	TotalPages int           `json:"total_pages"`
	Filtered   int           `json:"filtered"`
	Stats      Summary       `json:"stats"`
}

// TokenTotal is the confirmed flow for one token.
type TokenTotal struct {
	Token          string `json:"token"`
	Inflow         string `json:"inflow"`
	Outflow        string `json:"outflow"`
	Net            string `json:"net"`
	InflowDisplay  string `json:"inflow_display"`
	OutflowDisplay string `json:"outflow_display"`
	NetDisplay     string `json:"net_display"`
}

// Stats is the response of the stats endpoint.
type Stats struct {
	Criteria Criteria     `json:"criteria"`
	Summary  Summary      `json:"summary"`
	Totals   []TokenTotal `json:"totals"`
}

// TransferRequest asks the server to validate and submit a transfer.
// Balance is only read for DEPOSIT; the server checks transfers and
// withdrawals against the ledger balance of From. Resending the same
// RequestID after a failure never creates a second transfer.
type TransferRequest struct {
	Token     string `json:"token"`
	To        string `json:"to"`
	Amount    string `json:"amount"`
	Balance   string `json:"balance,omitempty"`
	Operation string `json:"operation"`
	From      string `json:"from,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// SubmitResult is the server's answer to a transfer. Transaction is nil
// when Result is not valid.
type SubmitResult struct {
	Result      Result       `json:"result"`
	Transaction *Transaction `json:"transaction,omitempty"`
}

// SyncResult reports what a sync changed.
type SyncResult struct {
	Fetched  int `json:"fetched"`
	Appended int `json:"appended"`
	Replaced int `json:"replaced"`
	Skipped  int `json:"skipped"`
}

// Event is a ledger change delivered over the stream endpoint.
type Event struct {
	Type        string    `json:"type"`
	ID          uint64    `json:"id"`
	Kind        string    `json:"kind"`
	Token       string    `json:"token"`
	Status      string    `json:"status"`
	Amount      string    `json:"amount"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	TimestampNS int64     `json:"timestamp_ns"`
	BlockIndex  *string   `json:"block_index,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// ErrStreamClosed is returned by Await when the server ends the stream
// before a matching event arrives.
var ErrStreamClosed = errors.New("stream closed")

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
}

// Client is the HTTP client for the ledgerwallet service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new ledgerwallet service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// do sends a request and decodes a JSON answer into out. Any status in
// accept is treated as success; out may be nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}, accept ...int) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if len(accept) == 0 {
		accept = []int{http.StatusOK}
	}
	ok := false
	for _, code := range accept {
		if resp.StatusCode == code {
			ok = true
			break
		}
	}
	if !ok {
		return c.parseErrorResponse(resp)
	}

	c.logger.Debug("request completed", "method", method, "path", path, "status", resp.StatusCode)
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// ListTokens returns the token rule table.
func (c *Client) ListTokens(ctx context.Context) ([]Token, error) {
	var response struct {
		Tokens []Token `json:"tokens"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/tokens", nil, nil, &response); err != nil {
		return nil, err
	}
	return response.Tokens, nil
}

// ValidateAddress asks whether address can receive token.
func (c *Client) ValidateAddress(ctx context.Context, address, token string) (Result, error) {
	var res Result
	err := c.do(ctx, http.MethodPost, "/api/v1/validate/address", nil, map[string]string{
		"address": address,
		"token":   token,
	}, &res)
	return res, err
}

// ValidateAmount checks a decimal amount against a decimal balance.
func (c *Client) ValidateAmount(ctx context.Context, amount, balance, token, operation string, includesFees bool) (Result, error) {
	var res Result
	err := c.do(ctx, http.MethodPost, "/api/v1/validate/amount", nil, map[string]interface{}{
		"amount":        amount,
		"balance":       balance,
		"token":         token,
		"operation":     operation,
		"includes_fees": includesFees,
	}, &res)
	return res, err
}

// MaxAvailable returns the largest amount of token that balance can send.
func (c *Client) MaxAvailable(ctx context.Context, balance, token, operation string) (string, error) {
	q := url.Values{}
	q.Set("balance", balance)
	q.Set("token", token)
	if operation != "" {
		q.Set("operation", operation)
	}
	var response struct {
		MaxAvailable string `json:"max_available"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/max-available", q, nil, &response); err != nil {
		return "", err
	}
	return response.MaxAvailable, nil
}

// SubmitTransfer validates and submits a transfer. A rejected request is
// not an error: the verdict is in the returned Result.
func (c *Client) SubmitTransfer(ctx context.Context, req TransferRequest) (*SubmitResult, error) {
	var res SubmitResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/transfers", nil, req, &res, http.StatusCreated, http.StatusUnprocessableEntity); err != nil {
		return nil, err
	}
	c.logger.Debug("transfer submitted", "token", req.Token, "valid", res.Result.Valid)
	return &res, nil
}

// ListTransactions returns one page of filtered history. Zero page or
// pageSize leaves the server default.
func (c *Client) ListTransactions(ctx context.Context, criteria Criteria, page, pageSize int) (*Page, error) {
	q := criteria.values()
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if pageSize > 0 {
		q.Set("page_size", strconv.Itoa(pageSize))
	}
	var out Page
	if err := c.do(ctx, http.MethodGet, "/api/v1/transactions", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Recent returns the newest records, newest first.
func (c *Client) Recent(ctx context.Context, limit int) ([]Transaction, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var response struct {
		Transactions []Transaction `json:"transactions"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/transactions/recent", q, nil, &response); err != nil {
		return nil, err
	}
	return response.Transactions, nil
}

// Stats returns status counts and per-token totals for criteria.
func (c *Client) Stats(ctx context.Context, criteria Criteria) (*Stats, error) {
	var out Stats
	if err := c.do(ctx, http.MethodGet, "/api/v1/transactions/stats", criteria.values(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetTransaction retrieves one record.
func (c *Client) GetTransaction(ctx context.Context, id uint64) (*Transaction, error) {
	var out Transaction
	path := "/api/v1/transactions/" + strconv.FormatUint(id, 10)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Settle moves a pending record to confirmed or failed.
func (c *Client) Settle(ctx context.Context, id uint64, status, blockIndex string) (*Transaction, error) {
	var out Transaction
	path := "/api/v1/transactions/" + strconv.FormatUint(id, 10) + "/settle"
	err := c.do(ctx, http.MethodPost, path, nil, map[string]string{
		"status":      status,
		"block_index": blockIndex,
	}, &out)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("transaction settled", "id", id, "status", status)
	return &out, nil
}

// Sync asks the server to merge its backend history into the ledger.
func (c *Client) Sync(ctx context.Context) (*SyncResult, error) {
	var out SyncResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/sync", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Stream delivers ledger events for token (every token when empty) to fn
// until ctx is done, the server closes the stream, or fn returns an error.
// The connected handshake and keepalives are not passed to fn.
func (c *Client) Stream(ctx context.Context, token string, fn func(Event) error) error {
	u := c.baseURL + "/api/v1/stream/transactions"
	if token != "" {
		u += "/" + url.PathEscape(token)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// streams are long-lived; the caller's context bounds them instead of
	// the client timeout
	streamClient := *c.httpClient
	streamClient.Timeout = 0

	resp, err := streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	var eventName, data string
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if data != "" && eventName != "connected" && eventName != "error" {
				var event Event
				if err := json.Unmarshal([]byte(data), &event); err != nil {
					c.logger.Warn("failed to decode stream event", "event", eventName, "error", err)
				} else if err := fn(event); err != nil {
					return err
				}
			}
			eventName, data = "", ""
			continue
		}
		switch {
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("error reading stream: %w", err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

var errMatched = errors.New("matched")

// Await blocks until an event for token satisfies match and returns it.
func (c *Client) Await(ctx context.Context, token string, match func(Event) bool) (*Event, error) {
	var found *Event
	err := c.Stream(ctx, token, func(e Event) error {
		if match(e) {
			found = &e
			return errMatched
		}
		return nil
	})
	if errors.Is(err, errMatched) {
		return found, nil
	}
	if err != nil {
		return nil, err
	}
	return nil, ErrStreamClosed
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
}
