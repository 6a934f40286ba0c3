package intentchain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the IntentChain REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// CompileRequest carries a natural language intent, or a template pinned by
// ID, to the compile endpoint.
type CompileRequest struct {
	NaturalLanguageInput string            `json:"natural_language_input,omitempty"`
	TemplateID           string            `json:"template_id,omitempty"`
	ActingAddress        string            `json:"acting_address"`
	DirectParameters     map[string]string `json:"direct_parameters,omitempty"`
	OperationLimit       int               `json:"operation_limit,omitempty"`
}

// SelectionOption is one choice offered back to the caller.
type SelectionOption struct {
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
}

// Selection asks the caller to pick a value for a parameter and replay.
type Selection struct {
	Field   string            `json:"field"`
	Options []SelectionOption `json:"options"`
}

// CompileResult is the compile endpoint response. When Status is "ready" the
// Plan field holds the assembled transaction plan; when it is "collecting"
// the caller should satisfy MissingFields or Selection and replay.
type CompileResult struct {
	Status        string          `json:"status"`
	Effects       []string        `json:"effects,omitempty"`
	Description   string          `json:"description,omitempty"`
	SyntheticID   string          `json:"synthetic_id,omitempty"`
	MissingFields []string        `json:"missing_fields,omitempty"`
	Selection     *Selection      `json:"selection,omitempty"`
	Plan          json.RawMessage `json:"plan,omitempty"`
}

// SubmitRequest enqueues a compiled plan for asynchronous broadcast.
type SubmitRequest struct {
	ID          string          `json:"id,omitempty"`
	Intent      string          `json:"intent,omitempty"`
	SyntheticID string          `json:"synthetic_id,omitempty"`
	Chain       string          `json:"chain,omitempty"`
	Address     string          `json:"address"`
	Plan        json.RawMessage `json:"plan"`
	Effects     []string        `json:"effects,omitempty"`
}

// ExecutionOutcome holds the on-chain result of a submission.
type ExecutionOutcome struct {
	Digest      string `json:"digest"`
	BlockNumber string `json:"block_number"`
	Chain       string `json:"chain"`
}

// ExecutionRecord mirrors the server side submission audit record.
type ExecutionRecord struct {
	ID          string            `json:"id"`
	Intent      string            `json:"intent"`
	SyntheticID string            `json:"synthetic_id"`
	Chain       string            `json:"chain"`
	Address     string            `json:"address"`
	Plan        json.RawMessage   `json:"plan"`
	Effects     []string          `json:"effects,omitempty"`
	Status      string            `json:"status"`
	Attempts    int               `json:"attempts"`
	MaxRetries  int               `json:"max_retries"`
	LastError   string            `json:"last_error,omitempty"`
	ErrorCode   string            `json:"error_code,omitempty"`
	Result      *ExecutionOutcome `json:"result,omitempty"`
	CreatedAt   int64             `json:"created_at"`
	UpdatedAt   int64             `json:"updated_at"`
}

// ListExecutionsOptions filters the execution listing endpoint.
type ListExecutionsOptions struct {
	Limit   int
	Offset  int
	Status  string
	Chain   string
	Address string
	Query   string
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int      `json:"-"`
	Code       string   `json:"code"`
	Message    string   `json:"message"`
	Missing    []string `json:"missing_fields,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("intentchain api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("intentchain api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the IntentChain API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) *Client {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		panic(fmt.Sprintf("invalid base url: %v", err))
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}
}

// Compile turns a natural language intent into a transaction plan.
func (c *Client) Compile(ctx context.Context, req CompileRequest) (CompileResult, error) {
	var result CompileResult
	if err := c.post(ctx, "/api/v1/compile", req, &result); err != nil {
		return CompileResult{}, err
	}
	return result, nil
}

// SubmitExecution enqueues a compiled plan for broadcast and returns the
// pending audit record.
func (c *Client) SubmitExecution(ctx context.Context, req SubmitRequest) (ExecutionRecord, error) {
	var record ExecutionRecord
	if err := c.post(ctx, "/api/v1/executions", req, &record); err != nil {
		return ExecutionRecord{}, err
	}
	return record, nil
}

// GetExecution fetches an execution record by identifier.
func (c *Client) GetExecution(ctx context.Context, id string) (ExecutionRecord, error) {
	var record ExecutionRecord
	if err := c.get(ctx, "/api/v1/executions/"+url.PathEscape(id), &record); err != nil {
		return ExecutionRecord{}, err
	}
	return record, nil
}

// ListExecutions returns execution records matching the filter options.
func (c *Client) ListExecutions(ctx context.Context, opts ListExecutionsOptions) ([]ExecutionRecord, error) {
	query := url.Values{}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		query.Set("offset", strconv.Itoa(opts.Offset))
	}
	if opts.Status != "" {
		query.Set("status", opts.Status)
	}
	if opts.Chain != "" {
		query.Set("chain", opts.Chain)
	}
	if opts.Address != "" {
		query.Set("address", opts.Address)
	}
	if opts.Query != "" {
		query.Set("q", opts.Query)
	}
	endpoint := "/api/v1/executions"
	if encoded := query.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	var records []ExecutionRecord
	if err := c.get(ctx, endpoint, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// WaitForExecution polls an execution record until it reaches a terminal
// status or the context is cancelled.
func (c *Client) WaitForExecution(ctx context.Context, id string, interval time.Duration) (ExecutionRecord, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		record, err := c.GetExecution(ctx, id)
		if err != nil {
			return ExecutionRecord{}, err
		}
		if record.Status == "succeeded" || record.Status == "failed" {
			return record, nil
		}
		select {
		case <-ctx.Done():
			return ExecutionRecord{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, parsed.Path), RawQuery: parsed.RawQuery}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr APIError
		apiErr.StatusCode = resp.StatusCode
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
