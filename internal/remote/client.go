package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mesapos/mesaposgo/internal/config"
	"github.com/mesapos/mesaposgo/internal/models"
)

// Client talks to the cloud store's data API. Transport-level errors and 5xx
// responses surface as Go errors (transient, retried with backoff by the
// caller); every application-level verdict comes back as a MutationResponse.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     *tokenSource
	terminalID string
}

// NewClient creates a data API client for one terminal
func NewClient(cfg config.RemoteConfig, terminalID, businessID string) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSec) * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 90 * time.Second,
			},
		},
		tokens:     newTokenSource(cfg.APISecret, terminalID, businessID),
		terminalID: terminalID,
	}
}

// PushMutation submits one mutation tagged with its idempotency key
func (c *Client) PushMutation(ctx context.Context, req MutationRequest) (*MutationResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal mutation: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/data/mutations", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("X-Idempotency-Key", req.IdempotencyKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("mutation request failed: %w", err)
	}
	defer resp.Body.Close()

	// 409 carries a conflict body, 422 a rejection body; both are
	// application verdicts, not transport failures
	switch {
	case resp.StatusCode == http.StatusOK,
		resp.StatusCode == http.StatusConflict,
		resp.StatusCode == http.StatusUnprocessableEntity:
		var out MutationResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("failed to decode mutation response: %w", err)
		}
		return &out, nil
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("mutation endpoint returned HTTP %d: %s", resp.StatusCode, string(body))
	}
}

// PullChanges fetches remote deltas for one entity type after the cursor
func (c *Client) PullChanges(ctx context.Context, businessID string, entityType models.EntityType, since int64, limit int) (*ChangesResponse, error) {
	q := url.Values{}
	q.Set("business_id", businessID)
	q.Set("entity_type", string(entityType))
	q.Set("since", strconv.FormatInt(since, 10))
	q.Set("limit", strconv.Itoa(limit))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/data/changes?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("pull request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("pull endpoint returned HTTP %d: %s", resp.StatusCode, string(body))
	}

	var out ChangesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode pull response: %w", err)
	}
	return &out, nil
}

// Health probes the data API's health endpoint
func (c *Client) Health(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health endpoint returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Terminal-ID", c.terminalID)
	if token, err := c.tokens.Token(); err == nil {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}
