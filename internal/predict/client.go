// Package predict is the REST client for the model-serving collaborator:
// directional predictions, RL policy advice, and retrain requests.
package predict

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/driftline/riskbot/internal/domain"
)

// Client talks to the model server over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a model server client.
//
// baseURL is the API root, e.g. "http://localhost:8501".
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Predict returns the model's probability of an upward move for symbol
// given the recent indicator history.
func (c *Client) Predict(ctx context.Context, symbol string, history []domain.IndicatorSnapshot) (float64, error) {
	payload := struct {
		Symbol  string                     `json:"symbol"`
		History []domain.IndicatorSnapshot `json:"history"`
	}{Symbol: symbol, History: history}

	var resp struct {
		Prediction float64 `json:"prediction"`
	}
	if err := c.post(ctx, "/predict", payload, &resp); err != nil {
		return 0, fmt.Errorf("predict: predict %s: %w", symbol, err)
	}
	if resp.Prediction < 0 || resp.Prediction > 1 {
		return 0, fmt.Errorf("predict: prediction %v for %s out of [0,1]", resp.Prediction, symbol)
	}
	return resp.Prediction, nil
}

// Advise returns the RL policy's current advice for symbol.
func (c *Client) Advise(ctx context.Context, symbol string) (domain.PolicyAdvice, error) {
	path := "/advice?symbol=" + url.QueryEscape(symbol)

	var resp struct {
		Action     string  `json:"action"`
		Confidence float64 `json:"confidence"`
	}
	if err := c.get(ctx, path, &resp); err != nil {
		return domain.PolicyAdvice{}, fmt.Errorf("predict: advise %s: %w", symbol, err)
	}

	advice := domain.PolicyAdvice{Confidence: resp.Confidence, IssuedAt: time.Now()}
	switch resp.Action {
	case "long":
		advice.Action = domain.PolicyActionLong
	case "short":
		advice.Action = domain.PolicyActionShort
	default:
		advice.Action = domain.PolicyActionHold
	}
	return advice, nil
}

// RequestRetrain asks the model server to retrain. An empty symbol
// requests a retrain over all symbols.
func (c *Client) RequestRetrain(ctx context.Context, symbol string, sampleSize int) error {
	payload := struct {
		Symbol     string `json:"symbol,omitempty"`
		SampleSize int    `json:"sample_size"`
	}{Symbol: symbol, SampleSize: sampleSize}

	if err := c.post(ctx, "/retrain", payload, nil); err != nil {
		return fmt.Errorf("predict: request retrain: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode, truncate(data, 200))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// Compile-time interface check.
var _ domain.Predictor = (*Client)(nil)
