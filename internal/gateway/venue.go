// Package gateway submits orders to the trading venue. The venue client
// speaks the REST API directly; Retrying wraps any gateway with bounded
// backoff; Paper simulates fills for dry runs.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/driftline/riskbot/internal/crypto"
	"github.com/driftline/riskbot/internal/domain"
)

// VenueClient is the REST client for the venue's order API. Requests are
// HMAC-signed.
type VenueClient struct {
	baseURL    string
	auth       *crypto.HMACAuth
	httpClient *http.Client
}

// NewVenueClient creates a venue order client.
func NewVenueClient(baseURL string, auth *crypto.HMACAuth, timeout time.Duration) *VenueClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &VenueClient{
		baseURL:    baseURL,
		auth:       auth,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type orderPayload struct {
	ClientID   string  `json:"client_id"`
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Size       float64 `json:"size"`
	Price      float64 `json:"price"`
	Leverage   float64 `json:"leverage"`
	ReduceOnly bool    `json:"reduce_only"`
}

type orderResponse struct {
	OrderID     string  `json:"order_id"`
	Status      string  `json:"status"`
	FilledPrice float64 `json:"filled_price"`
	FilledSize  float64 `json:"filled_size"`
	FeeUSD      float64 `json:"fee_usd"`
	Message     string  `json:"message"`
}

// Submit sends the order and maps the venue response onto an explicit
// outcome. Transport failures and 5xx responses are transient; 4xx
// responses are rejections. Submit itself only errors on encode
// failures.
func (c *VenueClient) Submit(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	if req.Symbol == "" || req.Size <= 0 {
		return domain.OrderResult{}, fmt.Errorf("gateway: %w: symbol %q size %v", domain.ErrInvalidOrder, req.Symbol, req.Size)
	}

	payload := orderPayload{
		ClientID:   req.ClientID,
		Symbol:     req.Symbol,
		Side:       string(req.Side),
		Size:       req.Size,
		Price:      req.Price,
		Leverage:   req.Leverage,
		ReduceOnly: req.ReduceOnly,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("gateway: marshal order: %w", err)
	}

	const path = "/api/v1/orders"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("gateway: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range c.auth.Headers(http.MethodPost, path, string(body)) {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return domain.OrderResult{
			Outcome: domain.OrderOutcomeTransient,
			Message: fmt.Sprintf("transport: %v", err),
		}, nil
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.OrderResult{
			Outcome: domain.OrderOutcomeTransient,
			Message: fmt.Sprintf("read response: %v", err),
		}, nil
	}

	return mapResponse(resp.StatusCode, respBody), nil
}

// mapResponse classifies a venue HTTP response into an order outcome.
// An accepted order must carry a non-empty order id; anything else is a
// rejection even on HTTP 200.
func mapResponse(status int, body []byte) domain.OrderResult {
	var parsed orderResponse
	// Tolerate non-JSON error bodies; classification then rests on the
	// status code alone.
	_ = json.Unmarshal(body, &parsed)

	switch {
	case status == http.StatusNotFound:
		return domain.OrderResult{
			Outcome: domain.OrderOutcomeNotFound,
			Message: nonEmpty(parsed.Message, "order target not found"),
		}
	case status == http.StatusTooManyRequests || status >= 500:
		return domain.OrderResult{
			Outcome: domain.OrderOutcomeTransient,
			Message: nonEmpty(parsed.Message, fmt.Sprintf("venue status %d", status)),
		}
	case status >= 400:
		return domain.OrderResult{
			Outcome: domain.OrderOutcomeRejected,
			Message: nonEmpty(parsed.Message, fmt.Sprintf("venue status %d", status)),
		}
	}

	if parsed.OrderID == "" {
		return domain.OrderResult{
			Outcome: domain.OrderOutcomeRejected,
			Message: nonEmpty(parsed.Message, "missing order id in accepted response"),
		}
	}
	switch parsed.Status {
	case "filled", "accepted", "":
		return domain.OrderResult{
			Outcome:     domain.OrderOutcomeOk,
			OrderID:     parsed.OrderID,
			FilledPrice: parsed.FilledPrice,
			FilledSize:  parsed.FilledSize,
			FeeUSD:      parsed.FeeUSD,
		}
	default:
		return domain.OrderResult{
			Outcome: domain.OrderOutcomeRejected,
			OrderID: parsed.OrderID,
			Message: nonEmpty(parsed.Message, "unexpected order status "+parsed.Status),
		}
	}
}

func nonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}

// Compile-time interface check.
var _ domain.OrderGateway = (*VenueClient)(nil)
