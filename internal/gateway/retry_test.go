package gateway

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftline/riskbot/internal/crypto"
	"github.com/driftline/riskbot/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type scriptedGateway struct {
	results []domain.OrderResult
	calls   int
}

func (s *scriptedGateway) Submit(context.Context, domain.OrderRequest) (domain.OrderResult, error) {
	res := s.results[s.calls]
	if s.calls < len(s.results)-1 {
		s.calls++
	}
	return res, nil
}

func orderReq() domain.OrderRequest {
	return domain.OrderRequest{
		ClientID: "client-1",
		Symbol:   "BTCUSD",
		Side:     domain.OrderSideBuy,
		Size:     1,
		Price:    100,
		Leverage: 3,
	}
}

func TestRetryingReturnsFirstTerminalOutcome(t *testing.T) {
	inner := &scriptedGateway{results: []domain.OrderResult{
		{Outcome: domain.OrderOutcomeOk, OrderID: "o-1"},
	}}
	g := NewRetrying(inner, 3, time.Millisecond, discardLogger())

	res, err := g.Submit(context.Background(), orderReq())
	require.NoError(t, err)
	assert.True(t, res.Ok())
	assert.Equal(t, 1, res.Attempts)
}

func TestRetryingDoesNotRetryRejection(t *testing.T) {
	inner := &scriptedGateway{results: []domain.OrderResult{
		{Outcome: domain.OrderOutcomeRejected, Message: "insufficient margin"},
	}}
	g := NewRetrying(inner, 3, time.Millisecond, discardLogger())

	res, err := g.Submit(context.Background(), orderReq())
	require.NoError(t, err)
	assert.Equal(t, domain.OrderOutcomeRejected, res.Outcome)
	assert.Equal(t, 1, res.Attempts)
}

func TestRetryingRecoversAfterTransient(t *testing.T) {
	inner := &scriptedGateway{results: []domain.OrderResult{
		{Outcome: domain.OrderOutcomeTransient, Message: "timeout"},
		{Outcome: domain.OrderOutcomeTransient, Message: "timeout"},
		{Outcome: domain.OrderOutcomeOk, OrderID: "o-2"},
	}}
	g := NewRetrying(inner, 3, time.Millisecond, discardLogger())

	res, err := g.Submit(context.Background(), orderReq())
	require.NoError(t, err)
	assert.True(t, res.Ok())
	assert.Equal(t, 3, res.Attempts)
}

func TestRetryingExhaustionIsFatal(t *testing.T) {
	inner := &scriptedGateway{results: []domain.OrderResult{
		{Outcome: domain.OrderOutcomeTransient, Message: "timeout"},
	}}
	g := NewRetrying(inner, 3, time.Millisecond, discardLogger())

	res, err := g.Submit(context.Background(), orderReq())
	require.NoError(t, err)
	assert.Equal(t, domain.OrderOutcomeFatal, res.Outcome)
	assert.Contains(t, res.Message, "retries exhausted")
}

func TestRetryingHonorsCancellation(t *testing.T) {
	inner := &scriptedGateway{results: []domain.OrderResult{
		{Outcome: domain.OrderOutcomeTransient, Message: "timeout"},
	}}
	g := NewRetrying(inner, 5, time.Hour, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	res, err := g.Submit(ctx, orderReq())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.OrderOutcomeFatal, res.Outcome)
}

func TestVenueClientMapsResponses(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   domain.OrderOutcome
	}{
		{"filled", http.StatusOK, `{"order_id":"o-1","status":"filled","filled_price":100.5}`, domain.OrderOutcomeOk},
		{"missing order id", http.StatusOK, `{"status":"filled"}`, domain.OrderOutcomeRejected},
		{"bad request", http.StatusBadRequest, `{"message":"size too small"}`, domain.OrderOutcomeRejected},
		{"not found", http.StatusNotFound, `{}`, domain.OrderOutcomeNotFound},
		{"rate limited", http.StatusTooManyRequests, `{}`, domain.OrderOutcomeTransient},
		{"server error", http.StatusBadGateway, `upstream down`, domain.OrderOutcomeTransient},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.NotEmpty(t, r.Header.Get("X-API-SIGNATURE"))
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c := NewVenueClient(srv.URL, &crypto.HMACAuth{Key: "k", Secret: "s"}, time.Second)
			res, err := c.Submit(context.Background(), orderReq())
			require.NoError(t, err)
			assert.Equal(t, tc.want, res.Outcome)
		})
	}
}

func TestVenueClientTransportFailureIsTransient(t *testing.T) {
	c := NewVenueClient("http://127.0.0.1:1", &crypto.HMACAuth{Key: "k", Secret: "s"}, 100*time.Millisecond)

	res, err := c.Submit(context.Background(), orderReq())
	require.NoError(t, err)
	assert.Equal(t, domain.OrderOutcomeTransient, res.Outcome)
}

func TestVenueClientValidatesRequest(t *testing.T) {
	c := NewVenueClient("http://localhost", &crypto.HMACAuth{}, time.Second)

	_, err := c.Submit(context.Background(), domain.OrderRequest{Symbol: "", Size: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
}

func TestPaperGatewayFills(t *testing.T) {
	p := NewPaper(discardLogger())

	res, err := p.Submit(context.Background(), orderReq())
	require.NoError(t, err)
	assert.True(t, res.Ok())
	assert.Equal(t, 100.0, res.FilledPrice)
	assert.NotEmpty(t, res.OrderID)
	assert.Equal(t, 1, p.FillCount())
}
