package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/summit-chronicles/summit_api/shared"
)

func newTestAdmission(t *testing.T, clock *testClock) *AdmissionService {
	t.Helper()

	filter := newTestFilter(t)
	svc := &AdmissionService{
		abuseSvc:         newTestTracker(clock),
		limiterSvc:       newTestLimiter(clock),
		filterSvc:        filter,
		classifier:       filter,
		trustProxyHeader: true,
	}
	return svc
}

func TestAdmissionAllowsLegitimateRequest(t *testing.T) {
	clock := newTestClock()
	svc := newTestAdmission(t, clock)

	result := svc.CheckAdmission(context.Background(), "1.2.3.4",
		"Tell me about acclimatization schedules on Everest", shared.OpAskAI)

	assert.True(t, result.Allowed)
	assert.Empty(t, result.Reason)
	require.NotNil(t, result.Filter)
	assert.False(t, result.Filter.IsIrrelevant)
	require.NotNil(t, result.RateLimit)
	assert.Equal(t, 9, result.RateLimit.Remaining)
}

func TestAdmissionDeniesOverBudget(t *testing.T) {
	clock := newTestClock()
	svc := newTestAdmission(t, clock)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		result := svc.CheckAdmission(ctx, "1.2.3.4", "How do I train for Denali?", shared.OpAskAI)
		require.True(t, result.Allowed, "request %d should pass", i+1)
	}

	result := svc.CheckAdmission(ctx, "1.2.3.4", "How do I train for Denali?", shared.OpAskAI)
	assert.False(t, result.Allowed)
	assert.Contains(t, result.Reason, shared.OpAskAI)

	// The denial itself counts as a violation
	stats := svc.abuseSvc.GetStats()
	assert.Equal(t, int64(1), stats.TotalViolations)
}

func TestAdmissionDeniesFilteredContent(t *testing.T) {
	clock := newTestClock()
	svc := newTestAdmission(t, clock)
	ctx := context.Background()

	result := svc.CheckAdmission(ctx, "1.2.3.4", "Buy cheap crypto, click www.scam.example", shared.OpAskAI)
	assert.False(t, result.Allowed)
	assert.Contains(t, result.Reason, "Content filtered")
	assert.Contains(t, result.Reason, "spam")

	result = svc.CheckAdmission(ctx, "5.6.7.8", "you are a stupid idiot", shared.OpAskAI)
	assert.False(t, result.Allowed)
	assert.Contains(t, result.Reason, "toxicity")
}

func TestAdmissionAdmitsIrrelevantContent(t *testing.T) {
	clock := newTestClock()
	svc := newTestAdmission(t, clock)

	result := svc.CheckAdmission(context.Background(), "1.2.3.4",
		"Share your favorite cooking recipes with me", shared.OpAskAI)

	assert.True(t, result.Allowed, "off-topic alone is not grounds for denial")
	require.NotNil(t, result.Filter)
	assert.True(t, result.Filter.IsIrrelevant)
}

func TestAdmissionBlockedAddressShortCircuits(t *testing.T) {
	clock := newTestClock()
	svc := newTestAdmission(t, clock)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		svc.abuseSvc.RecordViolation("1.2.3.4", shared.ViolationSpam)
	}

	result := svc.CheckAdmission(ctx, "1.2.3.4", "How do I train for Denali?", shared.OpAskAI)
	assert.False(t, result.Allowed)
	assert.Contains(t, result.Reason, "blocked")

	// A blocked address must not consume any budget
	allowed, info, err := svc.limiterSvc.Consume(ctx, "1.2.3.4", shared.OpAskAI)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 9, info.Remaining)
}

type erroringStore struct{}

func (erroringStore) Consume(context.Context, string, string, *RateLimitConfig, time.Time) (*BucketDecision, error) {
	return nil, errors.New("store unavailable")
}

func (erroringStore) Reset(context.Context, string) error {
	return nil
}

func TestAdmissionFailsOpenOnStoreError(t *testing.T) {
	clock := newTestClock()
	svc := newTestAdmission(t, clock)
	svc.limiterSvc.store = erroringStore{}

	result := svc.CheckAdmission(context.Background(), "1.2.3.4",
		"How do I train for Denali?", shared.OpAskAI)
	assert.True(t, result.Allowed)
}

// ==================== MIDDLEWARE ====================

func protectedApp(svc *AdmissionService) *fiber.App {
	app := fiber.New()
	app.Post("/ask", svc.Protect(shared.OpAskAI), func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	return app
}

func askRequest(body, sourceIP string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/ask", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", sourceIP)
	return req
}

func TestProtectMiddleware(t *testing.T) {
	clock := newTestClock()
	svc := newTestAdmission(t, clock)
	app := protectedApp(svc)

	body := `{"question": "How do I train for Denali?"}`

	for i := 0; i < 10; i++ {
		resp, err := app.Test(askRequest(body, "1.2.3.4"))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode, "request %d", i+1)
		assert.NotEmpty(t, resp.Header.Get("X-RateLimit-Remaining"))
	}

	resp, err := app.Test(askRequest(body, "1.2.3.4"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(payload), "retry_after")

	// Another address is unaffected
	resp, err = app.Test(askRequest(body, "5.6.7.8"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestProtectMiddlewareFiltersSpam(t *testing.T) {
	clock := newTestClock()
	svc := newTestAdmission(t, clock)
	app := protectedApp(svc)

	resp, err := app.Test(askRequest(`{"question": "Buy cheap crypto, click www.scam.example"}`, "1.2.3.4"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestResolveIdentifierIgnoresHeadersWhenUntrusted(t *testing.T) {
	clock := newTestClock()
	svc := newTestAdmission(t, clock)
	svc.trustProxyHeader = false

	app := fiber.New()
	var identifier string
	app.Get("/", func(c *fiber.Ctx) error {
		identifier = svc.resolveIdentifier(c)
		return c.SendString("ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "9.9.9.9")
	_, err := app.Test(req)
	require.NoError(t, err)
	assert.NotEqual(t, "9.9.9.9", identifier)
}
