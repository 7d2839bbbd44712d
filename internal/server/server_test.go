package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/faithly/walletd/internal/auth"
	"github.com/faithly/walletd/internal/config"
	"github.com/faithly/walletd/internal/payments"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubCheckout implements payments.CheckoutAPI for testing
type stubCheckout struct{}

func (s *stubCheckout) CreateSession(ctx context.Context, userID string, amountUSD, amountWC int64) (*payments.CheckoutSession, error) {
	return &payments.CheckoutSession{
		ID:       "cs_test_1",
		URL:      "https://checkout.stripe.com/test",
		UserID:   userID,
		AmountWC: amountWC,
	}, nil
}

func (s *stubCheckout) GetSession(ctx context.Context, sessionID string) (*payments.CheckoutSession, error) {
	return &payments.CheckoutSession{ID: sessionID}, nil
}

// testConfig returns a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:         "0",
		Env:          "development",
		LogLevel:     "error",
		JWTSecret:    "test-secret",
		AdminSecret:  "admin-secret",
		RateLimitRPM: 10000,
		StoreTimeout: 5 * time.Second,
	}
}

// newTestServer creates an in-memory server with a stub checkout backend
func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(testConfig(), WithCheckout(&stubCheckout{}))
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return s
}

func issueToken(t *testing.T, s *Server, userID, role string) string {
	t.Helper()
	token, err := s.authMgr.Issue(userID, role, time.Hour)
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}
	return token
}

func doJSON(s *Server, method, path, token, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	s.router.ServeHTTP(w, req)
	return w
}

// ---------------------------------------------------------------------------
// Health endpoint tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(s, "GET", "/health", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", resp["status"])
	}
}

func TestLivenessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(s, "GET", "/health/live", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

func TestReadinessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(s, "GET", "/health/ready", "", "")

	// Server hasn't called Run() so ready is false
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 (not ready), got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Route registration tests
// ---------------------------------------------------------------------------

func TestCoreRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	routes := s.router.Routes()
	expected := []string{
		"GET:/health",
		"GET:/health/live",
		"GET:/health/ready",
		"GET:/metrics",
		"GET:/ws",
		"POST:/webhooks/stripe",
		"POST:/v1/wallets",
		"GET:/v1/wallets/:userID",
		"GET:/v1/wallets/:userID/balance",
		"GET:/v1/wallets/:userID/transactions",
		"GET:/v1/wallets/:userID/escrow",
		"GET:/v1/wallets/:userID/escrow-balance",
		"GET:/v1/wallets/:userID/auto-topup",
		"PUT:/v1/wallets/:userID/auto-topup",
		"POST:/v1/wallets/:userID/webhooks",
		"GET:/v1/wallets/:userID/webhooks",
		"DELETE:/v1/wallets/:userID/webhooks/:webhookID",
		"POST:/v1/escrow/lock",
		"POST:/v1/escrow/release",
		"GET:/v1/escrow/bookings/:bookingID",
		"POST:/v1/payments/checkout",
		"GET:/v1/payments/checkout/:sessionID",
		"POST:/v1/admin/adjustments",
		"POST:/v1/admin/reconciliation/run",
	}

	routeSet := make(map[string]bool)
	for _, route := range routes {
		routeSet[route.Method+":"+route.Path] = true
	}

	for _, e := range expected {
		if !routeSet[e] {
			t.Errorf("Route %s not registered", e)
		}
	}
}

// ---------------------------------------------------------------------------
// Auth enforcement tests
// ---------------------------------------------------------------------------

func TestWalletRoutesRequireAuth(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(s, "GET", "/v1/wallets/user_1/balance", "", "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", w.Code)
	}
}

func TestWalletOwnershipEnforced(t *testing.T) {
	s := newTestServer(t)
	token := issueToken(t, s, "user_1", auth.RoleUser)

	// user_1 creates their own wallet
	w := doJSON(s, "POST", "/v1/wallets", token, `{"user_id":"user_1"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	// another user's balance is off limits
	w = doJSON(s, "GET", "/v1/wallets/user_2/balance", token, "")
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for foreign wallet, got %d", w.Code)
	}

	// support tokens may read any wallet
	support := issueToken(t, s, "agent_9", auth.RoleSupport)
	w = doJSON(s, "GET", "/v1/wallets/user_1/balance", support, "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 for support read, got %d: %s", w.Code, w.Body.String())
	}
}

// ---------------------------------------------------------------------------
// End-to-end balance flow
// ---------------------------------------------------------------------------

func TestAdjustmentAndBalanceFlow(t *testing.T) {
	s := newTestServer(t)
	token := issueToken(t, s, "user_1", auth.RoleUser)

	w := doJSON(s, "POST", "/v1/wallets", token, `{"user_id":"user_1"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	// admin credits via the adjustment endpoint (X-Admin-Secret header)
	body := `{"user_id":"user_1","type":"credit","amount_wc":250,"description":"manual grant"}`
	req := httptest.NewRequest("POST", "/v1/admin/adjustments", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Admin-Secret", "admin-secret")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated && rec.Code != http.StatusOK {
		t.Fatalf("Expected adjustment to succeed, got %d: %s", rec.Code, rec.Body.String())
	}

	w = doJSON(s, "GET", "/v1/wallets/user_1/balance", token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if bal, _ := resp["balance_wc"].(float64); int64(bal) != 250 {
		t.Errorf("Expected balance 250, got %v", resp["balance_wc"])
	}

	// history shows the single credit
	w = doJSON(s, "GET", "/v1/wallets/user_1/transactions", token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestAdminRoutesRejectUserTokens(t *testing.T) {
	s := newTestServer(t)
	token := issueToken(t, s, "user_1", auth.RoleUser)

	body := `{"user_id":"user_1","type":"credit","amount_wc":10,"description":"nope"}`
	w := doJSON(s, "POST", "/v1/admin/adjustments", token, body)
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for user token on admin route, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Checkout flow
// ---------------------------------------------------------------------------

func TestCheckoutEndpoint(t *testing.T) {
	s := newTestServer(t)
	token := issueToken(t, s, "user_1", auth.RoleUser)

	w := doJSON(s, "POST", "/v1/payments/checkout", token, `{"user_id":"user_1","amount_usd":25}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp["url"] == nil || resp["url"] == "" {
		t.Errorf("Expected a checkout URL in response: %v", resp)
	}

	// buying coins for someone else is rejected
	w = doJSON(s, "POST", "/v1/payments/checkout", token, `{"user_id":"user_2","amount_usd":25}`)
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for foreign checkout, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// 404 test
// ---------------------------------------------------------------------------

func TestNotFoundRoute(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(s, "GET", "/v1/nonexistent", "", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Request ID middleware
// ---------------------------------------------------------------------------

func TestRequestIDHeader(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(s, "GET", "/health", "", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("Expected X-Request-ID response header")
	}

	// client-provided IDs are echoed back
	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("X-Request-ID", "req-abc-123")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "req-abc-123" {
		t.Errorf("Expected echoed request ID, got %q", got)
	}
}
