package routes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/settlement-engine/internal/refunds"
	pkgAuth "github.com/angelmondragon/settlement-engine/pkg/auth"
	"github.com/angelmondragon/settlement-engine/pkg/config"
	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	"github.com/angelmondragon/settlement-engine/pkg/logger"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error {
	return s.err
}

type stubWallet struct {
	balance decimal.Decimal
}

func (s stubWallet) GetBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	return s.balance, nil
}

func (s stubWallet) History(ctx context.Context, userID uuid.UUID, limit int) ([]models.WalletTransaction, error) {
	return nil, nil
}

// stubRefunds embeds the interface so only the methods a test calls need bodies.
type stubRefunds struct {
	refunds.Service
	refunded []uuid.UUID
}

func (s *stubRefunds) RefundOrder(ctx context.Context, orderID, adminID uuid.UUID) (*refunds.Result, error) {
	s.refunded = append(s.refunded, orderID)
	return &refunds.Result{OrderID: orderID, Amount: decimal.RequireFromString("12.50"), Status: enums.PaymentStatusRefunded}, nil
}

type memoryRedis struct {
	mu     sync.Mutex
	data   map[string]string
	counts map[string]int64
}

func newMemoryRedis() *memoryRedis {
	return &memoryRedis{data: map[string]string{}, counts: map[string]int64{}}
}

func (m *memoryRedis) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (m *memoryRedis) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = fmt.Sprint(value)
	return true, nil
}

func (m *memoryRedis) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = fmt.Sprint(value)
	return nil
}

func (m *memoryRedis) IdempotencyKey(scope, id string) string {
	return "idem:" + scope + ":" + id
}

func (m *memoryRedis) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *memoryRedis) IncrWithTTL(_ context.Context, key string, _ time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[key]++
	return m.counts[key], nil
}

func (m *memoryRedis) Ping(context.Context) error {
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "dev"},
		JWT: config.JWTConfig{Secret: "secret", Issuer: "settlement", ExpirationMinutes: 30},
		HTTP: config.HTTPConfig{
			RateLimitWindow:    time.Minute,
			RateLimitIPLimit:   100,
			RateLimitUserLimit: 100,
		},
	}
}

func bearer(t *testing.T, cfg *config.Config, role enums.UserRole) (string, uuid.UUID) {
	t.Helper()
	userID := uuid.New()
	keys, err := pkgAuth.NewKeyring(cfg.JWT)
	if err != nil {
		t.Fatalf("keyring: %v", err)
	}
	token, err := keys.Mint(time.Now(), pkgAuth.AccessTokenPayload{UserID: userID, Role: role, JTI: uuid.NewString()})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return "Bearer " + token, userID
}

func TestHealthRoutes(t *testing.T) {
	cfg := testConfig()
	router := NewRouter(cfg, logger.Nop(), Dependencies{DB: stubPinger{}, Redis: newMemoryRedis()})

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected live 200, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected ready 200, got %d", resp.Code)
	}
}

func TestReadyFailsWhenDatabaseDown(t *testing.T) {
	cfg := testConfig()
	router := NewRouter(cfg, logger.Nop(), Dependencies{DB: stubPinger{err: fmt.Errorf("down")}})

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.Code)
	}
}

func TestShopperRoutesRequireAuth(t *testing.T) {
	cfg := testConfig()
	router := NewRouter(cfg, logger.Nop(), Dependencies{Wallet: stubWallet{}})

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/wallet", nil))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestWalletBalanceForShopper(t *testing.T) {
	cfg := testConfig()
	router := NewRouter(cfg, logger.Nop(), Dependencies{Wallet: stubWallet{balance: decimal.RequireFromString("42.10")}})
	auth, userID := bearer(t, cfg, enums.UserRoleShopper)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/wallet", nil)
	req.Header.Set("Authorization", auth)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", resp.Code, resp.Body.String())
	}

	var body struct {
		Data struct {
			UserID  string `json:"user_id"`
			Balance string `json:"balance"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Data.UserID != userID.String() || body.Data.Balance != "42.1" {
		t.Fatalf("unexpected body %+v", body.Data)
	}
}

func TestAdminRoutesRejectShoppers(t *testing.T) {
	cfg := testConfig()
	router := NewRouter(cfg, logger.Nop(), Dependencies{Refunds: &stubRefunds{}})
	auth, _ := bearer(t, cfg, enums.UserRoleShopper)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/v1/refund-requests", nil)
	req.Header.Set("Authorization", auth)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}
}

func TestAdminRefundRequiresIdempotencyKeyAndReplays(t *testing.T) {
	cfg := testConfig()
	refundSvc := &stubRefunds{}
	router := NewRouter(cfg, logger.Nop(), Dependencies{Refunds: refundSvc, Redis: newMemoryRedis()})
	auth, _ := bearer(t, cfg, enums.UserRoleAdmin)
	orderID := uuid.New()
	path := "/api/admin/v1/orders/" + orderID.String() + "/refund"

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{}`))
	req.Header.Set("Authorization", auth)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without idempotency key, got %d", resp.Code)
	}

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{}`))
		req.Header.Set("Authorization", auth)
		req.Header.Set("Idempotency-Key", "refund-1")
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		if resp.Code != http.StatusOK {
			t.Fatalf("attempt %d: expected 200, got %d (%s)", i, resp.Code, resp.Body.String())
		}
	}
	if len(refundSvc.refunded) != 1 || refundSvc.refunded[0] != orderID {
		t.Fatalf("expected a single refund call, got %v", refundSvc.refunded)
	}
}

type stubWebhookService struct{}

func (stubWebhookService) HandleEvent(context.Context, *stripe.Event) error {
	return nil
}

type stubVerifier struct{}

func (stubVerifier) ConstructEvent(payload []byte, signature string) (stripe.Event, error) {
	return stripe.Event{ID: "evt_1"}, nil
}

type stubGuard struct{}

func (stubGuard) Claim(context.Context, string) (bool, error)    { return true, nil }
func (stubGuard) InFlight(context.Context, string) (bool, error) { return false, nil }
func (stubGuard) Complete(context.Context, string) error         { return nil }
func (stubGuard) Release(context.Context, string) error          { return nil }

func TestStripeWebhookIsPublicWhenConfigured(t *testing.T) {
	cfg := testConfig()
	router := NewRouter(cfg, logger.Nop(), Dependencies{
		StripeWebhook:      stubWebhookService{},
		StripeVerifier:     stubVerifier{},
		StripeWebhookGuard: stubGuard{},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", strings.NewReader(`{}`))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing signature, got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", strings.NewReader(`{}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=sig")
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 without bearer token, got %d (%s)", resp.Code, resp.Body.String())
	}
}
