package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/settlement-engine/api/controllers"
	webhookcontrollers "github.com/angelmondragon/settlement-engine/api/controllers/webhooks"
	"github.com/angelmondragon/settlement-engine/api/middleware"
	"github.com/angelmondragon/settlement-engine/internal/orders"
	"github.com/angelmondragon/settlement-engine/internal/payments"
	"github.com/angelmondragon/settlement-engine/internal/refunds"
	"github.com/angelmondragon/settlement-engine/pkg/config"
	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	"github.com/angelmondragon/settlement-engine/pkg/logger"
)

type redisStore interface {
	middleware.ReplayStore
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Ping(ctx context.Context) error
}

type walletService interface {
	GetBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error)
	History(ctx context.Context, userID uuid.UUID, limit int) ([]models.WalletTransaction, error)
}

type statusStreamer interface {
	Stream(ctx context.Context, provider enums.PaymentProvider, ref string) (<-chan payments.StatusEvent, error)
}

type stripeWebhookGuard interface {
	Claim(ctx context.Context, eventID string) (bool, error)
	InFlight(ctx context.Context, eventID string) (bool, error)
	Complete(ctx context.Context, eventID string) error
	Release(ctx context.Context, eventID string) error
}

type stripeVerifier interface {
	ConstructEvent(payload []byte, signature string) (stripe.Event, error)
}

// Dependencies is everything the HTTP surface calls into. Stripe pieces are
// optional; the webhook route is only mounted when all three are present.
type Dependencies struct {
	DB       controllers.Pinger
	Redis    redisStore
	Orders   orders.Service
	Wallet   walletService
	Payments payments.Service
	Poller   statusStreamer
	Refunds  refunds.Service

	StripeWebhook      webhookcontrollers.StripeWebhookService
	StripeVerifier     stripeVerifier
	StripeWebhookGuard stripeWebhookGuard

	// Metrics is served unauthenticated at /metrics when set.
	Metrics http.Handler
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.AccessLog(logg),
		middleware.CORS(cfg.HTTP.CORSOrigins),
	)

	paymentPolicy := middleware.NewRateLimitPolicy(
		"payments",
		cfg.HTTP.RateLimitWindow,
		cfg.HTTP.RateLimitIPLimit,
		cfg.HTTP.RateLimitUserLimit,
	)
	limiter := middleware.RateLimit(paymentPolicy, deps.Redis, logg)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readinessDeps(deps)))
	})

	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}

	if deps.StripeWebhook != nil && deps.StripeVerifier != nil && deps.StripeWebhookGuard != nil {
		r.Route("/api/v1/webhooks", func(r chi.Router) {
			r.Post("/stripe", webhookcontrollers.StripeWebhook(deps.StripeWebhook, deps.StripeVerifier, deps.StripeWebhookGuard, logg))
		})
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(
			middleware.Auth(cfg.JWT, logg),
			middleware.RequireRole(logg, enums.UserRoleShopper, enums.UserRoleAdmin),
			middleware.Idempotency(deps.Redis, logg),
		)

		r.Post("/quote", controllers.Quote(deps.Orders, logg))

		r.Group(func(r chi.Router) {
			r.Use(limiter)
			r.Post("/checkout", controllers.Checkout(deps.Payments, logg))
			r.Post("/checkout/intents", controllers.BeginCheckout(deps.Payments, logg))
			r.Post("/wallet/topups", controllers.WalletTopup(deps.Payments, logg))
			r.Post("/wallet/topups/intents", controllers.BeginWalletTopup(deps.Payments, logg))
		})

		r.Get("/payments/pending", controllers.PendingPayment(deps.Payments, logg))
		r.Get("/payments/pending/stream", controllers.PaymentStatusStream(deps.Payments, deps.Poller, logg))

		r.Get("/wallet", controllers.WalletBalance(deps.Wallet, logg))
		r.Get("/wallet/transactions", controllers.WalletHistory(deps.Wallet, logg))

		r.Get("/orders", controllers.ListOrders(deps.Orders, logg))
		r.Get("/orders/{orderId}", controllers.GetOrder(deps.Orders, deps.Payments, logg))

		r.Post("/refund-requests", controllers.CreateRefundRequest(deps.Refunds, logg))
		r.Get("/refund-requests", controllers.ListMyRefundRequests(deps.Refunds, logg))
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(
			middleware.Auth(cfg.JWT, logg),
			middleware.RequireRole(logg, enums.UserRoleAdmin),
			middleware.Idempotency(deps.Redis, logg),
		)

		r.Post("/orders/{orderId}/refund", controllers.AdminRefundOrder(deps.Refunds, logg))
		r.Post("/orders/{orderId}/status", controllers.AdvanceOrderStatus(deps.Orders, logg))
		r.Get("/refund-requests", controllers.AdminListRefundRequests(deps.Refunds, logg))
		r.Post("/refund-requests/{requestId}/decision", controllers.AdminDecideRefundRequest(deps.Refunds, logg))
	})

	return r
}

func readinessDeps(deps Dependencies) map[string]controllers.Pinger {
	out := map[string]controllers.Pinger{}
	if deps.DB != nil {
		out["database"] = deps.DB
	}
	if deps.Redis != nil {
		out["redis"] = deps.Redis
	}
	return out
}
