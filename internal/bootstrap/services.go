// Package bootstrap assembles the settlement services shared by the API and
// the cron worker.
package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/settlement-engine/internal/checkout"
	"github.com/angelmondragon/settlement-engine/internal/fees"
	"github.com/angelmondragon/settlement-engine/internal/orders"
	"github.com/angelmondragon/settlement-engine/internal/payments"
	"github.com/angelmondragon/settlement-engine/internal/refunds"
	"github.com/angelmondragon/settlement-engine/internal/wallet"
	stripewebhook "github.com/angelmondragon/settlement-engine/internal/webhooks/stripe"
	"github.com/angelmondragon/settlement-engine/pkg/config"
	"github.com/angelmondragon/settlement-engine/pkg/db"
	"github.com/angelmondragon/settlement-engine/pkg/logger"
	"github.com/angelmondragon/settlement-engine/pkg/metrics"
	"github.com/angelmondragon/settlement-engine/pkg/nets"
	"github.com/angelmondragon/settlement-engine/pkg/outbox"
	"github.com/angelmondragon/settlement-engine/pkg/paypal"
	"github.com/angelmondragon/settlement-engine/pkg/redis"
	"github.com/angelmondragon/settlement-engine/pkg/stripe"
)

const stripeWebhookScope = "stripe-webhook"

// Params are the process-level resources services are built on.
type Params struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         *db.Client
	Redis      *redis.Client
	Registerer prometheus.Registerer
}

// Services is the wired settlement domain.
type Services struct {
	Orders     orders.Service
	Wallet     wallet.Service
	WalletRepo wallet.Repository
	Payments   payments.Service
	Poller     *payments.Poller
	Refunds    refunds.Service
	Metrics    *metrics.SettlementMetrics

	// Stripe pieces are nil when Stripe is not configured.
	Stripe             *stripe.Client
	StripeWebhook      *stripewebhook.Service
	StripeWebhookGuard *stripewebhook.IdempotencyGuard
}

// Build wires repositories, provider gateways and services. Providers whose
// credentials are absent are left out; requests naming them fail validation.
func Build(ctx context.Context, params Params) (*Services, error) {
	cfg := params.Config
	switch {
	case cfg == nil:
		return nil, fmt.Errorf("config required")
	case params.DB == nil:
		return nil, fmt.Errorf("db client required")
	case params.Redis == nil:
		return nil, fmt.Errorf("redis client required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	reg := params.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	flatFee, err := cfg.Fees.FlatDeliveryFee()
	if err != nil {
		return nil, err
	}

	conn := params.DB.DB()
	outboxSvc := outbox.NewService(outbox.NewRepository(conn), logg)
	settlementMetrics := metrics.NewSettlementMetrics(reg)

	orderSvc, err := orders.NewService(orders.NewRepository(conn), params.DB, fees.NewCalculator(flatFee), outboxSvc)
	if err != nil {
		return nil, fmt.Errorf("orders service: %w", err)
	}

	walletRepo := wallet.NewRepository(conn)
	walletSvc, err := wallet.NewService(walletRepo, orderSvc, params.DB, outboxSvc)
	if err != nil {
		return nil, fmt.Errorf("wallet service: %w", err)
	}

	pending, err := checkout.NewRedisStore(params.Redis, cfg.Checkout.ContextTTL)
	if err != nil {
		return nil, fmt.Errorf("checkout store: %w", err)
	}

	out := &Services{
		Orders:     orderSvc,
		Wallet:     walletSvc,
		WalletRepo: walletRepo,
		Metrics:    settlementMetrics,
	}

	gateways, stripeClient, err := buildGateways(ctx, cfg, logg)
	if err != nil {
		return nil, err
	}
	out.Stripe = stripeClient

	paymentsRepo := payments.NewRepository(conn)
	paymentSvc, err := payments.NewService(payments.ServiceParams{
		Repo:     paymentsRepo,
		Tx:       params.DB,
		Orders:   orderSvc,
		Wallet:   walletSvc,
		Pending:  pending,
		Gateways: gateways,
		Outbox:   outboxSvc,
		Metrics:  settlementMetrics,
		Logger:   logg,
		Currency: cfg.Fees.Currency,
	})
	if err != nil {
		return nil, fmt.Errorf("payments service: %w", err)
	}
	out.Payments = paymentSvc

	poller, err := payments.NewPoller(payments.PollerParams{
		Settler:  paymentSvc,
		Gateways: gateways,
		Interval: cfg.Checkout.PollInterval,
		MaxPolls: cfg.Checkout.MaxPolls,
		Metrics:  settlementMetrics,
		Logger:   logg,
	})
	if err != nil {
		return nil, fmt.Errorf("payment poller: %w", err)
	}
	out.Poller = poller

	refundSvc, err := refunds.NewService(refunds.ServiceParams{
		Repo:     refunds.NewRepository(conn),
		Payments: paymentsRepo,
		Orders:   orderSvc,
		Wallet:   walletSvc,
		Tx:       params.DB,
		Outbox:   outboxSvc,
		Metrics:  settlementMetrics,
		Logger:   logg,
	})
	if err != nil {
		return nil, fmt.Errorf("refunds service: %w", err)
	}
	out.Refunds = refundSvc

	if stripeClient != nil {
		out.StripeWebhook, err = stripewebhook.NewService(stripewebhook.ServiceParams{Settler: paymentSvc, Logger: logg})
		if err != nil {
			return nil, fmt.Errorf("stripe webhook service: %w", err)
		}
		out.StripeWebhookGuard, err = stripewebhook.NewIdempotencyGuard(params.Redis, cfg.Eventing.WebhookIdempotencyTTL, stripeWebhookScope)
		if err != nil {
			return nil, fmt.Errorf("stripe webhook guard: %w", err)
		}
	}

	return out, nil
}

// buildGateways constructs a gateway per configured provider. Gateway
// constructors are only called with live clients so no typed-nil API ends up
// behind the Gateway interface.
func buildGateways(ctx context.Context, cfg *config.Config, logg *logger.Logger) (payments.Gateways, *stripe.Client, error) {
	var list []payments.Gateway
	var stripeClient *stripe.Client

	if strings.TrimSpace(cfg.PayPal.ClientID) != "" {
		client, err := paypal.NewClient(cfg.PayPal.ClientID, cfg.PayPal.ClientSecret, paypal.WithBaseURL(cfg.PayPal.BaseURL))
		if err != nil {
			return nil, nil, fmt.Errorf("paypal client: %w", err)
		}
		list = append(list, payments.NewPayPalGateway(client))
	}

	if strings.TrimSpace(cfg.Stripe.APIKey) != "" {
		client, err := stripe.NewClient(ctx, cfg.Stripe, logg)
		if err != nil {
			return nil, nil, fmt.Errorf("stripe client: %w", err)
		}
		stripeClient = client
		list = append(list, payments.NewStripeGateway(client), payments.NewStripePayNowGateway(client))
	}

	if strings.TrimSpace(cfg.NETS.APIKey) != "" {
		client, err := nets.NewClient(cfg.NETS.APIKey, cfg.NETS.ProjectID, cfg.NETS.TxnID, nets.WithBaseURL(cfg.NETS.BaseURL))
		if err != nil {
			return nil, nil, fmt.Errorf("nets client: %w", err)
		}
		list = append(list, payments.NewNETSGateway(client))
	}

	if len(list) == 0 {
		logg.Warn(ctx, "no payment providers configured; only wallet checkout is available")
	}
	return payments.NewGateways(list...), stripeClient, nil
}
