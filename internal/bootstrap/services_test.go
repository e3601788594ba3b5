package bootstrap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/settlement-engine/pkg/config"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	"github.com/angelmondragon/settlement-engine/pkg/logger"
)

func TestBuildGatewaysOnlyConfiguredProviders(t *testing.T) {
	cfg := &config.Config{}

	gateways, stripeClient, err := buildGateways(context.Background(), cfg, logger.Nop())
	require.NoError(t, err)
	require.Empty(t, gateways)
	require.Nil(t, stripeClient)

	cfg.PayPal = config.PayPalConfig{ClientID: "id", ClientSecret: "secret", BaseURL: "https://paypal.test"}
	cfg.NETS = config.NETSConfig{APIKey: "key", ProjectID: "project", BaseURL: "https://nets.test"}

	gateways, stripeClient, err = buildGateways(context.Background(), cfg, logger.Nop())
	require.NoError(t, err)
	require.Nil(t, stripeClient)
	require.Len(t, gateways, 2)
	require.Contains(t, gateways, enums.PaymentProviderPayPal)
	require.Contains(t, gateways, enums.PaymentProviderNETS)
}

func TestBuildGatewaysRegistersBothStripeFlows(t *testing.T) {
	cfg := &config.Config{Stripe: config.StripeConfig{APIKey: "sk_test_123", Secret: "whsec_123", Env: "test"}}

	gateways, stripeClient, err := buildGateways(context.Background(), cfg, logger.Nop())
	require.NoError(t, err)
	require.NotNil(t, stripeClient)
	require.Contains(t, gateways, enums.PaymentProviderStripe)
	require.Contains(t, gateways, enums.PaymentProviderStripePayNow)
}

func TestBuildGatewaysRejectsMismatchedStripeKey(t *testing.T) {
	cfg := &config.Config{Stripe: config.StripeConfig{APIKey: "sk_live_123", Secret: "whsec_123", Env: "test"}}

	_, _, err := buildGateways(context.Background(), cfg, logger.Nop())
	require.Error(t, err)
}

func TestBuildRequiresResources(t *testing.T) {
	_, err := Build(context.Background(), Params{})
	require.Error(t, err)

	_, err = Build(context.Background(), Params{Config: &config.Config{}})
	require.Error(t, err)
}
