package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/settlement-engine/pkg/config"
	"github.com/angelmondragon/settlement-engine/pkg/logger"
)

// Mode is the Stripe account mode a secret key belongs to.
type Mode string

const (
	ModeTest Mode = "test"
	ModeLive Mode = "live"
)

var keyPrefixes = map[Mode][]string{
	ModeTest: {"sk_test_", "rk_test_"},
	ModeLive: {"sk_live_", "rk_live_"},
}

// Client is the settlement gateway's handle on Stripe: the mode its key was
// checked against and the secret used to verify webhooks.
type Client struct {
	mode          Mode
	signingSecret string
}

// NewClient validates the configured key against the configured mode and
// installs it for the stripe-go resource packages.
func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	mode, err := parseMode(cfg.Environment())
	if err != nil {
		return nil, err
	}
	key := strings.TrimSpace(cfg.APIKey)
	secret := strings.TrimSpace(cfg.Secret)
	switch {
	case key == "":
		return nil, errors.New("stripe api key required")
	case secret == "":
		return nil, errors.New("stripe webhook signing secret required")
	case !keyMatches(mode, key):
		return nil, fmt.Errorf("stripe %s mode needs a key starting with %s", mode, strings.Join(keyPrefixes[mode], " or "))
	}

	stripe.Key = key
	if logg != nil {
		logg.Info(logg.WithField(ctx, "stripe_mode", string(mode)), "stripe gateway ready")
	}
	return &Client{mode: mode, signingSecret: secret}, nil
}

// Environment reports the Stripe mode in use.
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return string(c.mode)
}

func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.signingSecret
}

func parseMode(raw string) (Mode, error) {
	mode := Mode(strings.ToLower(strings.TrimSpace(raw)))
	if mode == "" {
		return ModeTest, nil
	}
	if _, ok := keyPrefixes[mode]; !ok {
		return "", fmt.Errorf("stripe mode %q is not one of test, live", raw)
	}
	return mode, nil
}

func keyMatches(mode Mode, key string) bool {
	for _, prefix := range keyPrefixes[mode] {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}
