package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	stripewebhook "github.com/angelmondragon/settlement-engine/internal/webhooks/stripe"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
)

const testSigningSecret = "whsec_settlement"

type webhookHarness struct {
	store   *claimMap
	service *recordingHandler
	handler http.HandlerFunc
}

func newHarness(t *testing.T) *webhookHarness {
	t.Helper()
	store := &claimMap{values: map[string]string{}}
	guard, err := stripewebhook.NewIdempotencyGuard(store, time.Hour, "stripe-webhook")
	require.NoError(t, err)
	service := &recordingHandler{}
	return &webhookHarness{
		store:   store,
		service: service,
		handler: StripeWebhook(service, signingVerifier(testSigningSecret), guard, nil),
	}
}

func (h *webhookHarness) post(payload []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func TestStripeWebhookHandlesEventOnce(t *testing.T) {
	h := newHarness(t)
	payload, sig, _ := succeededIntentEvent(t)

	first := h.post(payload, sig)
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())

	replay := h.post(payload, sig)
	require.Equal(t, http.StatusOK, replay.Code)
	require.Contains(t, replay.Body.String(), `"duplicate":true`)
	require.Equal(t, 1, h.service.calls)
}

func TestStripeWebhookRejectsBadSignatures(t *testing.T) {
	h := newHarness(t)
	payload, _, _ := succeededIntentEvent(t)

	require.Equal(t, http.StatusBadRequest, h.post(payload, "").Code)
	require.Equal(t, http.StatusBadRequest, h.post(payload, "t=1,v1=deadbeef").Code)
	require.Zero(t, h.service.calls)
}

func TestStripeWebhookReleasesClaimWhenHandlingFails(t *testing.T) {
	h := newHarness(t)
	payload, sig, _ := succeededIntentEvent(t)
	h.service.err = pkgerrors.New(pkgerrors.CodeProviderUnavailable, "provider down")

	failed := h.post(payload, sig)
	require.GreaterOrEqual(t, failed.Code, http.StatusInternalServerError)
	require.Empty(t, h.store.values, "failed event must not stay claimed")

	h.service.err = nil
	retried := h.post(payload, sig)
	require.Equal(t, http.StatusOK, retried.Code, retried.Body.String())
	require.Equal(t, 2, h.service.calls)
}

func TestStripeWebhookDefersWhileAnotherDeliveryRuns(t *testing.T) {
	h := newHarness(t)
	payload, sig, eventID := succeededIntentEvent(t)
	h.store.values["settle:idempotency:stripe-webhook:"+eventID] = "processing"

	rec := h.post(payload, sig)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Zero(t, h.service.calls)
}

func succeededIntentEvent(t *testing.T) ([]byte, string, string) {
	t.Helper()
	intent, err := json.Marshal(&stripe.PaymentIntent{
		ID:       "pi_" + uuid.NewString(),
		Status:   stripe.PaymentIntentStatusSucceeded,
		Amount:   4200,
		Currency: "usd",
	})
	require.NoError(t, err)

	eventID := "evt_" + uuid.NewString()
	payload, err := json.Marshal(&stripe.Event{
		ID:         eventID,
		Object:     "event",
		Type:       stripe.EventTypePaymentIntentSucceeded,
		APIVersion: stripe.APIVersion,
		Data:       &stripe.EventData{Raw: intent},
	})
	require.NoError(t, err)
	return payload, sign(payload, time.Now()), eventID
}

func sign(payload []byte, at time.Time) string {
	mac := hmac.New(sha256.New, []byte(testSigningSecret))
	fmt.Fprintf(mac, "%d.%s", at.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

type signingVerifier string

func (s signingVerifier) ConstructEvent(payload []byte, signature string) (stripe.Event, error) {
	return webhook.ConstructEvent(payload, signature, string(s))
}

type recordingHandler struct {
	calls int
	err   error
}

func (r *recordingHandler) HandleEvent(context.Context, *stripe.Event) error {
	r.calls++
	return r.err
}

// claimMap mimics the redis commands the guard issues, without expiry.
type claimMap struct {
	mu     sync.Mutex
	values map[string]string
}

func (c *claimMap) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[key], nil
}

func (c *claimMap) Set(_ context.Context, key string, value any, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = fmt.Sprint(value)
	return nil
}

func (c *claimMap) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.values[key]; ok {
		return false, nil
	}
	c.values[key] = fmt.Sprint(value)
	return true, nil
}

func (c *claimMap) IdempotencyKey(scope, id string) string {
	return "settle:idempotency:" + scope + ":" + id
}

func (c *claimMap) Del(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		delete(c.values, key)
	}
	return nil
}
