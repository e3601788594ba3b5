// Package paypal is a minimal client for the PayPal Orders v2 and Payments v2
// REST APIs.
package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
)

const (
	defaultBaseURL            = "https://api-m.sandbox.paypal.com"
	responseBodyReadLimit     = 2048
	tokenExpirySkew           = time.Minute
	issueOrderAlreadyCaptured = "ORDER_ALREADY_CAPTURED"
	StatusCompleted           = "COMPLETED"
	StatusDeclined            = "DECLINED"
	StatusVoided              = "VOIDED"
	intentCapture             = "CAPTURE"
)

var (
	errClientIDRequired     = errors.New("paypal client id is required")
	errClientSecretRequired = errors.New("paypal client secret is required")
)

// Client authenticates with client credentials and caches the access token.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	clientID     string
	clientSecret string
	now          func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL points the client at a different PayPal environment.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// NewClient builds a PayPal client from REST app credentials.
func NewClient(clientID, clientSecret string, opts ...Option) (*Client, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return nil, errClientIDRequired
	}
	clientSecret = strings.TrimSpace(clientSecret)
	if clientSecret == "" {
		return nil, errClientSecretRequired
	}

	client := &Client{
		clientID:     clientID,
		clientSecret: clientSecret,
		baseURL:      defaultBaseURL,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		now:          time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// Order is the subset of a PayPal order the settlement flow reads.
type Order struct {
	ID         string
	Status     string
	ApproveURL string
	Capture    *Capture
}

// Capture is the first capture of an order's first purchase unit.
type Capture struct {
	ID       string
	Status   string
	Amount   decimal.Decimal
	Currency string
}

// Refund is the result of refunding a capture.
type Refund struct {
	ID     string
	Status string
}

type money struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type orderResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PurchaseUnits []struct {
		Payments struct {
			Captures []struct {
				ID     string `json:"id"`
				Status string `json:"status"`
				Amount money  `json:"amount"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
	Links []struct {
		Href string `json:"href"`
		Rel  string `json:"rel"`
	} `json:"links"`
}

type apiError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Details []struct {
		Issue string `json:"issue"`
	} `json:"details"`
}

func (e apiError) hasIssue(issue string) bool {
	for _, d := range e.Details {
		if d.Issue == issue {
			return true
		}
	}
	return false
}

// CreateOrder opens an order the shopper approves on PayPal. referenceID is
// echoed back on the purchase unit.
func (c *Client) CreateOrder(ctx context.Context, amount decimal.Decimal, currency, referenceID string) (*Order, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "paypal client not configured")
	}
	if !amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "paypal order amount must be positive")
	}
	body := map[string]any{
		"intent": intentCapture,
		"purchase_units": []map[string]any{{
			"reference_id": referenceID,
			"amount": money{
				CurrencyCode: strings.ToUpper(currency),
				Value:        amount.StringFixed(2),
			},
		}},
	}
	var resp orderResponse
	if _, err := c.do(ctx, http.MethodPost, "/v2/checkout/orders", body, referenceID, &resp); err != nil {
		return nil, err
	}
	return resp.toOrder(), nil
}

// CaptureOrder captures an approved order. Capturing an order twice returns
// the existing capture.
func (c *Client) CaptureOrder(ctx context.Context, orderID string) (*Order, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "paypal client not configured")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "paypal order id is required")
	}
	var resp orderResponse
	path := fmt.Sprintf("/v2/checkout/orders/%s/capture", url.PathEscape(orderID))
	apiErr, err := c.do(ctx, http.MethodPost, path, struct{}{}, "capture-"+orderID, &resp)
	if err != nil {
		if apiErr != nil && apiErr.hasIssue(issueOrderAlreadyCaptured) {
			return c.GetOrder(ctx, orderID)
		}
		return nil, err
	}
	return resp.toOrder(), nil
}

// GetOrder reads the current state of an order.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "paypal client not configured")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "paypal order id is required")
	}
	var resp orderResponse
	if _, err := c.do(ctx, http.MethodGet, "/v2/checkout/orders/"+url.PathEscape(orderID), nil, "", &resp); err != nil {
		return nil, err
	}
	return resp.toOrder(), nil
}

// RefundCapture refunds a capture in full.
func (c *Client) RefundCapture(ctx context.Context, captureID string) (*Refund, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "paypal client not configured")
	}
	captureID = strings.TrimSpace(captureID)
	if captureID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "paypal capture id is required")
	}
	var resp struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	path := fmt.Sprintf("/v2/payments/captures/%s/refund", url.PathEscape(captureID))
	if _, err := c.do(ctx, http.MethodPost, path, struct{}{}, "refund-"+captureID, &resp); err != nil {
		return nil, err
	}
	return &Refund{ID: resp.ID, Status: resp.Status}, nil
}

func (r orderResponse) toOrder() *Order {
	order := &Order{ID: r.ID, Status: r.Status}
	for _, link := range r.Links {
		if link.Rel == "approve" || link.Rel == "payer-action" {
			order.ApproveURL = link.Href
			break
		}
	}
	for _, unit := range r.PurchaseUnits {
		if len(unit.Payments.Captures) == 0 {
			continue
		}
		first := unit.Payments.Captures[0]
		amount, err := decimal.NewFromString(first.Amount.Value)
		if err != nil {
			amount = decimal.Zero
		}
		order.Capture = &Capture{
			ID:       first.ID,
			Status:   first.Status,
			Amount:   amount,
			Currency: first.Amount.CurrencyCode,
		}
		break
	}
	return order
}

// do sends an authenticated JSON request. On a non-2xx response it returns the
// decoded PayPal error alongside the wrapped error.
func (c *Client) do(ctx context.Context, method, path string, body any, requestID string, out any) (*apiError, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal paypal request")
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.buildURL(path), reader)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build paypal request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	if requestID != "" {
		req.Header.Set("PayPal-Request-Id", requestID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeProviderUnavailable, err, "execute paypal request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		var apiErr apiError
		_ = json.Unmarshal(raw, &apiErr)
		code := pkgerrors.CodeDependency
		if resp.StatusCode >= 500 {
			code = pkgerrors.CodeProviderUnavailable
		}
		return &apiErr, pkgerrors.Wrap(code, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))), "paypal request failed")
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode paypal response")
		}
	}
	return nil, nil
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.buildURL("/v1/oauth2/token"), strings.NewReader(form.Encode()))
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build paypal token request")
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeProviderUnavailable, err, "execute paypal token request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "paypal token request failed")
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode paypal token response")
	}
	if tokenResp.AccessToken == "" {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "paypal token response missing access token")
	}

	c.token = tokenResp.AccessToken
	c.tokenExpiry = c.now().Add(time.Duration(tokenResp.ExpiresIn)*time.Second - tokenExpirySkew)
	return c.token, nil
}

func (c *Client) buildURL(path string) string {
	trimmed := strings.TrimRight(c.baseURL, "/")
	path = strings.TrimLeft(path, "/")
	return fmt.Sprintf("%s/%s", trimmed, path)
}
