// Package nets talks to the NETS QR open API used for PayNow-style QR
// payments.
package nets

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
)

const (
	defaultBaseURL        = "https://sandbox.nets.openapipaas.com"
	requestPath           = "/api/v1/common/payments/nets-qr/request"
	queryPath             = "/api/v1/common/payments/nets-qr/query"
	responseBodyReadLimit = 2048

	// ResponseCodeOK is the response_code NETS returns for an accepted call.
	ResponseCodeOK = "00"
)

// TxnStatus is the NETS transaction state returned by a status query.
type TxnStatus int

const (
	TxnStatusPending TxnStatus = 0
	TxnStatusSuccess TxnStatus = 1
	TxnStatusFailed  TxnStatus = 2
)

var (
	errAPIKeyRequired    = errors.New("nets api key is required")
	errProjectIDRequired = errors.New("nets project id is required")
)

// Client issues QR payment requests and polls their status.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	projectID  string
	txnID      string
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

// WithBaseURL overrides the NETS API host.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// NewClient builds a NETS client. txnID is the merchant transaction id NETS
// issued for the terminal.
func NewClient(apiKey, projectID, txnID string, opts ...Option) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}
	client := &Client{
		apiKey:     apiKey,
		projectID:  projectID,
		txnID:      strings.TrimSpace(txnID),
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// QRRequest is an issued QR code awaiting payment.
type QRRequest struct {
	RetrievalRef string
	QRCode       string
	ResponseCode string
	TxnStatus    TxnStatus
}

// Status is one answer to a status query.
type Status struct {
	ResponseCode string
	TxnStatus    TxnStatus
}

// Succeeded reports a completed payment.
func (s Status) Succeeded() bool {
	return s.ResponseCode == ResponseCodeOK && s.TxnStatus == TxnStatusSuccess
}

// Failed reports a payment NETS will not complete.
func (s Status) Failed() bool {
	return s.TxnStatus == TxnStatusFailed
}

type envelope struct {
	Result struct {
		Data struct {
			ResponseCode    string    `json:"response_code"`
			TxnStatus       TxnStatus `json:"txn_status"`
			TxnRetrievalRef string    `json:"txn_retrieval_ref"`
			QRCode          string    `json:"qr_code"`
		} `json:"data"`
	} `json:"result"`
}

// RequestQR asks NETS for a QR code covering amount.
func (c *Client) RequestQR(ctx context.Context, amount decimal.Decimal) (*QRRequest, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "nets client not configured")
	}
	if !amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "nets amount must be positive")
	}
	body := map[string]any{
		"txn_id":         c.txnID,
		"amt_in_dollars": json.Number(amount.StringFixed(2)),
		"notify_mobile":  0,
	}
	var resp envelope
	if err := c.post(ctx, requestPath, body, &resp); err != nil {
		return nil, err
	}
	data := resp.Result.Data
	if data.ResponseCode != ResponseCodeOK || data.TxnRetrievalRef == "" || data.QRCode == "" {
		return nil, pkgerrors.New(pkgerrors.CodeProviderNotCompleted, "nets declined the qr request").
			WithDetails(map[string]any{"response_code": data.ResponseCode})
	}
	return &QRRequest{
		RetrievalRef: data.TxnRetrievalRef,
		QRCode:       data.QRCode,
		ResponseCode: data.ResponseCode,
		TxnStatus:    data.TxnStatus,
	}, nil
}

// QueryStatus polls a QR payment. finalAttempt tells NETS the shopper-facing
// timer has run out, which makes its answer definitive.
func (c *Client) QueryStatus(ctx context.Context, retrievalRef string, finalAttempt bool) (*Status, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "nets client not configured")
	}
	retrievalRef = strings.TrimSpace(retrievalRef)
	if retrievalRef == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "nets retrieval ref is required")
	}
	timeout := 0
	if finalAttempt {
		timeout = 1
	}
	body := map[string]any{
		"txn_retrieval_ref":       retrievalRef,
		"frontend_timeout_status": timeout,
	}
	var resp envelope
	if err := c.post(ctx, queryPath, body, &resp); err != nil {
		return nil, err
	}
	return &Status{
		ResponseCode: resp.Result.Data.ResponseCode,
		TxnStatus:    resp.Result.Data.TxnStatus,
	}, nil
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal nets request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.buildURL(path), bytes.NewReader(payload))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build nets request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", c.apiKey)
	req.Header.Set("project-id", c.projectID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeProviderUnavailable, err, "execute nets request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		code := pkgerrors.CodeDependency
		if resp.StatusCode >= 500 {
			code = pkgerrors.CodeProviderUnavailable
		}
		return pkgerrors.Wrap(code, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "nets request failed")
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode nets response")
	}
	return nil
}

func (c *Client) buildURL(path string) string {
	return strings.TrimRight(c.baseURL, "/") + path
}
