package payments

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/settlement-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
	"github.com/angelmondragon/settlement-engine/pkg/paypal"
)

type paypalAPI interface {
	CreateOrder(ctx context.Context, amount decimal.Decimal, currency, referenceID string) (*paypal.Order, error)
	CaptureOrder(ctx context.Context, orderID string) (*paypal.Order, error)
	GetOrder(ctx context.Context, orderID string) (*paypal.Order, error)
	RefundCapture(ctx context.Context, captureID string) (*paypal.Refund, error)
}

type paypalGateway struct {
	api paypalAPI
}

// NewPayPalGateway settles through PayPal order capture. The capture id is the
// settled reference.
func NewPayPalGateway(api paypalAPI) Gateway {
	if api == nil {
		return nil
	}
	return &paypalGateway{api: api}
}

func (g *paypalGateway) Provider() enums.PaymentProvider {
	return enums.PaymentProviderPayPal
}

func (g *paypalGateway) CreateIntentOrOrder(ctx context.Context, amount decimal.Decimal, currency, reference string) (*Intent, error) {
	order, err := g.api.CreateOrder(ctx, amount, currency, reference)
	if err != nil {
		return nil, err
	}
	return &Intent{Ref: order.ID, ApproveURL: order.ApproveURL}, nil
}

func (g *paypalGateway) CaptureOrConfirm(ctx context.Context, ref string) (*Capture, error) {
	order, err := g.api.CaptureOrder(ctx, ref)
	if err != nil {
		return nil, err
	}
	if order.Capture == nil {
		return nil, pkgerrors.New(pkgerrors.CodeProviderNotCompleted, "paypal order has no capture").
			WithDetails(map[string]any{"order_status": order.Status})
	}
	return &Capture{
		Ref:       order.Capture.ID,
		Status:    paypalStatus(order.Status, order.Capture.Status),
		Amount:    order.Capture.Amount,
		Currency:  order.Capture.Currency,
		HasAmount: true,
	}, nil
}

func (g *paypalGateway) QueryStatus(ctx context.Context, ref string, _ bool) (*PollStatus, error) {
	order, err := g.api.GetOrder(ctx, ref)
	if err != nil {
		return nil, err
	}
	captureStatus := ""
	if order.Capture != nil {
		captureStatus = order.Capture.Status
	}
	return &PollStatus{
		Status:       paypalStatus(order.Status, captureStatus),
		ResponseCode: order.Status,
		TxnStatus:    captureStatus,
	}, nil
}

func (g *paypalGateway) Refund(ctx context.Context, ref string) error {
	_, err := g.api.RefundCapture(ctx, ref)
	return err
}

func paypalStatus(orderStatus, captureStatus string) Status {
	switch {
	case orderStatus == paypal.StatusCompleted && captureStatus == paypal.StatusCompleted:
		return StatusSucceeded
	case captureStatus == paypal.StatusDeclined || orderStatus == paypal.StatusVoided:
		return StatusFailed
	default:
		return StatusPending
	}
}
