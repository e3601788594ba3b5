package payments

import (
	"context"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/settlement-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
	"github.com/angelmondragon/settlement-engine/pkg/nets"
)

type netsAPI interface {
	RequestQR(ctx context.Context, amount decimal.Decimal) (*nets.QRRequest, error)
	QueryStatus(ctx context.Context, retrievalRef string, finalAttempt bool) (*nets.Status, error)
}

type netsGateway struct {
	api netsAPI
}

// NewNETSGateway settles NETS QR payments. The retrieval reference is the
// settled reference.
func NewNETSGateway(api netsAPI) Gateway {
	if api == nil {
		return nil
	}
	return &netsGateway{api: api}
}

func (g *netsGateway) Provider() enums.PaymentProvider {
	return enums.PaymentProviderNETS
}

func (g *netsGateway) CreateIntentOrOrder(ctx context.Context, amount decimal.Decimal, _ string, _ string) (*Intent, error) {
	qr, err := g.api.RequestQR(ctx, amount)
	if err != nil {
		return nil, err
	}
	return &Intent{Ref: qr.RetrievalRef, QRCode: qr.QRCode}, nil
}

// CaptureOrConfirm re-queries NETS. A QR code is bound to the amount it was
// issued for, so the capture carries no amount of its own.
func (g *netsGateway) CaptureOrConfirm(ctx context.Context, ref string) (*Capture, error) {
	status, err := g.api.QueryStatus(ctx, ref, false)
	if err != nil {
		return nil, err
	}
	return &Capture{Ref: ref, Status: netsStatus(status)}, nil
}

func (g *netsGateway) QueryStatus(ctx context.Context, ref string, finalAttempt bool) (*PollStatus, error) {
	status, err := g.api.QueryStatus(ctx, ref, finalAttempt)
	if err != nil {
		return nil, err
	}
	return &PollStatus{
		Status:       netsStatus(status),
		ResponseCode: status.ResponseCode,
		TxnStatus:    strconv.Itoa(int(status.TxnStatus)),
	}, nil
}

func (g *netsGateway) Refund(context.Context, string) error {
	return pkgerrors.New(pkgerrors.CodeDependency, "nets qr payments cannot be refunded through the api")
}

func netsStatus(status *nets.Status) Status {
	switch {
	case status.Succeeded():
		return StatusSucceeded
	case status.Failed():
		return StatusFailed
	default:
		return StatusPending
	}
}
