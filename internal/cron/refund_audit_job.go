package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	"github.com/angelmondragon/settlement-engine/pkg/logger"
	"github.com/angelmondragon/settlement-engine/pkg/metrics"
)

const defaultRefundAuditLimit = 100

type refundAuditor interface {
	AuditInconsistent(ctx context.Context, limit int) ([]models.Payment, error)
}

type RefundAuditJobParams struct {
	Logger  *logger.Logger
	Auditor refundAuditor
	Metrics *metrics.SettlementMetrics
	Limit   int
}

// NewRefundAuditJob builds the job that reports refunds whose wallet credit
// landed without the payment being marked refunded. It never repairs them;
// the job fails while any remain so the condition stays visible.
func NewRefundAuditJob(params RefundAuditJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Auditor == nil {
		return nil, fmt.Errorf("refund auditor required")
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultRefundAuditLimit
	}
	return &refundAuditJob{logg: params.Logger, auditor: params.Auditor, metrics: params.Metrics, limit: limit}, nil
}

type refundAuditJob struct {
	logg    *logger.Logger
	auditor refundAuditor
	metrics *metrics.SettlementMetrics
	limit   int
}

func (j *refundAuditJob) Name() string { return "refund-audit" }

func (j *refundAuditJob) Run(ctx context.Context) error {
	stuck, err := j.auditor.AuditInconsistent(ctx, j.limit)
	if err != nil {
		return fmt.Errorf("refund audit: %w", err)
	}
	for _, payment := range stuck {
		j.logg.Warn(j.logg.WithFields(ctx, map[string]any{
			"payment_id": payment.ID.String(),
			"order_id":   payment.OrderID.String(),
			"user_id":    payment.UserID.String(),
			"amount":     payment.Amount.StringFixed(2),
		}), "refund credited but payment still paid")
		j.metrics.IncInconsistent("refund_audit")
	}
	if len(stuck) > 0 {
		return fmt.Errorf("%d refunded orders need manual reconciliation", len(stuck))
	}
	return nil
}
