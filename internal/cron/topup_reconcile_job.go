package cron

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/settlement-engine/internal/payments"
	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
	"github.com/angelmondragon/settlement-engine/pkg/logger"
)

const (
	defaultTopupGrace     = 2 * time.Minute
	defaultTopupBatchSize = 50
)

type pendingTopupLister interface {
	ListPendingTopups(ctx context.Context, olderThan time.Time, limit int) ([]models.WalletTopup, error)
}

type pendingSettler interface {
	SettlePending(ctx context.Context, provider enums.PaymentProvider, ref string) (*payments.Settlement, error)
}

// TopupReconcileJobParams configure the pending top-up sweep. Grace leaves
// fresh top-ups to the status stream and webhooks.
type TopupReconcileJobParams struct {
	Logger    *logger.Logger
	Topups    pendingTopupLister
	Settler   pendingSettler
	Grace     time.Duration
	BatchSize int
}

// NewTopupReconcileJob builds the job that settles asynchronous top-ups whose
// shopper went away before the provider confirmed them.
func NewTopupReconcileJob(params TopupReconcileJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case params.Topups == nil:
		return nil, fmt.Errorf("topup lister required")
	case params.Settler == nil:
		return nil, fmt.Errorf("settler required")
	}
	job := &topupReconcileJob{
		logg:      params.Logger,
		topups:    params.Topups,
		settler:   params.Settler,
		grace:     params.Grace,
		batchSize: params.BatchSize,
		now:       time.Now,
	}
	if job.grace <= 0 {
		job.grace = defaultTopupGrace
	}
	if job.batchSize <= 0 {
		job.batchSize = defaultTopupBatchSize
	}
	return job, nil
}

type topupReconcileJob struct {
	logg      *logger.Logger
	topups    pendingTopupLister
	settler   pendingSettler
	grace     time.Duration
	batchSize int
	now       func() time.Time
}

func (j *topupReconcileJob) Name() string { return "topup-reconcile" }

func (j *topupReconcileJob) Run(ctx context.Context) error {
	rows, err := j.topups.ListPendingTopups(ctx, j.now().UTC().Add(-j.grace), j.batchSize)
	if err != nil {
		return fmt.Errorf("list pending topups: %w", err)
	}

	var (
		errs     []error
		settled  int
		awaiting int
	)
	for _, row := range rows {
		ref := strings.TrimPrefix(row.ProviderRef, row.Provider.String()+":")
		_, err := j.settler.SettlePending(ctx, row.Provider, ref)
		switch {
		case err == nil:
			settled++
		case pkgerrors.IsCode(err, pkgerrors.CodeProviderNotCompleted):
			awaiting++
		default:
			errs = append(errs, fmt.Errorf("topup %s: %w", row.ID, err))
		}
	}

	if len(rows) > 0 {
		j.logg.Info(j.logg.WithFields(ctx, map[string]any{
			"scanned":  len(rows),
			"settled":  settled,
			"awaiting": awaiting,
			"failed":   len(errs),
		}), "pending topups reconciled")
	}
	return multierr.Combine(errs...)
}
