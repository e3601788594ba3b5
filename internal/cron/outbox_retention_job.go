package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-engine/pkg/logger"
)

const (
	outboxRetentionDays = 30
	outboxMinAttempts   = 10
	outboxPruneBatch    = 500
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPruner interface {
	PruneBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttempts, limit int) (int64, error)
}

// OutboxRetentionJobParams configure outbox pruning. MinAttempts should match
// the publisher's max attempts so dead-lettered rows age out too.
type OutboxRetentionJobParams struct {
	Logger      *logger.Logger
	DB          txRunner
	Repository  outboxPruner
	Retention   int
	MinAttempts int
	BatchSize   int
}

// outboxRetentionJob deletes old outbox rows one bounded transaction at a
// time until a batch comes back short.
type outboxRetentionJob struct {
	logg        *logger.Logger
	db          txRunner
	repo        outboxPruner
	retention   int
	minAttempts int
	batch       int
	now         func() time.Time
}

func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case params.DB == nil:
		return nil, fmt.Errorf("db runner required")
	case params.Repository == nil:
		return nil, fmt.Errorf("outbox repository required")
	}
	return &outboxRetentionJob{
		logg:        params.Logger,
		db:          params.DB,
		repo:        params.Repository,
		retention:   positiveOr(params.Retention, outboxRetentionDays),
		minAttempts: positiveOr(params.MinAttempts, outboxMinAttempts),
		batch:       positiveOr(params.BatchSize, outboxPruneBatch),
		now:         time.Now,
	}, nil
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().AddDate(0, 0, -j.retention)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var n int64
		err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
			var err error
			n, err = j.repo.PruneBefore(ctx, tx, cutoff, j.minAttempts, j.batch)
			return err
		})
		if err != nil {
			return fmt.Errorf("outbox retention after %d rows: %w", total, err)
		}
		total += n
		if n < int64(j.batch) {
			break
		}
	}
	if total > 0 {
		j.logg.Info(j.logg.WithFields(ctx, map[string]any{
			"cutoff":       cutoff,
			"rows_deleted": total,
		}), "outbox rows pruned")
	}
	return nil
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
