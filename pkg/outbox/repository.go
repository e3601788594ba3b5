package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/settlement-engine/pkg/db/models"
)

const maxLastErrorLen = 1024

var eventAggregateColumns = []clause.Column{{Name: "event_type"}, {Name: "aggregate_type"}, {Name: "aggregate_id"}}

// Repository owns outbox_events. Writes take the caller's transaction; the
// relay's fetch locks rows so parallel publishers never share one.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(tx *gorm.DB, event models.OutboxEvent) error {
	if tx == nil {
		return errNoTx
	}
	return tx.Create(&event).Error
}

// InsertOnce skips the row when (event_type, aggregate_type, aggregate_id)
// already exists and reports whether it wrote anything.
func (r *Repository) InsertOnce(tx *gorm.DB, event models.OutboxEvent) (bool, error) {
	if tx == nil {
		return false, errNoTx
	}
	res := tx.Clauses(clause.OnConflict{Columns: eventAggregateColumns, DoNothing: true}).Create(&event)
	return res.RowsAffected > 0, res.Error
}

// FetchUnpublishedForPublish locks the oldest unpublished rows still under
// maxAttempts. Rows another relay holds are skipped, not waited on.
func (r *Repository) FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	if tx == nil {
		return nil, errNoTx
	}
	var rows []models.OutboxEvent
	err := tx.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate, Options: clause.LockingOptionsSkipLocked}).
		Where("published_at IS NULL").
		Where("attempt_count < ?", maxAttempts).
		Order("created_at, id").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *Repository) MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error {
	return r.update(tx, id, map[string]any{"published_at": time.Now().UTC(), "last_error": nil})
}

// MarkFailedTx counts one more failed publish and keeps the row eligible.
func (r *Repository) MarkFailedTx(tx *gorm.DB, id uuid.UUID, cause error) error {
	return r.update(tx, id, map[string]any{
		"last_error":    clip(errText(cause, "")),
		"attempt_count": gorm.Expr("attempt_count + 1"),
	})
}

// MarkTerminalTx pins attempt_count at the cap so fetches never return the
// row again.
func (r *Repository) MarkTerminalTx(tx *gorm.DB, id uuid.UUID, cause error, terminalAttempts int) error {
	return r.update(tx, id, map[string]any{
		"last_error":    clip(errText(cause, "terminal")),
		"attempt_count": terminalAttempts,
	})
}

func (r *Repository) update(tx *gorm.DB, id uuid.UUID, cols map[string]any) error {
	if tx == nil {
		return errNoTx
	}
	return tx.Model(&models.OutboxEvent{}).Where("id = ?", id).Updates(cols).Error
}

// PruneBefore deletes at most limit rows created before cutoff that were
// either published or parked after minAttempts failures.
func (r *Repository) PruneBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttempts, limit int) (int64, error) {
	if tx == nil {
		tx = r.db
	}
	tx = tx.WithContext(ctx)
	victims := tx.Session(&gorm.Session{NewDB: true}).
		Model(&models.OutboxEvent{}).
		Select("id").
		Where("created_at < ?", cutoff).
		Where("published_at IS NOT NULL OR attempt_count >= ?", minAttempts).
		Order("created_at ASC").
		Limit(limit)
	res := tx.Where("id IN (?)", victims).Delete(&models.OutboxEvent{})
	return res.RowsAffected, res.Error
}

func errText(err error, fallback string) string {
	if err == nil {
		return fallback
	}
	return err.Error()
}

func clip(msg string) string {
	if len(msg) > maxLastErrorLen {
		return msg[:maxLastErrorLen]
	}
	return msg
}
