package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
)

// DLQRepository stores copies of events the relay gave up on, for an operator
// to replay or discard.
type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

// ParkTx copies event into outbox_dlq with the reason it could not be sent.
func (r *DLQRepository) ParkTx(tx *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error, at time.Time) error {
	if tx == nil {
		return errNoTx
	}
	entry := models.OutboxDLQ{
		ID:            uuid.New(),
		EventID:       event.ID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       event.Payload,
		ErrorReason:   reason,
		AttemptCount:  event.AttemptCount,
		FailedAt:      at,
	}
	if cause != nil {
		msg := clip(cause.Error())
		entry.ErrorMessage = &msg
	}
	return tx.Create(&entry).Error
}

// Backlog counts parked events.
func (r *DLQRepository) Backlog(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.OutboxDLQ{}).Count(&n).Error
	return n, err
}

// ForEvent returns the parked copy of eventID, or nil.
func (r *DLQRepository) ForEvent(ctx context.Context, eventID uuid.UUID) (*models.OutboxDLQ, error) {
	var rows []models.OutboxDLQ
	if err := r.db.WithContext(ctx).Where("event_id = ?", eventID).Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}
