package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	"github.com/angelmondragon/settlement-engine/pkg/logger"
)

var errNoTx = errors.New("transaction required")

// DomainEvent is a state change to announce. Data is any JSON-encodable
// payload from pkg/outbox/payloads.
type DomainEvent struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   uuid.UUID
	Actor         *ActorRef
	Data          any
	Version       int
	OccurredAt    time.Time
}

// Service records domain events in outbox_events. It never publishes; the
// outbox-publisher relay does that once the row is committed.
type Service struct {
	repo *Repository
	logg *logger.Logger
	now  func() time.Time
}

func NewService(repo *Repository, logg *logger.Logger) *Service {
	return &Service{repo: repo, logg: logg, now: func() time.Time { return time.Now().UTC() }}
}

// Emit stages the event on tx, so it commits or rolls back with the state
// change it describes.
func (s *Service) Emit(ctx context.Context, tx *gorm.DB, event DomainEvent) error {
	_, err := s.write(ctx, tx, event, false)
	return err
}

// EmitOnce is Emit for events that may only exist once per aggregate. A
// second emission of the same (type, aggregate) is dropped and reports false.
func (s *Service) EmitOnce(ctx context.Context, tx *gorm.DB, event DomainEvent) (bool, error) {
	return s.write(ctx, tx, event, true)
}

func (s *Service) write(ctx context.Context, tx *gorm.DB, event DomainEvent, once bool) (bool, error) {
	if tx == nil {
		return false, errNoTx
	}
	id := uuid.New()
	env, raw, err := seal(event, id, s.now())
	if err != nil {
		return false, err
	}
	row := models.OutboxEvent{
		ID:            id,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       raw,
	}

	tx = tx.WithContext(ctx)
	written := true
	if once {
		written, err = s.repo.InsertOnce(tx, row)
	} else {
		err = s.repo.Insert(tx, row)
	}
	if err != nil {
		return false, err
	}

	if s.logg != nil {
		msg := "outbox event staged"
		if !written {
			msg = "outbox event already staged"
		}
		s.logg.Debug(s.logg.WithFields(ctx, map[string]any{
			"event_id":       env.EventID,
			"event_type":     event.EventType,
			"aggregate_type": event.AggregateType,
			"aggregate_id":   event.AggregateID.String(),
		}), msg)
	}
	return written, nil
}
