package outbox

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-engine/pkg/db/dbtest"
	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
)

func TestEmitWritesEnvelope(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewService(NewRepository(conn), nil)
	orderID := uuid.New()

	err := conn.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Data:          map[string]string{"total": "21.50"},
		})
	})
	require.NoError(t, err)

	var row models.OutboxEvent
	require.NoError(t, conn.First(&row).Error)
	require.Equal(t, orderID, row.AggregateID)

	envelope, err := OpenEnvelope(row.Payload)
	require.NoError(t, err)
	require.Equal(t, EnvelopeVersion, envelope.Version)
	require.NotEmpty(t, envelope.EventID)
	require.JSONEq(t, `{"total":"21.50"}`, string(envelope.Data))
}

func TestEmitRollsBackWithTransaction(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewService(NewRepository(conn), nil)

	err := conn.Transaction(func(tx *gorm.DB) error {
		if err := svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventPaymentSettled,
			AggregateType: enums.AggregatePayment,
			AggregateID:   uuid.New(),
			Data:          map[string]string{},
		}); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.Error(t, err)
	require.Zero(t, dbtest.Count(t, conn, &models.OutboxEvent{}))
}

func TestEmitOnceSkipsSecondEmission(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewService(NewRepository(conn), nil)
	event := DomainEvent{
		EventType:     enums.EventPaymentRefunded,
		AggregateType: enums.AggregatePayment,
		AggregateID:   uuid.New(),
		Data:          map[string]string{"amount": "12.50"},
	}

	var written []bool
	for i := 0; i < 2; i++ {
		require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
			ok, err := svc.EmitOnce(context.Background(), tx, event)
			written = append(written, ok)
			return err
		}))
	}
	require.Equal(t, []bool{true, false}, written)
	require.Equal(t, int64(1), dbtest.Count(t, conn, &models.OutboxEvent{}))
}

func TestOpenEnvelope(t *testing.T) {
	env, err := OpenEnvelope([]byte(`{"version":1,"eventId":"e1","data":{"k":1}}`))
	require.NoError(t, err)
	require.Equal(t, "e1", env.EventID)

	_, err = OpenEnvelope([]byte(`{"version":1,"eventId":"e1","data":null}`))
	require.ErrorIs(t, err, ErrEmptyPayload)

	_, err = OpenEnvelope([]byte(`not json`))
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrEmptyPayload)
}

func TestRepositoryPublishLifecycle(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	svc := NewService(repo, nil)

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventWalletCredited,
			AggregateType: enums.AggregateWallet,
			AggregateID:   uuid.New(),
			Data:          map[string]string{},
		})
	}))

	rows, err := repo.FetchUnpublishedForPublish(conn, 10, 3)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	require.NoError(t, repo.MarkFailedTx(conn, rows[0].ID, errors.New("pubsub down")))
	require.NoError(t, repo.MarkTerminalTx(conn, rows[0].ID, errors.New("bad payload"), 3))

	rows, err = repo.FetchUnpublishedForPublish(conn, 10, 3)
	require.NoError(t, err)
	require.Empty(t, rows)
}
