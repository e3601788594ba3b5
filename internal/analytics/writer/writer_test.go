package writer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/settlement-engine/internal/analytics/types"
)

type scriptedSink struct {
	errs    []error
	batches [][]*cbigquery.StructSaver
}

func (s *scriptedSink) PutFacts(_ context.Context, rows []*cbigquery.StructSaver) error {
	s.batches = append(s.batches, rows)
	if len(s.errs) == 0 {
		return nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return err
}

func newTestWriter(t *testing.T, batch int, errs ...error) (*BigQueryWriter, *scriptedSink) {
	t.Helper()
	sink := &scriptedSink{errs: errs}
	w, err := New(sink, Config{
		FactsTable:  "settlement_facts",
		BatchSize:   batch,
		RetryPolicy: RetryPolicy{InitialBackoff: time.Millisecond, MaximumBackoff: 4 * time.Millisecond},
	})
	require.NoError(t, err)
	return w, sink
}

func fact(id string) types.SettlementFactRow {
	return types.SettlementFactRow{EventID: id, EventType: "payment.settled"}
}

func TestNewRequiresSinkAndTable(t *testing.T) {
	_, err := New(nil, Config{FactsTable: "facts"})
	assert.Error(t, err)
	_, err = New(&scriptedSink{}, Config{FactsTable: " "})
	assert.Error(t, err)

	w, err := New(&scriptedSink{}, Config{FactsTable: "facts"})
	require.NoError(t, err)
	assert.Equal(t, 1, w.batchSize)
	assert.Equal(t, 3, w.retry.MaxAttempts)
}

func TestInsertFactKeysRowsByEventID(t *testing.T) {
	w, sink := newTestWriter(t, 1)

	require.NoError(t, w.InsertFact(context.Background(), fact("evt-1")))
	require.Len(t, sink.batches, 1)
	require.Len(t, sink.batches[0], 1)
	assert.Equal(t, "evt-1", sink.batches[0][0].InsertID)
	row, ok := sink.batches[0][0].Struct.(*types.SettlementFactRow)
	require.True(t, ok)
	assert.Equal(t, "payment.settled", row.EventType)
}

func TestTransientFailureIsRetried(t *testing.T) {
	w, sink := newTestWriter(t, 1, &googleapi.Error{Code: http.StatusServiceUnavailable})

	require.NoError(t, w.InsertFact(context.Background(), fact("evt-1")))
	assert.Len(t, sink.batches, 2)
	assert.Empty(t, w.pending)
}

func TestPermanentFailureStopsAndDropsUnbatchedRow(t *testing.T) {
	w, sink := newTestWriter(t, 1, &googleapi.Error{Code: http.StatusBadRequest})

	err := w.InsertFact(context.Background(), fact("evt-1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "settlement_facts")
	assert.Len(t, sink.batches, 1)
	assert.Empty(t, w.pending)
}

func TestBatchedRowsSurviveFailedFlush(t *testing.T) {
	w, sink := newTestWriter(t, 2, &googleapi.Error{Code: http.StatusBadRequest})

	require.NoError(t, w.InsertFact(context.Background(), fact("evt-1")))
	assert.Empty(t, sink.batches)

	require.Error(t, w.InsertFact(context.Background(), fact("evt-2")))
	assert.Len(t, w.pending, 2)

	require.NoError(t, w.Flush(context.Background()))
	require.Len(t, sink.batches, 2)
	assert.Len(t, sink.batches[1], 2)
	assert.Empty(t, w.pending)
}

func TestRetriesStopAtMaxAttempts(t *testing.T) {
	unavailable := status.Error(codes.Unavailable, "down")
	w, sink := newTestWriter(t, 1, unavailable, unavailable, unavailable, unavailable)

	err := w.InsertFact(context.Background(), fact("evt-1"))
	require.Error(t, err)
	assert.Len(t, sink.batches, 3)
}

func TestCancelledContextSkipsInsert(t *testing.T) {
	w, sink := newTestWriter(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, w.InsertFact(ctx, fact("evt-1")), context.Canceled)
	assert.Empty(t, sink.batches)
}

func TestRetryDelayIsCapped(t *testing.T) {
	p := RetryPolicy{InitialBackoff: 10 * time.Millisecond, MaximumBackoff: 50 * time.Millisecond}.withDefaults()
	assert.Equal(t, 10*time.Millisecond, p.delay(0))
	assert.Equal(t, 20*time.Millisecond, p.delay(1))
	assert.Equal(t, 40*time.Millisecond, p.delay(2))
	assert.Equal(t, 50*time.Millisecond, p.delay(3))
	assert.Equal(t, 50*time.Millisecond, p.delay(10))
}

func TestRetryable(t *testing.T) {
	transient := &googleapi.Error{Code: http.StatusTooManyRequests}
	invalid := &googleapi.Error{Code: http.StatusBadRequest}
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited", transient, true},
		{"bad request", invalid, false},
		{"grpc unavailable", status.Error(codes.Unavailable, "down"), true},
		{"grpc invalid argument", status.Error(codes.InvalidArgument, "bad"), false},
		{"plain error", errors.New("boom"), false},
		{"all rows transient", cbigquery.PutMultiError{{Errors: cbigquery.MultiError{transient}}}, true},
		{"one row invalid", cbigquery.PutMultiError{
			{Errors: cbigquery.MultiError{transient}},
			{Errors: cbigquery.MultiError{invalid}},
		}, false},
		{"empty multi", cbigquery.MultiError{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, retryable(tc.err))
		})
	}
}

func TestEncodeJSON(t *testing.T) {
	nj, err := EncodeJSON(map[string]any{"order": "o-1"})
	require.NoError(t, err)
	assert.True(t, nj.Valid)
	assert.JSONEq(t, `{"order":"o-1"}`, nj.JSONVal)

	nj, err = EncodeJSON(nil)
	require.NoError(t, err)
	assert.False(t, nj.Valid)

	nj, err = EncodeJSON(json.RawMessage(`{"a":1}`))
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, nj.JSONVal)

	nj, err = EncodeJSON([]byte{})
	require.NoError(t, err)
	assert.False(t, nj.Valid)

	_, err = EncodeJSON(make(chan int))
	assert.Error(t, err)
}
