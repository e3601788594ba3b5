package writer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	cbigquery "cloud.google.com/go/bigquery"

	"github.com/angelmondragon/settlement-engine/internal/analytics/types"
)

// Config sizes batches and retries. Zero values fall back to defaults.
type Config struct {
	FactsTable  string
	BatchSize   int
	RetryPolicy RetryPolicy
}

type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaximumBackoff time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = 250 * time.Millisecond
	}
	if p.MaximumBackoff < p.InitialBackoff {
		p.MaximumBackoff = max(2*time.Second, p.InitialBackoff)
	}
	return p
}

// delay is the wait before retry number n, counting from zero.
func (p RetryPolicy) delay(n int) time.Duration {
	d := p.InitialBackoff
	for i := 0; i < n && d < p.MaximumBackoff; i++ {
		d *= 2
	}
	return min(d, p.MaximumBackoff)
}

type factSink interface {
	PutFacts(ctx context.Context, rows []*cbigquery.StructSaver) error
}

// BigQueryWriter buffers settlement facts and streams them in batches. It is
// safe for concurrent use.
type BigQueryWriter struct {
	sink      factSink
	table     string
	batchSize int
	retry     RetryPolicy

	mu      sync.Mutex
	pending []types.SettlementFactRow
}

func New(sink factSink, cfg Config) (*BigQueryWriter, error) {
	if sink == nil {
		return nil, errors.New("bigquery client required")
	}
	table := strings.TrimSpace(cfg.FactsTable)
	if table == "" {
		return nil, errors.New("facts table is required")
	}
	return &BigQueryWriter{
		sink:      sink,
		table:     table,
		batchSize: max(cfg.BatchSize, 1),
		retry:     cfg.RetryPolicy.withDefaults(),
	}, nil
}

// InsertFact queues a row and writes the batch once it is full. Unbatched
// writers drop a row that failed every attempt so the caller can nack and
// redeliver it; batched writers keep the rows for the next flush.
func (w *BigQueryWriter) InsertFact(ctx context.Context, row types.SettlementFactRow) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending = append(w.pending, row)
	if len(w.pending) < w.batchSize {
		return nil
	}
	return w.drain(ctx)
}

// Flush writes whatever is queued.
func (w *BigQueryWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.drain(ctx)
}

func (w *BigQueryWriter) drain(ctx context.Context) error {
	if len(w.pending) == 0 {
		return nil
	}
	err := w.put(ctx, savers(w.pending))
	if err == nil || w.batchSize == 1 {
		w.pending = w.pending[:0]
	}
	return err
}

// savers keys every row by its event id so a retried batch is deduplicated
// on the BigQuery side.
func savers(rows []types.SettlementFactRow) []*cbigquery.StructSaver {
	out := make([]*cbigquery.StructSaver, len(rows))
	for i := range rows {
		out[i] = &cbigquery.StructSaver{Struct: &rows[i], InsertID: rows[i].EventID}
	}
	return out
}

func (w *BigQueryWriter) put(ctx context.Context, rows []*cbigquery.StructSaver) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := w.sink.PutFacts(ctx, rows)
		if err == nil {
			return nil
		}
		if attempt+1 >= w.retry.MaxAttempts || !retryable(err) {
			return fmt.Errorf("insert %d rows into %s: %w", len(rows), w.table, err)
		}

		timer := time.NewTimer(w.retry.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
