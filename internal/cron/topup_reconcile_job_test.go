package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/settlement-engine/internal/payments"
	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
	"github.com/angelmondragon/settlement-engine/pkg/logger"
)

type fakeTopupLister struct {
	rows      []models.WalletTopup
	olderThan time.Time
	limit     int
	err       error
}

func (f *fakeTopupLister) ListPendingTopups(_ context.Context, olderThan time.Time, limit int) ([]models.WalletTopup, error) {
	f.olderThan = olderThan
	f.limit = limit
	return f.rows, f.err
}

type fakeSettler struct {
	refs   []string
	errFor map[string]error
}

func (f *fakeSettler) SettlePending(_ context.Context, provider enums.PaymentProvider, ref string) (*payments.Settlement, error) {
	f.refs = append(f.refs, string(provider)+"|"+ref)
	if err := f.errFor[ref]; err != nil {
		return nil, err
	}
	return &payments.Settlement{Provider: provider, ProviderRef: ref}, nil
}

func pendingTopup(provider enums.PaymentProvider, ref string) models.WalletTopup {
	return models.WalletTopup{
		ID:          uuid.New(),
		UserID:      uuid.New(),
		Provider:    provider,
		Amount:      decimal.RequireFromString("10.00"),
		Status:      enums.TopupStatusPending,
		ProviderRef: string(provider) + ":" + ref,
	}
}

func TestTopupReconcileSettlesWithProviderReference(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	lister := &fakeTopupLister{rows: []models.WalletTopup{
		pendingTopup(enums.PaymentProviderNETS, "RR-1"),
		pendingTopup(enums.PaymentProviderStripePayNow, "pi_2"),
	}}
	settler := &fakeSettler{errFor: map[string]error{
		"pi_2": pkgerrors.New(pkgerrors.CodeProviderNotCompleted, "still waiting"),
	}}
	jobIface, err := NewTopupReconcileJob(TopupReconcileJobParams{Logger: logger.Nop(), Topups: lister, Settler: settler})
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	job := jobIface.(*topupReconcileJob)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !lister.olderThan.Equal(now.Add(-defaultTopupGrace)) || lister.limit != defaultTopupBatchSize {
		t.Fatalf("unexpected query window %s limit %d", lister.olderThan, lister.limit)
	}
	want := []string{"nets|RR-1", "stripe_paynow|pi_2"}
	if len(settler.refs) != len(want) {
		t.Fatalf("expected %v, got %v", want, settler.refs)
	}
	for i := range want {
		if settler.refs[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, settler.refs)
		}
	}
}

func TestTopupReconcileCombinesFailures(t *testing.T) {
	lister := &fakeTopupLister{rows: []models.WalletTopup{
		pendingTopup(enums.PaymentProviderNETS, "RR-1"),
		pendingTopup(enums.PaymentProviderNETS, "RR-2"),
	}}
	settler := &fakeSettler{errFor: map[string]error{
		"RR-1": errors.New("nets down"),
		"RR-2": errors.New("nets still down"),
	}}
	job, err := NewTopupReconcileJob(TopupReconcileJobParams{Logger: logger.Nop(), Topups: lister, Settler: settler})
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	err = job.Run(context.Background())
	if err == nil {
		t.Fatal("expected combined error")
	}
	if len(settler.refs) != 2 {
		t.Fatalf("expected every topup attempted, got %d", len(settler.refs))
	}
}

func TestTopupReconcileListError(t *testing.T) {
	job, _ := NewTopupReconcileJob(TopupReconcileJobParams{
		Logger:  logger.Nop(),
		Topups:  &fakeTopupLister{err: errors.New("db down")},
		Settler: &fakeSettler{},
	})
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
