package payments

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/settlement-engine/internal/checkout"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
)

type fakeGateway struct {
	mu        sync.Mutex
	provider  enums.PaymentProvider
	captures  map[string]*Capture
	statuses  []PollStatus
	queries   []bool
	refunds   []string
	refundErr error
	intents   int

	// onCapture runs once, outside the lock, before the next capture answers.
	onCapture func()
}

func newFakeGateway(provider enums.PaymentProvider) *fakeGateway {
	return &fakeGateway{provider: provider, captures: map[string]*Capture{}}
}

func (g *fakeGateway) Provider() enums.PaymentProvider { return g.provider }

func (g *fakeGateway) CreateIntentOrOrder(_ context.Context, _ decimal.Decimal, _, _ string) (*Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.intents++
	return &Intent{Ref: fmt.Sprintf("%s-REF-%d", g.provider, g.intents), QRCode: "qr"}, nil
}

func (g *fakeGateway) CaptureOrConfirm(_ context.Context, ref string) (*Capture, error) {
	g.mu.Lock()
	hook := g.onCapture
	g.onCapture = nil
	g.mu.Unlock()
	if hook != nil {
		hook()
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	capture, ok := g.captures[ref]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "unknown provider reference")
	}
	copied := *capture
	return &copied, nil
}

func (g *fakeGateway) QueryStatus(_ context.Context, _ string, finalAttempt bool) (*PollStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queries = append(g.queries, finalAttempt)
	idx := len(g.queries) - 1
	if idx >= len(g.statuses) {
		idx = len(g.statuses) - 1
	}
	if idx < 0 {
		return &PollStatus{Status: StatusPending, ResponseCode: "09", TxnStatus: "0"}, nil
	}
	status := g.statuses[idx]
	return &status, nil
}

func (g *fakeGateway) Refund(_ context.Context, ref string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refundErr != nil {
		return g.refundErr
	}
	g.refunds = append(g.refunds, ref)
	return nil
}

func (g *fakeGateway) capture(ref string, c Capture) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.captures[ref] = &c
}

func (g *fakeGateway) queryFlags() []bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]bool(nil), g.queries...)
}

func (g *fakeGateway) refunded() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.refunds...)
}

type memoryPending struct {
	mu     sync.Mutex
	byUser map[uuid.UUID]checkout.Pending
	claims map[string]bool
}

func newMemoryPending() *memoryPending {
	return &memoryPending{byUser: map[uuid.UUID]checkout.Pending{}, claims: map[string]bool{}}
}

func (m *memoryPending) Save(_ context.Context, p checkout.Pending) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byUser[p.UserID] = p
	return nil
}

func (m *memoryPending) Load(_ context.Context, userID uuid.UUID) (*checkout.Pending, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byUser[userID]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no pending checkout")
	}
	return &p, nil
}

func (m *memoryPending) LoadByRef(_ context.Context, ref string) (*checkout.Pending, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.byUser {
		if p.ProviderRef == ref {
			copied := p
			return &copied, nil
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no pending checkout for reference")
}

func (m *memoryPending) Clear(_ context.Context, p checkout.Pending) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.byUser[p.UserID]; ok && current.ProviderRef == p.ProviderRef {
		delete(m.byUser, p.UserID)
	}
	return nil
}

func (m *memoryPending) Claim(_ context.Context, provider enums.PaymentProvider, ref string) (func(context.Context), bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := provider.String() + ":" + ref
	if m.claims[key] {
		return nil, false, nil
	}
	m.claims[key] = true
	return func(context.Context) {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.claims, key)
	}, true, nil
}

type stubSettler struct {
	mu    sync.Mutex
	calls int
	out   *Settlement
	err   error
}

func (s *stubSettler) SettlePending(_ context.Context, provider enums.PaymentProvider, ref string) (*Settlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if s.out != nil {
		return s.out, nil
	}
	return &Settlement{Kind: checkout.KindOrder, Provider: provider, ProviderRef: ref}, nil
}

func (s *stubSettler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
