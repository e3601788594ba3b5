package payments

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/settlement-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
	"github.com/angelmondragon/settlement-engine/pkg/metrics"
)

func newTestPoller(t *testing.T, gw *fakeGateway, settle *stubSettler, maxPolls int, interval time.Duration) *Poller {
	t.Helper()
	p, err := NewPoller(PollerParams{
		Settler:  settle,
		Gateways: NewGateways(gw),
		Interval: interval,
		MaxPolls: maxPolls,
	})
	require.NoError(t, err)
	return p
}

func drain(t *testing.T, ch <-chan StatusEvent) []StatusEvent {
	t.Helper()
	var events []StatusEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("stream did not close, got %d events", len(events))
		}
	}
}

func terminalCount(events []StatusEvent) int {
	n := 0
	for _, ev := range events {
		if ev.Terminal {
			n++
		}
	}
	return n
}

func TestStreamSettlesOnSuccess(t *testing.T) {
	gw := newFakeGateway(enums.PaymentProviderNETS)
	gw.statuses = []PollStatus{
		{Status: StatusPending, ResponseCode: "09", TxnStatus: "0"},
		{Status: StatusSucceeded, ResponseCode: "00", TxnStatus: "1"},
	}
	settle := &stubSettler{}
	p := newTestPoller(t, gw, settle, 10, time.Millisecond)

	ch, err := p.Stream(context.Background(), enums.PaymentProviderNETS, "RR-1")
	require.NoError(t, err)
	events := drain(t, ch)

	require.Len(t, events, 2)
	assert.False(t, events[0].Terminal)
	assert.Equal(t, "09", events[0].ResponseCode)
	last := events[1]
	assert.True(t, last.Terminal)
	assert.Equal(t, metrics.OutcomeSettled, last.Outcome)
	assert.Equal(t, "00", last.ResponseCode)
	assert.Equal(t, "1", last.TxnStatus)
	require.NotNil(t, last.Settlement)
	assert.Equal(t, 1, settle.count())
}

func TestStreamStopsOnProviderFailure(t *testing.T) {
	gw := newFakeGateway(enums.PaymentProviderNETS)
	gw.statuses = []PollStatus{{Status: StatusFailed, ResponseCode: "05", TxnStatus: "2"}}
	settle := &stubSettler{}
	p := newTestPoller(t, gw, settle, 10, time.Millisecond)

	ch, err := p.Stream(context.Background(), enums.PaymentProviderNETS, "RR-1")
	require.NoError(t, err)
	events := drain(t, ch)

	require.Len(t, events, 1)
	assert.True(t, events[0].Terminal)
	assert.Equal(t, StatusFailed, events[0].Status)
	assert.Equal(t, metrics.OutcomeFailed, events[0].Outcome)
	assert.Equal(t, 0, settle.count())
}

func TestStreamTimesOutWithFinalFlagOnLastPoll(t *testing.T) {
	gw := newFakeGateway(enums.PaymentProviderNETS)
	settle := &stubSettler{}
	p := newTestPoller(t, gw, settle, 3, time.Millisecond)

	ch, err := p.Stream(context.Background(), enums.PaymentProviderNETS, "RR-1")
	require.NoError(t, err)
	events := drain(t, ch)

	require.Len(t, events, 3)
	assert.Equal(t, 1, terminalCount(events))
	last := events[2]
	assert.True(t, last.Terminal)
	assert.Equal(t, metrics.OutcomeTimeout, last.Outcome)
	assert.Equal(t, StatusFailed, last.Status)
	assert.Equal(t, []bool{false, false, true}, gw.queryFlags())
}

func TestStreamReportsSettlementFailure(t *testing.T) {
	gw := newFakeGateway(enums.PaymentProviderStripePayNow)
	gw.statuses = []PollStatus{{Status: StatusSucceeded, TxnStatus: "succeeded"}}
	settle := &stubSettler{err: pkgerrors.InsufficientStock("Widget", 2, 1)}
	p := newTestPoller(t, gw, settle, 5, time.Millisecond)

	ch, err := p.Stream(context.Background(), enums.PaymentProviderStripePayNow, "pi_1")
	require.NoError(t, err)
	events := drain(t, ch)

	require.Len(t, events, 1)
	assert.True(t, events[0].Terminal)
	assert.Equal(t, pkgerrors.CodeInsufficientStock, events[0].ErrorCode)
	assert.Equal(t, metrics.OutcomeFailed, events[0].Outcome)
}

func TestStreamCancelledByDisconnect(t *testing.T) {
	gw := newFakeGateway(enums.PaymentProviderNETS)
	settle := &stubSettler{}
	p := newTestPoller(t, gw, settle, 10, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := p.Stream(ctx, enums.PaymentProviderNETS, "RR-1")
	require.NoError(t, err)
	cancel()

	events := drain(t, ch)
	assert.Empty(t, events)
	assert.Empty(t, gw.queryFlags())
	assert.Equal(t, 0, settle.count())
}

func TestStreamRejectsSynchronousProviders(t *testing.T) {
	gw := newFakeGateway(enums.PaymentProviderPayPal)
	p := newTestPoller(t, gw, &stubSettler{}, 3, time.Millisecond)

	_, err := p.Stream(context.Background(), enums.PaymentProviderPayPal, "ORDER-1")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = p.Stream(context.Background(), enums.PaymentProviderNETS, "RR-1")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "unconfigured provider")
}
