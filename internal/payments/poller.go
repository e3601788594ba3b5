package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/settlement-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
	"github.com/angelmondragon/settlement-engine/pkg/logger"
	"github.com/angelmondragon/settlement-engine/pkg/metrics"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultMaxPolls     = 60
)

// StatusEvent is one message on a payment status stream. The last event of a
// stream that was not cancelled has Terminal set.
type StatusEvent struct {
	Attempt      int            `json:"attempt"`
	Status       Status         `json:"status"`
	ResponseCode string         `json:"response_code"`
	TxnStatus    string         `json:"txn_status"`
	Terminal     bool           `json:"terminal"`
	Outcome      string         `json:"outcome,omitempty"`
	Settlement   *Settlement    `json:"settlement,omitempty"`
	ErrorCode    pkgerrors.Code `json:"error_code,omitempty"`
	Error        string         `json:"error,omitempty"`
}

type settler interface {
	SettlePending(ctx context.Context, provider enums.PaymentProvider, ref string) (*Settlement, error)
}

// PollerParams configures a Poller. Zero Interval and MaxPolls take defaults.
type PollerParams struct {
	Settler  settler
	Gateways Gateways
	Interval time.Duration
	MaxPolls int
	Metrics  *metrics.SettlementMetrics
	Logger   *logger.Logger
}

// Poller drives the status stream of asynchronous payments.
type Poller struct {
	settler  settler
	gateways Gateways
	interval time.Duration
	maxPolls int
	metrics  *metrics.SettlementMetrics
	logg     *logger.Logger
}

func NewPoller(params PollerParams) (*Poller, error) {
	if params.Settler == nil {
		return nil, fmt.Errorf("settler required")
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	maxPolls := params.MaxPolls
	if maxPolls <= 0 {
		maxPolls = defaultMaxPolls
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Poller{
		settler:  params.Settler,
		gateways: params.Gateways,
		interval: interval,
		maxPolls: maxPolls,
		metrics:  params.Metrics,
		logg:     logg,
	}, nil
}

// Stream polls the provider every interval until the payment succeeds, fails
// or the poll budget runs out. The last poll asks the provider for its
// authoritative timeout status. Cancelling ctx stops the timer and closes the
// channel without a terminal event; a settlement already under way still
// completes.
func (p *Poller) Stream(ctx context.Context, provider enums.PaymentProvider, ref string) (<-chan StatusEvent, error) {
	if !provider.IsAsync() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "provider does not settle asynchronously").
			WithDetails(map[string]any{"provider": provider})
	}
	if ref == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "provider reference required")
	}
	gw, err := p.gateways.Get(provider)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "payment provider unavailable")
	}

	out := make(chan StatusEvent, 1)
	go p.run(ctx, gw, ref, out)
	return out, nil
}

func (p *Poller) run(ctx context.Context, gw Gateway, ref string, out chan<- StatusEvent) {
	defer close(out)
	provider := gw.Provider()
	ctx = p.logg.WithFields(ctx, map[string]any{"provider": provider.String(), "provider_ref": ref})

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for attempt := 1; attempt <= p.maxPolls; attempt++ {
		select {
		case <-ctx.Done():
			p.metrics.IncPollOutcome(provider.String(), metrics.OutcomeCancelled)
			return
		case <-ticker.C:
		}

		final := attempt == p.maxPolls
		event := p.poll(ctx, gw, ref, attempt, final)
		if ctx.Err() != nil && !event.Terminal {
			p.metrics.IncPollOutcome(provider.String(), metrics.OutcomeCancelled)
			return
		}
		if event.Terminal {
			p.metrics.IncPollOutcome(provider.String(), event.Outcome)
		}
		select {
		case out <- event:
		case <-ctx.Done():
			if !event.Terminal {
				p.metrics.IncPollOutcome(provider.String(), metrics.OutcomeCancelled)
			}
			return
		}
		if event.Terminal {
			return
		}
	}
}

func (p *Poller) poll(ctx context.Context, gw Gateway, ref string, attempt int, final bool) StatusEvent {
	event := StatusEvent{Attempt: attempt, Status: StatusPending}

	status, err := gw.QueryStatus(ctx, ref, final)
	if err != nil {
		p.logg.Warn(ctx, fmt.Sprintf("status query %d failed: %v", attempt, err))
		if final {
			return terminalError(event, metrics.OutcomeTimeout, err)
		}
		return withError(event, err)
	}
	event.Status = status.Status
	event.ResponseCode = status.ResponseCode
	event.TxnStatus = status.TxnStatus

	switch {
	case status.Status == StatusSucceeded:
		settlement, err := p.settler.SettlePending(context.WithoutCancel(ctx), gw.Provider(), ref)
		if err != nil {
			p.logg.Error(ctx, "settlement after provider success failed", err)
			return terminalError(event, metrics.OutcomeFailed, err)
		}
		event.Terminal = true
		event.Settlement = settlement
		event.Outcome = metrics.OutcomeSettled
		if settlement.Duplicate {
			event.Outcome = metrics.OutcomeDuplicate
		}
	case status.Status == StatusFailed:
		event.Terminal = true
		event.Outcome = metrics.OutcomeFailed
	case final:
		event.Terminal = true
		event.Status = StatusFailed
		event.Outcome = metrics.OutcomeTimeout
	}
	return event
}

func terminalError(event StatusEvent, outcome string, err error) StatusEvent {
	event = withError(event, err)
	event.Terminal = true
	event.Status = StatusFailed
	event.Outcome = outcome
	return event
}

func withError(event StatusEvent, err error) StatusEvent {
	event.Error = err.Error()
	if typed := pkgerrors.As(err); typed != nil {
		event.ErrorCode = typed.Code()
		event.Error = typed.Message()
	}
	return event
}
