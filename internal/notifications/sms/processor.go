package sms

import (
	"context"

	"smsrelay/internal/notifications/core"
	"smsrelay/internal/types"
)

// ItemStore is the QueueStore the Processor also reads from, so it can act on
// the stored item rather than the event snapshot.
type ItemStore interface {
	QueueStore
	Get(ctx context.Context, ref types.QueueItemRef) (*types.QueueItem, error)
}

// Processor runs the full pipeline for one newly created queue item.
//
// Delivery is at most once per item: Process only acts on an item whose stored
// status is queued, and the store refuses a second claim. A redelivered event
// for an item that is already processing, sent or failed is acknowledged
// without contacting the provider.
type Processor struct {
	settings   *SettingsResolver
	store      ItemStore
	dispatcher *Dispatcher
	window     *core.WindowEvaluator
	clock      types.Clock
	metrics    core.SMSMetrics
	logger     types.Logger
}

// ProcessorDeps groups the collaborators of a Processor. Settings, Store,
// Dispatcher and Logger are required; Window, Clock and Metrics fall back to
// the default evaluator, the wall clock and a no-op recorder.
type ProcessorDeps struct {
	Settings   *SettingsResolver
	Store      ItemStore
	Dispatcher *Dispatcher
	Window     *core.WindowEvaluator
	Clock      types.Clock
	Metrics    core.SMSMetrics
	Logger     types.Logger
}

// NewProcessor wires a Processor from deps, filling the optional ones.
func NewProcessor(deps ProcessorDeps) *Processor {
	p := &Processor{
		settings:   deps.Settings,
		store:      deps.Store,
		dispatcher: deps.Dispatcher,
		window:     deps.Window,
		clock:      deps.Clock,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
	}
	if p.window == nil {
		p.window = core.NewWindowEvaluator(nil)
	}
	if p.clock == nil {
		p.clock = types.RealClock{}
	}
	if p.metrics == nil {
		p.metrics = core.NoopMetrics{}
	}
	return p
}

// Process re-reads the item, resolves settings, applies the eligibility gate,
// evaluates the send window, and dispatches. The stored item wins over the
// event snapshot in item; only its TransactionID is used before the read.
//
// A gate rejection is a single failed write and is not an error. An item that
// is missing, no longer queued, or claimed by a concurrent delivery yields
// SendResultSkipped and no error, so the event is acknowledged. Settings and
// store errors are returned for the caller to surface as an invocation
// failure.
func (p *Processor) Process(ctx context.Context, ref types.QueueItemRef, item types.QueueItem) (types.SendResult, error) {
	log := p.logger.With("user_id", ref.UserID, "queue_id", ref.QueueID, "transaction_id", item.TransactionID)

	stored, err := p.store.Get(ctx, ref)
	if err != nil {
		if types.HasErrorCode(err, types.ErrCodeNotFoundQueueItem) {
			log.Warn("queue item not found, skipping")
			return p.skipped(ctx), nil
		}
		return "", err
	}
	if stored.Status != types.QueueStatusQueued {
		log.Info("queue item already handled, skipping", "status", string(stored.Status), "terminal", stored.Status.IsTerminal())
		return p.skipped(ctx), nil
	}
	item = *stored

	settings, err := p.settings.Resolve(ctx, ref.UserID)
	if err != nil {
		return "", err
	}

	if reason := CheckEligibility(settings, item); reason != "" {
		failed := types.QueueStatusFailed
		if err := p.store.Update(ctx, ref, types.QueueItemUpdate{Status: &failed, LastError: &reason}); err != nil {
			if types.HasErrorCode(err, types.ErrCodeConflictStatusTransition) {
				log.Info("queue item claimed elsewhere, skipping rejection", "error", err.Error())
				return p.skipped(ctx), nil
			}
			return "", err
		}
		log.Info("sms rejected", "reason", reason, "to", types.MaskPhone(item.To))
		p.metrics.RecordSendResult(ctx, types.SendResultRejected)
		return types.SendResultRejected, nil
	}

	// Advisory only: both outcomes proceed to dispatch.
	inWindow, werr := p.window.InWindow(p.clock.Now(), settings.WindowStart, settings.WindowEnd)
	if werr != nil {
		log.Warn("invalid send window", "start", settings.WindowStart, "end", settings.WindowEnd, "error", werr.Error())
	}
	log.Info("dispatching sms", "in_send_window", inWindow)

	res, err := p.dispatcher.Dispatch(ctx, ref, item, settings)
	if err != nil {
		if types.HasErrorCode(err, types.ErrCodeConflictStatusTransition) {
			log.Info("queue item claimed elsewhere, skipping", "error", err.Error())
			return p.skipped(ctx), nil
		}
		return "", err
	}
	result := types.SendResultFailed
	if res.Sent {
		result = types.SendResultSent
	}
	p.metrics.RecordSendResult(ctx, result)
	return result, nil
}

func (p *Processor) skipped(ctx context.Context) types.SendResult {
	p.metrics.RecordSendResult(ctx, types.SendResultSkipped)
	return types.SendResultSkipped
}
