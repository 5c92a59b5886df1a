package sms

import (
	"context"
	"errors"
	"net/url"
	"time"

	"smsrelay/internal/config"
	"smsrelay/internal/external"
	"smsrelay/internal/notifications/core"
	"smsrelay/internal/types"
)

// QueueStore applies partial updates to queue item documents.
type QueueStore interface {
	Update(ctx context.Context, ref types.QueueItemRef, upd types.QueueItemUpdate) error
}

// DispatchResult summarizes one dispatch.
type DispatchResult struct {
	Sent       bool
	Attempts   int
	MessageSID string
	LastError  string
}

// Dispatcher sends a validated queue item through the SMS provider with a
// bounded attempt loop and records every state change on the item.
type Dispatcher struct {
	provider external.SMSProvider
	store    QueueStore
	sender   config.TwilioConfig
	policy   core.RetryPolicy
	sleepFn  func(time.Duration)
	clock    types.Clock
	metrics  core.SMSMetrics
	logger   types.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithSleep replaces time.Sleep between attempts.
func WithSleep(fn func(time.Duration)) DispatcherOption {
	return func(d *Dispatcher) { d.sleepFn = fn }
}

// WithRetryPolicy overrides the attempt budget and the waits between
// attempts. The default is core.SMSRetryPolicy.
func WithRetryPolicy(p core.RetryPolicy) DispatcherOption {
	return func(d *Dispatcher) { d.policy = p }
}

// WithClock sets the clock used to measure dispatch latency.
func WithClock(c types.Clock) DispatcherOption {
	return func(d *Dispatcher) { d.clock = c }
}

// WithMetrics sets the recorder for attempt counts and dispatch latency.
// Without it nothing is recorded.
func WithMetrics(m core.SMSMetrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// NewDispatcher validates the provider configuration before anything else so
// a misconfigured function fails without touching any item.
func NewDispatcher(provider external.SMSProvider, store QueueStore, twilio config.TwilioConfig, logger types.Logger, opts ...DispatcherOption) (*Dispatcher, error) {
	if err := twilio.Validate(); err != nil {
		return nil, err
	}
	d := &Dispatcher{
		provider: provider,
		store:    store,
		sender:   twilio,
		policy:   core.SMSRetryPolicy,
		sleepFn:  time.Sleep,
		clock:    types.RealClock{},
		metrics:  core.NoopMetrics{},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// BuildMessage assembles the provider request. A messaging service takes
// precedence over the from number. When a callback base URL is configured the
// callback carries userId and queueId as query parameters.
func (d *Dispatcher) BuildMessage(ref types.QueueItemRef, to, body string) types.SMSMessage {
	msg := types.SMSMessage{To: to, Body: body}
	if d.sender.MessagingServiceSID != "" {
		msg.MessagingServiceSID = d.sender.MessagingServiceSID
	} else {
		msg.From = d.sender.FromNumber
	}
	if d.sender.StatusCallbackURL != "" {
		msg.StatusCallback = statusCallbackURL(d.sender.StatusCallbackURL, ref)
	}
	return msg
}

func statusCallbackURL(base string, ref types.QueueItemRef) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set("userId", ref.UserID)
	q.Set("queueId", ref.QueueID)
	u.RawQuery = q.Encode()
	return u.String()
}

// Dispatch marks the item processing, renders the body, and runs the attempt
// loop. Provider failures are recorded on the item and reported through the
// result; only store errors are returned. When the processing write is refused
// with conflict_status_transition another delivery owns the item and nothing
// is sent.
func (d *Dispatcher) Dispatch(ctx context.Context, ref types.QueueItemRef, item types.QueueItem, settings Settings) (DispatchResult, error) {
	log := d.logger.With("user_id", ref.UserID, "queue_id", ref.QueueID, "transaction_id", item.TransactionID)
	started := d.clock.Now()

	processing := types.QueueStatusProcessing
	if err := d.store.Update(ctx, ref, types.QueueItemUpdate{Status: &processing}); err != nil {
		return DispatchResult{}, err
	}

	body := RenderTemplate(settings.Template, MessageVars(item))
	msg := d.BuildMessage(ref, item.To, body)

	var res DispatchResult
	for k := 1; k <= d.policy.MaxAttempts; k++ {
		attempts := item.Attempts + k
		res.Attempts = attempts

		sid, sendErr := d.provider.Send(ctx, msg)
		if sendErr == nil {
			sent := types.QueueStatusSent
			if err := d.store.Update(ctx, ref, types.QueueItemUpdate{
				Status:         &sent,
				Attempts:       &attempts,
				ClearLastError: true,
				MessageSID:     &sid,
			}); err != nil {
				return res, err
			}
			res.Sent, res.MessageSID, res.LastError = true, sid, ""
			log.Info("sms sent", "attempt", k, "message_sid", sid, "to", types.MaskPhone(item.To))
			d.finish(ctx, res, started)
			return res, nil
		}

		res.LastError = failureMessage(sendErr)
		log.Warn("sms send attempt failed", "attempt", k, "error", sendErr.Error())
		if err := d.store.Update(ctx, ref, types.QueueItemUpdate{
			Attempts:  &attempts,
			LastError: &res.LastError,
		}); err != nil {
			return res, err
		}
		if wait := d.policy.DelayAfter(k); wait > 0 {
			d.sleepFn(wait)
		}
	}

	failed := types.QueueStatusFailed
	if err := d.store.Update(ctx, ref, types.QueueItemUpdate{
		Status:    &failed,
		LastError: &res.LastError,
	}); err != nil {
		return res, err
	}
	log.Error("sms send failed after retries", "attempts", res.Attempts, "last_error", res.LastError)
	d.finish(ctx, res, started)
	return res, nil
}

func (d *Dispatcher) finish(ctx context.Context, res DispatchResult, started time.Time) {
	d.metrics.RecordAttempts(ctx, res.Attempts)
	d.metrics.RecordDispatchLatency(ctx, d.clock.Now().Sub(started))
}

// failureMessage is the text persisted as lastError: the AppError message
// when there is one, otherwise the raw error string.
func failureMessage(err error) string {
	var appErr *types.AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return err.Error()
}
