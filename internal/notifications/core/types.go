// Package core holds delivery infrastructure shared by the SMS pipeline and the
// status webhook: send-window evaluation, the dispatch retry schedule, and
// CloudWatch metrics.
package core

import (
	"context"
	"time"

	"smsrelay/internal/types"
)

// RetryPolicy defines the attempt budget and backoff schedule of a send loop.
type RetryPolicy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// SMSRetryPolicy waits 1s after the first failure and 3s after the second.
var SMSRetryPolicy = RetryPolicy{
	MaxAttempts:   3,
	BaseDelay:     1 * time.Second,
	MaxDelay:      3 * time.Second,
	BackoffFactor: 3.0,
}

// CalculateNextRetry returns min(BaseDelay * BackoffFactor^failures, MaxDelay),
// where failures counts the failures before the one just observed.
func CalculateNextRetry(policy RetryPolicy, failures int) time.Duration {
	if failures < 0 {
		failures = 0
	}
	delay := float64(policy.BaseDelay)
	for i := 0; i < failures; i++ {
		delay *= policy.BackoffFactor
	}
	return min(time.Duration(delay), policy.MaxDelay)
}

// DelayAfter returns the wait following the attempt-th failed attempt (1-based).
// It is zero once the budget is spent, so the final failure is never followed
// by a sleep.
func (p RetryPolicy) DelayAfter(attempt int) time.Duration {
	if attempt < 1 || attempt >= p.MaxAttempts {
		return 0
	}
	return CalculateNextRetry(p, attempt-1)
}

// SMSMetrics abstracts telemetry for the SMS pipeline.
type SMSMetrics interface {
	RecordSendResult(ctx context.Context, result types.SendResult)
	RecordAttempts(ctx context.Context, attempts int)
	RecordDispatchLatency(ctx context.Context, d time.Duration)
	RecordStatusCallback(ctx context.Context, deliveryStatus string)
}

// NoopMetrics discards every metric.
type NoopMetrics struct{}

func (NoopMetrics) RecordSendResult(context.Context, types.SendResult)  {}
func (NoopMetrics) RecordAttempts(context.Context, int)                 {}
func (NoopMetrics) RecordDispatchLatency(context.Context, time.Duration) {}
func (NoopMetrics) RecordStatusCallback(context.Context, string)        {}

var _ SMSMetrics = NoopMetrics{}
