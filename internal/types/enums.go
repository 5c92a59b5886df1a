package types

// QueueStatus represents the lifecycle state of an SMS queue item.
//
// Transitions are forward-only:
//
//	queued -> processing -> sent | failed
//	queued -> failed (validation rejection)
type QueueStatus string

const (
	QueueStatusQueued     QueueStatus = "queued"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusSent       QueueStatus = "sent"
	QueueStatusFailed     QueueStatus = "failed"
)

// IsTerminal reports whether no further pipeline writes are expected for the status.
func (s QueueStatus) IsTerminal() bool {
	return s == QueueStatusSent || s == QueueStatusFailed
}

// CanTransitionTo reports whether moving from s to next respects the forward-only
// lifecycle. processing can only be entered from queued, so the write that
// claims an item succeeds for exactly one delivery. Interim retry-loop writes
// leave status untouched and are not transitions.
func (s QueueStatus) CanTransitionTo(next QueueStatus) bool {
	switch s {
	case QueueStatusQueued:
		return next == QueueStatusProcessing || next == QueueStatusFailed
	case QueueStatusProcessing:
		return next == QueueStatusSent || next == QueueStatusFailed
	default:
		return false
	}
}

// queueStatuses lists every status in lifecycle order.
var queueStatuses = []QueueStatus{QueueStatusQueued, QueueStatusProcessing, QueueStatusSent, QueueStatusFailed}

// AllowedPredecessors returns the statuses from which next may be written,
// derived from CanTransitionTo. Stores use it to guard status writes.
func AllowedPredecessors(next QueueStatus) []QueueStatus {
	var out []QueueStatus
	for _, s := range queueStatuses {
		if s.CanTransitionTo(next) {
			out = append(out, s)
		}
	}
	return out
}

// SendResult categorizes a pipeline outcome for metrics reporting.
type SendResult string

const (
	SendResultSent     SendResult = "sent"
	SendResultFailed   SendResult = "failed"
	SendResultRejected SendResult = "rejected" // validation gate
	SendResultSkipped  SendResult = "skipped"  // item already claimed or finished
)
