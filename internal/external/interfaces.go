package external

import (
	"context"

	"smsrelay/internal/types"
)

// SMSProvider submits one SMS and returns the provider's message identifier.
// Implementations make exactly one submission per call; retrying is the
// caller's concern.
type SMSProvider interface {
	Send(ctx context.Context, msg types.SMSMessage) (string, error)
}
