package db

import (
	"time"

	"smsrelay/internal/types"
)

// nilIfEmpty maps "" to NULL for nullable text columns.
func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nilIfZeroTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func statusPtr(s *types.QueueStatus) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}
