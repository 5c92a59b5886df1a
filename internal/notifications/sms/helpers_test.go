package sms

import (
	"context"
	"errors"
	"sync"
	"time"

	"smsrelay/internal/config"
	"smsrelay/internal/types"
)

type mockLogger struct {
	mu       sync.Mutex
	messages []string
}

func (m *mockLogger) record(level, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, level+":"+msg)
}

func (m *mockLogger) Info(msg string, args ...any)  { m.record("info", msg) }
func (m *mockLogger) Error(msg string, args ...any) { m.record("error", msg) }
func (m *mockLogger) Warn(msg string, args ...any)  { m.record("warn", msg) }
func (m *mockLogger) With(args ...any) types.Logger { return m }

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

// memStore applies updates the way the SQL repository does, including the
// status transition guard, so tests can assert on the final document.
type memStore struct {
	items     map[types.QueueItemRef]*types.QueueItem
	updates   []types.QueueItemUpdate
	failOnNth int // 1-based; 0 disables
	err       error
	gets      int
}

func newMemStore(ref types.QueueItemRef, item types.QueueItem) *memStore {
	cp := item
	return &memStore{items: map[types.QueueItemRef]*types.QueueItem{ref: &cp}}
}

func (s *memStore) Update(_ context.Context, ref types.QueueItemRef, upd types.QueueItemUpdate) error {
	s.updates = append(s.updates, upd)
	if s.failOnNth > 0 && len(s.updates) == s.failOnNth {
		return s.err
	}
	it, ok := s.items[ref]
	if !ok {
		return types.NewAppError(types.ErrCodeNotFoundQueueItem, "not found", nil)
	}
	if upd.Status != nil {
		if !it.Status.CanTransitionTo(*upd.Status) {
			return types.NewAppError(types.ErrCodeConflictStatusTransition,
				string(it.Status)+" -> "+string(*upd.Status), nil)
		}
		it.Status = *upd.Status
	}
	if upd.Attempts != nil && *upd.Attempts > it.Attempts {
		it.Attempts = *upd.Attempts
	}
	if upd.ClearLastError {
		it.LastError = nil
	} else if upd.LastError != nil {
		v := *upd.LastError
		it.LastError = &v
	}
	if upd.MessageSID != nil {
		it.MessageSID = *upd.MessageSID
	}
	if upd.DeliveryStatus != nil {
		it.DeliveryStatus = *upd.DeliveryStatus
	}
	it.UpdatedAt = it.UpdatedAt.Add(time.Second)
	return nil
}

func (s *memStore) Get(_ context.Context, ref types.QueueItemRef) (*types.QueueItem, error) {
	s.gets++
	it, ok := s.items[ref]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundQueueItem, "not found", nil)
	}
	cp := *it
	return &cp, nil
}

// statuses lists the status of every write that carried one, in order.
func (s *memStore) statuses() []types.QueueStatus {
	var out []types.QueueStatus
	for _, u := range s.updates {
		if u.Status != nil {
			out = append(out, *u.Status)
		}
	}
	return out
}

func (s *memStore) item(ref types.QueueItemRef) types.QueueItem {
	return *s.items[ref]
}

type fakeSettingsStore struct {
	settings *types.UserSMSSettings
	err      error
}

func (f *fakeSettingsStore) Get(context.Context, string) (*types.UserSMSSettings, error) {
	return f.settings, f.err
}

// scriptedProvider fails with errs[i] on call i+1 and succeeds afterwards.
type scriptedProvider struct {
	errs  []error
	sid   string
	calls []types.SMSMessage
}

func (p *scriptedProvider) Send(_ context.Context, msg types.SMSMessage) (string, error) {
	p.calls = append(p.calls, msg)
	if i := len(p.calls) - 1; i < len(p.errs) {
		return "", p.errs[i]
	}
	return p.sid, nil
}

func failures(msgs ...string) []error {
	out := make([]error, len(msgs))
	for i, m := range msgs {
		out[i] = errors.New(m)
	}
	return out
}

var (
	testRef    = types.QueueItemRef{UserID: "u1", QueueID: "q1"}
	testTwilio = config.TwilioConfig{
		AccountSID:          "AC123",
		AuthToken:           "token",
		MessagingServiceSID: "MG123",
	}
)

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }
