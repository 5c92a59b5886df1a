package sms

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smsrelay/internal/config"
	"smsrelay/internal/notifications/core"
	"smsrelay/internal/types"
)

func newTestDispatcher(t *testing.T, provider *scriptedProvider, store *memStore, sleeps *[]time.Duration) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(provider, store, testTwilio, &mockLogger{},
		WithSleep(func(d time.Duration) { *sleeps = append(*sleeps, d) }),
		WithClock(fixedClock{now: time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)}),
	)
	require.NoError(t, err)
	return d
}

func baseItem() types.QueueItem {
	return types.QueueItem{
		TransactionID: "TX1",
		To:            "+15551234567",
		DonorName:     "Jane",
		Amount:        25,
		Date:          "2024-01-15",
		Status:        types.QueueStatusQueued,
	}
}

func TestDispatch_SuccessOnAttemptK(t *testing.T) {
	for k := 1; k <= 3; k++ {
		t.Run(fmt.Sprintf("attempt_%d", k), func(t *testing.T) {
			var errs []error
			for i := 1; i < k; i++ {
				errs = append(errs, errors.New("transient"))
			}
			provider := &scriptedProvider{errs: errs, sid: "SM-ok"}
			store := newMemStore(testRef, baseItem())
			var sleeps []time.Duration

			res, err := newTestDispatcher(t, provider, store, &sleeps).
				Dispatch(context.Background(), testRef, baseItem(), DefaultSettings())
			require.NoError(t, err)

			assert.True(t, res.Sent)
			assert.Equal(t, k, res.Attempts)
			assert.Len(t, provider.calls, k, "loop stops immediately on success")

			final := store.item(testRef)
			assert.Equal(t, types.QueueStatusSent, final.Status)
			assert.Equal(t, k, final.Attempts)
			assert.Nil(t, final.LastError)
			assert.Equal(t, "SM-ok", final.MessageSID)

			wantSleeps := []time.Duration{time.Second, 3 * time.Second}[:k-1]
			assert.Equal(t, wantSleeps, append([]time.Duration{}, sleeps...))
		})
	}
}

func TestDispatch_AllAttemptsFail(t *testing.T) {
	provider := &scriptedProvider{errs: failures("boom 1", "boom 2", "boom 3")}
	store := newMemStore(testRef, baseItem())
	var sleeps []time.Duration

	res, err := newTestDispatcher(t, provider, store, &sleeps).
		Dispatch(context.Background(), testRef, baseItem(), DefaultSettings())
	require.NoError(t, err)

	assert.False(t, res.Sent)
	assert.Len(t, provider.calls, 3)
	assert.Equal(t, []time.Duration{1 * time.Second, 3 * time.Second}, sleeps)

	final := store.item(testRef)
	assert.Equal(t, types.QueueStatusFailed, final.Status)
	assert.Equal(t, 3, final.Attempts)
	require.NotNil(t, final.LastError)
	assert.Equal(t, "boom 3", *final.LastError)
	assert.Empty(t, final.MessageSID)
}

func TestDispatch_CustomRetryPolicy(t *testing.T) {
	provider := &scriptedProvider{errs: failures("boom 1", "boom 2")}
	store := newMemStore(testRef, baseItem())
	var sleeps []time.Duration

	d, err := NewDispatcher(provider, store, testTwilio, &mockLogger{},
		WithSleep(func(d time.Duration) { sleeps = append(sleeps, d) }),
		WithRetryPolicy(core.RetryPolicy{MaxAttempts: 2, BaseDelay: 10 * time.Millisecond, MaxDelay: time.Second, BackoffFactor: 2}),
	)
	require.NoError(t, err)

	res, err := d.Dispatch(context.Background(), testRef, baseItem(), DefaultSettings())
	require.NoError(t, err)

	assert.False(t, res.Sent)
	assert.Len(t, provider.calls, 2)
	assert.Equal(t, []time.Duration{10 * time.Millisecond}, sleeps)
	assert.Equal(t, 2, store.item(testRef).Attempts)
}

func TestDispatch_WriteSequence(t *testing.T) {
	provider := &scriptedProvider{errs: failures("first"), sid: "SM2"}
	store := newMemStore(testRef, baseItem())
	var sleeps []time.Duration

	_, err := newTestDispatcher(t, provider, store, &sleeps).
		Dispatch(context.Background(), testRef, baseItem(), DefaultSettings())
	require.NoError(t, err)

	require.Len(t, store.updates, 3)

	processing := store.updates[0]
	require.NotNil(t, processing.Status)
	assert.Equal(t, types.QueueStatusProcessing, *processing.Status)
	assert.Nil(t, processing.Attempts)

	interim := store.updates[1]
	assert.Nil(t, interim.Status, "failed attempt leaves status untouched")
	assert.Equal(t, 1, *interim.Attempts)
	assert.Equal(t, "first", *interim.LastError)

	success := store.updates[2]
	assert.Equal(t, types.QueueStatusSent, *success.Status)
	assert.Equal(t, 2, *success.Attempts)
	assert.True(t, success.ClearLastError)
	assert.Equal(t, "SM2", *success.MessageSID)
}

func TestDispatch_StoresProviderMessageNotCode(t *testing.T) {
	appErr := types.NewAppError(types.ErrCodeUpstreamSMSProvider, "The 'To' number is not valid.", nil)
	provider := &scriptedProvider{errs: []error{appErr, appErr, appErr}}
	store := newMemStore(testRef, baseItem())
	var sleeps []time.Duration

	_, err := newTestDispatcher(t, provider, store, &sleeps).
		Dispatch(context.Background(), testRef, baseItem(), DefaultSettings())
	require.NoError(t, err)
	assert.Equal(t, "The 'To' number is not valid.", *store.item(testRef).LastError)
}

func TestDispatch_RendersAndBuildsRequest(t *testing.T) {
	provider := &scriptedProvider{sid: "SM1"}
	store := newMemStore(testRef, baseItem())
	var sleeps []time.Duration

	cfg := testTwilio
	cfg.StatusCallbackURL = "https://example.com/smsStatus?source=twilio"
	d, err := NewDispatcher(provider, store, cfg, &mockLogger{}, WithSleep(func(time.Duration) {}))
	require.NoError(t, err)

	_, err = d.Dispatch(context.Background(), testRef, baseItem(), DefaultSettings())
	require.NoError(t, err)
	require.Len(t, provider.calls, 1)

	msg := provider.calls[0]
	assert.Equal(t, "+15551234567", msg.To)
	assert.Equal(t, "MG123", msg.MessagingServiceSID)
	assert.Empty(t, msg.From)
	for _, part := range []string{"Jane", "$25.00", "2024-01-15", "TX1"} {
		assert.Contains(t, msg.Body, part)
	}
	assert.Equal(t, "https://example.com/smsStatus?queueId=q1&source=twilio&userId=u1", msg.StatusCallback)
	assert.Empty(t, sleeps)
}

func TestBuildMessage_FromNumberFallback(t *testing.T) {
	cfg := config.TwilioConfig{AccountSID: "AC1", AuthToken: "t", FromNumber: "+15550001111"}
	d, err := NewDispatcher(&scriptedProvider{}, newMemStore(testRef, baseItem()), cfg, &mockLogger{})
	require.NoError(t, err)

	msg := d.BuildMessage(testRef, "+15551234567", "hello")
	assert.Equal(t, "+15550001111", msg.From)
	assert.Empty(t, msg.MessagingServiceSID)
	assert.Empty(t, msg.StatusCallback)
}

func TestNewDispatcher_MissingCredentials(t *testing.T) {
	store := newMemStore(testRef, baseItem())
	_, err := NewDispatcher(&scriptedProvider{}, store, config.TwilioConfig{AccountSID: "AC1"}, &mockLogger{})

	var cfgErr *config.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, config.ErrMissingEnv, cfgErr.Type)
	assert.Empty(t, store.updates, "configuration errors must not write item state")
}

func TestDispatch_StoreErrorPropagates(t *testing.T) {
	dbErr := types.NewAppError(types.ErrCodeInternalDB, "failed to update queue item", errors.New("conn reset"))
	provider := &scriptedProvider{sid: "SM1"}
	store := newMemStore(testRef, baseItem())
	store.failOnNth, store.err = 1, dbErr
	var sleeps []time.Duration

	_, err := newTestDispatcher(t, provider, store, &sleeps).
		Dispatch(context.Background(), testRef, baseItem(), DefaultSettings())
	assert.ErrorIs(t, err, dbErr)
	assert.Empty(t, provider.calls, "no send after a failed processing write")
}

func TestDispatch_AttemptsContinueFromSnapshot(t *testing.T) {
	item := baseItem()
	item.Attempts = 2
	provider := &scriptedProvider{sid: "SM1"}
	store := newMemStore(testRef, item)
	var sleeps []time.Duration

	res, err := newTestDispatcher(t, provider, store, &sleeps).
		Dispatch(context.Background(), testRef, item, DefaultSettings())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, store.item(testRef).Attempts)
}
