package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smsrelay/internal/types"
)

type fakeStore struct {
	created  []types.QueueItem
	settings map[string]types.UserSMSSettings
	calls    []string
	err      error
}

func (f *fakeStore) Create(_ context.Context, _ types.QueueItemRef, item *types.QueueItem) error {
	f.calls = append(f.calls, "create")
	if f.err != nil {
		return f.err
	}
	f.created = append(f.created, *item)
	return nil
}

func (f *fakeStore) Upsert(_ context.Context, userID string, s types.UserSMSSettings) error {
	f.calls = append(f.calls, "upsert")
	if f.settings == nil {
		f.settings = map[string]types.UserSMSSettings{}
	}
	f.settings[userID] = s
	return nil
}

type fakePublisher struct {
	store *fakeStore
	err   error
}

func (p *fakePublisher) PublishCreated(_ context.Context, ref types.QueueItemRef, item types.QueueItem) (types.QueueItemCreatedEvent, error) {
	p.store.calls = append(p.store.calls, "publish")
	if p.err != nil {
		return types.QueueItemCreatedEvent{}, p.err
	}
	return types.QueueItemCreatedEvent{Path: ref.Path(), UserID: ref.UserID, QueueID: ref.QueueID, Item: item}, nil
}

var baseArgs = []string{"--user=u1", "--to=+15551234567", "--amount=25.50", "--txn=TX1", "--donor=Jane"}

func TestParseFlags_RequiredFields(t *testing.T) {
	_, err := parseFlags([]string{"--user=u1", "--to=+15551234567", "--amount=25"}, io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--txn")

	opts, err := parseFlags(baseArgs, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "u1", opts.userID)
	assert.Equal(t, "TX1", opts.txn)
}

func TestQueueItem_Defaults(t *testing.T) {
	opts, err := parseFlags(baseArgs, io.Discard)
	require.NoError(t, err)

	item, err := opts.queueItem(time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 25.5, item.Amount)
	assert.Equal(t, "2024-01-15", item.Date)
	assert.Equal(t, types.QueueStatusQueued, item.Status)
	assert.Zero(t, item.Attempts)
	assert.Nil(t, item.OptInSMS)
}

func TestQueueItem_OptInAndAmountErrors(t *testing.T) {
	opts, err := parseFlags(append(baseArgs, "--opt-in=false"), io.Discard)
	require.NoError(t, err)
	item, err := opts.queueItem(time.Now())
	require.NoError(t, err)
	require.NotNil(t, item.OptInSMS)
	assert.False(t, *item.OptInSMS)

	opts.optIn = "maybe"
	_, err = opts.queueItem(time.Now())
	assert.Error(t, err)

	opts.optIn = ""
	opts.amount = "twenty"
	_, err = opts.queueItem(time.Now())
	assert.Error(t, err)
}

func TestSettings_OnlyWhenFlagged(t *testing.T) {
	opts, err := parseFlags(baseArgs, io.Discard)
	require.NoError(t, err)
	s, err := opts.settings()
	require.NoError(t, err)
	assert.Nil(t, s)

	opts, err = parseFlags(append(baseArgs, "--settings-enabled=true", "--settings-template=Thanks {name}!"), io.Discard)
	require.NoError(t, err)
	s, err = opts.settings()
	require.NoError(t, err)
	require.NotNil(t, s)
	require.NotNil(t, s.Enabled)
	assert.True(t, *s.Enabled)
	assert.Equal(t, "Thanks {name}!", *s.TemplateText)
	assert.Nil(t, s.SendWindowStart)
}

func TestEnqueue_Order(t *testing.T) {
	store := &fakeStore{}
	pub := &fakePublisher{store: store}
	enabled := true
	ref := types.QueueItemRef{UserID: "u1", QueueID: "q1"}

	evt, err := enqueue(t.Context(), store, store, pub, ref,
		types.QueueItem{TransactionID: "TX1", Status: types.QueueStatusQueued},
		&types.UserSMSSettings{Enabled: &enabled})

	require.NoError(t, err)
	assert.Equal(t, []string{"upsert", "create", "publish"}, store.calls)
	assert.Equal(t, "users/u1/smsQueue/q1", evt.Path)
	assert.Len(t, store.created, 1)
}

func TestEnqueue_CreateFailureSkipsPublish(t *testing.T) {
	store := &fakeStore{err: errors.New("db down")}
	pub := &fakePublisher{store: store}

	_, err := enqueue(t.Context(), store, store, pub, types.QueueItemRef{UserID: "u1", QueueID: "q1"}, types.QueueItem{}, nil)

	require.Error(t, err)
	assert.Equal(t, []string{"create"}, store.calls)
}

func TestRun_DryRunPrintsEvent(t *testing.T) {
	opts, err := parseFlags(append(baseArgs, "--dry-run", "--date=2024-02-01"), io.Discard)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, run(opts, &out))

	var evt types.QueueItemCreatedEvent
	require.NoError(t, json.Unmarshal(out.Bytes(), &evt))
	assert.Equal(t, "u1", evt.UserID)
	assert.NotEmpty(t, evt.QueueID)
	assert.Equal(t, "users/u1/smsQueue/"+evt.QueueID, evt.Path)
	assert.Equal(t, "2024-02-01", evt.Item.Date)
	assert.Equal(t, "TX1", evt.Item.TransactionID)
}
