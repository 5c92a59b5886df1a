package db

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"smsrelay/internal/types"
)

// --- Mock DBTX ---

type mockDBTX struct {
	mock.Mock
}

func (m *mockDBTX) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDBTX) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if r := args.Get(0); r != nil {
		return r.(pgx.Rows), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDBTX) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

type mockRow struct {
	scanErr error
	scanFn  func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error {
	if r.scanFn != nil {
		return r.scanFn(dest...)
	}
	return r.scanErr
}

var testRef = types.QueueItemRef{UserID: "u1", QueueID: "q1"}

// --- QueueRepository ---

func TestQueueRepository_Create_DefaultsStatus(t *testing.T) {
	db := new(mockDBTX)
	repo := NewQueueRepository(db)
	now := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		return len(args) == 14 && args[0] == "u1" && args[1] == "q1" && args[10] == "queued"
	})).Return(&mockRow{scanFn: func(dest ...any) error {
		*dest[0].(*time.Time) = now
		*dest[1].(*time.Time) = now
		return nil
	}})

	item := &types.QueueItem{TransactionID: "TX1", To: "+15551234567", Amount: 25, Date: "2024-01-15"}
	require.NoError(t, repo.Create(context.Background(), testRef, item))
	assert.Equal(t, types.QueueStatusQueued, item.Status)
	assert.Equal(t, now, item.CreatedAt)
	db.AssertExpectations(t)
}

func TestQueueRepository_Create_DBError(t *testing.T) {
	db := new(mockDBTX)
	db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).
		Return(&mockRow{scanErr: errors.New("duplicate key")})

	err := NewQueueRepository(db).Create(context.Background(), testRef, &types.QueueItem{})
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestQueueRepository_Get_MapsNullableColumns(t *testing.T) {
	db := new(mockDBTX)
	optIn := true
	lastErr := "timeout"
	sid := "SM123"

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), []any{"u1", "q1"}).
		Return(&mockRow{scanFn: func(dest ...any) error {
			require.Len(t, dest, 16)
			*dest[0].(*string) = "TX1"
			// member_id, donor_name, category stay NULL
			to := "+15551234567"
			*dest[2].(**string) = &to
			*dest[4].(*float64) = 25
			*dest[5].(*string) = "2024-01-15"
			*dest[7].(**bool) = &optIn
			*dest[8].(*string) = "sent"
			*dest[9].(*int) = 2
			*dest[10].(**string) = &lastErr
			*dest[11].(**string) = &sid
			return nil
		}})

	item, err := NewQueueRepository(db).Get(context.Background(), testRef)
	require.NoError(t, err)
	assert.Equal(t, "TX1", item.TransactionID)
	assert.Equal(t, "+15551234567", item.To)
	assert.Equal(t, "", item.MemberID)
	assert.Equal(t, "", item.DonorName)
	assert.Equal(t, types.QueueStatusSent, item.Status)
	assert.Equal(t, 2, item.Attempts)
	assert.Equal(t, "SM123", item.MessageSID)
	require.NotNil(t, item.OptInSMS)
	assert.True(t, *item.OptInSMS)
	require.NotNil(t, item.LastError)
	assert.Equal(t, "timeout", *item.LastError)
}

func TestQueueRepository_Get_NotFound(t *testing.T) {
	db := new(mockDBTX)
	db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := NewQueueRepository(db).Get(context.Background(), testRef)
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeNotFoundQueueItem, appErr.Code)
}

func TestQueueRepository_Update_PassesOnlySetFields(t *testing.T) {
	db := new(mockDBTX)
	delivered := "delivered"
	sid := "SM123"

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		if len(args) != 10 {
			return false
		}
		return args[2] == (*string)(nil) && // status untouched
			len(args[9].([]string)) == 0 &&
			args[3] == (*int)(nil) && // attempts untouched
			args[4] == false &&
			args[5] == (*string)(nil) &&
			*(args[6].(*string)) == "SM123" &&
			*(args[7].(*string)) == "delivered"
	})).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := NewQueueRepository(db).Update(context.Background(), testRef, types.QueueItemUpdate{
		DeliveryStatus: &delivered,
		MessageSID:     &sid,
	})
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestQueueRepository_Update_ClearLastError(t *testing.T) {
	db := new(mockDBTX)
	status := types.QueueStatusSent
	attempts := 1

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		return *(args[2].(*string)) == "sent" && *(args[3].(*int)) == 1 && args[4] == true
	})).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := NewQueueRepository(db).Update(context.Background(), testRef, types.QueueItemUpdate{
		Status:         &status,
		Attempts:       &attempts,
		ClearLastError: true,
	})
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestQueueRepository_Update_MissingRow(t *testing.T) {
	db := new(mockDBTX)
	db.On("Exec", mock.Anything, mock.Anything, mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := NewQueueRepository(db).Update(context.Background(), testRef, types.QueueItemUpdate{})
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeNotFoundQueueItem, appErr.Code)
}

func TestQueueRepository_Update_StatusGuardArgs(t *testing.T) {
	tests := []struct {
		next types.QueueStatus
		want []string
	}{
		{types.QueueStatusProcessing, []string{"queued"}},
		{types.QueueStatusSent, []string{"processing"}},
		{types.QueueStatusFailed, []string{"queued", "processing"}},
		{types.QueueStatusQueued, []string{}},
	}
	for _, tt := range tests {
		t.Run(string(tt.next), func(t *testing.T) {
			db := new(mockDBTX)
			var got []string
			db.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool {
				return strings.Contains(sql, "status = ANY($10::text[])")
			}), mock.MatchedBy(func(args []any) bool {
				got = args[9].([]string)
				return true
			})).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

			next := tt.next
			err := NewQueueRepository(db).Update(context.Background(), testRef, types.QueueItemUpdate{Status: &next})
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, got)
		})
	}
}

func TestQueueRepository_Update_BackwardTransitionConflicts(t *testing.T) {
	db := new(mockDBTX)
	db.On("Exec", mock.Anything, mock.Anything, mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)
	db.On("QueryRow", mock.Anything, mock.Anything, []any{"u1", "q1"}).
		Return(&mockRow{scanFn: func(dest ...any) error {
			*(dest[0].(*string)) = "sent"
			return nil
		}})

	status := types.QueueStatusProcessing
	err := NewQueueRepository(db).Update(context.Background(), testRef, types.QueueItemUpdate{Status: &status})
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeConflictStatusTransition, appErr.Code)
	assert.Equal(t, "sent", appErr.Details["current"])
	assert.Equal(t, "processing", appErr.Details["next"])
	db.AssertExpectations(t)
}

func TestQueueRepository_Update_MissingRowWithStatus(t *testing.T) {
	db := new(mockDBTX)
	db.On("Exec", mock.Anything, mock.Anything, mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)
	db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	status := types.QueueStatusFailed
	err := NewQueueRepository(db).Update(context.Background(), testRef, types.QueueItemUpdate{Status: &status})
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeNotFoundQueueItem, appErr.Code)
}

func TestQueueRepository_Update_DBError(t *testing.T) {
	db := new(mockDBTX)
	dbErr := errors.New("connection reset")
	db.On("Exec", mock.Anything, mock.Anything, mock.Anything).
		Return(pgconn.CommandTag{}, dbErr)

	err := NewQueueRepository(db).Update(context.Background(), testRef, types.QueueItemUpdate{})
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
	assert.ErrorIs(t, err, dbErr)
}

// --- SettingsRepository ---

func TestSettingsRepository_Get_Absent(t *testing.T) {
	db := new(mockDBTX)
	db.On("QueryRow", mock.Anything, mock.Anything, []any{"u1"}).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	s, err := NewSettingsRepository(db).Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestSettingsRepository_Get_Partial(t *testing.T) {
	db := new(mockDBTX)
	disabled := false
	db.On("QueryRow", mock.Anything, mock.Anything, []any{"u1"}).
		Return(&mockRow{scanFn: func(dest ...any) error {
			*dest[0].(**bool) = &disabled
			return nil
		}})

	s, err := NewSettingsRepository(db).Get(context.Background(), "u1")
	require.NoError(t, err)
	require.NotNil(t, s.Enabled)
	assert.False(t, *s.Enabled)
	assert.Nil(t, s.TemplateText)
	assert.Nil(t, s.SendWindowStart)
}

func TestSettingsRepository_Get_DBError(t *testing.T) {
	db := new(mockDBTX)
	db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).
		Return(&mockRow{scanErr: errors.New("timeout")})

	_, err := NewSettingsRepository(db).Get(context.Background(), "u1")
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestSettingsRepository_Upsert(t *testing.T) {
	db := new(mockDBTX)
	tmpl := "Hi {name}"
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		return len(args) == 5 && args[0] == "u1" && *(args[2].(*string)) == "Hi {name}"
	})).Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	err := NewSettingsRepository(db).Upsert(context.Background(), "u1", types.UserSMSSettings{TemplateText: &tmpl})
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestEnsureSchema(t *testing.T) {
	db := new(mockDBTX)
	db.On("Exec", mock.Anything, schemaDDL, mock.Anything).
		Return(pgconn.NewCommandTag("CREATE TABLE"), nil)

	require.NoError(t, EnsureSchema(context.Background(), db))
	db.AssertExpectations(t)
}
