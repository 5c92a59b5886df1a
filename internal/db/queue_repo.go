package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"smsrelay/internal/types"
)

// QueueRepository provides access to queue item documents.
type QueueRepository struct {
	db DBTX
}

// NewQueueRepository creates a new QueueRepository backed by db, which may
// be a pool or a transaction.
func NewQueueRepository(db DBTX) *QueueRepository {
	return &QueueRepository{db: db}
}

// Create inserts a new queue item. Status defaults to queued; CreatedAt and
// UpdatedAt are filled from the database clock when zero and written back.
func (r *QueueRepository) Create(ctx context.Context, ref types.QueueItemRef, item *types.QueueItem) error {
	if item.Status == "" {
		item.Status = types.QueueStatusQueued
	}
	row := r.db.QueryRow(ctx,
		`INSERT INTO sms_queue_items
		 (user_id, queue_id, transaction_id, member_id, to_number, donor_name,
		  amount, date, category, opt_in_sms, status, attempts, last_error,
		  created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
		         COALESCE($14, NOW()), COALESCE($14, NOW()))
		 RETURNING created_at, updated_at`,
		ref.UserID,
		ref.QueueID,
		item.TransactionID,
		nilIfEmpty(item.MemberID),
		nilIfEmpty(item.To),
		nilIfEmpty(item.DonorName),
		item.Amount,
		item.Date,
		nilIfEmpty(item.Category),
		item.OptInSMS,
		string(item.Status),
		item.Attempts,
		item.LastError,
		nilIfZeroTime(item.CreatedAt),
	)
	if err := row.Scan(&item.CreatedAt, &item.UpdatedAt); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create queue item", err)
	}
	return nil
}

// Get returns the queue item at ref, or a not_found AppError.
func (r *QueueRepository) Get(ctx context.Context, ref types.QueueItemRef) (*types.QueueItem, error) {
	var item types.QueueItem
	var status string
	var memberID, to, donorName, category *string
	var messageSID, deliveryStatus, errorCode *string
	err := r.db.QueryRow(ctx,
		`SELECT transaction_id, member_id, to_number, donor_name, amount, date,
		        category, opt_in_sms, status, attempts, last_error, message_sid,
		        delivery_status, error_code, created_at, updated_at
		 FROM sms_queue_items
		 WHERE user_id = $1 AND queue_id = $2`,
		ref.UserID, ref.QueueID,
	).Scan(
		&item.TransactionID, &memberID, &to, &donorName, &item.Amount, &item.Date,
		&category, &item.OptInSMS, &status, &item.Attempts, &item.LastError, &messageSID,
		&deliveryStatus, &errorCode, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundQueueItem,
				fmt.Sprintf("queue item %s not found", ref.Path()), nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get queue item", err)
	}

	item.MemberID = derefString(memberID)
	item.To = derefString(to)
	item.DonorName = derefString(donorName)
	item.Category = derefString(category)
	item.Status = types.QueueStatus(status)
	item.MessageSID = derefString(messageSID)
	item.DeliveryStatus = derefString(deliveryStatus)
	item.ErrorCode = derefString(errorCode)
	return &item, nil
}

// Update merges the non-nil fields of upd into the item at ref and stamps
// updated_at. attempts never decreases. A status write only applies when the
// stored status may move to it (see types.QueueStatus.CanTransitionTo); a
// refused write returns a conflict_status_transition AppError and changes
// nothing. Updating a missing item returns a not_found AppError.
func (r *QueueRepository) Update(ctx context.Context, ref types.QueueItemRef, upd types.QueueItemUpdate) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE sms_queue_items SET
		   status          = COALESCE($3, status),
		   attempts        = GREATEST(attempts, COALESCE($4, attempts)),
		   last_error      = CASE WHEN $5::boolean THEN NULL ELSE COALESCE($6, last_error) END,
		   message_sid     = COALESCE($7, message_sid),
		   delivery_status = COALESCE($8, delivery_status),
		   error_code      = COALESCE($9, error_code),
		   updated_at      = NOW()
		 WHERE user_id = $1 AND queue_id = $2
		   AND ($3::text IS NULL OR status = ANY($10::text[]))`,
		ref.UserID,
		ref.QueueID,
		statusPtr(upd.Status),
		upd.Attempts,
		upd.ClearLastError,
		upd.LastError,
		upd.MessageSID,
		upd.DeliveryStatus,
		upd.ErrorCode,
		allowedFrom(upd.Status),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update queue item", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if upd.Status == nil {
		return types.NewAppError(types.ErrCodeNotFoundQueueItem,
			fmt.Sprintf("queue item %s not found", ref.Path()), nil)
	}
	return r.refusedTransition(ctx, ref, *upd.Status)
}

// refusedTransition tells a missing row apart from a guarded status write
// after Update matched nothing.
func (r *QueueRepository) refusedTransition(ctx context.Context, ref types.QueueItemRef, next types.QueueStatus) error {
	var current string
	err := r.db.QueryRow(ctx,
		`SELECT status FROM sms_queue_items WHERE user_id = $1 AND queue_id = $2`,
		ref.UserID, ref.QueueID,
	).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.NewAppError(types.ErrCodeNotFoundQueueItem,
				fmt.Sprintf("queue item %s not found", ref.Path()), nil)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to read queue item status", err)
	}
	return types.NewAppErrorWithDetails(types.ErrCodeConflictStatusTransition,
		fmt.Sprintf("queue item %s cannot move from %s to %s", ref.Path(), current, next), nil,
		map[string]any{"current": current, "next": string(next)})
}

// allowedFrom renders the predecessors of next for the status guard. It is
// empty when the update leaves status alone.
func allowedFrom(next *types.QueueStatus) []string {
	out := []string{}
	if next == nil {
		return out
	}
	for _, s := range types.AllowedPredecessors(*next) {
		out = append(out, string(s))
	}
	return out
}
