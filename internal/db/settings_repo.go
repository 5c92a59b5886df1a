package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"smsrelay/internal/types"
)

// SettingsRepository reads the per-user SMS settings document.
type SettingsRepository struct {
	db DBTX
}

// NewSettingsRepository creates a new SettingsRepository backed by db.
func NewSettingsRepository(db DBTX) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Get returns the stored settings for userID, or (nil, nil) if the user has
// no settings document. Column NULLs stay nil so callers can apply defaults.
func (r *SettingsRepository) Get(ctx context.Context, userID string) (*types.UserSMSSettings, error) {
	var s types.UserSMSSettings
	err := r.db.QueryRow(ctx,
		`SELECT enabled, template_text, send_window_start, send_window_end
		 FROM user_sms_settings
		 WHERE user_id = $1`,
		userID,
	).Scan(&s.Enabled, &s.TemplateText, &s.SendWindowStart, &s.SendWindowEnd)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get sms settings", err)
	}
	return &s, nil
}

// Upsert writes all fields of s for userID, replacing any existing document.
func (r *SettingsRepository) Upsert(ctx context.Context, userID string, s types.UserSMSSettings) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO user_sms_settings
		 (user_id, enabled, template_text, send_window_start, send_window_end)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id) DO UPDATE SET
		   enabled           = EXCLUDED.enabled,
		   template_text     = EXCLUDED.template_text,
		   send_window_start = EXCLUDED.send_window_start,
		   send_window_end   = EXCLUDED.send_window_end`,
		userID, s.Enabled, s.TemplateText, s.SendWindowStart, s.SendWindowEnd,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert sms settings", err)
	}
	return nil
}
