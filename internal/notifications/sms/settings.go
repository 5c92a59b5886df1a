package sms

import (
	"context"

	"smsrelay/internal/types"
)

// SettingsStore reads the raw per-user settings document; nil means absent.
type SettingsStore interface {
	Get(ctx context.Context, userID string) (*types.UserSMSSettings, error)
}

// Settings is a user's SMS configuration with defaults applied.
type Settings struct {
	Enabled     bool
	Template    string
	WindowStart string
	WindowEnd   string
}

// DefaultSettings is what a user without a settings document gets.
func DefaultSettings() Settings {
	return Settings{
		Enabled:     true,
		Template:    types.DefaultSMSTemplate,
		WindowStart: types.DefaultSendWindowStart,
		WindowEnd:   types.DefaultSendWindowEnd,
	}
}

// SettingsResolver applies defaults over the stored settings document.
type SettingsResolver struct {
	store SettingsStore
}

// NewSettingsResolver returns a resolver reading from store. A store that
// returns a nil document with no error means the user has no settings.
func NewSettingsResolver(store SettingsStore) *SettingsResolver {
	return &SettingsResolver{store: store}
}

// Resolve returns the effective settings for userID. Only an explicit
// enabled=false disables sending; empty strings fall back to defaults.
// Store errors are returned unchanged.
func (r *SettingsResolver) Resolve(ctx context.Context, userID string) (Settings, error) {
	out := DefaultSettings()
	stored, err := r.store.Get(ctx, userID)
	if err != nil {
		return Settings{}, err
	}
	if stored == nil {
		return out, nil
	}
	if stored.Enabled != nil && !*stored.Enabled {
		out.Enabled = false
	}
	if v := stored.TemplateText; v != nil && *v != "" {
		out.Template = *v
	}
	if v := stored.SendWindowStart; v != nil && *v != "" {
		out.WindowStart = *v
	}
	if v := stored.SendWindowEnd; v != nil && *v != "" {
		out.WindowEnd = *v
	}
	return out, nil
}
