package sms

import "smsrelay/internal/types"

// Rejection reasons stored in lastError.
const (
	ReasonDisabled     = "SMS disabled in settings"
	ReasonNotOptedIn   = "Member not opted-in to SMS"
	ReasonInvalidPhone = "Invalid or missing phone number"
)

// CheckEligibility applies the gate in order: settings enabled, member
// opt-in, recipient number. It returns the first failing reason, or "" when
// the item may be sent. A nil OptInSMS counts as opted in.
func CheckEligibility(settings Settings, item types.QueueItem) string {
	switch {
	case !settings.Enabled:
		return ReasonDisabled
	case item.OptInSMS != nil && !*item.OptInSMS:
		return ReasonNotOptedIn
	case !types.IsValidPhone(item.To):
		return ReasonInvalidPhone
	}
	return ""
}
