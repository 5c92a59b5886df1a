package types

import (
	"fmt"
	"strings"
	"time"
)

// DefaultSMSTemplate is used when a user has no template override.
const DefaultSMSTemplate = "Greater Works City Church: Thank you {name} for your donation of {amount} on {date}. Transaction ID: {id}. Reply STOP to unsubscribe, HELP for help. Msg&Data rates may apply."

// Default daily send window (HH:mm, local processing timezone).
const (
	DefaultSendWindowStart = "08:00"
	DefaultSendWindowEnd   = "21:00"
)

// QueueItemRef addresses a single queue item document:
// users/{UserID}/smsQueue/{QueueID}.
type QueueItemRef struct {
	UserID  string `json:"userId" validate:"required"`
	QueueID string `json:"queueId" validate:"required"`
}

// Path returns the document path of the referenced item.
func (r QueueItemRef) Path() string {
	return fmt.Sprintf("users/%s/smsQueue/%s", r.UserID, r.QueueID)
}

// ParseQueueItemPath parses "users/{uid}/smsQueue/{qid}" into a QueueItemRef.
func ParseQueueItemPath(path string) (QueueItemRef, error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 4 || parts[0] != "users" || parts[2] != "smsQueue" || parts[1] == "" || parts[3] == "" {
		return QueueItemRef{}, NewAppError(ErrCodeValidationInvalidPath,
			fmt.Sprintf("path %q does not match users/{userId}/smsQueue/{queueId}", path), nil)
	}
	return QueueItemRef{UserID: parts[1], QueueID: parts[3]}, nil
}

// QueueItem is one outbound SMS request, stored at users/{uid}/smsQueue/{qid}.
// JSON field names follow the document schema written by the dashboard.
type QueueItem struct {
	TransactionID string  `json:"transactionId"`
	MemberID      string  `json:"memberId,omitempty"`
	To            string  `json:"to"`
	DonorName     string  `json:"donorName,omitempty"`
	Amount        float64 `json:"amount"`
	Date          string  `json:"date"`
	Category      string  `json:"category,omitempty"`

	// OptInSMS is nil when the creator did not record a preference.
	// Only an explicit false blocks delivery.
	OptInSMS *bool `json:"optInSMS,omitempty"`

	Status         QueueStatus `json:"status"`
	Attempts       int         `json:"attempts"`
	LastError      *string     `json:"lastError"`
	MessageSID     string      `json:"messageSid,omitempty"`
	DeliveryStatus string      `json:"deliveryStatus,omitempty"`
	ErrorCode      string      `json:"errorCode,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// QueueItemUpdate is a partial merge applied to a stored QueueItem. Nil fields
// are left untouched. UpdatedAt is always stamped by the store.
type QueueItemUpdate struct {
	Status         *QueueStatus
	Attempts       *int
	LastError      *string
	ClearLastError bool
	MessageSID     *string
	DeliveryStatus *string
	ErrorCode      *string
}

// UserSMSSettings is the per-user SMS configuration stored at
// users/{uid}/settings/sms. Fields are nil when absent from the document.
type UserSMSSettings struct {
	Enabled         *bool   `json:"enabled,omitempty"`
	TemplateText    *string `json:"templateText,omitempty"`
	SendWindowStart *string `json:"sendWindowStart,omitempty"`
	SendWindowEnd   *string `json:"sendWindowEnd,omitempty"`
}

// QueueItemCreatedEvent is the change event emitted when a queue item document
// is created. It carries a snapshot of the item as written.
type QueueItemCreatedEvent struct {
	Path      string    `json:"path" validate:"required"`
	UserID    string    `json:"userId" validate:"required"`
	QueueID   string    `json:"queueId" validate:"required"`
	Item      QueueItem `json:"item"`
	CreatedAt time.Time `json:"createdAt"`
}

// Ref returns the item reference after checking that Path agrees with the ids.
func (e QueueItemCreatedEvent) Ref() (QueueItemRef, error) {
	ref, err := ParseQueueItemPath(e.Path)
	if err != nil {
		return QueueItemRef{}, err
	}
	if ref.UserID != e.UserID || ref.QueueID != e.QueueID {
		return QueueItemRef{}, NewAppError(ErrCodeValidationInvalidPath,
			fmt.Sprintf("path %q disagrees with userId=%q queueId=%q", e.Path, e.UserID, e.QueueID), nil)
	}
	return ref, nil
}

// SMSMessage is a provider-neutral outbound send request. Exactly one of
// MessagingServiceSID and From is set; StatusCallback is optional.
type SMSMessage struct {
	To                  string `validate:"sms_phone"`
	Body                string
	MessagingServiceSID string
	From                string
	StatusCallback      string
}

// MaskPhone keeps the last four digits of a phone number for log output.
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return strings.Repeat("*", len(phone))
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}
