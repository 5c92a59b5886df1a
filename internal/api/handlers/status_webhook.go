// Package handlers contains the HTTP handlers of the SMS relay.
//
// The status webhook is NOT behind any auth middleware; it is called directly
// by Twilio when a message changes delivery state.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"smsrelay/internal/core"
	ncore "smsrelay/internal/notifications/core"
	"smsrelay/internal/types"
)

// defaultMaxBodyBytes applies when the handler is built without a limit.
const defaultMaxBodyBytes = 64 * 1024

// Response bodies. Twilio only inspects the status code.
const (
	bodyOK                 = "OK"
	bodyMissingIdentifiers = "Missing identifiers"
	bodyInvalidBody        = "Invalid body"
	bodyError              = "Error"
)

// Candidate keys in priority order; the first present non-empty value wins.
// Twilio posts MessageStatus/MessageSid, legacy callbacks use SmsStatus/SmsSid,
// and JSON relays tend to use the camelCase forms.
var (
	statusKeys    = []string{"MessageStatus", "SmsStatus", "messageStatus", "status"}
	sidKeys       = []string{"MessageSid", "SmsSid", "messageSid", "sid"}
	errorCodeKeys = []string{"ErrorCode", "errorCode"}
)

// DeliveryStatusStore applies a partial update to a queue item.
type DeliveryStatusStore interface {
	Update(ctx context.Context, ref types.QueueItemRef, upd types.QueueItemUpdate) error
}

// StatusWebhookHandler records provider delivery receipts on queue items.
type StatusWebhookHandler struct {
	store        DeliveryStatusStore
	metrics      ncore.SMSMetrics
	logger       *slog.Logger
	maxBodyBytes int64
}

// NewStatusWebhookHandler builds the handler. A nil metrics recorder discards
// metrics; a non-positive maxBodyBytes uses the 64 KB default.
func NewStatusWebhookHandler(store DeliveryStatusStore, metrics ncore.SMSMetrics, logger *slog.Logger, maxBodyBytes int64) *StatusWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = ncore.NoopMetrics{}
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}
	return &StatusWebhookHandler{store: store, metrics: metrics, logger: logger, maxBodyBytes: maxBodyBytes}
}

// RegisterRoutes mounts the callback on GET and POST /smsStatus.
func (h *StatusWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Get("/smsStatus", h.Handle)
	r.Post("/smsStatus", h.Handle)
}

// Handle is the net/http entry point.
//
// TODO: verify X-Twilio-Signature against TWILIO_AUTH_TOKEN; until then any
// caller that knows a userId/queueId pair can overwrite its delivery fields.
func (h *StatusWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	userID, queueID := query.Get("userId"), query.Get("queueId")
	if userID == "" || queueID == "" {
		h.logger.WarnContext(r.Context(), "status callback missing identifiers",
			"user_id", userID,
			"queue_id", queueID,
		)
		core.Text(w, http.StatusBadRequest, bodyMissingIdentifiers)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WarnContext(r.Context(), "failed to read status callback body", "error", err)
		core.Text(w, http.StatusBadRequest, bodyInvalidBody)
		return
	}

	fields, err := collectFields(query, r.Header.Get("Content-Type"), payload)
	if err != nil {
		h.logger.WarnContext(r.Context(), "failed to parse status callback body", "error", err)
		core.Text(w, http.StatusBadRequest, bodyInvalidBody)
		return
	}

	status, body := h.Apply(r.Context(), types.QueueItemRef{UserID: userID, QueueID: queueID}, fields)
	core.Text(w, status, body)
}

// Apply extracts the delivery fields and merges them onto the addressed item.
// It never touches the item's status. Any store error is logged and answered
// with 500; it never escapes as a fault. The item is not looked up first.
func (h *StatusWebhookHandler) Apply(ctx context.Context, ref types.QueueItemRef, fields map[string]string) (int, string) {
	deliveryStatus := firstPresent(fields, statusKeys)
	messageSID := firstPresent(fields, sidKeys)
	errorCode := firstPresent(fields, errorCodeKeys)

	upd := types.QueueItemUpdate{
		DeliveryStatus: deliveryStatus,
		MessageSID:     messageSID,
		ErrorCode:      errorCode,
	}
	if err := h.store.Update(ctx, ref, upd); err != nil {
		h.logger.ErrorContext(ctx, "failed to record delivery status",
			"user_id", ref.UserID,
			"queue_id", ref.QueueID,
			"error", err,
		)
		return http.StatusInternalServerError, bodyError
	}

	statusValue := derefOr(deliveryStatus, "")
	h.metrics.RecordStatusCallback(ctx, statusValue)
	h.logger.InfoContext(ctx, "delivery status recorded",
		"user_id", ref.UserID,
		"queue_id", ref.QueueID,
		"delivery_status", statusValue,
		"message_sid", derefOr(messageSID, ""),
	)
	return http.StatusOK, bodyOK
}

// collectFields merges query parameters with the body fields; body values win.
// Form encoding is Twilio's default, JSON is accepted for relays.
func collectFields(query url.Values, contentType string, payload []byte) (map[string]string, error) {
	fields := make(map[string]string, len(query))
	for k := range query {
		fields[k] = query.Get(k)
	}
	if len(strings.TrimSpace(string(payload))) == 0 {
		return fields, nil
	}

	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType == "application/json" || (mediaType == "" && json.Valid(payload)) {
		var raw map[string]any
		if err := json.Unmarshal(payload, &raw); err != nil {
			return nil, fmt.Errorf("decode json body: %w", err)
		}
		for k, v := range raw {
			if s, ok := scalarString(v); ok {
				fields[k] = s
			}
		}
		return fields, nil
	}

	form, err := url.ParseQuery(string(payload))
	if err != nil {
		return nil, fmt.Errorf("decode form body: %w", err)
	}
	for k := range form {
		fields[k] = form.Get(k)
	}
	return fields, nil
}

// scalarString renders JSON scalars; objects, arrays and null are skipped.
func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return fmt.Sprintf("%v", t), true
	case bool:
		return fmt.Sprintf("%t", t), true
	default:
		return "", false
	}
}

func firstPresent(fields map[string]string, keys []string) *string {
	for _, k := range keys {
		if v, ok := fields[k]; ok && v != "" {
			return &v
		}
	}
	return nil
}

func derefOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}
