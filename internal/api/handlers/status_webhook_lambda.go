package handlers

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"

	"github.com/aws/aws-lambda-go/events"

	"smsrelay/internal/types"
)

var errBodyTooLarge = errors.New("request body too large")

// HandleAPIGateway serves the callback behind an API Gateway HTTP API
// (payload format 2.0). Responses match the net/http path exactly.
func (h *StatusWebhookHandler) HandleAPIGateway(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	if req.RequestContext.RequestID != "" {
		ctx = types.WithRequestID(ctx, req.RequestContext.RequestID)
	}

	query := url.Values{}
	for k, v := range req.QueryStringParameters {
		query.Set(k, v)
	}
	userID, queueID := query.Get("userId"), query.Get("queueId")
	if userID == "" || queueID == "" {
		h.logger.WarnContext(ctx, "status callback missing identifiers",
			"user_id", userID,
			"queue_id", queueID,
		)
		return textResponse(http.StatusBadRequest, bodyMissingIdentifiers), nil
	}

	payload := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			h.logger.WarnContext(ctx, "failed to decode base64 status callback body", "error", err)
			return textResponse(http.StatusBadRequest, bodyInvalidBody), nil
		}
		payload = decoded
	}
	if int64(len(payload)) > h.maxBodyBytes {
		h.logger.WarnContext(ctx, "failed to read status callback body", "error", errBodyTooLarge, "size", len(payload))
		return textResponse(http.StatusBadRequest, bodyInvalidBody), nil
	}

	fields, err := collectFields(query, headerValue(req.Headers, "Content-Type"), payload)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to parse status callback body", "error", err)
		return textResponse(http.StatusBadRequest, bodyInvalidBody), nil
	}

	status, body := h.Apply(ctx, types.QueueItemRef{UserID: userID, QueueID: queueID}, fields)
	return textResponse(status, body), nil
}

// headerValue looks a header up case-insensitively; API Gateway lowercases
// names but test events and proxies do not always.
func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	canonical := http.CanonicalHeaderKey(name)
	for k, v := range headers {
		if http.CanonicalHeaderKey(k) == canonical {
			return v
		}
	}
	return ""
}

func textResponse(status int, body string) events.APIGatewayV2HTTPResponse {
	return events.APIGatewayV2HTTPResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "text/plain; charset=utf-8"},
		Body:       body,
	}
}
