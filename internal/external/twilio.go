package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"

	"smsrelay/internal/types"
)

const twilioAPIBase = "https://api.twilio.com"

// TwilioClientConfig holds the credentials for the Messages API.
type TwilioClientConfig struct {
	AccountSID string
	AuthToken  types.SecretString
	BaseURL    string // defaults to twilioAPIBase
	Logger     *slog.Logger
}

// TwilioClient implements SMSProvider against the Twilio REST Messages API.
type TwilioClient struct {
	base       *BaseClient
	validate   *validator.Validate
	accountSID string
	authToken  types.SecretString
	baseURL    string
	logger     *slog.Logger
}

// NewTwilioClient builds a client without transport retries; the dispatcher
// owns the attempt loop.
func NewTwilioClient(httpClient *http.Client, cfg TwilioClientConfig) *TwilioClient {
	return NewTwilioClientWithBase(
		NewBaseClient(httpClient, "twilio", NoRetryPolicy(), "sms-relay/1.0"),
		cfg,
	)
}

// NewTwilioClientWithBase creates a TwilioClient over an existing BaseClient.
// Tests use it to point the client at an httptest server.
func NewTwilioClientWithBase(base *BaseClient, cfg TwilioClientConfig) *TwilioClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = twilioAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &TwilioClient{
		base:       base,
		validate:   types.NewValidator(),
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		logger:     logger,
	}
}

type twilioMessageResponse struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

// twilioErrorResponse is the body Twilio returns with 4xx statuses.
type twilioErrorResponse struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

// Send posts one message and returns its SID. A destination that is not a
// valid phone number fails with a validation AppError before any request.
func (c *TwilioClient) Send(ctx context.Context, msg types.SMSMessage) (string, error) {
	if err := types.ValidateMessage(c.validate, msg); err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("To", msg.To)
	form.Set("Body", msg.Body)
	if msg.MessagingServiceSID != "" {
		form.Set("MessagingServiceSid", msg.MessagingServiceSID)
	} else {
		form.Set("From", msg.From)
	}
	if msg.StatusCallback != "" {
		form.Set("StatusCallback", msg.StatusCallback)
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.baseURL, url.PathEscape(c.accountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build Twilio request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.accountSID, c.authToken.Unmask())

	resp, err := c.base.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamInvalidResult, "failed to read Twilio response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", c.decodeError(resp.StatusCode, raw)
	}

	var out twilioMessageResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamInvalidResult, "Twilio returned an unparseable response", err)
	}
	if out.SID == "" {
		return "", types.NewAppError(types.ErrCodeUpstreamInvalidResult, "Twilio response is missing the message sid", nil)
	}

	c.logger.DebugContext(ctx, "twilio accepted message",
		"sid", out.SID, "twilio_status", out.Status, "to", types.MaskPhone(msg.To))
	return out.SID, nil
}

// decodeError keeps Twilio's own message as the AppError message so it can be
// stored verbatim as a queue item's lastError.
func (c *TwilioClient) decodeError(status int, raw []byte) error {
	var body twilioErrorResponse
	if err := json.Unmarshal(raw, &body); err == nil && body.Message != "" {
		return types.NewAppErrorWithDetails(types.ErrCodeUpstreamSMSProvider, body.Message, nil,
			map[string]any{
				"twilio_code": body.Code,
				"http_status": status,
				"more_info":   body.MoreInfo,
			})
	}
	text := strings.TrimSpace(string(raw))
	if len(text) > 200 {
		text = text[:200]
	}
	return types.NewAppErrorWithDetails(types.ErrCodeUpstreamSMSProvider,
		fmt.Sprintf("Twilio returned status %d: %s", status, text), nil,
		map[string]any{"http_status": status})
}

var _ SMSProvider = (*TwilioClient)(nil)
