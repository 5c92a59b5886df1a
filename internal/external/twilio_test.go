package external

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smsrelay/internal/types"
)

func newTestTwilioClient(serverURL string) *TwilioClient {
	return NewTwilioClientWithBase(newTestBase(NoRetryPolicy()), TwilioClientConfig{
		AccountSID: "AC123",
		AuthToken:  "secret-token",
		BaseURL:    serverURL + "/",
	})
}

func TestTwilioSend_MessagingService(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/2010-04-01/Accounts/AC123/Messages.json", r.URL.Path)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))

		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "AC123", user)
		assert.Equal(t, "secret-token", pass)

		require.NoError(t, r.ParseForm())
		assert.Equal(t, "+15551234567", r.PostForm.Get("To"))
		assert.Equal(t, "Thank you Jane", r.PostForm.Get("Body"))
		assert.Equal(t, "MG999", r.PostForm.Get("MessagingServiceSid"))
		assert.Empty(t, r.PostForm.Get("From"))
		assert.Equal(t, "https://hooks.example.com/status?queueId=q1&userId=u1", r.PostForm.Get("StatusCallback"))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"sid":"SM0001","status":"accepted"}`))
	}))
	defer server.Close()

	sid, err := newTestTwilioClient(server.URL).Send(context.Background(), types.SMSMessage{
		To:                  "+15551234567",
		Body:                "Thank you Jane",
		MessagingServiceSID: "MG999",
		From:                "+15550000000",
		StatusCallback:      "https://hooks.example.com/status?queueId=q1&userId=u1",
	})
	require.NoError(t, err)
	assert.Equal(t, "SM0001", sid)
}

func TestTwilioSend_FromNumberWithoutCallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "+15550000000", r.PostForm.Get("From"))
		_, hasMS := r.PostForm["MessagingServiceSid"]
		_, hasCB := r.PostForm["StatusCallback"]
		assert.False(t, hasMS)
		assert.False(t, hasCB)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"sid":"SM0002"}`))
	}))
	defer server.Close()

	sid, err := newTestTwilioClient(server.URL).Send(context.Background(), types.SMSMessage{
		To: "+15551234567", Body: "hi", From: "+15550000000",
	})
	require.NoError(t, err)
	assert.Equal(t, "SM0002", sid)
}

func TestTwilioSend_ProviderErrorKeepsMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":21211,"message":"The 'To' number +15005550001 is not a valid phone number.","more_info":"https://www.twilio.com/docs/errors/21211","status":400}`))
	}))
	defer server.Close()

	_, err := newTestTwilioClient(server.URL).Send(context.Background(), types.SMSMessage{To: "+15005550001", Body: "x", From: "+1"})
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamSMSProvider, appErr.Code)
	assert.Equal(t, "The 'To' number +15005550001 is not a valid phone number.", appErr.Message)
	assert.Equal(t, 21211, appErr.Details["twilio_code"])
}

func TestTwilioSend_RejectsInvalidDestinationLocally(t *testing.T) {
	var called bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	client := newTestTwilioClient(server.URL)
	for to, code := range map[string]types.ErrorCode{
		"555-1234": types.ErrCodeValidationInvalidPhone,
		"":         types.ErrCodeValidationMissingField,
	} {
		_, err := client.Send(context.Background(), types.SMSMessage{To: to, Body: "x", From: "+15550000000"})
		var appErr *types.AppError
		require.ErrorAs(t, err, &appErr, "to=%q", to)
		assert.Equal(t, code, appErr.Code, "to=%q", to)
	}
	assert.False(t, called, "no request for an invalid destination")
}

func TestTwilioSend_NonJSONError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("Unauthorized"))
	}))
	defer server.Close()

	_, err := newTestTwilioClient(server.URL).Send(context.Background(), types.SMSMessage{To: "+15551234567", Body: "x", From: "+1"})
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "Twilio returned status 401: Unauthorized", appErr.Message)
}

func TestTwilioSend_ServerErrorFromBaseClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := newTestTwilioClient(server.URL).Send(context.Background(), types.SMSMessage{To: "+15551234567", Body: "x", From: "+1"})
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamUnavailable, appErr.Code)
	assert.Equal(t, "SMS provider returned 503", appErr.Message)
}

func TestTwilioSend_MissingSID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"status":"queued"}`))
	}))
	defer server.Close()

	_, err := newTestTwilioClient(server.URL).Send(context.Background(), types.SMSMessage{To: "+15551234567", Body: "x", From: "+1"})
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamInvalidResult, appErr.Code)
}

func TestNewTwilioClient_Defaults(t *testing.T) {
	c := NewTwilioClient(&http.Client{Timeout: time.Second}, TwilioClientConfig{AccountSID: "AC1"})
	assert.Equal(t, "https://api.twilio.com", c.baseURL)
	assert.NotNil(t, c.logger)
}
