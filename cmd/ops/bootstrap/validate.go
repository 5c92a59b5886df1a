package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"smsrelay/internal/external"
	"smsrelay/internal/types"
)

// ValidationResult is the pass/fail outcome shown to the operator.
type ValidationResult struct {
	Valid   bool
	Message string
}

func valid(format string, args ...any) ValidationResult {
	return ValidationResult{Valid: true, Message: fmt.Sprintf(format, args...)}
}

func invalid(format string, args ...any) ValidationResult {
	return ValidationResult{Valid: false, Message: fmt.Sprintf(format, args...)}
}

// HTTPClient is satisfied by *http.Client and *external.BaseClient.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// DatabaseConnector opens and immediately closes a connection.
type DatabaseConnector interface {
	Connect(ctx context.Context, dsn string) error
}

// PgxConnector verifies a DSN with a real pgx connection.
type PgxConnector struct{}

func (c *PgxConnector) Connect(ctx context.Context, dsn string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	return conn.Close(ctx)
}

// Validator holds the dependencies of the active probes.
type Validator struct {
	httpClient    HTTPClient
	dbConn        DatabaseConnector
	twilioBaseURL string
}

const defaultTwilioBaseURL = "https://api.twilio.com"

// twilioLookupRetryPolicy retries the read-only account lookup on 429/5xx.
// Unlike a message send, repeating the GET has no side effect.
var twilioLookupRetryPolicy = external.RetryPolicy{
	MaxRetries: 2,
	MinWait:    500 * time.Millisecond,
	MaxWait:    4 * time.Second,
}

// newTwilioLookupClient wraps httpClient in a BaseClient with the lookup
// retry policy and its own circuit breaker.
func newTwilioLookupClient(httpClient *http.Client, opts ...external.BaseClientOption) *external.BaseClient {
	return external.NewBaseClient(httpClient, "twilio-bootstrap", twilioLookupRetryPolicy, "smsrelay-bootstrap/1.0", opts...)
}

// NewValidator creates a Validator that talks to the live Twilio API and
// opens real database connections.
func NewValidator() *Validator {
	return &Validator{
		httpClient:    newTwilioLookupClient(&http.Client{Timeout: 10 * time.Second}),
		dbConn:        &PgxConnector{},
		twilioBaseURL: defaultTwilioBaseURL,
	}
}

// NewValidatorWithDeps is used by tests. An empty twilioBaseURL uses the
// production API.
func NewValidatorWithDeps(httpClient HTTPClient, dbConn DatabaseConnector, twilioBaseURL string) *Validator {
	if twilioBaseURL == "" {
		twilioBaseURL = defaultTwilioBaseURL
	}
	return &Validator{httpClient: httpClient, dbConn: dbConn, twilioBaseURL: strings.TrimRight(twilioBaseURL, "/")}
}

// validateTimeout is the outer bound for a single active probe.
const validateTimeout = 15 * time.Second

// ValidateDatabaseURL checks the scheme and opens a real connection.
func (v *Validator) ValidateDatabaseURL(ctx context.Context, rawURL string) ValidationResult {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return invalid("database URL must not be empty")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return invalid("invalid URL format: %v", err)
	}
	if parsed.Scheme != "postgres" && parsed.Scheme != "postgresql" {
		return invalid("expected postgres:// or postgresql:// scheme, got %q", parsed.Scheme)
	}
	if parsed.Hostname() == "" {
		return invalid("database URL has no host")
	}

	connCtx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()
	if err := v.dbConn.Connect(connCtx, rawURL); err != nil {
		return invalid("connection failed: %v", err)
	}
	return valid("database connection verified (host=%s)", parsed.Hostname())
}

var (
	accountSIDRegex          = regexp.MustCompile(`^AC[0-9a-fA-F]{32}$`)
	messagingServiceSIDRegex = regexp.MustCompile(`^MG[0-9a-fA-F]{32}$`)
)

// ValidateAccountSID checks the AC-prefixed format only.
func (v *Validator) ValidateAccountSID(ctx context.Context, sid string) ValidationResult {
	return v.ValidateRegex(ctx, sid, accountSIDRegex.String(), "Twilio Account SID")
}

// ValidateMessagingServiceSID checks the MG-prefixed format only.
func (v *Validator) ValidateMessagingServiceSID(ctx context.Context, sid string) ValidationResult {
	return v.ValidateRegex(ctx, sid, messagingServiceSIDRegex.String(), "Twilio Messaging Service SID")
}

// twilioAccount is the part of GET /Accounts/{sid}.json we report back.
type twilioAccount struct {
	FriendlyName string `json:"friendly_name"`
	Status       string `json:"status"`
}

// ValidateTwilioCredentials fetches the account resource with basic auth.
// It is read-only and sends nothing. Throttled or 5xx answers are retried by
// the lookup client before the credentials are reported invalid.
func (v *Validator) ValidateTwilioCredentials(ctx context.Context, accountSID, authToken string) ValidationResult {
	accountSID = strings.TrimSpace(accountSID)
	authToken = strings.TrimSpace(authToken)
	if accountSID == "" {
		return invalid("Twilio Account SID is not known yet; store it before the auth token")
	}
	if authToken == "" {
		return invalid("Twilio auth token must not be empty")
	}

	reqCtx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s.json", v.twilioBaseURL, url.PathEscape(accountSID))
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return invalid("building request: %v", err)
	}
	req.SetBasicAuth(accountSID, authToken)
	req.Header.Set("Accept", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return invalid("Twilio API unreachable: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return invalid("Twilio rejected the credentials (401)")
	case resp.StatusCode != http.StatusOK:
		return invalid("unexpected Twilio response %d: %s", resp.StatusCode, truncateBody(body, 200))
	}

	var acct twilioAccount
	if err := json.Unmarshal(body, &acct); err != nil {
		return invalid("could not decode Twilio account: %v", err)
	}
	if acct.Status != "" && acct.Status != "active" {
		return invalid("Twilio account %q is %s", acct.FriendlyName, acct.Status)
	}
	return valid("Twilio account verified: %s", acct.FriendlyName)
}

// ValidateFromNumber applies the same E.164 rule the worker uses for recipients.
func (v *Validator) ValidateFromNumber(_ context.Context, number string) ValidationResult {
	if err := types.ValidatePhone(strings.TrimSpace(number)); err != nil {
		return invalid("sender number must be E.164, e.g. +15551234567")
	}
	return valid("sender number format accepted")
}

// ValidateHTTPSURL accepts absolute https URLs only.
func (v *Validator) ValidateHTTPSURL(_ context.Context, raw, fieldName string) ValidationResult {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return invalid("%s is not a URL: %v", fieldName, err)
	}
	if parsed.Scheme != "https" || parsed.Host == "" {
		return invalid("%s must be an absolute https:// URL", fieldName)
	}
	return valid("%s format accepted (%s)", fieldName, parsed.Host)
}

// ValidateRegex checks input against pattern.
func (v *Validator) ValidateRegex(_ context.Context, input, pattern, fieldName string) ValidationResult {
	input = strings.TrimSpace(input)
	if input == "" {
		return invalid("%s must not be empty", fieldName)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return invalid("internal error: invalid pattern for %s: %v", fieldName, err)
	}
	if !re.MatchString(input) {
		return invalid("%s has an unexpected format", fieldName)
	}
	return valid("%s format accepted", fieldName)
}

func truncateBody(body []byte, n int) string {
	s := strings.TrimSpace(string(body))
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
