// Package config defines the process configuration for the SMS relay functions.
// Configuration is loaded once during cold start and is read-only afterwards.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Each entrypoint validates the sections it needs; the worker refuses to start
// without usable Twilio credentials.
package config

import (
	"time"

	"smsrelay/internal/types"
)

// SecretString is an alias for types.SecretString so config structs can mark
// credentials without importing types everywhere.
type SecretString = types.SecretString

// Config is the top-level configuration struct shared by all entrypoints.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"sms-relay"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Twilio        TwilioConfig
	Dispatch      DispatchConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig configures the local webhook server.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	MaxBodyBytes    int64         `envconfig:"WEBHOOK_MAX_BODY_BYTES" default:"65536"`
}

// DatabaseConfig holds the document store connection and pool tuning.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns        int32         `envconfig:"DB_MAX_CONNS" default:"4"`
	MinConns        int32         `envconfig:"DB_MIN_CONNS" default:"0"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout  time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
}

// AWSConfig holds AWS region and resource identifiers.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// SMSQueueURL receives QueueItemCreatedEvent messages.
	SMSQueueURL string `envconfig:"SQS_SMS_QUEUE" validate:"omitempty,url"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// TwilioConfig holds the SMS provider credentials and sender identity.
// The webhook function runs without these, so they carry no validate tags;
// the worker calls Validate at cold start instead.
type TwilioConfig struct {
	AccountSID          string        `envconfig:"TWILIO_ACCOUNT_SID"`
	AuthToken           SecretString  `envconfig:"TWILIO_AUTH_TOKEN"`
	MessagingServiceSID string        `envconfig:"TWILIO_MESSAGING_SERVICE_SID"`
	FromNumber          string        `envconfig:"TWILIO_FROM_NUMBER"`
	StatusCallbackURL   string        `envconfig:"TWILIO_STATUS_CALLBACK_URL"`
	APIBaseURL          string        `envconfig:"TWILIO_API_BASE_URL" default:"https://api.twilio.com"`
	Timeout             time.Duration `envconfig:"TWILIO_TIMEOUT" default:"10s"`
}

// Validate checks that the credentials and at least one sender identity are set.
func (c TwilioConfig) Validate() error {
	var missing []string
	if c.AccountSID == "" {
		missing = append(missing, "TWILIO_ACCOUNT_SID")
	}
	if c.AuthToken.IsEmpty() {
		missing = append(missing, "TWILIO_AUTH_TOKEN")
	}
	if c.MessagingServiceSID == "" && c.FromNumber == "" {
		missing = append(missing, "TWILIO_MESSAGING_SERVICE_SID|TWILIO_FROM_NUMBER")
	}
	if len(missing) > 0 {
		return &ConfigError{
			Type:    ErrMissingEnv,
			Message: "twilio configuration incomplete: " + joinNames(missing),
		}
	}
	return nil
}

// DispatchConfig tunes the send pipeline.
type DispatchConfig struct {
	// Timezone is the local processing timezone used to evaluate send windows.
	Timezone string `envconfig:"SEND_TIMEZONE" default:"UTC"`
}

// Location resolves Timezone, falling back to UTC for an unknown zone name.
func (c DispatchConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC, &ConfigError{Type: ErrParsing, Message: "invalid SEND_TIMEZONE " + c.Timezone, Err: err}
	}
	return loc, nil
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"SMSRelay"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"true"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	ErrMissingEnv    ConfigErrorType = "MISSING_ENV"
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	ErrValidation    ConfigErrorType = "VALIDATION_FAILED"
	ErrParsing       ConfigErrorType = "PARSING_FAILED"
)
