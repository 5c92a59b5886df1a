// Package main is the entrypoint for the SMS Worker Lambda function.
//
// The worker consumes QueueItemCreatedEvent messages from the SMS SQS queue.
// Each record runs the full pipeline for one queue item: settings lookup,
// eligibility gate, advisory send window, render, and dispatch through Twilio.
//
// Cold Start (main):
//  1. Load configuration (env > .env > SSM) and fail fast on missing Twilio credentials.
//  2. Initialize the structured logger.
//  3. Open the database pool and build the repositories.
//  4. Build the Twilio client, CloudWatch metrics, dispatcher and processor.
//  5. Register the handler and call lambda.Start.
//
// A record whose body can never succeed (bad JSON, missing ids, path mismatch)
// is logged and acknowledged. Database errors fail only that record so SQS
// redelivers it.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/go-playground/validator/v10"

	"smsrelay/internal/config"
	"smsrelay/internal/db"
	"smsrelay/internal/external"
	ncore "smsrelay/internal/notifications/core"
	"smsrelay/internal/notifications/sms"
	"smsrelay/internal/types"
)

// slogAdapter wraps *slog.Logger to implement types.Logger; slog's With
// returns *slog.Logger rather than the interface.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *slogAdapter) With(args ...any) types.Logger {
	return &slogAdapter{logger: a.logger.With(args...)}
}

// ItemProcessor runs the pipeline for one queue item.
type ItemProcessor interface {
	Process(ctx context.Context, ref types.QueueItemRef, item types.QueueItem) (types.SendResult, error)
}

// Handler holds the dependencies for the worker Lambda handler.
type Handler struct {
	processor ItemProcessor
	validate  *validator.Validate
	logger    types.Logger
}

// Handle processes a batch. Failed records are reported individually so SQS
// retries only those.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	response := events.SQSEventResponse{}

	for _, record := range sqsEvent.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process SQS message",
				"message_id", record.MessageId,
				"error", err.Error(),
			)
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
			)
		}
	}

	return response, nil
}

func (h *Handler) processRecord(ctx context.Context, record events.SQSMessage) error {
	var evt types.QueueItemCreatedEvent
	if err := json.Unmarshal([]byte(record.Body), &evt); err != nil {
		h.logger.Error("failed to unmarshal queue item event",
			"message_id", record.MessageId,
			"error", err.Error(),
		)
		return nil
	}
	if err := types.ValidateEvent(h.validate, &evt); err != nil {
		h.logger.Error("invalid queue item event",
			"message_id", record.MessageId,
			"path", evt.Path,
			"error", err.Error(),
		)
		return nil
	}
	ref, err := evt.Ref()
	if err != nil {
		h.logger.Error("invalid queue item path", "message_id", record.MessageId, "error", err.Error())
		return nil
	}

	ctx = types.WithRequestID(ctx, record.MessageId)
	result, err := h.processor.Process(ctx, ref, evt.Item)
	if err != nil {
		return fmt.Errorf("process %s: %w", ref.Path(), err)
	}

	h.logger.Info("queue item processed",
		"message_id", record.MessageId,
		"user_id", ref.UserID,
		"queue_id", ref.QueueID,
		"result", string(result),
	)
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_URL")))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	// Refuse to start without credentials; no item has been touched yet.
	if err := cfg.Twilio.Validate(); err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)
	typedLogger := &slogAdapter{logger: logger}
	logger.Info("SMS Worker Lambda initializing (cold start)",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
	)

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	queueRepo := db.NewQueueRepository(pool)
	settingsRepo := db.NewSettingsRepository(pool)

	metrics, err := newMetrics(ctx, cfg, typedLogger)
	if err != nil {
		return err
	}

	twilio := external.NewTwilioClient(&http.Client{Timeout: cfg.Twilio.Timeout}, external.TwilioClientConfig{
		AccountSID: cfg.Twilio.AccountSID,
		AuthToken:  cfg.Twilio.AuthToken,
		BaseURL:    cfg.Twilio.APIBaseURL,
		Logger:     logger,
	})

	dispatcher, err := sms.NewDispatcher(twilio, queueRepo, cfg.Twilio, typedLogger, sms.WithMetrics(metrics))
	if err != nil {
		return err
	}

	loc, err := cfg.Dispatch.Location()
	if err != nil {
		logger.Warn("falling back to UTC for send windows", "error", err)
	}

	handler := &Handler{
		processor: sms.NewProcessor(sms.ProcessorDeps{
			Settings:   sms.NewSettingsResolver(settingsRepo),
			Store:      queueRepo,
			Dispatcher: dispatcher,
			Window:     ncore.NewWindowEvaluator(loc),
			Metrics:    metrics,
			Logger:     typedLogger,
		}),
		validate: types.NewValidator(),
		logger:   typedLogger,
	}

	logger.Info("SMS Worker Lambda initialized",
		"metric_namespace", cfg.Observability.MetricNamespace,
		"send_timezone", loc.String(),
		"messaging_service", cfg.Twilio.MessagingServiceSID != "",
	)

	// Local mode: read a JSON SQS event from stdin instead of starting the
	// Lambda runtime.
	//   echo '{"Records":[{"messageId":"1","body":"{...}"}]}' | go run ./cmd/sms-worker
	if cfg.Environment == "local" {
		return runLocal(ctx, handler, os.Stdin, logger)
	}

	lambda.Start(handler.Handle)
	return nil
}

func runLocal(ctx context.Context, handler *Handler, in io.Reader, logger *slog.Logger) error {
	logger.Info("APP_ENV=local: reading SQS event from stdin")
	payload, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("reading stdin: %w", err)
	}
	if len(payload) == 0 {
		return fmt.Errorf("no input received on stdin")
	}
	var sqsEvent events.SQSEvent
	if err := json.Unmarshal(payload, &sqsEvent); err != nil {
		return fmt.Errorf("parsing stdin as SQS event: %w", err)
	}
	response, err := handler.Handle(ctx, sqsEvent)
	if err != nil {
		return err
	}
	if len(response.BatchItemFailures) > 0 {
		respJSON, _ := json.MarshalIndent(response, "", "  ")
		fmt.Fprintln(os.Stderr, string(respJSON))
	}
	logger.Info("Handler execution completed",
		"records_processed", len(sqsEvent.Records),
		"failures", len(response.BatchItemFailures),
	)
	return nil
}

// newMetrics returns CloudWatch metrics when enabled, otherwise a no-op.
func newMetrics(ctx context.Context, cfg *config.Config, logger types.Logger) (ncore.SMSMetrics, error) {
	if !cfg.Observability.EnableMetrics {
		return ncore.NoopMetrics{}, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS SDK config: %w", err)
	}
	cw := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})
	return ncore.NewCloudWatchSMSMetrics(cw, cfg.Observability.MetricNamespace, logger), nil
}

// newLogger creates a JSON slog.Logger for the given level name.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

var _ types.Logger = (*slogAdapter)(nil)
