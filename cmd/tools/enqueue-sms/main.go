// Package main implements the enqueue-sms CLI for operators and local testing.
//
// It inserts a queue item document (status queued, attempts 0) at
// users/{user}/smsQueue/{uuid} and publishes the creation event the SMS worker
// consumes. Optional flags upsert the user's SMS settings first.
//
// Usage:
//
//	go run ./cmd/tools/enqueue-sms --user=u1 --to=+15551234567 --amount=25 --txn=TX1 --donor=Jane
//	go run ./cmd/tools/enqueue-sms --dry-run --user=u1 --to=+15551234567 --amount=25 --txn=TX1
//	go run ./cmd/tools/enqueue-sms --migrate --user=u1 ... --settings-template="Thanks {name}!"
//
// DATABASE_URL and SQS_SMS_QUEUE come from the environment (or .env, or SSM
// via *_SSM_PARAM pointers). --dry-run prints the event JSON without touching
// either.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"smsrelay/internal/config"
	"smsrelay/internal/db"
	"smsrelay/internal/queue"
	"smsrelay/internal/types"
)

// options holds the parsed command line.
type options struct {
	userID   string
	to       string
	amount   string
	date     string
	txn      string
	donor    string
	member   string
	category string
	optIn    string

	settingsEnabled string
	settingsTmpl    string
	windowStart     string
	windowEnd       string

	migrate bool
	dryRun  bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("enqueue-sms", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&o.userID, "user", "", "Owning user id (required)")
	fs.StringVar(&o.to, "to", "", "Recipient phone number in E.164 form (required)")
	fs.StringVar(&o.amount, "amount", "", "Donation amount, e.g. 25 or 1234.50 (required)")
	fs.StringVar(&o.date, "date", "", "Donation date (default: today, YYYY-MM-DD)")
	fs.StringVar(&o.txn, "txn", "", "Transaction id (required)")
	fs.StringVar(&o.donor, "donor", "", "Donor display name")
	fs.StringVar(&o.member, "member", "", "Member id")
	fs.StringVar(&o.category, "category", "", "Donation category")
	fs.StringVar(&o.optIn, "opt-in", "", "Record an explicit SMS opt-in preference (true|false)")

	fs.StringVar(&o.settingsEnabled, "settings-enabled", "", "Upsert settings: enabled (true|false)")
	fs.StringVar(&o.settingsTmpl, "settings-template", "", "Upsert settings: message template")
	fs.StringVar(&o.windowStart, "settings-window-start", "", "Upsert settings: send window start HH:MM")
	fs.StringVar(&o.windowEnd, "settings-window-end", "", "Upsert settings: send window end HH:MM")

	fs.BoolVar(&o.migrate, "migrate", false, "Create tables if they do not exist")
	fs.BoolVar(&o.dryRun, "dry-run", false, "Print the event JSON without writing or publishing")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: enqueue-sms [flags]\n\n")
		fmt.Fprintf(stderr, "Insert an SMS queue item and publish its creation event.\n\n")
		fmt.Fprintf(stderr, "Flags:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return o, err
	}
	for name, v := range map[string]string{"--user": o.userID, "--to": o.to, "--amount": o.amount, "--txn": o.txn} {
		if v == "" {
			return o, fmt.Errorf("%s is required", name)
		}
	}
	return o, nil
}

// queueItem builds the document to insert. The phone number is not validated
// here so operators can exercise the worker's rejection path.
func (o options) queueItem(now time.Time) (types.QueueItem, error) {
	amount, err := decimal.NewFromString(o.amount)
	if err != nil {
		return types.QueueItem{}, fmt.Errorf("invalid --amount %q: %w", o.amount, err)
	}
	optIn, err := optionalBool("--opt-in", o.optIn)
	if err != nil {
		return types.QueueItem{}, err
	}
	date := o.date
	if date == "" {
		date = now.Format("2006-01-02")
	}
	return types.QueueItem{
		TransactionID: o.txn,
		MemberID:      o.member,
		To:            o.to,
		DonorName:     o.donor,
		Amount:        amount.InexactFloat64(),
		Date:          date,
		Category:      o.category,
		OptInSMS:      optIn,
		Status:        types.QueueStatusQueued,
	}, nil
}

// settings returns the settings document to upsert, or nil when no settings
// flag was given.
func (o options) settings() (*types.UserSMSSettings, error) {
	if o.settingsEnabled == "" && o.settingsTmpl == "" && o.windowStart == "" && o.windowEnd == "" {
		return nil, nil
	}
	enabled, err := optionalBool("--settings-enabled", o.settingsEnabled)
	if err != nil {
		return nil, err
	}
	return &types.UserSMSSettings{
		Enabled:         enabled,
		TemplateText:    optionalString(o.settingsTmpl),
		SendWindowStart: optionalString(o.windowStart),
		SendWindowEnd:   optionalString(o.windowEnd),
	}, nil
}

func optionalBool(name, v string) (*bool, error) {
	if v == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	return &b, nil
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

type itemCreator interface {
	Create(ctx context.Context, ref types.QueueItemRef, item *types.QueueItem) error
}

type settingsWriter interface {
	Upsert(ctx context.Context, userID string, s types.UserSMSSettings) error
}

type eventPublisher interface {
	PublishCreated(ctx context.Context, ref types.QueueItemRef, item types.QueueItem) (types.QueueItemCreatedEvent, error)
}

// enqueue upserts settings when requested, inserts the item, and publishes
// its creation event. The item is inserted before publishing so the worker
// never sees an event for a missing document.
func enqueue(ctx context.Context, items itemCreator, settingsRepo settingsWriter, pub eventPublisher,
	ref types.QueueItemRef, item types.QueueItem, settings *types.UserSMSSettings) (types.QueueItemCreatedEvent, error) {
	if settings != nil {
		if err := settingsRepo.Upsert(ctx, ref.UserID, *settings); err != nil {
			return types.QueueItemCreatedEvent{}, fmt.Errorf("upserting settings: %w", err)
		}
	}
	if err := items.Create(ctx, ref, &item); err != nil {
		return types.QueueItemCreatedEvent{}, fmt.Errorf("creating queue item: %w", err)
	}
	evt, err := pub.PublishCreated(ctx, ref, item)
	if err != nil {
		return evt, fmt.Errorf("publishing event for %s: %w", ref.Path(), err)
	}
	return evt, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
	if err := run(opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options, stdout io.Writer) error {
	item, err := opts.queueItem(time.Now().UTC())
	if err != nil {
		return err
	}
	settings, err := opts.settings()
	if err != nil {
		return err
	}
	ref := types.QueueItemRef{UserID: opts.userID, QueueID: uuid.NewString()}

	if opts.dryRun {
		return printJSON(stdout, types.QueueItemCreatedEvent{
			Path:    ref.Path(),
			UserID:  ref.UserID,
			QueueID: ref.QueueID,
			Item:    item,
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_URL")))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	if opts.migrate {
		if err := db.EnsureSchema(ctx, pool); err != nil {
			return err
		}
		logger.Info("schema ensured")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return fmt.Errorf("loading AWS SDK config: %w", err)
	}
	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})

	evt, err := enqueue(ctx,
		db.NewQueueRepository(pool),
		db.NewSettingsRepository(pool),
		queue.NewPublisher(sqsClient, cfg.AWS, logger),
		ref, item, settings,
	)
	if err != nil {
		return err
	}
	logger.Info("queue item enqueued", "path", evt.Path, "to", types.MaskPhone(item.To))
	return printJSON(stdout, evt)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
