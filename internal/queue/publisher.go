// Package queue publishes queue item creation events to SQS, where the SMS
// worker consumes them.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"smsrelay/internal/config"
	"smsrelay/internal/types"
)

// SQSSender abstracts SendMessage for testability.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Publisher sends QueueItemCreatedEvent messages to the SMS queue.
type Publisher struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewPublisher reads the queue URL from the AWS section.
func NewPublisher(client SQSSender, awsCfg config.AWSConfig, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{client: client, queueURL: awsCfg.SMSQueueURL, logger: logger}
}

// PublishCreated emits the creation event for one queue item. The event path
// is derived from the ids so the two always agree.
func (p *Publisher) PublishCreated(ctx context.Context, ref types.QueueItemRef, item types.QueueItem) (types.QueueItemCreatedEvent, error) {
	evt := types.QueueItemCreatedEvent{
		Path:      ref.Path(),
		UserID:    ref.UserID,
		QueueID:   ref.QueueID,
		Item:      item,
		CreatedAt: item.CreatedAt,
	}
	if p.queueURL == "" {
		return evt, &config.ConfigError{Type: config.ErrMissingEnv, Message: "SQS_SMS_QUEUE is not set"}
	}

	body, err := json.Marshal(evt)
	if err != nil {
		return evt, fmt.Errorf("queue: failed to marshal QueueItemCreatedEvent: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"userId": {
				DataType:    aws.String("String"),
				StringValue: aws.String(ref.UserID),
			},
		},
	}
	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return evt, fmt.Errorf("queue: failed to send QueueItemCreatedEvent to %s: %w", p.queueURL, err)
	}

	p.logger.InfoContext(ctx, "queue item created event sent",
		"queue_url", p.queueURL,
		"path", evt.Path,
		"transaction_id", item.TransactionID,
	)
	return evt, nil
}
