package core

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"smsrelay/internal/types"
)

// CloudWatchClient abstracts PutMetricData for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchSMSMetrics publishes pipeline metrics to CloudWatch. Publishing
// errors are logged and swallowed.
//
// Metrics emitted:
//   - SMSSendResult{Result, Provider}: one per processed queue item
//   - SMSSendAttempts{Provider}: attempts used by a dispatch
//   - SMSDispatchLatency{Provider}: wall time of a dispatch in ms
//   - SMSStatusCallback{DeliveryStatus}: one per webhook merge
type CloudWatchSMSMetrics struct {
	client    CloudWatchClient
	namespace string
	provider  string
	logger    types.Logger
}

var _ SMSMetrics = (*CloudWatchSMSMetrics)(nil)

// NewCloudWatchSMSMetrics publishes under namespace, or types.MetricNamespace when empty.
func NewCloudWatchSMSMetrics(client CloudWatchClient, namespace string, logger types.Logger) *CloudWatchSMSMetrics {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	return &CloudWatchSMSMetrics{
		client:    client,
		namespace: namespace,
		provider:  "twilio",
		logger:    logger,
	}
}

func (m *CloudWatchSMSMetrics) RecordSendResult(ctx context.Context, result types.SendResult) {
	m.put(ctx, types.MetricSMSSendResult, 1, cwtypes.StandardUnitCount,
		dim(types.DimResult, string(result)), dim(types.DimProvider, m.provider))
}

func (m *CloudWatchSMSMetrics) RecordAttempts(ctx context.Context, attempts int) {
	m.put(ctx, types.MetricSMSSendAttempts, float64(attempts), cwtypes.StandardUnitCount,
		dim(types.DimProvider, m.provider))
}

func (m *CloudWatchSMSMetrics) RecordDispatchLatency(ctx context.Context, d time.Duration) {
	m.put(ctx, types.MetricSMSDispatchLatency, float64(d.Milliseconds()), cwtypes.StandardUnitMilliseconds,
		dim(types.DimProvider, m.provider))
}

func (m *CloudWatchSMSMetrics) RecordStatusCallback(ctx context.Context, deliveryStatus string) {
	if deliveryStatus == "" {
		deliveryStatus = "unknown"
	}
	m.put(ctx, types.MetricSMSStatusCallback, 1, cwtypes.StandardUnitCount,
		dim(types.DimDeliveryStatus, deliveryStatus))
}

func dim(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}

func (m *CloudWatchSMSMetrics) put(ctx context.Context, name string, value float64, unit cwtypes.StandardUnit, dims ...cwtypes.Dimension) {
	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{{
			MetricName: aws.String(name),
			Value:      aws.Float64(value),
			Unit:       unit,
			Dimensions: dims,
		}},
	})
	if err != nil {
		m.logger.Error("failed to publish metric", "metric", name, "error", err.Error())
	}
}
