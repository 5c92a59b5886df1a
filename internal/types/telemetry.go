package types

// CloudWatch metric names and dimensions for the SMS relay.
const (
	MetricSMSSendResult      = "SMSSendResult"
	MetricSMSSendAttempts    = "SMSSendAttempts"
	MetricSMSDispatchLatency = "SMSDispatchLatency"
	MetricSMSStatusCallback  = "SMSStatusCallback"

	DimResult         = "Result"
	DimDeliveryStatus = "DeliveryStatus"
	DimProvider       = "Provider"

	MetricNamespace = "SMSRelay"
)
