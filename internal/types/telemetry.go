package types

// Telemetry metric names for CloudWatch.
// All components MUST use these constants.
const (
	// Metric Names
	MetricTaskSucceeded    = "TaskSucceeded"
	MetricTaskFailed       = "TaskFailed"
	MetricTaskSkipped      = "TaskSkipped"
	MetricBytesTransferred = "BytesTransferred"
	MetricTransferFailures = "TransferFailures"
	MetricTaskDuration     = "TaskDuration"

	// Dimension Keys
	DimProduct  = "Product"
	DimVariable = "Variable"
	DimProtocol = "Protocol"

	// Metric Namespace
	MetricNamespace = "IHEWAcollect"
)
