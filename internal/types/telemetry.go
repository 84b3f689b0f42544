package types

// Metric names shared by the CloudWatch and Prometheus backends.
const (
	MetricRunOutcome     = "WorkflowRunOutcome"
	MetricStepRetry      = "WorkflowStepRetry"
	MetricReminderSent   = "ReminderSent"
	MetricReminderFailed = "ReminderFailed"
	MetricAPILatency     = "APILatency"

	DimWorkflow = "Workflow"
	DimOutcome  = "Outcome"
	DimStep     = "Step"
	DimOffset   = "Offset"
	DimProvider = "Provider"
	DimEndpoint = "Endpoint"
	DimStatus   = "Status"

	MetricNamespace = "SubTrack"
)
