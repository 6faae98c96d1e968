package types

// Telemetry metric names shared by the Prometheus and CloudWatch recorders.
const (
	MetricAPILatency      = "APILatency"
	MetricAPIRequestCount = "APIRequestCount"
	MetricEngineCall      = "EngineCall"
	MetricEngineLatency   = "EngineLatency"
	MetricCoverageSearch  = "CoverageSearch"
	MetricCoverageCells   = "CoverageCells"
	MetricCoverageRings   = "CoverageRings"

	DimEndpoint = "Endpoint"
	DimMethod   = "Method"
	DimStatus   = "Status"
	DimKind     = "Kind"
	DimOutcome  = "Outcome"

	MetricNamespace = "SigProxy"
)

// Engine call outcomes used as a metric dimension.
const (
	OutcomeSuccess     = "success"
	OutcomeUnavailable = "unavailable"
	OutcomeMalformed   = "malformed"
	OutcomeInvalid     = "invalid"
	OutcomeCancelled   = "cancelled"
)
