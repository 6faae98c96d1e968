package observability

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"sigproxy/internal/types"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchRecorder emits telemetry to AWS CloudWatch.
//
// Metrics emitted:
//   - APIRequestCount, APILatency: Dims {Method, Endpoint, Status}
//   - EngineCall: Dims {Kind, Outcome}; EngineLatency: Dims {Kind}
//   - CoverageSearch, CoverageCells, CoverageRings: Dims {Outcome}
//
// Publishing failures are logged and never surface to the caller.
type CloudWatchRecorder struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

var _ Recorder = (*CloudWatchRecorder)(nil)

// NewCloudWatchRecorder creates a recorder that publishes to namespace,
// falling back to types.MetricNamespace when empty.
func NewCloudWatchRecorder(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchRecorder {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchRecorder{client: client, namespace: namespace, logger: logger}
}

// RecordRequest emits request count and latency. It runs on the request path
// and uses a fresh context so a cancelled request still gets counted.
func (m *CloudWatchRecorder) RecordRequest(method, endpoint, status string, duration time.Duration) {
	dims := []cwtypes.Dimension{
		dim(types.DimMethod, method),
		dim(types.DimEndpoint, endpoint),
		dim(types.DimStatus, status),
	}
	m.put(context.Background(), "request",
		datum(types.MetricAPIRequestCount, 1, cwtypes.StandardUnitCount, dims),
		datum(types.MetricAPILatency, float64(duration.Milliseconds()), cwtypes.StandardUnitMilliseconds, dims),
	)
}

// RecordEngineCall emits one EngineCall count and its latency.
func (m *CloudWatchRecorder) RecordEngineCall(ctx context.Context, kind, outcome string, duration time.Duration) {
	m.put(context.WithoutCancel(ctx), "engine call",
		datum(types.MetricEngineCall, 1, cwtypes.StandardUnitCount, []cwtypes.Dimension{
			dim(types.DimKind, kind),
			dim(types.DimOutcome, outcome),
		}),
		datum(types.MetricEngineLatency, float64(duration.Milliseconds()), cwtypes.StandardUnitMilliseconds, []cwtypes.Dimension{
			dim(types.DimKind, kind),
		}),
	)
}

// RecordCoverageSearch emits the search count and its size. Samples are
// already counted through EngineCall.
func (m *CloudWatchRecorder) RecordCoverageSearch(ctx context.Context, outcome string, rings, cells, _ int, duration time.Duration) {
	dims := []cwtypes.Dimension{dim(types.DimOutcome, outcome)}
	m.put(context.WithoutCancel(ctx), "coverage search",
		datum(types.MetricCoverageSearch, float64(duration.Milliseconds()), cwtypes.StandardUnitMilliseconds, dims),
		datum(types.MetricCoverageCells, float64(cells), cwtypes.StandardUnitCount, dims),
		datum(types.MetricCoverageRings, float64(rings), cwtypes.StandardUnitCount, dims),
	)
}

func (m *CloudWatchRecorder) put(ctx context.Context, what string, data ...cwtypes.MetricDatum) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record "+what+" metric", "error", err.Error())
	}
}

func datum(name string, value float64, unit cwtypes.StandardUnit, dims []cwtypes.Dimension) cwtypes.MetricDatum {
	return cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(value),
		Unit:       unit,
		Dimensions: dims,
	}
}

func dim(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}
