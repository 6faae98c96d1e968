// Package observability provides the metrics recorders and tracing bootstrap
// used by the server. A Recorder satisfies the metric hooks of the HTTP
// chassis, the engine client and the coverage searcher at once.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/prometheus/client_golang/prometheus"

	"sigproxy/internal/config"
)

// Recorder receives every telemetry observation the service makes.
type Recorder interface {
	RecordRequest(method, endpoint, status string, duration time.Duration)
	RecordEngineCall(ctx context.Context, kind, outcome string, duration time.Duration)
	RecordCoverageSearch(ctx context.Context, outcome string, rings, cells, samples int, duration time.Duration)
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) RecordRequest(string, string, string, time.Duration) {}
func (NopRecorder) RecordEngineCall(context.Context, string, string, time.Duration) {}
func (NopRecorder) RecordCoverageSearch(context.Context, string, int, int, int, time.Duration) {}

// NewRecorder builds the recorder selected by METRICS_BACKEND. The returned
// handler serves /metrics and is nil unless the backend is Prometheus.
func NewRecorder(ctx context.Context, cfg *config.Config, reg prometheus.Registerer, logger *slog.Logger) (Recorder, http.Handler, error) {
	switch cfg.Observability.MetricsBackend {
	case config.MetricsPrometheus:
		rec, err := NewPrometheusRecorder(reg)
		if err != nil {
			return nil, nil, fmt.Errorf("registering prometheus collectors: %w", err)
		}
		return rec, rec.Handler(), nil

	case config.MetricsCloudWatch:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			return nil, nil, fmt.Errorf("loading AWS config for cloudwatch: %w", err)
		}
		client := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		return NewCloudWatchRecorder(client, cfg.Observability.MetricNamespace, logger), nil, nil

	case config.MetricsNone, "":
		return NopRecorder{}, nil, nil

	default:
		return nil, nil, fmt.Errorf("unsupported metrics backend: %s", cfg.Observability.MetricsBackend)
	}
}
