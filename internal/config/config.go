// Package config defines the process configuration for sigproxy.
// Configuration is loaded once at start and is immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// A missing engine executable or any invalid value aborts startup.
package config

import (
	"time"

	"sigproxy/internal/types"
)

// SecretString is an alias for types.SecretString so configuration secrets
// never leak through fmt or JSON.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the subset they need.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"OTEL_SERVICE_NAME" default:"sigproxy"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json" validate:"oneof=json text"`
	Debug       bool   `envconfig:"DEBUG" default:"false"`

	Server        ServerConfig
	Engine        EngineConfig
	Coverage      CoverageConfig
	Auth          AuthConfig
	AWS           AWSConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port               string        `envconfig:"PORT" default:"3000" validate:"required,numeric"`
	RequestTimeout     time.Duration `envconfig:"REQUEST_TIMEOUT" default:"120s" validate:"gt=0"`
	CorsAllowedOrigins []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// Engine transport modes.
const (
	EngineModeDaemon  = "daemon"
	EngineModePerCall = "per_call"
)

// EngineConfig describes how the propagation engine is launched.
type EngineConfig struct {
	// ExecPath is the engine executable. It has no default: an unset value is
	// a fatal startup error.
	ExecPath string `envconfig:"SS_EXEC"`
	// TerrainPath is the directory of elevation tiles handed to the engine
	// as -sdf. Optional.
	TerrainPath string `envconfig:"SS_SDF"`

	Mode            string        `envconfig:"ENGINE_MODE" default:"daemon" validate:"oneof=daemon per_call"`
	CallTimeout     time.Duration `envconfig:"ENGINE_CALL_TIMEOUT" default:"30s" validate:"gt=0"`
	BreakerFailures uint32        `envconfig:"ENGINE_BREAKER_FAILURES" default:"5" validate:"gte=1"`
	BreakerCooldown time.Duration `envconfig:"ENGINE_BREAKER_COOLDOWN" default:"15s" validate:"gt=0"`
}

// CoverageConfig bounds the ring-expansion search.
type CoverageConfig struct {
	Workers       int `envconfig:"COVERAGE_WORKERS" default:"8" validate:"gte=1,lte=256"`
	MaxRings      int `envconfig:"COVERAGE_MAX_RINGS" default:"0" validate:"gte=0"`
	MinResolution int `envconfig:"COVERAGE_MIN_RESOLUTION" default:"0" validate:"gte=0,lte=15"`
	MaxResolution int `envconfig:"COVERAGE_MAX_RESOLUTION" default:"15" validate:"gte=0,lte=15,gtefield=MinResolution"`
}

// AuthConfig holds the optional bearer token check for /v1 routes.
type AuthConfig struct {
	// TokenHash is a bcrypt hash of the accepted bearer token. Empty disables
	// authentication.
	TokenHash SecretString `envconfig:"API_TOKEN_HASH"`
}

// AWSConfig is used by the SSM secret provider and the CloudWatch recorder.
type AWSConfig struct {
	Region      string `envconfig:"AWS_REGION" default:"us-east-1"`
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// Metrics backends.
const (
	MetricsPrometheus = "prometheus"
	MetricsCloudWatch = "cloudwatch"
	MetricsNone       = "none"
)

// ObservabilityConfig holds metrics and tracing settings.
type ObservabilityConfig struct {
	MetricsBackend  string  `envconfig:"METRICS_BACKEND" default:"prometheus" validate:"oneof=prometheus cloudwatch none"`
	MetricNamespace string  `envconfig:"METRIC_NAMESPACE" default:"SigProxy"`
	EnableTracing   bool    `envconfig:"ENABLE_TRACING" default:"false"`
	TracingExporter string  `envconfig:"TRACING_EXPORTER" default:"stdout" validate:"oneof=stdout otlp"`
	OTLPEndpoint    string  `envconfig:"OTLP_ENDPOINT" default:"localhost:4317"`
	SampleRatio     float64 `envconfig:"TRACING_SAMPLE_RATIO" default:"1.0" validate:"gte=0,lte=1"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSSMResolution indicates a failure when fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates an environment value could not be parsed into its
	// target type.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
