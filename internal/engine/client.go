// Package engine bridges structured propagation requests to the external
// engine process. It encodes a ParameterSet into the engine's line grammar,
// carries it over a daemon or per-call subprocess transport, and decodes the
// reply into a Measurement.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "sigproxy/internal/engine"

// Transport modes.
const (
	ModeDaemon  = "daemon"
	ModePerCall = "per_call"
)

// Config is the subset of process configuration the client needs.
type Config struct {
	ExecPath        string
	TerrainPath     string
	Mode            string
	CallTimeout     time.Duration
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// Recorder receives one observation per Sample call.
type Recorder interface {
	RecordEngineCall(ctx context.Context, kind, outcome string, duration time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) RecordEngineCall(context.Context, string, string, time.Duration) {}

// Client is the single entry point to the engine. It is safe for concurrent
// use; in daemon mode calls are serialised on the shared child.
type Client struct {
	cfg      Config
	starter  ProcessStarter
	logger   *slog.Logger
	recorder Recorder
	tracer   trace.Tracer
	stat     func(string) (os.FileInfo, error)

	daemon  *daemonTransport
	perCall *perCallTransport
	breaker *gobreaker.CircuitBreaker[[]byte]
}

// Option configures a Client.
type Option func(*Client)

// WithStarter overrides how engine processes are launched.
func WithStarter(s ProcessStarter) Option {
	return func(c *Client) { c.starter = s }
}

// WithLogger sets the logger used for process lifecycle events.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithRecorder sets the metrics sink.
func WithRecorder(r Recorder) Option {
	return func(c *Client) { c.recorder = r }
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(c *Client) { c.tracer = t }
}

// NewClient validates cfg and prepares the transports. No process is started
// until the first call.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if cfg.ExecPath == "" {
		return nil, configurationError("environment variable SS_EXEC is not set")
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeDaemon
	}
	if cfg.Mode != ModeDaemon && cfg.Mode != ModePerCall {
		return nil, configurationError(fmt.Sprintf("unknown engine mode %q", cfg.Mode))
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 15 * time.Second
	}

	c := &Client{
		cfg:      cfg,
		starter:  ExecStarter{},
		logger:   slog.Default(),
		recorder: noopRecorder{},
		stat:     os.Stat,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer(tracerName)
	}
	c.logger = c.logger.With("component", "engine")

	var terrain []string
	if cfg.TerrainPath != "" {
		terrain = []string{"-sdf", cfg.TerrainPath}
	}
	c.daemon = newDaemonTransport(c.starter, cfg.ExecPath, append([]string{"-daemon"}, terrain...), cfg.CallTimeout, c.logger)
	c.perCall = newPerCallTransport(c.starter, cfg.ExecPath, terrain, cfg.CallTimeout, c.logger)

	failures := cfg.BreakerFailures
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "engine",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// Only transport failures say anything about engine health.
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ErrEngineUnavailable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("engine circuit breaker state change", "from", from.String(), "to", to.String())
		},
	})

	return c, nil
}

// Sample runs one engine invocation. Parameters are validated before any
// process is touched. Errors are *types.AppError values wrapping one of the
// package sentinels or a context error.
func (c *Client) Sample(ctx context.Context, ps ParameterSet) (Measurement, error) {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "engine.Sample", trace.WithAttributes(
		attribute.String("engine.kind", ps.Kind.String()),
		attribute.String("engine.mode", c.modeFor(ps.Kind)),
	))
	defer span.End()

	m, err := c.sample(ctx, ps)

	outcome := Outcome(err)
	c.recorder.RecordEngineCall(ctx, ps.Kind.String(), outcome, time.Since(start))
	span.SetAttributes(attribute.String("engine.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	return m, err
}

func (c *Client) sample(ctx context.Context, ps ParameterSet) (Measurement, error) {
	if err := ps.Validate(); err != nil {
		return Measurement{}, err
	}

	tr := c.transportFor(ps.Kind)
	request := []byte(ps.Encode())

	raw, err := c.breaker.Execute(func() ([]byte, error) {
		return tr.roundTrip(ctx, request)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return Measurement{}, unavailable("engine circuit breaker is open", err)
		}
		return Measurement{}, err
	}

	if ps.Kind == KindImage {
		return DecodeImage(raw)
	}
	m, err := DecodeLine(ps.Kind, firstLine(raw))
	if err != nil {
		c.logger.Warn("malformed engine response", "kind", ps.Kind.String(), "error", err)
	}
	return m, err
}

// Image output is binary and cannot be framed on the daemon's line protocol,
// so it always goes through a fresh process.
func (c *Client) modeFor(kind Kind) string {
	if c.cfg.Mode == ModePerCall || kind == KindImage {
		return ModePerCall
	}
	return ModeDaemon
}

func (c *Client) transportFor(kind Kind) transport {
	if c.modeFor(kind) == ModePerCall {
		return c.perCall
	}
	return c.daemon
}

// Ping reports whether the engine looks callable: the breaker is not open and
// the executable exists.
func (c *Client) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return cancelled(err)
	}
	if c.breaker.State() == gobreaker.StateOpen {
		return unavailable("engine circuit breaker is open", nil)
	}
	if _, err := c.stat(c.cfg.ExecPath); err != nil {
		return unavailable("engine executable is not accessible", err)
	}
	return nil
}

// Close releases the daemon process, if one is running.
func (c *Client) Close() error {
	if err := c.daemon.Close(); err != nil {
		return fmt.Errorf("closing engine daemon: %w", err)
	}
	return nil
}
