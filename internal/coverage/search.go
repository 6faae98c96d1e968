// Package coverage discovers the area around a transmitter where predicted
// received power clears a threshold. It walks a hexagonal grid outward ring
// by ring from the origin cell, sampling the engine at each cell centroid,
// and stops at the first ring that contributes nothing.
//
// The stop rule assumes coverage is roughly star-shaped around the origin.
// A qualifying area that is only reachable through a ring with no
// qualifying cell is not found.
package coverage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"sigproxy/internal/engine"
	"sigproxy/internal/types"
)

const tracerName = "sigproxy/internal/coverage"

// centroidScale keeps six decimal places (about 0.1 m) of receiver
// coordinates derived from cell centroids.
const centroidScale = 1e6

// ErrInvalidResolution is wrapped by errors for out-of-range resolutions.
var ErrInvalidResolution = errors.New("invalid grid resolution")

// Sampler is the engine capability the search needs. *engine.Client
// satisfies it.
type Sampler interface {
	Sample(ctx context.Context, ps engine.ParameterSet) (engine.Measurement, error)
}

// Recorder receives one observation per completed or failed search.
type Recorder interface {
	RecordCoverageSearch(ctx context.Context, outcome string, rings, cells, samples int, duration time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) RecordCoverageSearch(context.Context, string, int, int, int, time.Duration) {}

// Config bounds the search.
type Config struct {
	// Workers caps concurrent engine calls within one ring.
	Workers int
	// MaxRings stops the search after this many rings. Zero means no bound.
	MaxRings int
	// MinResolution and MaxResolution bound accepted resolutions inclusively.
	// Both zero admits resolution 0 only.
	MinResolution int
	MaxResolution int
}

// Point is a geographic position in decimal degrees.
type Point struct {
	Lat float64
	Lon float64
}

// Request describes one search.
type Request struct {
	Origin     Point
	Resolution int
	// Threshold is compared strictly: a cell qualifies only when its received
	// power is greater than Threshold.
	Threshold decimal.Decimal
	// Template holds every engine input except the receiver position, which
	// is filled in per cell.
	Template engine.ParameterSet
}

// CoverageMap maps cell identifiers to received power.
type CoverageMap map[string]decimal.Decimal

// Result is the outcome of a completed search.
type Result struct {
	SearchID   string      `json:"search_id"`
	OriginCell string      `json:"origin_cell"`
	Resolution int         `json:"resolution"`
	Threshold  string      `json:"threshold"`
	Cells      CoverageMap `json:"cells"`
	Rings      int         `json:"rings"`
	Samples    int         `json:"samples"`
	Truncated  bool        `json:"truncated"`
}

// Searcher runs ring-expansion searches. It holds no per-search state and is
// safe for concurrent use.
type Searcher struct {
	sampler  Sampler
	grid     Grid
	cfg      Config
	logger   *slog.Logger
	recorder Recorder
	tracer   trace.Tracer
}

// Option configures a Searcher.
type Option func(*Searcher)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Searcher) { s.logger = l }
}

// WithRecorder sets the metrics sink.
func WithRecorder(r Recorder) Option {
	return func(s *Searcher) { s.recorder = r }
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(s *Searcher) { s.tracer = t }
}

// NewSearcher creates a Searcher. A nil grid selects H3Grid.
func NewSearcher(sampler Sampler, grid Grid, cfg Config, opts ...Option) *Searcher {
	if grid == nil {
		grid = H3Grid{}
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	s := &Searcher{
		sampler:  sampler,
		grid:     grid,
		cfg:      cfg,
		logger:   slog.Default(),
		recorder: noopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}
	return s
}

// Search runs one search. The returned map is complete; nothing is exposed
// while the search is running. The first engine error aborts the search.
func (s *Searcher) Search(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	searchID := uuid.NewString()

	ctx, span := s.tracer.Start(ctx, "coverage.Search", trace.WithAttributes(
		attribute.String("coverage.search_id", searchID),
		attribute.Int("coverage.resolution", req.Resolution),
	))
	defer span.End()

	logger := types.LoggerFromContext(ctx, s.logger).With("search_id", searchID)

	res, err := s.search(ctx, searchID, req, logger)

	outcome := outcomeOf(err)
	var rings, cells, samples int
	if res != nil {
		rings, cells, samples = res.Rings, len(res.Cells), res.Samples
	}
	s.recorder.RecordCoverageSearch(ctx, outcome, rings, cells, samples, time.Since(start))
	span.SetAttributes(
		attribute.String("coverage.outcome", outcome),
		attribute.Int("coverage.rings", rings),
		attribute.Int("coverage.cells", cells),
	)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		logger.Warn("coverage search failed", "error", err, "outcome", outcome)
		return nil, err
	}

	logger.Info("coverage search complete",
		"origin_cell", res.OriginCell,
		"resolution", res.Resolution,
		"rings", res.Rings,
		"cells", len(res.Cells),
		"samples", res.Samples,
		"truncated", res.Truncated,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

func (s *Searcher) search(ctx context.Context, searchID string, req Request, logger *slog.Logger) (*Result, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	origin, err := s.grid.CellAt(req.Origin.Lat, req.Origin.Lon, req.Resolution)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidParameters, "origin has no grid cell", errors.Join(engine.ErrInvalidParameters, err))
	}

	result := &Result{
		SearchID:   searchID,
		OriginCell: string(origin),
		Resolution: req.Resolution,
		Threshold:  engine.FormatDecimal(req.Threshold),
	}
	found := make(CoverageMap)
	visited := map[Cell]struct{}{origin: {}}
	ring := []Cell{origin}

	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return nil, types.NewAppError(types.ErrCodeRequestCancelled, "coverage search cancelled", err)
		}
		if s.cfg.MaxRings > 0 && i >= s.cfg.MaxRings {
			result.Truncated = true
			break
		}

		hits, err := s.sampleRing(ctx, req, ring)
		result.Rings = i + 1
		result.Samples += len(ring)
		if err != nil {
			return nil, err
		}
		logger.Debug("coverage ring sampled", "ring", i, "cells", len(ring), "hits", len(hits))

		if len(hits) == 0 {
			break
		}
		for id, power := range hits {
			found[id] = power
		}

		ring, err = s.nextRing(ring, visited)
		if err != nil {
			return nil, err
		}
		// Only reachable at the coarsest resolutions, where rings wrap the globe.
		if len(ring) == 0 {
			break
		}
	}

	result.Cells = found
	return result, nil
}

func outcomeOf(err error) string {
	if errors.Is(err, ErrInvalidResolution) {
		return types.OutcomeInvalid
	}
	return engine.Outcome(err)
}

func (s *Searcher) validate(req Request) error {
	if req.Resolution < s.cfg.MinResolution || req.Resolution > s.cfg.MaxResolution {
		return types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidResolution,
			fmt.Sprintf("resolution must be between %d and %d", s.cfg.MinResolution, s.cfg.MaxResolution),
			ErrInvalidResolution,
			map[string]any{"resolution": req.Resolution},
		)
	}
	if !types.ValidLat(req.Origin.Lat) {
		return types.NewAppError(types.ErrCodeValidationInvalidLat, "origin latitude must be between -90 and 90", engine.ErrInvalidParameters)
	}
	if !types.ValidLon(req.Origin.Lon) {
		return types.NewAppError(types.ErrCodeValidationInvalidLon, "origin longitude must be between -180 and 180", engine.ErrInvalidParameters)
	}
	if req.Template.Kind != engine.KindPath {
		return types.NewAppError(types.ErrCodeValidationInvalidParameters, "coverage template must be a path request", engine.ErrInvalidParameters)
	}
	// Every cell would fail the same way, so reject before the first call.
	probe := req.Template.WithReceiver(decimal.Zero, decimal.Zero)
	return probe.Validate()
}

// sampleRing samples every cell of one ring and returns the qualifying ones.
// It returns only after every dispatched call has finished.
func (s *Searcher) sampleRing(ctx context.Context, req Request, ring []Cell) (CoverageMap, error) {
	var mu sync.Mutex
	hits := make(CoverageMap)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)

	for _, cell := range ring {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return types.NewAppError(types.ErrCodeRequestCancelled, "coverage search cancelled", err)
			}
			lat, lon, err := s.grid.Centroid(cell)
			if err != nil {
				return fmt.Errorf("centroid of %s: %w", cell, err)
			}
			ps := req.Template.WithReceiver(centroidDecimal(lat), centroidDecimal(lon))
			m, err := s.sampler.Sample(gCtx, ps)
			if err != nil {
				return fmt.Errorf("sampling cell %s: %w", cell, err)
			}
			if m.ReceivedPower.GreaterThan(req.Threshold) {
				mu.Lock()
				hits[string(cell)] = m.ReceivedPower
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return hits, nil
}

// centroidDecimal rounds v and keeps its shortest decimal form, so the wire
// carries "44.1" rather than "44.100000".
func centroidDecimal(v float64) decimal.Decimal {
	return decimal.NewFromFloat(math.Round(v*centroidScale) / centroidScale)
}

// nextRing returns the unvisited neighbours of ring, which are exactly the
// cells one hex step further from the origin. It marks them visited.
func (s *Searcher) nextRing(ring []Cell, visited map[Cell]struct{}) ([]Cell, error) {
	var next []Cell
	for _, cell := range ring {
		neighbors, err := s.grid.Neighbors(cell)
		if err != nil {
			return nil, fmt.Errorf("neighbours of %s: %w", cell, err)
		}
		for _, n := range neighbors {
			if _, seen := visited[n]; seen {
				continue
			}
			visited[n] = struct{}{}
			next = append(next, n)
		}
	}
	return next, nil
}
