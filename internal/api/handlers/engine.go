// Package handlers contains the HTTP handler implementations for the engine
// proxy API. Handlers translate query strings into engine parameter sets and
// map results and errors onto the response envelope from package core.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"sigproxy/internal/core"
	"sigproxy/internal/engine"
)

const ppmContentType = "image/x-portable-pixmap"

// SamplerInterface runs one engine invocation. *engine.Client satisfies it.
type SamplerInterface interface {
	Sample(ctx context.Context, ps engine.ParameterSet) (engine.Measurement, error)
}

// EngineHandler exposes direct engine queries.
type EngineHandler struct {
	sampler   SamplerInterface
	validator *core.Validator
	logger    *slog.Logger
}

// NewEngineHandler creates a new EngineHandler with the provided dependencies.
func NewEngineHandler(
	sampler SamplerInterface,
	val *core.Validator,
	logger *slog.Logger,
) *EngineHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EngineHandler{
		sampler:   sampler,
		validator: val,
		logger:    logger,
	}
}

// RegisterRoutes mounts the engine endpoints onto the mux.
// All routes assume Authentication Middleware is already applied.
func (h *EngineHandler) RegisterRoutes(r chi.Router) {
	r.Get("/stdin", h.HandleStdin)
	r.Get("/path", h.HandlePath)
	r.Get("/profile", h.HandleProfile)
	r.Get("/image", h.HandleImage)
}

// HandleStdin handles GET /v1/stdin, the original point-to-point route.
// It accepts the image parameters sdf, o, R and res for compatibility and
// ignores them. Failures are reported as plain text.
func (h *EngineHandler) HandleStdin(w http.ResponseWriter, r *http.Request) {
	ps, err := h.parse(r.URL.Query(), engine.KindPath)
	if err != nil {
		core.PlainError(w, r, err)
		return
	}
	m, err := h.sampler.Sample(r.Context(), ps)
	if err != nil {
		core.PlainError(w, r, err)
		return
	}
	core.Success(w, r, m)
}

// HandlePath handles GET /v1/path.
func (h *EngineHandler) HandlePath(w http.ResponseWriter, r *http.Request) {
	h.handleMeasurement(w, r, engine.KindPath)
}

// HandleProfile handles GET /v1/profile. The response carries the terrain
// profile series in addition to the path scalars.
func (h *EngineHandler) HandleProfile(w http.ResponseWriter, r *http.Request) {
	h.handleMeasurement(w, r, engine.KindProfile)
}

func (h *EngineHandler) handleMeasurement(w http.ResponseWriter, r *http.Request, kind engine.Kind) {
	ps, err := h.parse(r.URL.Query(), kind)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	m, err := h.sampler.Sample(r.Context(), ps)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Success(w, r, m)
}

// HandleImage handles GET /v1/image. The engine output is returned as-is.
func (h *EngineHandler) HandleImage(w http.ResponseWriter, r *http.Request) {
	ps, err := h.parse(r.URL.Query(), engine.KindImage)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	m, err := h.sampler.Sample(r.Context(), ps)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	w.Header().Set("Content-Type", imageContentType(m.Image))
	w.Header().Set("Content-Length", strconv.Itoa(len(m.Image)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(m.Image); err != nil {
		h.logger.WarnContext(r.Context(), "failed to write image response", "error", err)
	}
}

// imageContentType sniffs the payload. The engine's native plot format is
// PPM, which the standard sniffer does not recognise.
func imageContentType(img []byte) string {
	if ct := http.DetectContentType(img); strings.HasPrefix(ct, "image/") {
		return ct
	}
	return ppmContentType
}

// coordinateQuery holds the position parameters range-checked before the
// engine fields are parsed.
type coordinateQuery struct {
	Lat   string `query:"lat" validate:"omitempty,latitude"`
	Lon   string `query:"lon" validate:"omitempty,longitude"`
	RxLat string `query:"rla" validate:"omitempty,latitude"`
	RxLon string `query:"rlo" validate:"omitempty,longitude"`
}

// ignoredFields lists the query parameters each kind accepts but does not
// send to the engine.
var ignoredFields = map[engine.Kind][]engine.Field{
	engine.KindPath:    {engine.FieldRadius, engine.FieldResolution, engine.FieldOutput},
	engine.KindProfile: {engine.FieldRadius, engine.FieldResolution, engine.FieldOutput},
	engine.KindImage:   {engine.FieldRxLat, engine.FieldRxLon},
}

func (h *EngineHandler) parse(q url.Values, kind engine.Kind) (engine.ParameterSet, error) {
	b, err := parseEngineQuery(h.validator, q, kind)
	if err != nil {
		return engine.ParameterSet{}, err
	}
	return b.Build()
}

// parseEngineQuery fills a Builder from the query parameters named after
// engine fields. Only supplied parameters are set; a bare flag such as
// "&dbm" turns the flag on. Unsupplied required fields are reported by the
// Builder.
func parseEngineQuery(v *core.Validator, q url.Values, kind engine.Kind) (*engine.Builder, error) {
	coords := coordinateQuery{
		Lat:   q.Get(string(engine.FieldLat)),
		Lon:   q.Get(string(engine.FieldLon)),
		RxLat: q.Get(string(engine.FieldRxLat)),
		RxLon: q.Get(string(engine.FieldRxLon)),
	}
	if kind == engine.KindImage {
		coords.RxLat, coords.RxLon = "", ""
	}
	if err := v.ValidateStruct(coords); err != nil {
		return nil, err
	}

	b := engine.NewBuilder(kind)
	for _, f := range engine.Fields {
		if slices.Contains(ignoredFields[kind], f) {
			continue
		}
		vals, ok := q[string(f)]
		if !ok || len(vals) == 0 {
			continue
		}
		b.Parse(f, vals[0])
	}
	return b, nil
}
