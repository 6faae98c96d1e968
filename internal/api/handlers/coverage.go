package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"sigproxy/internal/core"
	"sigproxy/internal/coverage"
	"sigproxy/internal/engine"
	"sigproxy/internal/types"
)

// CoverageSearcherInterface defines the contract for the coverage handler.
// *coverage.Searcher satisfies it.
type CoverageSearcherInterface interface {
	Search(ctx context.Context, req coverage.Request) (*coverage.Result, error)
}

// CoverageHandler maps GET /v1/coverage onto a ring-expansion search.
type CoverageHandler struct {
	searcher  CoverageSearcherInterface
	validator *core.Validator
	logger    *slog.Logger
}

// NewCoverageHandler creates a new CoverageHandler with the provided dependencies.
func NewCoverageHandler(
	searcher CoverageSearcherInterface,
	val *core.Validator,
	logger *slog.Logger,
) *CoverageHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CoverageHandler{
		searcher:  searcher,
		validator: val,
		logger:    logger,
	}
}

// RegisterRoutes mounts the coverage endpoint onto the mux.
func (h *CoverageHandler) RegisterRoutes(r chi.Router) {
	r.Get("/coverage", h.HandleSearch)
}

// coverageQuery holds the search parameters that are not engine fields.
// Origin defaults to the transmitter position and Threshold to rt.
type coverageQuery struct {
	Res       string `query:"res" validate:"required,numeric"`
	OriginLat string `query:"origin_lat" validate:"omitempty,latitude"`
	OriginLon string `query:"origin_lon" validate:"omitempty,longitude"`
	Threshold string `query:"threshold" validate:"omitempty,decimal"`
}

// HandleSearch handles GET /v1/coverage.
//  1. Validate the search parameters.
//  2. Build the path template from the engine fields, without a receiver.
//  3. Run the search and return the coverage map.
func (h *CoverageHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	cq := coverageQuery{
		Res:       q.Get("res"),
		OriginLat: q.Get("origin_lat"),
		OriginLon: q.Get("origin_lon"),
		Threshold: q.Get("threshold"),
	}
	if err := h.validator.ValidateStruct(cq); err != nil {
		core.Error(w, r, err)
		return
	}

	b, err := parseEngineQuery(h.validator, q, engine.KindPath)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	template, err := b.BuildTemplate()
	if err != nil {
		core.Error(w, r, err)
		return
	}

	req, err := searchRequest(cq, template)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	result, err := h.searcher.Search(r.Context(), req)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "coverage search completed",
		"search_id", result.SearchID,
		"cells", len(result.Cells),
		"rings", result.Rings,
		"truncated", result.Truncated,
	)
	core.Success(w, r, result)
}

// searchRequest assembles the search from validated query values.
func searchRequest(cq coverageQuery, template engine.ParameterSet) (coverage.Request, error) {
	res, err := strconv.Atoi(cq.Res)
	if err != nil {
		return coverage.Request{}, types.NewAppError(types.ErrCodeValidationInvalidResolution, "res must be an integer", err)
	}

	req := coverage.Request{
		Origin: coverage.Point{
			Lat: template.Lat.InexactFloat64(),
			Lon: template.Lon.InexactFloat64(),
		},
		Resolution: res,
		Threshold:  template.Threshold,
		Template:   template,
	}
	if cq.OriginLat != "" {
		req.Origin.Lat, _ = strconv.ParseFloat(cq.OriginLat, 64)
	}
	if cq.OriginLon != "" {
		req.Origin.Lon, _ = strconv.ParseFloat(cq.OriginLon, 64)
	}
	if cq.Threshold != "" {
		req.Threshold, err = decimal.NewFromString(cq.Threshold)
		if err != nil {
			return coverage.Request{}, types.NewAppError(types.ErrCodeValidationInvalidParameters, "threshold must be a decimal", err)
		}
	}
	return req, nil
}
