package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"sigproxy/internal/core"
	"sigproxy/internal/engine"
	"sigproxy/internal/types"
)

// --- Mock Sampler ---

type mockSampler struct {
	mu     sync.Mutex
	calls  []engine.ParameterSet
	result engine.Measurement
	err    error
}

func (m *mockSampler) Sample(_ context.Context, ps engine.ParameterSet) (engine.Measurement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, ps)
	if m.err != nil {
		return engine.Measurement{}, m.err
	}
	res := m.result
	res.Kind = ps.Kind
	return res, nil
}

func (m *mockSampler) lastCall(t *testing.T) engine.ParameterSet {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) != 1 {
		t.Fatalf("expected 1 engine call, got %d", len(m.calls))
	}
	return m.calls[0]
}

// --- Helpers ---

const pathQuery = "lat=44.73566&lon=-68.82446&txh=4.0&f=450&erp=25&rxh=2&rt=-90&pm=1&rla=44.8&rlo=-68.7"

func pathMeasurement() engine.Measurement {
	return engine.Measurement{
		PathLoss:      decimal.RequireFromString("65.1"),
		ReceivedPower: decimal.RequireFromString("-25.9"),
		FieldStrength: decimal.RequireFromString("110.4"),
	}
}

func newTestEngineHandler(s SamplerInterface) *EngineHandler {
	logger := slog.Default()
	return NewEngineHandler(s, core.NewValidator(logger), logger)
}

func makeEngineRouter(h *EngineHandler) http.Handler {
	r := chi.NewRouter()
	r.Route("/v1", h.RegisterRoutes)
	return r
}

func serve(h http.Handler, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

type measurementBody struct {
	Status string `json:"status"`
	Data   struct {
		PathLoss      string          `json:"path_loss"`
		ReceivedPower string          `json:"received_power"`
		FieldStrength string          `json:"field_strength"`
		Profile       *engine.Profile `json:"profile"`
	} `json:"data"`
}

func decodeMeasurement(t *testing.T, rec *httptest.ResponseRecorder) measurementBody {
	t.Helper()
	var body measurementBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return body
}

func decodeAPIError(t *testing.T, rec *httptest.ResponseRecorder) core.ErrorDetail {
	t.Helper()
	var resp core.APIErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode error response %q: %v", rec.Body.String(), err)
	}
	return resp.Error
}

// --- HandlePath Tests ---

func TestHandlePath_Success(t *testing.T) {
	sampler := &mockSampler{result: pathMeasurement()}
	router := makeEngineRouter(newTestEngineHandler(sampler))

	rec := serve(router, "/v1/path?"+pathQuery+"&dbm")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeMeasurement(t, rec)
	if body.Status != "success" {
		t.Errorf("expected status success, got %q", body.Status)
	}
	if body.Data.PathLoss != "65.1" || body.Data.ReceivedPower != "-25.9" || body.Data.FieldStrength != "110.4" {
		t.Errorf("unexpected data %+v", body.Data)
	}
	if body.Data.Profile != nil {
		t.Error("path response must not carry a profile")
	}

	ps := sampler.lastCall(t)
	want := "-lat 44.73566 -lon -68.82446 -txh 4.0 -f 450 -erp 25 -rxh 2 -rt -90 -dbm -pm 1 -rla 44.8 -rlo -68.7\r\n"
	if got := ps.Encode(); got != want {
		t.Errorf("encoded request\n got %q\nwant %q", got, want)
	}
}

func TestHandlePath_FlagValues(t *testing.T) {
	sampler := &mockSampler{result: pathMeasurement()}
	router := makeEngineRouter(newTestEngineHandler(sampler))

	rec := serve(router, "/v1/path?"+pathQuery+"&m=1&hp=false&ked=true&pe=2&gc=10")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	ps := sampler.lastCall(t)
	if !ps.Metric || ps.HorizontalPol || !ps.KnifeEdge || ps.DBm {
		t.Errorf("unexpected flags m=%v hp=%v ked=%v dbm=%v", ps.Metric, ps.HorizontalPol, ps.KnifeEdge, ps.DBm)
	}
	if ps.PropEnv == nil || *ps.PropEnv != 2 || ps.GroundClutter == nil || *ps.GroundClutter != 10 {
		t.Errorf("unexpected optional ints pe=%v gc=%v", ps.PropEnv, ps.GroundClutter)
	}
}

func TestHandlePath_MissingField(t *testing.T) {
	sampler := &mockSampler{}
	router := makeEngineRouter(newTestEngineHandler(sampler))

	rec := serve(router, "/v1/path?lat=44.7&lon=-68.8")

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
	if detail := decodeAPIError(t, rec); detail.Code != string(types.ErrCodeValidationMissingField) {
		t.Errorf("expected %s, got %s", types.ErrCodeValidationMissingField, detail.Code)
	}
	if len(sampler.calls) != 0 {
		t.Error("engine must not be called for invalid parameters")
	}
}

func TestHandlePath_InvalidInputs(t *testing.T) {
	tests := []struct {
		name  string
		query string
		code  types.ErrorCode
	}{
		{"latitude out of range", strings.Replace(pathQuery, "lat=44.73566", "lat=95", 1), types.ErrCodeValidationInvalidLat},
		{"receiver longitude out of range", strings.Replace(pathQuery, "rlo=-68.7", "rlo=-181", 1), types.ErrCodeValidationInvalidLon},
		{"unparsable decimal", strings.Replace(pathQuery, "f=450", "f=uhf", 1), types.ErrCodeValidationInvalidParameters},
		{"unparsable flag", pathQuery + "&dbm=maybe", types.ErrCodeValidationInvalidParameters},
		{"unparsable integer", pathQuery + "&pe=urban", types.ErrCodeValidationInvalidParameters},
		{"decimal exponent too large", strings.Replace(pathQuery, "f=450", "f=1e2000000000", 1), types.ErrCodeValidationInvalidParameters},
		{"decimal with too many digits", strings.Replace(pathQuery, "erp=25", "erp=1"+strings.Repeat("0", 60), 1), types.ErrCodeValidationInvalidParameters},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sampler := &mockSampler{}
			router := makeEngineRouter(newTestEngineHandler(sampler))

			rec := serve(router, "/v1/path?"+tc.query)

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d: %s", rec.Code, rec.Body.String())
			}
			if detail := decodeAPIError(t, rec); detail.Code != string(tc.code) {
				t.Errorf("expected %s, got %s", tc.code, detail.Code)
			}
			if len(sampler.calls) != 0 {
				t.Error("engine must not be called for invalid parameters")
			}
		})
	}
}

func TestHandlePath_EngineErrors(t *testing.T) {
	tests := []struct {
		code   types.ErrorCode
		status int
	}{
		{types.ErrCodeEngineUnavailable, http.StatusBadGateway},
		{types.ErrCodeEngineMalformedResponse, http.StatusBadGateway},
		{types.ErrCodeRequestCancelled, http.StatusServiceUnavailable},
	}
	for _, tc := range tests {
		t.Run(string(tc.code), func(t *testing.T) {
			sampler := &mockSampler{err: types.NewAppError(tc.code, "engine trouble", nil)}
			router := makeEngineRouter(newTestEngineHandler(sampler))

			rec := serve(router, "/v1/path?"+pathQuery)

			if rec.Code != tc.status {
				t.Errorf("expected status %d, got %d", tc.status, rec.Code)
			}
		})
	}
}

// --- HandleProfile Tests ---

func TestHandleProfile_Success(t *testing.T) {
	m := pathMeasurement()
	m.Profile = &engine.Profile{
		Distance:  []decimal.Decimal{decimal.Zero, decimal.RequireFromString("0.5")},
		Terrain:   []decimal.Decimal{decimal.NewFromInt(12), decimal.NewFromInt(30)},
		Fresnel:   []decimal.Decimal{decimal.NewFromInt(16), decimal.NewFromInt(14)},
		Curvature: []decimal.Decimal{decimal.Zero, decimal.Zero},
	}
	sampler := &mockSampler{result: m}
	router := makeEngineRouter(newTestEngineHandler(sampler))

	rec := serve(router, "/v1/profile?"+pathQuery)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeMeasurement(t, rec)
	if body.Data.Profile == nil || len(body.Data.Profile.Terrain) != 2 {
		t.Fatalf("expected a profile in the response, got %+v", body.Data.Profile)
	}
	if !body.Data.Profile.Distance[1].Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("unexpected distance series %v", body.Data.Profile.Distance)
	}
	if ps := sampler.lastCall(t); ps.Kind != engine.KindProfile {
		t.Errorf("expected profile request, got %s", ps.Kind)
	}
}

// --- HandleImage Tests ---

func TestHandleImage_PPM(t *testing.T) {
	ppm := []byte("P6\n1 1\n255\n\x00\x00\x00")
	sampler := &mockSampler{result: engine.Measurement{Image: ppm}}
	router := makeEngineRouter(newTestEngineHandler(sampler))

	rec := serve(router, "/v1/image?lat=44.7&lon=-68.8&txh=10&f=450&erp=25&rxh=2&rt=-90&pm=1&R=5&res=600&o=plot&rla=bogus")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != ppmContentType {
		t.Errorf("expected %s, got %s", ppmContentType, ct)
	}
	if rec.Body.String() != string(ppm) {
		t.Error("image bytes must be returned unchanged")
	}

	ps := sampler.lastCall(t)
	if ps.Kind != engine.KindImage || ps.Resolution != 600 || ps.Output != "plot" {
		t.Errorf("unexpected image request %+v", ps)
	}
	if ps.Has(engine.FieldRxLat) {
		t.Error("receiver coordinates must be ignored for image requests")
	}
}

func TestHandleImage_SniffedContentType(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	sampler := &mockSampler{result: engine.Measurement{Image: png}}
	router := makeEngineRouter(newTestEngineHandler(sampler))

	rec := serve(router, "/v1/image?lat=44.7&lon=-68.8&txh=10&f=450&erp=25&rxh=2&rt=-90&pm=1&R=5&res=600&o=plot")

	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("expected image/png, got %s", ct)
	}
}

func TestHandleImage_MissingOutput(t *testing.T) {
	sampler := &mockSampler{}
	router := makeEngineRouter(newTestEngineHandler(sampler))

	rec := serve(router, "/v1/image?lat=44.7&lon=-68.8&txh=10&f=450&erp=25&rxh=2&rt=-90&pm=1&R=5&res=600")

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rec.Code)
	}
}

// --- HandleStdin Tests ---

func TestHandleStdin_IgnoresImageParameters(t *testing.T) {
	sampler := &mockSampler{result: pathMeasurement()}
	router := makeEngineRouter(newTestEngineHandler(sampler))

	rec := serve(router, "/v1/stdin?"+pathQuery+"&sdf=/data/sdf&o=out&R=5&res=not-a-number")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeMeasurement(t, rec)
	if body.Status != "success" || body.Data.ReceivedPower != "-25.9" {
		t.Errorf("unexpected body %+v", body)
	}
	if ps := sampler.lastCall(t); ps.Has(engine.FieldOutput) || ps.Has(engine.FieldRadius) {
		t.Error("image parameters must not reach the engine")
	}
}

func TestHandleStdin_PlainTextErrors(t *testing.T) {
	t.Run("engine failure", func(t *testing.T) {
		sampler := &mockSampler{err: types.NewAppError(types.ErrCodeEngineUnavailable, "engine unavailable: broken pipe", nil)}
		router := makeEngineRouter(newTestEngineHandler(sampler))

		rec := serve(router, "/v1/stdin?"+pathQuery)

		if rec.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rec.Code)
		}
		if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain") {
			t.Errorf("expected text/plain, got %s", rec.Header().Get("Content-Type"))
		}
		if rec.Body.String() != "engine unavailable: broken pipe" {
			t.Errorf("unexpected body %q", rec.Body.String())
		}
	})

	t.Run("missing parameters", func(t *testing.T) {
		sampler := &mockSampler{}
		router := makeEngineRouter(newTestEngineHandler(sampler))

		rec := serve(router, "/v1/stdin?lat=44.7")

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rec.Code)
		}
		if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain") {
			t.Errorf("expected text/plain, got %s", rec.Header().Get("Content-Type"))
		}
		if len(sampler.calls) != 0 {
			t.Error("engine must not be called for invalid parameters")
		}
	})
}

func TestImageContentType(t *testing.T) {
	tests := map[string]string{
		"P6\n2 2\n255\n": ppmContentType,
		"GIF89a":         "image/gif",
		"":               ppmContentType,
	}
	for in, want := range tests {
		if got := imageContentType([]byte(in)); got != want {
			t.Errorf("imageContentType(%q) = %s, want %s", in, got, want)
		}
	}
}
