package core

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"sigproxy/internal/types"
)

func hashToken(t *testing.T, token string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(h)
}

func newAuthServer(t *testing.T, token string) (*Server, http.Handler, *bool) {
	t.Helper()
	cfg := testConfig()
	if token != "" {
		cfg.Auth.TokenHash = types.SecretString(hashToken(t, token))
	}
	srv := newTestServer(t, cfg)
	called := new(bool)
	h := srv.AuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	}))
	return srv, h, called
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var resp APIErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body %q: %v", w.Body.String(), err)
	}
	return resp.Error
}

func TestAuthMiddleware_Disabled_PassesThrough(t *testing.T) {
	_, h, called := newAuthServer(t, "")

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/path", nil))
	if !*called || w.Code != http.StatusOK {
		t.Errorf("expected pass-through, called=%v code=%d", *called, w.Code)
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	_, h, called := newAuthServer(t, "s3cret")

	for _, header := range []string{"Bearer s3cret", "bearer s3cret", "BEARER   s3cret  "} {
		*called = false
		req := httptest.NewRequest(http.MethodGet, "/v1/path", nil)
		req.Header.Set("Authorization", header)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if !*called {
			t.Errorf("%q: expected handler to run, got %d", header, w.Code)
		}
	}
}

func TestAuthMiddleware_Failures(t *testing.T) {
	tests := []struct {
		name   string
		header string
		code   types.ErrorCode
	}{
		{"missing header", "", types.ErrCodeAuthTokenMissing},
		{"empty bearer", "Bearer ", types.ErrCodeAuthTokenMissing},
		{"basic scheme", "Basic dXNlcjpwYXNz", types.ErrCodeAuthTokenMissing},
		{"wrong token", "Bearer nope", types.ErrCodeAuthTokenInvalid},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, h, called := newAuthServer(t, "s3cret")

			req := httptest.NewRequest(http.MethodGet, "/v1/path", nil)
			req = req.WithContext(types.WithRequestID(req.Context(), "req-auth"))
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if *called {
				t.Fatal("handler must not run")
			}
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", w.Code)
			}
			if w.Header().Get("WWW-Authenticate") == "" {
				t.Error("expected WWW-Authenticate header")
			}
			detail := decodeError(t, w)
			if detail.Code != string(tc.code) {
				t.Errorf("expected code %s, got %s", tc.code, detail.Code)
			}
			if detail.RequestID != "req-auth" {
				t.Errorf("expected request ID to be preserved, got %q", detail.RequestID)
			}
		})
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := map[string]string{
		"Bearer abc":     "abc",
		"bEaReR abc":     "abc",
		"Bearer   abc  ": "abc",
		"Bearer ":        "",
		"Bearer":         "",
		"Token abc":      "",
		"":               "",
	}
	for in, want := range tests {
		if got := extractBearerToken(in); got != want {
			t.Errorf("extractBearerToken(%q) = %q, want %q", in, got, want)
		}
	}
}
