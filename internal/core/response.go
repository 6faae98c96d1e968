package core

import (
	"encoding/json"
	"errors"
	"net/http"

	"sigproxy/internal/types"
)

const statusSuccess = "success"

// APIResponse is the envelope for successful JSON responses.
type APIResponse struct {
	Status string `json:"status"`
	Data   any    `json:"data"`
}

// APIErrorResponse is the envelope for JSON error responses.
type APIErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail is the structured error returned to clients.
type ErrorDetail struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id"`
}

// JSON writes data as a JSON body with the given status. A marshalling
// failure becomes a 500 error envelope.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		types.LoggerFromContext(r.Context(), nil).Error("failed to marshal response", "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(APIErrorResponse{
			Error: ErrorDetail{
				Code:      string(types.ErrCodeInternalUnexpected),
				Message:   "failed to marshal response",
				RequestID: types.GetRequestID(r.Context()),
			},
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// Success writes data inside the success envelope with status 200.
func Success(w http.ResponseWriter, r *http.Request, data any) {
	JSON(w, r, http.StatusOK, APIResponse{Status: statusSuccess, Data: data})
}

// Error writes err as a JSON error envelope. An *types.AppError anywhere in
// the chain chooses the status and code. Any other error becomes an opaque
// 500 so internal details never leak.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	requestID := types.GetRequestID(r.Context())

	var appErr *types.AppError
	if errors.As(err, &appErr) {
		JSON(w, r, appErr.HTTPStatus(), APIErrorResponse{
			Error: ErrorDetail{
				Code:      string(appErr.Code),
				Message:   appErr.Message,
				Details:   appErr.Details,
				RequestID: requestID,
			},
		})
		return
	}

	types.LoggerFromContext(r.Context(), nil).Error("unclassified error", "error", err)
	JSON(w, r, http.StatusInternalServerError, APIErrorResponse{
		Error: ErrorDetail{
			Code:      string(types.ErrCodeInternalUnexpected),
			Message:   "an unexpected error occurred",
			RequestID: requestID,
		},
	})
}

// PlainError writes the error text as text/plain. This is the failure
// contract of the legacy /v1/stdin route: 400 when the query could not be
// read, 500 for everything else.
func PlainError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	msg := "an unexpected error occurred"
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		msg = appErr.Message
		if appErr.HTTPStatus() == http.StatusBadRequest {
			status = http.StatusBadRequest
		}
	} else {
		types.LoggerFromContext(r.Context(), nil).Error("unclassified error", "error", err)
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(msg))
}
