package engine

import (
	"context"
	"errors"
	"fmt"

	"sigproxy/internal/types"
)

// Sentinel errors. Every error returned by this package is a *types.AppError
// that wraps exactly one of these, so callers can branch with errors.Is and
// the HTTP layer can still read the error code.
var (
	ErrConfiguration     = errors.New("engine configuration error")
	ErrInvalidParameters = errors.New("invalid engine parameters")
	ErrEngineUnavailable = errors.New("engine unavailable")
	ErrMalformedResponse = errors.New("malformed engine response")
)

func configurationError(message string) error {
	return types.NewAppError(types.ErrCodeConfiguration, message, ErrConfiguration)
}

func invalidParameters(message string, details map[string]any) error {
	return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidParameters, message, ErrInvalidParameters, details)
}

func missingParameters(fields []string) error {
	return types.NewAppErrorWithDetails(
		types.ErrCodeValidationMissingField,
		fmt.Sprintf("missing required parameters: %v", fields),
		ErrInvalidParameters,
		map[string]any{"missing": fields},
	)
}

func unavailable(message string, cause error) *types.AppError {
	wrapped := ErrEngineUnavailable
	if cause != nil {
		wrapped = fmt.Errorf("%w: %w", ErrEngineUnavailable, cause)
	}
	return types.NewAppError(types.ErrCodeEngineUnavailable, message, wrapped)
}

func malformed(message, raw string) error {
	return types.NewAppErrorWithDetails(
		types.ErrCodeEngineMalformedResponse,
		message,
		ErrMalformedResponse,
		map[string]any{"response": truncate(raw, 256)},
	)
}

// cancelled reports that the caller went away while an exchange was pending.
func cancelled(cause error) error {
	return types.NewAppError(types.ErrCodeRequestCancelled, "engine call cancelled", cause)
}

// Outcome classifies an error returned by Sample for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return types.OutcomeSuccess
	case errors.Is(err, ErrMalformedResponse):
		return types.OutcomeMalformed
	case errors.Is(err, ErrInvalidParameters):
		return types.OutcomeInvalid
	case errors.Is(err, ErrEngineUnavailable):
		return types.OutcomeUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return types.OutcomeCancelled
	default:
		return types.OutcomeUnavailable
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
