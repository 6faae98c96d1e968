package core

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"sigproxy/internal/types"
)

// ValidationError describes one failed rule. Field is the query parameter
// name when the struct field carries a `query` tag.
type ValidationError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// Validator wraps go-playground/validator with the rules request DTOs need.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a Validator and registers the custom tags:
//
//	decimal  the string parses as an exact decimal number within
//	         types.MaxDecimalExponent and types.MaxDecimalDigits
func NewValidator(logger *slog.Logger) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("query"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})

	if err := v.RegisterValidation("decimal", validateDecimal); err != nil {
		// Registration only fails for an empty tag or nil func.
		panic(fmt.Sprintf("registering decimal validation: %v", err))
	}

	return &Validator{validate: v, logger: logger}
}

func validateDecimal(fl validator.FieldLevel) bool {
	d, err := decimal.NewFromString(fl.Field().String())
	return err == nil && types.ValidDecimal(d)
}

// ValidateStruct checks s against its `validate` tags. Failures return an
// *types.AppError whose code reflects the first failed rule and whose
// details list every failure under "validation_errors".
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		v.logger.Error("validator misuse", "error", err, "type", fmt.Sprintf("%T", s))
		return types.NewAppError(types.ErrCodeInternalUnexpected, "request validation failed", err)
	}

	out := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{
			Field:   fe.Field(),
			Rule:    fe.Tag(),
			Message: messageFor(fe),
		})
	}

	first := fieldErrs[0]
	return types.NewAppErrorWithDetails(
		codeFor(first.Tag()),
		messageFor(first),
		err,
		map[string]any{"validation_errors": out},
	)
}

func codeFor(tag string) types.ErrorCode {
	switch tag {
	case "required":
		return types.ErrCodeValidationMissingField
	case "latitude":
		return types.ErrCodeValidationInvalidLat
	case "longitude":
		return types.ErrCodeValidationInvalidLon
	default:
		return types.ErrCodeValidationInvalidParameters
	}
}

func messageFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("missing required parameter %q", fe.Field())
	case "latitude":
		return fmt.Sprintf("parameter %q must be a latitude between -90 and 90", fe.Field())
	case "longitude":
		return fmt.Sprintf("parameter %q must be a longitude between -180 and 180", fe.Field())
	case "decimal", "number", "numeric":
		return fmt.Sprintf("parameter %q must be a number", fe.Field())
	default:
		return fmt.Sprintf("parameter %q failed rule %s", fe.Field(), fe.Tag())
	}
}
