package core

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"subtrack/internal/types"
)

// subscriptionIDPattern accepts the ids the storage layer issues: uuids,
// ObjectIds and prefixed slugs.
var subscriptionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// Validator wraps go-playground/validator with the API's custom tags.
type Validator struct {
	v *validator.Validate
}

// NewValidator creates a Validator and registers the "subscription_id" tag.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(jsonFieldName)
	_ = v.RegisterValidation("subscription_id", func(fl validator.FieldLevel) bool {
		return ValidSubscriptionID(fl.Field().String())
	})
	return &Validator{v: v}
}

// ValidSubscriptionID reports whether id has the shape of a subscription id.
func ValidSubscriptionID(id string) bool {
	return subscriptionIDPattern.MatchString(id)
}

// ValidateStruct checks dst against its validate tags. Failures become a
// validation AppError whose details map each JSON field to the failed tag.
func (val *Validator) ValidateStruct(dst any) error {
	err := val.v.Struct(dst)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return types.NewAppError(types.ErrCodeValidationInvalidRequest, "invalid request", err)
	}

	fields := make(map[string]any, len(verrs))
	code := types.ErrCodeValidationInvalidRequest
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
		switch fe.Tag() {
		case "required":
			code = types.ErrCodeValidationMissingField
		case "subscription_id":
			if code != types.ErrCodeValidationMissingField {
				code = types.ErrCodeValidationInvalidID
			}
		}
	}
	return types.NewAppErrorWithDetails(code, "request validation failed", err, map[string]any{"fields": fields})
}

func jsonFieldName(fld reflect.StructField) string {
	name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	if name == "" {
		return fld.Name
	}
	return name
}
