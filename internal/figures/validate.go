package figures

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"figureworks/internal/domain"
)

// requestValidator wraps go-playground/validator and reports the first
// failing field as a domain.ValidationError.
type requestValidator struct {
	validate *validator.Validate
}

func newRequestValidator() *requestValidator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &requestValidator{validate: v}
}

func (v *requestValidator) Validate(i any) error {
	if err := v.validate.Struct(i); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
			fe := validationErrors[0]
			return &domain.ValidationError{
				Field:   fe.Field(),
				Message: fmt.Sprintf("failed on '%s' validation", fe.Tag()),
			}
		}
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return nil
}

// normalizeRequest trims free text so whitespace-only values fail "required".
func normalizeRequest(req domain.EnqueueRequest) domain.EnqueueRequest {
	req.ImageURL = strings.TrimSpace(req.ImageURL)
	req.Name = strings.TrimSpace(req.Name)
	req.Tagline = strings.TrimSpace(req.Tagline)
	req.Style = strings.ToLower(strings.TrimSpace(req.Style))
	req.Size = strings.ToLower(strings.TrimSpace(req.Size))
	accessories := make([]string, len(req.Accessories))
	for i, a := range req.Accessories {
		accessories[i] = strings.TrimSpace(a)
	}
	req.Accessories = accessories
	return req
}
