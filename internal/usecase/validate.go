package usecase

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/spriteforge/orchestrator/internal/domain"
)

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// recognizedOptionKeys is the closed set of StructuredPrompt.Options keys
// the remote API understands (§3 StructuredPrompt).
var recognizedOptionKeys = map[string]struct{}{
	"palette":    {},
	"background": {},
	"seed":       {},
	"init_image": {},
	"variant":    {},
}

// ValidatePrompt enforces §3's StructuredPrompt invariants: required fields
// present and non-empty, size dimensions positive, and options restricted to
// the recognized key set. Failures are reported as a validation ClassifiedError.
func ValidatePrompt(p domain.StructuredPrompt) error {
	if err := getValidator().Struct(p); err != nil {
		return invalid(fieldErrors(err))
	}
	if p.Size.Width <= 0 || p.Size.Height <= 0 {
		return invalid("size.width and size.height must be > 0")
	}
	if strings.TrimSpace(p.Description) == "" {
		return invalid("description must not be empty")
	}
	for key := range p.Options {
		if _, ok := recognizedOptionKeys[key]; !ok {
			return invalid(fmt.Sprintf("unrecognized option key %q", key))
		}
	}
	return nil
}

func fieldErrors(err error) string {
	ve, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	parts := make([]string, 0, len(ve))
	for _, fe := range ve {
		parts = append(parts, fmt.Sprintf("%s: %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

func invalid(detail string) error {
	return &domain.ClassifiedError{
		Kind:            domain.KindValidationError,
		Retryable:       false,
		UserMessage:     "prompt validation failed",
		TechnicalDetail: detail,
		Origin:          "admission",
	}
}
