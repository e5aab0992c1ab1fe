package domain

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		_ = validate.RegisterValidation("issue_status", func(fl validator.FieldLevel) bool {
			return IssueStatus(fl.Field().String()).Valid()
		})
		_ = validate.RegisterValidation("innovation_status", func(fl validator.FieldLevel) bool {
			return InnovationStatus(fl.Field().String()).Valid()
		})
		_ = validate.RegisterValidation("category", func(fl validator.FieldLevel) bool {
			return Category(fl.Field().String()).Valid()
		})
	})
	return validate
}

// FieldError names one failed rule.
type FieldError struct {
	Field string
	Rule  string
}

// ValidationError is returned before any write is attempted.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		switch f.Rule {
		case "required":
			parts = append(parts, fmt.Sprintf("%s is required", f.Field))
		default:
			parts = append(parts, fmt.Sprintf("%s is invalid (%s)", f.Field, f.Rule))
		}
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Validate checks struct tags on option structs.
func Validate(v any) error {
	err := validatorInstance().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &ValidationError{}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, FieldError{Field: lowerFirst(fe.Field()), Rule: fe.Tag()})
	}
	return out
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
