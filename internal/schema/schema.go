// Package schema wraps JSON-schema validation for the gateway's protocol
// payloads. Callers get back either a decoded value or a ValidationError that
// lists every violation, so devices receive the full picture in one error ack.
package schema

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ValidationError reports one or more structural violations in a payload.
// It is never fatal to the gateway process; the registration handler and the
// adaptation procedure convert it into a protocol-level error.
type ValidationError struct {
	Subject    string
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Subject, strings.Join(e.Violations, "; "))
}

// NewValidationError builds a ValidationError from free-form violations.
func NewValidationError(subject string, violations ...string) *ValidationError {
	return &ValidationError{Subject: subject, Violations: violations}
}

// MustCompile compiles a schema document at package init time.
func MustCompile(raw string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(raw))
	if err != nil {
		panic(fmt.Sprintf("schema: invalid embedded schema: %v", err))
	}
	return s
}

// Validate checks document bytes against a compiled schema. A malformed
// document or any schema violation yields a *ValidationError.
func Validate(s *gojsonschema.Schema, subject string, document []byte) error {
	result, err := s.Validate(gojsonschema.NewBytesLoader(document))
	if err != nil {
		return &ValidationError{Subject: subject, Violations: []string{err.Error()}}
	}
	if result.Valid() {
		return nil
	}

	violations := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		violations = append(violations, desc.String())
	}
	return &ValidationError{Subject: subject, Violations: violations}
}
