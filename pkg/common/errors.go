package common

import "fmt"

// ValidationError reports a malformed or out-of-range parameter. Handlers
// map it to a structured field-level 400 response, distinct from typed
// absence results and internal failures.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Invalid builds a ValidationError for a field.
func Invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
