package schema

import (
	"fmt"
	"strings"
)

// ValidationIssue is a single validation problem attached to a field.
type ValidationIssue struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (i ValidationIssue) String() string {
	if i.Field == "" {
		return i.Message
	}
	return i.Field + ": " + i.Message
}

// ValidationResult aggregates every issue found while checking a payload.
type ValidationResult struct {
	Issues []ValidationIssue `json:"issues,omitempty"`
}

// Valid returns true if no issue was recorded.
func (r *ValidationResult) Valid() bool {
	return len(r.Issues) == 0
}

// Add appends an issue for the given field.
func (r *ValidationResult) Add(field, code, message string) {
	r.Issues = append(r.Issues, ValidationIssue{Field: field, Code: code, Message: message})
}

// Addf appends an issue with a formatted message.
func (r *ValidationResult) Addf(field, code, format string, args ...any) {
	r.Add(field, code, fmt.Sprintf(format, args...))
}

// Merge combines another ValidationResult into this one.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	r.Issues = append(r.Issues, other.Issues...)
}

// Fields returns the distinct offending field names in first-seen order.
func (r *ValidationResult) Fields() []string {
	seen := make(map[string]struct{}, len(r.Issues))
	fields := make([]string, 0, len(r.Issues))
	for _, issue := range r.Issues {
		if issue.Field == "" {
			continue
		}
		if _, ok := seen[issue.Field]; ok {
			continue
		}
		seen[issue.Field] = struct{}{}
		fields = append(fields, issue.Field)
	}
	return fields
}

// ToError converts the result to a VALIDATION_ERROR ActionError, nil if valid.
// The message names every offending field.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}

	parts := make([]string, len(r.Issues))
	for i, issue := range r.Issues {
		parts[i] = issue.String()
	}

	msg := parts[0]
	if len(parts) > 1 {
		msg = fmt.Sprintf("validation failed with %d errors: %s", len(parts), strings.Join(parts, "; "))
	}

	return NewError(ErrCodeValidation, msg).
		WithDetails(map[string]any{
			"error_count": len(r.Issues),
			"fields":      r.Fields(),
			"issues":      r.Issues,
		})
}
