package schema

import (
	"encoding/json"
	"errors"
	"maps"
)

// Follow-up hints attached to failed results.
const (
	PromptCheckActionName = "Please check the action name or register the action first"
	PromptCheckParameters = "Please check the input parameters and try again"
)

// ActionResult is the structured outcome of every action call.
// A successful result never carries Error; a failed one always does.
type ActionResult struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Prompt  string         `json:"prompt,omitempty"`
	Error   string         `json:"error,omitempty"`
	Context map[string]any `json:"context"`
}

// Success builds a successful result.
func Success(message string, context map[string]any) *ActionResult {
	return &ActionResult{
		Success: true,
		Message: message,
		Context: cloneContext(context),
	}
}

// Failure builds a failed result. An empty errMsg falls back to message.
func Failure(message, errMsg string, context map[string]any) *ActionResult {
	if errMsg == "" {
		errMsg = message
	}
	if errMsg == "" {
		errMsg = "unknown error"
	}
	return &ActionResult{
		Success: false,
		Message: message,
		Error:   errMsg,
		Context: cloneContext(context),
	}
}

// FromError converts an error into a failed result, keeping the ActionError
// code and details in the context so clients can branch on them.
func FromError(message string, err error) *ActionResult {
	if err == nil {
		return Failure(message, "", nil)
	}

	ctx := map[string]any{}
	var ae *ActionError
	if errors.As(err, &ae) {
		ctx["error_code"] = ae.Code
		if len(ae.Details) > 0 {
			ctx["error_details"] = ae.Details
		}
		if ae.Path != "" {
			ctx["source"] = ae.Path
		}
		return Failure(message, ae.Message, ctx)
	}
	return Failure(message, err.Error(), ctx)
}

// WithPrompt returns a copy of r carrying the given follow-up hint.
func (r *ActionResult) WithPrompt(prompt string) *ActionResult {
	cp := r.clone()
	cp.Prompt = prompt
	return cp
}

// WithContext returns a copy of r with key set in its context.
func (r *ActionResult) WithContext(key string, value any) *ActionResult {
	cp := r.clone()
	cp.Context[key] = value
	return cp
}

// ToMap renders the wire shape as a plain map.
func (r *ActionResult) ToMap() map[string]any {
	m := map[string]any{
		"success": r.Success,
		"message": r.Message,
		"prompt":  nil,
		"error":   nil,
		"context": cloneContext(r.Context),
	}
	if r.Prompt != "" {
		m["prompt"] = r.Prompt
	}
	if r.Error != "" {
		m["error"] = r.Error
	}
	return m
}

// MarshalJSON keeps the wire shape stable: prompt and error are always
// present (null when unset) and context is never null.
func (r *ActionResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.ToMap())
}

func (r *ActionResult) clone() *ActionResult {
	cp := *r
	cp.Context = cloneContext(r.Context)
	return &cp
}

func cloneContext(in map[string]any) map[string]any {
	if in == nil {
		return map[string]any{}
	}
	return maps.Clone(in)
}
