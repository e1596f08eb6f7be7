package tool

import (
	"fmt"
	"maps"
	"strconv"
)

// Result is the JSON-compatible value a tool returns to the model
type Result map[string]any

// Success builds a result with success=true merged into data
func Success(data map[string]any) Result {
	r := Result{"success": true}
	maps.Copy(r, data)
	return r
}

// Failure builds an error result
func Failure(format string, args ...any) Result {
	return Result{"success": false, "error": fmt.Sprintf(format, args...)}
}

// ConfirmationRequired builds a result asking the user to confirm. The
// returned params are a copy of params with confirm=true, ready to resubmit.
func ConfirmationRequired(summary string, params map[string]any) Result {
	confirmed := make(map[string]any, len(params)+1)
	maps.Copy(confirmed, params)
	confirmed["confirm"] = true

	return Result{
		"confirmation_required": true,
		"summary":               summary,
		"params":                confirmed,
	}
}

// IsError reports whether the result carries an error
func (r Result) IsError() bool {
	_, ok := r["error"]
	return ok
}

// ErrorMessage returns the error message, empty if none
func (r Result) ErrorMessage() string {
	s, _ := r["error"].(string)
	return s
}

// NeedsConfirmation reports whether the call must be confirmed by the user
func (r Result) NeedsConfirmation() bool {
	v, _ := r["confirmation_required"].(bool)
	return v
}

// Summary returns the confirmation summary
func (r Result) Summary() string {
	s, _ := r["summary"].(string)
	return s
}

// Params returns the parameters to resubmit after confirmation
func (r Result) Params() map[string]any {
	p, _ := r["params"].(map[string]any)
	return p
}

// Confirmed reports whether params carry an explicit confirmation
func Confirmed(params map[string]any) bool {
	switch v := params["confirm"].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

// StringParam returns a string parameter
func StringParam(params map[string]any, key string) (string, bool) {
	s, ok := params[key].(string)
	return s, ok && s != ""
}

// IntParam returns an integer parameter. JSON numbers arrive as float64.
func IntParam(params map[string]any, key string, fallback int) int {
	switch v := params[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
