// Package capability holds the registry that binds canonical directive ids to
// side-effecting handlers, and the dispatcher that invokes them with a uniform
// result shape.
package capability

import "fmt"

// Result is what every capability returns. Message doubles as the human-facing
// summary and the observation fed back to the model, so it is never empty.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// OK builds a successful result.
func OK(message string) Result {
	if message == "" {
		message = "ok"
	}
	return Result{Success: true, Message: message}
}

// OKf builds a successful result from a format string.
func OKf(format string, args ...any) Result {
	return OK(fmt.Sprintf(format, args...))
}

// Fail builds a failed result.
func Fail(message string) Result {
	if message == "" {
		message = "failed"
	}
	return Result{Success: false, Message: message}
}

// Failf builds a failed result from a format string.
func Failf(format string, args ...any) Result {
	return Fail(fmt.Sprintf(format, args...))
}

func (r Result) String() string {
	if r.Success {
		return "ok: " + r.Message
	}
	return "failed: " + r.Message
}
