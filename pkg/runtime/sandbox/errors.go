package sandbox

import (
	"errors"
	"fmt"
	"strings"
)

// Deterministic error codes for sandbox violations.
const (
	ErrComputeTimeExhausted   = "ERR_COMPUTE_TIME_EXHAUSTED"
	ErrComputeMemoryExhausted = "ERR_COMPUTE_MEMORY_EXHAUSTED"
	ErrComputeOutputExhausted = "ERR_COMPUTE_OUTPUT_EXHAUSTED"
	ErrModuleExit             = "ERR_MODULE_EXIT"
	ErrModuleIntegrity        = "ERR_MODULE_INTEGRITY"
)

// SandboxError is a typed error for a module that could not complete.
type SandboxError struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	ExitCode uint32 `json:"exit_code,omitempty"`
}

func (e *SandboxError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsSandboxError reports whether err is or wraps a SandboxError, returning it.
func IsSandboxError(err error) (*SandboxError, bool) {
	var se *SandboxError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

func isMemoryError(msg string) bool {
	msg = strings.ToLower(msg)
	if strings.Contains(msg, "out of memory") {
		return true
	}
	return strings.Contains(msg, "memory") &&
		(strings.Contains(msg, "limit") || strings.Contains(msg, "grow") || strings.Contains(msg, "exceeded"))
}
