package postaction

import (
	"errors"
	"fmt"
)

// ConfigurationError reports a tracker configuration that makes a rule
// impossible to evaluate. It is never transient: retrying the same change
// against the same tracker fails the same way.
//
// The message is part of the contract with hosts and is returned verbatim.
type ConfigurationError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (e *ConfigurationError) Error() string {
	return e.Message
}

// Is matches any ConfigurationError of the same kind, so sentinels work with
// errors.Is even when the message was built dynamically.
func (e *ConfigurationError) Is(target error) bool {
	var t *ConfigurationError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// NewConfigurationError builds a ConfigurationError.
func NewConfigurationError(kind, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// IsConfigurationError reports whether err is or wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// InputError reports a malformed change document.
type InputError struct {
	Reason string
}

func (e *InputError) Error() string {
	return "invalid artifact change: " + e.Reason
}

// IsInputError reports whether err is or wraps an InputError.
func IsInputError(err error) bool {
	var ie *InputError
	return errors.As(err, &ie)
}

// ErrUnknownAction is returned when no post-action is registered under a name.
var ErrUnknownAction = errors.New("unknown post-action")
