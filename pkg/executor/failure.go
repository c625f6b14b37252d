package executor

import (
	"errors"

	"github.com/Mindburn-Labs/tracker-postaction/pkg/catalog"
	"github.com/Mindburn-Labs/tracker-postaction/pkg/postaction"
	"github.com/Mindburn-Labs/tracker-postaction/pkg/runtime/sandbox"
	"github.com/Mindburn-Labs/tracker-postaction/pkg/trigger"
)

// Class groups failures by who has to act on them.
type Class int

const (
	ClassInternal      Class = iota
	ClassInput               // the caller sent a malformed change
	ClassNotFound            // no such post-action
	ClassConfiguration       // the tracker is configured in a way the rule cannot handle
	ClassModule              // the sandboxed module failed or misbehaved
)

// Failure is the transport-neutral description of an execution error.
type Failure struct {
	Class   Class  `json:"-"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Failure kinds not carried by a typed error.
const (
	KindInvalidInput   = "InvalidInput"
	KindUnknownAction  = "UnknownAction"
	KindInvalidOutput  = "InvalidModuleOutput"
	KindInvalidTrigger = "InvalidTrigger"
	KindInternal       = "Internal"
)

// Classify maps err to a Failure. Configuration error messages are kept
// verbatim; internal errors are not exposed.
func Classify(err error) Failure {
	var (
		ce *postaction.ConfigurationError
		ie *postaction.InputError
		oe *OutputError
		te *trigger.EvalError
	)
	switch {
	case errors.As(err, &ce):
		return Failure{Class: ClassConfiguration, Kind: ce.Kind, Message: ce.Message}
	case errors.As(err, &ie):
		return Failure{Class: ClassInput, Kind: KindInvalidInput, Message: ie.Error()}
	case errors.Is(err, catalog.ErrNotFound), errors.Is(err, postaction.ErrUnknownAction):
		return Failure{Class: ClassNotFound, Kind: KindUnknownAction, Message: err.Error()}
	case errors.As(err, &te):
		return Failure{Class: ClassConfiguration, Kind: KindInvalidTrigger, Message: te.Error()}
	case errors.As(err, &oe):
		return Failure{Class: ClassModule, Kind: KindInvalidOutput, Message: oe.Error()}
	}
	if se, ok := sandbox.IsSandboxError(err); ok {
		return Failure{Class: ClassModule, Kind: se.Code, Message: se.Message}
	}
	return Failure{Class: ClassInternal, Kind: KindInternal, Message: "internal error"}
}
