package postaction

import (
	"github.com/Mindburn-Labs/tracker-postaction/pkg/contracts"
)

// Action evaluates one artifact change.
// Implementations must be pure and must not mutate the change.
type Action interface {
	Name() string
	Evaluate(change contracts.ArtifactChange) (contracts.ArtifactUpdate, error)
}

// Func adapts a plain function to the Action interface.
type Func struct {
	ActionName string
	Fn         func(contracts.ArtifactChange) (contracts.ArtifactUpdate, error)
}

// Name implements Action.
func (f Func) Name() string { return f.ActionName }

// Evaluate implements Action.
func (f Func) Evaluate(change contracts.ArtifactChange) (contracts.ArtifactUpdate, error) {
	return f.Fn(change)
}
