// Package autoassign assigns a newly created artifact to its submitter when
// the tracker's contributor/assignee field was left unset.
package autoassign

import (
	"github.com/Mindburn-Labs/tracker-postaction/pkg/contracts"
	"github.com/Mindburn-Labs/tracker-postaction/pkg/postaction"
)

// Name is the registry name of the rule.
const Name = "auto-assign"

// NoneUserID is the list value id meaning "nobody".
const NoneUserID = 100

// Error kinds.
const (
	KindMissingContributorSemantic = "MissingContributorSemantic"
	KindNotASelectBoxField         = "NotASelectBoxField"
)

var (
	// ErrMissingContributorSemantic is returned when the tracker has no
	// contributor semantic bound to a field present in the artifact.
	ErrMissingContributorSemantic = &postaction.ConfigurationError{
		Kind:    KindMissingContributorSemantic,
		Message: "The tracker does not have the contributor/assignee semantic set",
	}
	// ErrNotASelectBoxField is returned when the contributor field has no
	// selectable option ids.
	ErrNotASelectBoxField = &postaction.ConfigurationError{
		Kind:    KindNotASelectBoxField,
		Message: "The contributor/assignee field does not seem to be a selectbox",
	}
)

// Action is the auto-assign rule as a registrable post-action.
type Action struct{}

// New returns the auto-assign post-action.
func New() Action { return Action{} }

// Name implements postaction.Action.
func (Action) Name() string { return Name }

// Evaluate implements postaction.Action.
func (Action) Evaluate(change contracts.ArtifactChange) (contracts.ArtifactUpdate, error) {
	return Evaluate(change)
}

// Evaluate returns the update assigning the artifact to its submitter, or
// an empty update when there is nothing to do.
func Evaluate(change contracts.ArtifactChange) (contracts.ArtifactUpdate, error) {
	switch change.Action {
	case contracts.ActionUpdate:
		return contracts.NothingToUpdate(), nil
	case contracts.ActionCreate:
	default:
		return contracts.ArtifactUpdate{}, &postaction.InputError{Reason: "unsupported action " + string(change.Action)}
	}

	fieldID, bindValueIDs, err := contributorField(change.Current, change.Tracker)
	if err != nil {
		return contracts.ArtifactUpdate{}, err
	}

	if len(bindValueIDs) > 0 && bindValueIDs[0] != NoneUserID {
		return contracts.NothingToUpdate(), nil
	}

	return contracts.ArtifactUpdate{
		Values: []contracts.FieldUpdate{
			{FieldID: fieldID, BindValueIDs: []int{change.Current.SubmittedBy}},
		},
	}, nil
}

// contributorField returns the id and selected option ids of the field bound
// to the contributor semantic. The returned slice aliases the input and must
// not be modified.
func contributorField(state contracts.ArtifactState, tracker contracts.Tracker) (int, []int, error) {
	semantic := tracker.Semantics.Contributor
	if semantic == nil {
		return 0, nil, ErrMissingContributorSemantic
	}

	value, ok := state.FindValue(semantic.FieldID)
	if !ok {
		return 0, nil, ErrMissingContributorSemantic
	}
	if !value.HasBindValues() {
		return 0, nil, ErrNotASelectBoxField
	}
	return semantic.FieldID, value.BindValueIDs, nil
}
