package autoassign

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/tracker-postaction/pkg/contracts"
	"github.com/Mindburn-Labs/tracker-postaction/pkg/postaction"
)

const (
	contributorFieldID   = 12
	userIDDoingTheChange = 102
)

func changeNeedingAContributor() contracts.ArtifactChange {
	return contracts.ArtifactChange{
		Action: contracts.ActionCreate,
		Current: contracts.ArtifactState{
			SubmittedBy: userIDDoingTheChange,
			Values: []contracts.FieldValue{
				{FieldID: contributorFieldID, BindValueIDs: []int{NoneUserID}},
			},
		},
		Tracker: contracts.Tracker{
			Semantics: contracts.Semantics{
				Contributor: &contracts.FieldSemantic{FieldID: contributorFieldID},
			},
		},
	}
}

func assignedToSubmitter() contracts.ArtifactUpdate {
	return contracts.ArtifactUpdate{Values: []contracts.FieldUpdate{
		{FieldID: contributorFieldID, BindValueIDs: []int{userIDDoingTheChange}},
	}}
}

func TestEvaluate_AssignsCreatorAsContributor(t *testing.T) {
	update, err := Evaluate(changeNeedingAContributor())
	require.NoError(t, err)
	assert.Equal(t, assignedToSubmitter(), update)
}

func TestEvaluate_AssignsWhenNothingSelected(t *testing.T) {
	change := changeNeedingAContributor()
	change.Current.Values[0].BindValueIDs = []int{}

	update, err := Evaluate(change)
	require.NoError(t, err)
	assert.Equal(t, assignedToSubmitter(), update)
}

func TestEvaluate_DoesNothingOnUpdate(t *testing.T) {
	change := changeNeedingAContributor()
	change.Action = contracts.ActionUpdate

	update, err := Evaluate(change)
	require.NoError(t, err)
	assert.Equal(t, contracts.NothingToUpdate(), update)
}

func TestEvaluate_UpdateIgnoresBrokenConfiguration(t *testing.T) {
	change := changeNeedingAContributor()
	change.Action = contracts.ActionUpdate
	change.Tracker.Semantics.Contributor = nil
	change.Current.Values[0].BindValueIDs = nil

	update, err := Evaluate(change)
	require.NoError(t, err)
	assert.Empty(t, update.Values)
}

func TestEvaluate_DoesNothingWhenContributorAlreadySet(t *testing.T) {
	change := changeNeedingAContributor()
	change.Current.Values[0] = contracts.FieldValue{FieldID: contributorFieldID, BindValueIDs: []int{789}}

	update, err := Evaluate(change)
	require.NoError(t, err)
	assert.Equal(t, contracts.NothingToUpdate(), update)
}

func TestEvaluate_OnlyFirstSelectedValueCounts(t *testing.T) {
	change := changeNeedingAContributor()
	change.Current.Values[0].BindValueIDs = []int{NoneUserID, 789}

	update, err := Evaluate(change)
	require.NoError(t, err)
	assert.Equal(t, assignedToSubmitter(), update)
}

func TestEvaluate_UsesFirstMatchingEntry(t *testing.T) {
	change := changeNeedingAContributor()
	change.Current.Values = append([]contracts.FieldValue{
		{FieldID: 3, BindValueIDs: []int{NoneUserID}},
		{FieldID: contributorFieldID, BindValueIDs: []int{789}},
	}, change.Current.Values...)

	update, err := Evaluate(change)
	require.NoError(t, err)
	assert.Empty(t, update.Values)
}

func TestEvaluate_FailsWithoutContributorSemantic(t *testing.T) {
	change := changeNeedingAContributor()
	change.Tracker.Semantics.Contributor = nil

	_, err := Evaluate(change)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingContributorSemantic))
	assert.EqualError(t, err, "The tracker does not have the contributor/assignee semantic set")
}

func TestEvaluate_FailsWhenSemanticFieldIsNotInValues(t *testing.T) {
	change := changeNeedingAContributor()
	change.Tracker.Semantics.Contributor.FieldID = 99

	_, err := Evaluate(change)
	assert.ErrorIs(t, err, ErrMissingContributorSemantic)
}

func TestEvaluate_FailsWhenContributorIsNotASelectBox(t *testing.T) {
	change := changeNeedingAContributor()
	change.Current.Values[0].BindValueIDs = nil

	_, err := Evaluate(change)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotASelectBoxField))
	assert.EqualError(t, err, "The contributor/assignee field does not seem to be a selectbox")

	var ce *postaction.ConfigurationError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, KindNotASelectBoxField, ce.Kind)
}

func TestEvaluate_FieldIDZeroDoesNotMatchMissingSemantic(t *testing.T) {
	change := changeNeedingAContributor()
	change.Tracker.Semantics.Contributor = nil
	change.Current.Values = append(change.Current.Values, contracts.FieldValue{FieldID: 0, BindValueIDs: []int{}})

	_, err := Evaluate(change)
	assert.ErrorIs(t, err, ErrMissingContributorSemantic)
}

func TestEvaluate_RejectsUnknownAction(t *testing.T) {
	change := changeNeedingAContributor()
	change.Action = "delete"

	_, err := Evaluate(change)
	assert.True(t, postaction.IsInputError(err))
}

func TestEvaluate_DoesNotMutateInput(t *testing.T) {
	change := changeNeedingAContributor()
	before, err := json.Marshal(change)
	require.NoError(t, err)

	update, err := Evaluate(change)
	require.NoError(t, err)
	update.Values[0].BindValueIDs[0] = 1

	after, err := json.Marshal(change)
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))
}

func TestEvaluate_IsIdempotentOnceApplied(t *testing.T) {
	change := changeNeedingAContributor()
	first, err := Evaluate(change)
	require.NoError(t, err)
	require.Len(t, first.Values, 1)

	change.Current = change.Current.Apply(first)
	second, err := Evaluate(change)
	require.NoError(t, err)
	assert.Equal(t, contracts.NothingToUpdate(), second)
}

func TestEvaluate_FromWireDocument(t *testing.T) {
	payload := `{
		"action": "create",
		"current": {"submitted_by": 102, "values": [{"field_id": 12, "bind_value_ids": [100]}]},
		"tracker": {"semantics": {"contributor": {"field_id": 12}}}
	}`
	var change contracts.ArtifactChange
	require.NoError(t, json.Unmarshal([]byte(payload), &change))

	update, err := New().Evaluate(change)
	require.NoError(t, err)

	out, err := json.Marshal(update)
	require.NoError(t, err)
	assert.JSONEq(t, `{"values":[{"field_id":12,"bind_value_ids":[102]}]}`, string(out))
}

func TestEvaluate_WireDocumentWithoutBindValueIDs(t *testing.T) {
	payload := `{
		"action": "create",
		"current": {"submitted_by": 102, "values": [{"field_id": 12}]},
		"tracker": {"semantics": {"contributor": {"field_id": 12}}}
	}`
	var change contracts.ArtifactChange
	require.NoError(t, json.Unmarshal([]byte(payload), &change))

	_, err := Evaluate(change)
	assert.ErrorIs(t, err, ErrNotASelectBoxField)
}

func TestAction_Name(t *testing.T) {
	assert.Equal(t, "auto-assign", New().Name())
}
