package contracts

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldValue_BindValueIDsPresence(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		present bool
		empty   bool
	}{
		{"missing key", `{"field_id": 12}`, false, true},
		{"null", `{"field_id": 12, "bind_value_ids": null}`, false, true},
		{"empty array", `{"field_id": 12, "bind_value_ids": []}`, true, true},
		{"selected", `{"field_id": 12, "bind_value_ids": [100]}`, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var v FieldValue
			require.NoError(t, json.Unmarshal([]byte(tt.payload), &v))
			assert.Equal(t, tt.present, v.HasBindValues())
			assert.Equal(t, tt.empty, len(v.BindValueIDs) == 0)
		})
	}
}

func TestListValue_IsStatic(t *testing.T) {
	tests := []struct {
		payload string
		static  bool
	}{
		{`{"id": 5, "label": "3"}`, true},
		{`{"id": 5, "label": ""}`, true},
		{`{"id": 5, "label": "3", "real_name": "Jane"}`, true},
		{`{"id": 105, "real_name": "Jane Doe"}`, false},
		{`{"id": 5}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.payload, func(t *testing.T) {
			var v ListValue
			require.NoError(t, json.Unmarshal([]byte(tt.payload), &v))
			assert.Equal(t, tt.static, v.IsStatic())
		})
	}

	assert.True(t, ListValue{ID: 1, Label: "3"}.IsStatic())
	assert.False(t, ListValue{ID: 1, RealName: "Jane"}.IsStatic())
}

func TestNothingToUpdate_EncodesEmptyArray(t *testing.T) {
	b, err := json.Marshal(NothingToUpdate())
	require.NoError(t, err)
	assert.JSONEq(t, `{"values":[]}`, string(b))

	b, err = json.Marshal(ArtifactUpdate{}.Normalize())
	require.NoError(t, err)
	assert.JSONEq(t, `{"values":[]}`, string(b))
}

func TestNothingToUpdate_ReturnsFreshValue(t *testing.T) {
	a := NothingToUpdate()
	a.Values = append(a.Values, FieldUpdate{FieldID: 1, BindValueIDs: []int{2}})

	assert.Empty(t, NothingToUpdate().Values)
}

func TestArtifactUpdate_IsEmpty(t *testing.T) {
	assert.True(t, NothingToUpdate().IsEmpty())
	assert.False(t, ArtifactUpdate{Comment: &Comment{Body: "x", Format: CommentFormatText}}.IsEmpty())
	assert.False(t, ArtifactUpdate{Values: []FieldUpdate{{FieldID: 1, Value: "odd"}}}.IsEmpty())
}

func TestArtifactChange_Validate(t *testing.T) {
	valid := ArtifactChange{
		Action:  ActionCreate,
		Current: ArtifactState{SubmittedBy: 102, Values: []FieldValue{{FieldID: 12, BindValueIDs: []int{100}}}},
		Tracker: Tracker{Semantics: Semantics{Contributor: &FieldSemantic{FieldID: 12}}},
	}
	require.NoError(t, valid.Validate())

	badAction := valid
	badAction.Action = "delete"
	assert.ErrorContains(t, badAction.Validate(), "invalid action")

	badField := valid
	badField.Current.Values = []FieldValue{{FieldID: 0}}
	assert.ErrorContains(t, badField.Validate(), "values[0]")

	badSemantic := valid
	badSemantic.Tracker.Semantics.Contributor = &FieldSemantic{}
	assert.ErrorContains(t, badSemantic.Validate(), "semantics.contributor")
}

func TestArtifactState_ApplyDoesNotMutate(t *testing.T) {
	state := ArtifactState{
		SubmittedBy: 102,
		Values:      []FieldValue{{FieldID: 12, BindValueIDs: []int{100}}},
	}
	update := ArtifactUpdate{Values: []FieldUpdate{{FieldID: 12, BindValueIDs: []int{102}}}}

	next := state.Apply(update)

	assert.Equal(t, []int{102}, next.Values[0].BindValueIDs)
	assert.Equal(t, []int{100}, state.Values[0].BindValueIDs)

	update.Values[0].BindValueIDs[0] = 999
	assert.Equal(t, []int{102}, next.Values[0].BindValueIDs)
}

func TestArtifactState_ApplyAppendsUnknownField(t *testing.T) {
	state := ArtifactState{SubmittedBy: 1}
	next := state.Apply(ArtifactUpdate{Values: []FieldUpdate{{FieldID: 7, BindValueIDs: []int{3}}}})

	v, ok := next.FindValue(7)
	require.True(t, ok)
	assert.Equal(t, []int{3}, v.BindValueIDs)
	assert.Empty(t, state.Values)
}
