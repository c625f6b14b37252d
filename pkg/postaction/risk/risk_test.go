package risk

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/tracker-postaction/pkg/contracts"
	"github.com/Mindburn-Labs/tracker-postaction/pkg/postaction"
)

func selectBox(id int, label, selected string) contracts.FieldValue {
	fv := contracts.FieldValue{FieldID: id, Type: contracts.FieldTypeSelectBox, Label: label, BindValueIDs: []int{}}
	if selected != "" {
		fv.Values = []contracts.ListValue{{ID: id*100 + 1, Label: selected}}
		fv.BindValueIDs = []int{id*100 + 1}
	}
	return fv
}

func riskTracker() contracts.Tracker {
	return contracts.Tracker{
		ID: 7,
		Fields: []contracts.TrackerField{
			{FieldID: 1, Label: "Severity"},
			{FieldID: 2, Label: "Probability"},
			{FieldID: 3, Label: "Risk", Values: []contracts.TrackerFieldValue{
				{ID: 301, Label: "1"}, {ID: 302, Label: "2"}, {ID: 306, Label: "6"}, {ID: 309, Label: "9"},
			}},
			{FieldID: 4, Label: "Residual severity"},
			{FieldID: 5, Label: "Residual probability"},
			{FieldID: 6, Label: "Residual risk level", Values: []contracts.TrackerFieldValue{
				{ID: 601, Label: "1"}, {ID: 602, Label: "2"},
			}},
		},
	}
}

func change(values ...contracts.FieldValue) contracts.ArtifactChange {
	return contracts.ArtifactChange{
		Action:  contracts.ActionUpdate,
		Current: contracts.ArtifactState{SubmittedBy: 102, Values: values},
		Tracker: riskTracker(),
	}
}

func TestEvaluate_ComputesRisk(t *testing.T) {
	a := New(Name, DefaultLabels())
	update, err := a.Evaluate(change(selectBox(1, "Severity", "2"), selectBox(2, "Probability", "3")))
	require.NoError(t, err)
	assert.Equal(t, []contracts.FieldUpdate{{FieldID: 3, BindValueIDs: []int{306}}}, update.Values)
}

func TestEvaluate_ComputesResidualRisk(t *testing.T) {
	a := New(ResidualName, ResidualLabels())
	update, err := a.Evaluate(change(
		selectBox(1, "Severity", "3"), selectBox(2, "Probability", "3"),
		selectBox(4, "Residual severity", "1"), selectBox(5, "Residual probability", "2"),
	))
	require.NoError(t, err)
	assert.Equal(t, []contracts.FieldUpdate{{FieldID: 6, BindValueIDs: []int{602}}}, update.Values)
}

func TestEvaluate_NoUpdateWhenInputUnset(t *testing.T) {
	a := New(Name, DefaultLabels())

	tests := map[string]contracts.ArtifactChange{
		"severity missing":    change(selectBox(2, "Probability", "3")),
		"probability missing": change(selectBox(1, "Severity", "3")),
		"nothing selected":    change(selectBox(1, "Severity", ""), selectBox(2, "Probability", "3")),
		"user value selected": change(
			contracts.FieldValue{FieldID: 1, Type: contracts.FieldTypeSelectBox, Label: "Severity",
				Values: []contracts.ListValue{{ID: 105, RealName: "Jane Doe"}}},
			selectBox(2, "Probability", "3"),
		),
		"not a select box": change(
			contracts.FieldValue{FieldID: 1, Type: contracts.FieldTypeRadioButton, Label: "Severity",
				Values: []contracts.ListValue{{ID: 1, Label: "3"}}},
			selectBox(2, "Probability", "3"),
		),
	}

	for name, c := range tests {
		t.Run(name, func(t *testing.T) {
			update, err := a.Evaluate(c)
			require.NoError(t, err)
			assert.Equal(t, contracts.NothingToUpdate(), update)
		})
	}
}

func TestEvaluate_InvalidIntegerLabel(t *testing.T) {
	a := New(Name, DefaultLabels())
	_, err := a.Evaluate(change(selectBox(1, "Severity", "High"), selectBox(2, "Probability", "3")))
	assert.ErrorIs(t, err, ErrInvalidIntegerLabel)
	assert.EqualError(t, err, "Label is invalid integer")
}

func TestEvaluate_StaticValueWithEmptyLabel(t *testing.T) {
	var c contracts.ArtifactChange
	require.NoError(t, json.Unmarshal([]byte(`{"action":"update","current":{"submitted_by":102,"values":[
		{"field_id":1,"type":"sb","label":"Severity","values":[{"id":101,"label":""}],"bind_value_ids":[101]},
		{"field_id":2,"type":"sb","label":"Probability","values":[{"id":201,"label":"3"}],"bind_value_ids":[201]}
	]},"tracker":{"semantics":{}}}`), &c))
	c.Tracker = riskTracker()

	_, err := New(Name, DefaultLabels()).Evaluate(c)
	assert.ErrorIs(t, err, ErrInvalidIntegerLabel)
}

func TestParseLabel(t *testing.T) {
	for label, want := range map[string]uint64{"3": 3, "+3": 3, "4294967295": 4294967295} {
		n, err := parseLabel(label)
		require.NoError(t, err, label)
		assert.Equal(t, want, n)
	}
	for _, label := range []string{"", " 3", "3 ", "+", "++3", "-1", "4294967296", "3.0"} {
		_, err := parseLabel(label)
		assert.Error(t, err, label)
	}
}

func TestEvaluate_RiskFieldErrors(t *testing.T) {
	a := New(Name, DefaultLabels())
	base := change(selectBox(1, "Severity", "2"), selectBox(2, "Probability", "2"))

	missing := base
	missing.Tracker.Fields = missing.Tracker.Fields[:2]
	_, err := a.Evaluate(missing)
	assert.ErrorIs(t, err, ErrRiskFieldNotFound)
	assert.EqualError(t, err, "Cannot find field Risk")

	noValues := base
	noValues.Tracker = contracts.Tracker{Fields: []contracts.TrackerField{{FieldID: 3, Label: "Risk"}}}
	_, err = a.Evaluate(noValues)
	assert.ErrorIs(t, err, ErrRiskFieldHasNoValues)

	noMatch := change(selectBox(1, "Severity", "5"), selectBox(2, "Probability", "5"))
	_, err = a.Evaluate(noMatch)
	assert.ErrorIs(t, err, ErrNoMatchingRiskValue)
	assert.True(t, postaction.IsConfigurationError(err))
}

func TestSameLabel_NormalizesUnicodeAndSpaces(t *testing.T) {
	assert.True(t, sameLabel(" Se\u0301ve\u0301rite\u0301 ", "S\u00e9v\u00e9rit\u00e9"))
	assert.False(t, sameLabel("Risk", "Residual risk level"))
}

func TestEvaluate_DoesNotMutateTracker(t *testing.T) {
	a := New(Name, DefaultLabels())
	c := change(selectBox(1, "Severity", "1"), selectBox(2, "Probability", "1"))
	update, err := a.Evaluate(c)
	require.NoError(t, err)

	update.Values[0].BindValueIDs[0] = 0
	assert.Equal(t, 301, c.Tracker.Fields[2].Values[0].ID)
}
