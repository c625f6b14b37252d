// Package risk derives a risk level from severity and probability select
// boxes: risk = severity × probability, matched against the labels of the
// risk field's options.
package risk

import (
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/Mindburn-Labs/tracker-postaction/pkg/contracts"
	"github.com/Mindburn-Labs/tracker-postaction/pkg/postaction"
)

// Registry names.
const (
	Name         = "compute-risk"
	ResidualName = "compute-residual-risk"
)

// Error kinds.
const (
	KindInvalidIntegerLabel  = "InvalidIntegerLabel"
	KindRiskFieldNotFound    = "RiskFieldNotFound"
	KindRiskFieldHasNoValues = "RiskFieldHasNoValues"
	KindNoMatchingRiskValue  = "NoMatchingRiskValue"
)

var (
	ErrInvalidIntegerLabel  = &postaction.ConfigurationError{Kind: KindInvalidIntegerLabel, Message: "Label is invalid integer"}
	ErrRiskFieldNotFound    = &postaction.ConfigurationError{Kind: KindRiskFieldNotFound, Message: "Cannot find risk field"}
	ErrRiskFieldHasNoValues = &postaction.ConfigurationError{Kind: KindRiskFieldHasNoValues, Message: "Cannot find risk field values"}
	ErrNoMatchingRiskValue  = &postaction.ConfigurationError{Kind: KindNoMatchingRiskValue, Message: "Cannot find matching Risk value"}
)

// Labels names the three fields the rule works on.
type Labels struct {
	Severity    string
	Probability string
	Risk        string
}

// DefaultLabels are the labels of the standard risk assessment tracker.
func DefaultLabels() Labels {
	return Labels{Severity: "Severity", Probability: "Probability", Risk: "Risk"}
}

// ResidualLabels are the labels used for the residual risk after mitigation.
func ResidualLabels() Labels {
	return Labels{Severity: "Residual severity", Probability: "Residual probability", Risk: "Residual risk level"}
}

// Action computes one risk field.
type Action struct {
	name   string
	labels Labels
}

// New returns a risk post-action registered under name.
func New(name string, labels Labels) Action {
	return Action{name: name, labels: labels}
}

// Name implements postaction.Action.
func (a Action) Name() string { return a.name }

// Evaluate implements postaction.Action. When either input is not set the
// risk is left untouched.
func (a Action) Evaluate(change contracts.ArtifactChange) (contracts.ArtifactUpdate, error) {
	severity, ok, err := selectedInteger(change.Current, a.labels.Severity)
	if err != nil || !ok {
		return contracts.NothingToUpdate(), err
	}
	probability, ok, err := selectedInteger(change.Current, a.labels.Probability)
	if err != nil || !ok {
		return contracts.NothingToUpdate(), err
	}

	binding, err := riskBinding(change.Tracker, a.labels.Risk, severity*probability)
	if err != nil {
		return contracts.ArtifactUpdate{}, err
	}
	return contracts.ArtifactUpdate{Values: []contracts.FieldUpdate{binding}}, nil
}

// selectedInteger reads the label of the first static value selected in the
// select box labelled label. ok is false when the field is missing or has
// no static selection.
func selectedInteger(state contracts.ArtifactState, label string) (uint64, bool, error) {
	for _, v := range state.Values {
		if v.Type != contracts.FieldTypeSelectBox || !sameLabel(v.Label, label) {
			continue
		}
		if len(v.Values) == 0 || !v.Values[0].IsStatic() {
			return 0, false, nil
		}
		n, err := parseLabel(v.Values[0].Label)
		if err != nil {
			return 0, false, ErrInvalidIntegerLabel
		}
		return n, true, nil
	}
	return 0, false, nil
}

// parseLabel reads a 32-bit unsigned decimal with an optional leading '+'.
// Surrounding whitespace and empty labels are rejected.
func parseLabel(label string) (uint64, error) {
	return strconv.ParseUint(strings.TrimPrefix(label, "+"), 10, 32)
}

func riskBinding(tracker contracts.Tracker, label string, product uint64) (contracts.FieldUpdate, error) {
	var field *contracts.TrackerField
	for i := range tracker.Fields {
		if sameLabel(tracker.Fields[i].Label, label) {
			field = &tracker.Fields[i]
			break
		}
	}
	if field == nil {
		return contracts.FieldUpdate{}, postaction.NewConfigurationError(KindRiskFieldNotFound, "Cannot find field %s", label)
	}
	if field.Values == nil {
		return contracts.FieldUpdate{}, ErrRiskFieldHasNoValues
	}

	want := strconv.FormatUint(product, 10)
	for _, option := range field.Values {
		if sameLabel(option.Label, want) {
			return contracts.FieldUpdate{FieldID: field.FieldID, BindValueIDs: []int{option.ID}}, nil
		}
	}
	return contracts.FieldUpdate{}, ErrNoMatchingRiskValue
}

func sameLabel(a, b string) bool {
	return norm.NFC.String(strings.TrimSpace(a)) == norm.NFC.String(strings.TrimSpace(b))
}
