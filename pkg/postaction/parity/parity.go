// Package parity tags an artifact with the parity of the sum of two integer
// fields and explains the result in a follow-up comment.
package parity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/Mindburn-Labs/tracker-postaction/pkg/contracts"
	"github.com/Mindburn-Labs/tracker-postaction/pkg/postaction"
)

// Name is the registry name of the rule.
const Name = "sum-parity"

// KindFieldNotFound is the error kind for a missing or non-integer field.
const KindFieldNotFound = "FieldNotFound"

// ErrFieldNotFound matches every missing field error.
var ErrFieldNotFound = &postaction.ConfigurationError{Kind: KindFieldNotFound, Message: "Cannot find field"}

// Labels names the fields the rule works on.
type Labels struct {
	A   string
	B   string
	Sum string
}

// DefaultLabels returns the labels of the demo tracker.
func DefaultLabels() Labels {
	return Labels{A: "field_a", B: "field_b", Sum: "field_sum"}
}

// Action is the sum parity post-action.
type Action struct {
	labels Labels
}

// New returns the post-action for the given labels.
func New(labels Labels) Action {
	return Action{labels: labels}
}

// Name implements postaction.Action.
func (Action) Name() string { return Name }

// Evaluate implements postaction.Action.
func (a Action) Evaluate(change contracts.ArtifactChange) (contracts.ArtifactUpdate, error) {
	valueA, ok := integerValue(change.Current, a.labels.A)
	if !ok {
		return contracts.ArtifactUpdate{}, notFound(a.labels.A)
	}
	valueB, ok := integerValue(change.Current, a.labels.B)
	if !ok {
		return contracts.ArtifactUpdate{}, notFound(a.labels.B)
	}
	sumField, ok := fieldByLabel(change.Current, a.labels.Sum)
	if !ok {
		return contracts.ArtifactUpdate{}, notFound(a.labels.Sum)
	}

	// The sum is exact even where int64 addition would wrap.
	sum := new(big.Int).Add(big.NewInt(valueA), big.NewInt(valueB))
	parity := "even"
	if sumIsOdd(valueA, valueB) {
		parity = "odd"
	}

	return contracts.ArtifactUpdate{
		Values: []contracts.FieldUpdate{{FieldID: sumField.FieldID, Value: parity}},
		Comment: &contracts.Comment{
			Body: fmt.Sprintf("Sum of %s and %s is %s -> %d + %d = %d",
				a.labels.A, a.labels.B, parity, valueA, valueB, sum),
			Format: contracts.CommentFormatText,
		},
	}, nil
}

func sumIsOdd(a, b int64) bool {
	return (a^b)&1 == 1
}

func notFound(label string) error {
	return postaction.NewConfigurationError(KindFieldNotFound, "Cannot find %s", label)
}

func fieldByLabel(state contracts.ArtifactState, label string) (contracts.FieldValue, bool) {
	for _, v := range state.Values {
		if v.Label == label {
			return v, true
		}
	}
	return contracts.FieldValue{}, false
}

// integerValue reads the integer value of the field labelled label. Floats,
// strings and null do not count.
func integerValue(state contracts.ArtifactState, label string) (int64, bool) {
	v, ok := fieldByLabel(state, label)
	if !ok || len(v.Value) == 0 {
		return 0, false
	}
	dec := json.NewDecoder(bytes.NewReader(v.Value))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return 0, false
	}
	num, ok := raw.(json.Number)
	if !ok {
		return 0, false
	}
	n, err := num.Int64()
	if err != nil {
		return 0, false
	}
	return n, true
}
