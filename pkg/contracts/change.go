package contracts

import (
	"encoding/json"
	"fmt"
)

// Action is the kind of artifact change that triggered a post-action.
type Action string

// Action constants.
const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	return a == ActionCreate || a == ActionUpdate
}

// Field types as sent by the tracker.
const (
	FieldTypeSelectBox   = "sb"
	FieldTypeRadioButton = "rb"
	FieldTypeString      = "string"
	FieldTypeText        = "text"
	FieldTypeInt         = "int"
	FieldTypeArtifactID  = "aid"
	FieldTypeArtifactLnk = "art_link"
)

// ArtifactChange is the document a post-action receives: the change that
// just happened, the resulting artifact state and the tracker configuration.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type ArtifactChange struct {
	ID      int           `json:"id,omitempty"`
	Action  Action        `json:"action"`
	Current ArtifactState `json:"current"`
	Tracker Tracker       `json:"tracker"`
}

// ArtifactState is the artifact's field values at the time of the change.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type ArtifactState struct {
	ID          int          `json:"id,omitempty"` // changeset id
	SubmittedBy int          `json:"submitted_by"`
	Values      []FieldValue `json:"values"`
}

// FieldValue is the value of one field in an artifact state.
//
// BindValueIDs is nil when the field does not expose selectable options
// (key absent or null on the wire). A non-nil empty slice means a list
// field with nothing selected.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type FieldValue struct {
	FieldID      int             `json:"field_id"`
	Type         string          `json:"type,omitempty"`
	Label        string          `json:"label,omitempty"`
	BindValueIDs []int           `json:"bind_value_ids"`
	Values       []ListValue     `json:"values,omitempty"`
	Value        json.RawMessage `json:"value,omitempty"`
}

// HasBindValues reports whether the field carries selectable option ids.
func (v FieldValue) HasBindValues() bool {
	return v.BindValueIDs != nil
}

// ListValue is a selected value of a list field. Static values carry an id
// and a label, user values carry a real name.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type ListValue struct {
	ID       int    `json:"id,omitempty"`
	Label    string `json:"label,omitempty"`
	Color    string `json:"color,omitempty"`
	TLPColor string `json:"tlp_color,omitempty"`
	RealName string `json:"real_name,omitempty"`

	// static is set when the decoded object had both id and label keys.
	static bool
}

// UnmarshalJSON records whether the id and label keys were present, so a
// static value with an empty label is still recognised as static.
func (v *ListValue) UnmarshalJSON(data []byte) error {
	type plain ListValue
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}
	_, hasID := keys["id"]
	_, hasLabel := keys["label"]
	*v = ListValue(p)
	v.static = hasID && hasLabel
	return nil
}

// IsStatic reports whether the list value is a static (non-user) value.
func (v ListValue) IsStatic() bool {
	return v.static || (v.Label != "" && v.RealName == "")
}

// Tracker is the configuration of the tracker the artifact belongs to.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Tracker struct {
	ID        int            `json:"id,omitempty"`
	Semantics Semantics      `json:"semantics"`
	Fields    []TrackerField `json:"fields,omitempty"`
}

// Semantics maps tracker roles to fields. A nil entry means the tracker
// has no field bound to that role.
type Semantics struct {
	Contributor *FieldSemantic `json:"contributor,omitempty"`
}

// FieldSemantic binds a semantic to a field.
type FieldSemantic struct {
	FieldID int `json:"field_id"`
}

// TrackerField describes a field of the tracker. Values is nil for fields
// that are not list fields.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type TrackerField struct {
	FieldID int                 `json:"field_id"`
	Label   string              `json:"label"`
	Values  []TrackerFieldValue `json:"values,omitempty"`
}

// TrackerFieldValue is one selectable option of a list field.
type TrackerFieldValue struct {
	ID    int    `json:"id"`
	Label string `json:"label"`
}

// Validate performs structural checks that do not depend on any rule.
func (c ArtifactChange) Validate() error {
	if !c.Action.Valid() {
		return fmt.Errorf("invalid action %q: expected %q or %q", c.Action, ActionCreate, ActionUpdate)
	}
	if c.Current.SubmittedBy < 0 {
		return fmt.Errorf("invalid submitted_by %d", c.Current.SubmittedBy)
	}
	for i, v := range c.Current.Values {
		if v.FieldID <= 0 {
			return fmt.Errorf("values[%d]: invalid field_id %d", i, v.FieldID)
		}
	}
	if s := c.Tracker.Semantics.Contributor; s != nil && s.FieldID <= 0 {
		return fmt.Errorf("semantics.contributor: invalid field_id %d", s.FieldID)
	}
	return nil
}

// FindValue returns the first value whose field id matches.
func (s ArtifactState) FindValue(fieldID int) (FieldValue, bool) {
	for _, v := range s.Values {
		if v.FieldID == fieldID {
			return v, true
		}
	}
	return FieldValue{}, false
}
