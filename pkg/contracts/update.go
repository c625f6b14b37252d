package contracts

// Comment formats accepted by the tracker.
const (
	CommentFormatText       = "text"
	CommentFormatHTML       = "html"
	CommentFormatCommonMark = "commonmark"
)

// ArtifactUpdate is what a post-action asks the tracker to apply.
// An update with no values and no comment is a no-op.
type ArtifactUpdate struct {
	Values  []FieldUpdate `json:"values"`
	Comment *Comment      `json:"comment,omitempty"`
}

// FieldUpdate sets one field. List fields use BindValueIDs, scalar fields
// use Value.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type FieldUpdate struct {
	FieldID      int   `json:"field_id"`
	BindValueIDs []int `json:"bind_value_ids,omitempty"`
	Value        any   `json:"value,omitempty"`
}

// Comment is a follow-up comment added with the update.
type Comment struct {
	Body   string `json:"body"`
	Format string `json:"format"`
}

// NothingToUpdate returns a fresh empty update. It encodes as {"values":[]}.
func NothingToUpdate() ArtifactUpdate {
	return ArtifactUpdate{Values: []FieldUpdate{}}
}

// IsEmpty reports whether applying u changes nothing.
func (u ArtifactUpdate) IsEmpty() bool {
	return len(u.Values) == 0 && u.Comment == nil
}

// Normalize makes a nil Values slice encode as an empty array.
func (u ArtifactUpdate) Normalize() ArtifactUpdate {
	if u.Values == nil {
		u.Values = []FieldUpdate{}
	}
	return u
}

// Apply returns a copy of s with the list field updates of u applied. It is
// what a tracker does when it stores the update; scalar values and comments
// are not reflected in the state. `postactiond eval --apply` prints it.
func (s ArtifactState) Apply(u ArtifactUpdate) ArtifactState {
	out := ArtifactState{
		ID:          s.ID,
		SubmittedBy: s.SubmittedBy,
		Values:      make([]FieldValue, len(s.Values)),
	}
	copy(out.Values, s.Values)
	for _, fu := range u.Values {
		if fu.BindValueIDs == nil {
			continue
		}
		ids := append([]int(nil), fu.BindValueIDs...)
		found := false
		for i := range out.Values {
			if out.Values[i].FieldID == fu.FieldID {
				out.Values[i].BindValueIDs = ids
				found = true
				break
			}
		}
		if !found {
			out.Values = append(out.Values, FieldValue{FieldID: fu.FieldID, BindValueIDs: ids})
		}
	}
	return out
}
