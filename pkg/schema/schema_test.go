package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateChange(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{
			name: "create with contributor",
			doc: `{"action":"create","current":{"submitted_by":102,"values":[{"field_id":12,"bind_value_ids":[100]}]},
				"tracker":{"semantics":{"contributor":{"field_id":12}}}}`,
		},
		{
			name: "null bind_value_ids and no semantic",
			doc:  `{"action":"update","current":{"submitted_by":1,"values":[{"field_id":3,"bind_value_ids":null}]},"tracker":{"semantics":{}}}`,
		},
		{
			name:    "unknown action",
			doc:     `{"action":"delete","current":{"submitted_by":1,"values":[]},"tracker":{"semantics":{}}}`,
			wantErr: "schema validation failed",
		},
		{
			name:    "missing tracker",
			doc:     `{"action":"create","current":{"submitted_by":1,"values":[]}}`,
			wantErr: "schema validation failed",
		},
		{
			name:    "string field id",
			doc:     `{"action":"create","current":{"submitted_by":1,"values":[{"field_id":"12"}]},"tracker":{"semantics":{}}}`,
			wantErr: "schema validation failed",
		},
		{
			name: "large integer ids",
			doc:  `{"action":"create","current":{"submitted_by":9007199254740993,"values":[{"field_id":9007199254740993,"bind_value_ids":[]}]},"tracker":{"semantics":{}}}`,
		},
		{
			name:    "fractional field id",
			doc:     `{"action":"create","current":{"submitted_by":1,"values":[{"field_id":12.5}]},"tracker":{"semantics":{}}}`,
			wantErr: "schema validation failed",
		},
		{
			name:    "trailing data",
			doc:     `{"action":"create","current":{"submitted_by":1,"values":[]},"tracker":{"semantics":{}}} {}`,
			wantErr: "not valid JSON",
		},
		{
			name:    "not json",
			doc:     `{"action":`,
			wantErr: "not valid JSON",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateChange([]byte(tt.doc))
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestValidateUpdate(t *testing.T) {
	v := MustNewValidator()

	assert.NoError(t, v.ValidateUpdate([]byte(`{"values":[]}`)))
	assert.NoError(t, v.ValidateUpdate([]byte(`{"values":[{"field_id":12,"bind_value_ids":[102]}]}`)))
	assert.NoError(t, v.ValidateUpdate([]byte(`{"values":[{"field_id":3,"value":"odd"}],"comment":{"body":"x","format":"text"}}`)))

	assert.Error(t, v.ValidateUpdate([]byte(`{"values":null}`)))
	assert.Error(t, v.ValidateUpdate([]byte(`{}`)))
	assert.Error(t, v.ValidateUpdate([]byte(`{"values":[{"field_id":12,"bind_value_ids":[]}]}`)))
	assert.Error(t, v.ValidateUpdate([]byte(`{"values":[],"comment":{"body":"x","format":"markdown"}}`)))
	assert.Error(t, v.ValidateUpdate([]byte(`{"values":[],"extra":true}`)))
}
