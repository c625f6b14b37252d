package bus

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/Mindburn-Labs/tracker-postaction/pkg/catalog"
	"github.com/Mindburn-Labs/tracker-postaction/pkg/executor"
	"github.com/Mindburn-Labs/tracker-postaction/pkg/observability"
	"github.com/Mindburn-Labs/tracker-postaction/pkg/postaction/builtin"
)

type staticCatalog struct{ c *catalog.Catalog }

func (s staticCatalog) Current() *catalog.Catalog { return s.c }

func newService(t *testing.T) *Service {
	t.Helper()
	reg := builtin.Registry()
	tel, err := observability.NewWithReader(sdkmetric.NewManualReader())
	require.NoError(t, err)
	ex, err := executor.New(executor.Options{Builtins: reg, Telemetry: tel})
	require.NoError(t, err)
	return NewService(staticCatalog{catalog.Default(reg)}, ex, Options{})
}

const create = `{
	"action": "create",
	"current": {"submitted_by": 102, "values": [{"field_id": 12, "bind_value_ids": [100]}]},
	"tracker": {"id": 42, "semantics": {"contributor": {"field_id": 12}}}
}`

func TestSubject(t *testing.T) {
	assert.Equal(t, "postaction.evaluate.auto-assign", Subject("auto-assign"))
}

func TestHandle_Assigns(t *testing.T) {
	s := newService(t)
	r := s.Handle(context.Background(), Subject("auto-assign"), []byte(create))
	require.Nil(t, r.Error)
	require.NotNil(t, r.Update)
	require.Len(t, r.Update.Values, 1)
	assert.Equal(t, []int{102}, r.Update.Values[0].BindValueIDs)
	assert.Regexp(t, `^sha256:[0-9a-f]{64}$`, r.Digest)

	raw, err := json.Marshal(r)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), `"error"`)
}

func TestHandle_Errors(t *testing.T) {
	s := newService(t)
	tests := []struct {
		name    string
		subject string
		data    string
		kind    string
	}{
		{"unknown action", Subject("nope"), create, executor.KindUnknownAction},
		{"bad subject", "other.subject", create, executor.KindUnknownAction},
		{"nested subject", Subject("a.b"), create, executor.KindUnknownAction},
		{"invalid json", Subject("auto-assign"), `{`, executor.KindInvalidInput},
		{
			"missing semantic",
			Subject("auto-assign"),
			`{"action":"create","current":{"submitted_by":1,"values":[]},"tracker":{"id":1,"semantics":{}}}`,
			"MissingContributorSemantic",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := s.Handle(context.Background(), tt.subject, []byte(tt.data))
			require.NotNil(t, r.Error)
			assert.Equal(t, tt.kind, r.Error.Kind)
			assert.Nil(t, r.Update)

			raw, err := json.Marshal(r)
			require.NoError(t, err)
			var doc map[string]map[string]string
			require.NoError(t, json.Unmarshal(raw, &doc))
			assert.Equal(t, tt.kind, doc["error"]["kind"])
			assert.NotEmpty(t, doc["error"]["message"])
		})
	}
}

func TestHandle_MissingSemanticMessage(t *testing.T) {
	s := newService(t)
	r := s.Handle(context.Background(), Subject("auto-assign"),
		[]byte(`{"action":"create","current":{"submitted_by":1,"values":[]},"tracker":{"id":1,"semantics":{}}}`))
	require.NotNil(t, r.Error)
	assert.Equal(t, "The tracker does not have the contributor/assignee semantic set", r.Error.Message)
}
