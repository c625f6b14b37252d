package postaction

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/tracker-postaction/pkg/contracts"
)

func noop(name string) Action {
	return Func{ActionName: name, Fn: func(contracts.ArtifactChange) (contracts.ArtifactUpdate, error) {
		return contracts.NothingToUpdate(), nil
	}}
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(noop("b")))
	require.NoError(t, r.Register(noop("a")))

	assert.Equal(t, []string{"a", "b"}, r.Names())

	a, err := r.Lookup("a")
	require.NoError(t, err)
	assert.Equal(t, "a", a.Name())

	_, err = r.Lookup("missing")
	assert.True(t, errors.Is(err, ErrUnknownAction))
}

func TestRegistry_RejectsDuplicatesAndEmptyNames(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(noop("a")))

	assert.Error(t, r.Register(noop("a")))
	assert.Error(t, r.Register(noop("")))
	assert.Error(t, r.Register(nil))
	assert.Panics(t, func() { r.MustRegister(noop("a")) })
}

func TestConfigurationError_IsMatchesKind(t *testing.T) {
	sentinel := &ConfigurationError{Kind: "RiskFieldNotFound", Message: "Cannot find field Risk"}
	dynamic := NewConfigurationError("RiskFieldNotFound", "Cannot find field %s", "Residual risk level")
	other := NewConfigurationError("Other", "x")

	assert.True(t, errors.Is(dynamic, sentinel))
	assert.False(t, errors.Is(other, sentinel))
	assert.Equal(t, "Cannot find field Residual risk level", dynamic.Error())
	assert.True(t, IsConfigurationError(errors.Join(errors.New("wrapped"), dynamic)))
	assert.False(t, IsConfigurationError(errors.New("plain")))
}

func TestInputError(t *testing.T) {
	err := &InputError{Reason: "bad action"}
	assert.Equal(t, "invalid artifact change: bad action", err.Error())
	assert.True(t, IsInputError(err))
}
