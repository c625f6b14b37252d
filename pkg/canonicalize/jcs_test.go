package canonicalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/tracker-postaction/pkg/contracts"
)

func TestJCS_SortsKeysWithoutHTMLEscaping(t *testing.T) {
	out, err := JCS(map[string]any{"b": "<x>", "a": 1})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":"<x>"}`, string(out))
}

func TestBytes_Normalizes(t *testing.T) {
	out, err := Bytes([]byte("{ \"z\" : [ 1, 2 ],\n \"a\":1.0 }"))
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"z":[1,2]}`, string(out))

	_, err = Bytes([]byte(`{"a":`))
	assert.Error(t, err)
}

func TestDigest_StableAcrossEncodings(t *testing.T) {
	u := contracts.ArtifactUpdate{Values: []contracts.FieldUpdate{{FieldID: 12, BindValueIDs: []int{102}}}}

	d1, err := Digest(u)
	require.NoError(t, err)

	canon, err := Bytes([]byte(`{"values":[{"bind_value_ids":[102],"field_id":12}]}`))
	require.NoError(t, err)
	assert.Equal(t, HashBytes(canon), d1)
	assert.True(t, ValidDigest(d1))

	empty, err := Digest(contracts.NothingToUpdate())
	require.NoError(t, err)
	assert.NotEqual(t, d1, empty)
}

func TestValidDigest(t *testing.T) {
	assert.True(t, ValidDigest(HashBytes([]byte("x"))))
	assert.False(t, ValidDigest("sha256:abc"))
	assert.False(t, ValidDigest("md5:"+HashBytes(nil)[7:]))
	assert.False(t, ValidDigest("sha256:"+string(make([]byte, 64))))
}
