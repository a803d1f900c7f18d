package engine

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayload_UnmarshalString(t *testing.T) {
	var p Payload
	require.NoError(t, json.Unmarshal([]byte(`"a.txt\nb.txt"`), &p))
	assert.Equal(t, "a.txt\nb.txt", p.Text)
}

func TestPayload_UnmarshalBlock(t *testing.T) {
	var p Payload
	require.NoError(t, json.Unmarshal([]byte(`{"type":"text","text":"hello"}`), &p))
	assert.Equal(t, "hello", p.Text)
}

func TestPayload_UnmarshalBlockArray(t *testing.T) {
	var p Payload
	raw := `[{"type":"text","text":"one"},{"type":"image","text":""},{"type":"text","text":"two"}]`
	require.NoError(t, json.Unmarshal([]byte(raw), &p))
	assert.Equal(t, "one\ntwo", p.Text)
}

func TestPayload_UnmarshalEmptyArray(t *testing.T) {
	var p Payload
	require.NoError(t, json.Unmarshal([]byte(`[]`), &p))
	assert.Empty(t, p.Text)
}

func TestPayload_UnknownShapeDegradesToEmpty(t *testing.T) {
	var p Payload
	require.NoError(t, json.Unmarshal([]byte(`42`), &p))
	assert.Empty(t, p.Text)
}

func TestPayload_UntypedBlockCountsAsText(t *testing.T) {
	var p Payload
	require.NoError(t, json.Unmarshal([]byte(`[{"text":"untyped"}]`), &p))
	assert.Equal(t, "untyped", p.Text)
}
