package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Label string  `json:"label"`
	IDs   []int64 `json:"ids"`
}

func TestJSONBRoundTrip(t *testing.T) {
	in := NewJSONB(payload{Label: "estado", IDs: []int64{1, 2}})
	v, err := in.Value()
	require.NoError(t, err)

	var out JSONB[payload]
	require.NoError(t, out.Scan(v))
	assert.Equal(t, in.Data, out.GetValue())

	require.NoError(t, out.Scan(`{"label":"x"}`))
	assert.Equal(t, "x", out.Data.Label)

	require.NoError(t, out.Scan(nil))
	assert.Empty(t, out.Data.Label)

	assert.Error(t, out.Scan(42))
}
