package util

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionalJSON(t *testing.T) {
	type payload struct {
		At Optional[time.Time] `json:"at"`
	}

	data, err := json.Marshal(payload{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"at":null}`, string(data))

	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	data, err = json.Marshal(payload{At: Some(ts)})
	require.NoError(t, err)

	var decoded payload
	require.NoError(t, json.Unmarshal(data, &decoded))
	got, ok := decoded.At.Get()
	assert.True(t, ok)
	assert.True(t, ts.Equal(got))

	require.NoError(t, json.Unmarshal([]byte(`{"at":null}`), &decoded))
	assert.False(t, decoded.At.IsSet)
}

func TestOptionalOrNil(t *testing.T) {
	assert.Nil(t, None[string]().OrNil())
	assert.Equal(t, "x", Some("x").OrNil())

	s := "y"
	assert.Equal(t, Some("y"), FromPtr(&s))
	assert.Equal(t, None[string](), FromPtr[string](nil))
}
