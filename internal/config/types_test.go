package config

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecret_NeverPrints(t *testing.T) {
	s := Secret("nats-token-1")

	assert.Equal(t, "nats-token-1", s.Value())
	assert.True(t, s.IsSet())
	for _, out := range []string{
		s.String(),
		fmt.Sprintf("%v", s),
		fmt.Sprintf("%+v", struct{ Token Secret }{s}),
		fmt.Sprintf("%#v", s),
	} {
		assert.NotContains(t, out, "nats-token-1")
	}

	raw, err := json.Marshal(struct {
		Token Secret `json:"token"`
	}{s})
	require.NoError(t, err)
	assert.JSONEq(t, `{"token":"[REDACTED]"}`, string(raw))

	y, err := s.MarshalYAML()
	require.NoError(t, err)
	assert.Equal(t, "[REDACTED]", y)
}

func TestSecret_Empty(t *testing.T) {
	var s Secret
	assert.False(t, s.IsSet())
	assert.Equal(t, "", s.String())
	text, err := s.MarshalText()
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestSecret_Unmarshal(t *testing.T) {
	var s Secret
	require.NoError(t, json.Unmarshal([]byte(`"sk-1"`), &s))
	assert.Equal(t, "sk-1", s.Value())

	assert.ErrorIs(t, json.Unmarshal([]byte(`"[REDACTED]"`), &s), errMaskedSecret)
	assert.ErrorIs(t, s.UnmarshalText([]byte("[REDACTED]")), errMaskedSecret)
}
