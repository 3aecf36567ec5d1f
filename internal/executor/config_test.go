// ABOUTME: Tests for executor config decoding and URL validation
// ABOUTME: Covers the default/custom_url discriminator and rejected inputs

package executor

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, Default{}, cfg)

	cfg, err = ParseConfig([]byte(`{"type":"default"}`))
	require.NoError(t, err)
	assert.Equal(t, Default{}, cfg)

	cfg, err = ParseConfig([]byte(`{"type":"custom_url","url":"https://exec.example.com","apiKey":"secret"}`))
	require.NoError(t, err)
	assert.Equal(t, CustomURL{URL: "https://exec.example.com", APIKey: "secret"}, cfg)
	assert.Equal(t, "custom", TypeName(cfg))

	_, err = ParseConfig([]byte(`{"type":"custom_url","url":"not a url"}`))
	assert.ErrorIs(t, err, ErrInvalidURL)

	_, err = ParseConfig([]byte(`{"type":"lambda"}`))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = ParseConfig([]byte(`{`))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfig_MarshalJSON(t *testing.T) {
	raw, err := json.Marshal(CustomURL{URL: "https://exec.example.com", APIKey: "k"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"custom_url","url":"https://exec.example.com","apiKey":"k"}`, string(raw))

	raw, err = json.Marshal(Default{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"default"}`, string(raw))
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		raw   string
		valid bool
	}{
		{"https://exec.example.com", true},
		{"http://localhost:8080/base", true},
		{"", false},
		{"exec.example.com", false},
		{"ftp://exec.example.com", false},
		{"https://", false},
		{"://bad", false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			_, err := ValidateURL(tt.raw)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidURL)
			}
		})
	}
}
