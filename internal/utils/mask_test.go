package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"  ", ""},
		{"abc", "***"},
		{"12345678", "********"},
		{"5KP3u95bQpv", "5KP3u9...pv"},
		{"sk_test_51Habcdefghijklmnop", "sk_tes...op"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MaskSecret(tt.in), tt.in)
	}
}

func TestMaskCredentials_Nested(t *testing.T) {
	creds := map[string]any{
		"environment": "sandbox",
		"api_key":     "sk_test_51Habcdefghijklmnop",
		"square": map[string]any{
			"access_token": "EAAAEOuLQObrVwJvCvoio",
			"location_id":  "L1",
			"environment":  "production",
		},
		"klarna": map[string]any{
			"username": "PK1234_abcdef",
			"password": "klarna-secret-value",
			"region":   "europe",
			"extra":    []any{"whsec_0123456789", float64(3)},
		},
		"timeout": float64(30),
	}

	MaskCredentials(creds)

	assert.Equal(t, "sandbox", creds["environment"])
	assert.Equal(t, "sk_tes...op", creds["api_key"])
	assert.Equal(t, float64(30), creds["timeout"])

	square := creds["square"].(map[string]any)
	assert.Equal(t, "EAAAEO...io", square["access_token"])
	assert.Equal(t, "**", square["location_id"])
	assert.Equal(t, "production", square["environment"])

	klarna := creds["klarna"].(map[string]any)
	assert.Equal(t, "PK1234...ef", klarna["username"])
	assert.Equal(t, "klarna...ue", klarna["password"])
	assert.Equal(t, "europe", klarna["region"])
	assert.Equal(t, []any{"whsec_...89", float64(3)}, klarna["extra"])
}
