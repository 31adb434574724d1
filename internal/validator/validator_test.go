package validator

import (
	"strings"
	"testing"

	"wayleave/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoginInput(t *testing.T) {
	v := New()

	tests := []struct {
		name    string
		input   LoginInput
		message string
	}{
		{"valid", LoginInput{CPR: "123456789", Password: "admin"}, ""},
		{"missing cpr", LoginInput{Password: "x"}, "CPR is required."},
		{"short cpr", LoginInput{CPR: "12345", Password: "x"}, "CPR must be exactly 9 digits."},
		{"letters", LoginInput{CPR: "12345678a", Password: "x"}, "CPR must be exactly 9 digits."},
		{"missing password", LoginInput{CPR: "123456789"}, "Password is required."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.input)
			if tt.message == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.message, Message(err))
		})
	}
}

func TestRecordValidation(t *testing.T) {
	v := New()

	err := v.Validate(model.Record{})
	require.Error(t, err)
	assert.Equal(t, "Wayleave number is required.", Message(err))

	err = v.Validate(model.Record{WayleaveNumber: "WL-1", USPNumber: strings.Repeat("x", 65)})
	require.Error(t, err)
	assert.Equal(t, "USP number must be at most 64 characters.", Message(err))

	assert.NoError(t, v.Validate(model.Record{WayleaveNumber: "WL-1"}))
}

func TestRoleInput(t *testing.T) {
	v := New()
	assert.NoError(t, v.Validate(RoleInput{Role: "EDD Planning"}))
	assert.NoError(t, v.Validate(RoleInput{}))
	assert.Error(t, v.Validate(RoleInput{Role: "Root"}))
}

func TestIsValidation(t *testing.T) {
	v := New()
	assert.True(t, IsValidation(v.Validate(LoginInput{})))
	assert.False(t, IsValidation(assert.AnError))
}
