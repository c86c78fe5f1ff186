package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsStrongPassword(t *testing.T) {
	cases := map[string]bool{
		"Abcd123!":   true,
		"Zz9_zzzz":   true,
		"abcdefgh":   false,
		"ABCDEFG1":   false,
		"Abcdefg1":   false,
		"Ab1!":       false,
		"Abcd123!\n": false,

		"Ab1!\U0001F600\U0001F600": true,
		"Ab1!\U0001F600":           false,
		"Ab1!éééé":                 true,
		"Ab1!ééé":                  false,
	}
	for pw, want := range cases {
		assert.Equal(t, want, IsStrongPassword(pw), pw)
	}
}

func TestPasswordRuleRegistered(t *testing.T) {
	v := NewValidator()
	type payload struct {
		Password string `validate:"required,password"`
	}
	assert.NoError(t, v.Struct(payload{Password: "Abcd123!"}))
	assert.Error(t, v.Struct(payload{Password: "abcdefgh"}))
}

func TestValidationErrorDetails(t *testing.T) {
	v := NewValidator()
	type payload struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required,password"`
	}
	err := validationError(v.Struct(payload{Email: "nope", Password: "abcdefgh"}), "invalid payload")
	details, ok := err.Details.(map[string]string)
	if assert.True(t, ok) {
		assert.Equal(t, PasswordRequirement, details["password"])
		assert.Equal(t, "must be a valid email address", details["email"])
	}
	assert.Equal(t, 400, err.Status)
}
