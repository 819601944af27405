package validator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateSignUp(t *testing.T) {
	errs := ValidateSignUp("ana@example.com", "ana_k", "Ana K", "Secret123")
	require.False(t, errs.HasErrors())
	require.NoError(t, errs.Err())

	errs = ValidateSignUp("nope", "a!", "", "short")
	require.Contains(t, errs, "email")
	require.Contains(t, errs, "username")
	require.Contains(t, errs, "password")
	require.NotContains(t, errs, "full_name")
	require.Error(t, errs.Err())
}

func TestValidatePasswordRules(t *testing.T) {
	errs := ValidateSignUp("ana@example.com", "ana", "", "alllowercase1")
	require.Equal(t, "Password must contain at least one uppercase letter", errs["password"])
}

func TestValidationErrorsMessage(t *testing.T) {
	errs := ValidationErrors{"b": "second", "a": "first"}
	require.Equal(t, "validation failed: a: first; b: second", errs.Error())
}

func TestValidateSignal(t *testing.T) {
	require.False(t, ValidateSignal("found a wormhole", "exploration").HasErrors())
	errs := ValidateSignal("  ", "gossip")
	require.Contains(t, errs, "content")
	require.Contains(t, errs, "type")
}

func TestValidateProfileUpdate(t *testing.T) {
	bad := "x"
	require.Contains(t, ValidateProfileUpdate(&bad, nil), "username")
	require.False(t, ValidateProfileUpdate(nil, nil).HasErrors())
}
