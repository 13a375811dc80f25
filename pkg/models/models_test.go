package models_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-project/aegis/pkg/models"
)

func TestHasRole(t *testing.T) {
	user := &models.User{Roles: []string{"analyst", "admin"}}

	assert.True(t, user.HasRole("analyst"))
	assert.True(t, user.HasRole("admin"))
	assert.False(t, user.HasRole("auditor"))
	assert.False(t, (&models.User{}).HasRole("analyst"))
}

func TestUserJSONRedaction(t *testing.T) {
	user := &models.User{
		ID:           "user-1",
		Username:     "alice",
		PasswordHash: "aa:bb",
		MFASecret:    "deadbeef",
	}

	data, err := json.Marshal(user)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "alice", decoded["username"])
	assert.NotContains(t, decoded, "password_hash")
	assert.NotContains(t, decoded, "mfa_secret")
	assert.NotContains(t, string(data), "aa:bb")
	assert.NotContains(t, string(data), "deadbeef")
}
