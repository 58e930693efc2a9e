package services

import (
	"context"
	"encoding/base64"
	"testing"

	"ranked-queue-service/models"
	"ranked-queue-service/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialSealVerify(t *testing.T) {
	v, err := NewCredentialVerifier("server-secret")
	require.NoError(t, err)

	blob, err := v.Seal("hunter22")
	require.NoError(t, err)

	assert.True(t, v.Verify("hunter22", blob))
	assert.False(t, v.Verify("hunter23", blob))

	other, err := NewCredentialVerifier("another-secret")
	require.NoError(t, err)
	assert.False(t, other.Verify("hunter22", blob), "wrong key must fail, not error")
}

func TestCredentialVerifyMalformedBlobs(t *testing.T) {
	v, err := NewCredentialVerifier("server-secret")
	require.NoError(t, err)

	tests := map[string]string{
		"empty":        "",
		"not base64":   "%%%",
		"short":        base64.StdEncoding.EncodeToString([]byte("abc")),
		"garbage body": base64.StdEncoding.EncodeToString(make([]byte, 64)),
	}
	for name, blob := range tests {
		t.Run(name, func(t *testing.T) {
			assert.False(t, v.Verify("hunter22", blob))
		})
	}
}

func TestNewCredentialVerifierRequiresSecret(t *testing.T) {
	_, err := NewCredentialVerifier("")
	assert.Error(t, err)
}

func TestAuthenticate(t *testing.T) {
	v, err := NewCredentialVerifier("server-secret")
	require.NoError(t, err)
	blob, err := v.Seal("hunter22")
	require.NoError(t, err)

	st := store.NewMemoryStore()
	st.PutProfile(models.PlayerProfile{PlayerName: "ace", PasswordHash: blob})
	ctx := context.Background()

	assert.NoError(t, v.Authenticate(ctx, st, "ace", "hunter22"))
	assert.ErrorIs(t, v.Authenticate(ctx, st, "ace", "nope"), ErrWrongPassword)
	assert.ErrorIs(t, v.Authenticate(ctx, st, "ghost", "hunter22"), ErrPlayerNotFound)
}
