package oauthstate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerify_RoundTrip(t *testing.T) {
	secret := []byte("s3cr3t-key")
	state, err := Sign(secret, Payload{WorkspaceID: "ws-1", UserID: "u-1"})
	require.NoError(t, err)

	got, err := Verify(secret, state)
	require.NoError(t, err)
	assert.Equal(t, "ws-1", got.WorkspaceID)
	assert.Equal(t, "u-1", got.UserID)
}

func TestVerify_RejectsWrongSecret(t *testing.T) {
	state, err := Sign([]byte("secret-a"), Payload{WorkspaceID: "ws-1"})
	require.NoError(t, err)

	_, err = Verify([]byte("secret-b"), state)
	require.Error(t, err)
}

func TestVerify_RejectsMalformedState(t *testing.T) {
	_, err := Verify([]byte("secret"), "not-a-valid-state")
	require.Error(t, err)
}

func TestVerify_RejectsStaleTimestamp(t *testing.T) {
	secret := []byte("secret")
	stale := time.Now().Add(-20 * time.Minute).UnixMilli()
	state, err := Sign(secret, Payload{WorkspaceID: "ws-1", TimestampMS: stale})
	require.NoError(t, err)

	_, err = Verify(secret, state)
	require.Error(t, err)
}
