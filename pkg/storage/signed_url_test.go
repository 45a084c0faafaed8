package storage

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func grant() DownloadGrant {
	return DownloadGrant{EvidenceID: "ev-1", StoredPath: "items/42/photo.png", UserID: "claimant-1"}
}

func TestSignedURLSignerRoundTrip(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	token, signed, err := signer.Sign(grant())
	require.NoError(t, err)
	assert.NotContains(t, token, "/")
	assert.WithinDuration(t, time.Now().Add(time.Hour), signed.ExpiresAt, 2*time.Second)

	got, err := signer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, signed, got)
}

func TestSignedURLSignerExpiry(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Minute)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	signer.now = func() time.Time { return base }
	token, _, err := signer.Sign(grant())
	require.NoError(t, err)

	signer.now = func() time.Time { return base.Add(59 * time.Second) }
	_, err = signer.Verify(token)
	require.NoError(t, err)

	signer.now = func() time.Time { return base.Add(time.Minute) }
	got, err := signer.Verify(token)
	require.ErrorIs(t, err, ErrTokenExpired)
	assert.Equal(t, "ev-1", got.EvidenceID)
}

func TestSignedURLSignerRejectsTampering(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	token, _, err := signer.Sign(grant())
	require.NoError(t, err)

	forged, _, err := NewSignedURLSigner("other", time.Hour).Sign(DownloadGrant{EvidenceID: "ev-2", StoredPath: "items/9/x.png"})
	require.NoError(t, err)
	payload, _, _ := strings.Cut(forged, ".")
	_, sig, _ := strings.Cut(token, ".")

	for _, bad := range []string{"", ".", "abc", payload + "." + sig, token + "x", "!!!." + sig} {
		_, err := signer.Verify(bad)
		assert.ErrorIs(t, err, ErrTokenInvalid, bad)
	}

	_, err = NewSignedURLSigner("other", time.Hour).Verify(token)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	_, _, err = signer.Sign(DownloadGrant{StoredPath: "key"})
	assert.Error(t, err)
	_, _, err = NewSignedURLSigner("", time.Hour).Sign(grant())
	assert.Error(t, err)
}
