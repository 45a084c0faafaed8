package storage

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTokenInvalid covers malformed tokens and bad signatures.
	ErrTokenInvalid = errors.New("invalid download token")
	// ErrTokenExpired is returned for well formed tokens past their expiry.
	ErrTokenExpired = errors.New("download token expired")
)

// DownloadGrant is what a signed download token vouches for: one stored
// evidence object, fetched by one user, until ExpiresAt.
type DownloadGrant struct {
	EvidenceID string    `json:"eid"`
	StoredPath string    `json:"key"`
	UserID     string    `json:"sub"`
	ExpiresAt  time.Time `json:"-"`
}

type grantPayload struct {
	DownloadGrant
	Exp int64 `json:"exp"`
}

// SignedURLSigner issues download tokens for stores that cannot presign URLs.
// A token is base64url(payload) "." base64url(HMAC-SHA256(payload)).
type SignedURLSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSignedURLSigner constructs a signer with the provided secret and TTL.
func NewSignedURLSigner(secret string, ttl time.Duration) *SignedURLSigner {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &SignedURLSigner{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Sign returns a token for grant. ExpiresAt is set from the signer TTL.
func (s *SignedURLSigner) Sign(grant DownloadGrant) (string, DownloadGrant, error) {
	if grant.EvidenceID == "" || grant.StoredPath == "" {
		return "", grant, fmt.Errorf("sign download: evidence id and stored path required")
	}
	if len(s.secret) == 0 {
		return "", grant, fmt.Errorf("sign download: signing secret missing")
	}
	grant.ExpiresAt = s.now().Add(s.ttl).Truncate(time.Second).UTC()
	payload, err := json.Marshal(grantPayload{DownloadGrant: grant, Exp: grant.ExpiresAt.Unix()})
	if err != nil {
		return "", grant, fmt.Errorf("sign download: %w", err)
	}
	enc := base64.RawURLEncoding
	return enc.EncodeToString(payload) + "." + enc.EncodeToString(s.mac(payload)), grant, nil
}

// Verify checks the signature and expiry and returns the grant.
func (s *SignedURLSigner) Verify(token string) (DownloadGrant, error) {
	encPayload, encSig, ok := cutLast(token, '.')
	if !ok {
		return DownloadGrant{}, ErrTokenInvalid
	}
	payload, err := base64.RawURLEncoding.DecodeString(encPayload)
	if err != nil {
		return DownloadGrant{}, ErrTokenInvalid
	}
	sig, err := base64.RawURLEncoding.DecodeString(encSig)
	if err != nil || !hmac.Equal(sig, s.mac(payload)) {
		return DownloadGrant{}, ErrTokenInvalid
	}

	var decoded grantPayload
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&decoded); err != nil {
		return DownloadGrant{}, ErrTokenInvalid
	}
	grant := decoded.DownloadGrant
	grant.ExpiresAt = time.Unix(decoded.Exp, 0).UTC()
	if !s.now().Before(grant.ExpiresAt) {
		return grant, ErrTokenExpired
	}
	return grant, nil
}

func (s *SignedURLSigner) mac(payload []byte) []byte {
	h := hmac.New(sha256.New, s.secret)
	_, _ = h.Write(payload)
	return h.Sum(nil)
}

func cutLast(s string, sep byte) (string, string, bool) {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == sep {
			return s[:i], s[i+1:], i > 0 && i < len(s)-1
		}
	}
	return "", "", false
}
