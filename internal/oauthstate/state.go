// Package oauthstate signs and verifies the `state` parameter carried
// through Meta's OAuth redirect: base64(payload) + "." +
// hex(HMAC_SHA256(secret, payload)), rejecting stale or tampered values.
package oauthstate

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	apperrors "github.com/metahub/integrationhub/internal/errors"
)

// Freshness is the maximum age a signed state may have at verification
// time before it's rejected.
const Freshness = 10 * time.Minute

// Payload is the information round-tripped through the OAuth redirect.
type Payload struct {
	WorkspaceID string `json:"wid"`
	UserID      string `json:"uid"`
	TimestampMS int64  `json:"ts"`
}

// Sign encodes p as base64(json) + "." + hex(HMAC-SHA256(secret, json)).
func Sign(secret []byte, p Payload) (string, error) {
	if p.TimestampMS == 0 {
		p.TimestampMS = time.Now().UTC().UnixMilli()
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return "", apperrors.NewValidationError("payload", "could not encode oauth state")
	}
	encoded := base64.URLEncoding.EncodeToString(raw)
	sig := sign(secret, raw)
	return encoded + "." + hex.EncodeToString(sig), nil
}

// Verify validates a signed state string and returns the decoded payload.
// It rejects a signature mismatch and a payload whose ts is older than
// Freshness.
func Verify(secret []byte, state string) (Payload, error) {
	parts := strings.SplitN(state, ".", 2)
	if len(parts) != 2 {
		return Payload{}, apperrors.NewValidationError("state", "malformed oauth state")
	}
	encoded, sigHex := parts[0], parts[1]

	gotSig, err := hex.DecodeString(sigHex)
	if err != nil {
		return Payload{}, apperrors.NewValidationError("state", "malformed oauth state signature")
	}
	raw, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return Payload{}, apperrors.NewValidationError("state", "malformed oauth state payload")
	}
	wantSig := sign(secret, raw)
	if !hmac.Equal(gotSig, wantSig) {
		return Payload{}, apperrors.NewUnauthenticatedError("oauth state signature mismatch")
	}

	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, apperrors.NewValidationError("state", "malformed oauth state payload")
	}

	age := time.Since(time.UnixMilli(p.TimestampMS))
	if age > Freshness || age < -Freshness {
		return Payload{}, apperrors.NewUnauthenticatedError("oauth state has expired")
	}
	return p, nil
}

func sign(secret, data []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(data)
	return mac.Sum(nil)
}
