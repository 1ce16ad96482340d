package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"codesync/pkg/interfaces"
	"codesync/pkg/types"
)

// HMACVerifier validates tokens of the form
// base64url(claims-json) "." base64url(hmac-sha256) signed with a key
// shared with the identity service. Token issuance is out of scope; this
// side only verifies.
type HMACVerifier struct {
	secret  []byte
	nowFunc func() time.Time
}

// NewHMACVerifier creates a verifier for the given shared secret.
func NewHMACVerifier(secret []byte) *HMACVerifier {
	return &HMACVerifier{secret: secret, nowFunc: time.Now}
}

// SetClock overrides the expiry clock, for tests.
func (v *HMACVerifier) SetClock(now func() time.Time) {
	v.nowFunc = now
}

// Verify checks signature and expiry and returns the embedded claims.
func (v *HMACVerifier) Verify(token string) (*types.Claims, error) {
	if token == "" {
		return nil, interfaces.ErrTokenMissing
	}
	body, sig, ok := strings.Cut(token, ".")
	if !ok {
		return nil, interfaces.ErrTokenInvalid
	}

	payload, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return nil, interfaces.ErrTokenInvalid
	}
	wantSig, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return nil, interfaces.ErrTokenInvalid
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(body))
	if !hmac.Equal(mac.Sum(nil), wantSig) {
		return nil, interfaces.ErrTokenInvalid
	}

	var claims types.Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, interfaces.ErrTokenInvalid
	}
	if !types.IsValidUserID(claims.UserID) {
		return nil, interfaces.ErrTokenInvalid
	}
	if claims.ExpiresAt > 0 && v.nowFunc().Unix() >= claims.ExpiresAt {
		return nil, interfaces.ErrTokenExpired
	}
	if len(claims.Roles) == 0 {
		claims.Roles = []string{types.RoleUser}
	}
	return &claims, nil
}

// Sign produces a token the verifier accepts. Exists for tests and local
// development; production tokens come from the identity service.
func (v *HMACVerifier) Sign(claims *types.Claims) (string, error) {
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	body := base64.RawURLEncoding.EncodeToString(payload)
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(body))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return body + "." + sig, nil
}
