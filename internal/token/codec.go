// Package token implements the signed-token codec used for share links and
// install session tokens. Tokens are compact two-part strings:
//
//	base64url(JSON claims) + "." + base64url(HMAC-SHA256 over the first part)
//
// The codec is deliberately small: symmetric HMAC signing, an embedded
// expiry, and constant-time signature comparison. Verification fails with
// ErrTokenInvalid for any malformed, tampered, or expired token; callers
// never learn which of the three it was.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// ErrTokenInvalid is returned by Verify for any token that is malformed,
// carries a bad signature, or has expired. The cause is intentionally not
// distinguished in the error value.
var ErrTokenInvalid = errors.New("token invalid")

// Payload carries the share context that must survive the install gap.
// AuxiliaryID is optional (empty when the share pointed at the content as a
// whole rather than, say, a single image inside it).
type Payload struct {
	SubjectID   string `json:"sub"`
	ContentID   string `json:"cid"`
	Title       string `json:"ttl,omitempty"`
	AuxiliaryID string `json:"aux,omitempty"`
	IssuedAt    int64  `json:"iat"`
	ExpiresAt   int64  `json:"exp"`
}

// Codec signs and verifies payloads. It is consumed through this interface
// by the issuance and resolution services so tests can substitute failing
// or frozen-clock implementations.
type Codec interface {
	// Sign serializes p, stamps IssuedAt/ExpiresAt from the current time and
	// ttl, and returns the signed compact token.
	Sign(p Payload, ttl time.Duration) (string, error)

	// Verify checks signature and expiry and returns the embedded payload.
	// Any failure is ErrTokenInvalid.
	Verify(tok string) (Payload, error)
}

// HMACCodec is the production Codec: HMAC-SHA256 with a shared secret.
// The zero value is unusable; construct with NewHMACCodec.
type HMACCodec struct {
	secret []byte

	// now is a clock seam for tests; defaults to time.Now.
	now func() time.Time
}

// NewHMACCodec returns a Codec signing with the given secret. The secret
// must be non-empty; key length is otherwise the caller's concern.
func NewHMACCodec(secret string) (*HMACCodec, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("token: signing secret must not be empty")
	}
	return &HMACCodec{secret: []byte(secret), now: time.Now}, nil
}

// Sign implements Codec.
func (c *HMACCodec) Sign(p Payload, ttl time.Duration) (string, error) {
	now := c.now().UTC()
	p.IssuedAt = now.Unix()
	p.ExpiresAt = now.Add(ttl).Unix()

	body, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	b64 := base64.RawURLEncoding.EncodeToString(body)
	return b64 + "." + c.sign(b64), nil
}

// Verify implements Codec.
func (c *HMACCodec) Verify(tok string) (Payload, error) {
	var p Payload

	body, sig, found := strings.Cut(tok, ".")
	if !found || body == "" || sig == "" {
		return p, ErrTokenInvalid
	}
	if !hmac.Equal([]byte(c.sign(body)), []byte(sig)) {
		return p, ErrTokenInvalid
	}

	raw, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return p, ErrTokenInvalid
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, ErrTokenInvalid
	}
	if p.ExpiresAt <= 0 || c.now().UTC().Unix() >= p.ExpiresAt {
		return Payload{}, ErrTokenInvalid
	}
	return p, nil
}

// sign returns the base64url HMAC-SHA256 of msg under the codec secret.
func (c *HMACCodec) sign(msg string) string {
	mac := hmac.New(sha256.New, c.secret)
	_, _ = mac.Write([]byte(msg))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Fingerprint returns the hex SHA-256 of a token. Attribution records store
// this digest instead of the token itself, so the share can be audited
// without the record ever being exchangeable for a session.
func Fingerprint(tok string) string {
	sum := sha256.Sum256([]byte(tok))
	return hex.EncodeToString(sum[:])
}
