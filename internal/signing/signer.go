package signing

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"strings"
	"time"
)

// DefaultMaxAge is how long a timestamped token stays fresh.
const DefaultMaxAge = 30 * 24 * time.Hour

// timestampField is the payload key holding the issuance time. It is
// stripped from the data returned by Verify.
const timestampField = "iat"

// ErrNoSigningSecret is returned when a Signer is constructed without a
// secret. Callers must treat this as fatal at startup.
var ErrNoSigningSecret = errors.New("signing: no secret configured")

// Signer issues and verifies HMAC-signed tokens carrying opaque JSON
// payloads. Signatures are compared in constant time.
type Signer struct {
	secret  []byte
	newHash func() hash.Hash
	maxAge  time.Duration
	now     func() time.Time
}

// Option configures a Signer.
type Option func(*Signer)

// WithMaxAge overrides the default token expiration window.
func WithMaxAge(d time.Duration) Option {
	return func(s *Signer) { s.maxAge = d }
}

// WithAlgorithm selects the HMAC hash: "sha256" (default), "sha512" or
// "sha1". Unknown names keep the default.
func WithAlgorithm(name string) Option {
	return func(s *Signer) {
		switch strings.ToLower(name) {
		case "sha512":
			s.newHash = sha512.New
		case "sha1":
			s.newHash = sha1.New
		case "sha256", "":
			s.newHash = sha256.New
		}
	}
}

// WithClock replaces the time source, for expiry tests.
func WithClock(now func() time.Time) Option {
	return func(s *Signer) { s.now = now }
}

// New creates a Signer. It fails closed when secret is empty.
func New(secret string, opts ...Option) (*Signer, error) {
	if secret == "" {
		return nil, ErrNoSigningSecret
	}
	s := &Signer{
		secret:  []byte(secret),
		newHash: sha256.New,
		maxAge:  DefaultMaxAge,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SignedToken is an immutable signed payload. IssuedAt is zero when the
// token carries no timestamp.
type SignedToken struct {
	Payload   []byte `json:"payload"`
	Signature string `json:"signature"`
	IssuedAt  int64  `json:"issued_at,omitempty"`
}

// Verification is the outcome of verifying a token. Tampered and malformed
// tokens are both reported as Valid=false with no further distinction.
type Verification struct {
	Valid   bool                   `json:"valid"`
	Expired bool                   `json:"expired"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Err     string                 `json:"error,omitempty"`
}

// Sign serializes the payload, computes an HMAC over the exact serialized
// bytes and returns the token. When includeTimestamp is set, the issuance
// time rides inside the payload so it is covered by the signature.
func (s *Signer) Sign(payload map[string]interface{}, includeTimestamp bool) (SignedToken, error) {
	body := make(map[string]interface{}, len(payload)+1)
	for k, v := range payload {
		body[k] = v
	}

	var issuedAt int64
	if includeTimestamp {
		issuedAt = s.now().Unix()
		body[timestampField] = issuedAt
	}

	// json.Marshal sorts map keys, so serialization is deterministic.
	raw, err := json.Marshal(body)
	if err != nil {
		return SignedToken{}, fmt.Errorf("signing: marshal payload: %w", err)
	}

	return SignedToken{
		Payload:   raw,
		Signature: s.mac(raw),
		IssuedAt:  issuedAt,
	}, nil
}

// Verify recomputes the HMAC over the payload bytes and compares it in
// constant time. A valid token with an embedded timestamp older than the
// max age reports Expired=true while staying Valid=true.
func (s *Signer) Verify(token SignedToken) Verification {
	sig, err := hex.DecodeString(token.Signature)
	if err != nil {
		return Verification{Err: "invalid signature encoding"}
	}

	h := hmac.New(s.newHash, s.secret)
	h.Write(token.Payload)
	if !hmac.Equal(h.Sum(nil), sig) {
		return Verification{Err: "signature mismatch"}
	}

	var data map[string]interface{}
	if err := json.Unmarshal(token.Payload, &data); err != nil {
		return Verification{Err: "payload is not valid JSON"}
	}

	expired := false
	if raw, ok := data[timestampField]; ok {
		if issued, ok := raw.(float64); ok {
			age := s.now().Unix() - int64(issued)
			expired = time.Duration(age)*time.Second > s.maxAge
		}
		delete(data, timestampField)
	}

	return Verification{Valid: true, Expired: expired, Data: data}
}

// CreateToken signs the payload and packs it into a single URL-safe string:
// base64url(payload) "." hex signature. Base64 is unpadded so the token
// survives query-string transport untouched.
func (s *Signer) CreateToken(payload map[string]interface{}, includeTimestamp bool) (string, error) {
	token, err := s.Sign(payload, includeTimestamp)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(token.Payload) + "." + token.Signature, nil
}

// VerifyToken parses a delimited token string produced by CreateToken and
// verifies it. Malformed input yields Valid=false, never an error.
func (s *Signer) VerifyToken(token string) Verification {
	dot := strings.LastIndexByte(token, '.')
	if dot <= 0 || dot == len(token)-1 {
		return Verification{Err: "malformed token"}
	}

	payload, err := base64.RawURLEncoding.DecodeString(token[:dot])
	if err != nil {
		return Verification{Err: "invalid payload encoding"}
	}

	return s.Verify(SignedToken{Payload: payload, Signature: token[dot+1:]})
}

func (s *Signer) mac(data []byte) string {
	h := hmac.New(s.newHash, s.secret)
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
