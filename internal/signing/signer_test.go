package signing

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"
)

func newTestSigner(t *testing.T, opts ...Option) *Signer {
	t.Helper()
	s, err := New("test-secret-key", opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func TestNewRequiresSecret(t *testing.T) {
	if _, err := New(""); err != ErrNoSigningSecret {
		t.Errorf("New(\"\") error = %v, want ErrNoSigningSecret", err)
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	s := newTestSigner(t)

	payload := map[string]interface{}{
		"lid": "lead-1",
		"mid": "msg-1",
		"url": "https://example.com/product?x=1&y=2",
	}

	token, err := s.Sign(payload, true)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if token.IssuedAt == 0 {
		t.Error("Sign() with timestamp did not set IssuedAt")
	}

	v := s.Verify(token)
	if !v.Valid {
		t.Fatalf("Verify() valid = false, err = %q", v.Err)
	}
	if v.Expired {
		t.Error("freshly signed token reported expired")
	}
	for k, want := range payload {
		if got := v.Data[k]; got != want {
			t.Errorf("Data[%q] = %v, want %v", k, got, want)
		}
	}
	if _, ok := v.Data["iat"]; ok {
		t.Error("internal timestamp field leaked into verified data")
	}
}

func TestSignWithoutTimestamp(t *testing.T) {
	s := newTestSigner(t)

	token, err := s.Sign(map[string]interface{}{"lid": "l"}, false)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if token.IssuedAt != 0 {
		t.Errorf("IssuedAt = %d, want 0", token.IssuedAt)
	}

	v := s.Verify(token)
	if !v.Valid || v.Expired {
		t.Errorf("Verify() = {valid:%v expired:%v}, want valid, not expired", v.Valid, v.Expired)
	}
}

func TestTamperDetection(t *testing.T) {
	s := newTestSigner(t)

	token, err := s.CreateToken(map[string]interface{}{"lid": "lead-1", "mid": "msg-1"}, true)
	if err != nil {
		t.Fatalf("CreateToken() error = %v", err)
	}

	dot := strings.LastIndexByte(token, '.')
	payload, err := base64.RawURLEncoding.DecodeString(token[:dot])
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}

	// Flip every bit of the payload segment in turn
	for i := 0; i < len(payload); i++ {
		for bit := 0; bit < 8; bit++ {
			mutated := make([]byte, len(payload))
			copy(mutated, payload)
			mutated[i] ^= 1 << bit
			forged := base64.RawURLEncoding.EncodeToString(mutated) + token[dot:]
			if v := s.VerifyToken(forged); v.Valid {
				t.Fatalf("payload byte %d bit %d flip accepted", i, bit)
			}
		}
	}

	// Mutate each hex digit of the signature segment
	sig := token[dot+1:]
	for i := 0; i < len(sig); i++ {
		replacement := byte('0')
		if sig[i] == '0' {
			replacement = '1'
		}
		forged := token[:dot+1] + sig[:i] + string(replacement) + sig[i+1:]
		if v := s.VerifyToken(forged); v.Valid {
			t.Fatalf("signature digit %d mutation accepted", i)
		}
	}
}

func TestVerifyMalformedInput(t *testing.T) {
	s := newTestSigner(t)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"no delimiter", "abcdef"},
		{"empty payload", ".deadbeef"},
		{"empty signature", "eyJ4IjoxfQ."},
		{"bad base64", "!!!!.deadbeef"},
		{"bad hex signature", "eyJ4IjoxfQ.zzzz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := s.VerifyToken(tt.token)
			if v.Valid {
				t.Errorf("VerifyToken(%q) valid = true, want false", tt.token)
			}
			if v.Err == "" {
				t.Error("malformed token should carry an error string")
			}
		})
	}
}

func TestVerifyNonJSONPayload(t *testing.T) {
	s := newTestSigner(t)

	// Correctly signed, but the payload is not JSON: signature passes,
	// decode fails, and the result is still just valid=false.
	raw := []byte("not json at all")
	token := base64.RawURLEncoding.EncodeToString(raw) + "." + s.mac(raw)

	v := s.VerifyToken(token)
	if v.Valid {
		t.Error("non-JSON payload accepted")
	}
}

func TestExpirationBoundary(t *testing.T) {
	const maxAge = 100 * time.Second

	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := issued

	s := newTestSigner(t,
		WithMaxAge(maxAge),
		WithClock(func() time.Time { return current }),
	)

	token, err := s.CreateToken(map[string]interface{}{"lid": "l"}, true)
	if err != nil {
		t.Fatalf("CreateToken() error = %v", err)
	}

	tests := []struct {
		name    string
		elapsed time.Duration
		expired bool
	}{
		{"just before max age", maxAge - time.Second, false},
		{"at max age", maxAge, false},
		{"just past max age", maxAge + time.Second, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			current = issued.Add(tt.elapsed)
			v := s.VerifyToken(token)
			if !v.Valid {
				t.Fatalf("token became invalid at %v, err = %q", tt.elapsed, v.Err)
			}
			if v.Expired != tt.expired {
				t.Errorf("expired = %v at elapsed %v, want %v", v.Expired, tt.elapsed, tt.expired)
			}
		})
	}
}

func TestAlgorithmOverride(t *testing.T) {
	s256 := newTestSigner(t)
	s512 := newTestSigner(t, WithAlgorithm("sha512"))

	token, err := s512.CreateToken(map[string]interface{}{"lid": "l"}, false)
	if err != nil {
		t.Fatalf("CreateToken() error = %v", err)
	}

	if v := s512.VerifyToken(token); !v.Valid {
		t.Errorf("sha512 signer rejected its own token: %q", v.Err)
	}
	if v := s256.VerifyToken(token); v.Valid {
		t.Error("sha256 signer accepted a sha512 token")
	}
}

func TestDifferentSecretsReject(t *testing.T) {
	a := newTestSigner(t)
	b, err := New("another-secret")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	token, err := a.CreateToken(map[string]interface{}{"lid": "l"}, false)
	if err != nil {
		t.Fatalf("CreateToken() error = %v", err)
	}
	if v := b.VerifyToken(token); v.Valid {
		t.Error("token verified under a different secret")
	}
}
