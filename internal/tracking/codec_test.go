package tracking

import (
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/ignite/email-insights/internal/signing"
)

func newTestCodec(t *testing.T, opts ...CodecOption) *Codec {
	t.Helper()
	signer, err := signing.New("codec-test-secret")
	if err != nil {
		t.Fatalf("signing.New() error = %v", err)
	}
	c, err := NewCodec(signer, "https://track.example.com", opts...)
	if err != nil {
		t.Fatalf("NewCodec() error = %v", err)
	}
	return c
}

// tokenFrom extracts the t= query parameter from a generated tracking URL.
func tokenFrom(t *testing.T, rawURL string) string {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse %q: %v", rawURL, err)
	}
	token := u.Query().Get("t")
	if token == "" {
		t.Fatalf("no t= parameter in %q", rawURL)
	}
	return token
}

func TestNewCodecRequiresBaseURL(t *testing.T) {
	signer, _ := signing.New("s")
	if _, err := NewCodec(signer, ""); !errors.Is(err, ErrNoBaseURL) {
		t.Errorf("NewCodec with empty base URL error = %v, want ErrNoBaseURL", err)
	}
}

func TestGeneratePixelURL(t *testing.T) {
	c := newTestCodec(t)

	pixelURL, err := c.GeneratePixelURL(Params{LeadID: "L1", MessageID: "M1", CampaignID: "C1"})
	if err != nil {
		t.Fatalf("GeneratePixelURL() error = %v", err)
	}
	if !strings.HasPrefix(pixelURL, "https://track.example.com/track/open?t=") {
		t.Errorf("pixel URL = %q, want /track/open endpoint", pixelURL)
	}

	parsed := c.ParseToken(tokenFrom(t, pixelURL))
	if !parsed.Valid {
		t.Fatalf("parse failed: %q", parsed.Error)
	}
	if parsed.LeadID != "L1" || parsed.MessageID != "M1" || parsed.CampaignID != "C1" {
		t.Errorf("parsed = %+v, want L1/M1/C1", parsed)
	}
}

func TestGeneratePixelURLValidation(t *testing.T) {
	c := newTestCodec(t)

	tests := []struct {
		name   string
		params Params
	}{
		{"missing lead", Params{MessageID: "M1"}},
		{"missing message", Params{LeadID: "L1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := c.GeneratePixelURL(tt.params); !errors.Is(err, ErrMissingParam) {
				t.Errorf("error = %v, want ErrMissingParam", err)
			}
		})
	}
}

func TestClickURLRoundTrip(t *testing.T) {
	c := newTestCodec(t)

	clickURL, err := c.GenerateClickURL(Params{
		LeadID:    "L1",
		MessageID: "M1",
		TargetURL: "https://example.com/product",
		LinkID:    "cta",
	})
	if err != nil {
		t.Fatalf("GenerateClickURL() error = %v", err)
	}
	if !strings.HasPrefix(clickURL, "https://track.example.com/track/click?t=") {
		t.Errorf("click URL = %q, want /track/click endpoint", clickURL)
	}

	parsed := c.ParseToken(tokenFrom(t, clickURL))
	if !parsed.Valid {
		t.Fatalf("parse failed: %q", parsed.Error)
	}
	if parsed.LeadID != "L1" {
		t.Errorf("LeadID = %q, want L1", parsed.LeadID)
	}
	if parsed.MessageID != "M1" {
		t.Errorf("MessageID = %q, want M1", parsed.MessageID)
	}
	if parsed.TargetURL != "https://example.com/product" {
		t.Errorf("TargetURL = %q, want https://example.com/product", parsed.TargetURL)
	}
	if parsed.LinkID != "cta" {
		t.Errorf("LinkID = %q, want cta", parsed.LinkID)
	}
	if parsed.Expired {
		t.Error("fresh token reported expired")
	}
}

func TestClickURLRequiresTarget(t *testing.T) {
	c := newTestCodec(t)
	if _, err := c.GenerateClickURL(Params{LeadID: "L1", MessageID: "M1"}); !errors.Is(err, ErrMissingParam) {
		t.Errorf("error = %v, want ErrMissingParam", err)
	}
}

func TestParseTokenGarbage(t *testing.T) {
	c := newTestCodec(t)

	for _, token := range []string{"", "garbage", "a.b.c", "!!!.deadbeef"} {
		parsed := c.ParseToken(token)
		if parsed.Valid {
			t.Errorf("ParseToken(%q) valid = true", token)
		}
		if parsed.Error == "" {
			t.Errorf("ParseToken(%q) has no error string", token)
		}
	}
}

func TestParseTokenMetadata(t *testing.T) {
	c := newTestCodec(t)

	u, err := c.GeneratePixelURL(Params{
		LeadID:    "L1",
		MessageID: "M1",
		VariantID: "B",
		TestID:    "subject-test",
		Metadata:  map[string]string{"source": "welcome-flow"},
	})
	if err != nil {
		t.Fatalf("GeneratePixelURL() error = %v", err)
	}

	parsed := c.ParseToken(tokenFrom(t, u))
	if !parsed.Valid {
		t.Fatalf("parse failed: %q", parsed.Error)
	}
	if parsed.VariantID != "B" || parsed.TestID != "subject-test" {
		t.Errorf("variant/test = %q/%q, want B/subject-test", parsed.VariantID, parsed.TestID)
	}
	if parsed.Metadata["source"] != "welcome-flow" {
		t.Errorf("metadata = %v, want source=welcome-flow", parsed.Metadata)
	}
}

func TestParseTokenExpired(t *testing.T) {
	current := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	signer, err := signing.New("codec-test-secret",
		signing.WithMaxAge(time.Hour),
		signing.WithClock(func() time.Time { return current }),
	)
	if err != nil {
		t.Fatalf("signing.New() error = %v", err)
	}
	c, err := NewCodec(signer, "https://track.example.com")
	if err != nil {
		t.Fatalf("NewCodec() error = %v", err)
	}

	u, err := c.GeneratePixelURL(Params{LeadID: "L1", MessageID: "M1"})
	if err != nil {
		t.Fatalf("GeneratePixelURL() error = %v", err)
	}
	token := tokenFrom(t, u)

	current = current.Add(2 * time.Hour)
	parsed := c.ParseToken(token)
	if !parsed.Valid {
		t.Fatalf("stale token should stay valid, err = %q", parsed.Error)
	}
	if !parsed.Expired {
		t.Error("stale token not reported expired")
	}
	if parsed.LeadID != "L1" {
		t.Errorf("stale token lost payload, LeadID = %q", parsed.LeadID)
	}
}

func TestCustomEndpoints(t *testing.T) {
	c := newTestCodec(t, WithPixelEndpoint("/t/o"), WithClickEndpoint("/t/c"))

	pixelURL, err := c.GeneratePixelURL(Params{LeadID: "L1", MessageID: "M1"})
	if err != nil {
		t.Fatalf("GeneratePixelURL() error = %v", err)
	}
	if !strings.HasPrefix(pixelURL, "https://track.example.com/t/o?t=") {
		t.Errorf("pixel URL = %q, want custom endpoint", pixelURL)
	}

	clickURL, err := c.GenerateClickURL(Params{LeadID: "L1", MessageID: "M1", TargetURL: "https://example.com"})
	if err != nil {
		t.Fatalf("GenerateClickURL() error = %v", err)
	}
	if !strings.HasPrefix(clickURL, "https://track.example.com/t/c?t=") {
		t.Errorf("click URL = %q, want custom endpoint", clickURL)
	}
}
