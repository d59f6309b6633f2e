// Package tracking builds and parses the signed pixel and click-redirect
// URLs embedded in outgoing email. The redirect destination travels inside
// the signed payload, so it cannot be tampered with independently of the
// signature.
package tracking

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/ignite/email-insights/internal/signing"
)

// Defaults for the public tracking endpoints.
const (
	DefaultPixelEndpoint = "/track/open"
	DefaultClickEndpoint = "/track/click"
)

var (
	// ErrMissingParam is wrapped with the missing field name.
	ErrMissingParam = errors.New("tracking: missing required parameter")
	// ErrNoBaseURL is fatal at construction time.
	ErrNoBaseURL = errors.New("tracking: base URL is required")
)

// Short payload field names keep tokens small enough for query strings.
const (
	fieldLead     = "lid"
	fieldMessage  = "mid"
	fieldCampaign = "cid"
	fieldSequence = "sid"
	fieldTemplate = "tpl"
	fieldVariant  = "vid"
	fieldTest     = "abid"
	fieldLink     = "lk"
	fieldTarget   = "url"
	fieldMeta     = "meta"
)

// Params identifies the message a tracking URL instruments.
type Params struct {
	LeadID     string
	MessageID  string
	CampaignID string
	SequenceID string
	TemplateID string
	VariantID  string
	TestID     string
	LinkID     string
	TargetURL  string // click tracking only
	Metadata   map[string]string
}

// ParsedTrackingData is the decoded form of a tracking token. Invalid and
// malformed tokens both come back as Valid=false; only Expired
// distinguishes a stale-but-authentic token.
type ParsedTrackingData struct {
	Valid      bool              `json:"valid"`
	Expired    bool              `json:"expired"`
	LeadID     string            `json:"lead_id,omitempty"`
	MessageID  string            `json:"message_id,omitempty"`
	CampaignID string            `json:"campaign_id,omitempty"`
	SequenceID string            `json:"sequence_id,omitempty"`
	TemplateID string            `json:"template_id,omitempty"`
	VariantID  string            `json:"variant_id,omitempty"`
	TestID     string            `json:"test_id,omitempty"`
	LinkID     string            `json:"link_id,omitempty"`
	TargetURL  string            `json:"target_url,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// Codec builds and parses tracking URLs for a fixed base URL and signer.
type Codec struct {
	signer        *signing.Signer
	baseURL       string
	pixelEndpoint string
	clickEndpoint string
}

// CodecOption configures a Codec.
type CodecOption func(*Codec)

// WithPixelEndpoint overrides the open-tracking path.
func WithPixelEndpoint(path string) CodecOption {
	return func(c *Codec) { c.pixelEndpoint = path }
}

// WithClickEndpoint overrides the click-tracking path.
func WithClickEndpoint(path string) CodecOption {
	return func(c *Codec) { c.clickEndpoint = path }
}

// NewCodec creates a Codec. The base URL is required; trailing slashes are
// trimmed so endpoint paths concatenate cleanly.
func NewCodec(signer *signing.Signer, baseURL string, opts ...CodecOption) (*Codec, error) {
	if baseURL == "" {
		return nil, ErrNoBaseURL
	}
	c := &Codec{
		signer:        signer,
		baseURL:       strings.TrimRight(baseURL, "/"),
		pixelEndpoint: DefaultPixelEndpoint,
		clickEndpoint: DefaultClickEndpoint,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// GeneratePixelURL returns the open-tracking pixel URL for a message.
func (c *Codec) GeneratePixelURL(p Params) (string, error) {
	if err := p.validate(false); err != nil {
		return "", err
	}
	return c.buildURL(c.pixelEndpoint, p)
}

// PixelHTML returns a 1x1 invisible image tag wrapping the pixel URL.
func (c *Codec) PixelHTML(p Params) (string, error) {
	pixelURL, err := c.GeneratePixelURL(p)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`<img src="%s" width="1" height="1" style="display:none;border:0;" alt="" />`, pixelURL), nil
}

// GenerateClickURL returns a click-tracking redirect URL. The target URL is
// part of the signed payload.
func (c *Codec) GenerateClickURL(p Params) (string, error) {
	if err := p.validate(true); err != nil {
		return "", err
	}
	return c.buildURL(c.clickEndpoint, p)
}

// ParseToken verifies and decodes a tracking token. It never panics; any
// failure yields Valid=false with an error string.
func (c *Codec) ParseToken(token string) ParsedTrackingData {
	v := c.signer.VerifyToken(token)
	if !v.Valid {
		return ParsedTrackingData{Error: v.Err}
	}

	data := ParsedTrackingData{
		Valid:      true,
		Expired:    v.Expired,
		LeadID:     stringField(v.Data, fieldLead),
		MessageID:  stringField(v.Data, fieldMessage),
		CampaignID: stringField(v.Data, fieldCampaign),
		SequenceID: stringField(v.Data, fieldSequence),
		TemplateID: stringField(v.Data, fieldTemplate),
		VariantID:  stringField(v.Data, fieldVariant),
		TestID:     stringField(v.Data, fieldTest),
		LinkID:     stringField(v.Data, fieldLink),
		TargetURL:  stringField(v.Data, fieldTarget),
	}

	if meta, ok := v.Data[fieldMeta].(map[string]interface{}); ok {
		data.Metadata = make(map[string]string, len(meta))
		for k, raw := range meta {
			if s, ok := raw.(string); ok {
				data.Metadata[k] = s
			}
		}
	}

	return data
}

func (p Params) validate(needTarget bool) error {
	if p.LeadID == "" {
		return fmt.Errorf("%w: leadId", ErrMissingParam)
	}
	if p.MessageID == "" {
		return fmt.Errorf("%w: messageId", ErrMissingParam)
	}
	if needTarget && p.TargetURL == "" {
		return fmt.Errorf("%w: targetUrl", ErrMissingParam)
	}
	return nil
}

func (c *Codec) buildURL(endpoint string, p Params) (string, error) {
	token, err := c.signer.CreateToken(p.payload(), true)
	if err != nil {
		return "", err
	}
	return c.baseURL + endpoint + "?t=" + url.QueryEscape(token), nil
}

func (p Params) payload() map[string]interface{} {
	body := map[string]interface{}{
		fieldLead:    p.LeadID,
		fieldMessage: p.MessageID,
	}
	setIf(body, fieldCampaign, p.CampaignID)
	setIf(body, fieldSequence, p.SequenceID)
	setIf(body, fieldTemplate, p.TemplateID)
	setIf(body, fieldVariant, p.VariantID)
	setIf(body, fieldTest, p.TestID)
	setIf(body, fieldLink, p.LinkID)
	setIf(body, fieldTarget, p.TargetURL)
	if len(p.Metadata) > 0 {
		body[fieldMeta] = p.Metadata
	}
	return body
}

func setIf(body map[string]interface{}, key, val string) {
	if val != "" {
		body[key] = val
	}
}

func stringField(data map[string]interface{}, key string) string {
	s, _ := data[key].(string)
	return s
}
