package tracking

import (
	"fmt"
	"regexp"
	"strings"
)

// anchorHrefRe matches the href attribute of anchor tags. Double quotes
// cover what template engines emit; mail HTML rarely uses single-quoted
// attributes and those are left untouched.
var anchorHrefRe = regexp.MustCompile(`(?i)(<a\b[^>]*?href=")([^"]*)(")`)

// WrapOptions carries the attribution fields shared by every link in a
// message.
type WrapOptions struct {
	CampaignID string
	SequenceID string
	TemplateID string
	VariantID  string
	TestID     string
	Metadata   map[string]string
}

// WrapLinks rewrites every anchor href in the document with a signed click
// tracking URL. Fragment, mailto: and tel: links are skipped, as are links
// already pointing at the click endpoint. Each rewritten link gets a
// sequential id ("link-1", "link-2", ...).
func (c *Codec) WrapLinks(html, leadID, messageID string, opts WrapOptions) (string, error) {
	if leadID == "" {
		return "", fmt.Errorf("%w: leadId", ErrMissingParam)
	}
	if messageID == "" {
		return "", fmt.Errorf("%w: messageId", ErrMissingParam)
	}

	linkNum := 0
	result := anchorHrefRe.ReplaceAllStringFunc(html, func(match string) string {
		groups := anchorHrefRe.FindStringSubmatch(match)
		href := groups[2]
		if skipHref(href) || c.isTracked(href) {
			return match
		}

		linkNum++
		tracked, err := c.GenerateClickURL(Params{
			LeadID:     leadID,
			MessageID:  messageID,
			CampaignID: opts.CampaignID,
			SequenceID: opts.SequenceID,
			TemplateID: opts.TemplateID,
			VariantID:  opts.VariantID,
			TestID:     opts.TestID,
			LinkID:     fmt.Sprintf("link-%d", linkNum),
			TargetURL:  href,
			Metadata:   opts.Metadata,
		})
		if err != nil {
			return match
		}
		return groups[1] + tracked + groups[3]
	})

	return result, nil
}

// InsertPixel places the open-tracking pixel immediately before the closing
// body tag, or appends it when the document has no body tag.
func (c *Codec) InsertPixel(html string, p Params) (string, error) {
	pixel, err := c.PixelHTML(p)
	if err != nil {
		return "", err
	}

	lower := strings.ToLower(html)
	if idx := strings.LastIndex(lower, "</body>"); idx >= 0 {
		return html[:idx] + pixel + html[idx:], nil
	}
	return html + pixel, nil
}

// ApplyTracking is the single call a message sender needs: it wraps links
// with click tracking, then inserts the open pixel.
func (c *Codec) ApplyTracking(html string, p Params) (string, error) {
	wrapped, err := c.WrapLinks(html, p.LeadID, p.MessageID, WrapOptions{
		CampaignID: p.CampaignID,
		SequenceID: p.SequenceID,
		TemplateID: p.TemplateID,
		VariantID:  p.VariantID,
		TestID:     p.TestID,
		Metadata:   p.Metadata,
	})
	if err != nil {
		return "", err
	}
	return c.InsertPixel(wrapped, p)
}

func skipHref(href string) bool {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return true
	}
	lower := strings.ToLower(href)
	return strings.HasPrefix(lower, "mailto:") || strings.HasPrefix(lower, "tel:")
}

func (c *Codec) isTracked(href string) bool {
	return strings.HasPrefix(href, c.baseURL+c.clickEndpoint+"?") ||
		strings.HasPrefix(href, c.baseURL+c.pixelEndpoint+"?")
}
