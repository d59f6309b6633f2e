package api

import (
	"net/http"

	"github.com/ignite/email-insights/internal/event"
	"github.com/ignite/email-insights/internal/pkg/logger"
)

// 1x1 transparent GIF
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x2c,
	0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02,
	0x02, 0x44, 0x01, 0x00, 0x3b,
}

// handleTrackOpen serves the pixel unconditionally. A missing, tampered or
// expired token still gets the image, so the response never tells a
// scanner whether its token was accepted.
func (s *Server) handleTrackOpen(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("t")
	if token == "" {
		s.servePixel(w)
		return
	}

	data := s.codec.ParseToken(token)
	if !data.Valid || data.Expired {
		s.servePixel(w)
		return
	}

	if _, err := s.events.RecordOpen(r.Context(), event.RecordInput{
		LeadID:     data.LeadID,
		MessageID:  data.MessageID,
		CampaignID: data.CampaignID,
		SequenceID: data.SequenceID,
		TemplateID: data.TemplateID,
		VariantID:  data.VariantID,
		TestID:     data.TestID,
		UserAgent:  r.UserAgent(),
		IPAddress:  realIP(r),
		Metadata:   data.Metadata,
	}); err != nil {
		// Recording failure must not break image rendering in the client
		logger.Error("record open failed", "error", err.Error())
	}

	s.servePixel(w)
}

// handleTrackClick records the click and redirects to the embedded target.
// An unverifiable token falls back to the configured home URL so the
// recipient still lands somewhere, without confirming anything about the
// token itself.
func (s *Server) handleTrackClick(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("t")
	data := s.codec.ParseToken(token)

	if !data.Valid || data.Expired || data.TargetURL == "" {
		if s.homeURL != "" {
			http.Redirect(w, r, s.homeURL, http.StatusTemporaryRedirect)
			return
		}
		http.NotFound(w, r)
		return
	}

	if _, err := s.events.RecordClick(r.Context(), event.RecordInput{
		LeadID:     data.LeadID,
		MessageID:  data.MessageID,
		CampaignID: data.CampaignID,
		SequenceID: data.SequenceID,
		TemplateID: data.TemplateID,
		VariantID:  data.VariantID,
		TestID:     data.TestID,
		Data: event.EventData{
			LinkID:    data.LinkID,
			TargetURL: data.TargetURL,
		},
		UserAgent: r.UserAgent(),
		IPAddress: realIP(r),
		Metadata:  data.Metadata,
	}); err != nil {
		logger.Error("record click failed", "error", err.Error())
	}

	http.Redirect(w, r, data.TargetURL, http.StatusTemporaryRedirect)
}

func (s *Server) servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Write(pixelGIF)
}
