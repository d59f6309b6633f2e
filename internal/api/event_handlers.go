package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/email-insights/internal/event"
	"github.com/ignite/email-insights/internal/pkg/logger"
)

func (s *Server) handleRecordEvent(w http.ResponseWriter, r *http.Request) {
	var in event.RecordInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if in.IPAddress == "" {
		in.IPAddress = realIP(r)
	}

	e, err := s.events.RecordEvent(r.Context(), in)
	if err != nil {
		writeEventError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, e)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	q := r.URL.Query()
	srt := event.Sort{Field: q.Get("sort"), Desc: q.Get("order") == "desc"}
	page := event.Page{}
	if v := q.Get("page"); v != "" {
		page.Number, _ = strconv.Atoi(v)
	}
	if v := q.Get("limit"); v != "" {
		page.Limit, _ = strconv.Atoi(v)
	}

	res, err := s.events.List(r.Context(), f, srt, page)
	if err != nil {
		writeEventError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	m, err := s.events.Metrics(r.Context(), f)
	if err != nil {
		writeEventError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

func (s *Server) handleSequenceMetrics(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	m, err := s.events.SequenceMetrics(r.Context(), chi.URLParam(r, "sequenceID"), f)
	if err != nil {
		writeEventError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

func (s *Server) handleCampaignMetrics(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	m, err := s.events.CampaignMetrics(r.Context(), chi.URLParam(r, "campaignID"), f)
	if err != nil {
		writeEventError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

// parseFilter builds an event filter from query parameters. Unknown
// parameters are ignored; malformed dates and numbers are errors so a bad
// dashboard query fails loudly instead of silently returning everything.
func parseFilter(r *http.Request) (event.Filter, error) {
	q := r.URL.Query()
	f := event.Filter{
		LeadID:       q.Get("lead_id"),
		MessageID:    q.Get("message_id"),
		EmailAddress: q.Get("email"),
		CampaignID:   q.Get("campaign_id"),
		SequenceID:   q.Get("sequence_id"),
		TemplateID:   q.Get("template_id"),
		VariantID:    q.Get("variant_id"),
		TestID:       q.Get("test_id"),
		LinkID:       q.Get("link_id"),
		DeviceType:   q.Get("device_type"),
		EmailClient:  q.Get("email_client"),
		Country:      q.Get("country"),
	}

	for _, raw := range q["type"] {
		t := event.Type(raw)
		if !t.Valid() {
			return f, errors.New("unknown event type " + strconv.Quote(raw))
		}
		f.Types = append(f.Types, t)
	}

	if v := q.Get("sequence_step"); v != "" {
		step, err := strconv.Atoi(v)
		if err != nil {
			return f, errors.New("invalid sequence_step")
		}
		f.SequenceStep = &step
	}
	if v := q.Get("from"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errors.New("invalid from date, want RFC3339")
		}
		f.From = &ts
	}
	if v := q.Get("to"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errors.New("invalid to date, want RFC3339")
		}
		f.To = &ts
	}
	if v := q.Get("min_conversion_value"); v != "" {
		val, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return f, errors.New("invalid min_conversion_value")
		}
		f.MinConversionValue = &val
	}
	if v := q.Get("max_conversion_value"); v != "" {
		val, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return f, errors.New("invalid max_conversion_value")
		}
		f.MaxConversionValue = &val
	}

	return f, nil
}

func writeEventError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, event.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, event.ErrStorageUnavailable):
		logger.Error("event storage unavailable", "error", err.Error())
		respondError(w, http.StatusServiceUnavailable, "storage unavailable")
	default:
		logger.Error("event request failed", "error", err.Error())
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
