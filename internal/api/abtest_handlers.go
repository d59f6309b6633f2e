package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/email-insights/internal/event"
	"github.com/ignite/email-insights/internal/experiment"
	"github.com/ignite/email-insights/internal/pkg/logger"
)

func (s *Server) handleCreateTest(w http.ResponseWriter, r *http.Request) {
	var in experiment.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	t, err := s.experiments.CreateTest(r.Context(), in)
	if err != nil {
		writeExperimentError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, t)
}

func (s *Server) handleListTests(w http.ResponseWriter, r *http.Request) {
	tests, err := s.experiments.ListTests(r.Context())
	if err != nil {
		writeExperimentError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"tests": tests,
		"total": len(tests),
	})
}

func (s *Server) handleGetTest(w http.ResponseWriter, r *http.Request) {
	t, err := s.experiments.GetTest(r.Context(), chi.URLParam(r, "testID"))
	if err != nil {
		writeExperimentError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

func (s *Server) handleUpdateTest(w http.ResponseWriter, r *http.Request) {
	var in experiment.UpdateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	t, err := s.experiments.UpdateTest(r.Context(), chi.URLParam(r, "testID"), in)
	if err != nil {
		writeExperimentError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

func (s *Server) handleStartTest(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, s.experiments.StartTest)
}

func (s *Server) handlePauseTest(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, s.experiments.PauseTest)
}

func (s *Server) handleArchiveTest(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, s.experiments.ArchiveTest)
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id string) (bool, error)) {
	id := chi.URLParam(r, "testID")
	changed, err := fn(r.Context(), id)
	if err != nil {
		writeExperimentError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"test_id": id,
		"changed": changed,
	})
}

func (s *Server) handleCompleteTest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		WinnerVariantID  string `json:"winner_variant_id"`
		CompletionReason string `json:"completion_reason"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&body)
	}

	id := chi.URLParam(r, "testID")
	changed, err := s.experiments.CompleteTest(r.Context(), id, body.WinnerVariantID, body.CompletionReason)
	if err != nil {
		writeExperimentError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"test_id": id,
		"changed": changed,
	})
}

func (s *Server) handleAssignVariant(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	a, err := s.experiments.AssignVariant(r.Context(), chi.URLParam(r, "testID"), body.UserID)
	if err != nil {
		writeExperimentError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, a)
}

func (s *Server) handleTestResults(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.experiments.Results(r.Context(), chi.URLParam(r, "testID"), f, s.events)
	if err != nil {
		writeExperimentError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleCompareVariants(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	a, b := q.Get("a"), q.Get("b")
	if a == "" || b == "" {
		respondError(w, http.StatusBadRequest, "query parameters a and b are required")
		return
	}

	f, err := parseFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	cmp, err := s.experiments.CompareVariants(r.Context(), chi.URLParam(r, "testID"), a, b, f, s.events)
	if err != nil {
		writeExperimentError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, cmp)
}

func writeExperimentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, experiment.ErrTestNotFound):
		respondError(w, http.StatusNotFound, "test not found")
	case errors.Is(err, experiment.ErrInvalidTestDefinition):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, experiment.ErrTestLocked), errors.Is(err, experiment.ErrTestNotRunning):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, event.ErrStorageUnavailable):
		logger.Error("experiment storage unavailable", "error", err.Error())
		respondError(w, http.StatusServiceUnavailable, "storage unavailable")
	default:
		logger.Error("experiment request failed", "error", err.Error())
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
