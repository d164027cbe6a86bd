package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/proctor/internal/followup"
)

const maxFollowUpPage = 200

func (s *Server) handleListFollowUps(w http.ResponseWriter, r *http.Request) {
	opts := followup.ListOptions{Limit: 50}
	q := r.URL.Query()
	if v := strings.TrimSpace(q.Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		if n > maxFollowUpPage {
			n = maxFollowUpPage
		}
		opts.Limit = n
	}
	if v := strings.TrimSpace(q.Get("include_resolved")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_include_resolved", "include_resolved must be a boolean")
			return
		}
		opts.IncludeResolved = b
	}

	records, err := s.followups.List(r.Context(), opts)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "followup_store_error", err.Error())
		return
	}
	if records == nil {
		records = []followup.Record{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"followups": records})
}

func (s *Server) handleGetFollowUp(w http.ResponseWriter, r *http.Request) {
	rec, err := s.followups.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondFollowUpError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// handleResolveFollowUp marks a completion as handled out of band.
func (s *Server) handleResolveFollowUp(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.followups.Resolve(r.Context(), id); err != nil {
		s.respondFollowUpError(w, err)
		return
	}
	rec, err := s.followups.Get(r.Context(), id)
	if err != nil {
		s.respondFollowUpError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) respondFollowUpError(w http.ResponseWriter, err error) {
	if errors.Is(err, followup.ErrNotFound) {
		respondError(w, http.StatusNotFound, "followup_not_found", err.Error())
		return
	}
	respondError(w, http.StatusInternalServerError, "followup_store_error", err.Error())
}
