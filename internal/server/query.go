package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ragmag/ragmag-go/internal/engine"
)

// Query validation bounds.
const (
	maxQueryChars = 1000
	maxTopK       = 20
)

// handleQuery handles POST /api/query: retrieve the most relevant manual
// pages and generate a grounded answer.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query must not be empty", "")
		return
	}
	if utf8.RuneCountInString(req.Query) > maxQueryChars {
		writeError(w, http.StatusBadRequest, "query too long", "queries are limited to 1000 characters")
		return
	}
	if req.TopK < 0 || req.TopK > maxTopK {
		writeError(w, http.StatusBadRequest, "top_k out of range", "top_k must be between 1 and 20")
		return
	}

	includeImages := true
	if req.IncludeImages != nil {
		includeImages = *req.IncludeImages
	}

	start := time.Now()
	ans, err := s.asker.Ask(r.Context(), engine.Query{
		Text:          req.Query,
		TopK:          req.TopK,
		IncludeImages: includeImages,
	})
	elapsed := time.Since(start)

	switch {
	case errors.Is(err, engine.ErrNoResults):
		s.recordQuery(outcomeNotFound, elapsed)
		writeError(w, http.StatusNotFound, "no relevant pages found", "ingest documents before querying")
		return
	case err != nil:
		s.recordQuery(outcomeError, elapsed)
		writeError(w, http.StatusInternalServerError, "query failed", err.Error())
		return
	}

	s.recordQuery(outcomeOK, elapsed)
	writeJSON(w, http.StatusOK, queryResponse{
		Answer:    ans.Text,
		Sources:   ans.Sources,
		ElapsedMS: ans.Elapsed.Milliseconds(),
	})
}

// recordQuery updates the query outcome metrics.
func (s *Server) recordQuery(outcome string, elapsed time.Duration) {
	s.metrics.queryRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.queryDurationSeconds.WithLabelValues(outcome).Observe(elapsed.Seconds())
}
