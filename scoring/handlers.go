// Copyright 2025 GeoPulse
// SPDX-License-Identifier: Apache-2.0

package scoring

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"geopulse/platform/shared/logger"
)

// Server exposes the scoring pipeline over HTTP.
type Server struct {
	service *ScoringService
	logger  *logger.Logger
	started time.Time
}

// NewServer creates a Server around a scoring service.
func NewServer(service *ScoringService) *Server {
	return &Server{
		service: service,
		logger:  logger.New("scoring-api"),
		started: time.Now().UTC(),
	}
}

// RegisterRoutes attaches all scoring endpoints to the router.
func (s *Server) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health", s.healthHandler).Methods("GET")
	router.HandleFunc("/metrics", s.metricsHandler).Methods("GET")

	router.HandleFunc("/api/v1/scenarios/{id}/score", s.startScoringHandler).Methods("POST")
	router.HandleFunc("/api/v1/scenarios/{id}/rerun-missing", s.rerunMissingHandler).Methods("POST")
	router.HandleFunc("/api/v1/scenarios/{id}/scores", s.getScoresHandler).Methods("GET")
	router.HandleFunc("/api/v1/jobs/{id}", s.getJobHandler).Methods("GET")
	router.HandleFunc("/api/v1/providers/status", s.providerStatusHandler).Methods("GET")
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"service":   "geopulse-scorer",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service":        "geopulse-scorer",
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"timestamp":      time.Now().UTC(),
	})
}

func (s *Server) startScoringHandler(w http.ResponseWriter, r *http.Request) {
	scenarioID := mux.Vars(r)["id"]

	opts, err := decodeScoreOptions(r.Body)
	if err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	job, err := s.service.StartScoring(r.Context(), scenarioID, opts)
	if err != nil {
		s.respondScenarioError(w, scenarioID, err)
		return
	}

	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) rerunMissingHandler(w http.ResponseWriter, r *http.Request) {
	scenarioID := mux.Vars(r)["id"]

	opts, err := decodeScoreOptions(r.Body)
	if err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	job, err := s.service.RerunMissing(r.Context(), scenarioID, opts)
	if errors.Is(err, ErrNoMissingCountries) {
		writeJSON(w, http.StatusOK, map[string]string{
			"message": "all countries already have scores for this scenario",
		})
		return
	}
	if err != nil {
		s.respondScenarioError(w, scenarioID, err)
		return
	}

	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) getScoresHandler(w http.ResponseWriter, r *http.Request) {
	scenarioID := mux.Vars(r)["id"]

	scores, err := s.service.GetScores(r.Context(), scenarioID)
	if err != nil {
		s.logger.ErrorWithCode(scenarioID, "", "Failed to load scores", http.StatusInternalServerError, err, nil)
		sendError(w, http.StatusInternalServerError, "failed to load scores")
		return
	}
	if scores == nil {
		scores = []CountryScore{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"scenario_id": scenarioID,
		"scores":      scores,
	})
}

func (s *Server) getJobHandler(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	job, ok := s.service.GetJob(jobID)
	if !ok {
		sendError(w, http.StatusNotFound, "job not found")
		return
	}

	writeJSON(w, http.StatusOK, job)
}

func (s *Server) providerStatusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"providers": s.service.ProviderStatuses(),
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) respondScenarioError(w http.ResponseWriter, scenarioID string, err error) {
	if errors.Is(err, ErrScenarioNotFound) {
		sendError(w, http.StatusNotFound, err.Error())
		return
	}
	s.logger.ErrorWithCode(scenarioID, "", "Scoring request failed", http.StatusInternalServerError, err, nil)
	sendError(w, http.StatusInternalServerError, err.Error())
}

// decodeScoreOptions parses the optional request body. An empty body means
// defaults: ungrounded, default model.
func decodeScoreOptions(body io.Reader) (ScoreOptions, error) {
	var opts ScoreOptions
	err := json.NewDecoder(body).Decode(&opts)
	if err == io.EOF {
		return ScoreOptions{}, nil
	}
	if err != nil {
		return ScoreOptions{}, err
	}
	return opts, nil
}

func writeJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func sendError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]interface{}{
		"error":  message,
		"status": statusCode,
	})
}
