// Copyright 2025 GeoPulse
// SPDX-License-Identifier: Apache-2.0

package scoring

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"

	"geopulse/platform/scoring/llm"
)

func newTestRouter(svc *ScoringService) *mux.Router {
	router := mux.NewRouter()
	NewServer(svc).RegisterRoutes(router)
	return router
}

func doRequest(t *testing.T, router *mux.Router, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(newTestService(newMemStore(nil, nil), echoProvider(0), 1))

	rec := doRequest(t, router, "GET", "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "healthy" {
		t.Errorf("status field = %v", body["status"])
	}
}

func TestStartScoringEndpoint(t *testing.T) {
	store := newMemStore(testCountries(3), &testScenario)
	router := newTestRouter(newTestService(store, echoProvider(0.4), 1))

	rec := doRequest(t, router, "POST", "/api/v1/scenarios/scn-1/score", []byte(`{"grounded":false}`))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var job ScoringJob
	if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
		t.Fatal(err)
	}
	if job.ID == "" || job.ScenarioID != "scn-1" {
		t.Errorf("unexpected job payload %+v", job)
	}
	if job.TotalBatches != 2 {
		t.Errorf("total batches = %d, want 2", job.TotalBatches)
	}
}

func TestStartScoringEndpointEmptyBody(t *testing.T) {
	store := newMemStore(testCountries(2), &testScenario)
	router := newTestRouter(newTestService(store, echoProvider(0.4), 1))

	// No body at all defaults to an ungrounded run.
	rec := doRequest(t, router, "POST", "/api/v1/scenarios/scn-1/score", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestStartScoringEndpointBadBody(t *testing.T) {
	store := newMemStore(testCountries(2), &testScenario)
	router := newTestRouter(newTestService(store, echoProvider(0), 1))

	rec := doRequest(t, router, "POST", "/api/v1/scenarios/scn-1/score", []byte(`{not json`))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestStartScoringEndpointUnknownScenario(t *testing.T) {
	store := newMemStore(testCountries(2), &testScenario)
	router := newTestRouter(newTestService(store, echoProvider(0), 1))

	rec := doRequest(t, router, "POST", "/api/v1/scenarios/ghost/score", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestJobPollingEndpoint(t *testing.T) {
	store := newMemStore(testCountries(2), &testScenario)
	svc := newTestService(store, echoProvider(0.4), 1)
	router := newTestRouter(svc)

	rec := doRequest(t, router, "POST", "/api/v1/scenarios/scn-1/score", nil)
	var job ScoringJob
	if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
		t.Fatal(err)
	}

	waitForTerminal(t, svc, job.ID)

	rec = doRequest(t, router, "GET", "/api/v1/jobs/"+job.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var polled ScoringJob
	if err := json.Unmarshal(rec.Body.Bytes(), &polled); err != nil {
		t.Fatal(err)
	}
	if polled.Status != JobStatusCompleted || polled.Progress != 100 {
		t.Errorf("unexpected polled job %+v", polled)
	}
}

func TestJobEndpointNotFound(t *testing.T) {
	router := newTestRouter(newTestService(newMemStore(nil, nil), echoProvider(0), 1))

	rec := doRequest(t, router, "GET", "/api/v1/jobs/does-not-exist", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestGetScoresEndpoint(t *testing.T) {
	store := newMemStore(testCountries(2), &testScenario)
	store.scores["France"] = CountryScore{CountryName: "France", Score: 0.5, Reasoning: "aligned"}
	router := newTestRouter(newTestService(store, echoProvider(0), 1))

	rec := doRequest(t, router, "GET", "/api/v1/scenarios/scn-1/scores", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body struct {
		ScenarioID string         `json:"scenario_id"`
		Scores     []CountryScore `json:"scores"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.ScenarioID != "scn-1" || len(body.Scores) != 1 {
		t.Errorf("unexpected payload %+v", body)
	}
}

func TestGetScoresEndpointEmpty(t *testing.T) {
	store := newMemStore(testCountries(2), &testScenario)
	router := newTestRouter(newTestService(store, echoProvider(0), 1))

	rec := doRequest(t, router, "GET", "/api/v1/scenarios/scn-1/scores", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	// Empty result is an empty array, not null.
	if !bytes.Contains(rec.Body.Bytes(), []byte(`"scores":[]`)) {
		t.Errorf("expected empty scores array, got %s", rec.Body.String())
	}
}

func TestRerunMissingEndpointNothingMissing(t *testing.T) {
	countries := testCountries(2)
	store := newMemStore(countries, &testScenario)
	for _, c := range countries {
		store.scores[c] = CountryScore{CountryName: c, Score: 0.1}
	}
	router := newTestRouter(newTestService(store, echoProvider(0), 1))

	rec := doRequest(t, router, "POST", "/api/v1/scenarios/scn-1/rerun-missing", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for nothing-to-do", rec.Code)
	}
}

func TestProviderStatusEndpoint(t *testing.T) {
	provider := echoProvider(0)
	svc := NewScoringService(ServiceConfig{
		Reference: newMemStore(nil, nil),
		Scores:    newMemStore(nil, nil),
		Tracker:   NewJobTracker(),
		Providers: []llm.Provider{provider},
	})
	router := newTestRouter(svc)

	rec := doRequest(t, router, "GET", "/api/v1/providers/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body struct {
		Providers []ProviderStatus `json:"providers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Providers) != 1 || body.Providers[0].Name != "openai" {
		t.Errorf("unexpected providers payload %+v", body.Providers)
	}
}
