package cli

import (
	"depwise/internal/core/app"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestObservabilityServer_Health(t *testing.T) {
	srv := NewObservabilityServer("127.0.0.1:0")
	h := srv.handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status before first check = %d", rec.Code)
	}

	srv.Observe(&app.Report{Status: app.StatusProblems, RunID: "r1", Summary: map[string]int{"missing": 2}}, nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	var got healthStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Status != "problems" || got.RunID != "r1" || got.Summary["missing"] != 2 {
		t.Fatalf("unexpected health %+v", got)
	}

	srv.Observe(nil, errors.New("no manifest"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status after failed check = %d, want 503", rec.Code)
	}
}

func TestObservabilityServer_Metrics(t *testing.T) {
	rec := httptest.NewRecorder()
	NewObservabilityServer("").handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
}
