package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func resetHealth() {
	registry = &healthRegistry{
		components: make(map[string]ComponentHealth),
		startTime:  time.Now(),
	}
}

func TestGetHealth(t *testing.T) {
	resetHealth()

	SetComponent("storage", true, "")
	SetComponent("api", true, "")

	health := GetHealth()
	if health.Status != "healthy" {
		t.Errorf("Status = %q, want healthy", health.Status)
	}
	if health.Components["storage"] != "healthy" {
		t.Errorf("storage component = %q, want healthy", health.Components["storage"])
	}

	SetComponent("storage", false, "db file locked")

	health = GetHealth()
	if health.Status != "unhealthy" {
		t.Errorf("Status = %q, want unhealthy", health.Status)
	}
	if health.Components["storage"] != "unhealthy: db file locked" {
		t.Errorf("storage component = %q, want failure message", health.Components["storage"])
	}
}

func TestGetReadiness(t *testing.T) {
	resetHealth()

	readiness := GetReadiness()
	if readiness.Status != "not_ready" {
		t.Errorf("Status = %q, want not_ready before registration", readiness.Status)
	}
	if readiness.Components["storage"] != "not registered" {
		t.Errorf("storage component = %q, want not registered", readiness.Components["storage"])
	}

	SetComponent("storage", true, "")
	SetComponent("api", true, "")

	readiness = GetReadiness()
	if readiness.Status != "ready" {
		t.Errorf("Status = %q, want ready", readiness.Status)
	}

	SetComponent("api", false, "listener closed")

	readiness = GetReadiness()
	if readiness.Status != "not_ready" {
		t.Errorf("Status = %q, want not_ready after api failure", readiness.Status)
	}
	if readiness.Message != "waiting for api" {
		t.Errorf("Message = %q, want waiting for api", readiness.Message)
	}
}

func TestHealthHandler(t *testing.T) {
	resetHealth()
	SetComponent("storage", true, "")

	rec := httptest.NewRecorder()
	HealthHandler()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}

	var body HealthStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body.Status != "healthy" {
		t.Errorf("body status = %q, want healthy", body.Status)
	}

	SetComponent("storage", false, "gone")

	rec = httptest.NewRecorder()
	HealthHandler()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestReadyHandler(t *testing.T) {
	resetHealth()

	rec := httptest.NewRecorder()
	ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 before components register", rec.Code)
	}

	SetComponent("storage", true, "")
	SetComponent("api", true, "")

	rec = httptest.NewRecorder()
	ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 once critical components are up", rec.Code)
	}
}

func TestLivenessHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body["status"] != "alive" {
		t.Errorf("status field = %q, want alive", body["status"])
	}
}
