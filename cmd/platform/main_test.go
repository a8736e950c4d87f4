package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/telehealth/platform/internal/availability"
	"github.com/telehealth/platform/internal/consultation"
	"github.com/telehealth/platform/internal/matching"
	"github.com/telehealth/platform/internal/shared/config"
)

func TestStatsHandlerCombinesSources(t *testing.T) {
	ctx := context.Background()
	registry := availability.NewRegistry(nil, config.RegistryConfig{})
	engine := matching.NewEngine(registry, config.MatchingConfig{})
	service := consultation.NewService(consultation.NewMemoryRepository(), registry, engine, nil, nil)

	if _, err := registry.SetAvailability(ctx, "dr-a", true, []string{"Cardiology"}); err != nil {
		t.Fatal(err)
	}
	if _, err := service.Create(ctx, "alice", consultation.CreateRequestInput{
		Category:    "Cardiology",
		Description: "checkup",
	}); err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	statsHandler(registry, service)(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, want 200", rec.Code)
	}

	var body struct {
		Doctors  availability.Stats        `json:"doctors"`
		Requests consultation.RequestStats `json:"requests"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Doctors.OnlineDoctors != 1 {
		t.Errorf("online doctors: got %d, want 1", body.Doctors.OnlineDoctors)
	}
	if body.Requests.Total != 1 {
		t.Errorf("request total: got %d, want 1", body.Requests.Total)
	}
}
