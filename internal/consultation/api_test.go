package consultation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/telehealth/platform/internal/availability"
	"github.com/telehealth/platform/internal/matching"
	"github.com/telehealth/platform/internal/shared/auth"
	"github.com/telehealth/platform/internal/shared/config"
)

// testServer mounts the consultation and availability routes the way
// the entrypoint does, with a header-driven test identity instead of
// JWTs
func testServer(t *testing.T) (*httptest.Server, *availability.Registry) {
	t.Helper()

	registry := availability.NewRegistry(nil, config.RegistryConfig{})
	engine := matching.NewEngine(registry, config.MatchingConfig{})
	service := NewService(NewMemoryRepository(), registry, engine, nil, nil)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if username := req.Header.Get("X-Test-User"); username != "" {
				user := &auth.User{
					Username: username,
					Role:     req.Header.Get("X-Test-Role"),
				}
				req = req.WithContext(auth.WithUser(req.Context(), user))
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Mount("/consultations", NewHandler(service).Routes())
	r.Mount("/doctors", availability.NewHandler(registry, nil).Routes())

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, registry
}

func doRequest(t *testing.T, srv *httptest.Server, method, path, username, role string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req, err := http.NewRequest(method, srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if username != "" {
		req.Header.Set("X-Test-User", username)
		req.Header.Set("X-Test-Role", role)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestConsultationFlowOverHTTP(t *testing.T) {
	srv, registry := testServer(t)
	ctx := context.Background()

	if _, err := registry.SetAvailability(ctx, "dr-house", true, []string{"Cardiology"}); err != nil {
		t.Fatal(err)
	}

	// Patient creates a request
	resp, body := doRequest(t, srv, http.MethodPost, "/consultations/", "alice", auth.RolePatient, map[string]any{
		"category":    "Cardiology",
		"description": "irregular heartbeat",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: got %d, body %v", resp.StatusCode, body)
	}
	if body["status"] != "assigned" {
		t.Errorf("expected assigned, got %v", body["status"])
	}
	if body["assigned_doctor_username"] != "dr-house" {
		t.Errorf("expected dr-house, got %v", body["assigned_doctor_username"])
	}
	requestID := body["id"].(string)

	// Doctor accepts
	resp, body = doRequest(t, srv, http.MethodPatch,
		fmt.Sprintf("/consultations/%s/status", requestID),
		"dr-house", auth.RoleDoctor, map[string]any{"status": "accepted"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("accept: got %d, body %v", resp.StatusCode, body)
	}

	// Stranger cannot read it
	resp, _ = doRequest(t, srv, http.MethodGet,
		fmt.Sprintf("/consultations/%s/", requestID), "mallory", auth.RolePatient, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("stranger read: got %d, want 403", resp.StatusCode)
	}

	// Doctor completes, releasing the slot
	resp, _ = doRequest(t, srv, http.MethodPatch,
		fmt.Sprintf("/consultations/%s/status", requestID),
		"dr-house", auth.RoleDoctor, map[string]any{"status": "completed"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("complete: got %d", resp.StatusCode)
	}

	doctor, _ := registry.GetDoctor(ctx, "dr-house")
	if doctor.CurrentLoad != 0 {
		t.Errorf("expected released slot, load %d", doctor.CurrentLoad)
	}

	// Completed is terminal
	resp, body = doRequest(t, srv, http.MethodPatch,
		fmt.Sprintf("/consultations/%s/status", requestID),
		"dr-house", auth.RoleDoctor, map[string]any{"status": "cancelled"})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("terminal transition: got %d, want 409, body %v", resp.StatusCode, body)
	}
	if body["code"] != "INVALID_TRANSITION" {
		t.Errorf("expected INVALID_TRANSITION, got %v", body["code"])
	}
}

func TestCreateUnknownCategoryOverHTTP(t *testing.T) {
	srv, _ := testServer(t)

	resp, body := doRequest(t, srv, http.MethodPost, "/consultations/", "alice", auth.RolePatient, map[string]any{
		"category":    "Alchemy",
		"description": "lead into gold",
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("got %d, want 404", resp.StatusCode)
	}
	if body["code"] != "INVALID_CATEGORY" {
		t.Errorf("expected INVALID_CATEGORY, got %v", body["code"])
	}
}

func TestCreateRequiresPatientRole(t *testing.T) {
	srv, _ := testServer(t)

	// No identity
	resp, _ := doRequest(t, srv, http.MethodPost, "/consultations/", "", "", map[string]any{
		"category":    "Cardiology",
		"description": "x",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("anonymous: got %d, want 401", resp.StatusCode)
	}

	// Doctor role cannot open patient requests
	resp, _ = doRequest(t, srv, http.MethodPost, "/consultations/", "dr-a", auth.RoleDoctor, map[string]any{
		"category":    "Cardiology",
		"description": "x",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("doctor create: got %d, want 403", resp.StatusCode)
	}
}

func TestAvailabilityEndpoints(t *testing.T) {
	srv, _ := testServer(t)

	// Doctor goes online
	resp, body := doRequest(t, srv, http.MethodPost, "/doctors/availability", "dr-grey", auth.RoleDoctor, map[string]any{
		"is_online":   true,
		"specialties": []string{"Dermatology"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set availability: got %d, body %v", resp.StatusCode, body)
	}

	// Patients cannot set availability
	resp, _ = doRequest(t, srv, http.MethodPost, "/doctors/availability", "alice", auth.RolePatient, map[string]any{
		"is_online": true,
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("patient set availability: got %d, want 403", resp.StatusCode)
	}

	// Query available doctors
	resp, body = doRequest(t, srv, http.MethodGet, "/doctors/available?specialties=Dermatology", "", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("available: got %d", resp.StatusCode)
	}
	if body["total"].(float64) != 1 {
		t.Errorf("expected one doctor, got %v", body["total"])
	}
}
