package availability

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/telehealth/platform/internal/shared/config"
	apperrors "github.com/telehealth/platform/internal/shared/errors"
)

func newTestRegistry() *Registry {
	return NewRegistry(nil, config.RegistryConfig{
		DefaultMaxLoad:    5,
		DefaultQueryLimit: 20,
		MaxQueryLimit:     50,
	})
}

func TestSetAvailability(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry()

	doctor, err := reg.SetAvailability(ctx, "dr-house", true, []string{"Cardiology"})
	if err != nil {
		t.Fatalf("SetAvailability failed: %v", err)
	}
	if !doctor.IsOnline {
		t.Error("expected doctor to be online")
	}
	if doctor.CurrentLoad != 0 {
		t.Errorf("expected zero initial load, got %d", doctor.CurrentLoad)
	}
	if doctor.MaxLoad != 5 {
		t.Errorf("expected default max load 5, got %d", doctor.MaxLoad)
	}

	// Repeated call with the same values is idempotent
	again, err := reg.SetAvailability(ctx, "dr-house", true, []string{"Cardiology"})
	if err != nil {
		t.Fatalf("repeated SetAvailability failed: %v", err)
	}
	if again.CurrentLoad != 0 || again.MaxLoad != 5 {
		t.Errorf("repeated call changed load state: load=%d max=%d", again.CurrentLoad, again.MaxLoad)
	}

	// Going offline preserves load and specialties
	if err := reg.IncrementLoad(ctx, "dr-house"); err != nil {
		t.Fatalf("IncrementLoad failed: %v", err)
	}
	offline, err := reg.SetAvailability(ctx, "dr-house", false, nil)
	if err != nil {
		t.Fatalf("SetAvailability offline failed: %v", err)
	}
	if offline.IsOnline {
		t.Error("expected doctor to be offline")
	}
	if offline.CurrentLoad != 1 {
		t.Errorf("going offline changed load: got %d, want 1", offline.CurrentLoad)
	}
	if len(offline.Specialties) != 1 || offline.Specialties[0] != "Cardiology" {
		t.Errorf("going offline changed specialties: got %v", offline.Specialties)
	}
}

func TestSetAvailabilityValidation(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry()

	if _, err := reg.SetAvailability(ctx, "", true, nil); err == nil {
		t.Error("expected validation error for empty username")
	}
}

func TestSetMaxLoad(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry()

	doctor, err := reg.SetMaxLoad(ctx, "dr-grey", 3)
	if err != nil {
		t.Fatalf("SetMaxLoad failed: %v", err)
	}
	if doctor.MaxLoad != 3 {
		t.Errorf("expected max load 3, got %d", doctor.MaxLoad)
	}

	for _, bad := range []int{0, -1} {
		if _, err := reg.SetMaxLoad(ctx, "dr-grey", bad); err == nil {
			t.Errorf("expected validation error for max load %d", bad)
		}
	}
}

func TestIncrementLoadCapacity(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry()

	if _, err := reg.SetMaxLoad(ctx, "dr-wilson", 2); err != nil {
		t.Fatalf("SetMaxLoad failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := reg.IncrementLoad(ctx, "dr-wilson"); err != nil {
			t.Fatalf("increment %d failed: %v", i, err)
		}
	}

	err := reg.IncrementLoad(ctx, "dr-wilson")
	if !apperrors.Is(err, apperrors.ErrCapacityExceeded) {
		t.Errorf("expected capacity exceeded, got %v", err)
	}

	doctor, _ := reg.GetDoctor(ctx, "dr-wilson")
	if doctor.CurrentLoad != 2 {
		t.Errorf("failed increment changed load: got %d, want 2", doctor.CurrentLoad)
	}
}

func TestIncrementLoadAutoCreates(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry()

	if err := reg.IncrementLoad(ctx, "dr-unknown"); err != nil {
		t.Fatalf("IncrementLoad on unknown doctor failed: %v", err)
	}

	doctor, err := reg.GetDoctor(ctx, "dr-unknown")
	if err != nil {
		t.Fatalf("GetDoctor failed: %v", err)
	}
	if doctor == nil {
		t.Fatal("expected auto-created record")
	}
	if doctor.CurrentLoad != 1 {
		t.Errorf("expected load 1, got %d", doctor.CurrentLoad)
	}
	if doctor.IsOnline {
		t.Error("auto-created doctor should be offline")
	}
}

func TestDecrementLoadFloorsAtZero(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry()

	// Unknown doctor: no-op
	if err := reg.DecrementLoad(ctx, "dr-nobody"); err != nil {
		t.Fatalf("DecrementLoad on unknown doctor failed: %v", err)
	}

	if _, err := reg.SetAvailability(ctx, "dr-yang", true, nil); err != nil {
		t.Fatalf("SetAvailability failed: %v", err)
	}

	// Zero load: no-op, never negative
	if err := reg.DecrementLoad(ctx, "dr-yang"); err != nil {
		t.Fatalf("DecrementLoad at zero failed: %v", err)
	}
	doctor, _ := reg.GetDoctor(ctx, "dr-yang")
	if doctor.CurrentLoad != 0 {
		t.Errorf("expected load 0, got %d", doctor.CurrentLoad)
	}

	if err := reg.IncrementLoad(ctx, "dr-yang"); err != nil {
		t.Fatalf("IncrementLoad failed: %v", err)
	}
	if err := reg.DecrementLoad(ctx, "dr-yang"); err != nil {
		t.Fatalf("DecrementLoad failed: %v", err)
	}
	doctor, _ = reg.GetDoctor(ctx, "dr-yang")
	if doctor.CurrentLoad != 0 {
		t.Errorf("expected load back to 0, got %d", doctor.CurrentLoad)
	}
}

func TestConcurrentLoadMutations(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry()

	const maxLoad = 10
	if _, err := reg.SetMaxLoad(ctx, "dr-busy", maxLoad); err != nil {
		t.Fatalf("SetMaxLoad failed: %v", err)
	}

	// Far more attempts than capacity: exactly maxLoad must succeed
	const attempts = 100
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := reg.IncrementLoad(ctx, "dr-busy"); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != maxLoad {
		t.Errorf("expected exactly %d successful increments, got %d", maxLoad, succeeded)
	}

	doctor, _ := reg.GetDoctor(ctx, "dr-busy")
	if doctor.CurrentLoad != maxLoad {
		t.Errorf("expected load %d, got %d", maxLoad, doctor.CurrentLoad)
	}

	// Concurrent decrements, more than the current load
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reg.DecrementLoad(ctx, "dr-busy")
		}()
	}
	wg.Wait()

	doctor, _ = reg.GetDoctor(ctx, "dr-busy")
	if doctor.CurrentLoad != 0 {
		t.Errorf("expected load 0 after decrements, got %d", doctor.CurrentLoad)
	}
}

func TestGetAvailableDoctorsFilters(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry()

	seed := []struct {
		username    string
		online      bool
		specialties []string
		load        int
	}{
		{"dr-a", true, []string{"Cardiology"}, 2},
		{"dr-b", true, []string{"Dermatology"}, 0},
		{"dr-c", false, []string{"Cardiology"}, 0},
		{"dr-d", true, []string{"Cardiology", "Internal Medicine"}, 1},
	}
	for _, s := range seed {
		if _, err := reg.SetAvailability(ctx, s.username, s.online, s.specialties); err != nil {
			t.Fatalf("seed %s failed: %v", s.username, err)
		}
		for i := 0; i < s.load; i++ {
			if err := reg.IncrementLoad(ctx, s.username); err != nil {
				t.Fatalf("seed load %s failed: %v", s.username, err)
			}
		}
	}

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{
			name:   "all online ordered by load",
			filter: Filter{},
			want:   []string{"dr-b", "dr-d", "dr-a"},
		},
		{
			name:   "specialty filter excludes offline",
			filter: Filter{Specialties: []string{"Cardiology"}},
			want:   []string{"dr-d", "dr-a"},
		},
		{
			name:   "max load filter",
			filter: Filter{MaxLoad: intPtr(1)},
			want:   []string{"dr-b", "dr-d"},
		},
		{
			name:   "limit applies after ordering",
			filter: Filter{Limit: 1},
			want:   []string{"dr-b"},
		},
		{
			name:   "no matches is empty not error",
			filter: Filter{Specialties: []string{"Neurosurgery"}},
			want:   []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doctors, err := reg.GetAvailableDoctors(ctx, tt.filter)
			if err != nil {
				t.Fatalf("GetAvailableDoctors failed: %v", err)
			}
			if len(doctors) != len(tt.want) {
				t.Fatalf("got %d doctors, want %d", len(doctors), len(tt.want))
			}
			for i, username := range tt.want {
				if doctors[i].DoctorUsername != username {
					t.Errorf("position %d: got %s, want %s", i, doctors[i].DoctorUsername, username)
				}
			}
		})
	}
}

func TestGetAvailableDoctorsTieBreak(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry()

	// Same load: most recently seen wins
	if _, err := reg.SetAvailability(ctx, "dr-early", true, nil); err != nil {
		t.Fatal(err)
	}
	time.Sleep(2 * time.Millisecond)
	if _, err := reg.SetAvailability(ctx, "dr-late", true, nil); err != nil {
		t.Fatal(err)
	}

	doctors, err := reg.GetAvailableDoctors(ctx, Filter{})
	if err != nil {
		t.Fatalf("GetAvailableDoctors failed: %v", err)
	}
	if len(doctors) != 2 {
		t.Fatalf("got %d doctors, want 2", len(doctors))
	}
	if doctors[0].DoctorUsername != "dr-late" {
		t.Errorf("expected most recently seen first, got %s", doctors[0].DoctorUsername)
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry()

	reg.SetAvailability(ctx, "dr-a", true, nil)
	reg.SetAvailability(ctx, "dr-b", true, nil)
	reg.SetAvailability(ctx, "dr-c", false, nil)
	reg.IncrementLoad(ctx, "dr-a")
	reg.IncrementLoad(ctx, "dr-a")
	reg.IncrementLoad(ctx, "dr-b")

	stats, err := reg.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalDoctors != 3 {
		t.Errorf("total: got %d, want 3", stats.TotalDoctors)
	}
	if stats.OnlineDoctors != 2 {
		t.Errorf("online: got %d, want 2", stats.OnlineDoctors)
	}
	if stats.OfflineDoctors != 1 {
		t.Errorf("offline: got %d, want 1", stats.OfflineDoctors)
	}
	if stats.ActiveConsultations != 3 {
		t.Errorf("active: got %d, want 3", stats.ActiveConsultations)
	}
	if stats.AverageLoad != 1.0 {
		t.Errorf("average load: got %f, want 1.0", stats.AverageLoad)
	}
}

func TestGetDoctorUnknownIsNil(t *testing.T) {
	reg := newTestRegistry()

	doctor, err := reg.GetDoctor(context.Background(), "dr-ghost")
	if err != nil {
		t.Fatalf("GetDoctor failed: %v", err)
	}
	if doctor != nil {
		t.Errorf("expected nil for unknown doctor, got %+v", doctor)
	}
}

// stubRepo is a map-backed Repository with a hook fired during Get,
// simulating a writer racing the read-through.
type stubRepo struct {
	records map[string]*DoctorAvailability
	onGet   func()
}

var _ Repository = (*stubRepo)(nil)

func (s *stubRepo) Upsert(ctx context.Context, doctor *DoctorAvailability) error {
	s.records[doctor.DoctorUsername] = doctor.clone()
	return nil
}

func (s *stubRepo) Get(ctx context.Context, doctorUsername string) (*DoctorAvailability, error) {
	doctor, ok := s.records[doctorUsername]
	if !ok {
		return nil, apperrors.NotFound("doctor availability", doctorUsername)
	}
	out := doctor.clone()
	if s.onGet != nil {
		hook := s.onGet
		s.onGet = nil
		hook()
	}
	return out, nil
}

func (s *stubRepo) List(ctx context.Context) ([]DoctorAvailability, error) {
	out := make([]DoctorAvailability, 0, len(s.records))
	for _, d := range s.records {
		out = append(out, *d.clone())
	}
	return out, nil
}

func (s *stubRepo) AdjustLoad(ctx context.Context, doctorUsername string, delta int) error {
	return nil
}

func TestGetDoctorReadThroughKeepsFresherWrite(t *testing.T) {
	ctx := context.Background()
	repo := &stubRepo{records: make(map[string]*DoctorAvailability)}
	reg := NewRegistry(repo, config.RegistryConfig{})

	repo.records["dr-house"] = &DoctorAvailability{
		DoctorUsername: "dr-house",
		MaxLoad:        5,
	}

	// A write lands between the repo read and the cache insert; the
	// cache entry is then fresher than the stored record
	repo.onGet = func() {
		if _, err := reg.SetAvailability(ctx, "dr-house", true, []string{"Cardiology"}); err != nil {
			t.Fatalf("SetAvailability: %v", err)
		}
	}

	got, err := reg.GetDoctor(ctx, "dr-house")
	if err != nil {
		t.Fatalf("GetDoctor failed: %v", err)
	}
	if !got.IsOnline {
		t.Error("read-through returned the stale record")
	}

	cached, err := reg.GetDoctor(ctx, "dr-house")
	if err != nil {
		t.Fatalf("GetDoctor failed: %v", err)
	}
	if !cached.IsOnline {
		t.Error("read-through clobbered the fresher cache entry")
	}
}

func intPtr(v int) *int { return &v }
