package availability

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/telehealth/platform/internal/shared/config"
	apperrors "github.com/telehealth/platform/internal/shared/errors"
	"github.com/telehealth/platform/internal/shared/metrics"
)

// Repository is the durable backing store for the registry. A nil
// repository keeps the registry purely in-memory (tests, single-node
// development).
type Repository interface {
	Upsert(ctx context.Context, doctor *DoctorAvailability) error
	Get(ctx context.Context, doctorUsername string) (*DoctorAvailability, error)
	List(ctx context.Context) ([]DoctorAvailability, error)
	// AdjustLoad applies a clamped load delta with a conditional update,
	// so concurrent processes cannot push a counter past its bounds.
	AdjustLoad(ctx context.Context, doctorUsername string, delta int) error
}

// Registry is the single source of truth for doctor online status,
// specialties and load. It keeps a write-through in-memory cache in
// front of the optional durable repository; every load mutation happens
// under the registry lock, which is the process-wide serialization
// point for the check-then-mutate sequence.
type Registry struct {
	mu      sync.RWMutex
	doctors map[string]*DoctorAvailability
	repo    Repository
	cfg     config.RegistryConfig
}

// NewRegistry creates a registry backed by the given repository (nil
// for in-memory only).
func NewRegistry(repo Repository, cfg config.RegistryConfig) *Registry {
	if cfg.DefaultMaxLoad <= 0 {
		cfg.DefaultMaxLoad = 5
	}
	if cfg.DefaultQueryLimit <= 0 {
		cfg.DefaultQueryLimit = 20
	}
	if cfg.MaxQueryLimit <= 0 {
		cfg.MaxQueryLimit = 50
	}
	return &Registry{
		doctors: make(map[string]*DoctorAvailability),
		repo:    repo,
		cfg:     cfg,
	}
}

// Warm loads all durable records into the cache. Called once at startup.
func (r *Registry) Warm(ctx context.Context) error {
	if r.repo == nil {
		return nil
	}

	doctors, err := r.repo.List(ctx)
	if err != nil {
		return apperrors.Wrap(err, "failed to warm availability cache")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range doctors {
		d := doctors[i]
		r.doctors[d.DoctorUsername] = &d
	}
	r.updateGaugesLocked()
	return nil
}

// SetAvailability upserts a doctor's availability record. Repeated calls
// are idempotent; a doctor with no prior record starts with zero load
// and the default capacity.
func (r *Registry) SetAvailability(ctx context.Context, doctorUsername string, isOnline bool, specialties []string) (*DoctorAvailability, error) {
	if doctorUsername == "" {
		return nil, apperrors.Validation("validation failed", map[string]string{
			"doctor_username": "doctor_username is required",
		})
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	doctor, ok := r.doctors[doctorUsername]
	if !ok {
		doctor = &DoctorAvailability{
			DoctorUsername: doctorUsername,
			CurrentLoad:    0,
			MaxLoad:        r.cfg.DefaultMaxLoad,
			CreatedAt:      now,
		}
	}

	updated := doctor.clone()
	updated.IsOnline = isOnline
	if specialties != nil {
		updated.Specialties = append([]string(nil), specialties...)
	}
	updated.LastSeen = now
	updated.UpdatedAt = now

	if r.repo != nil {
		if err := r.repo.Upsert(ctx, updated); err != nil {
			return nil, apperrors.Wrap(err, "failed to persist availability")
		}
	}

	r.doctors[doctorUsername] = updated
	r.updateGaugesLocked()
	return updated.clone(), nil
}

// SetMaxLoad updates a doctor's configured capacity. The doctor record
// is auto-created when absent, matching the write semantics of
// SetAvailability.
func (r *Registry) SetMaxLoad(ctx context.Context, doctorUsername string, maxLoad int) (*DoctorAvailability, error) {
	if maxLoad <= 0 {
		return nil, apperrors.Validation("validation failed", map[string]string{
			"max_load": "max_load must be positive",
		})
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	doctor, ok := r.doctors[doctorUsername]
	if !ok {
		doctor = &DoctorAvailability{
			DoctorUsername: doctorUsername,
			MaxLoad:        r.cfg.DefaultMaxLoad,
			CreatedAt:      now,
		}
	}

	updated := doctor.clone()
	updated.MaxLoad = maxLoad
	updated.UpdatedAt = now

	if r.repo != nil {
		if err := r.repo.Upsert(ctx, updated); err != nil {
			return nil, apperrors.Wrap(err, "failed to persist max load")
		}
	}

	r.doctors[doctorUsername] = updated
	return updated.clone(), nil
}

// GetDoctor returns the doctor's record, falling back to the durable
// store on a cache miss. An unknown doctor yields nil, not an error:
// absent means offline with zero load.
func (r *Registry) GetDoctor(ctx context.Context, doctorUsername string) (*DoctorAvailability, error) {
	r.mu.RLock()
	doctor, ok := r.doctors[doctorUsername]
	r.mu.RUnlock()
	if ok {
		return doctor.clone(), nil
	}

	if r.repo == nil {
		return nil, nil
	}

	stored, err := r.repo.Get(ctx, doctorUsername)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return nil, nil
		}
		return nil, apperrors.Wrap(err, "failed to read availability")
	}

	// A writer may have populated the cache while the repo read ran
	// without the lock; that entry is fresher than the stored record
	r.mu.Lock()
	if cached, ok := r.doctors[doctorUsername]; ok {
		stored = cached.clone()
	} else {
		r.doctors[doctorUsername] = stored.clone()
	}
	r.mu.Unlock()
	return stored, nil
}

// GetAvailableDoctors returns online doctors matching the filter,
// ordered by ascending load, then most recently seen, then username.
// Nothing matching is an empty result, never an error.
func (r *Registry) GetAvailableDoctors(ctx context.Context, filter Filter) ([]DoctorAvailability, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = r.cfg.DefaultQueryLimit
	}
	if limit > r.cfg.MaxQueryLimit {
		limit = r.cfg.MaxQueryLimit
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []DoctorAvailability
	for _, d := range r.doctors {
		if !d.IsOnline {
			continue
		}
		if filter.MaxLoad != nil && d.CurrentLoad > *filter.MaxLoad {
			continue
		}
		if len(filter.Specialties) > 0 && d.MatchingSpecialties(filter.Specialties) == 0 {
			continue
		}
		out = append(out, *d.clone())
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CurrentLoad != out[j].CurrentLoad {
			return out[i].CurrentLoad < out[j].CurrentLoad
		}
		if !out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].LastSeen.After(out[j].LastSeen)
		}
		return out[i].DoctorUsername < out[j].DoctorUsername
	})

	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListOnline returns every online doctor with no result cap. The
// matching engine scores over this complete snapshot; the capped
// GetAvailableDoctors serves the query API.
func (r *Registry) ListOnline(ctx context.Context) ([]DoctorAvailability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]DoctorAvailability, 0, len(r.doctors))
	for _, d := range r.doctors {
		if d.IsOnline {
			out = append(out, *d.clone())
		}
	}
	return out, nil
}

// IncrementLoad reserves one consultation slot for the doctor. The
// check-then-increment runs under the registry write lock; pushing a
// doctor past MaxLoad fails with CapacityExceeded and changes nothing.
func (r *Registry) IncrementLoad(ctx context.Context, doctorUsername string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doctor, ok := r.doctors[doctorUsername]
	if !ok {
		doctor = r.createLocked(doctorUsername)
		if r.repo != nil {
			if err := r.repo.Upsert(ctx, doctor); err != nil {
				delete(r.doctors, doctorUsername)
				return apperrors.Wrap(err, "failed to persist availability")
			}
		}
	}

	if doctor.CurrentLoad >= doctor.MaxLoad {
		return apperrors.CapacityExceeded(doctorUsername)
	}

	if r.repo != nil {
		if err := r.repo.AdjustLoad(ctx, doctorUsername, +1); err != nil {
			return err
		}
	}

	doctor.CurrentLoad++
	doctor.UpdatedAt = time.Now()
	r.updateGaugesLocked()
	return nil
}

// DecrementLoad releases one consultation slot. Decrementing a zero or
// unknown load is a no-op, not an error: this defends against
// double-release bugs and the counter never goes negative.
func (r *Registry) DecrementLoad(ctx context.Context, doctorUsername string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doctor, ok := r.doctors[doctorUsername]
	if !ok || doctor.CurrentLoad == 0 {
		return nil
	}

	if r.repo != nil {
		if err := r.repo.AdjustLoad(ctx, doctorUsername, -1); err != nil {
			return err
		}
	}

	doctor.CurrentLoad--
	doctor.UpdatedAt = time.Now()
	r.updateGaugesLocked()
	return nil
}

// Stats returns aggregate counts over the registry
func (r *Registry) Stats(ctx context.Context) (*Stats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := &Stats{}
	for _, d := range r.doctors {
		stats.TotalDoctors++
		if d.IsOnline {
			stats.OnlineDoctors++
		} else {
			stats.OfflineDoctors++
		}
		stats.ActiveConsultations += d.CurrentLoad
	}
	if stats.TotalDoctors > 0 {
		stats.AverageLoad = float64(stats.ActiveConsultations) / float64(stats.TotalDoctors)
	}
	return stats, nil
}

// createLocked auto-creates a record for a doctor first seen through a
// load mutation. Caller must hold the write lock.
func (r *Registry) createLocked(doctorUsername string) *DoctorAvailability {
	now := time.Now()
	doctor := &DoctorAvailability{
		DoctorUsername: doctorUsername,
		MaxLoad:        r.cfg.DefaultMaxLoad,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	r.doctors[doctorUsername] = doctor
	return doctor
}

// updateGaugesLocked refreshes the exported gauges. Caller must hold at
// least the read lock.
func (r *Registry) updateGaugesLocked() {
	online, active := 0, 0
	for _, d := range r.doctors {
		if d.IsOnline {
			online++
		}
		active += d.CurrentLoad
	}
	metrics.SetDoctorsOnline(online)
	metrics.SetActiveConsultations(active)
}
