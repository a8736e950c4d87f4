package matching

import (
	"context"
	"sort"
	"time"

	"github.com/telehealth/platform/internal/availability"
	"github.com/telehealth/platform/internal/catalog"
	"github.com/telehealth/platform/internal/shared/config"
	"github.com/telehealth/platform/internal/shared/metrics"
)

// Engine scores and ranks available doctors for consultation requests.
// It only reads the registry; reserving the chosen doctor's slot is the
// caller's job.
type Engine struct {
	registry *availability.Registry
	cfg      config.MatchingConfig
}

// NewEngine creates a matching engine with the given scoring weights
func NewEngine(registry *availability.Registry, cfg config.MatchingConfig) *Engine {
	if cfg.BaseScore == 0 {
		cfg.BaseScore = 10
	}
	if cfg.SpecialtyBonus == 0 {
		cfg.SpecialtyBonus = 25
	}
	if cfg.LoadPenalty == 0 {
		cfg.LoadPenalty = 5
	}
	if cfg.RecencyBonus == 0 {
		cfg.RecencyBonus = 3
	}
	if cfg.RecencyWindow == 0 {
		cfg.RecencyWindow = 5 * time.Minute
	}
	return &Engine{registry: registry, cfg: cfg}
}

// Candidate is a scored doctor considered for a request
type Candidate struct {
	Doctor availability.DoctorAvailability `json:"doctor"`
	Score  float64                         `json:"score"`
}

// FindBestDoctor returns the highest scoring available doctor for the
// given category, or nil when no online doctor has spare capacity. When
// the caller supplies no preferred specialties the category's suggested
// specialties drive the scoring instead.
func (e *Engine) FindBestDoctor(ctx context.Context, category string, preferredSpecialties []string) (*Candidate, error) {
	start := time.Now()

	candidates, err := e.RankDoctors(ctx, category, preferredSpecialties)
	if err != nil {
		metrics.RecordMatch("error", time.Since(start))
		return nil, err
	}
	if len(candidates) == 0 {
		metrics.RecordMatch("no_doctors", time.Since(start))
		return nil, nil
	}

	metrics.RecordMatch("matched", time.Since(start))
	best := candidates[0]
	return &best, nil
}

// RankDoctors returns every eligible doctor ordered by descending score.
// The ordering is deterministic: ties break on lower current load, then
// lexical username.
func (e *Engine) RankDoctors(ctx context.Context, category string, preferredSpecialties []string) ([]Candidate, error) {
	specialties := e.resolveSpecialties(category, preferredSpecialties)

	doctors, err := e.registry.ListOnline(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var candidates []Candidate
	for _, d := range doctors {
		if d.AtCapacity() {
			continue
		}
		candidates = append(candidates, Candidate{
			Doctor: d,
			Score:  e.score(&d, specialties, now),
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		if candidates[i].Doctor.CurrentLoad != candidates[j].Doctor.CurrentLoad {
			return candidates[i].Doctor.CurrentLoad < candidates[j].Doctor.CurrentLoad
		}
		return candidates[i].Doctor.DoctorUsername < candidates[j].Doctor.DoctorUsername
	})

	return candidates, nil
}

// resolveSpecialties picks the specialty set that drives scoring:
// explicit patient preference first, then the category's suggestions.
// Empty means any doctor scores on load and recency alone.
func (e *Engine) resolveSpecialties(category string, preferred []string) []string {
	if len(preferred) > 0 {
		return preferred
	}
	return catalog.GetSuggestedSpecialties(category)
}

func (e *Engine) score(d *availability.DoctorAvailability, specialties []string, now time.Time) float64 {
	score := e.cfg.BaseScore

	score += float64(d.MatchingSpecialties(specialties)) * e.cfg.SpecialtyBonus
	score -= float64(d.CurrentLoad) * e.cfg.LoadPenalty

	if now.Sub(d.LastSeen) <= e.cfg.RecencyWindow {
		score += e.cfg.RecencyBonus
	}

	return score
}
