package roster

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	_ "github.com/denisenkom/go-mssqldb" // SQL Server driver
	"github.com/telehealth/platform/internal/availability"
	"github.com/telehealth/platform/internal/shared/config"
)

// Adapter syncs the doctor roster from a legacy hospital information
// system into the availability registry. Many hospitals maintain shift
// schedules and specialty assignments in their HIS; this adapter polls
// that SQL Server database and mirrors on-shift doctors as online.
type Adapter struct {
	db       *sql.DB
	registry *availability.Registry
	cfg      config.RosterConfig

	running  bool
	mu       sync.RWMutex
	cancel   context.CancelFunc
	lastPoll time.Time
	wg       sync.WaitGroup
}

// RosterEntry is one row of the HIS shift schedule
type RosterEntry struct {
	DoctorUsername string
	OnShift        bool
	Specialties    []string
}

// New creates a roster adapter feeding the given registry
func New(registry *availability.Registry, cfg config.RosterConfig) *Adapter {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Minute
	}
	return &Adapter{
		registry: registry,
		cfg:      cfg,
	}
}

// Start opens the HIS connection and begins polling
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return fmt.Errorf("roster adapter already running")
	}

	connStr := fmt.Sprintf("server=%s;port=%d;database=%s;user id=%s;password=%s;encrypt=true;TrustServerCertificate=true",
		a.cfg.Host, a.cfg.Port, a.cfg.Database, a.cfg.User, a.cfg.Password)

	db, err := sql.Open("sqlserver", connStr)
	if err != nil {
		return fmt.Errorf("failed to open roster database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping roster database: %w", err)
	}

	a.db = db
	a.running = true
	a.lastPoll = time.Now().Add(-a.cfg.PollInterval)

	pollCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.wg.Add(1)
	go a.pollLoop(pollCtx)

	return nil
}

// Stop halts polling and closes the connection
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return nil
	}

	if a.cancel != nil {
		a.cancel()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if a.db != nil {
		a.db.Close()
	}

	a.running = false
	return nil
}

// Health checks roster database connectivity
func (a *Adapter) Health(ctx context.Context) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if !a.running {
		return fmt.Errorf("roster adapter not running")
	}
	return a.db.PingContext(ctx)
}

func (a *Adapter) pollLoop(ctx context.Context) {
	defer a.wg.Done()

	// First sync immediately so a restart does not wait a full interval
	if err := a.syncRoster(ctx); err != nil {
		log.Printf("roster sync failed: %v", err)
	}

	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.mu.Lock()
			a.lastPoll = time.Now()
			a.mu.Unlock()

			if err := a.syncRoster(ctx); err != nil {
				log.Printf("roster sync failed: %v", err)
			}
		}
	}
}

// syncRoster reads the current shift schedule and mirrors it into the
// registry. Load counters are owned by the registry and never touched
// here.
func (a *Adapter) syncRoster(ctx context.Context) error {
	entries, err := a.fetchRoster(ctx)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if _, err := a.registry.SetAvailability(ctx, entry.DoctorUsername, entry.OnShift, entry.Specialties); err != nil {
			log.Printf("roster sync: failed to update %s: %v", entry.DoctorUsername, err)
		}
	}

	return nil
}

// fetchRoster reads doctors whose shift covers the current time
func (a *Adapter) fetchRoster(ctx context.Context) ([]RosterEntry, error) {
	query := `
		SELECT
			s.Username,
			s.Specialties,
			CASE WHEN sh.ShiftStart <= GETDATE() AND sh.ShiftEnd > GETDATE()
				THEN 1 ELSE 0 END AS OnShift
		FROM dbo.MedicalStaff s
		LEFT JOIN dbo.Shifts sh ON sh.StaffID = s.StaffID
			AND sh.ShiftEnd > GETDATE()
			AND sh.ShiftStart <= DATEADD(hour, 12, GETDATE())
		WHERE s.Role = 'doctor' AND s.IsActive = 1`

	rows, err := a.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query roster: %w", err)
	}
	defer rows.Close()

	var entries []RosterEntry
	for rows.Next() {
		var username string
		var specialties sql.NullString
		var onShift bool

		if err := rows.Scan(&username, &specialties, &onShift); err != nil {
			log.Printf("roster sync: failed to scan row: %v", err)
			continue
		}

		entry := RosterEntry{
			DoctorUsername: username,
			OnShift:        onShift,
		}
		if specialties.Valid {
			entry.Specialties = splitSpecialties(specialties.String)
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// splitSpecialties parses the HIS semicolon-delimited specialty column
func splitSpecialties(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ";") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
