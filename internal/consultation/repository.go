package consultation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	apperrors "github.com/telehealth/platform/internal/shared/errors"
	"github.com/telehealth/platform/internal/shared/types"
)

// Repository persists consultation requests and their notes
type Repository interface {
	Create(ctx context.Context, req *ConsultationRequest) error
	Get(ctx context.Context, id types.ID) (*ConsultationRequest, error)
	Update(ctx context.Context, req *ConsultationRequest) error
	List(ctx context.Context, filter ListFilter) ([]ConsultationRequest, int, error)
	Stats(ctx context.Context) (*RequestStats, error)

	AddNote(ctx context.Context, note *RequestNote) error
	ListNotes(ctx context.Context, requestID types.ID) ([]RequestNote, error)
}

// --- Postgres ---

// PostgresRepository stores consultation requests in Postgres
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new consultation repository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const requestColumns = `id, patient_username, assigned_doctor_username, category,
	description, preferred_specialties, urgency, status, rejection_reason,
	created_at, assigned_at, scheduled_at, completed_at, updated_at`

// Create inserts a new consultation request
func (r *PostgresRepository) Create(ctx context.Context, req *ConsultationRequest) error {
	query := `
		INSERT INTO telehealth.consultation_requests (
			id, patient_username, assigned_doctor_username, category,
			description, preferred_specialties, urgency, status, rejection_reason,
			created_at, assigned_at, scheduled_at, completed_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := r.pool.Exec(ctx, query,
		req.ID, req.PatientUsername, nullString(req.AssignedDoctorUsername),
		req.Category, req.Description, req.PreferredSpecialties,
		req.Urgency, req.Status, nullString(req.RejectionReason),
		req.CreatedAt, req.AssignedAt, req.ScheduledAt, req.CompletedAt, req.UpdatedAt,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to create consultation request")
	}

	return nil
}

// Get retrieves a consultation request by ID
func (r *PostgresRepository) Get(ctx context.Context, id types.ID) (*ConsultationRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM telehealth.consultation_requests WHERE id = $1`, requestColumns)

	req, err := scanRequest(r.pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, apperrors.NotFound("consultation request", id.String())
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to get consultation request")
	}

	return req, nil
}

// Update persists the full mutable state of a request
func (r *PostgresRepository) Update(ctx context.Context, req *ConsultationRequest) error {
	query := `
		UPDATE telehealth.consultation_requests SET
			assigned_doctor_username = $2,
			status = $3,
			rejection_reason = $4,
			assigned_at = $5,
			scheduled_at = $6,
			completed_at = $7,
			updated_at = $8
		WHERE id = $1`

	result, err := r.pool.Exec(ctx, query,
		req.ID, nullString(req.AssignedDoctorUsername), req.Status,
		nullString(req.RejectionReason),
		req.AssignedAt, req.ScheduledAt, req.CompletedAt, req.UpdatedAt,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to update consultation request")
	}
	if result.RowsAffected() == 0 {
		return apperrors.NotFound("consultation request", req.ID.String())
	}

	return nil
}

// List returns requests matching the filter, newest first
func (r *PostgresRepository) List(ctx context.Context, filter ListFilter) ([]ConsultationRequest, int, error) {
	var conditions []string
	var args []any
	argNum := 1

	addCondition := func(clause string, value any) {
		conditions = append(conditions, fmt.Sprintf(clause, argNum))
		args = append(args, value)
		argNum++
	}

	if filter.Status != nil {
		addCondition("status = $%d", *filter.Status)
	}
	if filter.Category != "" {
		addCondition("category = $%d", filter.Category)
	}
	if filter.PatientUsername != "" {
		addCondition("patient_username = $%d", filter.PatientUsername)
	}
	if filter.DoctorUsername != "" {
		addCondition("assigned_doctor_username = $%d", filter.DoctorUsername)
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM telehealth.consultation_requests %s`, whereClause)
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, apperrors.Wrap(err, "failed to count consultation requests")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}

	query := fmt.Sprintf(`
		SELECT %s FROM telehealth.consultation_requests %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, requestColumns, whereClause, argNum, argNum+1)
	args = append(args, limit, filter.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, apperrors.Wrap(err, "failed to list consultation requests")
	}
	defer rows.Close()

	var requests []ConsultationRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, 0, apperrors.Wrap(err, "failed to scan consultation request")
		}
		requests = append(requests, *req)
	}

	return requests, total, nil
}

// Stats aggregates request counts by status and urgency
func (r *PostgresRepository) Stats(ctx context.Context) (*RequestStats, error) {
	query := `
		SELECT status, urgency, COUNT(*)
		FROM telehealth.consultation_requests
		GROUP BY status, urgency`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to aggregate consultation stats")
	}
	defer rows.Close()

	stats := &RequestStats{
		ByStatus:  make(map[Status]int),
		ByUrgency: make(map[Urgency]int),
	}
	for rows.Next() {
		var status Status
		var urgency Urgency
		var count int
		if err := rows.Scan(&status, &urgency, &count); err != nil {
			return nil, apperrors.Wrap(err, "failed to scan consultation stats")
		}
		stats.Total += count
		stats.ByStatus[status] += count
		stats.ByUrgency[urgency] += count
	}

	return stats, nil
}

// AddNote inserts a note for a request
func (r *PostgresRepository) AddNote(ctx context.Context, note *RequestNote) error {
	query := `
		INSERT INTO telehealth.request_notes (
			id, request_id, content, created_by, note_type, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.pool.Exec(ctx, query,
		note.ID, note.RequestID, note.Content, note.CreatedBy, note.NoteType, note.CreatedAt,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to add request note")
	}

	return nil
}

// ListNotes returns all notes for a request, oldest first
func (r *PostgresRepository) ListNotes(ctx context.Context, requestID types.ID) ([]RequestNote, error) {
	query := `
		SELECT id, request_id, content, created_by, note_type, created_at
		FROM telehealth.request_notes
		WHERE request_id = $1
		ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query, requestID)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list request notes")
	}
	defer rows.Close()

	var notes []RequestNote
	for rows.Next() {
		var n RequestNote
		if err := rows.Scan(&n.ID, &n.RequestID, &n.Content, &n.CreatedBy, &n.NoteType, &n.CreatedAt); err != nil {
			return nil, apperrors.Wrap(err, "failed to scan request note")
		}
		notes = append(notes, n)
	}

	return notes, nil
}

func scanRequest(row pgx.Row) (*ConsultationRequest, error) {
	req := &ConsultationRequest{}
	var assignedDoctor, rejectionReason *string

	err := row.Scan(
		&req.ID, &req.PatientUsername, &assignedDoctor, &req.Category,
		&req.Description, &req.PreferredSpecialties, &req.Urgency, &req.Status,
		&rejectionReason,
		&req.CreatedAt, &req.AssignedAt, &req.ScheduledAt, &req.CompletedAt, &req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if assignedDoctor != nil {
		req.AssignedDoctorUsername = *assignedDoctor
	}
	if rejectionReason != nil {
		req.RejectionReason = *rejectionReason
	}
	return req, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var _ Repository = (*PostgresRepository)(nil)

// --- In-memory ---

// MemoryRepository is an in-memory Repository used in tests and
// single-node development when Postgres is not configured
type MemoryRepository struct {
	mu       sync.RWMutex
	requests map[types.ID]*ConsultationRequest
	notes    map[types.ID][]RequestNote
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		requests: make(map[types.ID]*ConsultationRequest),
		notes:    make(map[types.ID][]RequestNote),
	}
}

func (r *MemoryRepository) Create(ctx context.Context, req *ConsultationRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.requests[req.ID]; exists {
		return apperrors.Conflict("consultation request already exists")
	}
	clone := *req
	r.requests[req.ID] = &clone
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, id types.ID) (*ConsultationRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	req, ok := r.requests[id]
	if !ok {
		return nil, apperrors.NotFound("consultation request", id.String())
	}
	clone := *req
	return &clone, nil
}

func (r *MemoryRepository) Update(ctx context.Context, req *ConsultationRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.requests[req.ID]; !ok {
		return apperrors.NotFound("consultation request", req.ID.String())
	}
	clone := *req
	r.requests[req.ID] = &clone
	return nil
}

func (r *MemoryRepository) List(ctx context.Context, filter ListFilter) ([]ConsultationRequest, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []ConsultationRequest
	for _, req := range r.requests {
		if filter.Status != nil && req.Status != *filter.Status {
			continue
		}
		if filter.Category != "" && req.Category != filter.Category {
			continue
		}
		if filter.PatientUsername != "" && req.PatientUsername != filter.PatientUsername {
			continue
		}
		if filter.DoctorUsername != "" && req.AssignedDoctorUsername != filter.DoctorUsername {
			continue
		}
		matched = append(matched, *req)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[filter.Offset:]
		}
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}

	return matched, total, nil
}

func (r *MemoryRepository) Stats(ctx context.Context) (*RequestStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := &RequestStats{
		ByStatus:  make(map[Status]int),
		ByUrgency: make(map[Urgency]int),
	}
	for _, req := range r.requests {
		stats.Total++
		stats.ByStatus[req.Status]++
		stats.ByUrgency[req.Urgency]++
	}
	return stats, nil
}

func (r *MemoryRepository) AddNote(ctx context.Context, note *RequestNote) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes[note.RequestID] = append(r.notes[note.RequestID], *note)
	return nil
}

func (r *MemoryRepository) ListNotes(ctx context.Context, requestID types.ID) ([]RequestNote, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	notes := make([]RequestNote, len(r.notes[requestID]))
	copy(notes, r.notes[requestID])
	return notes, nil
}

var _ Repository = (*MemoryRepository)(nil)
