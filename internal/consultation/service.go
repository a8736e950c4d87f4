package consultation

import (
	"context"
	"fmt"
	"hash/fnv"
	"log"
	"sync"
	"time"

	"github.com/telehealth/platform/internal/availability"
	"github.com/telehealth/platform/internal/catalog"
	"github.com/telehealth/platform/internal/matching"
	"github.com/telehealth/platform/internal/notification"
	"github.com/telehealth/platform/internal/shared/auth"
	apperrors "github.com/telehealth/platform/internal/shared/errors"
	"github.com/telehealth/platform/internal/shared/events"
	"github.com/telehealth/platform/internal/shared/metrics"
	"github.com/telehealth/platform/internal/shared/types"
)

// matchAttempts bounds the create-time retry loop when a chosen doctor
// fills up between scoring and slot reservation
const matchAttempts = 3

// lockStripes sizes the per-request mutex table
const lockStripes = 64

// Service owns the consultation request lifecycle: creation with
// matching, guarded status transitions, reassignment and notes. All
// mutations of one request serialize on a striped per-request lock, so
// concurrent conflicting transitions resolve to exactly one winner.
type Service struct {
	repo       Repository
	registry   *availability.Registry
	engine     *matching.Engine
	dispatcher *notification.Dispatcher
	bus        *events.Bus

	locks [lockStripes]sync.Mutex
}

// NewService creates the lifecycle service. Dispatcher and bus may be
// nil; notifications and events are then skipped.
func NewService(
	repo Repository,
	registry *availability.Registry,
	engine *matching.Engine,
	dispatcher *notification.Dispatcher,
	bus *events.Bus,
) *Service {
	return &Service{
		repo:       repo,
		registry:   registry,
		engine:     engine,
		dispatcher: dispatcher,
		bus:        bus,
	}
}

func (s *Service) lockFor(id types.ID) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id.String()))
	return &s.locks[h.Sum32()%lockStripes]
}

// Create validates and stores a new consultation request, attempting to
// assign a doctor immediately. No available doctor queues the request
// as pending; that is a success, not an error.
func (s *Service) Create(ctx context.Context, patientUsername string, input CreateRequestInput) (*ConsultationRequest, error) {
	if !catalog.IsKnownCategory(input.Category) {
		return nil, apperrors.InvalidCategory(input.Category)
	}
	if input.Description == "" {
		return nil, apperrors.Validation("validation failed", map[string]string{
			"description": "description is required",
		})
	}
	if input.Urgency == "" {
		input.Urgency = UrgencyMedium
	}
	if !input.Urgency.Valid() {
		return nil, apperrors.Validation("validation failed", map[string]string{
			"urgency": fmt.Sprintf("unknown urgency: %s", input.Urgency),
		})
	}

	now := time.Now()
	req := &ConsultationRequest{
		ID:                   types.NewID(),
		PatientUsername:      patientUsername,
		Category:             input.Category,
		Description:          input.Description,
		PreferredSpecialties: input.PreferredSpecialties,
		Urgency:              input.Urgency,
		Status:               StatusPending,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	doctor, err := s.assignDoctor(ctx, req, input.PreferredDoctor)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, req); err != nil {
		// Release the reserved slot; the request was never stored
		if doctor != "" {
			s.registry.DecrementLoad(ctx, doctor)
		}
		return nil, err
	}

	metrics.RecordRequestCreated(req.Category, string(req.Status))

	s.systemNote(ctx, req.ID, patientUsername,
		fmt.Sprintf("consultation request created in category %s", req.Category))
	s.publish(ctx, "consultation.created", req, nil)

	if doctor != "" {
		s.systemNote(ctx, req.ID, "system",
			fmt.Sprintf("assigned to doctor %s", doctor))
		s.publish(ctx, "consultation.assigned", req, map[string]any{
			"doctor_username": doctor,
		})
		s.notifyDoctor(req, notification.KindDoctorAssigned,
			"New consultation assigned",
			fmt.Sprintf("A %s consultation request was assigned to you", req.Category))
		s.notifyPatient(req, notification.KindRequestCreated,
			"Consultation request created",
			fmt.Sprintf("Your request was assigned to doctor %s", doctor))
	} else {
		s.notifyPatient(req, notification.KindQueuedPending,
			"Consultation request queued",
			"No doctor is available right now; your request is queued")
	}

	return req, nil
}

// assignDoctor picks and reserves a doctor for a new request. The
// preferred doctor is tried first; offline or at capacity falls
// through to automatic matching. Returns the assigned username, or ""
// when the request stays pending.
func (s *Service) assignDoctor(ctx context.Context, req *ConsultationRequest, preferredDoctor string) (string, error) {
	now := time.Now()

	if preferredDoctor != "" {
		doctor, err := s.registry.GetDoctor(ctx, preferredDoctor)
		if err != nil {
			return "", err
		}
		if doctor != nil && doctor.IsOnline && !doctor.AtCapacity() {
			err := s.registry.IncrementLoad(ctx, preferredDoctor)
			if err == nil {
				req.AssignedDoctorUsername = preferredDoctor
				req.Status = StatusAssigned
				req.AssignedAt = &now
				return preferredDoctor, nil
			}
			if !apperrors.Is(err, apperrors.ErrCapacityExceeded) {
				return "", err
			}
		}
	}

	// A chosen doctor can hit capacity between scoring and reservation;
	// retry the match a few times before giving up to the queue
	for attempt := 0; attempt < matchAttempts; attempt++ {
		candidate, err := s.engine.FindBestDoctor(ctx, req.Category, req.PreferredSpecialties)
		if err != nil {
			return "", err
		}
		if candidate == nil {
			return "", nil
		}

		username := candidate.Doctor.DoctorUsername
		err = s.registry.IncrementLoad(ctx, username)
		if err == nil {
			req.AssignedDoctorUsername = username
			req.Status = StatusAssigned
			req.AssignedAt = &now
			return username, nil
		}
		if !apperrors.Is(err, apperrors.ErrCapacityExceeded) {
			return "", err
		}
	}

	return "", nil
}

// Get returns a request visible to the actor. Patients see their own
// requests, doctors their assignments, admins everything.
func (s *Service) Get(ctx context.Context, actor *auth.User, id types.ID) (*ConsultationRequest, error) {
	req, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(actor, req); err != nil {
		return nil, err
	}
	return req, nil
}

// UpdateStatus applies one lifecycle transition. The doctor's load
// counter is released exactly once when an active request reaches a
// terminal state or gets rejected.
func (s *Service) UpdateStatus(ctx context.Context, actor *auth.User, id types.ID, input UpdateStatusInput) (*ConsultationRequest, error) {
	if !input.Status.Valid() {
		return nil, apperrors.Validation("validation failed", map[string]string{
			"status": fmt.Sprintf("unknown status: %s", input.Status),
		})
	}
	// Assignment flows through matching (create, queue drain,
	// reassign), never through a direct status write: a bare assigned
	// would carry no doctor and no load reservation
	if input.Status == StatusAssigned {
		return nil, apperrors.Validation("validation failed", map[string]string{
			"status": "assigned cannot be set directly",
		})
	}

	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	req, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	// Transition legality before the role gate: a move the state
	// machine forbids is reported as such no matter who asks
	if !CanTransition(req.Status, input.Status) {
		return nil, apperrors.InvalidTransition(string(req.Status), string(input.Status))
	}
	if err := s.authorizeTransition(actor, req, input.Status); err != nil {
		return nil, err
	}

	from := req.Status
	now := time.Now()
	if err := req.transition(input.Status, now); err != nil {
		return nil, err
	}

	switch input.Status {
	case StatusAccepted:
		if input.ScheduledAt != nil {
			req.ScheduledAt = input.ScheduledAt
		}
	case StatusRejected:
		if input.Reason == "" {
			log.Printf("consultation %s rejected without a reason", id)
		}
		req.RejectionReason = input.Reason
	}

	// Leaving an active assignment frees the doctor's slot. The guard
	// on the previous status makes the release fire at most once per
	// request.
	releaseSlot := req.AssignedDoctorUsername != "" &&
		(from == StatusAssigned || from == StatusAccepted) &&
		(input.Status.IsTerminal())

	if err := s.repo.Update(ctx, req); err != nil {
		return nil, err
	}

	if releaseSlot {
		if err := s.registry.DecrementLoad(ctx, req.AssignedDoctorUsername); err != nil {
			log.Printf("failed to release slot for %s: %v", req.AssignedDoctorUsername, err)
		}
	}

	metrics.RecordStatusChange(string(from), string(input.Status))

	s.statusNote(ctx, req, actor, from, input)
	s.publish(ctx, "consultation.status_changed", req, map[string]any{
		"from_status": from,
		"to_status":   input.Status,
	})
	s.notifyStatusChange(req, from, input.Status)

	return req, nil
}

// Reassign moves an assigned request to a different doctor. The new
// doctor's slot is reserved before the old one is released, so a
// failure leaves the original assignment intact.
func (s *Service) Reassign(ctx context.Context, actor *auth.User, id types.ID, newDoctor string) (*ConsultationRequest, error) {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	req, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor != nil && actor.Role != auth.RoleAdmin && req.AssignedDoctorUsername != actor.Username {
		return nil, apperrors.Forbidden("only the assigned doctor or an admin can reassign")
	}
	if req.Status != StatusAssigned {
		return nil, apperrors.InvalidTransition(string(req.Status), string(StatusAssigned))
	}

	oldDoctor := req.AssignedDoctorUsername

	if newDoctor == "" {
		newDoctor, err = s.pickReplacement(ctx, req, oldDoctor)
		if err != nil {
			return nil, err
		}
	}
	if newDoctor == oldDoctor {
		return nil, apperrors.Conflict("request is already assigned to this doctor")
	}

	if err := s.registry.IncrementLoad(ctx, newDoctor); err != nil {
		metrics.RecordReassignment("failed")
		if apperrors.Is(err, apperrors.ErrCapacityExceeded) {
			return nil, apperrors.Conflict(
				fmt.Sprintf("doctor %s is at capacity", newDoctor))
		}
		return nil, err
	}

	now := time.Now()
	req.AssignedDoctorUsername = newDoctor
	req.AssignedAt = &now
	req.UpdatedAt = now

	if err := s.repo.Update(ctx, req); err != nil {
		// Roll back the reservation, keep the old assignment
		s.registry.DecrementLoad(ctx, newDoctor)
		metrics.RecordReassignment("failed")
		return nil, err
	}

	if oldDoctor != "" {
		if err := s.registry.DecrementLoad(ctx, oldDoctor); err != nil {
			log.Printf("failed to release slot for %s: %v", oldDoctor, err)
		}
	}

	metrics.RecordReassignment("succeeded")

	s.note(ctx, req.ID, actorUsername(actor), NoteTypeReassignment,
		fmt.Sprintf("reassigned from %s to %s", oldDoctor, newDoctor))
	s.publish(ctx, "consultation.reassigned", req, map[string]any{
		"old_doctor": oldDoctor,
		"new_doctor": newDoctor,
	})
	s.notifyDoctor(req, notification.KindReassigned,
		"Consultation reassigned to you",
		fmt.Sprintf("A %s consultation request was reassigned to you", req.Category))

	return req, nil
}

// pickReplacement finds the best doctor other than the current one
func (s *Service) pickReplacement(ctx context.Context, req *ConsultationRequest, exclude string) (string, error) {
	candidates, err := s.engine.RankDoctors(ctx, req.Category, req.PreferredSpecialties)
	if err != nil {
		return "", err
	}
	for _, c := range candidates {
		if c.Doctor.DoctorUsername != exclude {
			return c.Doctor.DoctorUsername, nil
		}
	}
	return "", apperrors.NoDoctorsAvailable()
}

// AddNote attaches a user note to a request. Only participants and
// admins may comment.
func (s *Service) AddNote(ctx context.Context, actor *auth.User, id types.ID, input AddNoteInput) (*RequestNote, error) {
	if input.Content == "" {
		return nil, apperrors.Validation("validation failed", map[string]string{
			"content": "content is required",
		})
	}
	noteType := input.Type
	if noteType == "" {
		noteType = NoteTypeGeneral
	}
	if !noteType.Valid() {
		return nil, apperrors.Validation("validation failed", map[string]string{
			"type": fmt.Sprintf("unknown note type: %s", input.Type),
		})
	}

	req, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(actor, req); err != nil {
		return nil, err
	}

	note := &RequestNote{
		ID:        types.NewID(),
		RequestID: req.ID,
		Content:   input.Content,
		CreatedBy: actorUsername(actor),
		NoteType:  noteType,
		CreatedAt: time.Now(),
	}
	if err := s.repo.AddNote(ctx, note); err != nil {
		return nil, err
	}

	return note, nil
}

// ListNotes returns all notes on a request visible to the actor
func (s *Service) ListNotes(ctx context.Context, actor *auth.User, id types.ID) ([]RequestNote, error) {
	req, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(actor, req); err != nil {
		return nil, err
	}
	return s.repo.ListNotes(ctx, req.ID)
}

// List returns requests scoped to the actor's role: patients get their
// own, doctors their assignments, admins everything.
func (s *Service) List(ctx context.Context, actor *auth.User, filter ListFilter) ([]ConsultationRequest, int, error) {
	if actor != nil {
		switch actor.Role {
		case auth.RolePatient:
			filter.PatientUsername = actor.Username
		case auth.RoleDoctor:
			filter.DoctorUsername = actor.Username
		}
	}
	return s.repo.List(ctx, filter)
}

// Stats aggregates request counts by status and urgency
func (s *Service) Stats(ctx context.Context) (*RequestStats, error) {
	return s.repo.Stats(ctx)
}

// AssignPending retries matching for queued requests, oldest first.
// Called when doctor capacity appears (a doctor comes online or
// finishes a consultation). Returns the number of requests assigned.
func (s *Service) AssignPending(ctx context.Context) (int, error) {
	pending := StatusPending
	requests, _, err := s.repo.List(ctx, ListFilter{Status: &pending, Limit: 100})
	if err != nil {
		return 0, err
	}

	// List is newest first; serve the oldest queued request first
	assigned := 0
	for i := len(requests) - 1; i >= 0; i-- {
		req := requests[i]

		mu := s.lockFor(req.ID)
		mu.Lock()

		current, err := s.repo.Get(ctx, req.ID)
		if err != nil || current.Status != StatusPending {
			mu.Unlock()
			continue
		}

		doctor, err := s.assignDoctor(ctx, current, "")
		if err != nil || doctor == "" {
			mu.Unlock()
			continue
		}

		if err := s.repo.Update(ctx, current); err != nil {
			s.registry.DecrementLoad(ctx, doctor)
			mu.Unlock()
			return assigned, err
		}
		mu.Unlock()

		assigned++
		metrics.RecordStatusChange(string(StatusPending), string(StatusAssigned))

		s.systemNote(ctx, current.ID, "system",
			fmt.Sprintf("assigned to doctor %s from queue", doctor))
		s.publish(ctx, "consultation.assigned", current, map[string]any{
			"doctor_username": doctor,
		})
		s.notifyDoctor(current, notification.KindDoctorAssigned,
			"New consultation assigned",
			fmt.Sprintf("A queued %s consultation request was assigned to you", current.Category))
		s.notifyPatient(current, notification.KindDoctorAssigned,
			"Doctor assigned",
			fmt.Sprintf("Your request was assigned to doctor %s", doctor))
	}

	return assigned, nil
}

// authorize checks read access to a request
func (s *Service) authorize(actor *auth.User, req *ConsultationRequest) error {
	if actor == nil || actor.Role == auth.RoleAdmin {
		return nil
	}
	if !req.IsParticipant(actor.Username) {
		return apperrors.Forbidden("not a participant of this consultation")
	}
	return nil
}

// authorizeTransition checks who may drive which transition: patients
// cancel their own requests, doctors accept, reject and complete their
// assignments, admins do anything.
func (s *Service) authorizeTransition(actor *auth.User, req *ConsultationRequest, to Status) error {
	if actor == nil || actor.Role == auth.RoleAdmin {
		return nil
	}

	switch actor.Role {
	case auth.RolePatient:
		if req.PatientUsername != actor.Username {
			return apperrors.Forbidden("not a participant of this consultation")
		}
		if to != StatusCancelled {
			return apperrors.Forbidden("patients may only cancel their requests")
		}
	case auth.RoleDoctor:
		if req.AssignedDoctorUsername != actor.Username {
			return apperrors.Forbidden("not the assigned doctor")
		}
		switch to {
		case StatusAccepted, StatusRejected, StatusCompleted:
		default:
			return apperrors.Forbidden("doctors may only accept, reject or complete")
		}
	default:
		return apperrors.Forbidden("role may not change consultation status")
	}

	return nil
}

func (s *Service) statusNote(ctx context.Context, req *ConsultationRequest, actor *auth.User, from Status, input UpdateStatusInput) {
	content := fmt.Sprintf("status changed from %s to %s", from, input.Status)
	if input.Status == StatusRejected && input.Reason != "" {
		content += ": " + input.Reason
	}
	s.note(ctx, req.ID, actorUsername(actor), NoteTypeStatusChange, content)
}

func (s *Service) systemNote(ctx context.Context, id types.ID, createdBy, content string) {
	s.note(ctx, id, createdBy, NoteTypeAdministrative, content)
}

func (s *Service) note(ctx context.Context, id types.ID, createdBy string, noteType NoteType, content string) {
	note := &RequestNote{
		ID:        types.NewID(),
		RequestID: id,
		Content:   content,
		CreatedBy: createdBy,
		NoteType:  noteType,
		CreatedAt: time.Now(),
	}
	if err := s.repo.AddNote(ctx, note); err != nil {
		log.Printf("failed to record note on %s: %v", id, err)
	}
}

func (s *Service) publish(ctx context.Context, eventType string, req *ConsultationRequest, extra map[string]any) {
	if s.bus == nil {
		return
	}

	data := map[string]any{
		"request_id":       req.ID,
		"patient_username": req.PatientUsername,
		"category":         req.Category,
		"status":           req.Status,
		"urgency":          req.Urgency,
	}
	for k, v := range extra {
		data[k] = v
	}

	s.bus.Publish(ctx, events.NewEvent(eventType, "consultation", data))
}

func (s *Service) notifyStatusChange(req *ConsultationRequest, from, to Status) {
	switch to {
	case StatusAccepted:
		s.notifyPatient(req, notification.KindRequestAccepted,
			"Consultation accepted",
			fmt.Sprintf("Doctor %s accepted your consultation request", req.AssignedDoctorUsername))
	case StatusRejected:
		s.notifyPatient(req, notification.KindRequestRejected,
			"Consultation rejected",
			"Your consultation request was rejected")
	case StatusCompleted:
		s.notifyPatient(req, notification.KindRequestComplete,
			"Consultation completed",
			"Your consultation has been completed")
	case StatusCancelled:
		if req.AssignedDoctorUsername != "" {
			s.notifyDoctor(req, notification.KindRequestCancel,
				"Consultation cancelled",
				"A consultation assigned to you was cancelled")
		}
	}
}

func (s *Service) notifyPatient(req *ConsultationRequest, kind notification.Kind, subject, body string) {
	s.notify(req, kind, req.PatientUsername, auth.RolePatient, subject, body)
}

func (s *Service) notifyDoctor(req *ConsultationRequest, kind notification.Kind, subject, body string) {
	s.notify(req, kind, req.AssignedDoctorUsername, auth.RoleDoctor, subject, body)
}

func (s *Service) notify(req *ConsultationRequest, kind notification.Kind, recipient, role, subject, body string) {
	if s.dispatcher == nil || recipient == "" {
		return
	}

	s.dispatcher.Notify(&notification.Notification{
		Kind:              kind,
		RecipientUsername: recipient,
		RecipientRole:     role,
		Subject:           subject,
		Body:              body,
		RequestID:         req.ID.String(),
		Data: map[string]any{
			"category": req.Category,
			"status":   string(req.Status),
			"urgency":  string(req.Urgency),
		},
	})
}

func actorUsername(actor *auth.User) string {
	if actor == nil {
		return "system"
	}
	return actor.Username
}
