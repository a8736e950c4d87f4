package consultation

import (
	"time"

	apperrors "github.com/telehealth/platform/internal/shared/errors"
	"github.com/telehealth/platform/internal/shared/types"
)

// Status is the lifecycle state of a consultation request
type Status string

const (
	StatusPending   Status = "pending"
	StatusAssigned  Status = "assigned"
	StatusAccepted  Status = "accepted"
	StatusCompleted Status = "completed"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further transition is allowed
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusRejected || s == StatusCancelled
}

// Valid reports whether the value is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAssigned, StatusAccepted, StatusCompleted, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// validTransitions is the full lifecycle state machine. A transition
// absent from this table is rejected, which also covers every move out
// of a terminal state.
var validTransitions = map[Status][]Status{
	StatusPending:  {StatusAssigned, StatusCancelled},
	StatusAssigned: {StatusAccepted, StatusRejected, StatusCancelled},
	StatusAccepted: {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether from -> to is a legal move
func CanTransition(from, to Status) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Urgency is the patient-declared priority of a request
type Urgency string

const (
	UrgencyLow       Urgency = "low"
	UrgencyMedium    Urgency = "medium"
	UrgencyHigh      Urgency = "high"
	UrgencyEmergency Urgency = "emergency"
)

// Valid reports whether the value is a known urgency
func (u Urgency) Valid() bool {
	switch u {
	case UrgencyLow, UrgencyMedium, UrgencyHigh, UrgencyEmergency:
		return true
	}
	return false
}

// NoteType distinguishes caller-supplied notes from the automatic ones
// the lifecycle appends
type NoteType string

const (
	NoteTypeGeneral        NoteType = "general"
	NoteTypeMedical        NoteType = "medical"
	NoteTypeAdministrative NoteType = "administrative"
	NoteTypeStatusChange   NoteType = "status_change"
	NoteTypeReassignment   NoteType = "reassignment"
)

// Valid reports whether the value is a known note type
func (n NoteType) Valid() bool {
	switch n {
	case NoteTypeGeneral, NoteTypeMedical, NoteTypeAdministrative, NoteTypeStatusChange, NoteTypeReassignment:
		return true
	}
	return false
}

// ConsultationRequest is the aggregate tracked by the lifecycle manager
type ConsultationRequest struct {
	ID                     types.ID `json:"id"`
	PatientUsername        string   `json:"patient_username"`
	AssignedDoctorUsername string   `json:"assigned_doctor_username,omitempty"`
	Category               string   `json:"category"`
	Description            string   `json:"description"`
	PreferredSpecialties   []string `json:"preferred_specialties,omitempty"`
	Urgency                Urgency  `json:"urgency"`
	Status                 Status   `json:"status"`
	RejectionReason        string   `json:"rejection_reason,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	AssignedAt  *time.Time `json:"assigned_at,omitempty"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// transition applies a guarded status change and stamps the timestamps
// that belong to the new state
func (c *ConsultationRequest) transition(to Status, now time.Time) error {
	if !CanTransition(c.Status, to) {
		return apperrors.InvalidTransition(string(c.Status), string(to))
	}

	c.Status = to
	c.UpdatedAt = now

	switch to {
	case StatusAssigned:
		c.AssignedAt = &now
	case StatusCompleted:
		c.CompletedAt = &now
	}
	return nil
}

// IsParticipant reports whether the username is the patient or the
// assigned doctor on this request
func (c *ConsultationRequest) IsParticipant(username string) bool {
	return c.PatientUsername == username || c.AssignedDoctorUsername == username
}

// RequestNote is an annotation attached to a consultation request
type RequestNote struct {
	ID        types.ID  `json:"id"`
	RequestID types.ID  `json:"request_id"`
	Content   string    `json:"content"`
	CreatedBy string    `json:"created_by"`
	NoteType  NoteType  `json:"note_type"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateRequestInput is the payload for creating a consultation request
type CreateRequestInput struct {
	Category             string   `json:"category"`
	Description          string   `json:"description"`
	PreferredSpecialties []string `json:"preferred_specialties,omitempty"`
	Urgency              Urgency  `json:"urgency,omitempty"`
	// PreferredDoctor skips matching and assigns this doctor directly
	PreferredDoctor string `json:"preferred_doctor,omitempty"`
}

// UpdateStatusInput is the payload for lifecycle transitions
type UpdateStatusInput struct {
	Status Status `json:"status"`
	// ScheduledAt is set when a doctor accepts and books a slot
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	// Reason accompanies a rejection
	Reason string `json:"reason,omitempty"`
}

// AddNoteInput is the payload for attaching a note
type AddNoteInput struct {
	Content string `json:"content"`
	// Type defaults to general when omitted
	Type NoteType `json:"type,omitempty"`
}

// ListFilter narrows List results
type ListFilter struct {
	Status          *Status
	Category        string
	PatientUsername string
	DoctorUsername  string
	Limit           int
	Offset          int
}

// RequestStats aggregates request counts by status
type RequestStats struct {
	Total     int             `json:"total"`
	ByStatus  map[Status]int  `json:"by_status"`
	ByUrgency map[Urgency]int `json:"by_urgency"`
}
