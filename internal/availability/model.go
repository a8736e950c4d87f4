package availability

import (
	"time"
)

// DoctorAvailability is the registry record for a single doctor: online
// status, declared specialties and the active consultation load counter.
type DoctorAvailability struct {
	DoctorUsername string    `json:"doctor_username"`
	IsOnline       bool      `json:"is_online"`
	Specialties    []string  `json:"specialties"`
	CurrentLoad    int       `json:"current_load"`
	MaxLoad        int       `json:"max_load"`
	LastSeen       time.Time `json:"last_seen"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasSpecialty reports whether the doctor declares the given specialty
func (d *DoctorAvailability) HasSpecialty(specialty string) bool {
	for _, s := range d.Specialties {
		if s == specialty {
			return true
		}
	}
	return false
}

// MatchingSpecialties counts how many of the given specialties the
// doctor declares
func (d *DoctorAvailability) MatchingSpecialties(specialties []string) int {
	count := 0
	for _, s := range specialties {
		if d.HasSpecialty(s) {
			count++
		}
	}
	return count
}

// AtCapacity reports whether the doctor cannot take another consultation
func (d *DoctorAvailability) AtCapacity() bool {
	return d.CurrentLoad >= d.MaxLoad
}

// clone returns a copy safe to hand out to callers
func (d *DoctorAvailability) clone() *DoctorAvailability {
	out := *d
	out.Specialties = make([]string, len(d.Specialties))
	copy(out.Specialties, d.Specialties)
	return &out
}

// Filter narrows GetAvailableDoctors results
type Filter struct {
	// Specialties keeps only doctors declaring at least one of these
	Specialties []string `json:"specialties,omitempty"`
	// MaxLoad keeps only doctors with CurrentLoad <= MaxLoad
	MaxLoad *int `json:"max_load,omitempty"`
	// Limit bounds the result; 0 means the configured default
	Limit int `json:"limit,omitempty"`
}

// Stats is the aggregate view over the registry
type Stats struct {
	TotalDoctors        int     `json:"total_doctors"`
	OnlineDoctors       int     `json:"online_doctors"`
	OfflineDoctors      int     `json:"offline_doctors"`
	ActiveConsultations int     `json:"active_consultations"`
	AverageLoad         float64 `json:"average_load"`
}

// SetAvailabilityRequest is the request body for availability updates
type SetAvailabilityRequest struct {
	IsOnline    bool     `json:"is_online"`
	Specialties []string `json:"specialties,omitempty"`
}

// SetMaxLoadRequest is the request body for capacity updates
type SetMaxLoadRequest struct {
	MaxLoad int `json:"max_load"`
}
