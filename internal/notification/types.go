package notification

import (
	"time"
)

// Kind identifies the consultation lifecycle moment a notification
// reports
type Kind string

const (
	KindRequestCreated  Kind = "request_created"
	KindDoctorAssigned  Kind = "doctor_assigned"
	KindRequestAccepted Kind = "request_accepted"
	KindRequestRejected Kind = "request_rejected"
	KindRequestComplete Kind = "request_completed"
	KindRequestCancel   Kind = "request_cancelled"
	KindReassigned      Kind = "request_reassigned"
	KindQueuedPending   Kind = "request_queued"
)

// DeliveryStatus tracks a notification through the worker pool
type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
)

// Notification is a message for one recipient about one consultation
// request
type Notification struct {
	ID                string         `json:"id"`
	Kind              Kind           `json:"kind"`
	Status            DeliveryStatus `json:"status"`
	RecipientUsername string         `json:"recipient_username"`
	RecipientRole     string         `json:"recipient_role"`

	Subject string         `json:"subject"`
	Body    string         `json:"body"`
	Data    map[string]any `json:"data,omitempty"`

	RequestID string `json:"request_id,omitempty"`

	RetryCount   int        `json:"retry_count"`
	LastRetryAt  *time.Time `json:"last_retry_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Stats aggregates dispatcher delivery counts
type Stats struct {
	TotalQueued  int64          `json:"total_queued"`
	TotalSent    int64          `json:"total_sent"`
	TotalFailed  int64          `json:"total_failed"`
	ByKind       map[Kind]int64 `json:"by_kind"`
	DeliveryRate float64        `json:"delivery_rate"`
}
