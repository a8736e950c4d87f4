package notification

import (
	"context"
	"fmt"
	"log"
	"sync"
)

// LogSender writes notifications to the process log. Used when no real
// delivery channel is configured.
type LogSender struct{}

// NewLogSender creates a log-backed sender
func NewLogSender() *LogSender {
	return &LogSender{}
}

// Send logs the notification
func (s *LogSender) Send(ctx context.Context, notification *Notification) error {
	log.Printf("[NOTIFY] kind=%s to=%s subject=%q",
		notification.Kind, notification.RecipientUsername, notification.Subject)
	return nil
}

// MockSender records sent notifications for tests
type MockSender struct {
	mu         sync.RWMutex
	sent       []*Notification
	failOnSend bool
}

// NewMockSender creates a new mock sender
func NewMockSender() *MockSender {
	return &MockSender{}
}

// Send records the notification, or fails when configured to
func (s *MockSender) Send(ctx context.Context, notification *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failOnSend {
		return fmt.Errorf("mock send failure")
	}

	s.sent = append(s.sent, notification)
	return nil
}

// Sent returns a snapshot of recorded notifications
func (s *MockSender) Sent() []*Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Notification, len(s.sent))
	copy(out, s.sent)
	return out
}

// FailOnSend makes every subsequent Send return an error
func (s *MockSender) FailOnSend(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOnSend = fail
}
