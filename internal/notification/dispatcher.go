package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/telehealth/platform/internal/shared/config"
	"github.com/telehealth/platform/internal/shared/metrics"
)

// Sender delivers a notification over some channel (push, SMS, email).
// The dispatcher treats delivery as best effort: a consultation
// operation never fails because its notification did.
type Sender interface {
	Send(ctx context.Context, notification *Notification) error
}

// Dispatcher fans notifications out to a worker pool with bounded
// buffering and retry
type Dispatcher struct {
	sender Sender
	cfg    config.NotifyConfig

	mu      sync.RWMutex
	history map[string]*Notification
	stats   Stats

	notifCh chan *Notification
	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher backed by the given sender
func NewDispatcher(sender Sender, cfg config.NotifyConfig) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 30 * time.Second
	}
	return &Dispatcher{
		sender:  sender,
		cfg:     cfg,
		history: make(map[string]*Notification),
		stats:   Stats{ByKind: make(map[Kind]int64)},
		notifCh: make(chan *Notification, cfg.BufferSize),
		stopCh:  make(chan struct{}),
	}
}

// Start launches the worker pool
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher already started")
	}
	d.started = true
	d.mu.Unlock()

	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}

	return nil
}

// Stop drains the workers and waits for them to exit
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher not started")
	}
	d.mu.Unlock()

	close(d.stopCh)
	d.wg.Wait()

	return nil
}

// Notify queues a notification for delivery. A full buffer drops the
// notification and records the failure; it never blocks the caller.
func (d *Dispatcher) Notify(notification *Notification) {
	if notification.ID == "" {
		notification.ID = fmt.Sprintf("ntf-%d", time.Now().UnixNano())
	}
	now := time.Now()
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = now
	}
	notification.UpdatedAt = now
	notification.Status = DeliveryPending

	d.mu.Lock()
	d.history[notification.ID] = notification
	d.stats.TotalQueued++
	d.stats.ByKind[notification.Kind]++
	d.mu.Unlock()

	select {
	case d.notifCh <- notification:
	default:
		d.markFailed(notification, fmt.Errorf("notification buffer full"))
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case notif := <-d.notifCh:
			d.process(ctx, notif)
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, notif *Notification) {
	var err error
	if d.sender != nil {
		err = d.sender.Send(ctx, notif)
	}

	if err == nil {
		d.markSent(notif)
		return
	}

	d.mu.Lock()
	notif.ErrorMessage = err.Error()
	notif.RetryCount++
	now := time.Now()
	notif.LastRetryAt = &now
	notif.UpdatedAt = now
	exhausted := notif.RetryCount >= d.cfg.RetryAttempts
	d.mu.Unlock()

	if exhausted {
		d.markFailed(notif, err)
		return
	}

	// Re-queue after the retry delay
	go func() {
		select {
		case <-d.stopCh:
			return
		case <-time.After(d.cfg.RetryDelay):
		}
		select {
		case d.notifCh <- notif:
		default:
			d.markFailed(notif, fmt.Errorf("notification buffer full on retry"))
		}
	}()
}

func (d *Dispatcher) markSent(notif *Notification) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	notif.SentAt = &now
	notif.Status = DeliverySent
	notif.UpdatedAt = now

	d.stats.TotalSent++
	d.updateRateLocked()
	metrics.RecordNotification(string(notif.Kind), true)
}

func (d *Dispatcher) markFailed(notif *Notification, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	notif.Status = DeliveryFailed
	notif.ErrorMessage = err.Error()
	notif.UpdatedAt = time.Now()

	d.stats.TotalFailed++
	d.updateRateLocked()
	metrics.RecordNotification(string(notif.Kind), false)
}

func (d *Dispatcher) updateRateLocked() {
	done := d.stats.TotalSent + d.stats.TotalFailed
	if done > 0 {
		d.stats.DeliveryRate = float64(d.stats.TotalSent) / float64(done)
	}
}

// Get returns a notification by ID
func (d *Dispatcher) Get(id string) (*Notification, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.history[id]
	return n, ok
}

// GetStats returns a snapshot of delivery statistics
func (d *Dispatcher) GetStats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := d.stats
	out.ByKind = make(map[Kind]int64, len(d.stats.ByKind))
	for k, v := range d.stats.ByKind {
		out.ByKind[k] = v
	}
	return out
}
