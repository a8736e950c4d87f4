package notification

import (
	"context"
	"testing"
	"time"

	"github.com/telehealth/platform/internal/shared/config"
)

func testConfig() config.NotifyConfig {
	return config.NotifyConfig{
		Workers:       2,
		BufferSize:    16,
		RetryAttempts: 2,
		RetryDelay:    5 * time.Millisecond,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestDispatcherDelivers(t *testing.T) {
	sender := NewMockSender()
	d := NewDispatcher(sender, testConfig())
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer d.Stop()

	d.Notify(&Notification{
		Kind:              KindDoctorAssigned,
		RecipientUsername: "dr-a",
		Subject:           "New consultation assigned",
	})

	waitFor(t, time.Second, func() bool {
		return len(sender.Sent()) == 1
	})

	stats := d.GetStats()
	if stats.TotalQueued != 1 || stats.TotalSent != 1 {
		t.Errorf("stats: queued=%d sent=%d", stats.TotalQueued, stats.TotalSent)
	}
	if stats.ByKind[KindDoctorAssigned] != 1 {
		t.Errorf("by kind: %v", stats.ByKind)
	}
}

func TestDispatcherRetriesThenFails(t *testing.T) {
	sender := NewMockSender()
	sender.FailOnSend(true)

	d := NewDispatcher(sender, testConfig())
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer d.Stop()

	notif := &Notification{
		Kind:              KindRequestCreated,
		RecipientUsername: "alice",
		Subject:           "Consultation request created",
	}
	d.Notify(notif)

	waitFor(t, time.Second, func() bool {
		return d.GetStats().TotalFailed == 1
	})

	stored, ok := d.Get(notif.ID)
	if !ok {
		t.Fatal("notification not tracked")
	}
	if stored.Status != DeliveryFailed {
		t.Errorf("status: got %s, want %s", stored.Status, DeliveryFailed)
	}
	if stored.RetryCount != 2 {
		t.Errorf("retry count: got %d, want 2", stored.RetryCount)
	}
}

func TestDispatcherRecoversAfterTransientFailure(t *testing.T) {
	sender := NewMockSender()
	sender.FailOnSend(true)

	d := NewDispatcher(sender, config.NotifyConfig{
		Workers:       1,
		BufferSize:    16,
		RetryAttempts: 5,
		RetryDelay:    5 * time.Millisecond,
	})
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer d.Stop()

	d.Notify(&Notification{
		Kind:              KindRequestAccepted,
		RecipientUsername: "alice",
		Subject:           "Consultation accepted",
	})

	// Let at least one attempt fail, then recover
	time.Sleep(10 * time.Millisecond)
	sender.FailOnSend(false)

	waitFor(t, time.Second, func() bool {
		return d.GetStats().TotalSent == 1
	})
}

func TestDispatcherStartStop(t *testing.T) {
	d := NewDispatcher(NewMockSender(), testConfig())

	if err := d.Stop(); err == nil {
		t.Error("Stop before Start must fail")
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := d.Start(context.Background()); err == nil {
		t.Error("second Start must fail")
	}
	if err := d.Stop(); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}
