package service

import (
	"testing"

	"devicemirror/models"
)

func TestEventBusOrderAndTimestamp(t *testing.T) {
	bus := NewEventBus(nil)
	ch, cancel := bus.Subscribe(8)
	defer cancel()

	bus.Publish(models.Event{Type: models.EventSessionStarted, DeviceID: "A"})
	bus.Publish(models.Event{Type: models.EventSessionEnded, DeviceID: "A"})

	first, second := <-ch, <-ch
	if first.Type != models.EventSessionStarted || second.Type != models.EventSessionEnded {
		t.Errorf("events out of order: %v then %v", first.Type, second.Type)
	}
	if first.Timestamp == 0 {
		t.Error("timestamp not set")
	}
}

func TestEventBusDropsForSlowSubscriber(t *testing.T) {
	bus := NewEventBus(nil)
	slow, cancelSlow := bus.Subscribe(1)
	defer cancelSlow()
	fast, cancelFast := bus.Subscribe(4)
	defer cancelFast()

	for i := 0; i < 3; i++ {
		bus.Publish(models.Event{Type: models.EventDevicesUpdated})
	}

	if len(slow) != 1 {
		t.Errorf("slow subscriber holds %d events, want 1", len(slow))
	}
	if len(fast) != 3 {
		t.Errorf("fast subscriber holds %d events, want 3", len(fast))
	}
}

func TestEventBusUnsubscribe(t *testing.T) {
	bus := NewEventBus(nil)
	ch, cancel := bus.Subscribe(1)
	cancel()
	cancel()

	if _, ok := <-ch; ok {
		t.Error("channel still open after unsubscribe")
	}
	bus.Publish(models.Event{Type: models.EventDevicesUpdated})
}
