package bridge

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMonitorTickSweepsAndEvicts(t *testing.T) {
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := newFakeClock(base)

	reg := NewRegistry(10, 16)
	reg.SetClock(clock.Now)
	table := NewTable()
	table.SetClock(clock.Now)
	broker := NewBroker(reg, table, WithClock(clock.Now))
	monitor := NewMonitor(reg, broker, time.Minute, 30*time.Minute)
	monitor.SetClock(clock.Now)

	idle, _ := reg.Attach("idle-page", "")
	clock.Advance(10 * time.Minute)
	busy, _ := reg.Attach("busy-page", "")

	// One request pending on the busy connection with a short deadline.
	done := dispatchAsync(context.Background(), broker, KindConfirm, nil, time.Second)
	readEnvelope(t, busy)
	waitForPending(t, table, 1)

	// 25 more minutes: the idle connection crosses the 30m threshold, the
	// busy one (touched by the send) does not, and the request is overdue.
	clock.Advance(25 * time.Minute)
	monitor.Tick()

	res := <-done
	if !errors.Is(res.err, ErrRequestTimedOut) {
		t.Errorf("expected ErrRequestTimedOut, got %v", res.err)
	}

	if _, ok := reg.Get(idle.ID); ok {
		t.Error("idle connection should have been evicted")
	}
	if _, ok := reg.Get(busy.ID); !ok {
		t.Error("busy connection should survive the tick")
	}
	if table.Len() != 0 {
		t.Errorf("expected empty table after tick, got %d", table.Len())
	}
}

func TestMonitorEvictionCancelsPendingRequests(t *testing.T) {
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := newFakeClock(base)

	reg := NewRegistry(10, 16)
	reg.SetClock(clock.Now)
	table := NewTable()
	table.SetClock(clock.Now)
	broker := NewBroker(reg, table, WithClock(clock.Now))
	monitor := NewMonitor(reg, broker, time.Minute, 30*time.Minute)
	monitor.SetClock(clock.Now)

	conn, _ := reg.Attach("page", "")

	// Long deadline: the request outlives the idle threshold, so eviction,
	// not the sweep, must be what fails it.
	done := dispatchAsync(context.Background(), broker, KindAsk, nil, 2*time.Hour)
	readEnvelope(t, conn)
	waitForPending(t, table, 1)

	clock.Advance(31 * time.Minute)
	monitor.Tick()

	res := <-done
	if !errors.Is(res.err, ErrConnectionLost) {
		t.Errorf("expected ErrConnectionLost from eviction cascade, got %v", res.err)
	}
	if reg.Len() != 0 {
		t.Errorf("expected empty registry, got %d", reg.Len())
	}
}

func TestMonitorDefaults(t *testing.T) {
	reg := NewRegistry(1, 1)
	broker := NewBroker(reg, NewTable())

	m := NewMonitor(reg, broker, 0, 0)
	if m.interval != 60*time.Second {
		t.Errorf("expected 60s default interval, got %v", m.interval)
	}
	if m.maxIdle != 30*time.Minute {
		t.Errorf("expected 30m default idle threshold, got %v", m.maxIdle)
	}
}
