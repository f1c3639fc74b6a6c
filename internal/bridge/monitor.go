package bridge

import (
	"context"
	"log"
	"time"
)

// Monitor is the periodic health check: one ticker that sweeps overdue
// requests and evicts idle connections. It holds no state of its own beyond
// the timer; everything else lives in the registry and the table.
type Monitor struct {
	reg      *Registry
	broker   *Broker
	interval time.Duration
	maxIdle  time.Duration
	now      func() time.Time
}

// NewMonitor builds a health monitor. interval defaults to 60s and maxIdle
// to 30m when non-positive.
func NewMonitor(reg *Registry, broker *Broker, interval, maxIdle time.Duration) *Monitor {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	if maxIdle <= 0 {
		maxIdle = 30 * time.Minute
	}
	return &Monitor{
		reg:      reg,
		broker:   broker,
		interval: interval,
		maxIdle:  maxIdle,
		now:      time.Now,
	}
}

// SetClock overrides the monitor's time source. Tests only.
func (m *Monitor) SetClock(now func() time.Time) { m.now = now }

// Start runs the tick loop until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Tick()
			}
		}
	}()
}

// Tick performs one health pass: fail overdue requests, then detach
// connections idle beyond the threshold (which cascades into cancellation of
// their remaining requests via the registry's detach hook).
func (m *Monitor) Tick() {
	now := m.now()

	if n := m.broker.SweepExpired(now); n > 0 {
		log.Printf("health check: %d request(s) timed out", n)
	}

	stale := m.reg.IdleBefore(now.Add(-m.maxIdle))
	for _, id := range stale {
		log.Printf("health check: evicting idle connection %s", id)
		m.reg.Detach(id)
	}
}
