package blockfs

import "time"

// DefaultFlushInterval is the periodic flush period of spec.md §6.
const DefaultFlushInterval = 30 * time.Second

// Ticker is the timer interface consumed by the periodic flush loop
// (spec.md §6's "timer interface"). It is narrowed to exactly the shape a
// Volume needs so tests can substitute a manually-driven fake instead of
// waiting on wall-clock time.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// RealTicker wraps time.Ticker to satisfy Ticker.
type RealTicker struct {
	t *time.Ticker
}

// NewRealTicker starts a wall-clock ticker firing every interval.
func NewRealTicker(interval time.Duration) *RealTicker {
	return &RealTicker{t: time.NewTicker(interval)}
}

func (r *RealTicker) C() <-chan time.Time { return r.t.C }
func (r *RealTicker) Stop()               { r.t.Stop() }

// ManualTicker is a test double driven explicitly by calling Tick;
// nothing fires until the test chooses to.
type ManualTicker struct {
	ch      chan time.Time
	stopped bool
}

// NewManualTicker constructs a Ticker that only fires when Tick is called.
func NewManualTicker() *ManualTicker {
	return &ManualTicker{ch: make(chan time.Time, 1)}
}

func (m *ManualTicker) C() <-chan time.Time { return m.ch }
func (m *ManualTicker) Stop()               { m.stopped = true }

// Tick delivers a single simulated tick. It is a no-op after Stop.
func (m *ManualTicker) Tick(at time.Time) {
	if m.stopped {
		return
	}
	m.ch <- at
}
