package engine

import (
	"sync"
)

// controlState is the state shared between the simulation loop and the
// command ingestor.
type controlState struct {
	mu sync.Mutex

	cleaning bool
	charging bool
	runCount int
	power    float64

	// wake is signalled whenever a request flag is raised so an idle loop
	// reacts without polling.
	wake chan struct{}
}

func newControlState(power float64) *controlState {
	return &controlState{
		power: power,
		wake:  make(chan struct{}, 1),
	}
}

func (s *controlState) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// requestCleaning sets the cleaning request. It reports whether the flag changed.
func (s *controlState) requestCleaning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cleaning {
		return false
	}
	s.cleaning = true
	s.signal()
	return true
}

// requestCharging sets the charging request. It reports whether the flag changed.
func (s *controlState) requestCharging() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.charging {
		return false
	}
	s.charging = true
	s.signal()
	return true
}

func (s *controlState) cancelCleaning() {
	s.mu.Lock()
	s.cleaning = false
	s.mu.Unlock()
}

func (s *controlState) cancelCharging() {
	s.mu.Lock()
	s.charging = false
	s.mu.Unlock()
}

func (s *controlState) resetRunCount() {
	s.mu.Lock()
	s.runCount = 0
	s.mu.Unlock()
}

func (s *controlState) clear() {
	s.mu.Lock()
	s.cleaning, s.charging = false, false
	s.mu.Unlock()
}

// beginCleaning counts a new cleaning cycle and makes cleaning the only
// active request.
func (s *controlState) beginCleaning() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runCount++
	s.cleaning, s.charging = true, false
	return s.runCount
}

// beginCharging makes charging the only active request and empties the battery.
func (s *controlState) beginCharging() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleaning, s.charging = false, true
	s.power = 0
}

// drain lowers the power level by rate, clamped at 0.
func (s *controlState) drain(rate float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.power = max(0, s.power-rate)
	return s.power
}

// charge raises the power level by rate, clamped at 100.
func (s *controlState) charge(rate float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.power = min(maxPower, s.power+rate)
	return s.power
}

type snapshot struct {
	cleaning bool
	charging bool
	runCount int
	power    float64
}

func (s *controlState) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshot{cleaning: s.cleaning, charging: s.charging, runCount: s.runCount, power: s.power}
}
