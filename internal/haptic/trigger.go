package haptic

import (
	"log"
	"math"
	"sync"
	"time"
)

const (
	DefaultToleranceDeg = 5.0
	DefaultPulse        = 100 * time.Millisecond
)

// Vibrator fires a single fire-and-forget pulse.
type Vibrator interface {
	Vibrate(d time.Duration) error
}

// Trigger issues one pulse each time the turn-to-target enters the
// tolerance band, and re-arms only after the turn leaves it again.
type Trigger struct {
	toleranceDeg float64
	pulse        time.Duration
	vib          Vibrator

	mu      sync.Mutex
	latched bool
	pulses  uint64
}

// New returns a Trigger. A nil vibrator makes pulses silent no-ops; the latch
// still behaves the same.
func New(vib Vibrator, toleranceDeg float64, pulse time.Duration) *Trigger {
	if toleranceDeg <= 0 {
		toleranceDeg = DefaultToleranceDeg
	}
	if pulse <= 0 {
		pulse = DefaultPulse
	}
	return &Trigger{toleranceDeg: toleranceDeg, pulse: pulse, vib: vib}
}

// Observe evaluates the current signed turn and reports whether a pulse fired.
func (t *Trigger) Observe(turnDeg float64) bool {
	t.mu.Lock()
	inBand := math.Abs(turnDeg) < t.toleranceDeg
	if !inBand {
		t.latched = false
		t.mu.Unlock()
		return false
	}
	if t.latched {
		t.mu.Unlock()
		return false
	}
	t.latched = true
	t.pulses++
	vib := t.vib
	pulse := t.pulse
	t.mu.Unlock()

	if vib != nil {
		if err := vib.Vibrate(pulse); err != nil {
			log.Printf("haptic: vibrate failed: %v", err)
		}
	}
	return true
}

func (t *Trigger) Latched() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.latched
}

// Pulses returns the number of pulses fired so far.
func (t *Trigger) Pulses() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pulses
}
