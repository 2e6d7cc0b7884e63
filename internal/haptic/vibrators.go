package haptic

import (
	"log"
	"sync"
	"time"
)

// LogVibrator stands in for a motor on hosts without one.
type LogVibrator struct{}

func (LogVibrator) Vibrate(d time.Duration) error {
	log.Printf("haptic: pulse %s", d)
	return nil
}

// Relay holds the latest pulse until the frame publisher hands it to the
// browser shell, which calls navigator.vibrate itself.
type Relay struct {
	mu      sync.Mutex
	pending time.Duration
}

func (r *Relay) Vibrate(d time.Duration) error {
	r.mu.Lock()
	r.pending = d
	r.mu.Unlock()
	return nil
}

// Take returns and clears the pending pulse (0 when none).
func (r *Relay) Take() time.Duration {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	d := r.pending
	r.pending = 0
	return d
}
