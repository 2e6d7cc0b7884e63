package smooth

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultFactor is the per-frame interpolation fraction.
const DefaultFactor = 0.1

// DefaultFrameInterval approximates a 60 Hz display refresh.
const DefaultFrameInterval = 16 * time.Millisecond

// Smoother eases a displayed rotation toward the latest desired rotation
// with a first-order exponential filter. current is not clamped and may
// pass ±180 while easing across the wrap.
type Smoother struct {
	factor float64

	mu      sync.Mutex
	current float64
	desired float64
}

func New(factor float64) *Smoother {
	if factor <= 0 || factor > 1 {
		factor = DefaultFactor
	}
	return &Smoother{factor: factor}
}

func (s *Smoother) SetDesired(deg float64) {
	s.mu.Lock()
	s.desired = deg
	s.mu.Unlock()
}

func (s *Smoother) Desired() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.desired
}

func (s *Smoother) Current() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Tick advances the filter by one frame and returns the new current rotation.
func (s *Smoother) Tick() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current += (s.desired - s.current) * s.factor
	return s.current
}

// Run ticks once per interval and hands each value to apply until ctx ends.
func (s *Smoother) Run(ctx context.Context, interval time.Duration, apply func(currentDeg float64)) error {
	if s == nil {
		return fmt.Errorf("smoother is nil")
	}
	if ctx == nil {
		return fmt.Errorf("ctx is nil")
	}
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			v := s.Tick()
			if apply != nil {
				apply(v)
			}
		}
	}
}
