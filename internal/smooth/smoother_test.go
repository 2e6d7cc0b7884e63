package smooth

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"
)

func TestTick_SingleStep(t *testing.T) {
	s := New(DefaultFactor)
	s.SetDesired(100)
	if got := s.Tick(); math.Abs(got-10) > 1e-12 {
		t.Fatalf("got=%v want=10", got)
	}
	if got := s.Tick(); math.Abs(got-19) > 1e-12 {
		t.Fatalf("got=%v want=19", got)
	}
}

func TestTick_ConvergesWithoutOvershoot(t *testing.T) {
	for _, desired := range []float64{179.9, -179.9, 42, -5, 0.25} {
		s := New(DefaultFactor)
		s.SetDesired(desired)
		prevGap := math.Abs(desired)
		for i := 0; i < 400; i++ {
			cur := s.Tick()
			gap := math.Abs(desired - cur)
			if gap > prevGap {
				t.Fatalf("desired=%v: gap grew at step %d (%v > %v)", desired, i, gap, prevGap)
			}
			// Never crosses the target: current stays on the starting side.
			if (desired > 0 && cur > desired) || (desired < 0 && cur < desired) {
				t.Fatalf("desired=%v: overshoot at step %d cur=%v", desired, i, cur)
			}
			prevGap = gap
		}
		if math.Abs(s.Current()-desired) > 1e-9 {
			t.Fatalf("desired=%v: did not converge, current=%v", desired, s.Current())
		}
	}
}

func TestTick_NoClampAcrossWrap(t *testing.T) {
	s := New(DefaultFactor)
	s.SetDesired(170)
	for i := 0; i < 200; i++ {
		s.Tick()
	}
	// Heading flips across the discontinuity; the filter eases through 0
	// rather than wrapping.
	s.SetDesired(-170)
	got := s.Tick()
	if math.Abs(got-136) > 1e-6 {
		t.Fatalf("got=%v want=136", got)
	}
}

func TestNew_InvalidFactorFallsBack(t *testing.T) {
	s := New(0)
	s.SetDesired(10)
	if got := s.Tick(); math.Abs(got-1) > 1e-12 {
		t.Fatalf("got=%v want=1", got)
	}
}

func TestRun_TicksUntilCancelled(t *testing.T) {
	s := New(DefaultFactor)
	s.SetDesired(50)

	ctx, cancel := context.WithCancel(context.Background())
	var n atomic.Int64
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, time.Millisecond, func(float64) {
			if n.Add(1) >= 5 {
				cancel()
			}
		})
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err=%v want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop")
	}
	if n.Load() < 5 {
		t.Fatalf("ticks=%d want >=5", n.Load())
	}
	if s.Current() <= 0 {
		t.Fatalf("current=%v want >0", s.Current())
	}
}
