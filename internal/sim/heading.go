package sim

import (
	"context"
	"fmt"
	"time"

	"compass-ng/internal/heading"
	"compass-ng/internal/session"
)

// HeadingSource sweeps a compass heading through a full turn every Period.
type HeadingSource struct {
	Period   time.Duration
	Interval time.Duration

	now func() time.Time
}

func NewHeadingSource(period, interval time.Duration) *HeadingSource {
	if period <= 0 {
		period = DefaultPeriod
	}
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &HeadingSource{Period: period, Interval: interval, now: time.Now}
}

// HeadingAt returns the swept heading in [0,360).
func (s *HeadingSource) HeadingAt(now time.Time) float64 {
	period := s.Period
	if period <= 0 {
		period = DefaultPeriod
	}
	phase := float64(now.UnixNano()%period.Nanoseconds()) / float64(period.Nanoseconds())
	return 360 * phase
}

func (s *HeadingSource) Subscribe(ctx context.Context, onSample func(heading.Sample)) (session.Subscription, error) {
	if s == nil {
		return nil, fmt.Errorf("sim: heading source is nil")
	}
	if ctx == nil {
		return nil, fmt.Errorf("sim: ctx is nil")
	}
	if onSample == nil {
		return nil, fmt.Errorf("sim: onSample is nil")
	}
	now := s.now
	if now == nil {
		now = time.Now
	}
	emit := func() {
		h := s.HeadingAt(now())
		onSample(heading.Sample{CompassHeadingDeg: &h})
	}
	return startLoop(ctx, s.Interval, emit), nil
}
