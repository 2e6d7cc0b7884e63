// Package sim provides deterministic stand-ins for the position and heading
// sensors, for bench testing without a receiver or a phone.
package sim

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"compass-ng/internal/geo"
	"compass-ng/internal/nav"
	"compass-ng/internal/session"
)

const (
	DefaultPeriod   = 120 * time.Second
	DefaultRadiusM  = 500.0
	DefaultInterval = time.Second
)

// Walker describes a figure-eight walk around a centre point.
type Walker struct {
	Center  geo.Coordinate
	RadiusM float64
	Period  time.Duration
}

// Position returns a deterministic position on the walk.
func (w Walker) Position(now time.Time) geo.Coordinate {
	period := w.Period
	if period <= 0 {
		period = DefaultPeriod
	}
	radiusM := w.RadiusM
	if radiusM <= 0 {
		radiusM = DefaultRadiusM
	}

	radiusDeg := radiusM / (geo.EarthRadiusM * math.Pi / 180.0)
	phase := float64(now.UnixNano()%period.Nanoseconds()) / float64(period.Nanoseconds())

	// Lissajous figure-eight that stays within the radius:
	//	x = cos(2πt), y = 0.5*sin(4πt)
	a := 2 * math.Pi * phase
	x := math.Cos(a)
	y := 0.5 * math.Sin(2*a)

	return geo.Coordinate{
		LatDeg: w.Center.LatDeg + radiusDeg*y,
		LonDeg: w.Center.LonDeg + (radiusDeg*x)/math.Cos(w.Center.LatDeg*math.Pi/180.0),
	}
}

// WalkerSource emits a Walker position as a fix every Interval.
type WalkerSource struct {
	Walker   Walker
	Interval time.Duration

	now func() time.Time
}

func NewWalkerSource(w Walker, interval time.Duration) *WalkerSource {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &WalkerSource{Walker: w, Interval: interval, now: time.Now}
}

func (s *WalkerSource) Watch(ctx context.Context, _ session.WatchOptions, onFix func(nav.Fix), _ func(error)) (session.Subscription, error) {
	if s == nil {
		return nil, fmt.Errorf("sim: walker source is nil")
	}
	if ctx == nil {
		return nil, fmt.Errorf("sim: ctx is nil")
	}
	if onFix == nil {
		return nil, fmt.Errorf("sim: onFix is nil")
	}
	now := s.now
	if now == nil {
		now = time.Now
	}
	emit := func() {
		t := now()
		onFix(nav.Fix{Coordinate: s.Walker.Position(t), Time: t})
	}
	return startLoop(ctx, s.Interval, emit), nil
}

// loop runs fn immediately and then once per interval until stopped.
type loop struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func startLoop(ctx context.Context, interval time.Duration, fn func()) *loop {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ctx, cancel := context.WithCancel(ctx)
	l := &loop{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(l.done)
		t := time.NewTicker(interval)
		defer t.Stop()
		fn()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				fn()
			}
		}
	}()
	return l
}

// Unsubscribe stops the loop and waits for any in-flight callback.
func (l *loop) Unsubscribe() {
	l.once.Do(func() {
		l.cancel()
		<-l.done
	})
}
