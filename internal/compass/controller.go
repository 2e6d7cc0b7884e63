// Package compass wires the navigation, smoothing, haptic and session pieces
// into one controller that owns all mutable compass state.
package compass

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"compass-ng/internal/geo"
	"compass-ng/internal/haptic"
	"compass-ng/internal/heading"
	"compass-ng/internal/metrics"
	"compass-ng/internal/nav"
	"compass-ng/internal/session"
	"compass-ng/internal/smooth"
)

// Frame is what the UI shell renders each display refresh.
type Frame struct {
	Seq                uint64        `json:"seq"`
	RotationDeg        float64       `json:"rotation_deg"`
	DesiredRotationDeg float64       `json:"desired_rotation_deg"`
	Label              string        `json:"label"`
	Warning            bool          `json:"warning"`
	EnableVisible      bool          `json:"enable_visible"`
	State              session.State `json:"state"`
	TargetBearingDeg   float64       `json:"target_bearing_deg"`
	HeadingDeg         *float64      `json:"heading_deg,omitempty"`
	DistanceM          *float64      `json:"distance_m,omitempty"`
	VibrateMS          int64         `json:"vibrate_ms,omitempty"`
	LocationError      string        `json:"location_error,omitempty"`
	OrientationError   string        `json:"orientation_error,omitempty"`
}

type Options struct {
	Destination geo.Coordinate

	Location    session.LocationSource
	Orientation session.OrientationSource
	Gate        session.PermissionGate
	Watch       session.WatchOptions

	// Vibrator receives haptic pulses. When it is a *haptic.Relay the pulse
	// is also carried to the shell in the next published frame.
	Vibrator     haptic.Vibrator
	ToleranceDeg float64
	Pulse        time.Duration

	SmoothingFactor float64
	FrameInterval   time.Duration

	Metrics *metrics.Collector
}

// Controller owns the navigation state (via the tracker) and the rotation
// state (via the smoother). The position stream writes bearing/distance,
// the orientation stream writes the desired rotation and the frame loop
// reads it; mu serializes all three the way a single UI thread would.
type Controller struct {
	opts Options

	tracker  *nav.Tracker
	smoother *smooth.Smoother
	trigger  *haptic.Trigger
	session  *session.Machine
	relay    *haptic.Relay
	frames   *Broadcaster
	metrics  *metrics.Collector

	mu          sync.Mutex
	headingDeg  float64
	haveHeading bool

	seq atomic.Uint64

	ctxMu   sync.Mutex
	baseCtx context.Context
}

func New(opts Options) *Controller {
	if opts.FrameInterval <= 0 {
		opts.FrameInterval = smooth.DefaultFrameInterval
	}
	c := &Controller{
		opts:     opts,
		tracker:  nav.NewTracker(opts.Destination),
		smoother: smooth.New(opts.SmoothingFactor),
		trigger:  haptic.New(opts.Vibrator, opts.ToleranceDeg, opts.Pulse),
		frames:   NewBroadcaster(),
		metrics:  opts.Metrics,
	}
	if r, ok := opts.Vibrator.(*haptic.Relay); ok {
		c.relay = r
	}
	c.session = session.New(session.Config{
		Location:      opts.Location,
		Orientation:   opts.Orientation,
		Gate:          opts.Gate,
		Watch:         opts.Watch,
		OnFix:         c.HandleFix,
		OnFixError:    c.HandleFixError,
		OnOrientation: c.HandleOrientation,
	})
	return c
}

func (c *Controller) Destination() geo.Coordinate { return c.opts.Destination }

func (c *Controller) Frames() *Broadcaster { return c.frames }

// LastFix returns the most recent position fix, if any.
func (c *Controller) LastFix() (nav.Fix, bool) { return c.tracker.LastFix() }

// HandleFix is the location success callback.
func (c *Controller) HandleFix(fix nav.Fix) {
	c.mu.Lock()
	st := c.tracker.Update(fix)
	pulsed := false
	if c.haveHeading {
		turn := heading.ShortestTurn(st.TargetBearingDeg, c.headingDeg)
		c.smoother.SetDesired(turn)
		pulsed = c.trigger.Observe(turn)
	}
	c.mu.Unlock()

	c.metrics.ObserveFix(st.DistanceM, st.TargetBearingDeg)
	if pulsed {
		c.metrics.ObservePulse()
	}
}

// HandleFixError is the location error callback.
func (c *Controller) HandleFixError(err error) {
	c.mu.Lock()
	c.tracker.Fail(err)
	c.mu.Unlock()
	c.metrics.ObserveFixError()
	log.Printf("compass: location error: %v", err)
}

// HandleOrientation is the orientation sample callback. Samples without a
// usable heading are skipped.
func (c *Controller) HandleOrientation(s heading.Sample) {
	h, ok := heading.Resolve(s)
	if !ok {
		return
	}
	c.mu.Lock()
	c.headingDeg = h
	c.haveHeading = true
	turn := heading.ShortestTurn(c.tracker.State().TargetBearingDeg, h)
	c.smoother.SetDesired(turn)
	// The latch must see turns in the same order as the smoother.
	pulsed := c.trigger.Observe(turn)
	c.mu.Unlock()

	c.metrics.ObserveOrientation(pulsed)
}

// Enable runs the sensor acquisition sequence (enable button and warning
// retry both land here). Subscriptions live as long as the Run context.
// The warning is hidden while acquiring; a location error raises it again.
func (c *Controller) Enable() error {
	c.mu.Lock()
	c.tracker.Acquiring()
	c.mu.Unlock()
	return c.session.Enable(c.context())
}

func (c *Controller) Session() session.Snapshot {
	return c.session.Snapshot()
}

// Frame returns the current display state without advancing the smoother.
func (c *Controller) Frame() Frame {
	c.mu.Lock()
	st := c.tracker.State()
	f := Frame{
		Seq:                c.seq.Load(),
		RotationDeg:        c.smoother.Current(),
		DesiredRotationDeg: c.smoother.Desired(),
		Label:              c.tracker.Label(),
		Warning:            c.tracker.Warning(),
		TargetBearingDeg:   st.TargetBearingDeg,
	}
	if c.haveHeading {
		h := c.headingDeg
		f.HeadingDeg = &h
	}
	c.mu.Unlock()

	if st.DistanceKnown {
		d := st.DistanceM
		f.DistanceM = &d
	}
	ss := c.session.Snapshot()
	f.State = ss.State
	f.EnableVisible = ss.EnableVisible
	f.LocationError = ss.LocationError
	f.OrientationError = ss.OrientationError
	return f
}

// Tick advances the smoother one frame and returns the frame to render.
func (c *Controller) Tick() Frame {
	c.mu.Lock()
	c.smoother.Tick()
	c.mu.Unlock()
	c.seq.Add(1)

	f := c.Frame()
	if d := c.relay.Take(); d > 0 {
		f.VibrateMS = d.Milliseconds()
	}
	c.metrics.ObserveFrame(f.RotationDeg, int(f.State))
	return f
}

// Run drives the frame loop until ctx is done, publishing every frame.
func (c *Controller) Run(ctx context.Context) error {
	if c == nil {
		return fmt.Errorf("compass: controller is nil")
	}
	if ctx == nil {
		return fmt.Errorf("compass: ctx is nil")
	}
	c.ctxMu.Lock()
	c.baseCtx = ctx
	c.ctxMu.Unlock()

	t := time.NewTicker(c.opts.FrameInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			c.frames.Publish(c.Tick())
		}
	}
}

// Close releases the sensor subscriptions.
func (c *Controller) Close() {
	if c == nil {
		return
	}
	c.session.Close()
}

func (c *Controller) context() context.Context {
	c.ctxMu.Lock()
	defer c.ctxMu.Unlock()
	if c.baseCtx == nil {
		return context.Background()
	}
	return c.baseCtx
}
