package sim

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"compass-ng/internal/geo"
	"compass-ng/internal/heading"
	"compass-ng/internal/nav"
	"compass-ng/internal/session"
)

// ScenarioScript is a deterministic, script-driven walk.
//
// Time is expressed as Go duration strings (e.g. "0s", "250ms", "10s").
// If Duration is zero, it is derived from the latest keyframe time.
//
// YAML schema (v1):
//
//	version: 1
//	duration: 30s
//	loop: true
//	keyframes:
//	  - t: 0s
//	    lat_deg: 13.7300
//	    lon_deg: 100.5790
//	    heading_deg: 90
//	  - t: 10s
//	    signal_lost: true
//
// Keyframes must be sorted by time and use non-decreasing t values. A
// signal_lost keyframe turns the interval up to the next keyframe into a
// location outage.
type ScenarioScript struct {
	Version   int           `yaml:"version"`
	Duration  time.Duration `yaml:"duration"`
	Loop      bool          `yaml:"loop"`
	Keyframes []Keyframe    `yaml:"keyframes"`
}

// Keyframe is a time-stamped walker state.
type Keyframe struct {
	T          time.Duration `yaml:"t"`
	LatDeg     float64       `yaml:"lat_deg"`
	LonDeg     float64       `yaml:"lon_deg"`
	HeadingDeg *float64      `yaml:"heading_deg"`
	SignalLost bool          `yaml:"signal_lost"`
}

// Scenario is the validated, runtime representation.
type Scenario struct {
	script ScenarioScript
	// Derived duration (script.Duration or max keyframe time).
	duration time.Duration
}

// LoadScenarioScript reads and unmarshals a YAML scenario script from path.
func LoadScenarioScript(path string) (ScenarioScript, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return ScenarioScript{}, err
	}
	return ParseScenarioScriptYAML(b)
}

// ParseScenarioScriptYAML parses a YAML scenario script.
func ParseScenarioScriptYAML(b []byte) (ScenarioScript, error) {
	var s ScenarioScript
	if err := yaml.Unmarshal(b, &s); err != nil {
		return ScenarioScript{}, err
	}
	return s, nil
}

// NewScenario validates script and returns a runtime Scenario.
func NewScenario(script ScenarioScript) (*Scenario, error) {
	if script.Version == 0 {
		script.Version = 1
	}
	if script.Version != 1 {
		return nil, fmt.Errorf("unsupported scenario version %d", script.Version)
	}
	if len(script.Keyframes) == 0 {
		return nil, fmt.Errorf("keyframes is required")
	}
	for i, kf := range script.Keyframes {
		if kf.T < 0 {
			return nil, fmt.Errorf("keyframes[%d].t must be >= 0", i)
		}
		if i > 0 && kf.T < script.Keyframes[i-1].T {
			return nil, fmt.Errorf("keyframes must be sorted by t (index %d)", i)
		}
	}
	if script.Keyframes[0].SignalLost {
		// Interpolation needs a position to start from.
		return nil, fmt.Errorf("keyframes[0] cannot be signal_lost")
	}

	dur := script.Duration
	if dur <= 0 {
		dur = script.Keyframes[len(script.Keyframes)-1].T
	}
	if dur <= 0 {
		return nil, fmt.Errorf("duration is required (or deriveable from keyframes)")
	}
	return &Scenario{script: script, duration: dur}, nil
}

// Duration returns the effective scenario duration.
func (s *Scenario) Duration() time.Duration {
	if s == nil {
		return 0
	}
	return s.duration
}

// ScenarioState is the computed walker state at a time.
type ScenarioState struct {
	Position    geo.Coordinate
	HeadingDeg  float64
	HeadingOK   bool
	SignalLost  bool
	ElapsedTime time.Duration
}

// StateAt computes the walker state at elapsed.
//
// With loop set, elapsed wraps around Duration(). Otherwise it is clamped
// to [0, Duration()].
func (s *Scenario) StateAt(elapsed time.Duration) ScenarioState {
	if s == nil {
		return ScenarioState{}
	}
	if elapsed < 0 {
		elapsed = 0
	}
	if s.script.Loop {
		elapsed = elapsed % s.duration
	} else if elapsed > s.duration {
		elapsed = s.duration
	}

	kfs := s.script.Keyframes
	kf0, kf1, alpha := selectSegment(kfs, elapsed)
	out := ScenarioState{ElapsedTime: elapsed}
	if kf0.SignalLost {
		out.SignalLost = true
	}

	// A lost-signal keyframe carries no position; hold the last real one.
	p0 := lastPosition(kfs, kf0)
	p1 := p0
	if !kf1.SignalLost {
		p1 = geo.Coordinate{LatDeg: kf1.LatDeg, LonDeg: kf1.LonDeg}
	}
	out.Position = geo.Coordinate{
		LatDeg: lerp(p0.LatDeg, p1.LatDeg, alpha),
		LonDeg: lerp(p0.LonDeg, p1.LonDeg, alpha),
	}

	switch {
	case kf0.HeadingDeg != nil && kf1.HeadingDeg != nil:
		out.HeadingDeg = lerpAngleDeg(*kf0.HeadingDeg, *kf1.HeadingDeg, alpha)
		out.HeadingOK = true
	case kf0.HeadingDeg != nil:
		out.HeadingDeg = lerpAngleDeg(*kf0.HeadingDeg, *kf0.HeadingDeg, 0)
		out.HeadingOK = true
	}
	return out
}

func lastPosition(kfs []Keyframe, at Keyframe) geo.Coordinate {
	var pos geo.Coordinate
	for _, kf := range kfs {
		if kf.T > at.T {
			break
		}
		if !kf.SignalLost {
			pos = geo.Coordinate{LatDeg: kf.LatDeg, LonDeg: kf.LonDeg}
		}
	}
	return pos
}

func selectSegment(kfs []Keyframe, t time.Duration) (Keyframe, Keyframe, float64) {
	if len(kfs) == 1 {
		return kfs[0], kfs[0], 0
	}
	idx := sort.Search(len(kfs), func(i int) bool { return kfs[i].T > t })
	if idx <= 0 {
		return kfs[0], kfs[0], 0
	}
	if idx >= len(kfs) {
		last := kfs[len(kfs)-1]
		return last, last, 0
	}
	k0 := kfs[idx-1]
	k1 := kfs[idx]
	dt := k1.T - k0.T
	if dt <= 0 {
		return k1, k1, 0
	}
	alpha := float64(t-k0.T) / float64(dt)
	if alpha < 0 {
		alpha = 0
	}
	if alpha > 1 {
		alpha = 1
	}
	return k0, k1, alpha
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

func lerpAngleDeg(a0, a1, t float64) float64 {
	// Shortest-path interpolation across wraparound.
	norm := func(x float64) float64 {
		for x < 0 {
			x += 360
		}
		for x >= 360 {
			x -= 360
		}
		return x
	}
	a0 = norm(a0)
	a1 = norm(a1)
	delta := a1 - a0
	if delta > 180 {
		delta -= 360
	} else if delta < -180 {
		delta += 360
	}
	return norm(a0 + delta*t)
}

// ScenarioSource plays a Scenario as both the location and the orientation
// stream. Elapsed time starts at the first subscription.
type ScenarioSource struct {
	scn      *Scenario
	interval time.Duration
	now      func() time.Time

	mu    sync.Mutex
	start time.Time
}

func NewScenarioSource(scn *Scenario, interval time.Duration) *ScenarioSource {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &ScenarioSource{scn: scn, interval: interval, now: time.Now}
}

func (s *ScenarioSource) stateNow() (ScenarioState, time.Time) {
	now := s.now()
	s.mu.Lock()
	if s.start.IsZero() {
		s.start = now
	}
	elapsed := now.Sub(s.start)
	s.mu.Unlock()
	return s.scn.StateAt(elapsed), now
}

func (s *ScenarioSource) Watch(ctx context.Context, _ session.WatchOptions, onFix func(nav.Fix), onError func(error)) (session.Subscription, error) {
	if s == nil || s.scn == nil {
		return nil, fmt.Errorf("sim: scenario source is nil")
	}
	if ctx == nil {
		return nil, fmt.Errorf("sim: ctx is nil")
	}
	if onFix == nil {
		return nil, fmt.Errorf("sim: onFix is nil")
	}
	emit := func() {
		st, now := s.stateNow()
		if st.SignalLost {
			if onError != nil {
				onError(fmt.Errorf("%w: scripted signal loss at %s", session.ErrFix, st.ElapsedTime))
			}
			return
		}
		onFix(nav.Fix{Coordinate: st.Position, Time: now})
	}
	return startLoop(ctx, s.interval, emit), nil
}

func (s *ScenarioSource) Subscribe(ctx context.Context, onSample func(heading.Sample)) (session.Subscription, error) {
	if s == nil || s.scn == nil {
		return nil, fmt.Errorf("sim: scenario source is nil")
	}
	if ctx == nil {
		return nil, fmt.Errorf("sim: ctx is nil")
	}
	if onSample == nil {
		return nil, fmt.Errorf("sim: onSample is nil")
	}
	emit := func() {
		st, _ := s.stateNow()
		if !st.HeadingOK {
			// Mirrors a device that reports no heading.
			onSample(heading.Sample{})
			return
		}
		h := st.HeadingDeg
		onSample(heading.Sample{CompassHeadingDeg: &h})
	}
	return startLoop(ctx, s.interval, emit), nil
}
