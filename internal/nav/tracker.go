package nav

import (
	"math"
	"strconv"
	"sync"
	"time"

	"compass-ng/internal/geo"
)

const (
	LabelReady       = "Ready"
	LabelHere        = "Here"
	LabelPlaceholder = "—"

	// HereRadiusM is the inclusive radius inside which the destination counts as reached.
	HereRadiusM = 200.0
	// KilometerThresholdM is the first distance rendered in kilometers.
	// Exactly 2000 m renders as "2.0 km".
	KilometerThresholdM = 2000.0
)

// Fix is one position report from a location source.
type Fix struct {
	Coordinate geo.Coordinate `json:"coordinate"`
	Time       time.Time      `json:"time"`
}

// State is the navigation solution derived from the latest fix.
type State struct {
	TargetBearingDeg float64 `json:"target_bearing_deg"`
	DistanceM        float64 `json:"distance_m"`
	DistanceKnown    bool    `json:"distance_known"`
}

// Label buckets a distance into the display text.
func Label(distanceM float64) string {
	switch {
	case distanceM <= HereRadiusM:
		return LabelHere
	case distanceM < KilometerThresholdM:
		return strconv.FormatFloat(math.Floor(distanceM+0.5), 'f', 0, 64) + " m"
	default:
		return strconv.FormatFloat(distanceM/1000.0, 'f', 1, 64) + " km"
	}
}

// Tracker recomputes bearing and distance to a fixed destination on every fix.
// It retains only the most recent fix.
type Tracker struct {
	dest geo.Coordinate

	mu      sync.RWMutex
	state   State
	last    Fix
	haveFix bool
	label   string
	warning bool
	lastErr string
}

// NewTracker starts in the pre-acquisition state: label "Ready", warning shown.
func NewTracker(dest geo.Coordinate) *Tracker {
	return &Tracker{dest: dest, label: LabelReady, warning: true}
}

func (t *Tracker) Destination() geo.Coordinate {
	return t.dest
}

// Update applies a new fix and returns the recomputed state.
func (t *Tracker) Update(fix Fix) State {
	st := State{
		TargetBearingDeg: geo.Bearing(fix.Coordinate, t.dest),
		DistanceM:        geo.Distance(fix.Coordinate, t.dest),
		DistanceKnown:    true,
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = st
	t.last = fix
	t.haveFix = true
	t.label = Label(st.DistanceM)
	t.warning = false
	t.lastErr = ""
	return st
}

// Fail records a location error. Without a prior fix the label falls back to
// the placeholder; otherwise the last good label stays and only the warning
// is raised.
func (t *Tracker) Fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.warning = true
	if err != nil {
		t.lastErr = err.Error()
	}
	if !t.haveFix {
		t.label = LabelPlaceholder
	}
}

// Acquiring hides the warning when the user starts (or retries) sensor
// acquisition. The label is left as is.
func (t *Tracker) Acquiring() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.warning = false
}

func (t *Tracker) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// LastFix returns the most recent fix, if any.
func (t *Tracker) LastFix() (Fix, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.last, t.haveFix
}

func (t *Tracker) Label() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.label
}

// Warning reports whether the most recent location callback was an error,
// or nothing has happened yet since startup.
func (t *Tracker) Warning() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.warning
}

func (t *Tracker) LastError() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastErr
}
