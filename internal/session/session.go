// Package session acquires the orientation and location sensors on a user
// action and tracks the acquisition state.
//
// The two sensors are acquired concurrently: an orientation permission
// prompt never delays the location subscription, and an orientation failure
// never blocks location.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"compass-ng/internal/heading"
	"compass-ng/internal/nav"
)

var (
	// ErrSensorUnavailable means the host has no such sensor (or none is configured).
	ErrSensorUnavailable = errors.New("sensor unavailable")
	// ErrPermissionDenied means the user declined the consent prompt.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrFix wraps location lookup failures such as timeouts or signal loss.
	ErrFix = errors.New("location fix failed")
)

type State int

const (
	Idle State = iota
	AwaitingPermission
	Active
	Denied
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingPermission:
		return "awaiting_permission"
	case Active:
		return "active"
	case Denied:
		return "denied"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText.
func (s *State) UnmarshalText(b []byte) error {
	for _, st := range []State{Idle, AwaitingPermission, Active, Denied} {
		if string(b) == st.String() {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("session: unknown state %q", b)
}

// Subscription is a live sensor stream.
type Subscription interface {
	Unsubscribe()
}

// WatchOptions mirror the knobs a continuous position watch accepts.
type WatchOptions struct {
	HighAccuracy bool
	// MaxAge is how stale a cached fix may be when handed to a new watcher.
	MaxAge time.Duration
}

// LocationSource delivers position fixes (or errors) until unsubscribed.
// Callbacks may run on any goroutine, including synchronously from Watch.
type LocationSource interface {
	Watch(ctx context.Context, opts WatchOptions, onFix func(nav.Fix), onError func(error)) (Subscription, error)
}

// OrientationSource delivers orientation samples until unsubscribed.
type OrientationSource interface {
	Subscribe(ctx context.Context, onSample func(heading.Sample)) (Subscription, error)
}

// PermissionGate asks the user for orientation consent. Hosts without a
// consent requirement simply configure no gate.
type PermissionGate interface {
	RequestPermission(ctx context.Context) (granted bool, err error)
}

type Config struct {
	Location    LocationSource
	Orientation OrientationSource
	Gate        PermissionGate
	Watch       WatchOptions

	OnFix         func(nav.Fix)
	OnFixError    func(error)
	OnOrientation func(heading.Sample)
}

type Snapshot struct {
	State             State  `json:"state"`
	EnableVisible     bool   `json:"enable_visible"`
	LocationActive    bool   `json:"location_active"`
	OrientationActive bool   `json:"orientation_active"`
	OrientationError  string `json:"orientation_error,omitempty"`
	LocationError     string `json:"location_error,omitempty"`
}

type Machine struct {
	cfg Config

	mu             sync.Mutex
	state          State
	enableVisible  bool
	locating       bool
	orienting      bool
	locationSub    Subscription
	orientationSub Subscription
	orientErr      string
	locErr         string
	closed         bool
	cancelGate     context.CancelFunc

	wg sync.WaitGroup
}

func New(cfg Config) *Machine {
	return &Machine{cfg: cfg, state: Idle, enableVisible: true}
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		State:             m.state,
		EnableVisible:     m.enableVisible,
		LocationActive:    m.locationSub != nil,
		OrientationActive: m.orientationSub != nil,
		OrientationError:  m.orientErr,
		LocationError:     m.locErr,
	}
}

// Enable runs the acquisition sequence. It is the handler for both the
// enable button and the warning retry, and is idempotent: streams that are
// already live (or being acquired) are left alone.
//
// ctx bounds the lifetime of the subscriptions, not of this call.
func (m *Machine) Enable(ctx context.Context) error {
	if m == nil {
		return fmt.Errorf("session: machine is nil")
	}
	if ctx == nil {
		return fmt.Errorf("session: ctx is nil")
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("session: closed")
	}
	prev := m.state
	if m.state == Idle || m.state == Denied {
		m.state = AwaitingPermission
	}
	m.enableVisible = false
	needOrient := m.orientationSub == nil && !m.orienting
	needLoc := m.locationSub == nil && !m.locating
	gateCtx := ctx
	if needOrient {
		m.orienting = true
		m.orientErr = ""
		if m.cfg.Gate != nil {
			var cancel context.CancelFunc
			gateCtx, cancel = context.WithCancel(ctx)
			m.cancelGate = cancel
		}
	}
	if needLoc {
		m.locating = true
	}
	cur := m.state
	m.mu.Unlock()

	if prev != cur {
		log.Printf("session: %s -> %s", prev, cur)
	}

	if needOrient {
		if m.cfg.Gate != nil {
			m.wg.Add(1)
			go func() {
				defer m.wg.Done()
				m.requestOrientation(gateCtx, ctx)
			}()
		} else {
			m.subscribeOrientation(ctx)
		}
	}
	if needLoc {
		m.subscribeLocation(ctx)
	}
	return nil
}

// requestOrientation prompts under gateCtx (cancelled by Close) and
// subscribes under ctx once granted.
func (m *Machine) requestOrientation(gateCtx, ctx context.Context) {
	granted, err := m.cfg.Gate.RequestPermission(gateCtx)
	m.mu.Lock()
	if m.cancelGate != nil {
		m.cancelGate()
		m.cancelGate = nil
	}
	m.mu.Unlock()
	if err == nil && !granted {
		err = ErrPermissionDenied
	}
	if err != nil {
		log.Printf("session: orientation permission: %v", err)
		m.mu.Lock()
		m.orienting = false
		m.orientErr = err.Error()
		m.mu.Unlock()
		return
	}
	m.subscribeOrientation(ctx)
}

func (m *Machine) subscribeOrientation(ctx context.Context) {
	var sub Subscription
	var err error
	if m.cfg.Orientation == nil {
		err = ErrSensorUnavailable
	} else {
		sub, err = m.cfg.Orientation.Subscribe(ctx, func(s heading.Sample) {
			if m.cfg.OnOrientation != nil {
				m.cfg.OnOrientation(s)
			}
		})
	}

	m.mu.Lock()
	m.orienting = false
	if err != nil {
		m.orientErr = err.Error()
		m.mu.Unlock()
		log.Printf("session: orientation subscribe failed: %v", err)
		return
	}
	if m.closed {
		m.mu.Unlock()
		sub.Unsubscribe()
		return
	}
	m.orientationSub = sub
	m.mu.Unlock()
	log.Printf("session: orientation subscribed")
}

func (m *Machine) subscribeLocation(ctx context.Context) {
	if m.cfg.Location == nil {
		m.mu.Lock()
		m.locating = false
		m.mu.Unlock()
		m.handleFixError(ErrSensorUnavailable)
		return
	}

	sub, err := m.cfg.Location.Watch(ctx, m.cfg.Watch, m.handleFix, m.handleFixError)
	if err != nil {
		m.mu.Lock()
		m.locating = false
		m.mu.Unlock()
		m.handleFixError(err)
		return
	}

	m.mu.Lock()
	m.locating = false
	if m.closed {
		m.mu.Unlock()
		sub.Unsubscribe()
		return
	}
	m.locationSub = sub
	m.mu.Unlock()
	log.Printf("session: location watch started")
}

func (m *Machine) handleFix(fix nav.Fix) {
	m.mu.Lock()
	m.locErr = ""
	if m.state == AwaitingPermission {
		m.state = Active
		log.Printf("session: %s -> %s", AwaitingPermission, Active)
	}
	m.mu.Unlock()
	if m.cfg.OnFix != nil {
		m.cfg.OnFix(fix)
	}
}

func (m *Machine) handleFixError(err error) {
	if err == nil {
		err = ErrFix
	}
	m.mu.Lock()
	m.locErr = err.Error()
	if m.state == AwaitingPermission {
		m.state = Denied
		log.Printf("session: %s -> %s (%v)", AwaitingPermission, Denied, err)
	}
	m.mu.Unlock()
	if m.cfg.OnFixError != nil {
		m.cfg.OnFixError(err)
	}
}

// Close unsubscribes both streams and abandons a pending permission request.
func (m *Machine) Close() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.closed = true
	loc := m.locationSub
	orient := m.orientationSub
	m.locationSub = nil
	m.orientationSub = nil
	cancelGate := m.cancelGate
	m.cancelGate = nil
	m.mu.Unlock()

	if cancelGate != nil {
		cancelGate()
	}

	if loc != nil {
		loc.Unsubscribe()
	}
	if orient != nil {
		orient.Unsubscribe()
	}
	m.wg.Wait()
}
