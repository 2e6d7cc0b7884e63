package gps

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"compass-ng/internal/geo"
	"compass-ng/internal/nav"
	"compass-ng/internal/session"
)

// DefaultFixTimeout is how long the watchdog waits for a fix before telling
// watchers the position is lost.
const DefaultFixTimeout = 30 * time.Second

// Config controls the GPS reader.
//
// A u-blox receiver typically appears as /dev/ttyACM* and outputs NMEA
// (often GNxxx talker IDs) at 9600 baud by default. Device may be empty to
// auto-detect.
type Config struct {
	Enable bool

	// Source selects how GPS is ingested: "nmea" (direct serial) or "gpsd".
	// When empty, defaults to "nmea".
	Source string

	// GPSDAddr is host:port for gpsd when Source=="gpsd".
	GPSDAddr string

	// Device is the serial device path for Source=="nmea".
	Device string
	Baud   int

	// FixTimeout is the staleness watchdog period (0 uses DefaultFixTimeout,
	// negative disables the watchdog).
	FixTimeout time.Duration
}

type Snapshot struct {
	Enabled  bool `json:"enabled"`
	Valid    bool `json:"valid"`
	FixStale bool `json:"fix_stale"`
	// Precise is set for a gpsd 3D fix, or an NMEA GGA fix from at least
	// four satellites.
	Precise bool `json:"precise"`

	Source   string `json:"source,omitempty"`
	GPSDAddr string `json:"gpsd_addr,omitempty"`

	Device string `json:"device,omitempty"`
	Baud   int    `json:"baud,omitempty"`

	LatDeg     float64  `json:"lat_deg,omitempty"`
	LonDeg     float64  `json:"lon_deg,omitempty"`
	FixQuality *int     `json:"fix_quality,omitempty"`
	FixMode    *int     `json:"fix_mode,omitempty"`
	Satellites *int     `json:"satellites,omitempty"`
	HDOP       *float64 `json:"hdop,omitempty"`
	HorizAccM  *float64 `json:"horiz_acc_m,omitempty"`
	FixAgeSec  float64  `json:"fix_age_sec,omitempty"`

	LastFixUTC string `json:"last_fix_utc,omitempty"`
	LastError  string `json:"last_error,omitempty"`

	lastFix time.Time
}

type watcher struct {
	opts    session.WatchOptions
	onFix   func(nav.Fix)
	onError func(error)
}

type Service struct {
	cfg Config

	cancel context.CancelFunc
	wg     sync.WaitGroup

	last atomic.Value // Snapshot

	mu       sync.Mutex
	closer   io.Closer
	running  bool
	startErr error

	wmu      sync.Mutex
	watchers map[int]*watcher
	nextID   int
	stale    bool
	lastSeen time.Time
}

func New(cfg Config) *Service {
	s := &Service{cfg: cfg, watchers: make(map[int]*watcher)}
	if s.cfg.FixTimeout == 0 {
		s.cfg.FixTimeout = DefaultFixTimeout
	}
	src := sourceName(cfg.Source)
	s.last.Store(Snapshot{Enabled: cfg.Enable, Source: src, GPSDAddr: strings.TrimSpace(cfg.GPSDAddr), Device: cfg.Device, Baud: cfg.Baud})
	return s
}

func sourceName(src string) string {
	src = strings.ToLower(strings.TrimSpace(src))
	if src == "" {
		return "nmea"
	}
	return src
}

func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("gps service is nil")
	}
	if !s.cfg.Enable {
		return nil
	}
	if ctx == nil {
		return fmt.Errorf("ctx is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}

	var err error
	if sourceName(s.cfg.Source) == "gpsd" {
		err = s.startGPSDLocked(ctx)
	} else {
		err = s.startNMEALocked(ctx)
	}
	if err != nil {
		s.startErr = err
		return err
	}
	s.running = true
	s.startErr = nil

	s.wmu.Lock()
	s.lastSeen = time.Now()
	s.wmu.Unlock()
	if s.cfg.FixTimeout > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runWatchdog(ctx)
		}()
	}
	return nil
}

func (s *Service) startNMEALocked(ctx context.Context) error {
	device := strings.TrimSpace(s.cfg.Device)
	if device == "" {
		device = autoDetectDevice()
		if device == "" {
			s.setErrorLocked("gps auto-detect failed: no /dev/ttyACM* or /dev/ttyUSB* found")
			return fmt.Errorf("gps auto-detect failed: %w", session.ErrSensorUnavailable)
		}
	}

	baud := s.cfg.Baud
	if baud == 0 {
		baud = 9600
	}

	f, err := openReceiver(device, baud)
	if err != nil {
		s.setErrorLocked(fmt.Sprintf("gps open failed device=%s baud=%d: %v", device, baud, err))
		return err
	}
	s.closer = f

	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			_ = f.Close()
		}()

		log.Printf("gps: enabled device=%s baud=%d", device, baud)
		st := nmeaState{device: device, baud: baud}
		if err := s.readNMEA(childCtx, f, &st); err != nil {
			s.setError(fmt.Sprintf("gps read stopped: %v", err))
			s.notifyError(fmt.Errorf("%w: receiver stopped: %v", session.ErrFix, err))
		}
	}()

	s.last.Store(Snapshot{Enabled: true, Valid: false, Source: "nmea", Device: device, Baud: baud})
	return nil
}

// readNMEA consumes sentences from r until ctx ends or the reader fails.
func (s *Service) readNMEA(ctx context.Context, r io.Reader, st *nmeaState) error {
	reader := bufio.NewScanner(r)
	// NMEA sentences are typically < 82 chars, but allow some headroom.
	reader.Buffer(make([]byte, 0, 256), 4096)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !reader.Scan() {
			err := reader.Err()
			if err == nil {
				err = io.EOF
			}
			return err
		}

		line := strings.TrimSpace(reader.Text())
		// Some receivers may include non-NMEA chatter; filter quickly.
		if line == "" || !strings.HasPrefix(line, "$") {
			continue
		}

		updated, perr := st.applyLine(time.Now().UTC(), line)
		if perr != nil {
			// Avoid spamming on bad noise; just keep the last error.
			s.setError(perr.Error())
			continue
		}
		if updated {
			s.publish(st.snapshot())
		}
	}
}

func (s *Service) startGPSDLocked(ctx context.Context) error {
	addr := strings.TrimSpace(s.cfg.GPSDAddr)
	if addr == "" {
		addr = gpsdDefaultAddr
	}

	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		log.Printf("gps: enabled source=gpsd addr=%s", addr)
		st := newGPSDState(addr)
		backoff := 250 * time.Millisecond
		maxBackoff := 10 * time.Second

		for {
			select {
			case <-childCtx.Done():
				return
			default:
			}

			conn, err := dialGPSD(childCtx, addr)
			if err != nil {
				s.setError(fmt.Sprintf("gpsd dial failed addr=%s: %v", addr, err))
				t := backoff
				if t > maxBackoff {
					t = maxBackoff
				}
				select {
				case <-childCtx.Done():
					return
				case <-time.After(t):
				}
				if backoff < maxBackoff {
					backoff *= 2
				}
				continue
			}

			backoff = 250 * time.Millisecond

			s.mu.Lock()
			// Swap the closer so Close() can interrupt an active connection.
			s.closer = conn
			s.mu.Unlock()

			func() {
				defer func() { _ = conn.Close() }()

				if err := gpsdWatch(conn); err != nil {
					s.setError(fmt.Sprintf("gpsd watch failed: %v", err))
					return
				}
				if err := s.readGPSD(childCtx, conn, st); err != nil {
					s.setError(fmt.Sprintf("gpsd read stopped: %v", err))
				}
			}()
		}
	}()

	s.last.Store(Snapshot{Enabled: true, Valid: false, Source: "gpsd", GPSDAddr: addr, Device: "gpsd"})
	return nil
}

func (s *Service) readGPSD(ctx context.Context, r io.Reader, st *gpsdState) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 256*1024)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if !scanner.Scan() {
			err := scanner.Err()
			if err == nil {
				err = io.EOF
			}
			return err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		updated, perr := st.applyLine(time.Now().UTC(), line)
		if perr != nil {
			s.setError(perr.Error())
			continue
		}
		if updated {
			s.publish(st.snapshot())
		}
	}
}

// publish stores snap and, when it carries a new valid fix, hands it to
// every watcher.
func (s *Service) publish(snap Snapshot) {
	prev := s.Snapshot()
	s.last.Store(snap)
	if !snap.Valid || snap.lastFix.IsZero() || snap.lastFix.Equal(prev.lastFix) {
		return
	}

	s.wmu.Lock()
	s.lastSeen = time.Now()
	if s.stale {
		s.stale = false
		log.Printf("gps: fix recovered")
	}
	targets := s.watchersLocked()
	s.wmu.Unlock()

	fix := snap.fix()
	for _, w := range targets {
		if w.opts.HighAccuracy && !snap.Precise {
			continue
		}
		w.onFix(fix)
	}
}

func (s *Service) notifyError(err error) {
	s.wmu.Lock()
	targets := s.watchersLocked()
	s.wmu.Unlock()
	for _, w := range targets {
		if w.onError != nil {
			w.onError(err)
		}
	}
}

func (s *Service) watchersLocked() []*watcher {
	out := make([]*watcher, 0, len(s.watchers))
	for _, w := range s.watchers {
		out = append(out, w)
	}
	return out
}

func (snap Snapshot) fix() nav.Fix {
	return nav.Fix{
		Coordinate: geo.Coordinate{LatDeg: snap.LatDeg, LonDeg: snap.LonDeg},
		Time:       snap.lastFix,
	}
}

// Watch registers a fix watcher. A cached fix no older than opts.MaxAge is
// delivered immediately. The watch ends on Unsubscribe or when ctx ends.
func (s *Service) Watch(ctx context.Context, opts session.WatchOptions, onFix func(nav.Fix), onError func(error)) (session.Subscription, error) {
	if s == nil {
		return nil, fmt.Errorf("gps service is nil")
	}
	if ctx == nil {
		return nil, fmt.Errorf("ctx is nil")
	}
	if onFix == nil {
		return nil, fmt.Errorf("gps: onFix is nil")
	}
	if !s.cfg.Enable {
		return nil, fmt.Errorf("gps disabled: %w", session.ErrSensorUnavailable)
	}
	s.mu.Lock()
	running, startErr := s.running, s.startErr
	s.mu.Unlock()
	if !running {
		if startErr != nil {
			return nil, fmt.Errorf("gps not running: %v: %w", startErr, session.ErrSensorUnavailable)
		}
		return nil, fmt.Errorf("gps not running: %w", session.ErrSensorUnavailable)
	}

	w := &watcher{opts: opts, onFix: onFix, onError: onError}
	s.wmu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = w
	s.wmu.Unlock()

	snap := s.Snapshot()
	if snap.Valid && !snap.lastFix.IsZero() && opts.MaxAge > 0 && time.Since(snap.lastFix) <= opts.MaxAge {
		if !opts.HighAccuracy || snap.Precise {
			onFix(snap.fix())
		}
	}

	done := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			s.wmu.Lock()
			delete(s.watchers, id)
			s.wmu.Unlock()
			close(done)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-done:
		}
	}()
	return subscription(stop), nil
}

type subscription func()

func (f subscription) Unsubscribe() { f() }

func (s *Service) runWatchdog(ctx context.Context) {
	period := s.cfg.FixTimeout / 4
	if period > time.Second {
		period = time.Second
	}
	if period <= 0 {
		period = time.Millisecond
	}
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			s.checkStale(now)
		}
	}
}

// checkStale reports a fix error once per outage when no fix has arrived
// within FixTimeout.
func (s *Service) checkStale(now time.Time) bool {
	s.wmu.Lock()
	if s.stale || s.lastSeen.IsZero() || now.Sub(s.lastSeen) < s.cfg.FixTimeout {
		s.wmu.Unlock()
		return false
	}
	s.stale = true
	s.wmu.Unlock()

	cur := s.Snapshot()
	cur.FixStale = true
	s.last.Store(cur)

	err := fmt.Errorf("%w: no fix for %s", session.ErrFix, s.cfg.FixTimeout)
	log.Printf("gps: %v", err)
	s.notifyError(err)
	return true
}

func (s *Service) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	cancel := s.cancel
	closer := s.closer
	s.cancel = nil
	s.closer = nil
	s.running = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if closer != nil {
		_ = closer.Close()
	}
	s.wg.Wait()
}

func (s *Service) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	v := s.last.Load()
	if v == nil {
		return Snapshot{}
	}
	snap := v.(Snapshot)
	if !snap.lastFix.IsZero() {
		snap.FixAgeSec = time.Since(snap.lastFix).Seconds()
	}
	return snap
}

func (s *Service) setError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setErrorLocked(msg)
}

func (s *Service) setErrorLocked(msg string) {
	cur := s.Snapshot()
	cur.LastError = msg
	// Do not force Valid=false here; transient parse issues shouldn't flip validity.
	s.last.Store(cur)
}

func autoDetectDevice() string {
	candidates := []string{}
	for i := 0; i < 10; i++ {
		candidates = append(candidates, fmt.Sprintf("/dev/ttyACM%d", i))
	}
	for i := 0; i < 10; i++ {
		candidates = append(candidates, fmt.Sprintf("/dev/ttyUSB%d", i))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
