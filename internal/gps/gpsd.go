package gps

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"strings"
	"time"

	"compass-ng/internal/geo"
)

const (
	gpsdDefaultAddr = "127.0.0.1:2947"
	gpsdDialTimeout = 2 * time.Second

	// gpsd TPV modes.
	gpsdModeNoFix = 1
	gpsdMode3D    = 3
)

// gpsdWatchCmd asks gpsd for JSON reports in SI units.
const gpsdWatchCmd = `?WATCH={"enable":true,"json":true,"scaled":true}` + "\n"

func dialGPSD(ctx context.Context, addr string) (net.Conn, error) {
	if strings.TrimSpace(addr) == "" {
		addr = gpsdDefaultAddr
	}
	d := &net.Dialer{Timeout: gpsdDialTimeout}
	return d.DialContext(ctx, "tcp", addr)
}

func gpsdWatch(conn net.Conn) error {
	_, err := conn.Write([]byte(gpsdWatchCmd))
	return err
}

// gpsdReport is the union of the report classes the reader consumes. gpsd
// sends one JSON object per line; fields absent for a class stay nil.
type gpsdReport struct {
	Class string `json:"class"`

	// TPV
	Mode *int     `json:"mode"`
	Time string   `json:"time"`
	Lat  *float64 `json:"lat"`
	Lon  *float64 `json:"lon"`
	Eph  *float64 `json:"eph"`
	Epx  *float64 `json:"epx"`
	Epy  *float64 `json:"epy"`

	// SKY
	HDOP       *float64 `json:"hdop"`
	USat       *int     `json:"uSat"`
	Satellites []struct {
		Used bool `json:"used"`
	} `json:"satellites"`

	// ERROR
	Message string `json:"message"`
}

// horizontalErrorM prefers gpsd's own estimate and falls back to the
// combined longitude/latitude error.
func (r gpsdReport) horizontalErrorM() (float64, bool) {
	if r.Eph != nil {
		return *r.Eph, true
	}
	if r.Epx != nil && r.Epy != nil {
		return math.Hypot(*r.Epx, *r.Epy), true
	}
	return 0, false
}

func (r gpsdReport) usedSatellites() (int, bool) {
	if r.USat != nil {
		return *r.USat, true
	}
	if r.Satellites == nil {
		return 0, false
	}
	n := 0
	for _, sat := range r.Satellites {
		if sat.Used {
			n++
		}
	}
	return n, true
}

// gpsdState folds the gpsd report stream into the latest fix.
type gpsdState struct {
	addr string

	pos     geo.Coordinate
	havePos bool
	mode    *int
	sats    *int
	hdop    *float64
	hAccM   *float64

	lastFix time.Time
	valid   bool
	lastErr string
}

func newGPSDState(addr string) *gpsdState {
	return &gpsdState{addr: strings.TrimSpace(addr)}
}

// applyLine decodes one report. It reports whether the state changed.
func (s *gpsdState) applyLine(nowUTC time.Time, line string) (bool, error) {
	var r gpsdReport
	if err := json.Unmarshal([]byte(line), &r); err != nil {
		return false, fmt.Errorf("gpsd: bad report: %v", err)
	}
	switch strings.ToUpper(r.Class) {
	case "TPV":
		return s.applyTPV(nowUTC, r), nil
	case "SKY":
		return s.applySKY(r), nil
	case "ERROR":
		s.lastErr = "gpsd: " + r.Message
		return false, fmt.Errorf("gpsd: %s", r.Message)
	default:
		// VERSION, DEVICES, WATCH and friends carry nothing position-related.
		return false, nil
	}
}

func (s *gpsdState) applyTPV(nowUTC time.Time, r gpsdReport) bool {
	changed := false
	if r.Mode != nil {
		s.mode = intPtr(*r.Mode)
		changed = true
	}
	if acc, ok := r.horizontalErrorM(); ok {
		s.hAccM = &acc
		changed = true
	}

	hasPos := r.Lat != nil && r.Lon != nil
	if hasPos {
		s.pos = geo.Coordinate{LatDeg: *r.Lat, LonDeg: *r.Lon}
		s.havePos = true
		changed = true
	}

	// A "no fix" report keeps the last position for display but withdraws
	// validity; only a TPV carrying a position at mode >= 2 is a fix.
	if s.mode != nil && *s.mode <= gpsdModeNoFix {
		s.valid = false
		return changed
	}
	if s.mode == nil || !hasPos {
		return changed
	}
	s.valid = true
	s.lastFix = nowUTC
	if t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(r.Time)); err == nil {
		s.lastFix = t.UTC()
	}
	return true
}

func (s *gpsdState) applySKY(r gpsdReport) bool {
	changed := false
	if r.HDOP != nil {
		s.hdop = floatPtr(*r.HDOP)
		changed = true
	}
	if n, ok := r.usedSatellites(); ok {
		s.sats = intPtr(n)
		changed = true
	}
	return changed
}

func (s *gpsdState) snapshot() Snapshot {
	out := Snapshot{
		Enabled:    true,
		Valid:      s.valid,
		Precise:    s.valid && s.mode != nil && *s.mode >= gpsdMode3D,
		Source:     "gpsd",
		Device:     "gpsd",
		GPSDAddr:   s.addr,
		FixMode:    copyInt(s.mode),
		Satellites: copyInt(s.sats),
		HDOP:       copyFloat(s.hdop),
		HorizAccM:  copyFloat(s.hAccM),
		LastError:  s.lastErr,
		lastFix:    s.lastFix,
	}
	if s.havePos {
		out.LatDeg = s.pos.LatDeg
		out.LonDeg = s.pos.LonDeg
	}
	if !s.lastFix.IsZero() {
		out.LastFixUTC = s.lastFix.Format(time.RFC3339Nano)
	}
	return out
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	return intPtr(*p)
}

func copyFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	return floatPtr(*p)
}
