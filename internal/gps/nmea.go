package gps

import (
	"fmt"
	"strconv"
	"time"

	nmea "github.com/adrianmo/go-nmea"
)

// minPreciseSatellites is the satellite count at which an NMEA fix counts as
// high accuracy.
const minPreciseSatellites = 4

type nmeaState struct {
	device string
	baud   int

	latDeg float64
	lonDeg float64
	posOK  bool

	fixQuality   int
	fixQualityOK bool
	satellites   int
	satsOK       bool
	hdop         float64
	hdopOK       bool

	lastFix time.Time
	valid   bool

	lastErr string
}

// applyLine parses one raw sentence (checksum verified by go-nmea) and
// folds it into the state. Sentence types other than RMC and GGA are ignored.
func (s *nmeaState) applyLine(nowUTC time.Time, line string) (bool, error) {
	sent, err := nmea.Parse(line)
	if err != nil {
		s.lastErr = fmt.Sprintf("nmea: %v", err)
		return false, fmt.Errorf("nmea: %w", err)
	}
	return s.apply(nowUTC, sent), nil
}

func (s *nmeaState) apply(nowUTC time.Time, sent nmea.Sentence) bool {
	switch m := sent.(type) {
	case nmea.RMC:
		return s.applyRMC(nowUTC, m)
	case nmea.GGA:
		return s.applyGGA(m)
	default:
		return false
	}
}

func (s *nmeaState) precise() bool {
	return s.fixQualityOK && s.fixQuality > 0 && s.satsOK && s.satellites >= minPreciseSatellites
}

func (s *nmeaState) snapshot() Snapshot {
	out := Snapshot{
		Enabled: true,
		Valid:   s.valid,
		Precise: s.valid && s.precise(),
		Source:  "nmea",
		Device:  s.device,
		Baud:    s.baud,
		LatDeg:  s.latDeg,
		LonDeg:  s.lonDeg,
		lastFix: s.lastFix,
	}
	if s.fixQualityOK {
		v := s.fixQuality
		out.FixQuality = &v
	}
	if s.satsOK {
		v := s.satellites
		out.Satellites = &v
	}
	if s.hdopOK {
		v := s.hdop
		out.HDOP = &v
	}
	if !s.lastFix.IsZero() {
		out.LastFixUTC = s.lastFix.UTC().Format(time.RFC3339Nano)
	}
	out.LastError = s.lastErr
	return out
}

// applyRMC takes the position from an active RMC sentence. Each active RMC
// is one fix; void sentences leave the state untouched.
func (s *nmeaState) applyRMC(nowUTC time.Time, m nmea.RMC) bool {
	if m.Validity != nmea.ValidRMC {
		return false
	}
	s.latDeg = m.Latitude
	s.lonDeg = m.Longitude
	s.posOK = true
	s.lastFix = nowUTC
	s.valid = true
	return true
}

// applyGGA records fix quality, satellites and HDOP. A zero quality marks
// the receiver as having lost its fix. It never emits a fix on its own so
// RMC stays the single fix cadence.
func (s *nmeaState) applyGGA(m nmea.GGA) bool {
	if m.FixQuality == "" || m.FixQuality == nmea.Invalid {
		s.fixQuality = 0
		s.fixQualityOK = true
		return false
	}
	if q, err := strconv.Atoi(m.FixQuality); err == nil {
		s.fixQuality = q
		s.fixQualityOK = true
	}
	s.satellites = int(m.NumSatellites)
	s.satsOK = true
	s.hdop = m.HDOP
	s.hdopOK = true
	return false
}
