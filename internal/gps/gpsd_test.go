package gps

import (
	"math"
	"testing"
	"time"
)

func TestGPSDState_TPVUpdatesFix(t *testing.T) {
	now := time.Date(2025, 12, 22, 12, 0, 0, 0, time.UTC)
	st := newGPSDState("127.0.0.1:2947")

	line := `{"class":"TPV","mode":3,"time":"2025-12-22T12:00:00.000Z","lat":13.73,"lon":100.579,"eph":4.2}`
	updated, err := st.applyLine(now, line)
	if err != nil {
		t.Fatalf("applyLine err: %v", err)
	}
	if !updated {
		t.Fatalf("expected updated")
	}

	snap := st.snapshot()
	if !snap.Valid || !snap.Precise {
		t.Fatalf("valid=%v precise=%v want true/true", snap.Valid, snap.Precise)
	}
	if math.Abs(snap.LatDeg-13.73) > 1e-9 {
		t.Fatalf("lat=%v", snap.LatDeg)
	}
	if math.Abs(snap.LonDeg-100.579) > 1e-9 {
		t.Fatalf("lon=%v", snap.LonDeg)
	}
	if snap.FixMode == nil || *snap.FixMode != 3 {
		t.Fatalf("fix_mode=%v", snap.FixMode)
	}
	if snap.HorizAccM == nil || math.Abs(*snap.HorizAccM-4.2) > 1e-9 {
		t.Fatalf("horiz_acc_m=%v", snap.HorizAccM)
	}
	if snap.LastFixUTC == "" {
		t.Fatalf("expected last_fix_utc")
	}
}

func TestGPSDState_TwoDFixIsNotPrecise(t *testing.T) {
	st := newGPSDState("")
	_, err := st.applyLine(time.Now().UTC(), `{"class":"TPV","mode":2,"lat":1,"lon":2,"epx":3,"epy":4}`)
	if err != nil {
		t.Fatalf("applyLine err: %v", err)
	}
	snap := st.snapshot()
	if !snap.Valid || snap.Precise {
		t.Fatalf("valid=%v precise=%v want true/false", snap.Valid, snap.Precise)
	}
	if snap.HorizAccM == nil || math.Abs(*snap.HorizAccM-5) > 1e-9 {
		t.Fatalf("horiz_acc_m=%v want 5", snap.HorizAccM)
	}
}

func TestGPSDState_NoFixModeInvalidates(t *testing.T) {
	st := newGPSDState("")
	_, _ = st.applyLine(time.Now().UTC(), `{"class":"TPV","mode":3,"lat":1,"lon":2}`)
	_, _ = st.applyLine(time.Now().UTC(), `{"class":"TPV","mode":1}`)
	if st.snapshot().Valid {
		t.Fatalf("mode 1 should drop validity")
	}
}

func TestGPSDState_SKYUpdatesSatsAndHDOP(t *testing.T) {
	st := newGPSDState("127.0.0.1:2947")
	line := `{"class":"SKY","hdop":0.9,"satellites":[{"used":true},{"used":false},{"used":true}]}`
	updated, err := st.applyLine(time.Now().UTC(), line)
	if err != nil {
		t.Fatalf("applyLine err: %v", err)
	}
	if !updated {
		t.Fatalf("expected updated")
	}
	snap := st.snapshot()
	if snap.Satellites == nil || *snap.Satellites != 2 {
		t.Fatalf("satellites=%v", snap.Satellites)
	}
	if snap.HDOP == nil || math.Abs(*snap.HDOP-0.9) > 1e-9 {
		t.Fatalf("hdop=%v", snap.HDOP)
	}
}

func TestGPSDState_BadJSON(t *testing.T) {
	st := newGPSDState("")
	if _, err := st.applyLine(time.Now().UTC(), `{"class":`); err == nil {
		t.Fatalf("expected error")
	}
}

func TestGPSDState_USatPreferredOverList(t *testing.T) {
	st := newGPSDState("")
	if _, err := st.applyLine(time.Now().UTC(), `{"class":"SKY","uSat":7,"satellites":[{"used":true}]}`); err != nil {
		t.Fatalf("applyLine err: %v", err)
	}
	if snap := st.snapshot(); snap.Satellites == nil || *snap.Satellites != 7 {
		t.Fatalf("satellites=%v want 7", snap.Satellites)
	}
}

func TestGPSDState_ErrorReport(t *testing.T) {
	st := newGPSDState("")
	_, err := st.applyLine(time.Now().UTC(), `{"class":"ERROR","message":"unrecognized request"}`)
	if err == nil {
		t.Fatalf("expected error for an ERROR report")
	}
	if got := st.snapshot().LastError; got != "gpsd: unrecognized request" {
		t.Fatalf("last_error=%q", got)
	}
}

func TestGPSDState_TPVWithoutPositionIsNotAFix(t *testing.T) {
	st := newGPSDState("")
	if _, err := st.applyLine(time.Now().UTC(), `{"class":"TPV","mode":3}`); err != nil {
		t.Fatalf("applyLine err: %v", err)
	}
	if st.snapshot().Valid {
		t.Fatalf("a TPV without lat/lon should not be a fix")
	}
}
