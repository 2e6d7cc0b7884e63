package gps

import (
	"fmt"
	"math"
	"testing"
	"time"
)

func nmeaLine(payload string) string {
	ck := byte(0)
	for i := 0; i < len(payload); i++ {
		ck ^= payload[i]
	}
	return fmt.Sprintf("$%s*%02X", payload, ck)
}

func TestNMEAState_ChecksumMismatch(t *testing.T) {
	var st nmeaState
	good := nmeaLine("GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W")
	bad := good[:len(good)-2] + "00"
	if _, err := st.applyLine(time.Now().UTC(), bad); err == nil {
		t.Fatalf("expected error")
	}
	if st.lastErr == "" {
		t.Fatalf("expected last error to be recorded")
	}
}

func TestNMEAState_RMCUpdatesFix(t *testing.T) {
	var st nmeaState
	now := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	updated, err := st.applyLine(now, nmeaLine("GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W"))
	if err != nil {
		t.Fatalf("applyLine: %v", err)
	}
	if !updated {
		t.Fatalf("expected updated")
	}
	snap := st.snapshot()
	if !snap.Valid {
		t.Fatalf("expected valid")
	}
	// 48deg 07.038' N, 11deg 31.000' E
	if math.Abs(snap.LatDeg-48.1173) > 1e-4 || math.Abs(snap.LonDeg-11.516667) > 1e-4 {
		t.Fatalf("lat=%v lon=%v", snap.LatDeg, snap.LonDeg)
	}
	if !snap.lastFix.Equal(now) {
		t.Fatalf("lastFix=%v want %v", snap.lastFix, now)
	}
}

func TestNMEAState_VoidRMCIgnored(t *testing.T) {
	var st nmeaState
	updated, err := st.applyLine(time.Now().UTC(), nmeaLine("GPRMC,123519,V,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W"))
	if err != nil {
		t.Fatalf("applyLine: %v", err)
	}
	if updated || st.snapshot().Valid {
		t.Fatalf("void RMC must not produce a fix")
	}
}

func TestNMEAState_GGASetsPrecision(t *testing.T) {
	var st nmeaState
	now := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	updated, err := st.applyLine(now, nmeaLine("GNGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,"))
	if err != nil {
		t.Fatalf("applyLine: %v", err)
	}
	if updated {
		t.Fatalf("GGA alone should not emit a fix")
	}
	if _, err := st.applyLine(now, nmeaLine("GNRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W")); err != nil {
		t.Fatalf("applyLine: %v", err)
	}

	snap := st.snapshot()
	if !snap.Precise {
		t.Fatalf("expected precise fix with 8 satellites")
	}
	if snap.Satellites == nil || *snap.Satellites != 8 {
		t.Fatalf("satellites=%v", snap.Satellites)
	}
	if snap.FixQuality == nil || *snap.FixQuality != 1 {
		t.Fatalf("fix_quality=%v", snap.FixQuality)
	}
	if snap.HDOP == nil || math.Abs(*snap.HDOP-0.9) > 1e-9 {
		t.Fatalf("hdop=%v", snap.HDOP)
	}
}

func TestNMEAState_GGAInvalidClearsPrecision(t *testing.T) {
	var st nmeaState
	now := time.Now().UTC()
	_, _ = st.applyLine(now, nmeaLine("GNGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,"))
	_, _ = st.applyLine(now, nmeaLine("GNGGA,123520,4807.038,N,01131.000,E,0,00,99.9,545.4,M,46.9,M,,"))
	_, _ = st.applyLine(now, nmeaLine("GNRMC,123520,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W"))
	if st.snapshot().Precise {
		t.Fatalf("quality 0 must clear precision")
	}
}

func TestNMEAState_OtherSentencesIgnored(t *testing.T) {
	var st nmeaState
	updated, err := st.applyLine(time.Now().UTC(), nmeaLine("GPVTG,054.7,T,034.4,M,005.5,N,010.2,K"))
	if err != nil {
		t.Fatalf("applyLine: %v", err)
	}
	if updated {
		t.Fatalf("VTG should be ignored")
	}
}
