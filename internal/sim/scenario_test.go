package sim

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"compass-ng/internal/heading"
	"compass-ng/internal/nav"
	"compass-ng/internal/session"
)

const walkYAML = `
version: 1
# duration derived from last keyframe
keyframes:
  - t: 0s
    lat_deg: 0
    lon_deg: 0
    heading_deg: 350
  - t: 10s
    lat_deg: 10
    lon_deg: 20
    heading_deg: 10
  - t: 20s
    signal_lost: true
  - t: 30s
    lat_deg: 20
    lon_deg: 20
`

func mustScenario(t *testing.T, src string) *Scenario {
	t.Helper()
	script, err := ParseScenarioScriptYAML([]byte(src))
	if err != nil {
		t.Fatalf("ParseScenarioScriptYAML: %v", err)
	}
	scn, err := NewScenario(script)
	if err != nil {
		t.Fatalf("NewScenario: %v", err)
	}
	return scn
}

func TestScenario_ParseAndInterpolateAngleWrap(t *testing.T) {
	scn := mustScenario(t, walkYAML)
	if scn.Duration() != 30*time.Second {
		t.Fatalf("duration: got %s want %s", scn.Duration(), 30*time.Second)
	}

	st := scn.StateAt(5 * time.Second)
	// Heading 350->10 interpolates via +20deg shortest path: halfway is 0.
	if !st.HeadingOK || st.HeadingDeg != 0 {
		t.Fatalf("heading wrap interpolation: got %v ok=%v want 0", st.HeadingDeg, st.HeadingOK)
	}
	if st.Position.LatDeg != 5 || st.Position.LonDeg != 10 {
		t.Fatalf("position interpolation: got %+v want 5,10", st.Position)
	}
}

func TestScenario_SignalLostHoldsLastPosition(t *testing.T) {
	scn := mustScenario(t, walkYAML)

	// Between t=10s and the lost keyframe the position holds still.
	st := scn.StateAt(15 * time.Second)
	if st.SignalLost {
		t.Fatalf("signal should still be up before the lost keyframe")
	}
	if st.Position.LatDeg != 10 || st.Position.LonDeg != 20 {
		t.Fatalf("position=%+v want 10,20", st.Position)
	}

	st = scn.StateAt(25 * time.Second)
	if !st.SignalLost {
		t.Fatalf("expected signal lost at 25s")
	}
	if st.Position.LatDeg != 15 {
		t.Fatalf("lat=%v want 15 (recovering toward next keyframe)", st.Position.LatDeg)
	}
	if st.HeadingOK {
		t.Fatalf("no heading keyframes around 25s")
	}
}

func TestScenario_ClampAndLoop(t *testing.T) {
	scn := mustScenario(t, walkYAML)
	if st := scn.StateAt(time.Hour); st.Position.LatDeg != 20 {
		t.Fatalf("clamped lat=%v want 20", st.Position.LatDeg)
	}

	looped := mustScenario(t, "loop: true\n"+walkYAML)
	if st := looped.StateAt(35 * time.Second); st.Position.LatDeg != 5 {
		t.Fatalf("looped lat=%v want 5", st.Position.LatDeg)
	}
}

func TestNewScenario_Validation(t *testing.T) {
	cases := []struct {
		name string
		src  string
		want string
	}{
		{"no keyframes", "version: 1\n", "keyframes is required"},
		{"bad version", "version: 2\nkeyframes:\n  - t: 1s\n", "unsupported scenario version"},
		{"unsorted", "keyframes:\n  - t: 2s\n  - t: 1s\n", "sorted"},
		{"lost first", "keyframes:\n  - t: 0s\n    signal_lost: true\n  - t: 1s\n", "cannot be signal_lost"},
		{"zero duration", "keyframes:\n  - t: 0s\n", "duration is required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			script, err := ParseScenarioScriptYAML([]byte(tc.src))
			if err != nil {
				t.Fatalf("ParseScenarioScriptYAML: %v", err)
			}
			_, err = NewScenario(script)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err=%v want containing %q", err, tc.want)
			}
		})
	}
}

func TestScenarioSource_EmitsFixesAndOutages(t *testing.T) {
	scn := mustScenario(t, walkYAML)
	src := NewScenarioSource(scn, time.Millisecond)
	base := time.Unix(1000, 0)
	var clockMu sync.Mutex
	now := base
	src.now = func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return now
	}

	fixes := make(chan nav.Fix, 64)
	errs := make(chan error, 64)
	sub, err := src.Watch(context.Background(), session.WatchOptions{}, func(f nav.Fix) {
		select {
		case fixes <- f:
		default:
		}
	}, func(err error) {
		select {
		case errs <- err:
		default:
		}
	})
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer sub.Unsubscribe()

	select {
	case f := <-fixes:
		if f.Coordinate.LatDeg != 0 {
			t.Fatalf("first fix lat=%v want 0", f.Coordinate.LatDeg)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no fix")
	}

	clockMu.Lock()
	now = base.Add(25 * time.Second)
	clockMu.Unlock()
	select {
	case err := <-errs:
		if !errors.Is(err, session.ErrFix) {
			t.Fatalf("err=%v want ErrFix", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no outage reported")
	}
}

func TestScenarioSource_SubscribeHeading(t *testing.T) {
	scn := mustScenario(t, walkYAML)
	src := NewScenarioSource(scn, time.Millisecond)
	src.now = func() time.Time { return time.Unix(1000, 0) }

	got := make(chan heading.Sample, 1)
	sub, err := src.Subscribe(context.Background(), func(s heading.Sample) {
		select {
		case got <- s:
		default:
		}
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	select {
	case s := <-got:
		if h, ok := heading.Resolve(s); !ok || h != 350 {
			t.Fatalf("heading=%v ok=%v want 350", h, ok)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no sample")
	}
}
