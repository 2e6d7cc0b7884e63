package web

import (
	"runtime"
	"runtime/debug"
	"sync/atomic"
	"time"

	"compass-ng/internal/compass"
	"compass-ng/internal/gps"
)

const serviceName = "compass-ng"

// Status carries the slow-changing facts shown next to the live frame.
type Status struct {
	startUnixNano int64
	sources       atomic.Value // map[string]string
	gps           atomic.Value // func() gps.Snapshot
	build         BuildInfo
}

type BuildInfo struct {
	GoVersion  string `json:"go_version"`
	ModulePath string `json:"module_path,omitempty"`
	Version    string `json:"version,omitempty"`
	Commit     string `json:"commit,omitempty"`
	Dirty      bool   `json:"dirty,omitempty"`
	BuildTime  string `json:"build_time,omitempty"`
}

func NewStatus() *Status {
	s := &Status{build: readBuildInfo()}
	atomic.StoreInt64(&s.startUnixNano, time.Now().UTC().UnixNano())
	s.sources.Store(map[string]string{})
	return s
}

// SetSources records which location/orientation/haptic backends are wired.
func (s *Status) SetSources(sources map[string]string) {
	if s == nil || sources == nil {
		return
	}
	cp := make(map[string]string, len(sources))
	for k, v := range sources {
		cp[k] = v
	}
	s.sources.Store(cp)
}

// SetGPS registers the receiver snapshot provider (nil when GPS is simulated).
func (s *Status) SetGPS(fn func() gps.Snapshot) {
	if s == nil || fn == nil {
		return
	}
	s.gps.Store(fn)
}

type StatusSnapshot struct {
	Service        string            `json:"service"`
	NowUTC         string            `json:"now_utc"`
	UptimeSec      int64             `json:"uptime_sec"`
	Sources        map[string]string `json:"sources"`
	Frame          compass.Frame     `json:"frame"`
	ConsentPending bool              `json:"consent_pending"`
	GPS            *gps.Snapshot     `json:"gps,omitempty"`
	Build          BuildInfo         `json:"build"`
}

func (s *Status) Snapshot(nowUTC time.Time, frame compass.Frame, consentPending bool) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	start := time.Unix(0, atomic.LoadInt64(&s.startUnixNano)).UTC()

	snap := StatusSnapshot{
		Service:        serviceName,
		NowUTC:         nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec:      int64(nowUTC.Sub(start).Seconds()),
		Sources:        s.sources.Load().(map[string]string),
		Frame:          frame,
		ConsentPending: consentPending,
		Build:          s.build,
	}
	if fn, ok := s.gps.Load().(func() gps.Snapshot); ok && fn != nil {
		g := fn()
		snap.GPS = &g
	}
	return snap
}

func readBuildInfo() BuildInfo {
	out := BuildInfo{GoVersion: runtime.Version()}
	bi, ok := debug.ReadBuildInfo()
	if !ok || bi == nil {
		return out
	}
	out.ModulePath = bi.Main.Path
	out.Version = bi.Main.Version
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			out.Commit = s.Value
		case "vcs.modified":
			out.Dirty = s.Value == "true"
		case "vcs.time":
			out.BuildTime = s.Value
		}
	}
	return out
}
