package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"compass-ng/internal/config"
	"compass-ng/internal/session"
	"compass-ng/internal/web"
)

func minimalCfg(t *testing.T, mutate func(*config.Config)) config.Config {
	t.Helper()
	cfg := config.Config{}
	if mutate != nil {
		mutate(&cfg)
	}
	if err := config.DefaultAndValidate(&cfg); err != nil {
		t.Fatalf("DefaultAndValidate() error: %v", err)
	}
	return cfg
}

func newTestRuntime(t *testing.T, cfg config.Config) *runtime {
	t.Helper()
	r, err := newRuntime(context.Background(), cfg, prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("newRuntime() error: %v", err)
	}
	t.Cleanup(r.Close)
	return r
}

func TestRuntime_SimSourcesReachActive(t *testing.T) {
	r := newTestRuntime(t, minimalCfg(t, func(c *config.Config) {
		c.GPS.Source = "sim"
		c.Orientation.Source = "sim"
		c.Haptic.Enable = true
		c.Haptic.Driver = "log"
		c.Metrics.Enable = true
	}))

	if r.push != nil || r.gate != nil {
		t.Fatalf("sim orientation should not expose push or consent")
	}
	if r.metricsHandler == nil {
		t.Fatalf("metrics handler missing")
	}
	want := map[string]string{"location": "sim", "orientation": "sim", "haptic": "log"}
	for k, v := range want {
		if r.sources[k] != v {
			t.Fatalf("sources[%s]=%q want %q", k, r.sources[k], v)
		}
	}

	if err := r.ctl.Enable(); err != nil {
		t.Fatalf("Enable() error: %v", err)
	}
	// The walker emits its first fix as soon as the watch starts.
	deadline := time.Now().Add(2 * time.Second)
	for r.ctl.Frame().State != session.Active {
		if time.Now().After(deadline) {
			t.Fatalf("state=%s want active", r.ctl.Frame().State)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if f := r.ctl.Frame(); f.DistanceM == nil || f.Warning {
		t.Fatalf("expected a distance after the first fix: %+v", f)
	}
}

func TestRuntime_PushWithConsent(t *testing.T) {
	r := newTestRuntime(t, minimalCfg(t, func(c *config.Config) {
		c.GPS.Source = "sim"
		c.Orientation.RequireConsent = true
	}))
	if r.push == nil || r.gate == nil {
		t.Fatalf("push=%v gate=%v want both", r.push, r.gate)
	}
	opts := r.webOptions(web.NewLogBuffer(10))
	if opts.Push != r.push || opts.Gate != r.gate || opts.Compass == nil {
		t.Fatalf("web options not wired: %+v", opts)
	}
	if opts.Metrics != nil {
		t.Fatalf("metrics should be off by default")
	}
	if r.sources["haptic"] != "off" {
		t.Fatalf("haptic source=%q want off", r.sources["haptic"])
	}
}

func TestRuntime_GPSDisabledDeniesLocation(t *testing.T) {
	r := newTestRuntime(t, minimalCfg(t, nil))
	if r.gpsSvc == nil {
		t.Fatalf("gps service should exist for status even when disabled")
	}
	if err := r.ctl.Enable(); err != nil {
		t.Fatalf("Enable() error: %v", err)
	}
	if got := r.ctl.Frame().State; got != session.Denied {
		t.Fatalf("state=%s want denied", got)
	}
}

func TestRuntime_MQTTBuildsWithoutConnecting(t *testing.T) {
	r := newTestRuntime(t, minimalCfg(t, func(c *config.Config) {
		c.GPS.Source = "sim"
		c.Orientation.Source = "mqtt"
		c.Orientation.MQTT.Broker = "tcp://127.0.0.1:1"
	}))
	if r.sources["orientation"] != "mqtt" {
		t.Fatalf("orientation source=%q", r.sources["orientation"])
	}
	if r.push != nil {
		t.Fatalf("mqtt orientation should not expose push")
	}
}

func TestRuntime_ScenarioDrivesBothStreams(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "walk.yaml")
	script := `
version: 1
loop: true
keyframes:
  - t: 0s
    lat_deg: 13.7300
    lon_deg: 100.5790
    heading_deg: 140
  - t: 60s
    lat_deg: 13.7200
    lon_deg: 100.5880
    heading_deg: 140
`
	if err := os.WriteFile(path, []byte(script), 0o644); err != nil {
		t.Fatalf("write scenario: %v", err)
	}
	r := newTestRuntime(t, minimalCfg(t, func(c *config.Config) {
		c.GPS.Source = "scenario"
		c.Orientation.Source = "scenario"
		c.Sim.Scenario.Path = path
		c.Sim.Scenario.Interval = 10 * time.Millisecond
	}))

	if err := r.ctl.Enable(); err != nil {
		t.Fatalf("Enable() error: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		f := r.ctl.Frame()
		if f.State == session.Active && f.HeadingDeg != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("scenario never produced fix and heading: %+v", f)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRuntime_ScenarioMissingFile(t *testing.T) {
	cfg := minimalCfg(t, func(c *config.Config) {
		c.GPS.Source = "scenario"
		c.Sim.Scenario.Path = filepath.Join(t.TempDir(), "missing.yaml")
	})
	if _, err := newRuntime(context.Background(), cfg, nil); err == nil {
		t.Fatalf("expected error for missing scenario file")
	}
}

func TestRuntime_WebHandlerServesStatus(t *testing.T) {
	r := newTestRuntime(t, minimalCfg(t, func(c *config.Config) {
		c.GPS.Source = "sim"
		c.Metrics.Enable = true
	}))
	h := web.Handler(r.webOptions(web.NewLogBuffer(10)))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status code=%d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"location": "sim"`) {
		t.Fatalf("status missing sources:\n%s", rr.Body.String())
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rr.Body.String(), "compass_session_state") {
		t.Fatalf("metrics route missing compass metrics")
	}
}
