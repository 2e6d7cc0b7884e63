package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	tmp := t.TempDir()
	path := filepath.Join(tmp, "cfg.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	return path
}

func requireErrEq(t *testing.T, err error, want string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error %q, got nil", want)
	}
	if err.Error() != want {
		t.Fatalf("error=%q want %q", err.Error(), want)
	}
}

func TestLoad_EmptyFileGetsDefaults(t *testing.T) {
	path := writeTempConfig(t, "")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if *cfg.Destination.LatDeg != DefaultDestLatDeg || *cfg.Destination.LonDeg != DefaultDestLonDeg {
		t.Fatalf("destination=%v,%v want default", *cfg.Destination.LatDeg, *cfg.Destination.LonDeg)
	}
	if cfg.GPS.Source != "nmea" || cfg.GPS.Baud != 9600 {
		t.Fatalf("gps source=%q baud=%d", cfg.GPS.Source, cfg.GPS.Baud)
	}
	if cfg.GPS.MaxAge != 10*time.Second {
		t.Fatalf("max_age=%s want 10s", cfg.GPS.MaxAge)
	}
	if cfg.Orientation.Source != "push" {
		t.Fatalf("orientation.source=%q want push", cfg.Orientation.Source)
	}
	if cfg.Haptic.Driver != "browser" || cfg.Haptic.Pulse != 100*time.Millisecond || cfg.Haptic.ToleranceDeg != 5 {
		t.Fatalf("haptic defaults not applied: %+v", cfg.Haptic)
	}
	if cfg.Display.FrameInterval != 16*time.Millisecond || cfg.Display.Smoothing != 0.1 {
		t.Fatalf("display defaults not applied: %+v", cfg.Display)
	}
	if cfg.Web.Listen != ":8080" {
		t.Fatalf("web.listen=%q", cfg.Web.Listen)
	}
	if cfg.Sim.Walker.RadiusM <= 0 || cfg.Sim.Walker.Period <= 0 || cfg.Sim.Heading.Period <= 0 {
		t.Fatalf("expected sim defaults applied")
	}
}

func TestLoad_DestinationZeroIsHonoured(t *testing.T) {
	path := writeTempConfig(t, "destination:\n  lat_deg: 0\n  lon_deg: 0\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if *cfg.Destination.LatDeg != 0 || *cfg.Destination.LonDeg != 0 {
		t.Fatalf("explicit 0,0 destination replaced by default")
	}
}

func TestLoad_GPSDAddrDefault(t *testing.T) {
	path := writeTempConfig(t, "gps:\n  enable: true\n  source: GPSD\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.GPS.Source != "gpsd" || cfg.GPS.GPSDAddr != "127.0.0.1:2947" {
		t.Fatalf("source=%q addr=%q", cfg.GPS.Source, cfg.GPS.GPSDAddr)
	}
}

func TestLoad_Validation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"LatRange", "destination:\n  lat_deg: 91\n", "destination.lat_deg must be within [-90, 90]"},
		{"LonRange", "destination:\n  lon_deg: -181\n", "destination.lon_deg must be within [-180, 180]"},
		{"GPSSource", "gps:\n  source: bluetooth\n", "gps.source must be one of nmea, gpsd, sim, scenario"},
		{"NegativeMaxAge", "gps:\n  max_age: -1s\n", "gps.max_age must be >= 0"},
		{"OrientationSource", "orientation:\n  source: gyro\n", "orientation.source must be one of push, mqtt, sim, scenario"},
		{"MQTTRequiresBroker", "orientation:\n  source: mqtt\n", "orientation.mqtt.broker is required when orientation.source is 'mqtt'"},
		{"ConsentOnlyForPush", "orientation:\n  source: sim\n  require_consent: true\n", "orientation.require_consent is only supported when orientation.source is 'push'"},
		{"GPIORequiresPin", "haptic:\n  enable: true\n  driver: gpio\n", "haptic.gpio_pin is required when haptic.driver is 'gpio'"},
		{"HapticDriver", "haptic:\n  driver: buzzer\n", "haptic.driver must be one of browser, gpio, log"},
		{"Tolerance", "haptic:\n  tolerance_deg: 200\n", "haptic.tolerance_deg must be within (0, 180)"},
		{"Smoothing", "display:\n  smoothing: 1.5\n", "display.smoothing must be within (0, 1]"},
		{"ScenarioRequiresPath", "gps:\n  source: scenario\n", "sim.scenario.path is required when a source is 'scenario'"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeTempConfig(t, tc.yaml)
			_, err := Load(path)
			requireErrEq(t, err, tc.want)
		})
	}
}

func TestLoad_MQTTDefaults(t *testing.T) {
	path := writeTempConfig(t, "orientation:\n  source: mqtt\n  mqtt:\n    broker: 'tcp://localhost:1883'\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Orientation.MQTT.Topic != "compass/orientation" || cfg.Orientation.MQTT.ClientID != "compass-ng" {
		t.Fatalf("mqtt=%+v", cfg.Orientation.MQTT)
	}
}

func TestLoad_RejectsUnknownField(t *testing.T) {
	path := writeTempConfig(t, "gps:\n  enable: true\n  mode: fast\n")
	_, err := Load(path)
	requireErrEq(t, err, "config contains unknown fields: field mode not found in type config.GPSConfig")
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestDefaultAndValidate_Nil(t *testing.T) {
	requireErrEq(t, DefaultAndValidate(nil), "config is nil")
}
