package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default destination: the fixed target the compass points at.
const (
	DefaultDestLatDeg = 13.7290
	DefaultDestLonDeg = 100.5780
)

type Config struct {
	Destination DestinationConfig `yaml:"destination"`
	GPS         GPSConfig         `yaml:"gps"`
	Orientation OrientationConfig `yaml:"orientation"`
	Haptic      HapticConfig      `yaml:"haptic"`
	Display     DisplayConfig     `yaml:"display"`
	Sim         SimConfig         `yaml:"sim"`
	Web         WebConfig         `yaml:"web"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

type DestinationConfig struct {
	LatDeg *float64 `yaml:"lat_deg"`
	LonDeg *float64 `yaml:"lon_deg"`
	Name   string   `yaml:"name"`
}

type GPSConfig struct {
	Enable bool `yaml:"enable"`
	// Source is "nmea", "gpsd", "sim" or "scenario".
	Source       string        `yaml:"source"`
	Device       string        `yaml:"device"`
	Baud         int           `yaml:"baud"`
	GPSDAddr     string        `yaml:"gpsd_addr"`
	HighAccuracy bool          `yaml:"high_accuracy"`
	MaxAge       time.Duration `yaml:"max_age"`
	FixTimeout   time.Duration `yaml:"fix_timeout"`
}

type OrientationConfig struct {
	// Source is "push", "mqtt", "sim" or "scenario".
	Source         string        `yaml:"source"`
	RequireConsent bool          `yaml:"require_consent"`
	ConsentTimeout time.Duration `yaml:"consent_timeout"`
	MQTT           MQTTConfig    `yaml:"mqtt"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
}

type HapticConfig struct {
	Enable bool `yaml:"enable"`
	// Driver is "browser", "gpio" or "log".
	Driver       string        `yaml:"driver"`
	GPIOPin      int           `yaml:"gpio_pin"`
	Pulse        time.Duration `yaml:"pulse"`
	ToleranceDeg float64       `yaml:"tolerance_deg"`
}

type DisplayConfig struct {
	FrameInterval time.Duration `yaml:"frame_interval"`
	Smoothing     float64       `yaml:"smoothing"`
}

type SimConfig struct {
	Walker   WalkerSimConfig  `yaml:"walker"`
	Heading  HeadingSimConfig `yaml:"heading"`
	Scenario ScenarioConfig   `yaml:"scenario"`
}

type WalkerSimConfig struct {
	CenterLatDeg float64       `yaml:"center_lat_deg"`
	CenterLonDeg float64       `yaml:"center_lon_deg"`
	RadiusM      float64       `yaml:"radius_m"`
	Period       time.Duration `yaml:"period"`
	Interval     time.Duration `yaml:"interval"`
}

type HeadingSimConfig struct {
	Period   time.Duration `yaml:"period"`
	Interval time.Duration `yaml:"interval"`
}

type ScenarioConfig struct {
	Path     string        `yaml:"path"`
	Interval time.Duration `yaml:"interval"`
}

type WebConfig struct {
	Listen string `yaml:"listen"`
}

type MetricsConfig struct {
	Enable bool `yaml:"enable"`
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		var te *yaml.TypeError
		if errors.As(err, &te) {
			return Config{}, fmt.Errorf("config contains unknown fields: %s", strings.Join(stripLinePrefixes(te.Errors), "; "))
		}
		return Config{}, err
	}

	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var linePrefix = regexp.MustCompile(`^line \d+: `)

func stripLinePrefixes(errs []string) []string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, linePrefix.ReplaceAllString(e, ""))
	}
	return out
}

// DefaultAndValidate fills defaults in place and rejects inconsistent
// settings. It is safe to call on a zero Config.
func DefaultAndValidate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	// Destination.
	if cfg.Destination.LatDeg == nil {
		v := DefaultDestLatDeg
		cfg.Destination.LatDeg = &v
	}
	if cfg.Destination.LonDeg == nil {
		v := DefaultDestLonDeg
		cfg.Destination.LonDeg = &v
	}
	if lat := *cfg.Destination.LatDeg; math.IsNaN(lat) || lat < -90 || lat > 90 {
		return fmt.Errorf("destination.lat_deg must be within [-90, 90]")
	}
	if lon := *cfg.Destination.LonDeg; math.IsNaN(lon) || lon < -180 || lon > 180 {
		return fmt.Errorf("destination.lon_deg must be within [-180, 180]")
	}

	// GPS.
	cfg.GPS.Source = strings.ToLower(strings.TrimSpace(cfg.GPS.Source))
	if cfg.GPS.Source == "" {
		cfg.GPS.Source = "nmea"
	}
	switch cfg.GPS.Source {
	case "nmea", "gpsd", "sim", "scenario":
	default:
		return fmt.Errorf("gps.source must be one of nmea, gpsd, sim, scenario")
	}
	if cfg.GPS.Baud == 0 {
		cfg.GPS.Baud = 9600
	}
	if cfg.GPS.Source == "gpsd" && strings.TrimSpace(cfg.GPS.GPSDAddr) == "" {
		cfg.GPS.GPSDAddr = "127.0.0.1:2947"
	}
	if cfg.GPS.MaxAge < 0 {
		return fmt.Errorf("gps.max_age must be >= 0")
	}
	if cfg.GPS.MaxAge == 0 {
		cfg.GPS.MaxAge = 10 * time.Second
	}
	if cfg.GPS.FixTimeout == 0 {
		cfg.GPS.FixTimeout = 30 * time.Second
	}

	// Orientation.
	cfg.Orientation.Source = strings.ToLower(strings.TrimSpace(cfg.Orientation.Source))
	if cfg.Orientation.Source == "" {
		cfg.Orientation.Source = "push"
	}
	switch cfg.Orientation.Source {
	case "push", "sim", "scenario":
	case "mqtt":
		if strings.TrimSpace(cfg.Orientation.MQTT.Broker) == "" {
			return fmt.Errorf("orientation.mqtt.broker is required when orientation.source is 'mqtt'")
		}
		if cfg.Orientation.MQTT.Topic == "" {
			cfg.Orientation.MQTT.Topic = "compass/orientation"
		}
		if cfg.Orientation.MQTT.ClientID == "" {
			cfg.Orientation.MQTT.ClientID = "compass-ng"
		}
	default:
		return fmt.Errorf("orientation.source must be one of push, mqtt, sim, scenario")
	}
	if cfg.Orientation.ConsentTimeout < 0 {
		return fmt.Errorf("orientation.consent_timeout must be >= 0")
	}
	if cfg.Orientation.RequireConsent && cfg.Orientation.Source != "push" {
		return fmt.Errorf("orientation.require_consent is only supported when orientation.source is 'push'")
	}

	// Haptic.
	cfg.Haptic.Driver = strings.ToLower(strings.TrimSpace(cfg.Haptic.Driver))
	if cfg.Haptic.Driver == "" {
		cfg.Haptic.Driver = "browser"
	}
	switch cfg.Haptic.Driver {
	case "browser", "log":
	case "gpio":
		if cfg.Haptic.Enable && cfg.Haptic.GPIOPin <= 0 {
			return fmt.Errorf("haptic.gpio_pin is required when haptic.driver is 'gpio'")
		}
	default:
		return fmt.Errorf("haptic.driver must be one of browser, gpio, log")
	}
	if cfg.Haptic.Pulse == 0 {
		cfg.Haptic.Pulse = 100 * time.Millisecond
	}
	if cfg.Haptic.Pulse < 0 {
		return fmt.Errorf("haptic.pulse must be > 0")
	}
	if cfg.Haptic.ToleranceDeg == 0 {
		cfg.Haptic.ToleranceDeg = 5
	}
	if cfg.Haptic.ToleranceDeg < 0 || cfg.Haptic.ToleranceDeg >= 180 {
		return fmt.Errorf("haptic.tolerance_deg must be within (0, 180)")
	}

	// Display.
	if cfg.Display.FrameInterval == 0 {
		cfg.Display.FrameInterval = 16 * time.Millisecond
	}
	if cfg.Display.FrameInterval < 0 {
		return fmt.Errorf("display.frame_interval must be > 0")
	}
	if cfg.Display.Smoothing == 0 {
		cfg.Display.Smoothing = 0.1
	}
	if cfg.Display.Smoothing < 0 || cfg.Display.Smoothing > 1 {
		return fmt.Errorf("display.smoothing must be within (0, 1]")
	}

	// Simulator defaults (safe even if unused).
	if cfg.Sim.Walker.CenterLatDeg == 0 && cfg.Sim.Walker.CenterLonDeg == 0 {
		cfg.Sim.Walker.CenterLatDeg = 13.7300
		cfg.Sim.Walker.CenterLonDeg = 100.5790
	}
	if cfg.Sim.Walker.RadiusM <= 0 {
		cfg.Sim.Walker.RadiusM = 500
	}
	if cfg.Sim.Walker.Period <= 0 {
		cfg.Sim.Walker.Period = 120 * time.Second
	}
	if cfg.Sim.Walker.Interval <= 0 {
		cfg.Sim.Walker.Interval = time.Second
	}
	if cfg.Sim.Heading.Period <= 0 {
		cfg.Sim.Heading.Period = 60 * time.Second
	}
	if cfg.Sim.Heading.Interval <= 0 {
		cfg.Sim.Heading.Interval = 100 * time.Millisecond
	}
	if cfg.Sim.Scenario.Interval <= 0 {
		cfg.Sim.Scenario.Interval = 250 * time.Millisecond
	}
	if (cfg.GPS.Source == "scenario" || cfg.Orientation.Source == "scenario") && strings.TrimSpace(cfg.Sim.Scenario.Path) == "" {
		return fmt.Errorf("sim.scenario.path is required when a source is 'scenario'")
	}

	// Web.
	if strings.TrimSpace(cfg.Web.Listen) == "" {
		cfg.Web.Listen = ":8080"
	}
	return nil
}
