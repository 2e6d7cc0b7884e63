package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the compass Prometheus metrics. All methods are safe on
// a nil receiver so callers can run without metrics.
type Collector struct {
	gatherer prometheus.Gatherer

	DistanceMeters     prometheus.Gauge
	TargetBearingDeg   prometheus.Gauge
	RotationDeg        prometheus.Gauge
	SessionState       prometheus.Gauge
	Fixes              prometheus.Counter
	FixErrors          prometheus.Counter
	OrientationSamples prometheus.Counter
	HapticPulses       prometheus.Counter
}

// NewCollector registers the compass metrics against reg, defaulting to the
// global Prometheus registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &Collector{gatherer: gatherer}
	var err error

	gauges := []struct {
		dst  *prometheus.Gauge
		name string
		help string
	}{
		{&c.DistanceMeters, "compass_distance_meters", "Great-circle distance from the last fix to the destination."},
		{&c.TargetBearingDeg, "compass_target_bearing_degrees", "Initial bearing from the last fix to the destination."},
		{&c.RotationDeg, "compass_rotation_degrees", "Smoothed needle rotation currently displayed."},
		{&c.SessionState, "compass_session_state", "Sensor acquisition state (0=idle, 1=awaiting_permission, 2=active, 3=denied)."},
	}
	for _, g := range gauges {
		*g.dst, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{Name: g.name, Help: g.help}), g.name)
		if err != nil {
			return nil, err
		}
	}

	counters := []struct {
		dst  *prometheus.Counter
		name string
		help string
	}{
		{&c.Fixes, "compass_fixes_total", "Position fixes received."},
		{&c.FixErrors, "compass_fix_errors_total", "Location errors received."},
		{&c.OrientationSamples, "compass_orientation_samples_total", "Orientation samples carrying a usable heading."},
		{&c.HapticPulses, "compass_haptic_pulses_total", "Haptic pulses fired on entering the facing band."},
	}
	for _, ctr := range counters {
		*ctr.dst, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{Name: ctr.name, Help: ctr.help}), ctr.name)
		if err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func (c *Collector) ObserveFix(distanceM, bearingDeg float64) {
	if c == nil {
		return
	}
	c.Fixes.Inc()
	c.DistanceMeters.Set(distanceM)
	c.TargetBearingDeg.Set(bearingDeg)
}

func (c *Collector) ObserveFixError() {
	if c == nil {
		return
	}
	c.FixErrors.Inc()
}

func (c *Collector) ObserveOrientation(pulsed bool) {
	if c == nil {
		return
	}
	c.OrientationSamples.Inc()
	if pulsed {
		c.HapticPulses.Inc()
	}
}

// ObservePulse counts a pulse that was not driven by an orientation sample
// (a new fix moved the target into the band).
func (c *Collector) ObservePulse() {
	if c == nil {
		return
	}
	c.HapticPulses.Inc()
}

func (c *Collector) ObserveFrame(rotationDeg float64, state int) {
	if c == nil {
		return
	}
	c.RotationDeg.Set(rotationDeg)
	c.SessionState.Set(float64(state))
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
