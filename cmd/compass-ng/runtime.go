package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"compass-ng/internal/compass"
	"compass-ng/internal/config"
	"compass-ng/internal/geo"
	"compass-ng/internal/gps"
	"compass-ng/internal/haptic"
	"compass-ng/internal/metrics"
	"compass-ng/internal/orientation"
	"compass-ng/internal/session"
	"compass-ng/internal/sim"
	"compass-ng/internal/web"
)

// runtime owns every long-lived piece built from the config.
type runtime struct {
	cfg config.Config

	ctl            *compass.Controller
	gpsSvc         *gps.Service
	push           *orientation.PushSource
	gate           *orientation.ConsentGate
	gpio           *haptic.GPIOVibrator
	status         *web.Status
	metrics        *metrics.Collector
	metricsHandler http.Handler
	sources        map[string]string
}

func newRuntime(ctx context.Context, cfg config.Config, reg *prometheus.Registry) (*runtime, error) {
	c := cfg
	if err := config.DefaultAndValidate(&c); err != nil {
		return nil, err
	}

	r := &runtime{
		cfg:     c,
		status:  web.NewStatus(),
		sources: map[string]string{},
	}

	if c.Metrics.Enable {
		if reg == nil {
			reg = prometheus.NewRegistry()
		}
		m, err := metrics.NewCollector(reg)
		if err != nil {
			return nil, fmt.Errorf("metrics init failed: %w", err)
		}
		r.metrics = m
		r.metricsHandler = m.Handler()
	}

	// A scenario may drive both streams; share one clock.
	var scenario *sim.ScenarioSource
	if c.GPS.Source == "scenario" || c.Orientation.Source == "scenario" {
		script, err := sim.LoadScenarioScript(c.Sim.Scenario.Path)
		if err != nil {
			return nil, err
		}
		scn, err := sim.NewScenario(script)
		if err != nil {
			return nil, err
		}
		scenario = sim.NewScenarioSource(scn, c.Sim.Scenario.Interval)
	}

	location, err := r.buildLocation(ctx, scenario)
	if err != nil {
		return nil, err
	}
	orient, err := r.buildOrientation(scenario)
	if err != nil {
		r.Close()
		return nil, err
	}
	vib, err := r.buildVibrator()
	if err != nil {
		r.Close()
		return nil, err
	}

	opts := compass.Options{
		Destination: geo.Coordinate{
			LatDeg: *c.Destination.LatDeg,
			LonDeg: *c.Destination.LonDeg,
		},
		Location:    location,
		Orientation: orient,
		Watch: session.WatchOptions{
			HighAccuracy: c.GPS.HighAccuracy,
			MaxAge:       c.GPS.MaxAge,
		},
		Vibrator:        vib,
		ToleranceDeg:    c.Haptic.ToleranceDeg,
		Pulse:           c.Haptic.Pulse,
		SmoothingFactor: c.Display.Smoothing,
		FrameInterval:   c.Display.FrameInterval,
		Metrics:         r.metrics,
	}
	// Only set Gate when consent is required: a typed nil would still count
	// as a gate.
	if r.gate != nil {
		opts.Gate = r.gate
	}
	r.ctl = compass.New(opts)
	r.status.SetSources(r.sources)
	return r, nil
}

func (r *runtime) buildLocation(ctx context.Context, scenario *sim.ScenarioSource) (session.LocationSource, error) {
	c := r.cfg
	r.sources["location"] = c.GPS.Source
	switch c.GPS.Source {
	case "sim":
		w := sim.Walker{
			Center:  geo.Coordinate{LatDeg: c.Sim.Walker.CenterLatDeg, LonDeg: c.Sim.Walker.CenterLonDeg},
			RadiusM: c.Sim.Walker.RadiusM,
			Period:  c.Sim.Walker.Period,
		}
		return sim.NewWalkerSource(w, c.Sim.Walker.Interval), nil
	case "scenario":
		return scenario, nil
	default:
		svc := gps.New(gps.Config{
			Enable:     c.GPS.Enable,
			Source:     c.GPS.Source,
			GPSDAddr:   c.GPS.GPSDAddr,
			Device:     c.GPS.Device,
			Baud:       c.GPS.Baud,
			FixTimeout: c.GPS.FixTimeout,
		})
		if c.GPS.Enable {
			if err := svc.Start(ctx); err != nil {
				// Keep running: the session reports the location failure.
				log.Printf("gps init failed: %v", err)
			}
		}
		r.gpsSvc = svc
		r.status.SetGPS(svc.Snapshot)
		return svc, nil
	}
}

func (r *runtime) buildOrientation(scenario *sim.ScenarioSource) (session.OrientationSource, error) {
	c := r.cfg
	r.sources["orientation"] = c.Orientation.Source
	switch c.Orientation.Source {
	case "mqtt":
		src, err := orientation.NewMQTTSource(orientation.MQTTConfig{
			Broker:   c.Orientation.MQTT.Broker,
			Topic:    c.Orientation.MQTT.Topic,
			ClientID: c.Orientation.MQTT.ClientID,
		})
		if err != nil {
			return nil, err
		}
		return src, nil
	case "sim":
		return sim.NewHeadingSource(c.Sim.Heading.Period, c.Sim.Heading.Interval), nil
	case "scenario":
		return scenario, nil
	default:
		r.push = orientation.NewPushSource()
		if c.Orientation.RequireConsent {
			r.gate = orientation.NewConsentGate(c.Orientation.ConsentTimeout)
		}
		return r.push, nil
	}
}

func (r *runtime) buildVibrator() (haptic.Vibrator, error) {
	c := r.cfg
	if !c.Haptic.Enable {
		r.sources["haptic"] = "off"
		return nil, nil
	}
	r.sources["haptic"] = c.Haptic.Driver
	switch c.Haptic.Driver {
	case "gpio":
		g, err := haptic.OpenGPIO(c.Haptic.GPIOPin)
		if err != nil {
			return nil, err
		}
		r.gpio = g
		return g, nil
	case "log":
		return haptic.LogVibrator{}, nil
	default:
		return &haptic.Relay{}, nil
	}
}

func (r *runtime) webOptions(logs *web.LogBuffer) web.Options {
	return web.Options{
		Compass:         r.ctl,
		Push:            r.push,
		Gate:            r.gate,
		Status:          r.status,
		Logs:            logs,
		Metrics:         r.metricsHandler,
		DestinationName: r.cfg.Destination.Name,
	}
}

// Run drives the frame loop and the web server until ctx ends.
func (r *runtime) Run(ctx context.Context, logs *web.LogBuffer) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- r.ctl.Run(ctx)
	}()

	err := web.Serve(ctx, r.cfg.Web.Listen, r.webOptions(logs))
	if ctx.Err() != nil {
		<-errCh
		return nil
	}
	return err
}

func (r *runtime) Close() {
	if r == nil {
		return
	}
	r.ctl.Close()
	r.gpsSvc.Close()
	if r.gpio != nil {
		if err := r.gpio.Close(); err != nil {
			log.Printf("haptic: gpio close: %v", err)
		}
	}
}
