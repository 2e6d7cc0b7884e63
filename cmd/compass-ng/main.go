package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"compass-ng/internal/config"
	"compass-ng/internal/web"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./dev.yaml", "Path to YAML config")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	logs := web.NewLogBuffer(2000)
	log.SetOutput(io.MultiWriter(os.Stderr, logs))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rt, err := newRuntime(ctx, cfg, nil)
	if err != nil {
		log.Fatalf("runtime init failed: %v", err)
	}
	defer rt.Close()

	log.Printf("compass-ng starting")
	log.Printf("destination lat=%.5f lon=%.5f web=%s", *rt.cfg.Destination.LatDeg, *rt.cfg.Destination.LonDeg, rt.cfg.Web.Listen)
	log.Printf("sources location=%s orientation=%s haptic=%s", rt.sources["location"], rt.sources["orientation"], rt.sources["haptic"])

	if err := rt.Run(ctx, logs); err != nil {
		log.Printf("web server stopped: %v", err)
	}
	log.Printf("compass-ng stopping")
}
