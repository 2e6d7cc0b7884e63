package web

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"path"
	"time"

	"compass-ng/internal/compass"
	"compass-ng/internal/geo"
	"compass-ng/internal/heading"
	"compass-ng/internal/nav"
	"compass-ng/internal/orientation"
)

//go:embed assets/*
var embeddedAssets embed.FS

// maxBodyBytes bounds POST bodies; samples and answers are tiny.
const maxBodyBytes = 4 << 10

// Compass is the controller surface the browser shell drives.
// Implementations must be safe to call concurrently.
type Compass interface {
	Frame() compass.Frame
	Enable() error
	Destination() geo.Coordinate
	LastFix() (nav.Fix, bool)
	Frames() *compass.Broadcaster
}

type Options struct {
	Compass Compass
	// Push receives orientation samples from the shell. Nil when orientation
	// comes from MQTT or a simulator.
	Push *orientation.PushSource
	// Gate is the consent prompt the shell answers. Nil when no consent is
	// required.
	Gate *orientation.ConsentGate

	Status  *Status
	Logs    *LogBuffer
	Metrics http.Handler

	DestinationName string
}

func Handler(opts Options) http.Handler {
	mux := http.NewServeMux()
	if opts.Status == nil {
		opts.Status = NewStatus()
	}

	assetsFS, err := fs.Sub(embeddedAssets, "assets")
	if err != nil {
		// Should never happen; keep server functional with API only.
		assetsFS = nil
	}

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		snap := opts.Status.Snapshot(time.Now().UTC(), opts.Compass.Frame(), opts.Gate.Pending())
		writeJSON(w, http.StatusOK, snap)
	})

	// Enable button and warning click run the same acquisition sequence.
	enable := func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodPost) {
			return
		}
		if err := opts.Compass.Enable(); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, opts.Compass.Frame())
	}
	mux.HandleFunc("/api/enable", enable)
	mux.HandleFunc("/api/retry", enable)

	mux.HandleFunc("/api/orientation", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodPost) {
			return
		}
		if opts.Push == nil {
			http.Error(w, "orientation push unavailable", http.StatusNotFound)
			return
		}
		var sample heading.Sample
		if err := decodeBody(w, r, &sample); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		n := opts.Push.Push(sample)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "delivered": n})
	})

	mux.HandleFunc("/api/orientation/permission", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodPost) {
			return
		}
		if opts.Gate == nil {
			http.Error(w, "no consent required", http.StatusNotFound)
			return
		}
		var req struct {
			Granted *bool `json:"granted"`
		}
		if err := decodeBody(w, r, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Granted == nil {
			http.Error(w, "granted is required", http.StatusBadRequest)
			return
		}
		if !opts.Gate.Answer(*req.Granted) {
			http.Error(w, "no permission request pending", http.StatusConflict)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	mux.Handle("/api/destination", DestinationHandler(opts.Compass, opts.DestinationName))
	mux.Handle("/api/ws", FramesWSHandler(opts.Compass.Frames(), opts.Push))

	if opts.Logs != nil {
		mux.Handle("/api/logs", opts.Logs.Handler())
	}
	if opts.Metrics != nil {
		mux.Handle("/metrics", opts.Metrics)
	}

	if assetsFS != nil {
		fileServer := http.FileServer(http.FS(assetsFS))
		mux.Handle("/assets/", http.StripPrefix("/assets/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Prevent stale UI assets during development.
			w.Header().Set("Cache-Control", "no-store")
			fileServer.ServeHTTP(w, r)
		})))
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}

		// Serve the shell for / and any unknown paths (except /api/* and /assets/*).
		if r.URL.Path != "/" {
			if path.Dir(r.URL.Path) == "/api" || path.Dir(r.URL.Path) == "/assets" {
				http.NotFound(w, r)
				return
			}
		}

		if assetsFS == nil {
			f := opts.Compass.Frame()
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = fmt.Fprintf(w, "<!doctype html><html><head><meta charset=\"utf-8\"><title>Compass</title></head><body>")
			_, _ = fmt.Fprintf(w, "<p>UI is unavailable. Use <a href=\"/api/status\">/api/status</a>.</p>")
			_, _ = fmt.Fprintf(w, "<pre>label=%s\nstate=%s\nrotation_deg=%.1f</pre>", f.Label, f.State, f.RotationDeg)
			_, _ = fmt.Fprintf(w, "</body></html>")
			return
		}

		b, err := fs.ReadFile(assetsFS, "index.html")
		if err != nil {
			http.Error(w, "ui unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(b)
	})

	return mux
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	return false
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid json: %v", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}

func Serve(ctx context.Context, listenAddr string, opts Options) error {
	if opts.Compass == nil {
		return fmt.Errorf("web: compass is nil")
	}

	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           Handler(opts),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// No WriteTimeout: /api/ws connections are long-lived; the ws
		// handler sets its own per-write deadlines.
		IdleTimeout:    30 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1 MiB
		// Request contexts (and so WebSocket streams) end with ctx.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
