package web

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"compass-ng/internal/compass"
	"compass-ng/internal/heading"
	"compass-ng/internal/orientation"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	// wsFrameBuffer is how many frames may queue per client before frames
	// are dropped for that client.
	wsFrameBuffer = 8
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The shell is served from this origin; LAN phones may reach it by IP.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// FramesWSHandler streams every published frame as JSON text messages.
// Inbound text messages are orientation samples and are handed to push
// (ignored when push is nil).
func FramesWSHandler(frames *compass.Broadcaster, push *orientation.PushSource) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		if frames == nil {
			http.Error(w, "frames unavailable", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already replied with an HTTP error.
			return
		}
		defer conn.Close()

		id, ch := frames.Subscribe(wsFrameBuffer)
		defer frames.Unsubscribe(id)
		log.Printf("web: ws client connected remote=%s", r.RemoteAddr)

		done := make(chan struct{})
		go func() {
			defer close(done)
			readSamples(conn, push)
		}()

		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()
		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(wsWriteWait))
				return
			case <-done:
				log.Printf("web: ws client gone remote=%s", r.RemoteAddr)
				return
			case f, ok := <-ch:
				if !ok {
					return
				}
				b, err := json.Marshal(f)
				if err != nil {
					continue
				}
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					return
				}
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	})
}

// readSamples drains inbound messages until the connection fails.
func readSamples(conn *websocket.Conn, push *orientation.PushSource) {
	conn.SetReadLimit(maxBodyBytes)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		mt, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		// Any traffic proves liveness.
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		if mt != websocket.TextMessage || push == nil {
			continue
		}
		var sample heading.Sample
		if err := json.Unmarshal(raw, &sample); err != nil {
			log.Printf("web: ws sample unmarshal error: %v", err)
			continue
		}
		push.Push(sample)
	}
}
