package web

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	defaultLogLines = 2000
	defaultLogTail  = 200
	maxLogTail      = 5000
	// maxLogLine caps a single line so a runaway writer cannot grow the
	// pending buffer without bound.
	maxLogLine = 64 << 10
)

// LogBuffer is an io.Writer that keeps the newest complete log lines in a
// ring for /api/logs. main tees the standard logger into it.
type LogBuffer struct {
	mu      sync.Mutex
	ring    []string
	next    int
	full    bool
	pending []byte
	dropped uint64
}

func NewLogBuffer(maxLines int) *LogBuffer {
	if maxLines <= 0 {
		maxLines = defaultLogLines
	}
	return &LogBuffer{ring: make([]string, maxLines)}
}

// Write splits p on newlines. A trailing fragment is held until its newline
// arrives.
func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rest := p
	for {
		i := bytes.IndexByte(rest, '\n')
		if i < 0 {
			break
		}
		b.pending = append(b.pending, rest[:i]...)
		b.pushLocked(string(bytes.TrimRight(b.pending, "\r")))
		b.pending = b.pending[:0]
		rest = rest[i+1:]
	}
	b.pending = append(b.pending, rest...)
	if len(b.pending) > maxLogLine {
		b.pushLocked(string(b.pending))
		b.pending = b.pending[:0]
	}
	return len(p), nil
}

func (b *LogBuffer) pushLocked(line string) {
	if line == "" {
		return
	}
	if b.full {
		b.dropped++
	}
	b.ring[b.next] = line
	b.next++
	if b.next == len(b.ring) {
		b.next = 0
		b.full = true
	}
}

// linesLocked returns the buffered lines oldest first.
func (b *LogBuffer) linesLocked() []string {
	if !b.full {
		return b.ring[:b.next]
	}
	out := make([]string, 0, len(b.ring))
	out = append(out, b.ring[b.next:]...)
	return append(out, b.ring[:b.next]...)
}

type LogsResponse struct {
	NowUTC  string   `json:"now_utc"`
	Dropped uint64   `json:"dropped"`
	Lines   []string `json:"lines"`
}

// Snapshot returns up to tail of the newest lines, oldest first. A non-empty
// subsystem keeps only lines logged as "<subsystem>: ...".
func (b *LogBuffer) Snapshot(tail int, subsystem string) (lines []string, dropped uint64) {
	if tail <= 0 {
		tail = defaultLogTail
	}
	marker := ""
	if subsystem != "" {
		marker = subsystem + ": "
	}

	b.mu.Lock()
	all := b.linesLocked()
	dropped = b.dropped
	matched := make([]string, 0, min(tail, len(all)))
	for i := len(all) - 1; i >= 0 && len(matched) < tail; i-- {
		if marker == "" || hasSubsystem(all[i], marker) {
			matched = append(matched, all[i])
		}
	}
	b.mu.Unlock()

	lines = make([]string, len(matched))
	for i, l := range matched {
		lines[len(matched)-1-i] = l
	}
	return lines, dropped
}

// hasSubsystem matches marker at the start of the message, after the
// standard logger's date/time prefix.
func hasSubsystem(line, marker string) bool {
	return strings.HasPrefix(line, marker) || strings.Contains(line, " "+marker)
}

// Handler serves the tail as JSON, or as plain text with ?format=text.
// ?tail=N bounds the line count, ?subsystem=gps filters by prefix.
func (b *LogBuffer) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		q := r.URL.Query()

		tail := defaultLogTail
		if s := strings.TrimSpace(q.Get("tail")); s != "" {
			v, err := strconv.Atoi(s)
			if err != nil || v < 1 || v > maxLogTail {
				http.Error(w, "tail must be an integer in [1,"+strconv.Itoa(maxLogTail)+"]", http.StatusBadRequest)
				return
			}
			tail = v
		}

		lines, dropped := b.Snapshot(tail, strings.TrimSpace(q.Get("subsystem")))

		if strings.EqualFold(q.Get("format"), "text") {
			var sb strings.Builder
			if dropped > 0 {
				sb.WriteString("[dropped=" + strconv.FormatUint(dropped, 10) + "]\n")
			}
			for _, line := range lines {
				sb.WriteString(line)
				sb.WriteByte('\n')
			}
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("Cache-Control", "no-store")
			_, _ = w.Write([]byte(sb.String()))
			return
		}

		writeJSON(w, http.StatusOK, LogsResponse{
			NowUTC:  time.Now().UTC().Format(time.RFC3339Nano),
			Dropped: dropped,
			Lines:   lines,
		})
	})
}
