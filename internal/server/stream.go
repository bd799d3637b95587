package server

import (
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/copyleftdev/ZEPHYR/internal/optimization"
)

// subscriberBuffer is the per-subscriber channel depth. A slow websocket
// drops records rather than stalling the optimizer's progress callback.
const subscriberBuffer = 64

// progressHub fans one job's iteration records out to any number of
// websocket subscribers. Closing the hub signals end of stream.
type progressHub struct {
	mu     sync.Mutex
	subs   map[chan optimization.IterationRecord]struct{}
	last   *optimization.IterationRecord
	closed bool
}

func newProgressHub() *progressHub {
	return &progressHub{subs: make(map[chan optimization.IterationRecord]struct{})}
}

// publish delivers a record to every subscriber without blocking.
func (h *progressHub) publish(rec optimization.IterationRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.last = &rec
	for ch := range h.subs {
		select {
		case ch <- rec:
		default:
		}
	}
}

// subscribe returns a receive channel; it is closed when the job ends.
// A nil return means the job already ended.
func (h *progressHub) subscribe() chan optimization.IterationRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	ch := make(chan optimization.IterationRecord, subscriberBuffer)
	h.subs[ch] = struct{}{}
	return ch
}

func (h *progressHub) unsubscribe(ch chan optimization.IterationRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
}

// latest returns the most recently published record, or nil before the
// first iteration. Safe to call from any goroutine.
func (h *progressHub) latest() *optimization.IterationRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

// close ends the stream for all subscribers.
func (h *progressHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		close(ch)
	}
	h.subs = nil
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Progress streams are read-only telemetry; any origin may watch.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleStream upgrades GET /api/v1/jobs/{id}/stream to a websocket and
// forwards iteration records as JSON until the job reaches a terminal
// state or the client disconnects.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	s.jobsMu.RLock()
	job, exists := s.jobs[jobID]
	s.jobsMu.RUnlock()
	if !exists {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", map[string]interface{}{
			"job_id": jobID,
			"error":  err.Error(),
		})
		return
	}
	defer conn.Close()

	ch := job.hub.subscribe()
	if ch == nil {
		// Job already finished; emit the recorded history once so late
		// subscribers still see the run.
		for _, rec := range job.snapshotHistory() {
			if err := conn.WriteJSON(rec); err != nil {
				return
			}
		}
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"))
		return
	}
	defer job.hub.unsubscribe(ch)

	// Drain client frames so pings and close frames are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for rec := range ch {
		if err := conn.WriteJSON(rec); err != nil {
			return
		}
	}
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"))
}
