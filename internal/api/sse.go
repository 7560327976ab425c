package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Dicklesworthstone/boostd/internal/coordinator"
)

// handleEvents streams notifications as Server-Sent Events. Each event is
// named after the notification and carries it as JSON. A statusUpdate with
// the current sessions is sent first.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	// The server WriteTimeout would cut long-lived streams.
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sub, cancel := s.hub.Subscribe(0)
	defer cancel()

	log := s.logger.With("subscriber", sub.ID)
	log.Debug("event stream opened", "remote_addr", r.RemoteAddr)
	defer func() {
		log.Debug("event stream closed", "dropped", sub.Dropped())
	}()

	initial := coordinator.Notification{
		Name:     coordinator.NotifyStatusUpdate,
		Sessions: s.coord.ListActive(),
		Time:     time.Now().UTC(),
	}
	if err := writeEvent(w, initial); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		log.Warn("event stream not flushable", "error", err)
		return
	}

	keepAlive := time.NewTicker(s.KeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case n, ok := <-sub.C:
			if !ok {
				return
			}
			if err := writeEvent(w, n); err != nil {
				return
			}
		case <-keepAlive.C:
			if _, err := io.WriteString(w, ": keepalive\n\n"); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

// writeEvent frames n as one SSE event.
func writeEvent(w io.Writer, n coordinator.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", n.Name, data)
	return err
}
