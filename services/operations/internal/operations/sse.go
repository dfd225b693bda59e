package operations

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/appetiteclub/orderflow/services/operations/internal/realtime"
	"github.com/appetiteclub/orderflow/services/operations/internal/reconcile"
)

const sseBuffer = 16

// StreamStation pushes the station's snapshots and the notices meant for it
// as server-sent events. A client that falls behind skips snapshots; the next
// one supersedes them anyway.
func (h *Handler) StreamStation(w http.ResponseWriter, r *http.Request) {
	st, _, ok := h.station(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	log := h.log(r).With("role", st.Role)
	log.Info("station stream connected")

	snapshots := make(chan reconcile.Snapshot, sseBuffer)
	notices := make(chan realtime.Notice, sseBuffer)

	stopSnapshots := st.Collection.Watch(func(s reconcile.Snapshot) {
		select {
		case snapshots <- s:
		default:
		}
	})
	defer stopSnapshots()

	stopNotices := h.stations.Policy().Subscribe(func(n realtime.Notice) {
		if n.Role != "" && n.Role != st.Role {
			return
		}
		select {
		case notices <- n:
		default:
			log.Info("dropping notice for slow stream", "kind", n.Kind)
		}
	})
	defer stopNotices()

	fmt.Fprintf(w, ": connected\n\n")
	fmt.Fprintf(w, "retry: 2000\n\n")
	h.sendJSON(w, "snapshot", st.Collection.Snapshot())

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			log.Info("station stream disconnected")
			return
		case <-ticker.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flush(w)
		case s := <-snapshots:
			h.sendJSON(w, "snapshot", s)
		case n := <-notices:
			h.sendJSON(w, "notice", n)
		}
	}
}

func (h *Handler) sendJSON(w http.ResponseWriter, eventType string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("cannot encode stream event", "event", eventType, "error", err)
		return
	}
	sendSSEEvent(w, eventType, string(data))
}

// sendSSEEvent writes one event, prefixing every data line.
func sendSSEEvent(w http.ResponseWriter, eventType string, data string) {
	fmt.Fprintf(w, "event: %s\n", eventType)
	for _, line := range strings.Split(strings.TrimSpace(data), "\n") {
		fmt.Fprintf(w, "data: %s\n", line)
	}
	fmt.Fprintf(w, "\n")
	flush(w)
}

func flush(w http.ResponseWriter) {
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}
