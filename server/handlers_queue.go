package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

type queueEntry struct {
	Position int    `json:"position"`
	Platform string `json:"platform"`
	Handle   string `json:"handle"`
	Seq      uint64 `json:"seq"`
}

type queueResponse struct {
	Depth        int          `json:"depth"`
	Participants []queueEntry `json:"participants"`
	Transports   []string     `json:"transports"`
}

// HandleQueue returns the current queue in order.
func (h *Handlers) HandleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := queueResponse{Participants: []queueEntry{}, Transports: []string{}}
	if h.queue != nil {
		for i, p := range h.queue.Snapshot() {
			resp.Participants = append(resp.Participants, queueEntry{
				Position: i + 1,
				Platform: p.Identity.Platform,
				Handle:   p.Identity.Handle,
				Seq:      p.Seq,
			})
		}
	}
	resp.Depth = len(resp.Participants)
	if h.transports != nil {
		resp.Transports = append(resp.Transports, h.transports()...)
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err))
	}
}
