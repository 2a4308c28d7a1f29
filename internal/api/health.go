package api

import (
	"context"
	"net/http"
	"time"

	"github.com/sells-group/skiptrace/internal/resilience"
)

type healthView struct {
	Status    string              `json:"status"`
	Store     string              `json:"store"`
	Providers []string            `json:"providers"`
	Breakers  []resilience.Status `json:"breakers,omitempty"`
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	h := healthView{Status: "ok", Store: "ok", Providers: s.Manager.Providers()}
	if s.Breakers != nil {
		h.Breakers = s.Breakers.Snapshot()
	}

	if err := s.Store.Ping(ctx); err != nil {
		h.Status, h.Store = "degraded", err.Error()
		writeJSON(w, http.StatusServiceUnavailable, envelope{Message: "store unreachable", Error: "store_unavailable", Data: h})
		return
	}
	writeData(w, h)
}
