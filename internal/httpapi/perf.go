package httpapi

import (
	"net/http"

	"github.com/ent0n29/proctor/internal/observability"
)

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		respondJSON(w, http.StatusOK, observability.LatencySnapshot{Operations: []observability.OperationStats{}})
		return
	}
	respondJSON(w, http.StatusOK, s.metrics.SnapshotLatency())
}
