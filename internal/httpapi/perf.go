package httpapi

import (
	"net/http"

	"github.com/ent0n29/voiceauditor/internal/status"
)

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	// SnapshotLatency tolerates a nil receiver.
	respondJSON(w, http.StatusOK, s.metrics.SnapshotLatency())
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	if s.status == nil {
		respondJSON(w, http.StatusOK, status.Snapshot{Label: status.Label(0, status.DefaultSiteLabel)})
		return
	}
	respondJSON(w, http.StatusOK, s.status.Current())
}
