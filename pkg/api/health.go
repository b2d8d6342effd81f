package api

import (
	"net/http"
	"time"
)

// readyHandler reports whether this member can serve requests: it knows a
// raft leader and its local store answers reads
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	ready := true
	var message string

	if s.raft != nil {
		if s.raft.IsLeader() {
			checks["raft"] = "leader"
		} else if leader := s.raft.LeaderAddr(); leader != "" {
			checks["raft"] = "follower (leader: " + leader + ")"
		} else {
			checks["raft"] = "no leader elected"
			ready = false
			message = "Waiting for leader election"
		}
	} else {
		checks["raft"] = "standalone"
	}

	if _, err := s.store.ListUniverses(); err != nil {
		checks["storage"] = "error: " + err.Error()
		ready = false
		if message == "" {
			message = "Storage not accessible"
		}
	} else {
		checks["storage"] = "ok"
	}

	status := "ready"
	statusCode := http.StatusOK
	if !ready {
		status = "not ready"
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, &ReadyResponse{
		Status:    status,
		Timestamp: time.Now(),
		Checks:    checks,
		Message:   message,
	})
}
