package server

import (
	"net/http"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// handleHealthLive is a liveness probe: if the process can answer
// HTTP at all, it is live. No dependency checks.
func (s *Server) handleHealthLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleHealthReady enriches the liveness check with host resource
// pressure, matching the original system's practice of refusing new
// work when the host is memory- or disk-starved rather than failing
// mid-upload.
func (s *Server) handleHealthReady(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	ready := true

	if vm, err := mem.VirtualMemoryWithContext(r.Context()); err == nil {
		if vm.UsedPercent > 95 {
			checks["memory"] = "critical"
			ready = false
		} else {
			checks["memory"] = "ok"
		}
	} else {
		s.logger.WithError(err).Warn("health check: failed to read memory stats")
		checks["memory"] = "unknown"
	}

	if du, err := disk.UsageWithContext(r.Context(), "/"); err == nil {
		if du.UsedPercent > 95 {
			checks["disk"] = "critical"
			ready = false
		} else {
			checks["disk"] = "ok"
		}
	} else {
		s.logger.WithError(err).Warn("health check: failed to read disk stats")
		checks["disk"] = "unknown"
	}

	status := http.StatusOK
	statusText := "ok"
	if !ready {
		status = http.StatusServiceUnavailable
		statusText = "not_ready"
	}

	writeJSON(w, status, map[string]interface{}{
		"status": statusText,
		"checks": checks,
	})
}
