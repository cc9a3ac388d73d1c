package server

import (
	"encoding/json"
	"net/http"
)

// indexSummary is the landing-page overview of the tuning service.
type indexSummary struct {
	Service string `json:"service"`
	Version string `json:"version"`
	Jobs    int    `json:"jobs"`
	Running int    `json:"running"`
}

// handleIndex handles GET /
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	// Only handle exact root path
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	summary := indexSummary{
		Service: "graphprot-tune",
		Version: Version,
		Jobs:    len(s.jobManager.ListJobs()),
		Running: len(s.jobManager.GetRunningJobs()),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}

// Version is stamped by the build; the CLI keeps its own copy.
var Version = "0.1.0"
