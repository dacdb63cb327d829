package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// handleGetPlatforms handles GET /api/platforms
func (s *Server) handleGetPlatforms(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"platforms": s.portfolioService.Platforms(),
	})
}

// handleTestPlatform handles POST /api/platforms/{platform}/test. The
// platform's failure is reported in the body; only lookup and credential
// problems change the status code.
func (s *Server) handleTestPlatform(w http.ResponseWriter, r *http.Request) {
	platform, ok := parsePlatform(w, mux.Vars(r)["platform"])
	if !ok {
		return
	}

	err := s.portfolioService.TestConnection(r.Context(), platform)
	if err == nil {
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"platform": platform,
			"success":  true,
		})
		return
	}

	if status := statusOf(err); status == http.StatusNotFound || status == http.StatusPreconditionFailed {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"platform": platform,
		"success":  false,
		"error":    err.Error(),
	})
}
