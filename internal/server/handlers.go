package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"dora/internal/core"
	"dora/internal/dashboard"
	"dora/internal/persistence"
)

// HealthResponse is returned by /health
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error string `json:"error"`
}

// ClusterDetail is a cluster with its member items
type ClusterDetail struct {
	core.Cluster
	Members []core.Item `json:"members"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)

	if err := s.db.Ping(r.Context()); err != nil {
		checks["database"] = "error"
		s.respondJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unhealthy", Checks: checks})
		return
	}

	checks["database"] = "ok"
	s.respondJSON(w, http.StatusOK, HealthResponse{Status: "ok", Checks: checks})
}

// handleListScopes handles GET /api/scopes
func (s *Server) handleListScopes(w http.ResponseWriter, r *http.Request) {
	scopes, err := s.db.ListScopes(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to list scopes", err)
		return
	}

	statuses := make([]persistence.ScopeStatus, 0, len(scopes))
	for _, scope := range scopes {
		status, err := s.db.ScopeStatus(r.Context(), scope)
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, "failed to read scope status", err)
			return
		}
		statuses = append(statuses, *status)
	}
	s.respondJSON(w, http.StatusOK, statuses)
}

// handleScopeStatus handles GET /api/scopes/{company}/{kind}/{dimensions}
func (s *Server) handleScopeStatus(w http.ResponseWriter, r *http.Request) {
	scope, ok := s.scopeParam(w, r)
	if !ok {
		return
	}
	status, err := s.db.ScopeStatus(r.Context(), scope)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to read scope status", err)
		return
	}
	s.respondJSON(w, http.StatusOK, status)
}

// handleListClusters handles GET /api/scopes/{company}/{kind}/{dimensions}/clusters.
// ?unlabeled=true restricts the list to clusters without a label.
func (s *Server) handleListClusters(w http.ResponseWriter, r *http.Request) {
	scope, ok := s.scopeParam(w, r)
	if !ok {
		return
	}
	unlabeledOnly := r.URL.Query().Get("unlabeled") == "true"

	clusters, err := s.db.Clusters().ListByScope(r.Context(), scope, unlabeledOnly)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to list clusters", err)
		return
	}
	if clusters == nil {
		clusters = []core.Cluster{}
	}
	s.respondJSON(w, http.StatusOK, clusters)
}

// handleListGroups handles GET /api/scopes/{company}/{kind}/{dimensions}/groups
func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	scope, ok := s.scopeParam(w, r)
	if !ok {
		return
	}
	groups, err := s.db.Groups().ListByScope(r.Context(), scope)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to list groups", err)
		return
	}
	if groups == nil {
		groups = []core.ClusterGroup{}
	}
	s.respondJSON(w, http.StatusOK, groups)
}

// handleScopeDashboard handles GET /api/scopes/{company}/{kind}/{dimensions}/dashboard
func (s *Server) handleScopeDashboard(w http.ResponseWriter, r *http.Request) {
	scope, ok := s.scopeParam(w, r)
	if !ok {
		return
	}
	data, err := dashboard.Build(r.Context(), s.db, scope, samplesParam(r))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to build dashboard", err)
		return
	}
	s.respondJSON(w, http.StatusOK, data)
}

// handleDashboard handles GET /api/dashboard?company=<name>
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	payload, err := dashboard.Export(r.Context(), s.db, dashboard.Options{
		Company: r.URL.Query().Get("company"),
		Samples: samplesParam(r),
	})
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to build dashboard", err)
		return
	}
	s.respondJSON(w, http.StatusOK, payload)
}

// handleGetCluster handles GET /api/clusters/{id}
func (s *Server) handleGetCluster(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid cluster id", err)
		return
	}

	cluster, err := s.db.Clusters().Get(r.Context(), id)
	if errors.Is(err, persistence.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "cluster not found", err)
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to load cluster", err)
		return
	}
	members, err := s.db.Clusters().Members(r.Context(), id)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to load members", err)
		return
	}
	if members == nil {
		members = []core.Item{}
	}
	s.respondJSON(w, http.StatusOK, ClusterDetail{Cluster: *cluster, Members: members})
}

// scopeParam parses the scope from the route; on failure it has already
// written a 400 response.
func (s *Server) scopeParam(w http.ResponseWriter, r *http.Request) (core.Scope, bool) {
	kind, err := core.ParseItemKind(chi.URLParam(r, "kind"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid item kind", err)
		return core.Scope{}, false
	}
	dims, err := strconv.Atoi(chi.URLParam(r, "dimensions"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid dimensions", err)
		return core.Scope{}, false
	}
	scope := core.NewScope(chi.URLParam(r, "company"), kind, dims)
	if err := scope.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid scope", err)
		return core.Scope{}, false
	}
	return scope, true
}

func samplesParam(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("samples"))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// respondError logs the cause and writes a JSON error body
func (s *Server) respondError(w http.ResponseWriter, status int, message string, err error) {
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Int("status", status).Msg(message)
	}
	s.respondJSON(w, status, ErrorResponse{Error: fmt.Sprintf("%s: %v", message, err)})
}
