// Package api serves recorded solution searches and the loaded topology
// over a read-only JSON API.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/global-data-controller/rankplace/internal/models"
)

// RateLimiter implements per-IP rate limiting
type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(r rate.Limit, b int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    b,
	}
}

// Allow checks if the request from the given IP is allowed
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, exists := rl.limiters[ip]
	if !exists {
		limiter = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[ip] = limiter
	}

	return limiter.Allow()
}

// Handler routes the report API
type Handler struct {
	services Services
	logger   *zap.Logger
	limiter  *RateLimiter
	router   *mux.Router
}

// NewHandler creates the API handler. A nil limiter disables rate limiting.
func NewHandler(services Services, limiter *RateLimiter, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		services: services,
		logger:   logger,
		limiter:  limiter,
		router:   mux.NewRouter(),
	}
	h.RegisterRoutes(h.router.PathPrefix("/api/v1").Subrouter())
	return h
}

// RegisterRoutes registers the API routes with the router
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.Use(h.rateLimitMiddleware, corsMiddleware)

	// Run routes
	router.HandleFunc("/runs", h.ListRuns).Methods(http.MethodGet)
	router.HandleFunc("/runs/{runId}", h.GetRun).Methods(http.MethodGet)
	router.HandleFunc("/runs/{runId}/solutions", h.ListSolutions).Methods(http.MethodGet)
	router.HandleFunc("/runs/{runId}/solutions/{round:[0-9]+}", h.GetSolution).Methods(http.MethodGet)

	// Topology routes
	router.HandleFunc("/regions", h.ListRegions).Methods(http.MethodGet)
	router.HandleFunc("/regions/{regionId}", h.GetRegion).Methods(http.MethodGet)
	router.HandleFunc("/groups", h.ListGroups).Methods(http.MethodGet)
	router.HandleFunc("/groups/{groupId}", h.GetGroup).Methods(http.MethodGet)
	router.HandleFunc("/ranking", h.GetRanking).Methods(http.MethodGet)

	router.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// Router returns the routed handler, for mounting in a server
func (h *Handler) Router() *mux.Router {
	return h.router
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// Middleware functions

// rateLimitMiddleware applies rate limiting
func (h *Handler) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.limiter != nil && !h.limiter.Allow(getClientIP(r)) {
			h.writeErrorResponse(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "Rate limit exceeded", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		next.ServeHTTP(w, r)
	})
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	// Check X-Forwarded-For header
	xff := r.Header.Get("X-Forwarded-For")
	if xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}

	// Check X-Real-IP header
	xri := r.Header.Get("X-Real-IP")
	if xri != "" {
		return xri
	}

	// Fall back to RemoteAddr
	ip := r.RemoteAddr
	if colon := strings.LastIndex(ip, ":"); colon != -1 {
		ip = ip[:colon]
	}
	return ip
}

// Response types

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// SolutionResponse is one recorded round
type SolutionResponse struct {
	RunID          string            `json:"run_id"`
	Round          int               `json:"round"`
	ElapsedSeconds float64           `json:"elapsed_seconds"`
	RecordedAt     time.Time         `json:"recorded_at"`
	NodePlacement  map[string]string `json:"node_placement"`
	LinkPlacement  []LinkPath        `json:"link_placement"`
}

// LinkPath is the region path of one group pair
type LinkPath struct {
	A    string   `json:"a"`
	B    string   `json:"b"`
	Path []string `json:"path"`
}

func newSolutionResponse(s *models.Solution) SolutionResponse {
	resp := SolutionResponse{
		RunID:          s.RunID,
		Round:          s.Round,
		ElapsedSeconds: s.Elapsed.Seconds(),
		RecordedAt:     s.RecordedAt,
		NodePlacement:  map[string]string{},
		LinkPlacement:  []LinkPath{},
	}
	if s.Result == nil {
		return resp
	}
	resp.NodePlacement = s.Result.NodePlacement
	for pair, path := range s.Result.LinkPlacement {
		resp.LinkPlacement = append(resp.LinkPlacement, LinkPath{A: pair.A, B: pair.B, Path: path})
	}
	sort.Slice(resp.LinkPlacement, func(i, j int) bool {
		if resp.LinkPlacement[i].A != resp.LinkPlacement[j].A {
			return resp.LinkPlacement[i].A < resp.LinkPlacement[j].A
		}
		return resp.LinkPlacement[i].B < resp.LinkPlacement[j].B
	})
	return resp
}

// API Handlers

// ListRuns handles GET /runs
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.services.ListRuns(r.Context())
	if err != nil {
		h.writeServiceError(w, "Failed to list runs", err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// GetRun handles GET /runs/{runId}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["runId"]

	run, err := h.services.GetRun(r.Context(), runID)
	if err != nil {
		h.writeServiceError(w, "Failed to get run", err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, run)
}

// ListSolutions handles GET /runs/{runId}/solutions
func (h *Handler) ListSolutions(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["runId"]

	solutions, err := h.services.ListSolutions(r.Context(), runID)
	if err != nil {
		h.writeServiceError(w, "Failed to list solutions", err)
		return
	}

	resp := make([]SolutionResponse, len(solutions))
	for i, s := range solutions {
		resp[i] = newSolutionResponse(s)
	}
	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"run_id":    runID,
		"solutions": resp,
		"count":     len(resp),
	})
}

// GetSolution handles GET /runs/{runId}/solutions/{round}
func (h *Handler) GetSolution(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	round, err := strconv.Atoi(vars["round"])
	if err != nil || round < 1 {
		h.writeErrorResponse(w, http.StatusBadRequest, "INVALID_ROUND", "Round must be a positive integer", nil)
		return
	}

	solutions, err := h.services.ListSolutions(r.Context(), vars["runId"])
	if err != nil {
		h.writeServiceError(w, "Failed to get solution", err)
		return
	}

	for _, s := range solutions {
		if s.Round == round {
			h.writeJSONResponse(w, http.StatusOK, newSolutionResponse(s))
			return
		}
	}
	h.writeServiceError(w, "Failed to get solution", ErrNotFound)
}

// ListRegions handles GET /regions
func (h *Handler) ListRegions(w http.ResponseWriter, r *http.Request) {
	regions, err := h.services.Regions(r.Context())
	if err != nil {
		h.writeServiceError(w, "Failed to list regions", err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"regions": regions,
		"count":   len(regions),
	})
}

// GetRegion handles GET /regions/{regionId}
func (h *Handler) GetRegion(w http.ResponseWriter, r *http.Request) {
	regionID := mux.Vars(r)["regionId"]

	regions, err := h.services.Regions(r.Context())
	if err != nil {
		h.writeServiceError(w, "Failed to get region", err)
		return
	}
	for _, region := range regions {
		if region.ID == regionID {
			h.writeJSONResponse(w, http.StatusOK, region)
			return
		}
	}
	h.writeServiceError(w, "Failed to get region", ErrNotFound)
}

// ListGroups handles GET /groups
func (h *Handler) ListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.services.Groups(r.Context())
	if err != nil {
		h.writeServiceError(w, "Failed to list groups", err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"groups": groups,
		"count":  len(groups),
	})
}

// GetGroup handles GET /groups/{groupId}
func (h *Handler) GetGroup(w http.ResponseWriter, r *http.Request) {
	groupID := mux.Vars(r)["groupId"]

	groups, err := h.services.Groups(r.Context())
	if err != nil {
		h.writeServiceError(w, "Failed to get group", err)
		return
	}
	for _, group := range groups {
		if group.ID == groupID {
			h.writeJSONResponse(w, http.StatusOK, group)
			return
		}
	}
	h.writeServiceError(w, "Failed to get group", ErrNotFound)
}

// GetRanking handles GET /ranking
func (h *Handler) GetRanking(w http.ResponseWriter, r *http.Request) {
	ranking, err := h.services.Ranking(r.Context())
	if err != nil {
		h.writeServiceError(w, "Failed to rank topology", err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, ranking)
}

// writeServiceError maps backend errors to status codes
func (h *Handler) writeServiceError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		h.writeErrorResponse(w, http.StatusNotFound, "NOT_FOUND", message, map[string]interface{}{"error": err.Error()})
	case errors.Is(err, ErrNoTopology):
		h.writeErrorResponse(w, http.StatusServiceUnavailable, "NO_TOPOLOGY", message, map[string]interface{}{"error": err.Error()})
	default:
		h.logger.Error(message, zap.Error(err))
		h.writeErrorResponse(w, http.StatusInternalServerError, "INTERNAL_ERROR", message, nil)
	}
}

// writeJSONResponse writes a JSON response
func (h *Handler) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

// writeErrorResponse writes an error response
func (h *Handler) writeErrorResponse(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	h.writeJSONResponse(w, statusCode, ErrorResponse{
		Code:    code,
		Message: message,
		Details: details,
	})
}
