package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"codesync/internal/leaderboard"
	"codesync/internal/notify"
	"codesync/pkg/interfaces"
	"codesync/pkg/types"
)

// Registry exposes the connection statistics the health endpoint needs.
type Registry interface {
	Stats() map[string]int
}

// Server is the HTTP surface: health, pull-style leaderboard reads,
// notification history for clients that reconnect, and authenticated
// ingress for backend services. The judging pipeline and admin tooling
// hold no WebSocket connection, so submissions, freeze control and
// platform notifications enter here and fan out over the event stream.
type Server struct {
	store       interfaces.Store
	verifier    interfaces.TokenVerifier
	registry    Registry
	leaderboard *leaderboard.Engine
	notify      *notify.Service
	router      *mux.Router
}

func NewServer(store interfaces.Store, verifier interfaces.TokenVerifier, registry Registry, lb *leaderboard.Engine, notifier *notify.Service) *Server {
	s := &Server{
		store:       store,
		verifier:    verifier,
		registry:    registry,
		leaderboard: lb,
		notify:      notifier,
		router:      mux.NewRouter(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.corsMiddleware, s.jsonMiddleware)

	s.router.HandleFunc("/health", s.healthCheck).Methods(http.MethodGet, http.MethodOptions)
	s.router.HandleFunc("/api/contests/{id}/leaderboard", s.getLeaderboard).Methods(http.MethodGet, http.MethodOptions)
	s.router.HandleFunc("/api/notifications", s.getNotifications).Methods(http.MethodGet, http.MethodOptions)

	s.router.HandleFunc("/api/contests/{id}/submissions", s.postSubmission).Methods(http.MethodPost, http.MethodOptions)
	s.router.HandleFunc("/api/contests/{id}/freeze", s.postFreeze).Methods(http.MethodPost, http.MethodOptions)
	s.router.HandleFunc("/api/contests/{id}/unfreeze", s.postUnfreeze).Methods(http.MethodPost, http.MethodOptions)
	s.router.HandleFunc("/api/notifications", s.postNotification).Methods(http.MethodPost, http.MethodOptions)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Store       string         `json:"store"`
	Connections map[string]int `json:"connections"`
}

type LeaderboardResponse struct {
	ContestID string                `json:"contestId"`
	Rankings  []*types.RankingEntry `json:"rankings"`
	Frozen    bool                  `json:"frozen"`
}

type NotificationsResponse struct {
	Notifications []*types.Notification `json:"notifications"`
}

// SubmissionRequest is posted by the judging pipeline after grading.
type SubmissionRequest struct {
	UserID      string    `json:"userId"`
	ProblemID   string    `json:"problemId"`
	Accepted    bool      `json:"accepted"`
	SubmittedAt time.Time `json:"submittedAt"`
	Penalty     int       `json:"penalty"`
}

type FreezeResponse struct {
	ContestID string `json:"contestId"`
	Frozen    bool   `json:"frozen"`
}

// ErrorResponse carries the same wire error code the event stream uses,
// alongside the HTTP status.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// healthCheck probes the shared-state store with a throwaway read so a
// load balancer can pull an instance that lost its backend.
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	storeStatus := "healthy"

	if _, _, err := s.store.Get(r.Context(), "health:probe"); err != nil {
		status = "unhealthy"
		storeStatus = "error: " + err.Error()
	}

	response := HealthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Store:       storeStatus,
		Connections: s.registry.Stats(),
	}

	if status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(response)
}

// getLeaderboard serves current standings without a WebSocket. Frozen
// contests still serve the last standings computed before the freeze.
func (s *Server) getLeaderboard(w http.ResponseWriter, r *http.Request) {
	contestID := mux.Vars(r)["id"]
	if !types.IsValidRoomID(contestID) {
		s.sendError(w, "Invalid contest ID", http.StatusBadRequest)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	rankings, err := s.leaderboard.Get(r.Context(), contestID, limit)
	if err != nil {
		s.sendError(w, "Failed to load leaderboard", http.StatusInternalServerError)
		return
	}

	frozen, err := s.leaderboard.IsFrozen(r.Context(), contestID)
	if err != nil {
		s.sendError(w, "Failed to load leaderboard", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(LeaderboardResponse{
		ContestID: contestID,
		Rankings:  rankings,
		Frozen:    frozen,
	})
}

// getNotifications returns the caller's undelivered and recent
// notifications, authenticated with the same bearer token as the
// WebSocket endpoint.
func (s *Server) getNotifications(w http.ResponseWriter, r *http.Request) {
	claims, err := s.authenticate(r)
	if err != nil {
		s.sendError(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	limit := int64(100)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n > 0 {
			limit = n
		}
	}

	notifications, err := s.notify.History(r.Context(), claims, limit)
	if err != nil {
		s.sendError(w, "Failed to load notifications", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(NotificationsResponse{Notifications: notifications})
}

// postSubmission records a graded submission and returns the standings it
// produced. The judging pipeline authenticates with an admin token.
func (s *Server) postSubmission(w http.ResponseWriter, r *http.Request) {
	if s.requireRole(w, r, types.RoleAdmin) == nil {
		return
	}

	contestID := mux.Vars(r)["id"]
	var req SubmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if !types.IsValidUserID(req.UserID) {
		s.sendError(w, "Invalid user ID", http.StatusBadRequest)
		return
	}
	if req.ProblemID == "" {
		s.sendError(w, "Problem ID is required", http.StatusBadRequest)
		return
	}
	if req.SubmittedAt.IsZero() {
		req.SubmittedAt = time.Now()
	}

	rankings, err := s.leaderboard.AddSubmission(r.Context(), contestID, req.UserID, req.ProblemID,
		req.Accepted, req.SubmittedAt, req.Penalty)
	if err != nil {
		s.sendLeaderboardError(w, err)
		return
	}

	frozen, err := s.leaderboard.IsFrozen(r.Context(), contestID)
	if err != nil {
		s.sendError(w, "Failed to load contest state", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(LeaderboardResponse{
		ContestID: contestID,
		Rankings:  rankings,
		Frozen:    frozen,
	})
}

// postFreeze pins the published leaderboard; admins and moderators run
// contests.
func (s *Server) postFreeze(w http.ResponseWriter, r *http.Request) {
	if s.requireRole(w, r, types.RoleAdmin, types.RoleModerator) == nil {
		return
	}

	contestID := mux.Vars(r)["id"]
	if err := s.leaderboard.Freeze(r.Context(), contestID); err != nil {
		s.sendLeaderboardError(w, err)
		return
	}
	json.NewEncoder(w).Encode(FreezeResponse{ContestID: contestID, Frozen: true})
}

func (s *Server) postUnfreeze(w http.ResponseWriter, r *http.Request) {
	if s.requireRole(w, r, types.RoleAdmin, types.RoleModerator) == nil {
		return
	}

	contestID := mux.Vars(r)["id"]
	if err := s.leaderboard.Unfreeze(r.Context(), contestID); err != nil {
		s.sendLeaderboardError(w, err)
		return
	}
	json.NewEncoder(w).Encode(FreezeResponse{ContestID: contestID, Frozen: false})
}

// postNotification lets platform tooling push a notification into the
// fan-out path. The response carries the assigned id.
func (s *Server) postNotification(w http.ResponseWriter, r *http.Request) {
	if s.requireRole(w, r, types.RoleAdmin) == nil {
		return
	}

	var n types.Notification
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
		s.sendError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	sent, err := s.notify.Send(r.Context(), &n)
	if err != nil {
		switch {
		case errors.Is(err, notify.ErrEmptyTitle), errors.Is(err, notify.ErrInvalidType):
			s.sendError(w, err.Error(), http.StatusBadRequest)
		default:
			s.sendError(w, "Failed to send notification", http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(sent)
}

func (s *Server) sendLeaderboardError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, leaderboard.ErrInvalidContest):
		s.sendError(w, "Invalid contest ID", http.StatusBadRequest)
	case errors.Is(err, leaderboard.ErrContestNotFound):
		s.sendError(w, "Contest not found", http.StatusNotFound)
	default:
		s.sendError(w, "Failed to update contest", http.StatusInternalServerError)
	}
}

// requireRole authenticates the request and checks role membership,
// writing the error response itself when either fails.
func (s *Server) requireRole(w http.ResponseWriter, r *http.Request, roles ...string) *types.Claims {
	claims, err := s.authenticate(r)
	if err != nil {
		s.sendError(w, "Authentication required", http.StatusUnauthorized)
		return nil
	}
	if !claims.HasAnyRole(roles) {
		s.sendError(w, "Insufficient role", http.StatusForbidden)
		return nil
	}
	return claims
}

func (s *Server) authenticate(r *http.Request) (*types.Claims, error) {
	header := r.Header.Get("Authorization")
	token := strings.TrimPrefix(header, "Bearer ")
	if token == header {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return nil, interfaces.ErrTokenMissing
	}
	return s.verifier.Verify(token)
}

func (s *Server) sendError(w http.ResponseWriter, message string, status int) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   wireCode(status),
		Code:    status,
		Message: message,
	})
}

// wireCode folds an HTTP status onto the event-stream error taxonomy so
// a client sees one code space on both surfaces.
func wireCode(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return types.CodeAuthenticationFailure
	case http.StatusForbidden:
		return types.CodeAccessDenied
	case http.StatusNotFound:
		return types.CodeNotFound
	case http.StatusInternalServerError, http.StatusServiceUnavailable:
		return types.CodeStoreUnavailable
	default:
		return types.CodeValidationError
	}
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
