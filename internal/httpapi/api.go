// Package httpapi exposes the REST surface of the lingua server: partner
// matching, connection lifecycle, message history, and the streak
// leaderboard. All routes require a bearer token; the authenticated user id
// is the actor for every operation.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/tandem/lingua-app/internal/apperr"
	"github.com/tandem/lingua-app/internal/connection"
	"github.com/tandem/lingua-app/internal/match"
	"github.com/tandem/lingua-app/internal/message"
	"github.com/tandem/lingua-app/internal/metrics"
)

// TokenVerifier authenticates a bearer token and returns the user id it
// belongs to.
type TokenVerifier interface {
	UserID(token string) (string, error)
}

// MatchFinder produces partner candidates for a user.
type MatchFinder interface {
	Find(ctx context.Context, userID string) ([]*match.Candidate, error)
}

// Lifecycle is the connection lifecycle service surface the API exposes.
type Lifecycle interface {
	CreateRequest(ctx context.Context, requesterID, recipientID, teachLanguage, learnLanguage string) (*connection.Connection, error)
	UpdateStatus(ctx context.Context, connectionID, actorID, newStatus string) (*connection.Connection, error)
	List(ctx context.Context, callerID, filter string) ([]*connection.Connection, error)
	Leaderboard(ctx context.Context, limit int) ([]*connection.Connection, error)
}

// ConnectionGetter looks up a single connection for authorization checks.
type ConnectionGetter interface {
	Get(ctx context.Context, id string) (*connection.Connection, error)
}

// MessageLister reads a connection's message history.
type MessageLister interface {
	ListByConnection(ctx context.Context, connectionID string) ([]*message.Enriched, error)
}

// API holds the handler dependencies and mounts the REST routes.
type API struct {
	auth        TokenVerifier
	matches     MatchFinder
	lifecycle   Lifecycle
	connections ConnectionGetter
	messages    MessageLister
}

// New creates an API over the given collaborators.
func New(auth TokenVerifier, matches MatchFinder, lifecycle Lifecycle,
	connections ConnectionGetter, messages MessageLister) *API {
	return &API{
		auth:        auth,
		matches:     matches,
		lifecycle:   lifecycle,
		connections: connections,
		messages:    messages,
	}
}

// Register mounts all API routes on the given mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/matches", a.requireAuth(a.handleMatches))
	mux.HandleFunc("POST /api/connections", a.requireAuth(a.handleCreateConnection))
	mux.HandleFunc("GET /api/connections", a.requireAuth(a.handleListConnections))
	mux.HandleFunc("PUT /api/connections/{id}/status", a.requireAuth(a.handleUpdateStatus))
	mux.HandleFunc("GET /api/connections/{id}/messages", a.requireAuth(a.handleListMessages))
	mux.HandleFunc("GET /api/leaderboard", a.requireAuth(a.handleLeaderboard))
}

type contextKey string

const userIDKey contextKey = "user_id"

// requireAuth verifies the bearer token and stores the authenticated user id
// in the request context.
func (a *API) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		userID, err := a.auth.UserID(token)
		if err != nil {
			writeError(w, err)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	}
}

func callerID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}

// handleMatches returns all compatible partner candidates for the caller.
func (a *API) handleMatches(w http.ResponseWriter, r *http.Request) {
	candidates, err := a.matches.Find(r.Context(), callerID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, candidates)
}

type createConnectionRequest struct {
	RecipientID   string `json:"recipient_id"`
	TeachLanguage string `json:"teach_language"`
	LearnLanguage string `json:"learn_language"`
}

// handleCreateConnection creates a pending connection request from the
// caller to the recipient.
func (a *API) handleCreateConnection(w http.ResponseWriter, r *http.Request) {
	var req createConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Validation("invalid request body"))
		return
	}

	conn, err := a.lifecycle.CreateRequest(r.Context(), callerID(r),
		req.RecipientID, req.TeachLanguage, req.LearnLanguage)
	if err != nil {
		writeError(w, err)
		return
	}

	metrics.ConnectionRequests.WithLabelValues("created").Inc()
	writeJSON(w, http.StatusCreated, conn)
}

// handleListConnections returns the caller's connections for the requested
// filter (active, pending_received, pending_sent; default active).
func (a *API) handleListConnections(w http.ResponseWriter, r *http.Request) {
	conns, err := a.lifecycle.List(r.Context(), callerID(r), r.URL.Query().Get("type"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conns)
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

// handleUpdateStatus applies a lifecycle transition (accepted, rejected,
// cancelled) with the caller as the actor.
func (a *API) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Validation("invalid request body"))
		return
	}

	conn, err := a.lifecycle.UpdateStatus(r.Context(), r.PathValue("id"), callerID(r), req.Status)
	if err != nil {
		writeError(w, err)
		return
	}

	metrics.ConnectionRequests.WithLabelValues(req.Status).Inc()
	writeJSON(w, http.StatusOK, conn)
}

// handleListMessages returns the full message history of one connection.
// Only participants may read it.
func (a *API) handleListMessages(w http.ResponseWriter, r *http.Request) {
	connID := r.PathValue("id")

	conn, err := a.connections.Get(r.Context(), connID)
	if err != nil {
		writeError(w, err)
		return
	}
	if conn == nil {
		writeError(w, apperr.NotFound("connection not found"))
		return
	}
	if !conn.IsParticipant(callerID(r)) {
		writeError(w, apperr.Forbidden("not a participant"))
		return
	}

	msgs, err := a.messages.ListByConnection(r.Context(), connID)
	if err != nil {
		writeError(w, err)
		return
	}
	if msgs == nil {
		msgs = []*message.Enriched{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

// handleLeaderboard returns the connections with the longest active streaks.
func (a *API) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, apperr.Validation("limit must be an integer"))
			return
		}
		limit = n
	}

	conns, err := a.lifecycle.Leaderboard(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conns)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("[api] encode response: %v", err)
	}
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError maps an application error code to an HTTP status and writes a
// structured error body. Foreign errors surface as 500 without leaking
// their message.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		log.Printf("[api] internal error: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Code:    string(apperr.CodeInternal),
			Message: "internal error",
		})
		return
	}

	status := http.StatusInternalServerError
	switch appErr.Code {
	case apperr.CodeInvalidArgument:
		status = http.StatusBadRequest
	case apperr.CodeUnauthenticated:
		status = http.StatusUnauthorized
	case apperr.CodePermissionDenied:
		status = http.StatusForbidden
	case apperr.CodeNotFound:
		status = http.StatusNotFound
	case apperr.CodeAlreadyExists:
		status = http.StatusConflict
	case apperr.CodeUnavailable:
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		log.Printf("[api] internal error: %v", appErr)
	}
	writeJSON(w, status, errorResponse{Code: string(appErr.Code), Message: appErr.Message})
}
