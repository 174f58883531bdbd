package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tandem/lingua-app/internal/apperr"
	"github.com/tandem/lingua-app/internal/connection"
	"github.com/tandem/lingua-app/internal/match"
	"github.com/tandem/lingua-app/internal/message"
	"github.com/tandem/lingua-app/internal/user"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeAuth struct{}

// UserID accepts tokens of the form "user:<id>".
func (fakeAuth) UserID(token string) (string, error) {
	if strings.HasPrefix(token, "user:") {
		return strings.TrimPrefix(token, "user:"), nil
	}
	return "", apperr.Unauthenticated("invalid token")
}

type fakeFinder struct {
	candidates []*match.Candidate
	err        error
	gotUserID  string
}

func (f *fakeFinder) Find(_ context.Context, userID string) ([]*match.Candidate, error) {
	f.gotUserID = userID
	return f.candidates, f.err
}

type fakeLifecycle struct {
	conn  *connection.Connection
	conns []*connection.Connection
	err   error

	gotRequester string
	gotRecipient string
	gotTeach     string
	gotLearn     string
	gotConnID    string
	gotActor     string
	gotStatus    string
	gotFilter    string
	gotLimit     int
}

func (f *fakeLifecycle) CreateRequest(_ context.Context, requesterID, recipientID, teach, learn string) (*connection.Connection, error) {
	f.gotRequester, f.gotRecipient, f.gotTeach, f.gotLearn = requesterID, recipientID, teach, learn
	return f.conn, f.err
}

func (f *fakeLifecycle) UpdateStatus(_ context.Context, connectionID, actorID, newStatus string) (*connection.Connection, error) {
	f.gotConnID, f.gotActor, f.gotStatus = connectionID, actorID, newStatus
	return f.conn, f.err
}

func (f *fakeLifecycle) List(_ context.Context, callerID, filter string) ([]*connection.Connection, error) {
	f.gotActor, f.gotFilter = callerID, filter
	return f.conns, f.err
}

func (f *fakeLifecycle) Leaderboard(_ context.Context, limit int) ([]*connection.Connection, error) {
	f.gotLimit = limit
	return f.conns, f.err
}

type fakeConnGetter struct {
	conn *connection.Connection
	err  error
}

func (f *fakeConnGetter) Get(_ context.Context, _ string) (*connection.Connection, error) {
	return f.conn, f.err
}

type fakeMessages struct {
	msgs []*message.Enriched
	err  error
}

func (f *fakeMessages) ListByConnection(_ context.Context, _ string) ([]*message.Enriched, error) {
	return f.msgs, f.err
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type fixture struct {
	api       *API
	finder    *fakeFinder
	lifecycle *fakeLifecycle
	conns     *fakeConnGetter
	messages  *fakeMessages
	mux       *http.ServeMux
}

func newFixture() *fixture {
	f := &fixture{
		finder:    &fakeFinder{},
		lifecycle: &fakeLifecycle{},
		conns:     &fakeConnGetter{},
		messages:  &fakeMessages{},
	}
	f.api = New(fakeAuth{}, f.finder, f.lifecycle, f.conns, f.messages)
	f.mux = http.NewServeMux()
	f.api.Register(f.mux)
	return f
}

func (f *fixture) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func acceptedConn(requester, recipient string) *connection.Connection {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &connection.Connection{
		ID:                "conn-1",
		RequesterID:       requester,
		RecipientID:       recipient,
		Status:            connection.StatusAccepted,
		RequesterLearning: "es",
		RecipientLearning: "en",
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestAuthRequired(t *testing.T) {
	f := newFixture()

	paths := []struct {
		method, path string
	}{
		{http.MethodGet, "/api/matches"},
		{http.MethodPost, "/api/connections"},
		{http.MethodGet, "/api/connections"},
		{http.MethodPut, "/api/connections/c1/status"},
		{http.MethodGet, "/api/connections/c1/messages"},
		{http.MethodGet, "/api/leaderboard"},
	}
	for _, p := range paths {
		rec := f.do(t, p.method, p.path, "", "")
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s without token: status = %d, want 401", p.method, p.path, rec.Code)
		}
	}
}

func TestGetMatches(t *testing.T) {
	f := newFixture()
	f.finder.candidates = []*match.Candidate{
		{
			User:         &user.User{ID: "u2", Username: "bea"},
			CanTeachMe:   []string{"es"},
			WantsToLearn: []string{"en"},
		},
	}

	rec := f.do(t, http.MethodGet, "/api/matches", "user:u1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}
	if f.finder.gotUserID != "u1" {
		t.Errorf("finder called with %q, want u1", f.finder.gotUserID)
	}

	var got []*match.Candidate
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(got) != 1 || got[0].User.Username != "bea" {
		t.Errorf("unexpected candidates: %+v", got)
	}
}

func TestCreateConnection(t *testing.T) {
	f := newFixture()
	f.lifecycle.conn = acceptedConn("u1", "u2")

	body := `{"recipient_id":"u2","teach_language":"en","learn_language":"es"}`
	rec := f.do(t, http.MethodPost, "/api/connections", "user:u1", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body)
	}
	if f.lifecycle.gotRequester != "u1" || f.lifecycle.gotRecipient != "u2" {
		t.Errorf("requester=%q recipient=%q, want u1/u2", f.lifecycle.gotRequester, f.lifecycle.gotRecipient)
	}
	if f.lifecycle.gotTeach != "en" || f.lifecycle.gotLearn != "es" {
		t.Errorf("teach=%q learn=%q, want en/es", f.lifecycle.gotTeach, f.lifecycle.gotLearn)
	}
}

func TestCreateConnectionBadBody(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodPost, "/api/connections", "user:u1", "{not json")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCreateConnectionDuplicate(t *testing.T) {
	f := newFixture()
	f.lifecycle.err = apperr.Conflict("connection already exists")

	body := `{"recipient_id":"u2","teach_language":"en","learn_language":"es"}`
	rec := f.do(t, http.MethodPost, "/api/connections", "user:u1", body)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409: %s", rec.Code, rec.Body)
	}

	var resp struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if resp.Code != string(apperr.CodeAlreadyExists) {
		t.Errorf("error code = %q, want %q", resp.Code, apperr.CodeAlreadyExists)
	}
}

func TestUpdateStatus(t *testing.T) {
	f := newFixture()
	f.lifecycle.conn = acceptedConn("u1", "u2")

	rec := f.do(t, http.MethodPut, "/api/connections/conn-1/status", "user:u2", `{"status":"accepted"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}
	if f.lifecycle.gotConnID != "conn-1" {
		t.Errorf("connection id = %q, want conn-1", f.lifecycle.gotConnID)
	}
	if f.lifecycle.gotActor != "u2" || f.lifecycle.gotStatus != "accepted" {
		t.Errorf("actor=%q status=%q, want u2/accepted", f.lifecycle.gotActor, f.lifecycle.gotStatus)
	}
}

func TestUpdateStatusErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"forbidden", apperr.Forbidden("only the recipient can resolve a request"), http.StatusForbidden},
		{"not found", apperr.NotFound("connection request not found"), http.StatusNotFound},
		{"already resolved", apperr.Conflict("request already resolved"), http.StatusConflict},
		{"unknown status", apperr.Validation("unknown status zap"), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.lifecycle.err = tt.err

			rec := f.do(t, http.MethodPut, "/api/connections/c1/status", "user:u1", `{"status":"accepted"}`)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestListConnectionsPassesFilter(t *testing.T) {
	f := newFixture()
	f.lifecycle.conns = []*connection.Connection{acceptedConn("u1", "u2")}

	rec := f.do(t, http.MethodGet, "/api/connections?type=pending-received", "user:u1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}
	if f.lifecycle.gotFilter != "pending-received" {
		t.Errorf("filter = %q, want pending-received", f.lifecycle.gotFilter)
	}
	if f.lifecycle.gotActor != "u1" {
		t.Errorf("caller = %q, want u1", f.lifecycle.gotActor)
	}
}

func TestListMessagesParticipantOnly(t *testing.T) {
	f := newFixture()
	f.conns.conn = acceptedConn("u1", "u2")
	f.messages.msgs = []*message.Enriched{}

	// A participant can read.
	rec := f.do(t, http.MethodGet, "/api/connections/conn-1/messages", "user:u1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("participant read: status = %d, want 200: %s", rec.Code, rec.Body)
	}

	// An outsider cannot.
	rec = f.do(t, http.MethodGet, "/api/connections/conn-1/messages", "user:u3", "")
	if rec.Code != http.StatusForbidden {
		t.Errorf("outsider read: status = %d, want 403", rec.Code)
	}
}

func TestListMessagesMissingConnection(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodGet, "/api/connections/ghost/messages", "user:u1", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestListMessagesEmptyHistoryIsArray(t *testing.T) {
	f := newFixture()
	f.conns.conn = acceptedConn("u1", "u2")
	f.messages.msgs = nil

	rec := f.do(t, http.MethodGet, "/api/connections/conn-1/messages", "user:u1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("body = %q, want []", got)
	}
}

func TestLeaderboardLimit(t *testing.T) {
	f := newFixture()
	f.lifecycle.conns = []*connection.Connection{}

	rec := f.do(t, http.MethodGet, "/api/leaderboard?limit=3", "user:u1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if f.lifecycle.gotLimit != 3 {
		t.Errorf("limit = %d, want 3", f.lifecycle.gotLimit)
	}

	rec = f.do(t, http.MethodGet, "/api/leaderboard?limit=abc", "user:u1", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit: status = %d, want 400", rec.Code)
	}
}

func TestConnectionJSONShape(t *testing.T) {
	f := newFixture()
	f.lifecycle.conn = acceptedConn("u1", "u2")

	rec := f.do(t, http.MethodPut, "/api/connections/conn-1/status", "user:u2", `{"status":"accepted"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	for _, key := range []string{"participants", "language_pair", "learning_map"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("response missing %q: %s", key, rec.Body)
		}
	}
	lm, _ := decoded["learning_map"].(map[string]interface{})
	if lm["u1"] != "es" || lm["u2"] != "en" {
		t.Errorf("learning_map = %v, want u1:es u2:en", lm)
	}
}
