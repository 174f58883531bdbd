package connection

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tandem/lingua-app/internal/apperr"
)

// fakeStore is an in-memory Store with the same uniqueness guarantee the
// Postgres index provides: one connection per normalized participant pair +
// language pair, enforced under a single lock.
type fakeStore struct {
	mu    sync.Mutex
	conns map[string]*Connection
}

func newFakeStore() *fakeStore {
	return &fakeStore{conns: make(map[string]*Connection)}
}

func pairKey(c *Connection) string {
	users := []string{c.RequesterID, c.RecipientID}
	langs := []string{c.RequesterLearning, c.RecipientLearning}
	sort.Strings(users)
	sort.Strings(langs)
	return strings.Join(users, "|") + "#" + strings.Join(langs, "|")
}

func (f *fakeStore) Create(_ context.Context, c *Connection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := pairKey(c)
	for _, existing := range f.conns {
		if pairKey(existing) == key {
			return apperr.Conflict("connection for this language pair already exists")
		}
	}
	cp := *c
	f.conns[c.ID] = &cp
	return nil
}

func (f *fakeStore) Get(_ context.Context, id string) (*Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.conns[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (f *fakeStore) SetStatus(_ context.Context, id, status string, updatedAt time.Time) (*Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.conns[id]
	if !ok {
		return nil, apperr.NotFound("connection request not found")
	}
	c.Status = status
	c.UpdatedAt = updatedAt
	cp := *c
	return &cp, nil
}

func (f *fakeStore) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.conns, id)
	return nil
}

func (f *fakeStore) ListForUser(_ context.Context, userID, filter string) ([]*Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Connection
	for _, c := range f.conns {
		switch filter {
		case FilterActive:
			if c.IsParticipant(userID) && c.Status == StatusAccepted {
				cp := *c
				out = append(out, &cp)
			}
		case FilterPendingReceived:
			if c.RecipientID == userID && c.Status == StatusPending {
				cp := *c
				out = append(out, &cp)
			}
		case FilterPendingSent:
			if c.RequesterID == userID && c.Status == StatusPending {
				cp := *c
				out = append(out, &cp)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (f *fakeStore) Leaderboard(_ context.Context, limit int) ([]*Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Connection
	for _, c := range f.conns {
		if c.Streak > 0 {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Streak > out[j].Streak })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func newTestService() (*Service, *fakeStore) {
	store := newFakeStore()
	svc := NewService(store)
	return svc, store
}

func TestCreateRequest(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	c, err := svc.CreateRequest(ctx, "alice", "bob", "en", "es")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if c.Status != StatusPending {
		t.Errorf("expected status pending, got %s", c.Status)
	}
	// Requester teaches en and learns es; recipient learns en.
	lm := c.LearningMap()
	if lm["alice"] != "es" || lm["bob"] != "en" {
		t.Errorf("unexpected learning map %v", lm)
	}
	pair := c.LanguagePair()
	sort.Strings(pair)
	if pair[0] != "en" || pair[1] != "es" {
		t.Errorf("unexpected language pair %v", pair)
	}
}

func TestCreateRequestValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	cases := []struct {
		name                         string
		requester, recipient, tl, ll string
	}{
		{"missing teach language", "alice", "bob", "", "es"},
		{"missing learn language", "alice", "bob", "en", ""},
		{"self request", "alice", "alice", "en", "es"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := svc.CreateRequest(ctx, c.requester, c.recipient, c.tl, c.ll)
			if !apperr.Is(err, apperr.CodeInvalidArgument) {
				t.Errorf("expected INVALID_ARGUMENT, got %v", err)
			}
		})
	}
}

func TestCreateRequestDuplicatePair(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.CreateRequest(ctx, "alice", "bob", "en", "es"); err != nil {
		t.Fatalf("first request failed: %v", err)
	}

	// Same pair in reversed roles and reversed language order is still the
	// same connection.
	_, err := svc.CreateRequest(ctx, "bob", "alice", "es", "en")
	if !apperr.Is(err, apperr.CodeAlreadyExists) {
		t.Errorf("expected ALREADY_EXISTS, got %v", err)
	}

	// A different language pair between the same users is allowed.
	if _, err := svc.CreateRequest(ctx, "alice", "bob", "en", "fr"); err != nil {
		t.Errorf("different pair should be allowed: %v", err)
	}
}

func TestConcurrentDuplicateRequests(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	const attempts = 8
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateRequest(ctx, "alice", "bob", "en", "es")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok, conflict int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case apperr.Is(err, apperr.CodeAlreadyExists):
			conflict++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || conflict != attempts-1 {
		t.Errorf("expected exactly 1 success and %d conflicts, got %d/%d", attempts-1, ok, conflict)
	}
	if len(store.conns) != 1 {
		t.Errorf("expected 1 persisted connection, got %d", len(store.conns))
	}
}

func TestUpdateStatusAuthorization(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	c, err := svc.CreateRequest(ctx, "alice", "bob", "en", "es")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	cases := []struct {
		name   string
		actor  string
		status string
	}{
		{"requester cannot accept", "alice", StatusAccepted},
		{"requester cannot reject", "alice", StatusRejected},
		{"recipient cannot cancel", "bob", StatusCancelled},
		{"stranger cannot accept", "carol", StatusAccepted},
		{"stranger cannot cancel", "carol", StatusCancelled},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.UpdateStatus(ctx, c.ID, tc.actor, tc.status)
			if !apperr.Is(err, apperr.CodePermissionDenied) {
				t.Errorf("expected PERMISSION_DENIED, got %v", err)
			}
			// No state change.
			got, _ := svc.store.Get(ctx, c.ID)
			if got == nil || got.Status != StatusPending {
				t.Errorf("state changed after forbidden transition: %+v", got)
			}
		})
	}
}

func TestRecipientAccepts(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	c, _ := svc.CreateRequest(ctx, "alice", "bob", "en", "es")

	updated, err := svc.UpdateStatus(ctx, c.ID, "bob", StatusAccepted)
	if err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	if updated.Status != StatusAccepted {
		t.Errorf("expected accepted, got %s", updated.Status)
	}
}

func TestRequesterCancelDeletes(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	c, _ := svc.CreateRequest(ctx, "alice", "bob", "en", "es")

	cancelled, err := svc.UpdateStatus(ctx, c.ID, "alice", StatusCancelled)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Errorf("expected cancelled, got %s", cancelled.Status)
	}
	if got, _ := store.Get(ctx, c.ID); got != nil {
		t.Error("expected record deleted after cancellation")
	}
}

func TestResolveAlreadyResolvedIsConflict(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	c, _ := svc.CreateRequest(ctx, "alice", "bob", "en", "es")
	if _, err := svc.UpdateStatus(ctx, c.ID, "bob", StatusRejected); err != nil {
		t.Fatalf("reject failed: %v", err)
	}

	_, err := svc.UpdateStatus(ctx, c.ID, "bob", StatusAccepted)
	if !apperr.Is(err, apperr.CodeAlreadyExists) {
		t.Errorf("expected ALREADY_EXISTS for re-resolving, got %v", err)
	}
}

func TestUpdateStatusUnknownConnection(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.UpdateStatus(context.Background(), "missing", "alice", StatusAccepted)
	if !apperr.Is(err, apperr.CodeNotFound) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func TestUpdateStatusRejectsUnknownValue(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	c, _ := svc.CreateRequest(ctx, "alice", "bob", "en", "es")
	_, err := svc.UpdateStatus(ctx, c.ID, "bob", "archived")
	if !apperr.Is(err, apperr.CodeInvalidArgument) {
		t.Errorf("expected INVALID_ARGUMENT, got %v", err)
	}
}

func TestLeaderboardOrdering(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	streaks := []int{5, 0, 3, 3, 8}
	for i, n := range streaks {
		c := &Connection{
			ID:                string(rune('a' + i)),
			RequesterID:       "u1",
			RecipientID:       "u2",
			RequesterLearning: "en",
			// Distinct pairs so the uniqueness rule doesn't interfere.
			RecipientLearning: string(rune('A' + i)),
			Status:            StatusAccepted,
			Streak:            n,
		}
		if err := store.Create(ctx, c); err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}

	top, err := svc.Leaderboard(ctx, 3)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	got := make([]int, len(top))
	for i, c := range top {
		got[i] = c.Streak
	}
	want := []int{8, 5, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected streaks %v, got %v", want, got)
		}
	}
}

func TestListDefaultsToActive(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	c, _ := svc.CreateRequest(ctx, "alice", "bob", "en", "es")
	store.SetStatus(ctx, c.ID, StatusAccepted, time.Now())
	svc.CreateRequest(ctx, "alice", "carol", "en", "fr")

	active, err := svc.List(ctx, "alice", "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 1 || active[0].ID != c.ID {
		t.Errorf("expected only the accepted connection, got %v", active)
	}

	sent, _ := svc.List(ctx, "alice", FilterPendingSent)
	if len(sent) != 1 {
		t.Errorf("expected 1 pending-sent, got %d", len(sent))
	}

	received, _ := svc.List(ctx, "carol", FilterPendingReceived)
	if len(received) != 1 {
		t.Errorf("expected 1 pending-received for carol, got %d", len(received))
	}

	if _, err := svc.List(ctx, "alice", "bogus"); !apperr.Is(err, apperr.CodeInvalidArgument) {
		t.Errorf("expected INVALID_ARGUMENT for unknown filter, got %v", err)
	}
}
