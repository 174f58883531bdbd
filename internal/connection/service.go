package connection

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tandem/lingua-app/internal/apperr"
)

// DefaultLeaderboardLimit is used when a caller does not supply a limit.
const DefaultLeaderboardLimit = 10

// Store is the persistence contract the lifecycle service depends on.
// Create must enforce the participants+language-pair uniqueness atomically
// and return a conflict error for duplicates.
type Store interface {
	Create(ctx context.Context, c *Connection) error
	Get(ctx context.Context, id string) (*Connection, error)
	SetStatus(ctx context.Context, id, status string, updatedAt time.Time) (*Connection, error)
	Delete(ctx context.Context, id string) error
	ListForUser(ctx context.Context, userID, filter string) ([]*Connection, error)
	Leaderboard(ctx context.Context, limit int) ([]*Connection, error)
}

// Service validates and executes connection lifecycle transitions.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService creates a lifecycle service over the given store.
func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// CreateRequest creates a pending connection request from requesterID to
// recipientID. teachLanguage is the language the requester offers (so the
// recipient learns it); learnLanguage is the language the requester wants to
// learn. Once created, only the per-user learning map is carried forward.
func (s *Service) CreateRequest(ctx context.Context, requesterID, recipientID, teachLanguage, learnLanguage string) (*Connection, error) {
	if teachLanguage == "" || learnLanguage == "" {
		return nil, apperr.Validation("language pair required")
	}
	if requesterID == recipientID {
		return nil, apperr.Validation("cannot request a connection with yourself")
	}
	if recipientID == "" {
		return nil, apperr.Validation("recipient required")
	}

	now := s.now()
	c := &Connection{
		ID:                uuid.New().String(),
		RequesterID:       requesterID,
		RecipientID:       recipientID,
		Status:            StatusPending,
		RequesterLearning: learnLanguage,
		RecipientLearning: teachLanguage,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.store.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// UpdateStatus applies a lifecycle transition requested by actorID.
//
// Cancellation is requester-only and deletes the record with no trace.
// Accept/reject are recipient-only and are valid only while the request is
// still pending: resolving an already-resolved request is a conflict rather
// than a silent overwrite.
func (s *Service) UpdateStatus(ctx context.Context, connectionID, actorID, newStatus string) (*Connection, error) {
	c, err := s.store.Get(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, apperr.NotFound("connection request not found")
	}

	switch newStatus {
	case StatusCancelled:
		if c.RequesterID != actorID {
			return nil, apperr.Forbidden("only the requester can cancel a request")
		}
		if err := s.store.Delete(ctx, connectionID); err != nil {
			return nil, err
		}
		cancelled := *c
		cancelled.Status = StatusCancelled
		return &cancelled, nil

	case StatusAccepted, StatusRejected:
		if c.RecipientID != actorID {
			return nil, apperr.Forbidden("only the recipient can resolve a request")
		}
		if c.Status != StatusPending {
			return nil, apperr.Conflict("request already resolved")
		}
		return s.store.SetStatus(ctx, connectionID, newStatus, s.now())

	default:
		return nil, apperr.Validation("unknown status " + newStatus)
	}
}

// List returns the caller's connections for the given filter, newest
// activity first.
func (s *Service) List(ctx context.Context, callerID, filter string) ([]*Connection, error) {
	switch filter {
	case FilterActive, FilterPendingReceived, FilterPendingSent:
	case "":
		filter = FilterActive
	default:
		return nil, apperr.Validation("unknown filter " + filter)
	}
	return s.store.ListForUser(ctx, callerID, filter)
}

// Leaderboard returns the connections with the longest active streaks.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]*Connection, error) {
	if limit <= 0 {
		limit = DefaultLeaderboardLimit
	}
	return s.store.Leaderboard(ctx, limit)
}
