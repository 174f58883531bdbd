package connection

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/tandem/lingua-app/internal/apperr"
	"github.com/tandem/lingua-app/internal/streak"
)

// uniqueViolation is the PostgreSQL error code raised by the normalized
// (participants, language pair) unique index.
const uniqueViolation = "23505"

const connectionColumns = `
	id, requester_id, recipient_id, status,
	requester_learning, recipient_learning,
	last_message_id, streak, last_interaction, created_at, updated_at`

// PostgresStore persists connections in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a connection store backed by the given handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create inserts a new connection. The unique index over the normalized
// participant pair and language pair makes the duplicate check atomic
// against concurrent submissions; a violation is reported as a conflict.
func (s *PostgresStore) Create(ctx context.Context, c *Connection) error {
	const query = `
		INSERT INTO connections
			(id, requester_id, recipient_id, status,
			 requester_learning, recipient_learning, streak, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $7)`

	_, err := s.db.ExecContext(ctx, query,
		c.ID, c.RequesterID, c.RecipientID, c.Status,
		c.RequesterLearning, c.RecipientLearning, c.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return apperr.Conflict("connection for this language pair already exists")
		}
		return apperr.Persistence("connection: insert", err)
	}
	return nil
}

// Get retrieves a connection by id. Returns nil if not found.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Connection, error) {
	query := `SELECT` + connectionColumns + ` FROM connections WHERE id = $1`

	c, err := scanConnection(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Persistence("connection: get", err)
	}
	return c, nil
}

// SetStatus updates the lifecycle status and returns the updated record.
func (s *PostgresStore) SetStatus(ctx context.Context, id, status string, updatedAt time.Time) (*Connection, error) {
	query := `
		UPDATE connections
		SET status = $2, updated_at = $3
		WHERE id = $1
		RETURNING` + connectionColumns

	c, err := scanConnection(s.db.QueryRowContext(ctx, query, id, status, updatedAt))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("connection request not found")
	}
	if err != nil {
		return nil, apperr.Persistence("connection: set status", err)
	}
	return c, nil
}

// Delete removes a connection record. Messages referencing it are removed by
// the foreign key cascade; cancellation keeps no trace.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM connections WHERE id = $1`, id); err != nil {
		return apperr.Persistence("connection: delete", err)
	}
	return nil
}

// ListForUser returns the caller's connections for a filter, most recently
// updated first.
func (s *PostgresStore) ListForUser(ctx context.Context, userID, filter string) ([]*Connection, error) {
	var where string
	switch filter {
	case FilterActive:
		where = `(requester_id = $1 OR recipient_id = $1) AND status = 'accepted'`
	case FilterPendingReceived:
		where = `recipient_id = $1 AND status = 'pending'`
	case FilterPendingSent:
		where = `requester_id = $1 AND status = 'pending'`
	default:
		return nil, apperr.Validation("unknown filter " + filter)
	}

	query := `SELECT` + connectionColumns + ` FROM connections WHERE ` + where +
		` ORDER BY updated_at DESC`

	return s.queryConnections(ctx, query, userID)
}

// Leaderboard returns up to limit connections with streak > 0, longest
// streak first.
func (s *PostgresStore) Leaderboard(ctx context.Context, limit int) ([]*Connection, error) {
	query := `SELECT` + connectionColumns + `
		FROM connections
		WHERE streak > 0
		ORDER BY streak DESC, updated_at DESC
		LIMIT $1`

	return s.queryConnections(ctx, query, limit)
}

// ParticipantIDs returns every user that shares any connection with userID,
// regardless of status. Used by the match finder to exclude existing
// counterparts.
func (s *PostgresStore) ParticipantIDs(ctx context.Context, userID string) ([]string, error) {
	const query = `
		SELECT DISTINCT
			CASE WHEN requester_id = $1 THEN recipient_id ELSE requester_id END
		FROM connections
		WHERE requester_id = $1 OR recipient_id = $1`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, apperr.Persistence("connection: participant ids", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Persistence("connection: scan participant id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence("connection: participant ids", err)
	}
	return ids, nil
}

// TouchForMessage records a new message against the connection: last message
// pointer, streak, last interaction, and updated_at, all inside one
// transaction holding the row lock. The lock is the per-connection
// serialization point — two participants sending near-simultaneously can
// never lose a streak increment or a last-message update.
func (s *PostgresStore) TouchForMessage(ctx context.Context, connectionID, messageID string, now time.Time) (*Connection, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperr.Persistence("connection: begin touch", err)
	}
	defer tx.Rollback()

	var (
		current         int
		lastInteraction sql.NullTime
	)
	err = tx.QueryRowContext(ctx,
		`SELECT streak, last_interaction FROM connections WHERE id = $1 FOR UPDATE`,
		connectionID).Scan(&current, &lastInteraction)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("connection not found")
	}
	if err != nil {
		return nil, apperr.Persistence("connection: lock for touch", err)
	}

	var last *time.Time
	if lastInteraction.Valid {
		last = &lastInteraction.Time
	}
	next := streak.Advance(current, last, now)

	query := `
		UPDATE connections
		SET last_message_id = $2, streak = $3, last_interaction = $4, updated_at = $4
		WHERE id = $1
		RETURNING` + connectionColumns

	c, err := scanConnection(tx.QueryRowContext(ctx, query, connectionID, messageID, next, now))
	if err != nil {
		return nil, apperr.Persistence("connection: touch", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apperr.Persistence("connection: commit touch", err)
	}
	return c, nil
}

func (s *PostgresStore) queryConnections(ctx context.Context, query string, args ...interface{}) ([]*Connection, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Persistence("connection: query", err)
	}
	defer rows.Close()

	var conns []*Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, apperr.Persistence("connection: scan", err)
		}
		conns = append(conns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence("connection: query", err)
	}
	return conns, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConnection(row rowScanner) (*Connection, error) {
	var (
		c               Connection
		lastMessageID   sql.NullString
		lastInteraction sql.NullTime
	)
	err := row.Scan(&c.ID, &c.RequesterID, &c.RecipientID, &c.Status,
		&c.RequesterLearning, &c.RecipientLearning,
		&lastMessageID, &c.Streak, &lastInteraction, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lastMessageID.Valid {
		c.LastMessageID = lastMessageID.String
	}
	if lastInteraction.Valid {
		t := lastInteraction.Time
		c.LastInteraction = &t
	}
	return &c, nil
}

// Ensure PostgresStore satisfies the service contract.
var _ Store = (*PostgresStore)(nil)
