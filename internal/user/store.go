package user

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// Store reads user profiles from PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a user store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Get retrieves a user by id. Returns nil if not found.
func (s *Store) Get(ctx context.Context, id string) (*User, error) {
	const query = `
		SELECT id, username, avatar, native_languages, learning_languages, created_at
		FROM users
		WHERE id = $1`

	u, err := scanUser(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("user: get %s: %w", id, err)
	}
	return u, nil
}

// ListCandidates returns users outside excludeIDs whose native languages
// overlap nativeAny. The learning-side qualification is computed by the
// match finder; this query only narrows the scan. Ordered by username for
// stable output.
func (s *Store) ListCandidates(ctx context.Context, excludeIDs []string, nativeAny []string) ([]*User, error) {
	const query = `
		SELECT id, username, avatar, native_languages, learning_languages, created_at
		FROM users
		WHERE NOT (id = ANY($1))
		  AND native_languages && $2
		ORDER BY username`

	rows, err := s.db.QueryContext(ctx, query, pq.Array(excludeIDs), pq.Array(nativeAny))
	if err != nil {
		return nil, fmt.Errorf("user: list candidates: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("user: scan candidate: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("user: list candidates: %w", err)
	}
	return users, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*User, error) {
	var (
		u            User
		learningJSON []byte
	)
	err := row.Scan(&u.ID, &u.Username, &u.Avatar,
		pq.Array(&u.NativeLanguages), &learningJSON, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(learningJSON) > 0 {
		if err := json.Unmarshal(learningJSON, &u.LearningLanguages); err != nil {
			return nil, fmt.Errorf("decode learning_languages: %w", err)
		}
	}
	return &u, nil
}
