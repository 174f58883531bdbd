package message

import (
	"context"
	"database/sql"
	"errors"

	"github.com/tandem/lingua-app/internal/apperr"
)

const enrichedColumns = `
	m.id, m.connection_id, m.sender_id,
	m.original_text, m.original_language, m.target_language, m.translated_text,
	m.type, m.created_at,
	u.username, u.avatar`

// Store persists messages in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a message store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Insert appends a message.
func (s *Store) Insert(ctx context.Context, m *Message) error {
	const query = `
		INSERT INTO messages
			(id, connection_id, sender_id, original_text, original_language,
			 target_language, translated_text, type, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, $9)`

	_, err := s.db.ExecContext(ctx, query,
		m.ID, m.ConnectionID, m.SenderID, m.OriginalText, m.OriginalLanguage,
		m.TargetLanguage, m.TranslatedText, m.Type, m.CreatedAt)
	if err != nil {
		return apperr.Persistence("message: insert", err)
	}
	return nil
}

// GetEnriched returns a single message joined with its sender's display
// fields. Returns nil if not found.
func (s *Store) GetEnriched(ctx context.Context, id string) (*Enriched, error) {
	query := `SELECT` + enrichedColumns + `
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.id = $1`

	e, err := scanEnriched(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Persistence("message: get", err)
	}
	return e, nil
}

// ListByConnection returns all messages for a connection in send order,
// each joined with the sender's display fields.
func (s *Store) ListByConnection(ctx context.Context, connectionID string) ([]*Enriched, error) {
	query := `SELECT` + enrichedColumns + `
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.connection_id = $1
		ORDER BY m.created_at`

	rows, err := s.db.QueryContext(ctx, query, connectionID)
	if err != nil {
		return nil, apperr.Persistence("message: list", err)
	}
	defer rows.Close()

	var msgs []*Enriched
	for rows.Next() {
		e, err := scanEnriched(rows)
		if err != nil {
			return nil, apperr.Persistence("message: scan", err)
		}
		msgs = append(msgs, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence("message: list", err)
	}
	return msgs, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEnriched(row rowScanner) (*Enriched, error) {
	var (
		e              Enriched
		targetLanguage sql.NullString
		translatedText sql.NullString
	)
	err := row.Scan(&e.ID, &e.ConnectionID, &e.SenderID,
		&e.OriginalText, &e.OriginalLanguage, &targetLanguage, &translatedText,
		&e.Type, &e.CreatedAt,
		&e.SenderUsername, &e.SenderAvatar)
	if err != nil {
		return nil, err
	}
	e.TargetLanguage = targetLanguage.String
	e.TranslatedText = translatedText.String
	return &e, nil
}
