// Package messages persists and retrieves chat transcripts. Content
// is sanitized on the way in (user-authored text only) and encrypted
// at rest; reads return the decrypted form.
package messages

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"carechat/internal/crypto"
	"carechat/internal/models"
	"carechat/internal/sanitize"
)

// ErrEmptyContent is returned when a message body is empty, including
// when sanitization strips it to nothing.
var ErrEmptyContent = errors.New("message content is empty")

// Service handles message persistence against the relational store.
type Service struct {
	db     *sql.DB
	cipher *crypto.Cipher
}

// NewService builds a message service over the given database and
// at-rest cipher.
func NewService(db *sql.DB, cipher *crypto.Cipher) *Service {
	return &Service{db: db, cipher: cipher}
}

// Save sanitizes, encrypts, and stores one user-authored message,
// returning the stored record with decrypted content.
func (s *Service) Save(ctx context.Context, senderID, receiverID, content string, isAI bool) (*models.Message, error) {
	senderID = strings.TrimSpace(senderID)
	receiverID = strings.TrimSpace(receiverID)
	if senderID == "" || receiverID == "" {
		return nil, errors.New("sender and receiver are required")
	}
	clean := sanitize.Clean(content)
	if clean == "" {
		return nil, ErrEmptyContent
	}
	return s.insert(ctx, senderID, receiverID, clean, isAI)
}

// SavePrompt stores the user's side of a relay turn. The relay has
// already sanitized the content.
func (s *Service) SavePrompt(ctx context.Context, userID, content string) (*models.Message, error) {
	if content == "" {
		return nil, ErrEmptyContent
	}
	return s.insert(ctx, userID, models.AssistantID, content, false)
}

// SaveReply stores the assembled assistant reply of a relay turn.
// Machine-generated text is not re-sanitized, only encrypted.
func (s *Service) SaveReply(ctx context.Context, userID, content string) (*models.Message, error) {
	if content == "" {
		return nil, ErrEmptyContent
	}
	return s.insert(ctx, models.AssistantID, userID, content, true)
}

func (s *Service) insert(ctx context.Context, senderID, receiverID, content string, isAI bool) (*models.Message, error) {
	enc, err := s.cipher.Encrypt(content)
	if err != nil {
		return nil, fmt.Errorf("encrypt content: %w", err)
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (sender_id, receiver_id, content, is_ai, created_at) VALUES (?, ?, ?, ?, ?)`,
		senderID, receiverID, enc, isAI, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("message id: %w", err)
	}
	return &models.Message{
		ID:         id,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		IsAI:       isAI,
		CreatedAt:  now,
	}, nil
}

// ListBetween returns every message exchanged between the two
// identities, in either direction, ordered by creation time with ties
// broken by insertion order, decrypted.
func (s *Service) ListBetween(ctx context.Context, user1, user2 string) ([]*models.Message, error) {
	if user1 == "" || user2 == "" {
		return nil, errors.New("both user ids are required")
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sender_id, receiver_id, content, is_ai, created_at
		 FROM messages
		 WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		 ORDER BY created_at ASC, id ASC`,
		user1, user2, user2, user1,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		m := new(models.Message)
		var enc string
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &enc, &m.IsAI, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		plain, err := s.cipher.Decrypt(enc)
		if err != nil {
			return nil, fmt.Errorf("decrypt message %d: %w", m.ID, err)
		}
		m.Content = plain
		out = append(out, m)
	}
	return out, rows.Err()
}
