package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/klingon-exchange/shadowmail/internal/bmcrypto"
	"github.com/klingon-exchange/shadowmail/internal/object"
)

// MessageRepository persists locally-known messages, keyed by (hash,
// recipient) per the composite-uniqueness resolution in SPEC_FULL §9.
// Grounded on original_source/core/src/repositories/sqlite/message.rs.
type MessageRepository struct {
	s *Storage
}

func NewMessageRepository(s *Storage) *MessageRepository {
	return &MessageRepository{s: s}
}

// Save inserts a message, replacing any existing row with the same
// (hash, recipient) — re-processing an already-delivered Msg object for
// the same identity is therefore a harmless no-op rather than an error.
func (r *MessageRepository) Save(ctx context.Context, m *object.Message) error {
	_, err := r.s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO messages (hash, sender, recipient, subject, data, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		bmcrypto.EncodeBase58(m.Hash), m.Sender, m.Recipient, m.Subject, m.Body, m.Status.String(), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("storage: save message: %w", err)
	}
	return nil
}

// GetMessages returns every locally-known message.
func (r *MessageRepository) GetMessages(ctx context.Context) ([]*object.Message, error) {
	rows, err := r.s.db.QueryContext(ctx, `SELECT hash, sender, recipient, subject, data, status FROM messages`)
	if err != nil {
		return nil, fmt.Errorf("storage: get messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// GetMessagesByRecipient returns every message addressed to the given
// recipient string_repr.
func (r *MessageRepository) GetMessagesByRecipient(ctx context.Context, recipient string) ([]*object.Message, error) {
	rows, err := r.s.db.QueryContext(ctx, `SELECT hash, sender, recipient, subject, data, status FROM messages WHERE recipient = ?`, recipient)
	if err != nil {
		return nil, fmt.Errorf("storage: get messages by recipient: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// GetMessagesBySender returns every message sent by the given sender
// string_repr.
func (r *MessageRepository) GetMessagesBySender(ctx context.Context, sender string) ([]*object.Message, error) {
	rows, err := r.s.db.QueryContext(ctx, `SELECT hash, sender, recipient, subject, data, status FROM messages WHERE sender = ?`, sender)
	if err != nil {
		return nil, fmt.Errorf("storage: get messages by sender: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// GetMessagesByStatus returns every message in the given status, used by
// the PoW queue and the send pipeline to resume interrupted work.
func (r *MessageRepository) GetMessagesByStatus(ctx context.Context, status object.MessageStatus) ([]*object.Message, error) {
	rows, err := r.s.db.QueryContext(ctx, `SELECT hash, sender, recipient, subject, data, status FROM messages WHERE status = ?`, status.String())
	if err != nil {
		return nil, fmt.Errorf("storage: get messages by status: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// UpdateStatus transitions a message's status.
func (r *MessageRepository) UpdateStatus(ctx context.Context, hash []byte, recipient string, status object.MessageStatus) error {
	_, err := r.s.db.ExecContext(ctx, `UPDATE messages SET status = ? WHERE hash = ? AND recipient = ?`,
		status.String(), bmcrypto.EncodeBase58(hash), recipient)
	if err != nil {
		return fmt.Errorf("storage: update message status: %w", err)
	}
	return nil
}

// UpdateHash re-keys a composed message once its Msg object's hash is
// known (the message is first saved under a temporary hash while
// waiting for the recipient's keys, then re-keyed once the object — and
// therefore its real hash — is built).
func (r *MessageRepository) UpdateHash(ctx context.Context, oldHash, newHash []byte, recipient string) error {
	_, err := r.s.db.ExecContext(ctx, `UPDATE messages SET hash = ? WHERE hash = ? AND recipient = ?`,
		bmcrypto.EncodeBase58(newHash), bmcrypto.EncodeBase58(oldHash), recipient)
	if err != nil {
		return fmt.Errorf("storage: update message hash: %w", err)
	}
	return nil
}

// RemoveMessage deletes a message by (hash, recipient).
func (r *MessageRepository) RemoveMessage(ctx context.Context, hash []byte, recipient string) error {
	_, err := r.s.db.ExecContext(ctx, `DELETE FROM messages WHERE hash = ? AND recipient = ?`,
		bmcrypto.EncodeBase58(hash), recipient)
	if err != nil {
		return fmt.Errorf("storage: remove message: %w", err)
	}
	return nil
}

func scanMessages(rows *sql.Rows) ([]*object.Message, error) {
	var out []*object.Message
	for rows.Next() {
		var (
			hashB58, sender, recipient, status string
			subject                            sql.NullString
			data                               []byte
		)
		if err := rows.Scan(&hashB58, &sender, &recipient, &subject, &data, &status); err != nil {
			return nil, err
		}
		hash, err := bmcrypto.DecodeBase58(hashB58)
		if err != nil {
			return nil, fmt.Errorf("decode message hash: %w", err)
		}
		out = append(out, &object.Message{
			Hash:      hash,
			Sender:    sender,
			Recipient: recipient,
			Subject:   subject.String,
			Body:      data,
			Status:    object.ParseMessageStatus(status),
		})
	}
	return out, rows.Err()
}
