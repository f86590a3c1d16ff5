package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PubkeySendThrottle enforces the 28-day minimum interval between two
// Pubkey responses sent for the same tag (SPEC_FULL §9 Open Question
// resolution (b)) — a new table with no reference-implementation
// precedent, since the original never re-sends at all.
type PubkeySendThrottle struct {
	s *Storage
}

// ThrottleWindow is the minimum interval between two Pubkey sends for
// the same tag.
const ThrottleWindow = 28 * 24 * time.Hour

func NewPubkeySendThrottle(s *Storage) *PubkeySendThrottle {
	return &PubkeySendThrottle{s: s}
}

// ShouldSend reports whether a Pubkey object may be sent now for the
// given base58 tag: true if never sent, or if the throttle window has
// elapsed since the last send.
func (t *PubkeySendThrottle) ShouldSend(ctx context.Context, tag string, now time.Time) (bool, error) {
	var lastSent int64
	err := t.s.db.QueryRowContext(ctx, `SELECT last_sent FROM pubkey_sends WHERE tag = ?`, tag).Scan(&lastSent)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("storage: pubkey throttle lookup: %w", err)
	}
	return now.Sub(time.Unix(lastSent, 0)) >= ThrottleWindow, nil
}

// RecordSent marks the given tag as having just had a Pubkey sent.
func (t *PubkeySendThrottle) RecordSent(ctx context.Context, tag string, now time.Time) error {
	_, err := t.s.db.ExecContext(ctx, `INSERT OR REPLACE INTO pubkey_sends (tag, last_sent) VALUES (?, ?)`, tag, now.Unix())
	if err != nil {
		return fmt.Errorf("storage: record pubkey sent: %w", err)
	}
	return nil
}
