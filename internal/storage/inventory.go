package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/klingon-exchange/shadowmail/internal/bmcrypto"
	"github.com/klingon-exchange/shadowmail/internal/object"
)

// InventoryRepository persists objects and tracks their proof-of-work
// and expiry state (spec §4.1). Grounded on
// original_source/core/src/repositories/sqlite/inventory.rs.
type InventoryRepository struct {
	s *Storage
}

func NewInventoryRepository(s *Storage) *InventoryRepository {
	return &InventoryRepository{s: s}
}

// Get returns the current inventory vector as base58 hashes: unexpired
// objects whose proof of work has completed (non-null nonce).
func (r *InventoryRepository) Get(ctx context.Context) ([]string, error) {
	rows, err := r.s.db.QueryContext(ctx, `SELECT hash FROM inventory WHERE nonce IS NOT NULL AND expires > ?`, time.Now().Unix())
	if err != nil {
		return nil, fmt.Errorf("storage: get inventory: %w", err)
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}

// GetObject returns the full object for a base58-encoded hash, or nil if
// not present or still awaiting proof of work.
func (r *InventoryRepository) GetObject(ctx context.Context, hash string) (*object.Object, error) {
	row := r.s.db.QueryRowContext(ctx, `SELECT hash, nonce, data, signature, expires, nonce_trials_per_byte, extra_bytes FROM inventory WHERE hash = ? AND nonce IS NOT NULL`, hash)
	obj, err := scanObject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get object: %w", err)
	}
	return obj, nil
}

// GetMissingObjects returns, of the given base58 hashes, those not
// already present locally — candidates for a GetData request.
func (r *InventoryRepository) GetMissingObjects(ctx context.Context, hashes []string) ([]string, error) {
	var missing []string
	for _, h := range hashes {
		var exists string
		err := r.s.db.QueryRowContext(ctx, `SELECT hash FROM inventory WHERE hash = ?`, h).Scan(&exists)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			missing = append(missing, h)
		case err != nil:
			return nil, fmt.Errorf("storage: get missing objects: %w", err)
		}
	}
	return missing, nil
}

// StoreObject persists a received or newly-built object.
func (r *InventoryRepository) StoreObject(ctx context.Context, o *object.Object) error {
	data, err := object.EncodeKind(o.Kind)
	if err != nil {
		return fmt.Errorf("storage: encode object kind: %w", err)
	}

	_, err = r.s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO inventory
			(hash, object_type, nonce, data, signature, expires, nonce_trials_per_byte, extra_bytes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		bmcrypto.EncodeBase58(o.Hash), int(o.Kind.Type()), nullableBytes(o.Nonce), data, o.Signature,
		o.Expires, o.NonceTrialsPerByte, o.ExtraBytes,
	)
	if err != nil {
		return fmt.Errorf("storage: store object: %w", err)
	}
	return nil
}

// GetMissingPoWObjects returns objects persisted without a nonce —
// interrupted jobs to resume at startup (spec §4.2).
func (r *InventoryRepository) GetMissingPoWObjects(ctx context.Context) ([]*object.Object, error) {
	rows, err := r.s.db.QueryContext(ctx, `SELECT hash, nonce, data, signature, expires, nonce_trials_per_byte, extra_bytes FROM inventory WHERE nonce IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("storage: get missing pow objects: %w", err)
	}
	defer rows.Close()

	var out []*object.Object
	for rows.Next() {
		obj, err := scanObject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, rows.Err()
}

// UpdateNonce records a completed PoW search's nonce for the object with
// the given raw hash.
func (r *InventoryRepository) UpdateNonce(ctx context.Context, hash, nonce []byte) error {
	_, err := r.s.db.ExecContext(ctx, `UPDATE inventory SET nonce = ? WHERE hash = ?`, nonce, bmcrypto.EncodeBase58(hash))
	if err != nil {
		return fmt.Errorf("storage: update nonce: %w", err)
	}
	return nil
}

// Cleanup deletes expired inventory rows and returns the number removed.
func (r *InventoryRepository) Cleanup(ctx context.Context) (int, error) {
	res, err := r.s.db.ExecContext(ctx, `DELETE FROM inventory WHERE expires <= ?`, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("storage: cleanup inventory: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("storage: cleanup inventory rows affected: %w", err)
	}
	return int(affected), nil
}

func scanObject(row rowScanner) (*object.Object, error) {
	var (
		hashB58 string
		nonce   []byte
		data    []byte
		sig     []byte
		expires int64
		ntpb    uint64
		extra   uint64
	)
	if err := row.Scan(&hashB58, &nonce, &data, &sig, &expires, &ntpb, &extra); err != nil {
		return nil, err
	}

	hash, err := bmcrypto.DecodeBase58(hashB58)
	if err != nil {
		return nil, fmt.Errorf("decode hash: %w", err)
	}

	kind, err := object.DecodeKind(data)
	if err != nil {
		return nil, fmt.Errorf("decode kind: %w", err)
	}

	return &object.Object{
		Hash:               hash,
		Nonce:              nonce,
		Expires:            expires,
		Signature:          sig,
		Kind:               kind,
		NonceTrialsPerByte: ntpb,
		ExtraBytes:         extra,
	}, nil
}
