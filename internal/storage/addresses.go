package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/klingon-exchange/shadowmail/internal/bmcrypto"
	"github.com/klingon-exchange/shadowmail/internal/object"
)

// AddressRepository persists Address records (spec §4.1). Grounded on
// original_source/core/src/repositories/sqlite/address.rs for exact
// query semantics (ripe-or-tag lookup, contacts/identities predicates).
type AddressRepository struct {
	s *Storage
}

func NewAddressRepository(s *Storage) *AddressRepository {
	return &AddressRepository{s: s}
}

func nullableBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

// Store inserts or replaces an address row.
func (r *AddressRepository) Store(ctx context.Context, a *object.Address) error {
	var pubSig, pubEnc, privSig, privEnc []byte
	if a.PublicSigningKey != nil {
		pubSig = a.PublicSigningKey.SerializeCompressed()
	}
	if a.PublicEncryptionKey != nil {
		pubEnc = a.PublicEncryptionKey.SerializeCompressed()
	}
	if a.PrivateSigningKey != nil {
		privSig = a.PrivateSigningKey.Serialize()
	}
	if a.PrivateEncryptionKey != nil {
		privEnc = a.PrivateEncryptionKey.Serialize()
	}

	_, err := r.s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO addresses
			(address, tag, label, public_signing_key, public_encryption_key, private_signing_key, private_encryption_key)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.StringRepr, a.TagString(), nullString(a.Label),
		nullableBytes(pubSig), nullableBytes(pubEnc), nullableBytes(privSig), nullableBytes(privEnc),
	)
	if err != nil {
		return fmt.Errorf("storage: store address: %w", err)
	}
	return nil
}

// DeleteAddress removes the address matching the given string_repr.
func (r *AddressRepository) DeleteAddress(ctx context.Context, address string) error {
	_, err := r.s.db.ExecContext(ctx, `DELETE FROM addresses WHERE address = ?`, address)
	if err != nil {
		return fmt.Errorf("storage: delete address: %w", err)
	}
	return nil
}

// GetByRipeOrTag returns the address matching the given string_repr or
// base58 tag, whichever the caller passed.
func (r *AddressRepository) GetByRipeOrTag(ctx context.Context, hash string) (*object.Address, error) {
	row := r.s.db.QueryRowContext(ctx, `SELECT address, tag, label, public_signing_key, public_encryption_key, private_signing_key, private_encryption_key FROM addresses WHERE address = ? OR tag = ?`, hash, hash)
	addr, err := scanAddress(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get address by ripe or tag: %w", err)
	}
	return addr, nil
}

// GetContacts returns every address with both public keys populated.
func (r *AddressRepository) GetContacts(ctx context.Context) ([]*object.Address, error) {
	rows, err := r.s.db.QueryContext(ctx, `SELECT address, tag, label, public_signing_key, public_encryption_key, private_signing_key, private_encryption_key FROM addresses WHERE public_signing_key IS NOT NULL AND public_encryption_key IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("storage: get contacts: %w", err)
	}
	defer rows.Close()
	return scanAddresses(rows)
}

// GetIdentities returns every address with both private keys populated.
func (r *AddressRepository) GetIdentities(ctx context.Context) ([]*object.Address, error) {
	rows, err := r.s.db.QueryContext(ctx, `SELECT address, tag, label, public_signing_key, public_encryption_key, private_signing_key, private_encryption_key FROM addresses WHERE private_signing_key IS NOT NULL AND private_encryption_key IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("storage: get identities: %w", err)
	}
	defer rows.Close()
	return scanAddresses(rows)
}

// UpdatePublicKeys fills in a previously-skeleton contact's public keys
// once its Pubkey object has been received (matches by address or tag).
func (r *AddressRepository) UpdatePublicKeys(ctx context.Context, hash string, signing, encryption *secp256k1.PublicKey) error {
	_, err := r.s.db.ExecContext(ctx, `UPDATE addresses SET public_signing_key = ?, public_encryption_key = ? WHERE address = ? OR tag = ?`,
		signing.SerializeCompressed(), encryption.SerializeCompressed(), hash, hash)
	if err != nil {
		return fmt.Errorf("storage: update public keys: %w", err)
	}
	return nil
}

// UpdateLabel renames an identity/contact's display label.
func (r *AddressRepository) UpdateLabel(ctx context.Context, address, label string) error {
	_, err := r.s.db.ExecContext(ctx, `UPDATE addresses SET label = ? WHERE address = ?`, label, address)
	if err != nil {
		return fmt.Errorf("storage: update label: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAddress(row rowScanner) (*object.Address, error) {
	var (
		address, tag                                       string
		label                                               sql.NullString
		pubSig, pubEnc, privSig, privEnc                    []byte
	)
	if err := row.Scan(&address, &tag, &label, &pubSig, &pubEnc, &privSig, &privEnc); err != nil {
		return nil, err
	}

	ripe, err := bmcrypto.DecodeBase58(address)
	if err != nil {
		return nil, fmt.Errorf("decode address: %w", err)
	}
	a := object.SkeletonFromRipe(ripe)
	a.Label = label.String

	if len(pubSig) > 0 {
		k, err := bmcrypto.ParsePublicKey(pubSig)
		if err != nil {
			return nil, fmt.Errorf("parse public signing key: %w", err)
		}
		a.PublicSigningKey = k
	}
	if len(pubEnc) > 0 {
		k, err := bmcrypto.ParsePublicKey(pubEnc)
		if err != nil {
			return nil, fmt.Errorf("parse public encryption key: %w", err)
		}
		a.PublicEncryptionKey = k
	}
	if len(privSig) > 0 {
		a.PrivateSigningKey = secp256k1.PrivKeyFromBytes(privSig)
		a.PublicSigningKey = a.PrivateSigningKey.PubKey()
	}
	if len(privEnc) > 0 {
		a.PrivateEncryptionKey = secp256k1.PrivKeyFromBytes(privEnc)
		a.PublicEncryptionKey = a.PrivateEncryptionKey.PubKey()
	}

	return a, nil
}

func scanAddresses(rows *sql.Rows) ([]*object.Address, error) {
	var out []*object.Address
	for rows.Next() {
		a, err := scanAddress(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
