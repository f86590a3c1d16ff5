// Package object defines the wire-level data model shared by the node
// worker, protocol handler, and repositories: addresses, objects, and the
// gossip/request-response network messages built from them.
package object

import (
	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/klingon-exchange/shadowmail/internal/bmcrypto"
)

// Address is a cryptographic identity or contact (spec §3). An identity
// carries all four key fields; a contact carries only the two public
// keys; an unresolved recipient (skeleton, pending a Pubkey response)
// carries neither.
type Address struct {
	Ripe      []byte
	StringRepr string
	Tag       []byte

	// PublicDecryptionKey is derived purely from Ripe and is always
	// populated once Ripe is known, even for a skeleton address: it is
	// needed to encrypt the Getpubkey request's eventual Pubkey reply.
	PublicDecryptionKey *bmcrypto.KeyPair

	PublicSigningKey    *secp256k1.PublicKey
	PublicEncryptionKey *secp256k1.PublicKey

	PrivateSigningKey    *secp256k1.PrivateKey
	PrivateEncryptionKey *secp256k1.PrivateKey

	Label string
}

// NewIdentity generates a brand-new identity: fresh signing and
// encryption keypairs, with ripe/tag/string_repr derived from them.
func NewIdentity(label string) (*Address, error) {
	signing, err := bmcrypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	encryption, err := bmcrypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return addressFromKeys(signing, encryption, label), nil
}

func addressFromKeys(signing, encryption *bmcrypto.KeyPair, label string) *Address {
	ripe, tag, decKey := bmcrypto.RipeTagAndDecryptionKey(signing, encryption)
	return &Address{
		Ripe:                 ripe,
		StringRepr:           bmcrypto.EncodeBase58(ripe),
		Tag:                  tag,
		PublicDecryptionKey:  decKey,
		PublicSigningKey:     signing.Public,
		PublicEncryptionKey:  encryption.Public,
		PrivateSigningKey:    signing.Private,
		PrivateEncryptionKey: encryption.Private,
		Label:                label,
	}
}

// NewSkeleton creates an unresolved-recipient address from a user-supplied
// string_repr: ripe and its purely-derived fields are known, but no keys
// are (spec §3, "unresolved recipient has neither").
func NewSkeleton(stringRepr string) (*Address, error) {
	ripe, err := bmcrypto.DecodeBase58(stringRepr)
	if err != nil {
		return nil, err
	}
	return SkeletonFromRipe(ripe), nil
}

// SkeletonFromRipe builds an unresolved-recipient address directly from a
// ripe, as the send pipeline does when inserting a placeholder contact.
func SkeletonFromRipe(ripe []byte) *Address {
	tag, decKey := bmcrypto.DeriveTagAndDecryptionKey(ripe)
	return &Address{
		Ripe:                ripe,
		StringRepr:          bmcrypto.EncodeBase58(ripe),
		Tag:                 tag,
		PublicDecryptionKey: decKey,
	}
}

// IsIdentity reports whether both private keys are present.
func (a *Address) IsIdentity() bool {
	return a.PrivateSigningKey != nil && a.PrivateEncryptionKey != nil
}

// IsContact reports whether both public keys are present.
func (a *Address) IsContact() bool {
	return a.PublicSigningKey != nil && a.PublicEncryptionKey != nil
}

// TagString is the display (base58) form of Tag.
func (a *Address) TagString() string {
	return bmcrypto.EncodeBase58(a.Tag)
}

// FillPublicKeys populates the public key fields of a skeleton address
// once a Pubkey object has been received and decrypted for it.
func (a *Address) FillPublicKeys(signing, encryption *secp256k1.PublicKey) {
	a.PublicSigningKey = signing
	a.PublicEncryptionKey = encryption
}
