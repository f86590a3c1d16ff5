// Package bmcrypto composes the node's cryptographic primitives: secp256k1
// identity keys, ECDSA signing, ECIES envelope encryption, and the
// ripe/tag/base58 address derivation built on top of them.
package bmcrypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"math/big"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// ErrInvalidSignature is returned by Verify when the signature does not
// match the message under the given public key.
var ErrInvalidSignature = errors.New("bmcrypto: invalid signature")

// KeyPair is a secp256k1 signing or encryption keypair.
type KeyPair struct {
	Private *secp256k1.PrivateKey
	Public  *secp256k1.PublicKey
}

// GenerateKeyPair generates a fresh random secp256k1 keypair.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	return &KeyPair{Private: priv, Public: priv.PubKey()}, nil
}

// KeyPairFromSecret builds a keypair from a 32-byte scalar, as used to
// derive the public_decryption_key from an address's ripe (spec §3/§7).
func KeyPairFromSecret(secret []byte) *KeyPair {
	priv := secp256k1.PrivKeyFromBytes(secret)
	return &KeyPair{Private: priv, Public: priv.PubKey()}
}

// PrivateECDSA bridges the secp256k1 private key into the stdlib ecdsa
// type, following the generate -> ToECDSA() -> ecdsa.Sign idiom.
func (k *KeyPair) PrivateECDSA() *ecdsa.PrivateKey {
	return k.Private.ToECDSA()
}

// PublicECDSA bridges the secp256k1 public key into the stdlib ecdsa type.
func (k *KeyPair) PublicECDSA() *ecdsa.PublicKey {
	return k.Public.ToECDSA()
}

// SerializeCompressed returns the 33-byte compressed public key encoding
// used wherever a public key travels on the wire.
func (k *KeyPair) SerializeCompressed() []byte {
	return k.Public.SerializeCompressed()
}

// ParsePublicKey parses a compressed or uncompressed secp256k1 public key.
func ParsePublicKey(data []byte) (*secp256k1.PublicKey, error) {
	return secp256k1.ParsePubKey(data)
}

// Sign signs a 32-byte digest (the object hash is already a SHA-256
// digest, so it is signed directly rather than re-hashed) with the given
// private key, returning a fixed 64-byte r||s encoding.
func Sign(priv *secp256k1.PrivateKey, hash []byte) ([]byte, error) {
	r, s, err := ecdsa.Sign(rand.Reader, priv.ToECDSA(), hash)
	if err != nil {
		return nil, err
	}
	return serializeSignature(r, s), nil
}

// Verify verifies a 64-byte r||s signature produced by Sign over the
// given 32-byte digest.
func Verify(pub *secp256k1.PublicKey, hash, signature []byte) error {
	r, s, err := deserializeSignature(signature)
	if err != nil {
		return err
	}
	if !ecdsa.Verify(pub.ToECDSA(), hash, r, s) {
		return ErrInvalidSignature
	}
	return nil
}

func serializeSignature(r, s *big.Int) []byte {
	rBytes := r.Bytes()
	sBytes := s.Bytes()

	sig := make([]byte, 64)
	copy(sig[32-len(rBytes):32], rBytes)
	copy(sig[64-len(sBytes):64], sBytes)
	return sig
}

func deserializeSignature(data []byte) (*big.Int, *big.Int, error) {
	if len(data) != 64 {
		return nil, nil, ErrInvalidSignature
	}
	r := new(big.Int).SetBytes(data[:32])
	s := new(big.Int).SetBytes(data[32:])
	return r, s, nil
}
