package bmcrypto

import (
	"crypto/sha512"

	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // required for address derivation, not a new protocol choice
)

// RipeSize is the length in bytes of a derived ripe.
const RipeSize = 20

// TagSize is the length in bytes of a derived tag.
const TagSize = 32

// DeriveRipe computes ripe = RIPEMD160(SHA512(signingPub || encryptionPub)),
// the 20-byte root an address's tag and public_decryption_key are derived
// from (spec §3).
func DeriveRipe(signingPub, encryptionPub []byte) []byte {
	h := sha512.New()
	h.Write(signingPub)
	h.Write(encryptionPub)
	digest := h.Sum(nil)

	r := ripemd160.New()
	r.Write(digest)
	return r.Sum(nil)
}

// DeriveTagAndDecryptionKey computes tag = SHA512(SHA512(ripe))[32:64] and
// public_decryption_key = secp256k1 key from SHA512(SHA512(ripe))[0:32]
// (spec §3/§7 — testable property 7).
func DeriveTagAndDecryptionKey(ripe []byte) (tag []byte, decryptionKey *KeyPair) {
	first := sha512.Sum512(ripe)
	second := sha512.Sum512(first[:])

	tag = append([]byte(nil), second[32:64]...)
	decryptionKey = KeyPairFromSecret(second[0:32])
	return tag, decryptionKey
}

// RipeTagAndDecryptionKey is a convenience used by address generation: derive
// ripe, tag, and decryption key from a signing and encryption keypair in
// one call.
func RipeTagAndDecryptionKey(signing, encryption *KeyPair) (ripe, tag []byte, decryptionKey *KeyPair) {
	ripe = DeriveRipe(signing.SerializeCompressed(), encryption.SerializeCompressed())
	tag, decryptionKey = DeriveTagAndDecryptionKey(ripe)
	return ripe, tag, decryptionKey
}
