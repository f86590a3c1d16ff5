package bmcrypto

import (
	"crypto/rand"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ethereum/go-ethereum/crypto/ecies"
)

// Encrypt seals plaintext to the given secp256k1 public key using ECIES,
// bridging through the stdlib ecdsa type the same way signing does.
func Encrypt(pub *secp256k1.PublicKey, plaintext []byte) ([]byte, error) {
	eciesPub := ecies.ImportECDSAPublic(pub.ToECDSA())
	return ecies.Encrypt(rand.Reader, eciesPub, plaintext, nil, nil)
}

// Decrypt opens an ECIES envelope produced by Encrypt using the given
// secp256k1 private key.
func Decrypt(priv *secp256k1.PrivateKey, ciphertext []byte) ([]byte, error) {
	eciesPriv := ecies.ImportECDSA(priv.ToECDSA())
	return eciesPriv.Decrypt(rand.Reader, ciphertext, nil, nil)
}
