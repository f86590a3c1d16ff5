package object

import (
	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/klingon-exchange/shadowmail/internal/bmcrypto"
)

// PresignHash computes the hash a signature is taken over: the same
// formula as ComputeHash but with an empty signature, since the real
// signature cannot be part of its own signing target. This mirrors the
// reference implementation's `Object::with_signing`, which signs the
// hash of a draft object built with a blank signature and never
// recomputes the hash afterward — so the persisted object's `Hash`
// field (computed by NewObject from the real signature) intentionally
// differs from the value the signature was taken over.
func PresignHash(expires int64, kind Kind) ([]byte, error) {
	return ComputeHash(expires, nil, kind)
}

// BuildAndSign constructs a signed, hashed object for the given identity:
// it signs the presign hash with the identity's private signing key, then
// builds the final Object (whose Hash covers the real signature).
func BuildAndSign(signingKey *secp256k1.PrivateKey, expires int64, kind Kind, nonceTrialsPerByte, extraBytes uint64) (*Object, error) {
	presig, err := PresignHash(expires, kind)
	if err != nil {
		return nil, err
	}
	signature, err := bmcrypto.Sign(signingKey, presig)
	if err != nil {
		return nil, err
	}
	return NewObject(expires, signature, kind, nonceTrialsPerByte, extraBytes)
}

// VerifySignature re-derives an object's presign hash and checks its
// attached signature against the claimed signing key — the check the
// handler runs immediately after decrypting a Msg or Pubkey payload
// reveals that key in-band (spec §4.3, Open Question resolution (c)).
func VerifySignature(obj *Object, signingPub *secp256k1.PublicKey) error {
	presig, err := PresignHash(obj.Expires, obj.Kind)
	if err != nil {
		return err
	}
	return bmcrypto.Verify(signingPub, presig, obj.Signature)
}
