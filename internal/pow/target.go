// Package pow implements the proof-of-work scheme gating object gossip:
// target computation, parallel nonce search, and the single-writer queue
// that serializes PoW jobs onto one outstanding computation at a time.
package pow

import (
	"errors"
	"math/big"

	"github.com/klingon-exchange/shadowmail/internal/object"
)

// NetworkMinNonceTrialsPerByte and NetworkMinExtraBytes are the network
// floor values substituted whenever an object requests zero (spec §4.2).
const (
	NetworkMinNonceTrialsPerByte = 1000
	NetworkMinExtraBytes         = 1000
)

// ErrInsufficientProofOfWork is returned by CheckPoW when a claimed nonce
// does not meet the target.
var ErrInsufficientProofOfWork = errors.New("pow: insufficient proof of work (trial value exceeds target)")

var twoPow16 = new(big.Int).Lsh(big.NewInt(1), 16)
var twoPow64 = new(big.Int).Lsh(big.NewInt(1), 64)

// ComputeTarget computes the PoW target for an object as of now (unix
// seconds): lower target means harder work required. The formula mirrors
// the reference implementation's `get_pow_target` exactly —
//
//	ttl            = max(0, expires - now)
//	payload_bytes  = len(cbor(kind)) + extra_bytes + 8
//	denominator    = nonce_trials_per_byte * (payload_bytes + (ttl*payload_bytes)/2^16)
//	target         = 2^64 / denominator
func ComputeTarget(obj *object.Object, now int64) (*big.Int, error) {
	nonceTrialsPerByte := obj.NonceTrialsPerByte
	if nonceTrialsPerByte == 0 {
		nonceTrialsPerByte = NetworkMinNonceTrialsPerByte
	}
	extraBytes := obj.ExtraBytes
	if extraBytes == 0 {
		extraBytes = NetworkMinExtraBytes
	}

	payloadLen, err := obj.PayloadBytes()
	if err != nil {
		return nil, err
	}

	ttl := obj.Expires - now
	if ttl < 0 {
		ttl = 0
	}

	payloadBytes := big.NewInt(int64(payloadLen) + int64(extraBytes) + 8)
	ttlBig := big.NewInt(ttl)

	growth := new(big.Int).Mul(ttlBig, payloadBytes)
	growth.Div(growth, twoPow16)

	inner := new(big.Int).Add(payloadBytes, growth)
	denominator := new(big.Int).Mul(big.NewInt(int64(nonceTrialsPerByte)), inner)
	if denominator.Sign() == 0 {
		return new(big.Int).Set(twoPow64), nil
	}

	target := new(big.Int).Div(twoPow64, denominator)
	return target, nil
}

// TrialValue computes SHA-512(SHA-512(big-endian(nonce) || initialHash))[0:8]
// interpreted as a big-endian unsigned integer — the value compared
// against the target.
func TrialValue(nonce uint64, initialHash []byte) *big.Int {
	return new(big.Int).SetBytes(trialHash(nonce, initialHash))
}

// CheckPoW verifies that a claimed nonce satisfies the target for the
// given initial hash (testable property 2/3, scenario S1).
func CheckPoW(target *big.Int, nonce uint64, initialHash []byte) error {
	if TrialValue(nonce, initialHash).Cmp(target) > 0 {
		return ErrInsufficientProofOfWork
	}
	return nil
}

// ErrMissingNonce is returned by VerifyObject when the object has not
// completed PoW yet.
var ErrMissingNonce = errors.New("pow: object carries no nonce")

// VerifyObject recomputes an inbound object's target as of now and checks
// its carried nonce against it, the gate every object must pass before
// being admitted to local inventory (spec §4.2).
func VerifyObject(obj *object.Object, now int64) error {
	if !obj.HasNonce() {
		return ErrMissingNonce
	}
	target, err := ComputeTarget(obj, now)
	if err != nil {
		return err
	}
	nonce := new(big.Int).SetBytes(obj.Nonce).Uint64()
	return CheckPoW(target, nonce, obj.Hash)
}
