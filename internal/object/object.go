package object

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ObjectType is the wire discriminator for an ObjectKind (spec §3).
type ObjectType uint8

const (
	ObjectTypeMsg       ObjectType = 0
	ObjectTypeBroadcast ObjectType = 1
	ObjectTypeGetpubkey ObjectType = 2
	ObjectTypePubkey    ObjectType = 3
)

func (t ObjectType) String() string {
	switch t {
	case ObjectTypeMsg:
		return "msg"
	case ObjectTypeBroadcast:
		return "broadcast"
	case ObjectTypeGetpubkey:
		return "getpubkey"
	case ObjectTypePubkey:
		return "pubkey"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Defaults for PoW parameters (spec §6).
const (
	DefaultNonceTrialsPerByte uint64 = 1000
	DefaultExtraBytes         uint64 = 1000
)

// ErrUnknownObjectKind is returned when decoding a kind whose discriminator
// does not match one of the four known variants.
var ErrUnknownObjectKind = errors.New("object: unknown kind")

// Kind is the payload carried by an Object: exactly one of MsgKind,
// BroadcastKind, GetpubkeyKind, or PubkeyKind (spec §3).
type Kind interface {
	Type() ObjectType
}

// MsgKind carries an ECIES-encrypted UnencryptedMsg addressed by the
// recipient's encryption public key (no tag: the recipient tries every
// local identity's private encryption key on receipt).
type MsgKind struct {
	Encrypted []byte
}

func (MsgKind) Type() ObjectType { return ObjectTypeMsg }

// BroadcastKind is reserved and unsupported (spec §1 Non-goals, §4.3).
type BroadcastKind struct {
	Tag       []byte
	Encrypted []byte
}

func (BroadcastKind) Type() ObjectType { return ObjectTypeBroadcast }

// GetpubkeyKind requests the Pubkey object for the identity with the
// given tag.
type GetpubkeyKind struct {
	Tag []byte
}

func (GetpubkeyKind) Type() ObjectType { return ObjectTypeGetpubkey }

// PubkeyKind carries an ECIES-encrypted UnencryptedPubkey, encrypted to
// the public_decryption_key derived from Tag so that only the requester
// who asked for that tag can open it.
type PubkeyKind struct {
	Tag       []byte
	Encrypted []byte
}

func (PubkeyKind) Type() ObjectType { return ObjectTypePubkey }

// kindWire is the flat CBOR map representation of a Kind: a "kind"
// discriminator alongside the variant's own fields, mirroring how the
// reference implementation's derive-based serializer lays out its
// internally tagged enum (SPEC_FULL §6).
type kindWire struct {
	Kind      string `cbor:"kind"`
	Tag       []byte `cbor:"tag,omitempty"`
	Encrypted []byte `cbor:"encrypted,omitempty"`
}

func toKindWire(k Kind) kindWire {
	switch v := k.(type) {
	case MsgKind:
		return kindWire{Kind: "Msg", Encrypted: v.Encrypted}
	case BroadcastKind:
		return kindWire{Kind: "Broadcast", Tag: v.Tag, Encrypted: v.Encrypted}
	case GetpubkeyKind:
		return kindWire{Kind: "Getpubkey", Tag: v.Tag}
	case PubkeyKind:
		return kindWire{Kind: "Pubkey", Tag: v.Tag, Encrypted: v.Encrypted}
	default:
		panic(fmt.Sprintf("object: unreachable kind type %T", k))
	}
}

func fromKindWire(w kindWire) (Kind, error) {
	switch w.Kind {
	case "Msg":
		return MsgKind{Encrypted: w.Encrypted}, nil
	case "Broadcast":
		return BroadcastKind{Tag: w.Tag, Encrypted: w.Encrypted}, nil
	case "Getpubkey":
		return GetpubkeyKind{Tag: w.Tag}, nil
	case "Pubkey":
		return PubkeyKind{Tag: w.Tag, Encrypted: w.Encrypted}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownObjectKind, w.Kind)
	}
}

// EncodeKind returns the canonical CBOR encoding of a kind alone — the
// exact bytes fed into the object hash (spec §3: `cbor(kind)`).
func EncodeKind(k Kind) ([]byte, error) {
	return cbor.Marshal(toKindWire(k))
}

// DecodeKind reverses EncodeKind, used by the inventory repository to
// rehydrate a kind from its stored CBOR bytes without round-tripping a
// full Object.
func DecodeKind(data []byte) (Kind, error) {
	var w kindWire
	if err := cbor.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	return fromKindWire(w)
}

// Object is the unit of the inventory (spec §3).
type Object struct {
	Hash      []byte
	Nonce     []byte // big-endian, empty until PoW completes
	Expires   int64  // unix seconds
	Signature []byte
	Kind      Kind

	NonceTrialsPerByte uint64
	ExtraBytes         uint64
}

// NewObject builds an object's hash from its constituent fields, leaving
// Nonce empty (PoW not yet run) and Signature as supplied by the caller
// (it must already have been produced over the about-to-be-computed hash
// by the send pipeline — see BuildAndSign).
func NewObject(expires int64, signature []byte, kind Kind, nonceTrialsPerByte, extraBytes uint64) (*Object, error) {
	if nonceTrialsPerByte == 0 {
		nonceTrialsPerByte = DefaultNonceTrialsPerByte
	}
	if extraBytes == 0 {
		extraBytes = DefaultExtraBytes
	}
	hash, err := ComputeHash(expires, signature, kind)
	if err != nil {
		return nil, err
	}
	return &Object{
		Hash:               hash,
		Expires:            expires,
		Signature:          signature,
		Kind:               kind,
		NonceTrialsPerByte: nonceTrialsPerByte,
		ExtraBytes:         extraBytes,
	}, nil
}

// ComputeHash computes SHA-256(little-endian i64 expires || signature ||
// cbor(kind)) — testable property 1 (hash determinism).
func ComputeHash(expires int64, signature []byte, kind Kind) ([]byte, error) {
	kindBytes, err := EncodeKind(kind)
	if err != nil {
		return nil, err
	}

	var expiresLE [8]byte
	binary.LittleEndian.PutUint64(expiresLE[:], uint64(expires))

	h := sha256.New()
	h.Write(expiresLE[:])
	h.Write(signature)
	h.Write(kindBytes)
	return h.Sum(nil), nil
}

// PayloadBytes returns len(cbor(kind)), the size the PoW target formula
// starts from (spec §4.2).
func (o *Object) PayloadBytes() (int, error) {
	b, err := EncodeKind(o.Kind)
	if err != nil {
		return 0, err
	}
	return len(b), nil
}

// IsExpired reports whether the object's TTL has elapsed as of now.
func (o *Object) IsExpired(now int64) bool {
	return o.Expires <= now
}

// HasNonce reports whether PoW has completed for this object.
func (o *Object) HasNonce() bool {
	return len(o.Nonce) > 0
}

// objectWire is the CBOR wire form of a full Object.
type objectWire struct {
	Hash      []byte `cbor:"hash"`
	Nonce     []byte `cbor:"nonce,omitempty"`
	Expires   int64  `cbor:"expires"`
	Signature []byte `cbor:"signature"`
	kindWire  `cbor:",flatten"`

	NonceTrialsPerByte uint64 `cbor:"nonce_trials_per_byte,omitempty"`
	ExtraBytes         uint64 `cbor:"extra_bytes,omitempty"`
}

// MarshalCBOR implements cbor.Marshaler.
func (o *Object) MarshalCBOR() ([]byte, error) {
	w := objectWire{
		Hash:               o.Hash,
		Nonce:              o.Nonce,
		Expires:            o.Expires,
		Signature:          o.Signature,
		kindWire:           toKindWire(o.Kind),
		NonceTrialsPerByte: o.NonceTrialsPerByte,
		ExtraBytes:         o.ExtraBytes,
	}
	return cbor.Marshal(w)
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (o *Object) UnmarshalCBOR(data []byte) error {
	var w objectWire
	if err := cbor.Unmarshal(data, &w); err != nil {
		return err
	}
	kind, err := fromKindWire(w.kindWire)
	if err != nil {
		return err
	}
	o.Hash = w.Hash
	o.Nonce = w.Nonce
	o.Expires = w.Expires
	o.Signature = w.Signature
	o.Kind = kind
	o.NonceTrialsPerByte = w.NonceTrialsPerByte
	o.ExtraBytes = w.ExtraBytes
	if o.NonceTrialsPerByte == 0 {
		o.NonceTrialsPerByte = DefaultNonceTrialsPerByte
	}
	if o.ExtraBytes == 0 {
		o.ExtraBytes = DefaultExtraBytes
	}
	return nil
}
