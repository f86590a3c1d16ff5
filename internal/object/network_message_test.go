package object

import (
	"bytes"
	"testing"

	"github.com/fxamacker/cbor/v2"
)

func TestNetworkMessageCBORRoundTripInv(t *testing.T) {
	hashes := [][]byte{bytes.Repeat([]byte{0x01}, 32), bytes.Repeat([]byte{0x02}, 32)}
	msg := NewInv(hashes)

	data, err := msg.MarshalCBOR()
	if err != nil {
		t.Fatalf("MarshalCBOR: %v", err)
	}

	var decoded NetworkMessage
	if err := decoded.UnmarshalCBOR(data); err != nil {
		t.Fatalf("UnmarshalCBOR: %v", err)
	}
	if decoded.Command != CommandInv {
		t.Fatalf("command = %v, want Inv", decoded.Command)
	}
	if len(decoded.Payload.Hashes) != 2 || !bytes.Equal(decoded.Payload.Hashes[0], hashes[0]) {
		t.Fatal("hashes mismatch after round trip")
	}
}

func TestNetworkMessageCBORRoundTripObjects(t *testing.T) {
	obj, err := NewObject(1700000000, bytes.Repeat([]byte{0x01}, 64), GetpubkeyKind{Tag: bytes.Repeat([]byte{0x09}, 32)}, 0, 0)
	if err != nil {
		t.Fatalf("NewObject: %v", err)
	}
	msg := NewObjects([]*Object{obj})

	data, err := msg.MarshalCBOR()
	if err != nil {
		t.Fatalf("MarshalCBOR: %v", err)
	}

	var decoded NetworkMessage
	if err := decoded.UnmarshalCBOR(data); err != nil {
		t.Fatalf("UnmarshalCBOR: %v", err)
	}
	if decoded.Command != CommandObjects || len(decoded.Payload.Objects) != 1 {
		t.Fatalf("unexpected decode: %+v", decoded)
	}
	if !bytes.Equal(decoded.Payload.Objects[0].Hash, obj.Hash) {
		t.Fatal("object hash mismatch after round trip")
	}
}

func TestNetworkMessageRejectsUnknownCommand(t *testing.T) {
	w := networkMessageWire{Command: "Bogus"}
	data, err := cbor.Marshal(w)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded NetworkMessage
	if err := decoded.UnmarshalCBOR(data); err == nil {
		t.Fatal("expected UnmarshalCBOR to reject an unknown command")
	}
}
