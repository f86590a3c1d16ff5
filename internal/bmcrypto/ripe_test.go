package bmcrypto

import (
	"bytes"
	"crypto/sha512"
	"testing"
)

func TestDeriveTagAndDecryptionKeyMatchesFormula(t *testing.T) {
	ripe := bytes.Repeat([]byte{0x42}, RipeSize)

	tag, decKey := DeriveTagAndDecryptionKey(ripe)

	first := sha512.Sum512(ripe)
	second := sha512.Sum512(first[:])

	if !bytes.Equal(tag, second[32:64]) {
		t.Fatalf("tag mismatch: got %x want %x", tag, second[32:64])
	}

	wantKey := KeyPairFromSecret(second[0:32])
	if !bytes.Equal(decKey.Private.Serialize(), wantKey.Private.Serialize()) {
		t.Fatal("public_decryption_key does not match SHA512(SHA512(ripe))[0:32]")
	}
}

func TestDeriveRipeIsDeterministic(t *testing.T) {
	signing, _ := GenerateKeyPair()
	encryption, _ := GenerateKeyPair()

	r1 := DeriveRipe(signing.SerializeCompressed(), encryption.SerializeCompressed())
	r2 := DeriveRipe(signing.SerializeCompressed(), encryption.SerializeCompressed())

	if !bytes.Equal(r1, r2) || len(r1) != RipeSize {
		t.Fatalf("DeriveRipe not deterministic or wrong size: %x (%d bytes)", r1, len(r1))
	}
}

func TestBase58RoundTrip(t *testing.T) {
	ripe := bytes.Repeat([]byte{0x07}, RipeSize)
	encoded := EncodeBase58(ripe)

	decoded, err := DecodeBase58(encoded)
	if err != nil {
		t.Fatalf("DecodeBase58: %v", err)
	}
	if !bytes.Equal(decoded, ripe) {
		t.Fatalf("round trip mismatch: got %x want %x", decoded, ripe)
	}
}
