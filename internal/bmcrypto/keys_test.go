package bmcrypto

import (
	"crypto/sha256"
	"testing"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	digest := sha256.Sum256([]byte("object hash input"))
	sig, err := Sign(kp.Private, digest[:])
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if len(sig) != 64 {
		t.Fatalf("signature length = %d, want 64", len(sig))
	}

	if err := Verify(kp.Public, digest[:], sig); err != nil {
		t.Fatalf("Verify failed on a valid signature: %v", err)
	}
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	digest := sha256.Sum256([]byte("object hash input"))
	sig, err := Sign(kp.Private, digest[:])
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	sig[0] ^= 0xFF

	if err := Verify(kp.Public, digest[:], sig); err == nil {
		t.Fatal("expected Verify to reject a tampered signature")
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	kp1, _ := GenerateKeyPair()
	kp2, _ := GenerateKeyPair()

	digest := sha256.Sum256([]byte("object hash input"))
	sig, err := Sign(kp1.Private, digest[:])
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	if err := Verify(kp2.Public, digest[:], sig); err == nil {
		t.Fatal("expected Verify to reject a signature under the wrong key")
	}
}

func TestECIESEncryptDecryptRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	plaintext := []byte("the quick brown fox jumps over the lazy dog")
	ct, err := Encrypt(kp.Public, plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	pt, err := Decrypt(kp.Private, ct)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(pt) != string(plaintext) {
		t.Fatalf("round-tripped plaintext = %q, want %q", pt, plaintext)
	}
}

func TestECIESDecryptFailsWithWrongKey(t *testing.T) {
	kp1, _ := GenerateKeyPair()
	kp2, _ := GenerateKeyPair()

	ct, err := Encrypt(kp1.Public, []byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	if _, err := Decrypt(kp2.Private, ct); err == nil {
		t.Fatal("expected Decrypt to fail with the wrong private key")
	}
}
