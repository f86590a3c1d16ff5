package object

import (
	"testing"
	"time"

	"github.com/klingon-exchange/shadowmail/internal/bmcrypto"
)

func TestBuildAndSignVerifiesAgainstPresignHash(t *testing.T) {
	kp, err := bmcrypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	kind := GetpubkeyKind{Tag: make([]byte, 32)}
	expires := time.Now().Add(time.Hour).Unix()

	obj, err := BuildAndSign(kp.Private, expires, kind, 0, 0)
	if err != nil {
		t.Fatalf("BuildAndSign: %v", err)
	}

	if err := VerifySignature(obj, kp.Public); err != nil {
		t.Fatalf("VerifySignature rejected a validly signed object: %v", err)
	}

	presig, err := PresignHash(expires, kind)
	if err != nil {
		t.Fatalf("PresignHash: %v", err)
	}
	wantHash, err := ComputeHash(expires, obj.Signature, kind)
	if err != nil {
		t.Fatalf("ComputeHash: %v", err)
	}
	if string(obj.Hash) != string(wantHash) {
		t.Fatal("object hash does not match ComputeHash over its own final signature")
	}
	if string(presig) == string(obj.Hash) {
		t.Fatal("presign hash (empty signature) unexpectedly equals the final hash (non-empty signature)")
	}
}

func TestVerifySignatureRejectsWrongKey(t *testing.T) {
	kp1, _ := bmcrypto.GenerateKeyPair()
	kp2, _ := bmcrypto.GenerateKeyPair()

	kind := GetpubkeyKind{Tag: make([]byte, 32)}
	obj, err := BuildAndSign(kp1.Private, time.Now().Add(time.Hour).Unix(), kind, 0, 0)
	if err != nil {
		t.Fatalf("BuildAndSign: %v", err)
	}

	if err := VerifySignature(obj, kp2.Public); err == nil {
		t.Fatal("expected VerifySignature to reject the wrong signing key")
	}
}
