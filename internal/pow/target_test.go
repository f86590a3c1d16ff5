package pow

import (
	"bytes"
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/klingon-exchange/shadowmail/internal/object"
)

func testObject(t *testing.T, expires int64) *object.Object {
	t.Helper()
	kind := object.GetpubkeyKind{Tag: bytes.Repeat([]byte{0x01}, 32)}
	obj, err := object.NewObject(expires, bytes.Repeat([]byte{0x02}, 64), kind, 0, 0)
	if err != nil {
		t.Fatalf("NewObject: %v", err)
	}
	return obj
}

func TestComputeTargetHigherForShorterTTL(t *testing.T) {
	now := time.Now().Unix()
	short := testObject(t, now+60)
	long := testObject(t, now+60*60*24*7)

	shortTarget, err := ComputeTarget(short, now)
	if err != nil {
		t.Fatalf("ComputeTarget: %v", err)
	}
	longTarget, err := ComputeTarget(long, now)
	if err != nil {
		t.Fatalf("ComputeTarget: %v", err)
	}

	// A longer TTL inflates the denominator, so it must yield an equal or
	// smaller (harder) target than a short-lived object with the same
	// payload.
	if longTarget.Cmp(shortTarget) > 0 {
		t.Fatalf("expected long-TTL target (%s) <= short-TTL target (%s)", longTarget, shortTarget)
	}
}

func TestCheckPoWAcceptsSearchResult(t *testing.T) {
	obj := testObject(t, time.Now().Unix()+3600)

	// An artificially easy target keeps this test fast and deterministic:
	// it exercises the Search<->CheckPoW wiring, not realistic PoW
	// difficulty (that's ComputeTarget's job, covered separately above).
	easyTarget := new(big.Int).Set(twoPow64)

	result, err := Search(context.Background(), easyTarget, obj.Hash)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if err := CheckPoW(easyTarget, result.Nonce, obj.Hash); err != nil {
		t.Fatalf("CheckPoW rejected a nonce Search itself produced: %v", err)
	}
}

func TestCheckPoWRejectsInsufficientNonce(t *testing.T) {
	obj := testObject(t, time.Now().Unix()+3600)

	tinyTarget := new(big.Int).SetInt64(1)
	if err := CheckPoW(tinyTarget, 1, obj.Hash); err == nil {
		t.Fatal("expected CheckPoW to reject a trial value against a near-impossible target")
	}
}
