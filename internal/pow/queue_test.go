package pow

import (
	"bytes"
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/klingon-exchange/shadowmail/internal/object"
	"github.com/klingon-exchange/shadowmail/pkg/logging"
)

type fakeInventory struct {
	mu      sync.Mutex
	stored  map[string]*object.Object
	backlog []*object.Object
}

func newFakeInventory(backlog ...*object.Object) *fakeInventory {
	return &fakeInventory{stored: make(map[string]*object.Object), backlog: backlog}
}

func (f *fakeInventory) StoreObject(_ context.Context, obj *object.Object) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stored[string(obj.Hash)] = obj
	return nil
}

func (f *fakeInventory) UpdateNonce(_ context.Context, hash, nonce []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if obj, ok := f.stored[string(hash)]; ok {
		obj.Nonce = nonce
	}
	return nil
}

func (f *fakeInventory) GetMissingPoWObjects(_ context.Context) ([]*object.Object, error) {
	return f.backlog, nil
}

func easyObject(t *testing.T) *object.Object {
	t.Helper()
	// expires == now makes ttl 0, minimizing the denominator and so
	// maximizing the target — the search completes in a handful of tries.
	obj, err := object.NewObject(time.Now().Unix(), bytes.Repeat([]byte{0x05}, 64), object.GetpubkeyKind{Tag: bytes.Repeat([]byte{0x06}, 32)}, 1, 0)
	if err != nil {
		t.Fatalf("NewObject: %v", err)
	}
	return obj
}

func TestQueueProcessesEnqueuedObject(t *testing.T) {
	inv := newFakeInventory()

	done := make(chan *object.Object, 1)
	q := NewQueue(inv, func(obj *object.Object) { done <- obj }, logging.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = q.Run(ctx) }()

	obj := easyObject(t)
	q.Enqueue(obj)

	select {
	case finished := <-done:
		if !finished.HasNonce() {
			t.Fatal("expected the notified object to carry a nonce")
		}
		target := mustTarget(t, finished)
		nonce := new(big.Int).SetBytes(finished.Nonce).Uint64()
		if err := CheckPoW(target, nonce, finished.Hash); err != nil {
			t.Fatalf("CheckPoW on queue result: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for PoW completion")
	}
}

func TestQueueRepopulatesBacklogOnRun(t *testing.T) {
	backlogObj := easyObject(t)
	inv := newFakeInventory(backlogObj)

	done := make(chan *object.Object, 1)
	q := NewQueue(inv, func(obj *object.Object) { done <- obj }, logging.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = q.Run(ctx) }()

	select {
	case finished := <-done:
		if !bytes.Equal(finished.Hash, backlogObj.Hash) {
			t.Fatal("queue did not process the backlog object from GetMissingPoWObjects")
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for backlog PoW completion")
	}
}

type fakePendingSource struct {
	objs []*object.Object
	err  error
}

func (f *fakePendingSource) RebuildPendingObjects(_ context.Context) ([]*object.Object, error) {
	return f.objs, f.err
}

func TestQueueRepopulatesPendingMessagesOnRun(t *testing.T) {
	pendingObj := easyObject(t)
	inv := newFakeInventory()

	done := make(chan *object.Object, 1)
	q := NewQueue(inv, func(obj *object.Object) { done <- obj }, logging.Default())
	q.SetPendingSource(&fakePendingSource{objs: []*object.Object{pendingObj}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = q.Run(ctx) }()

	select {
	case finished := <-done:
		if !bytes.Equal(finished.Hash, pendingObj.Hash) {
			t.Fatal("queue did not process the object rebuilt from a WaitingForPOW message")
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for rebuilt pending-message PoW completion")
	}

	inv.mu.Lock()
	_, stored := inv.stored[string(pendingObj.Hash)]
	inv.mu.Unlock()
	if !stored {
		t.Fatal("expected the rebuilt object to be stored before its PoW search started")
	}
}

func mustTarget(t *testing.T, obj *object.Object) *big.Int {
	t.Helper()
	target, err := ComputeTarget(obj, time.Now().Unix())
	if err != nil {
		t.Fatalf("ComputeTarget: %v", err)
	}
	return target
}
