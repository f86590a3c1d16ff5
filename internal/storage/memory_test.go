package storage

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/klingon-exchange/shadowmail/internal/object"
)

func TestMemoryAddressRepositoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAddressRepository()

	addr, err := object.NewIdentity("home")
	if err != nil {
		t.Fatalf("NewIdentity: %v", err)
	}
	if err := repo.Store(ctx, addr); err != nil {
		t.Fatalf("Store: %v", err)
	}

	got, err := repo.GetByRipeOrTag(ctx, addr.StringRepr)
	if err != nil {
		t.Fatalf("GetByRipeOrTag: %v", err)
	}
	if got == nil || got.StringRepr != addr.StringRepr {
		t.Fatal("GetByRipeOrTag did not return the stored address")
	}

	identities, err := repo.GetIdentities(ctx)
	if err != nil || len(identities) != 1 {
		t.Fatalf("GetIdentities: %v, %d results", err, len(identities))
	}

	contacts, err := repo.GetContacts(ctx)
	if err != nil {
		t.Fatalf("GetContacts: %v", err)
	}
	// An identity also carries both public keys, so it counts as a
	// contact too (spec §3: identity implies contact, not the reverse).
	if len(contacts) != 1 {
		t.Fatalf("expected identity to also satisfy the contact predicate, got %d", len(contacts))
	}
}

func TestMemoryAddressRepositorySkeletonGetsFilledIn(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAddressRepository()

	contact, err := object.NewIdentity("peer")
	if err != nil {
		t.Fatalf("NewIdentity: %v", err)
	}
	skeleton := object.SkeletonFromRipe(contact.Ripe)
	if err := repo.Store(ctx, skeleton); err != nil {
		t.Fatalf("Store: %v", err)
	}

	if ids, _ := repo.GetContacts(ctx); len(ids) != 0 {
		t.Fatal("skeleton address should not satisfy the contact predicate before keys arrive")
	}

	if err := repo.UpdatePublicKeys(ctx, skeleton.StringRepr, contact.PublicSigningKey, contact.PublicEncryptionKey); err != nil {
		t.Fatalf("UpdatePublicKeys: %v", err)
	}

	contacts, err := repo.GetContacts(ctx)
	if err != nil || len(contacts) != 1 {
		t.Fatalf("GetContacts after fill-in: %v, %d results", err, len(contacts))
	}
}

func TestMemoryInventoryRepositoryBacklogAndCleanup(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryInventoryRepository()

	kind := object.GetpubkeyKind{Tag: bytes.Repeat([]byte{0x01}, 32)}
	expired, err := object.NewObject(time.Now().Add(-time.Hour).Unix(), bytes.Repeat([]byte{0x02}, 64), kind, 0, 0)
	if err != nil {
		t.Fatalf("NewObject: %v", err)
	}
	live, err := object.NewObject(time.Now().Add(time.Hour).Unix(), bytes.Repeat([]byte{0x03}, 64), kind, 0, 0)
	if err != nil {
		t.Fatalf("NewObject: %v", err)
	}

	for _, o := range []*object.Object{expired, live} {
		if err := repo.StoreObject(ctx, o); err != nil {
			t.Fatalf("StoreObject: %v", err)
		}
	}

	backlog, err := repo.GetMissingPoWObjects(ctx)
	if err != nil || len(backlog) != 2 {
		t.Fatalf("GetMissingPoWObjects: %v, %d results", err, len(backlog))
	}

	removed, err := repo.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if removed != 1 {
		t.Fatalf("Cleanup removed %d rows, want 1", removed)
	}

	if err := repo.UpdateNonce(ctx, live.Hash, []byte{1}); err != nil {
		t.Fatalf("UpdateNonce: %v", err)
	}
	inv, err := repo.Get(ctx)
	if err != nil || len(inv) != 1 {
		t.Fatalf("Get after cleanup: %v, %d results", err, len(inv))
	}
}

func TestMemoryMessageRepositoryCompositeKeyAllowsSameHashDifferentRecipient(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryMessageRepository()

	hash := bytes.Repeat([]byte{0x09}, 32)
	m1 := &object.Message{Hash: hash, Recipient: "recipientA", Status: object.StatusReceived}
	m2 := &object.Message{Hash: hash, Recipient: "recipientB", Status: object.StatusReceived}

	if err := repo.Save(ctx, m1); err != nil {
		t.Fatalf("Save m1: %v", err)
	}
	if err := repo.Save(ctx, m2); err != nil {
		t.Fatalf("Save m2: %v", err)
	}

	all, err := repo.GetMessages(ctx)
	if err != nil || len(all) != 2 {
		t.Fatalf("expected both (hash, recipient) pairs to coexist, got %d: %v", len(all), err)
	}

	// Re-saving the same (hash, recipient) pair must be idempotent, not
	// produce a duplicate row (Open Question resolution (a)).
	if err := repo.Save(ctx, m1); err != nil {
		t.Fatalf("Save m1 again: %v", err)
	}
	all, _ = repo.GetMessages(ctx)
	if len(all) != 2 {
		t.Fatalf("re-saving an identical (hash, recipient) pair duplicated a row: got %d", len(all))
	}
}

func TestMemoryPubkeySendThrottle(t *testing.T) {
	ctx := context.Background()
	throttle := NewMemoryPubkeySendThrottle()
	tag := "sometag"
	now := time.Now()

	should, err := throttle.ShouldSend(ctx, tag, now)
	if err != nil || !should {
		t.Fatalf("expected ShouldSend to be true before any send: %v, %v", should, err)
	}

	if err := throttle.RecordSent(ctx, tag, now); err != nil {
		t.Fatalf("RecordSent: %v", err)
	}

	should, err = throttle.ShouldSend(ctx, tag, now.Add(time.Hour))
	if err != nil || should {
		t.Fatalf("expected ShouldSend to be false within the throttle window: %v, %v", should, err)
	}

	should, err = throttle.ShouldSend(ctx, tag, now.Add(ThrottleWindow+time.Minute))
	if err != nil || !should {
		t.Fatalf("expected ShouldSend to be true after the throttle window elapses: %v, %v", should, err)
	}
}
