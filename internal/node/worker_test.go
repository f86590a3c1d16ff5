package node

import (
	"context"
	"testing"
	"time"

	"github.com/klingon-exchange/shadowmail/internal/bmcrypto"
	"github.com/klingon-exchange/shadowmail/internal/object"
	"github.com/klingon-exchange/shadowmail/internal/pow"
	"github.com/klingon-exchange/shadowmail/internal/storage"
	"github.com/klingon-exchange/shadowmail/pkg/logging"
)

// testWorker wires a Worker to its own repositories and a PoW queue whose
// completion callback forwards to the worker itself, the same
// forward-reference pattern cmd/shadowmaild/main.go uses, without a live
// libp2p transport (node stays nil; every command exercised here never
// dereferences it).
type testWorker struct {
	worker       *Worker
	client       *Client
	addresses    *storage.MemoryAddressRepository
	inventory    *storage.MemoryInventoryRepository
	messages     *storage.MemoryMessageRepository
	pubkeyNotify chan string
}

func newTestWorker(t *testing.T) *testWorker {
	t.Helper()

	addresses := storage.NewMemoryAddressRepository()
	inventory := storage.NewMemoryInventoryRepository()
	messages := storage.NewMemoryMessageRepository()
	throttle := storage.NewMemoryPubkeySendThrottle()

	var worker *Worker
	queue := pow.NewQueue(inventory, func(obj *object.Object) {
		if worker != nil {
			worker.OnNonceCalculated(obj)
		}
	}, logging.Default())

	pubkeyNotify := make(chan string, 8)
	cfg := testConfig()
	handler := NewHandler(cfg, addresses, inventory, messages, throttle, queue, pubkeyNotify, logging.Default())
	worker = NewWorker(nil, cfg, handler, addresses, inventory, messages, queue, pubkeyNotify, logging.Default())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		if err := queue.Run(ctx); err != nil && ctx.Err() == nil {
			t.Logf("queue.Run: %v", err)
		}
	}()
	go worker.Run(ctx)

	return &testWorker{
		worker:       worker,
		client:       NewClient(worker.Commands(), logging.Default()),
		addresses:    addresses,
		inventory:    inventory,
		messages:     messages,
		pubkeyNotify: pubkeyNotify,
	}
}

func TestWorkerGenerateRenameDeleteIdentity(t *testing.T) {
	tw := newTestWorker(t)
	ctx := context.Background()

	addr, err := tw.client.GenerateIdentity(ctx, "alice")
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	if addr == "" {
		t.Fatal("expected a non-empty string_repr")
	}

	identities, err := tw.client.GetOwnIdentities(ctx)
	if err != nil {
		t.Fatalf("GetOwnIdentities: %v", err)
	}
	if len(identities) != 1 || identities[0].StringRepr != addr {
		t.Fatalf("expected exactly the generated identity, got %+v", identities)
	}

	if err := tw.client.RenameIdentity(ctx, addr, "alice renamed"); err != nil {
		t.Fatalf("RenameIdentity: %v", err)
	}
	renamed, err := tw.addresses.GetByRipeOrTag(ctx, addr)
	if err != nil {
		t.Fatalf("GetByRipeOrTag: %v", err)
	}
	if renamed.Label != "alice renamed" {
		t.Fatalf("expected updated label, got %q", renamed.Label)
	}

	if err := tw.client.DeleteIdentity(ctx, addr); err != nil {
		t.Fatalf("DeleteIdentity: %v", err)
	}
	identities, err = tw.client.GetOwnIdentities(ctx)
	if err != nil {
		t.Fatalf("GetOwnIdentities after delete: %v", err)
	}
	if len(identities) != 0 {
		t.Fatalf("expected no identities left, got %d", len(identities))
	}
}

func TestWorkerGetMessagesSeparatesInboxAndSent(t *testing.T) {
	tw := newTestWorker(t)
	ctx := context.Background()

	sender, err := object.NewIdentity("sender")
	if err != nil {
		t.Fatalf("NewIdentity: %v", err)
	}
	recipient, err := object.NewIdentity("recipient")
	if err != nil {
		t.Fatalf("NewIdentity: %v", err)
	}
	if err := tw.addresses.Store(ctx, recipient); err != nil {
		t.Fatalf("store recipient: %v", err)
	}

	if _, err := tw.client.SendMessage(ctx, sender, recipient.StringRepr, "hi", []byte("body")); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	sent, err := tw.client.GetMessages(ctx, sender.StringRepr, FolderSent)
	if err != nil {
		t.Fatalf("GetMessages(sent): %v", err)
	}
	if len(sent) != 1 {
		t.Fatalf("expected one sent message, got %d", len(sent))
	}

	inbox, err := tw.client.GetMessages(ctx, recipient.StringRepr, FolderInbox)
	if err != nil {
		t.Fatalf("GetMessages(inbox): %v", err)
	}
	if len(inbox) != 1 {
		t.Fatalf("expected one inbox message, got %d", len(inbox))
	}
}

// TestWorkerResumesMessageAfterPubkeyResolves drives the full send-state
// machine end to end: WaitingForPubkey -> (pubkey notification) ->
// WaitingForPOW -> (PoW completion) -> Sent.
func TestWorkerResumesMessageAfterPubkeyResolves(t *testing.T) {
	tw := newTestWorker(t)
	ctx := context.Background()

	sender, err := object.NewIdentity("sender")
	if err != nil {
		t.Fatalf("NewIdentity: %v", err)
	}
	if err := tw.addresses.Store(ctx, sender); err != nil {
		t.Fatalf("store sender: %v", err)
	}
	recipient, err := object.NewIdentity("recipient")
	if err != nil {
		t.Fatalf("NewIdentity: %v", err)
	}

	msg, err := tw.client.SendMessage(ctx, sender, recipient.StringRepr, "hi", []byte("body"))
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if msg.Status != object.StatusWaitingForPubkey {
		t.Fatalf("expected StatusWaitingForPubkey, got %v", msg.Status)
	}

	// Fill in the recipient's keys the way handlePubkey would once a
	// Pubkey reply decrypts and verifies, then notify the worker the way
	// the handler does.
	if err := tw.addresses.UpdatePublicKeys(ctx, recipient.StringRepr, recipient.PublicSigningKey, recipient.PublicEncryptionKey); err != nil {
		t.Fatalf("UpdatePublicKeys: %v", err)
	}
	tw.pubkeyNotify <- bmcrypto.EncodeBase58(recipient.Tag)

	deadline := time.After(5 * time.Second)
	for {
		msgs, err := tw.client.GetMessages(ctx, recipient.StringRepr, FolderInbox)
		if err != nil {
			t.Fatalf("GetMessages: %v", err)
		}
		if len(msgs) == 1 && msgs[0].Status == object.StatusSent {
			return
		}
		select {
		case <-deadline:
			if len(msgs) == 1 {
				t.Fatalf("message never reached StatusSent, stuck at %v", msgs[0].Status)
			}
			t.Fatal("message never resumed past WaitingForPubkey")
		case <-time.After(20 * time.Millisecond):
		}
	}
}
