package node

import (
	"context"
	"testing"

	"github.com/klingon-exchange/shadowmail/internal/object"
	"github.com/klingon-exchange/shadowmail/pkg/logging"
)

func newTestClient(t *testing.T) (*Client, *testHandler) {
	t.Helper()
	th := newTestHandler(t)

	worker := NewWorker(nil, th.handler.cfg, th.handler, th.addresses, th.inventory, th.messages, th.queue, th.pubkeyNotify, logging.Default())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go worker.Run(ctx)

	client := NewClient(worker.Commands(), logging.Default())
	return client, th
}

func TestSendMessageToUnknownRecipientRequestsPubkeyAndWaits(t *testing.T) {
	client, th := newTestClient(t)
	ctx := context.Background()

	sender, err := object.NewIdentity("sender")
	if err != nil {
		t.Fatalf("NewIdentity: %v", err)
	}
	recipient, err := object.NewIdentity("recipient")
	if err != nil {
		t.Fatalf("NewIdentity: %v", err)
	}

	msg, err := client.SendMessage(ctx, sender, recipient.StringRepr, "subject", []byte("body"))
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if msg.Status != object.StatusWaitingForPubkey {
		t.Fatalf("expected StatusWaitingForPubkey, got %v", msg.Status)
	}

	stored, err := th.addresses.GetByRipeOrTag(ctx, recipient.StringRepr)
	if err != nil {
		t.Fatalf("GetByRipeOrTag: %v", err)
	}
	if stored == nil || stored.IsContact() {
		t.Fatal("expected a skeleton (not yet a contact) to have been stored for the recipient")
	}

	// A Getpubkey request should have been queued for PoW.
	reply := th.waitForReply(t)
	getpubkey, ok := reply.Kind.(object.GetpubkeyKind)
	if !ok {
		t.Fatalf("expected a Getpubkey request queued, got %T", reply.Kind)
	}
	if string(getpubkey.Tag) != string(recipient.Tag) {
		t.Fatal("queued Getpubkey does not target the intended recipient's tag")
	}
}

func TestSendMessageToKnownContactQueuesMsg(t *testing.T) {
	client, th := newTestClient(t)
	ctx := context.Background()

	sender, err := object.NewIdentity("sender")
	if err != nil {
		t.Fatalf("NewIdentity: %v", err)
	}
	recipient, err := object.NewIdentity("recipient")
	if err != nil {
		t.Fatalf("NewIdentity: %v", err)
	}
	if err := th.addresses.Store(ctx, recipient); err != nil {
		t.Fatalf("Store recipient: %v", err)
	}

	msg, err := client.SendMessage(ctx, sender, recipient.StringRepr, "subject", []byte("body"))
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if msg.Status != object.StatusWaitingForPOW {
		t.Fatalf("expected StatusWaitingForPOW, got %v", msg.Status)
	}

	reply := th.waitForReply(t)
	if _, ok := reply.Kind.(object.MsgKind); !ok {
		t.Fatalf("expected a Msg object queued, got %T", reply.Kind)
	}

	saved, err := th.messages.GetMessagesByRecipient(ctx, recipient.StringRepr)
	if err != nil || len(saved) != 1 {
		t.Fatalf("expected the pending message to be saved: %v, %d", err, len(saved))
	}
}
