package node

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/fxamacker/cbor/v2"

	"github.com/klingon-exchange/shadowmail/internal/bmcrypto"
	"github.com/klingon-exchange/shadowmail/internal/object"
	"github.com/klingon-exchange/shadowmail/internal/pow"
	"github.com/klingon-exchange/shadowmail/pkg/logging"
)

// AddressStore is the slice of the address repository the handler and
// worker need: resolving contacts/identities, filling in skeletons as
// Pubkey replies arrive, and managing the node's own identities.
type AddressStore interface {
	Store(ctx context.Context, a *object.Address) error
	DeleteAddress(ctx context.Context, address string) error
	GetByRipeOrTag(ctx context.Context, hash string) (*object.Address, error)
	GetContacts(ctx context.Context) ([]*object.Address, error)
	GetIdentities(ctx context.Context) ([]*object.Address, error)
	UpdatePublicKeys(ctx context.Context, hash string, signing, encryption *secp256k1.PublicKey) error
	UpdateLabel(ctx context.Context, address, label string) error
}

// InventoryStore is the slice of the inventory repository the handler
// needs to serve and consume the gossip/request-response protocol.
type InventoryStore interface {
	Get(ctx context.Context) ([]string, error)
	GetObject(ctx context.Context, hash string) (*object.Object, error)
	GetMissingObjects(ctx context.Context, hashes []string) ([]string, error)
	StoreObject(ctx context.Context, o *object.Object) error
}

// MessageStore is the slice of the message repository the handler and
// worker need: persisting inbound mail and driving the send-state
// machine (WaitingForPubkey -> WaitingForPOW -> Sent) as pubkeys
// resolve and PoW completes.
type MessageStore interface {
	Save(ctx context.Context, m *object.Message) error
	GetMessages(ctx context.Context) ([]*object.Message, error)
	GetMessagesByRecipient(ctx context.Context, recipient string) ([]*object.Message, error)
	GetMessagesBySender(ctx context.Context, sender string) ([]*object.Message, error)
	GetMessagesByStatus(ctx context.Context, status object.MessageStatus) ([]*object.Message, error)
	UpdateStatus(ctx context.Context, hash []byte, recipient string, status object.MessageStatus) error
	UpdateHash(ctx context.Context, oldHash, newHash []byte, recipient string) error
}

// PubkeyThrottle gates how often this node answers a Getpubkey for the
// same identity (spec §4.3, Open Question resolution (b)).
type PubkeyThrottle interface {
	ShouldSend(ctx context.Context, tag string, now time.Time) (bool, error)
	RecordSent(ctx context.Context, tag string, now time.Time) error
}

// Handler implements the store-and-forward protocol state machine:
// deciding how to answer a message read off an inbound stream and
// processing objects surfaced by either an inbound Objects frame or
// this node's own active sync (spec §4.3/§6). It performs no stream I/O
// itself — HandleIncoming only reads and writes repositories and returns
// the reply — and in the node it is called only from the worker's
// single-threaded event loop (spec §5). Grounded on
// original_source/src/network/node/handler.rs (the same decrypt-then-
// verify-then-persist pipeline, adapted from its channel/actor plumbing
// to a Go worker loop instead).
type Handler struct {
	cfg          *Config
	addresses    AddressStore
	inventory    InventoryStore
	messages     MessageStore
	throttle     PubkeyThrottle
	powQueue     *pow.Queue
	pubkeyNotify chan<- string
	log          *logging.Logger
}

// NewHandler builds a protocol handler bound to its repositories, PoW
// queue, and the worker's pubkey-notification channel (spec §3
// Ownership, §4.4 "Pubkey notification (tag)").
func NewHandler(cfg *Config, addresses AddressStore, inventory InventoryStore, messages MessageStore, throttle PubkeyThrottle, powQueue *pow.Queue, pubkeyNotify chan<- string, log *logging.Logger) *Handler {
	return &Handler{
		cfg:          cfg,
		addresses:    addresses,
		inventory:    inventory,
		messages:     messages,
		throttle:     throttle,
		powQueue:     powQueue,
		pubkeyNotify: pubkeyNotify,
		log:          log.Component("handler"),
	}
}

// HandleIncoming decides the reply (if any) to one message read off an
// inbound stream, and whether the stream's I/O loop should expect a
// further message to follow it (spec §4.4's "Request/response inbound
// request/response" event pair, collapsed into a single per-message
// dispatch since this protocol threads ReqInv->Inv->GetData->Objects
// over one stream rather than separate request/response round trips).
// It touches repositories but never the network; callers own the
// actual reads/writes.
func (h *Handler) HandleIncoming(ctx context.Context, req *object.NetworkMessage) (reply *object.NetworkMessage, expectMore bool, err error) {
	switch req.Command {
	case object.CommandReqInv:
		return h.buildInv(ctx)
	case object.CommandInv:
		return h.buildGetDataForInv(ctx, req)
	case object.CommandGetData:
		return h.buildObjects(ctx, req)
	case object.CommandObjects:
		for _, obj := range req.Payload.Objects {
			if perr := h.ProcessObject(ctx, obj); perr != nil {
				h.log.Debug("process object", "hash", bmcrypto.EncodeBase58(obj.Hash), "error", perr)
			}
		}
		return nil, false, nil
	default:
		return nil, false, fmt.Errorf("unexpected command opening a stream: %s", req.Command)
	}
}

// buildInv answers a peer's ReqInv with our full inventory vector; a
// GetData is expected to follow on the same stream.
func (h *Handler) buildInv(ctx context.Context) (*object.NetworkMessage, bool, error) {
	hashesB58, err := h.inventory.Get(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("get inventory: %w", err)
	}

	hashes := make([][]byte, 0, len(hashesB58))
	for _, hb58 := range hashesB58 {
		raw, err := bmcrypto.DecodeBase58(hb58)
		if err != nil {
			continue
		}
		hashes = append(hashes, raw)
	}

	return object.NewInv(hashes), true, nil
}

func (h *Handler) buildObjects(ctx context.Context, req *object.NetworkMessage) (*object.NetworkMessage, bool, error) {
	objects := make([]*object.Object, 0, len(req.Payload.Hashes))
	for _, hash := range req.Payload.Hashes {
		obj, err := h.inventory.GetObject(ctx, bmcrypto.EncodeBase58(hash))
		if err != nil {
			h.log.Debug("get object", "error", err)
			continue
		}
		if obj != nil {
			objects = append(objects, obj)
		}
	}
	return object.NewObjects(objects), false, nil
}

// buildGetDataForInv answers a peer-initiated inventory push: compute
// what's missing locally and request it with a GetData, or reply with
// nothing (and expect nothing further) if we already have it all.
func (h *Handler) buildGetDataForInv(ctx context.Context, inv *object.NetworkMessage) (*object.NetworkMessage, bool, error) {
	peerHashes := make([]string, 0, len(inv.Payload.Hashes))
	byB58 := make(map[string][]byte, len(inv.Payload.Hashes))
	for _, hash := range inv.Payload.Hashes {
		hb58 := bmcrypto.EncodeBase58(hash)
		peerHashes = append(peerHashes, hb58)
		byB58[hb58] = hash
	}

	missing, err := h.inventory.GetMissingObjects(ctx, peerHashes)
	if err != nil {
		return nil, false, fmt.Errorf("get missing objects: %w", err)
	}
	if len(missing) == 0 {
		return nil, false, nil
	}

	wantHashes := make([][]byte, 0, len(missing))
	for _, hb58 := range missing {
		wantHashes = append(wantHashes, byB58[hb58])
	}

	return object.NewGetData(wantHashes), true, nil
}

// ProcessObject admits a received object into local inventory (after
// checking its proof of work and expiry) and, for the kinds that carry
// an actionable payload, attempts to act on it: answering a Getpubkey
// addressed to a local identity, filling in a contact's keys from a
// Pubkey reply, or decrypting and persisting a Msg (spec §4.3). An
// object already held with a completed nonce is ignored.
func (h *Handler) ProcessObject(ctx context.Context, obj *object.Object) error {
	if existing, err := h.inventory.GetObject(ctx, bmcrypto.EncodeBase58(obj.Hash)); err == nil && existing != nil {
		return nil
	}
	now := time.Now().Unix()
	if obj.IsExpired(now) {
		return nil
	}
	if err := pow.VerifyObject(obj, now); err != nil {
		return fmt.Errorf("insufficient proof of work: %w", err)
	}
	if err := h.inventory.StoreObject(ctx, obj); err != nil {
		return fmt.Errorf("store object: %w", err)
	}

	switch k := obj.Kind.(type) {
	case object.GetpubkeyKind:
		return h.handleGetpubkey(ctx, obj, k)
	case object.PubkeyKind:
		return h.handlePubkey(ctx, obj, k)
	case object.MsgKind:
		return h.handleMsg(ctx, obj, k)
	case object.BroadcastKind:
		// Unsupported kind (spec §1 Non-goals): relayed into inventory
		// above, never decoded or acted on further.
		return nil
	default:
		return nil
	}
}

func (h *Handler) handleGetpubkey(ctx context.Context, obj *object.Object, k object.GetpubkeyKind) error {
	tagStr := bmcrypto.EncodeBase58(k.Tag)

	identities, err := h.addresses.GetIdentities(ctx)
	if err != nil {
		return err
	}
	var identity *object.Address
	for _, id := range identities {
		if id.TagString() == tagStr {
			identity = id
			break
		}
	}
	if identity == nil {
		return nil
	}

	now := time.Now()
	should, err := h.throttle.ShouldSend(ctx, tagStr, now)
	if err != nil {
		return err
	}
	if !should {
		h.log.Debug("pubkey send throttled", "tag", tagStr)
		return nil
	}

	plaintext, err := cbor.Marshal(object.UnencryptedPubkey{
		SigningKey:    identity.PublicSigningKey.SerializeCompressed(),
		EncryptionKey: identity.PublicEncryptionKey.SerializeCompressed(),
	})
	if err != nil {
		return err
	}

	encrypted, err := bmcrypto.Encrypt(identity.PublicDecryptionKey.Public, plaintext)
	if err != nil {
		return err
	}

	const pubkeyTTL = 28 * 24 * time.Hour
	expires := time.Now().Add(pubkeyTTL).Unix()
	reply, err := object.BuildAndSign(identity.PrivateSigningKey, expires,
		object.PubkeyKind{Tag: k.Tag, Encrypted: encrypted},
		h.cfg.Crypto.NonceTrialsPerByte, h.cfg.Crypto.ExtraBytes)
	if err != nil {
		return err
	}

	h.powQueue.Enqueue(reply)
	return h.throttle.RecordSent(ctx, tagStr, now)
}

func (h *Handler) handlePubkey(ctx context.Context, obj *object.Object, k object.PubkeyKind) error {
	tagStr := bmcrypto.EncodeBase58(k.Tag)
	contact, err := h.addresses.GetByRipeOrTag(ctx, tagStr)
	if err != nil {
		return err
	}
	if contact == nil || contact.PublicDecryptionKey == nil {
		return nil
	}

	plaintext, err := bmcrypto.Decrypt(contact.PublicDecryptionKey.Private, k.Encrypted)
	if err != nil {
		h.log.Debug("pubkey decrypt failed", "tag", tagStr, "error", err)
		return nil
	}

	var unenc object.UnencryptedPubkey
	if err := cbor.Unmarshal(plaintext, &unenc); err != nil {
		return fmt.Errorf("decode unencrypted pubkey: %w", err)
	}

	signingPub, err := bmcrypto.ParsePublicKey(unenc.SigningKey)
	if err != nil {
		return fmt.Errorf("parse signing key: %w", err)
	}
	encPub, err := bmcrypto.ParsePublicKey(unenc.EncryptionKey)
	if err != nil {
		return fmt.Errorf("parse encryption key: %w", err)
	}

	if err := object.VerifySignature(obj, signingPub); err != nil {
		h.log.Debug("pubkey signature mismatch", "tag", tagStr, "error", err)
		return nil
	}

	ripe := bmcrypto.DeriveRipe(unenc.SigningKey, unenc.EncryptionKey)
	claimedTag, _ := bmcrypto.DeriveTagAndDecryptionKey(ripe)
	if bmcrypto.EncodeBase58(claimedTag) != tagStr {
		h.log.Debug("pubkey embedded keys do not hash to the requested tag", "tag", tagStr)
		return nil
	}

	if err := h.addresses.UpdatePublicKeys(ctx, contact.StringRepr, signingPub, encPub); err != nil {
		return err
	}

	// The recipient is now fully keyed. Hand the tag to the worker, the
	// sole owner of the tracked-tag set, so it can resume any message
	// left WaitingForPubkey for this recipient (spec §3 Ownership,
	// §4.4 "Pubkey notification (tag)").
	if h.pubkeyNotify != nil {
		select {
		case h.pubkeyNotify <- tagStr:
		default:
			h.log.Debug("pubkey notification channel full, dropping", "tag", tagStr)
		}
	}

	return nil
}

func (h *Handler) handleMsg(ctx context.Context, obj *object.Object, k object.MsgKind) error {
	identities, err := h.addresses.GetIdentities(ctx)
	if err != nil {
		return err
	}

	for _, identity := range identities {
		plaintext, err := bmcrypto.Decrypt(identity.PrivateEncryptionKey, k.Encrypted)
		if err != nil {
			continue
		}

		var unenc object.UnencryptedMsg
		if err := cbor.Unmarshal(plaintext, &unenc); err != nil {
			return fmt.Errorf("decode unencrypted msg: %w", err)
		}

		senderSigningPub, err := bmcrypto.ParsePublicKey(unenc.SenderSigningKey)
		if err != nil {
			return fmt.Errorf("parse sender signing key: %w", err)
		}

		if err := object.VerifySignature(obj, senderSigningPub); err != nil {
			h.log.Debug("msg signature mismatch", "error", err)
			return nil
		}

		senderEncPub, err := bmcrypto.ParsePublicKey(unenc.SenderEncryptionKey)
		if err != nil {
			return fmt.Errorf("parse sender encryption key: %w", err)
		}
		senderRipe := bmcrypto.DeriveRipe(unenc.SenderSigningKey, unenc.SenderEncryptionKey)
		senderAddr := bmcrypto.EncodeBase58(senderRipe)

		if err := h.rememberSender(ctx, senderRipe, senderSigningPub, senderEncPub); err != nil {
			h.log.Debug("remember sender contact", "error", err)
		}

		return h.messages.Save(ctx, &object.Message{
			Hash:      obj.Hash,
			Sender:    senderAddr,
			Recipient: identity.StringRepr,
			Subject:   unenc.Subject,
			Body:      unenc.Body,
			Status:    object.StatusReceived,
			Ack:       true,
		})
	}

	// No local identity could decrypt it; not addressed to us.
	return nil
}

func (h *Handler) rememberSender(ctx context.Context, ripe []byte, signing, encryption *secp256k1.PublicKey) error {
	skeleton := object.SkeletonFromRipe(ripe)
	if existing, err := h.addresses.GetByRipeOrTag(ctx, skeleton.StringRepr); err == nil && existing != nil {
		return h.addresses.UpdatePublicKeys(ctx, skeleton.StringRepr, signing, encryption)
	} else if err != nil {
		return err
	}
	skeleton.FillPublicKeys(signing, encryption)
	return h.addresses.Store(ctx, skeleton)
}

// ErrStreamClosed reports that a peer closed the stream before
// completing the expected request/response pair. No function in this
// package currently returns it.
var ErrStreamClosed = errors.New("node: stream closed before response")
