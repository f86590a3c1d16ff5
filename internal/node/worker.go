package node

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/multiformats/go-multiaddr"

	"github.com/klingon-exchange/shadowmail/internal/bmcrypto"
	"github.com/klingon-exchange/shadowmail/internal/object"
	"github.com/klingon-exchange/shadowmail/internal/pow"
	"github.com/klingon-exchange/shadowmail/pkg/logging"
)

// transportEvent is one arrival on the worker's transport-events
// source: an inbound stream message awaiting a reply, a decoded gossip
// announcement, objects pulled back by an active sync, a peer
// lifecycle notification, or a newly-bound listen address (spec §4.4).
type transportEvent struct {
	streamRequest    *streamRequestEvent
	gossipInv        *gossipInvEvent
	syncedObjects    []*object.Object
	peerDisconnected peer.ID
	listenReady      bool
	resyncTick       bool
	missingQuery     *missingQueryEvent
}

// missingQueryEvent lets a puller goroutine (syncWithPeerAsync) ask the
// single-threaded loop which of a peer's advertised hashes are missing
// locally, instead of reading the inventory repository from its own
// goroutine. reply is always sent to exactly once.
type missingQueryEvent struct {
	hashesB58 []string
	reply     chan []string
}

// streamRequestEvent carries one message read off an inbound stream
// together with the reply sink the owning stream goroutine is blocked
// on. The read/write syscalls stay on that per-stream goroutine; only
// the decision of what to reply runs on the worker loop, which is what
// lets every repository mutation stay single-threaded without
// single-threading the network I/O itself (spec §5).
type streamRequestEvent struct {
	req   *object.NetworkMessage
	reply chan streamReplyResult
}

type streamReplyResult struct {
	msg        *object.NetworkMessage
	expectMore bool
	err        error
}

// gossipInvEvent is a decoded Inv announcement received over the
// inventory gossip topic, naming the peer it came from.
type gossipInvEvent struct {
	from   peer.ID
	hashes [][]byte
}

// commandKind names one of the node worker's local commands (spec
// §4.4).
type commandKind int

const (
	cmdStartListening commandKind = iota
	cmdDial
	cmdGetListenerAddress
	cmdGetPeerID
	cmdBroadcastMsgByPubSub
	cmdNonceCalculated
	cmdGetOwnIdentities
	cmdGenerateIdentity
	cmdRenameIdentity
	cmdDeleteIdentity
	cmdGetMessages
	cmdSendMessage
)

// folder selects which side of the mailbox GetMessages returns (spec
// §4.4).
type folder string

const (
	FolderInbox folder = "inbox"
	FolderSent  folder = "sent"
)

type sendMessageArgs struct {
	identity  *object.Address
	recipient string
	subject   string
	body      []byte
}

type getMessagesArgs struct {
	address string
	folder  folder
}

type renameIdentityArgs struct {
	address string
	label   string
}

// command is a single local-command invocation: the Client facade (or,
// for NonceCalculated, the PoW queue's own completion callback) builds
// one, sends it on the worker's command channel, and blocks on reply
// (spec §4.5).
type command struct {
	kind commandKind
	args any

	reply chan commandResult
}

type commandResult struct {
	value any
	err   error
}

// Worker is the node's single-threaded actor: protocol handling, the
// send-state machine and PoW-completion bookkeeping all run on its one
// event loop, which selects over three channels — transport events,
// local commands, and pubkey notifications (spec §2, §5). The
// per-stream I/O, gossip decode and periodic resync goroutines only
// originate events and wait on a reply. Repository writes outside the
// loop come from the PoW queue's own goroutine, which stores objects
// and records nonces in the inventory and, when the queue starts, calls
// RebuildPendingObjects (which re-keys pending messages). Grounded on
// original_source/core/src/network/node/worker.rs's select-over-channels
// actor, and on the queue's own command-channel idiom
// (internal/pow/queue.go), generalised here to the node's own three
// sources instead of one.
type Worker struct {
	node      *Node
	cfg       *Config
	handler   *Handler
	addresses AddressStore
	inventory InventoryStore
	messages  MessageStore
	powQueue  *pow.Queue
	log       *logging.Logger

	events       chan transportEvent
	cmds         chan command
	pubkeyNotify chan string

	ctx    context.Context
	cancel context.CancelFunc

	// trackedTags is the set of recipient tags (base58) this worker is
	// watching for an incoming Pubkey, because at least one local
	// message is WaitingForPubkey for that recipient (spec §3
	// Ownership).
	trackedTags map[string]struct{}

	// listenerWaiters holds GetListenerAddress replies queued until the
	// first listen address becomes available.
	listenerWaiters []chan commandResult
}

// NewWorker builds a worker bound to the transport and repositories.
// pubkeyNotify is the channel Handler was built with; Worker owns its
// single receiving end (spec §9 "no back-pointer; no cycle").
func NewWorker(n *Node, cfg *Config, handler *Handler, addresses AddressStore, inventory InventoryStore, messages MessageStore, powQueue *pow.Queue, pubkeyNotify chan string, log *logging.Logger) *Worker {
	return &Worker{
		node:         n,
		cfg:          cfg,
		handler:      handler,
		addresses:    addresses,
		inventory:    inventory,
		messages:     messages,
		powQueue:     powQueue,
		log:          log.Component("worker"),
		events:       make(chan transportEvent, 64),
		cmds:         make(chan command, 16),
		pubkeyNotify: pubkeyNotify,
		trackedTags:  make(map[string]struct{}),
	}
}

// Commands returns the send side of the worker's command channel, the
// only handle Client needs.
func (w *Worker) Commands() chan<- command { return w.cmds }

// Start wires the transport-event feeders (stream handler, gossip
// subscription, periodic resync ticker) and launches the PoW queue and
// the worker's own event loop. It does not block.
func (w *Worker) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.node.SetStreamHandler(w.handleStream)

	sub, err := w.node.InventoryTopic().Subscribe()
	if err != nil {
		return err
	}

	w.powQueue.SetPendingSource(w)
	go func() {
		if err := w.powQueue.Run(w.ctx); err != nil && w.ctx.Err() == nil {
			w.log.Error("pow queue stopped", "error", err)
		}
	}()

	w.node.OnPeerDisconnected(func(p peer.ID) {
		select {
		case w.events <- transportEvent{peerDisconnected: p}:
		case <-w.ctx.Done():
		}
	})

	go w.gossipFeeder(sub)
	go w.resyncFeeder()

	select {
	case w.events <- transportEvent{listenReady: true}:
	case <-w.ctx.Done():
	}

	if err := w.scanPendingPubkeyMessages(w.ctx); err != nil {
		w.log.Error("scan pending pubkey messages at startup", "error", err)
	}

	go w.run()
	return nil
}

// Stop cancels the worker's context, unwinding every feeder and the
// event loop.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
}

// Run drives the event loop directly; exported so tests can exercise
// the command/event surface without a live libp2p transport (Start's
// transport-dependent feeders simply never fire when node is nil).
func (w *Worker) Run(ctx context.Context) {
	w.ctx = ctx
	w.run()
}

// run is the worker's single select loop, where every command,
// transport event and pubkey notification is handled (spec §5). It
// returns when ctx is cancelled or the command channel is closed.
func (w *Worker) run() {
	for {
		select {
		case <-w.ctx.Done():
			return
		case ev := <-w.events:
			w.handleEvent(w.ctx, ev)
		case cmd, ok := <-w.cmds:
			if !ok {
				return
			}
			w.handleCommand(w.ctx, cmd)
		case tag := <-w.pubkeyNotify:
			w.handlePubkeyResolved(w.ctx, tag)
		}
	}
}

func (w *Worker) handleEvent(ctx context.Context, ev transportEvent) {
	switch {
	case ev.streamRequest != nil:
		reply, expectMore, err := w.handler.HandleIncoming(ctx, ev.streamRequest.req)
		ev.streamRequest.reply <- streamReplyResult{msg: reply, expectMore: expectMore, err: err}
	case ev.gossipInv != nil:
		w.handleGossipInv(ctx, ev.gossipInv)
	case ev.syncedObjects != nil:
		for _, obj := range ev.syncedObjects {
			if err := w.handler.ProcessObject(ctx, obj); err != nil {
				w.log.Debug("process synced object", "hash", bmcrypto.EncodeBase58(obj.Hash), "error", err)
			}
		}
	case ev.peerDisconnected != "":
		w.handlePeerDisconnected(ev.peerDisconnected)
	case ev.listenReady:
		w.satisfyListenerWaiters()
	case ev.resyncTick:
		for _, p := range w.node.Peers() {
			w.syncWithPeerAsync(p)
		}
	case ev.missingQuery != nil:
		missing, err := w.inventory.GetMissingObjects(ctx, ev.missingQuery.hashesB58)
		if err != nil {
			w.log.Debug("get missing objects for sync", "error", err)
			missing = nil
		}
		ev.missingQuery.reply <- missing
	}
}

// handlePeerDisconnected notes a peer's last connection closing (spec
// §4.4). GossipSub and the DHT routing table drop the peer from their
// own bookkeeping as libp2p tears the connection down; this is where
// any worker-owned per-peer state would be cleaned up if it kept any.
func (w *Worker) handlePeerDisconnected(p peer.ID) {
	if w.node.Connectedness(p) == network.Connected {
		return
	}
	w.log.Debug("peer fully disconnected", "peer", shortID(p))
}

func (w *Worker) handleGossipInv(ctx context.Context, ev *gossipInvEvent) {
	hashesB58 := make([]string, 0, len(ev.hashes))
	for _, h := range ev.hashes {
		hashesB58 = append(hashesB58, bmcrypto.EncodeBase58(h))
	}
	missing, err := w.inventory.GetMissingObjects(ctx, hashesB58)
	if err != nil {
		w.log.Debug("get missing objects for gossip announcement", "error", err)
		return
	}
	if len(missing) == 0 {
		return
	}
	w.syncWithPeerAsync(ev.from)
}

func (w *Worker) satisfyListenerWaiters() {
	addrs := w.node.Addrs()
	if len(addrs) == 0 || len(w.listenerWaiters) == 0 {
		return
	}
	for _, waiter := range w.listenerWaiters {
		waiter <- commandResult{value: addrs[0]}
	}
	w.listenerWaiters = nil
}

// gossipFeeder decodes each message on the inventory topic (pure, no
// repository access) and posts it to the event channel; it never calls
// into the handler or repositories itself.
func (w *Worker) gossipFeeder(sub *pubsub.Subscription) {
	for {
		msg, err := sub.Next(w.ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == w.node.ID() {
			continue
		}
		var inv object.NetworkMessage
		if err := cbor.Unmarshal(msg.Data, &inv); err != nil {
			w.log.Debug("decode gossip message", "error", err)
			continue
		}
		if inv.Command != object.CommandInv || len(inv.Payload.Hashes) == 0 {
			continue
		}
		select {
		case w.events <- transportEvent{gossipInv: &gossipInvEvent{from: msg.ReceivedFrom, hashes: inv.Payload.Hashes}}:
		case <-w.ctx.Done():
			return
		}
	}
}

// resyncFeeder posts a resync-tick event on the configured interval; it
// does no repository work of its own.
func (w *Worker) resyncFeeder() {
	interval := w.cfg.Wire.InventorySyncInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			select {
			case w.events <- transportEvent{resyncTick: true}:
			case <-w.ctx.Done():
				return
			}
		}
	}
}

// handleStream is the per-stream I/O shim (run on libp2p's own
// per-stream goroutine): it reads a message, hands the decision of how
// to answer it to the worker loop via a one-shot reply channel, writes
// whatever reply comes back, and repeats while the loop says to expect
// more on the same stream. No repository is ever touched here.
func (w *Worker) handleStream(s network.Stream) {
	defer s.Close()

	for {
		req, err := ReadMessage(s, w.cfg.Wire.MaxFrameBytes)
		if err != nil {
			return
		}

		reply := make(chan streamReplyResult, 1)
		select {
		case w.events <- transportEvent{streamRequest: &streamRequestEvent{req: req, reply: reply}}:
		case <-w.ctx.Done():
			return
		}

		var res streamReplyResult
		select {
		case res = <-reply:
		case <-w.ctx.Done():
			return
		}
		if res.err != nil {
			w.log.Debug("handle incoming stream message", "error", res.err)
			return
		}
		if res.msg == nil {
			return
		}
		if err := WriteMessage(s, res.msg); err != nil {
			w.log.Debug("write reply", "error", err)
			return
		}
		if !res.expectMore {
			return
		}
	}
}

// syncWithPeerAsync runs the puller side of the stream protocol
// (ReqInv -> Inv -> GetData -> Objects) on its own goroutine, posting
// only the finished result ("here are the objects") back onto the
// worker's event channel. It never touches a repository itself: "what's
// missing" is answered by the single-threaded loop via missingQueryEvent.
func (w *Worker) syncWithPeerAsync(pid peer.ID) {
	go func() {
		ctx, cancel := context.WithTimeout(w.ctx, 30*time.Second)
		defer cancel()

		s, err := w.node.Host().NewStream(ctx, pid, protocol.ID(w.cfg.Wire.ProtocolID))
		if err != nil {
			w.log.Debug("open sync stream", "peer", shortID(pid), "error", err)
			return
		}
		defer s.Close()

		if err := WriteMessage(s, object.NewReqInv()); err != nil {
			w.log.Debug("write reqinv", "error", err)
			return
		}
		inv, err := ReadMessage(s, w.cfg.Wire.MaxFrameBytes)
		if err != nil || inv.Command != object.CommandInv {
			w.log.Debug("read inv", "error", err)
			return
		}

		byB58 := make(map[string][]byte, len(inv.Payload.Hashes))
		peerHashes := make([]string, 0, len(inv.Payload.Hashes))
		for _, hash := range inv.Payload.Hashes {
			hb58 := bmcrypto.EncodeBase58(hash)
			peerHashes = append(peerHashes, hb58)
			byB58[hb58] = hash
		}

		missingReply := make(chan []string, 1)
		select {
		case w.events <- transportEvent{missingQuery: &missingQueryEvent{hashesB58: peerHashes, reply: missingReply}}:
		case <-w.ctx.Done():
			return
		}
		var missing []string
		select {
		case missing = <-missingReply:
		case <-w.ctx.Done():
			return
		}
		if len(missing) == 0 {
			return
		}

		wantHashes := make([][]byte, 0, len(missing))
		for _, hb58 := range missing {
			wantHashes = append(wantHashes, byB58[hb58])
		}
		if err := WriteMessage(s, object.NewGetData(wantHashes)); err != nil {
			w.log.Debug("write getdata", "error", err)
			return
		}

		resp, err := ReadMessage(s, w.cfg.Wire.MaxFrameBytes)
		if err != nil || resp.Command != object.CommandObjects {
			w.log.Debug("read objects", "error", err)
			return
		}

		select {
		case w.events <- transportEvent{syncedObjects: resp.Payload.Objects}:
		case <-w.ctx.Done():
		}
	}()
}

// handlePubkeyResolved implements spec §4.4's "Pubkey notification
// (tag)" bullet: if the tag is tracked, resume every message
// WaitingForPubkey for the now fully-keyed recipient.
func (w *Worker) handlePubkeyResolved(ctx context.Context, tagStr string) {
	if _, tracked := w.trackedTags[tagStr]; !tracked {
		return
	}
	delete(w.trackedTags, tagStr)

	recipient, err := w.addresses.GetByRipeOrTag(ctx, tagStr)
	if err != nil || recipient == nil || !recipient.IsContact() {
		w.log.Debug("pubkey resolved but recipient not fully keyed", "tag", tagStr, "error", err)
		return
	}

	waiting, err := w.messages.GetMessagesByStatus(ctx, object.StatusWaitingForPubkey)
	if err != nil {
		w.log.Error("get waiting-for-pubkey messages", "error", err)
		return
	}
	for _, msg := range waiting {
		if msg.Recipient != recipient.StringRepr {
			continue
		}
		identity, err := w.findIdentity(ctx, msg.Sender)
		if err != nil || identity == nil {
			w.log.Debug("resume message: sender identity not found", "sender", msg.Sender, "error", err)
			continue
		}
		obj, err := w.buildMsgObject(identity, recipient, msg.Subject, msg.Body)
		if err != nil {
			w.log.Error("rebuild resumed message object", "error", err)
			continue
		}
		if err := w.messages.UpdateHash(ctx, msg.Hash, obj.Hash, msg.Recipient); err != nil {
			w.log.Error("update resumed message hash", "error", err)
			continue
		}
		if err := w.messages.UpdateStatus(ctx, obj.Hash, msg.Recipient, object.StatusWaitingForPOW); err != nil {
			w.log.Error("update resumed message status", "error", err)
			continue
		}
		w.powQueue.Enqueue(obj)
	}
}

// recipientForHash finds the recipient string_repr of the WaitingForPOW
// message matching hash, the lookup the (hash, recipient)-keyed message
// store needs before it can transition a just-sent Msg to Sent.
func (w *Worker) recipientForHash(ctx context.Context, hash []byte) (string, error) {
	waiting, err := w.messages.GetMessagesByStatus(ctx, object.StatusWaitingForPOW)
	if err != nil {
		return "", err
	}
	for _, msg := range waiting {
		if bmcrypto.EncodeBase58(msg.Hash) == bmcrypto.EncodeBase58(hash) {
			return msg.Recipient, nil
		}
	}
	return "", nil
}

func (w *Worker) findIdentity(ctx context.Context, stringRepr string) (*object.Address, error) {
	identities, err := w.addresses.GetIdentities(ctx)
	if err != nil {
		return nil, err
	}
	for _, id := range identities {
		if id.StringRepr == stringRepr {
			return id, nil
		}
	}
	return nil, nil
}

// buildMsgObject encrypts and signs subject/body from identity to
// recipient, producing the Msg object the PoW queue will search a
// nonce for. Shared by the happy-path send pipeline, the
// pubkey-resumption path, and the PoW queue's WaitingForPOW backlog
// rebuild (spec §4.2, §4.4).
func (w *Worker) buildMsgObject(identity, recipient *object.Address, subject string, body []byte) (*object.Object, error) {
	plaintext, err := cbor.Marshal(object.UnencryptedMsg{
		SenderSigningKey:    identity.PublicSigningKey.SerializeCompressed(),
		SenderEncryptionKey: identity.PublicEncryptionKey.SerializeCompressed(),
		Subject:             subject,
		Body:                body,
	})
	if err != nil {
		return nil, err
	}

	encrypted, err := bmcrypto.Encrypt(recipient.PublicEncryptionKey, plaintext)
	if err != nil {
		return nil, err
	}

	expires := time.Now().Add(w.cfg.Crypto.MessageTTL).Unix()
	return object.BuildAndSign(identity.PrivateSigningKey, expires,
		object.MsgKind{Encrypted: encrypted}, w.cfg.Crypto.NonceTrialsPerByte, w.cfg.Crypto.ExtraBytes)
}

// RebuildPendingObjects reconstructs every message left WaitingForPOW
// across a restart into the object it would have been built as,
// rekeying the message to the freshly rebuilt hash (spec §4.2's second
// PoW backlog source).
func (w *Worker) RebuildPendingObjects(ctx context.Context) ([]*object.Object, error) {
	pending, err := w.messages.GetMessagesByStatus(ctx, object.StatusWaitingForPOW)
	if err != nil {
		return nil, err
	}

	objs := make([]*object.Object, 0, len(pending))
	for _, msg := range pending {
		identity, err := w.findIdentity(ctx, msg.Sender)
		if err != nil || identity == nil {
			w.log.Error("rebuild pending message: sender identity not found", "sender", msg.Sender, "error", err)
			continue
		}
		recipient, err := w.addresses.GetByRipeOrTag(ctx, msg.Recipient)
		if err != nil || recipient == nil {
			w.log.Error("rebuild pending message: recipient not found", "recipient", msg.Recipient, "error", err)
			continue
		}
		obj, err := w.buildMsgObject(identity, recipient, msg.Subject, msg.Body)
		if err != nil {
			w.log.Error("rebuild pending message object", "error", err)
			continue
		}
		if err := w.messages.UpdateHash(ctx, msg.Hash, obj.Hash, msg.Recipient); err != nil {
			w.log.Error("update rebuilt message hash", "error", err)
			continue
		}
		objs = append(objs, obj)
	}
	return objs, nil
}

// scanPendingPubkeyMessages seeds trackedTags at startup from any
// message already WaitingForPubkey, picking up where a prior run left
// off (spec §3 Ownership). Messages whose recipient's keys are already
// known are resumed right away through handlePubkeyResolved.
func (w *Worker) scanPendingPubkeyMessages(ctx context.Context) error {
	waiting, err := w.messages.GetMessagesByStatus(ctx, object.StatusWaitingForPubkey)
	if err != nil {
		return err
	}
	var resolved []string
	for _, msg := range waiting {
		recipient, err := w.addresses.GetByRipeOrTag(ctx, msg.Recipient)
		if err != nil {
			continue
		}
		if recipient != nil && recipient.Tag != nil {
			tag := bmcrypto.EncodeBase58(recipient.Tag)
			w.trackedTags[tag] = struct{}{}
			if recipient.IsContact() {
				resolved = append(resolved, tag)
			}
		}
	}
	for _, tag := range resolved {
		w.handlePubkeyResolved(ctx, tag)
	}
	return nil
}

// OnNonceCalculated is the PoW queue's completion callback. It must
// never touch a repository itself — it only forwards the finished
// object onto the command channel, so the resulting state mutation
// (marking a message Sent, then republishing Inv) is serialised through
// the worker loop like every other command (spec §2).
func (w *Worker) OnNonceCalculated(obj *object.Object) {
	select {
	case w.cmds <- command{kind: cmdNonceCalculated, args: obj}:
	case <-w.ctx.Done():
	}
}

func (w *Worker) handleCommand(ctx context.Context, cmd command) {
	switch cmd.kind {
	case cmdStartListening:
		w.doStartListening(cmd)
	case cmdDial:
		w.doDial(ctx, cmd)
	case cmdGetListenerAddress:
		w.doGetListenerAddress(cmd)
	case cmdGetPeerID:
		cmd.reply <- commandResult{value: w.node.ID()}
	case cmdBroadcastMsgByPubSub:
		w.doBroadcastMsgByPubSub(ctx, cmd)
	case cmdNonceCalculated:
		w.doNonceCalculated(ctx, cmd)
	case cmdGetOwnIdentities:
		w.doGetOwnIdentities(ctx, cmd)
	case cmdGenerateIdentity:
		w.doGenerateIdentity(ctx, cmd)
	case cmdRenameIdentity:
		w.doRenameIdentity(ctx, cmd)
	case cmdDeleteIdentity:
		w.doDeleteIdentity(ctx, cmd)
	case cmdGetMessages:
		w.doGetMessages(ctx, cmd)
	case cmdSendMessage:
		w.doSendMessage(ctx, cmd)
	}
}

func (w *Worker) doStartListening(cmd command) {
	addrStr := cmd.args.(string)
	ma, err := multiaddr.NewMultiaddr(addrStr)
	if err != nil {
		cmd.reply <- commandResult{err: fmt.Errorf("invalid listen address: %w", err)}
		return
	}
	if err := w.node.Listen(ma); err != nil {
		cmd.reply <- commandResult{err: err}
		return
	}
	w.satisfyListenerWaiters()
	cmd.reply <- commandResult{}
}

func (w *Worker) doDial(ctx context.Context, cmd command) {
	// Reserved (spec §4.4): accept the target and attempt the connect,
	// nothing more.
	addrStr := cmd.args.(string)
	cmd.reply <- commandResult{err: w.node.ConnectByAddr(ctx, addrStr)}
}

func (w *Worker) doGetListenerAddress(cmd command) {
	addrs := w.node.Addrs()
	if len(addrs) > 0 {
		cmd.reply <- commandResult{value: addrs[0]}
		return
	}
	w.listenerWaiters = append(w.listenerWaiters, cmd.reply)
}

func (w *Worker) doBroadcastMsgByPubSub(ctx context.Context, cmd command) {
	msg := cmd.args.(*object.NetworkMessage)
	data, err := cbor.Marshal(msg)
	if err != nil {
		cmd.reply <- commandResult{err: err}
		return
	}
	if err := w.node.InventoryTopic().Publish(ctx, data); err != nil {
		cmd.reply <- commandResult{err: err}
		return
	}
	cmd.reply <- commandResult{}
}

// doNonceCalculated implements spec §4.4's NonceCalculated row: for Msg
// objects, mark the message Sent before republishing the node's full
// inventory vector on the gossip topic. There is no reply — this
// command is internally generated by the PoW queue, not the Client
// facade, so its reply channel is nil.
func (w *Worker) doNonceCalculated(ctx context.Context, cmd command) {
	obj := cmd.args.(*object.Object)

	if _, ok := obj.Kind.(object.MsgKind); ok {
		if recipient, err := w.recipientForHash(ctx, obj.Hash); err != nil {
			w.log.Debug("find message to mark sent", "error", err)
		} else if recipient != "" {
			if err := w.messages.UpdateStatus(ctx, obj.Hash, recipient, object.StatusSent); err != nil {
				w.log.Debug("mark message sent", "error", err)
			}
		}
	}

	if w.node == nil {
		// No live transport (e.g. a worker exercised against its
		// repositories only, without Start); nothing to republish to.
		return
	}

	hashesB58, err := w.inventory.Get(ctx)
	if err != nil {
		w.log.Error("get inventory for republish", "error", err)
		return
	}
	hashes := make([][]byte, 0, len(hashesB58))
	for _, hb58 := range hashesB58 {
		raw, err := bmcrypto.DecodeBase58(hb58)
		if err != nil {
			continue
		}
		hashes = append(hashes, raw)
	}

	data, err := cbor.Marshal(object.NewInv(hashes))
	if err != nil {
		w.log.Error("encode inv announcement", "error", err)
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := w.node.InventoryTopic().Publish(pubCtx, data); err != nil {
		w.log.Debug("publish inv announcement", "error", err)
	}
}

func (w *Worker) doGetOwnIdentities(ctx context.Context, cmd command) {
	identities, err := w.addresses.GetIdentities(ctx)
	cmd.reply <- commandResult{value: identities, err: err}
}

func (w *Worker) doGenerateIdentity(ctx context.Context, cmd command) {
	label := cmd.args.(string)
	identity, err := object.NewIdentity(label)
	if err != nil {
		cmd.reply <- commandResult{err: err}
		return
	}
	if err := w.addresses.Store(ctx, identity); err != nil {
		cmd.reply <- commandResult{err: err}
		return
	}
	cmd.reply <- commandResult{value: identity.StringRepr}
}

func (w *Worker) doRenameIdentity(ctx context.Context, cmd command) {
	args := cmd.args.(renameIdentityArgs)
	cmd.reply <- commandResult{err: w.addresses.UpdateLabel(ctx, args.address, args.label)}
}

func (w *Worker) doDeleteIdentity(ctx context.Context, cmd command) {
	addr := cmd.args.(string)
	cmd.reply <- commandResult{err: w.addresses.DeleteAddress(ctx, addr)}
}

func (w *Worker) doGetMessages(ctx context.Context, cmd command) {
	args := cmd.args.(getMessagesArgs)
	var msgs []*object.Message
	var err error
	switch args.folder {
	case FolderInbox:
		msgs, err = w.messages.GetMessagesByRecipient(ctx, args.address)
	case FolderSent:
		msgs, err = w.messages.GetMessagesBySender(ctx, args.address)
	default:
		err = fmt.Errorf("unknown folder %q", args.folder)
	}
	cmd.reply <- commandResult{value: msgs, err: err}
}

// doSendMessage is the SendMessage local command's full pipeline (spec
// §4.4): resolve the recipient, and either request their pubkey and
// record the message as waiting, or build, sign, and enqueue the Msg
// object directly.
func (w *Worker) doSendMessage(ctx context.Context, cmd command) {
	args := cmd.args.(sendMessageArgs)

	recipient, err := w.addresses.GetByRipeOrTag(ctx, args.recipient)
	if err != nil {
		cmd.reply <- commandResult{err: fmt.Errorf("look up recipient: %w", err)}
		return
	}
	if recipient == nil {
		skeleton, err := object.NewSkeleton(args.recipient)
		if err != nil {
			cmd.reply <- commandResult{err: fmt.Errorf("parse recipient address: %w", err)}
			return
		}
		if err := w.addresses.Store(ctx, skeleton); err != nil {
			cmd.reply <- commandResult{err: fmt.Errorf("store recipient skeleton: %w", err)}
			return
		}
		recipient = skeleton
	}

	if !recipient.IsContact() {
		const alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
		placeholderHash := make([]byte, 16)
		if _, err := rand.Read(placeholderHash); err != nil {
			cmd.reply <- commandResult{err: fmt.Errorf("generate placeholder hash: %w", err)}
			return
		}
		for i, b := range placeholderHash {
			placeholderHash[i] = alphanumeric[int(b)%len(alphanumeric)]
		}
		if err := w.requestPubkey(ctx, recipient); err != nil {
			cmd.reply <- commandResult{err: fmt.Errorf("request pubkey: %w", err)}
			return
		}
		w.trackedTags[bmcrypto.EncodeBase58(recipient.Tag)] = struct{}{}

		msg := &object.Message{
			Hash:      placeholderHash,
			Sender:    args.identity.StringRepr,
			Recipient: args.recipient,
			Subject:   args.subject,
			Body:      args.body,
			Status:    object.StatusWaitingForPubkey,
		}
		if err := w.messages.Save(ctx, msg); err != nil {
			cmd.reply <- commandResult{err: fmt.Errorf("save pending message: %w", err)}
			return
		}
		cmd.reply <- commandResult{value: msg}
		return
	}

	obj, err := w.buildMsgObject(args.identity, recipient, args.subject, args.body)
	if err != nil {
		cmd.reply <- commandResult{err: err}
		return
	}
	w.powQueue.Enqueue(obj)

	msg := &object.Message{
		Hash:      obj.Hash,
		Sender:    args.identity.StringRepr,
		Recipient: recipient.StringRepr,
		Subject:   args.subject,
		Body:      args.body,
		Status:    object.StatusWaitingForPOW,
	}
	if err := w.messages.Save(ctx, msg); err != nil {
		cmd.reply <- commandResult{err: fmt.Errorf("save message: %w", err)}
		return
	}
	cmd.reply <- commandResult{value: msg}
}

func (w *Worker) requestPubkey(ctx context.Context, recipient *object.Address) error {
	// Getpubkey carries no sender identity, so it is never signed (spec
	// §4.3): built directly rather than through BuildAndSign.
	expires := time.Now().Add(w.cfg.Crypto.MessageTTL).Unix()
	obj, err := object.NewObject(expires, nil, object.GetpubkeyKind{Tag: recipient.Tag}, w.cfg.Crypto.NonceTrialsPerByte, w.cfg.Crypto.ExtraBytes)
	if err != nil {
		return err
	}
	w.powQueue.Enqueue(obj)
	return nil
}
