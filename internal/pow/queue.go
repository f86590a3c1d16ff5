package pow

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/klingon-exchange/shadowmail/internal/bmcrypto"
	"github.com/klingon-exchange/shadowmail/internal/object"
	"github.com/klingon-exchange/shadowmail/pkg/logging"
)

// InventoryStore is the narrow slice of the inventory repository the
// queue needs: persisting a freshly-built object, recording its nonce
// once found, and recovering any objects left without a nonce across a
// restart.
type InventoryStore interface {
	StoreObject(ctx context.Context, obj *object.Object) error
	UpdateNonce(ctx context.Context, hash, nonce []byte) error
	GetMissingPoWObjects(ctx context.Context) ([]*object.Object, error)
}

// NonceCalculatedFunc is invoked once per completed job, after the nonce
// has been persisted, so the node worker can gossip the finished object.
type NonceCalculatedFunc func(obj *object.Object)

// PendingMessageSource is the second backlog source a queue repopulates
// from on startup: messages left in WaitingForPOW status across a
// restart, each reconstructed into the object it was built from (spec
// §4.2). Implemented by the node worker, which alone holds the
// identities/recipients/message bodies needed to rebuild the object.
type PendingMessageSource interface {
	RebuildPendingObjects(ctx context.Context) ([]*object.Object, error)
}

type queueCommand struct {
	enqueue         *object.Object
	nonceCalculated *object.Object
}

// job pairs an object with the identifier this queue assigned it, used
// to correlate a search's start/finish log lines and to make Enqueue
// idempotent against a caller retrying the same object.
type job struct {
	obj *object.Object
	id  string
}

// Queue is a single-writer PoW job queue: at most one nonce search runs
// at a time, with additional jobs held in a FIFO backlog, mirroring the
// reference implementation's worker (SPEC_FULL §4.2/§9).
type Queue struct {
	inventory InventoryStore
	onNonce   NonceCalculatedFunc
	log       *logging.Logger

	cmds    chan queueCommand
	pending []job
	running bool

	// jobIDs tracks which object hashes already have a job in flight
	// (running or pending), keyed by base58 hash, so that enqueueing the
	// same object twice — e.g. a retried SendMessage — is a no-op rather
	// than starting a redundant search.
	jobIDs map[string]string

	pendingMessages PendingMessageSource
}

// NewQueue builds a queue bound to its inventory store and notification
// callback. Callers must call Run to start processing.
func NewQueue(inv InventoryStore, onNonce NonceCalculatedFunc, log *logging.Logger) *Queue {
	return &Queue{
		inventory: inv,
		onNonce:   onNonce,
		log:       log.Component("pow"),
		cmds:      make(chan queueCommand, 8),
		jobIDs:    make(map[string]string),
	}
}

// Enqueue submits an object for PoW. Safe to call concurrently; actual
// enqueueing happens on the queue's own goroutine via Run.
func (q *Queue) Enqueue(obj *object.Object) {
	q.cmds <- queueCommand{enqueue: obj}
}

// SetPendingSource wires the second startup backlog source (messages
// left WaitingForPOW across a restart). Must be called before Run.
func (q *Queue) SetPendingSource(src PendingMessageSource) {
	q.pendingMessages = src
}

// Run repopulates the backlog from storage (objects saved without a
// nonce across a prior restart, plus — when a PendingMessageSource has
// been wired — messages left WaitingForPOW) and then drives the queue
// until ctx is cancelled. It owns all mutable queue state; callers must
// not touch Queue fields directly.
func (q *Queue) Run(ctx context.Context) error {
	backlog, err := q.inventory.GetMissingPoWObjects(ctx)
	if err != nil {
		return err
	}
	for _, obj := range backlog {
		q.startOrQueue(ctx, q.track(obj))
	}

	if q.pendingMessages != nil {
		rebuilt, err := q.pendingMessages.RebuildPendingObjects(ctx)
		if err != nil {
			q.log.Error("rebuild pending messages", "error", err)
		}
		for _, obj := range rebuilt {
			if err := q.inventory.StoreObject(ctx, obj); err != nil {
				q.log.Error("store rebuilt pending object", "error", err)
				continue
			}
			q.startOrQueue(ctx, q.track(obj))
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-q.cmds:
			switch {
			case cmd.enqueue != nil:
				hashKey := bmcrypto.EncodeBase58(cmd.enqueue.Hash)
				if existingID, inFlight := q.jobIDs[hashKey]; inFlight {
					q.log.Debug("duplicate enqueue ignored, job already in flight", "hash", hashKey, "job", existingID)
					continue
				}
				if err := q.inventory.StoreObject(ctx, cmd.enqueue); err != nil {
					q.log.Error("store object before pow", "error", err)
					continue
				}
				q.startOrQueue(ctx, q.track(cmd.enqueue))
			case cmd.nonceCalculated != nil:
				obj := cmd.nonceCalculated
				if err := q.inventory.UpdateNonce(ctx, obj.Hash, obj.Nonce); err != nil {
					q.log.Error("update nonce", "error", err)
				}
				delete(q.jobIDs, bmcrypto.EncodeBase58(obj.Hash))
				if q.onNonce != nil {
					q.onNonce(obj)
				}
				q.running = false
				if next, ok := q.popPending(); ok {
					q.startOrQueue(ctx, next)
				}
			}
		}
	}
}

// track assigns a fresh job identifier to obj (idempotency key for
// Enqueue, correlation id for start/finish log lines) and records it
// under the object's hash.
func (q *Queue) track(obj *object.Object) job {
	id := uuid.NewString()
	q.jobIDs[bmcrypto.EncodeBase58(obj.Hash)] = id
	return job{obj: obj, id: id}
}

func (q *Queue) startOrQueue(ctx context.Context, j job) {
	if q.running {
		q.pending = append(q.pending, j)
		return
	}
	q.running = true
	go q.runJob(ctx, j)
}

func (q *Queue) popPending() (job, bool) {
	if len(q.pending) == 0 {
		return job{}, false
	}
	next := q.pending[0]
	q.pending = q.pending[1:]
	return next, true
}

func (q *Queue) runJob(ctx context.Context, j job) {
	obj := j.obj
	now := time.Now().Unix()
	target, err := ComputeTarget(obj, now)
	if err != nil {
		q.log.Error("compute target", "error", err, "job", j.id)
		return
	}

	q.log.Debug("pow started", "hash", obj.Hash, "job", j.id)
	result, err := Search(ctx, target, obj.Hash)
	if err != nil {
		// context cancelled (shutdown); the object stays nonce-less in
		// storage and is picked up again on the next Run's backlog scan.
		return
	}
	q.log.Debug("pow finished", "hash", obj.Hash, "nonce", result.Nonce, "job", j.id)

	obj.Nonce = nonceBytes(result.Nonce)
	select {
	case q.cmds <- queueCommand{nonceCalculated: obj}:
	case <-ctx.Done():
	}
}
