package storage

import (
	"context"
	"sync"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/klingon-exchange/shadowmail/internal/bmcrypto"
	"github.com/klingon-exchange/shadowmail/internal/object"
)

// This file holds plain-map, mutex-guarded repository implementations
// with the same method sets as their SQLite counterparts, for fast unit
// tests that shouldn't pay for a real database. There is no reference
// precedent for an in-memory variant (the original only ever runs
// against SQLite); the shape here is simply the most direct Go
// expression of "same interface, map instead of table".

// MemoryAddressRepository is an in-memory AddressRepository.
type MemoryAddressRepository struct {
	mu   sync.RWMutex
	byID map[string]*object.Address // keyed by string_repr
}

func NewMemoryAddressRepository() *MemoryAddressRepository {
	return &MemoryAddressRepository{byID: make(map[string]*object.Address)}
}

func (r *MemoryAddressRepository) Store(_ context.Context, a *object.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[a.StringRepr] = a
	return nil
}

func (r *MemoryAddressRepository) DeleteAddress(_ context.Context, address string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, address)
	return nil
}

func (r *MemoryAddressRepository) GetByRipeOrTag(_ context.Context, hash string) (*object.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if a, ok := r.byID[hash]; ok {
		return a, nil
	}
	for _, a := range r.byID {
		if a.TagString() == hash {
			return a, nil
		}
	}
	return nil, nil
}

func (r *MemoryAddressRepository) GetContacts(_ context.Context) ([]*object.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*object.Address
	for _, a := range r.byID {
		if a.IsContact() {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *MemoryAddressRepository) GetIdentities(_ context.Context) ([]*object.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*object.Address
	for _, a := range r.byID {
		if a.IsIdentity() {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *MemoryAddressRepository) UpdatePublicKeys(_ context.Context, hash string, signing, encryption *secp256k1.PublicKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.byID {
		if a.StringRepr == hash || a.TagString() == hash {
			a.FillPublicKeys(signing, encryption)
			return nil
		}
	}
	return nil
}

func (r *MemoryAddressRepository) UpdateLabel(_ context.Context, address, label string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.byID[address]; ok {
		a.Label = label
	}
	return nil
}

// MemoryInventoryRepository is an in-memory InventoryRepository,
// satisfying pow.InventoryStore.
type MemoryInventoryRepository struct {
	mu      sync.RWMutex
	objects map[string]*object.Object // keyed by base58 hash
}

func NewMemoryInventoryRepository() *MemoryInventoryRepository {
	return &MemoryInventoryRepository{objects: make(map[string]*object.Object)}
}

func (r *MemoryInventoryRepository) Get(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := time.Now().Unix()
	var out []string
	for h, o := range r.objects {
		if o.HasNonce() && o.Expires > now {
			out = append(out, h)
		}
	}
	return out, nil
}

func (r *MemoryInventoryRepository) GetObject(_ context.Context, hash string) (*object.Object, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if o := r.objects[hash]; o != nil && o.HasNonce() {
		return o, nil
	}
	return nil, nil
}

func (r *MemoryInventoryRepository) GetMissingObjects(_ context.Context, hashes []string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var missing []string
	for _, h := range hashes {
		if _, ok := r.objects[h]; !ok {
			missing = append(missing, h)
		}
	}
	return missing, nil
}

func (r *MemoryInventoryRepository) StoreObject(_ context.Context, o *object.Object) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.objects[bmcrypto.EncodeBase58(o.Hash)] = o
	return nil
}

func (r *MemoryInventoryRepository) GetMissingPoWObjects(_ context.Context) ([]*object.Object, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*object.Object
	for _, o := range r.objects {
		if !o.HasNonce() {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r *MemoryInventoryRepository) UpdateNonce(_ context.Context, hash, nonce []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.objects[bmcrypto.EncodeBase58(hash)]; ok {
		o.Nonce = nonce
	}
	return nil
}

func (r *MemoryInventoryRepository) Cleanup(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().Unix()
	removed := 0
	for h, o := range r.objects {
		if o.Expires <= now {
			delete(r.objects, h)
			removed++
		}
	}
	return removed, nil
}

// MemoryMessageRepository is an in-memory MessageRepository.
type MemoryMessageRepository struct {
	mu       sync.RWMutex
	messages map[[2]string]*object.Message // keyed by (base58 hash, recipient)
}

func NewMemoryMessageRepository() *MemoryMessageRepository {
	return &MemoryMessageRepository{messages: make(map[[2]string]*object.Message)}
}

func (r *MemoryMessageRepository) Save(_ context.Context, m *object.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages[[2]string{bmcrypto.EncodeBase58(m.Hash), m.Recipient}] = m
	return nil
}

func (r *MemoryMessageRepository) GetMessages(_ context.Context) ([]*object.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*object.Message, 0, len(r.messages))
	for _, m := range r.messages {
		out = append(out, m)
	}
	return out, nil
}

func (r *MemoryMessageRepository) GetMessagesByRecipient(_ context.Context, recipient string) ([]*object.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*object.Message
	for _, m := range r.messages {
		if m.Recipient == recipient {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *MemoryMessageRepository) GetMessagesBySender(_ context.Context, sender string) ([]*object.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*object.Message
	for _, m := range r.messages {
		if m.Sender == sender {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *MemoryMessageRepository) GetMessagesByStatus(_ context.Context, status object.MessageStatus) ([]*object.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*object.Message
	for _, m := range r.messages {
		if m.Status == status {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *MemoryMessageRepository) UpdateStatus(_ context.Context, hash []byte, recipient string, status object.MessageStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.messages[[2]string{bmcrypto.EncodeBase58(hash), recipient}]; ok {
		m.Status = status
	}
	return nil
}

func (r *MemoryMessageRepository) UpdateHash(_ context.Context, oldHash, newHash []byte, recipient string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := [2]string{bmcrypto.EncodeBase58(oldHash), recipient}
	if m, ok := r.messages[key]; ok {
		delete(r.messages, key)
		m.Hash = newHash
		r.messages[[2]string{bmcrypto.EncodeBase58(newHash), recipient}] = m
	}
	return nil
}

func (r *MemoryMessageRepository) RemoveMessage(_ context.Context, hash []byte, recipient string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.messages, [2]string{bmcrypto.EncodeBase58(hash), recipient})
	return nil
}

// MemoryPubkeySendThrottle is an in-memory PubkeySendThrottle.
type MemoryPubkeySendThrottle struct {
	mu       sync.Mutex
	lastSent map[string]time.Time
}

func NewMemoryPubkeySendThrottle() *MemoryPubkeySendThrottle {
	return &MemoryPubkeySendThrottle{lastSent: make(map[string]time.Time)}
}

func (t *MemoryPubkeySendThrottle) ShouldSend(_ context.Context, tag string, now time.Time) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	last, ok := t.lastSent[tag]
	if !ok {
		return true, nil
	}
	return now.Sub(last) >= ThrottleWindow, nil
}

func (t *MemoryPubkeySendThrottle) RecordSent(_ context.Context, tag string, now time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSent[tag] = now
	return nil
}
