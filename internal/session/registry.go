package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/mmynk/splitchat/internal/history"
	"github.com/mmynk/splitchat/internal/ledger"
	"github.com/mmynk/splitchat/internal/storage"
)

// Registry owns the live bills, one per session.
type Registry struct {
	store      storage.Store
	ledgerOpts []ledger.Option
	deps       Deps

	mu    sync.Mutex
	bills map[string]*Bill
}

// NewRegistry creates a registry whose bills keep their history in store.
// Ledgers get UUID-based IDs so snapshot IDs stay unique across restarts;
// ledgerOpts are applied after that and may override it.
func NewRegistry(store storage.Store, deps Deps, ledgerOpts ...ledger.Option) *Registry {
	opts := append([]ledger.Option{ledger.WithIDGenerator(ledger.UUIDIDs{})}, ledgerOpts...)
	return &Registry{
		store:      store,
		ledgerOpts: opts,
		deps:       deps,
		bills:      make(map[string]*Bill),
	}
}

// Create starts a bill under a new session ID.
func (r *Registry) Create(ctx context.Context) (*Bill, error) {
	return r.Open(ctx, uuid.NewString())
}

// Open returns the live bill for id, starting a fresh one if none is
// running. Saved history survives restarts; the live bill does not.
func (r *Registry) Open(ctx context.Context, id string) (*Bill, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.bills[id]; ok {
		return b, nil
	}

	h, err := history.Load(ctx, r.store, id, r.deps.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open session %s: %w", id, err)
	}
	b := NewBill(id, ledger.New(r.ledgerOpts...), h, r.deps)
	r.bills[id] = b
	return b, nil
}

// Len returns the number of live bills.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bills)
}

// Wait blocks until every bill's in-flight scans have finished.
func (r *Registry) Wait() {
	r.mu.Lock()
	bills := make([]*Bill, 0, len(r.bills))
	for _, b := range r.bills {
		bills = append(bills, b)
	}
	r.mu.Unlock()

	for _, b := range bills {
		b.Wait()
	}
}
