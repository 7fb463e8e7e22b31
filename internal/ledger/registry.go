package ledger

import (
	"errors"
	"sync"

	"github.com/cradlelabs/cradle/backend/internal/events"
	"go.uber.org/zap"
)

var errMissingRegistryRemote = errors.New("ledger: registry requires a remote event store")

// RegistryConfig describes the dependencies shared by every ledger store the
// registry hands out.
type RegistryConfig struct {
	Remote EventStore
	Logger *zap.Logger
}

// Registry hands out one shared ledger store per owner. Stores are created
// empty on first acquisition and torn down when the last consumer releases
// them, so no hidden global cache outlives its subscribers.
type Registry struct {
	remote EventStore
	logger *zap.Logger

	mu      sync.Mutex
	entries map[events.OwnerID]*registryEntry
}

type registryEntry struct {
	store *Store
	refs  int
}

// NewRegistry constructs the per-owner store registry.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Remote == nil {
		return nil, errMissingRegistryRemote
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		remote:  cfg.Remote,
		logger:  logger,
		entries: make(map[events.OwnerID]*registryEntry),
	}, nil
}

// Acquire returns the shared store for the owner and a release func. The
// release func is idempotent; the store is discarded once every consumer has
// released it.
func (r *Registry) Acquire(ownerID events.OwnerID) (*Store, func(), error) {
	if ownerID == "" {
		return nil, nil, errMissingOwnerID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[ownerID]
	if !ok {
		store, err := NewStore(StoreConfig{
			OwnerID: ownerID,
			Remote:  r.remote,
			Logger:  r.logger,
		})
		if err != nil {
			return nil, nil, err
		}
		entry = &registryEntry{store: store}
		r.entries[ownerID] = entry
	}
	entry.refs++

	var once sync.Once
	release := func() {
		once.Do(func() {
			r.release(ownerID)
		})
	}
	return entry.store, release, nil
}

func (r *Registry) release(ownerID events.OwnerID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[ownerID]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(r.entries, ownerID)
	}
}
