// Package ledger maintains the client-authoritative view of an owner's care
// events: optimistic local writes with rollback on remote failure, and
// wholesale snapshot replacement when the realtime feed signals a change.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cradlelabs/cradle/backend/internal/events"
	"go.uber.org/zap"
)

var (
	// ErrWriteFailed indicates the remote store rejected a submission; the
	// snapshot has been rolled back to its pre-append state.
	ErrWriteFailed = errors.New("ledger: write failed")
	// ErrCorrelationInFlight indicates an append with the same correlation
	// token has not settled yet.
	ErrCorrelationInFlight = errors.New("ledger: correlation id already in flight")

	errMissingRemote  = errors.New("ledger: remote event store is required")
	errMissingOwnerID = errors.New("ledger: owner id is required")
)

// EventStore is the remote durable collaborator the ledger writes through.
type EventStore interface {
	Insert(ctx context.Context, draft events.Draft) (events.CareEvent, error)
	List(ctx context.Context, ownerID events.OwnerID) ([]events.CareEvent, error)
}

// StoreConfig describes the dependencies of a per-owner ledger store.
type StoreConfig struct {
	OwnerID events.OwnerID
	Remote  EventStore
	Logger  *zap.Logger
}

// Store caches one owner's care events. Every mutation produces a fresh
// snapshot slice; readers holding an earlier snapshot never observe a torn
// view.
type Store struct {
	ownerID events.OwnerID
	remote  EventStore
	logger  *zap.Logger

	mu         sync.Mutex
	snapshot   []events.CareEvent
	inFlight   map[events.CorrelationID]struct{}
	refetchGen uint64
	appliedGen uint64
	primed     bool
}

// NewStore constructs an empty ledger store for one owner.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.OwnerID == "" {
		return nil, errMissingOwnerID
	}
	if cfg.Remote == nil {
		return nil, errMissingRemote
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		ownerID:  cfg.OwnerID,
		remote:   cfg.Remote,
		logger:   logger,
		snapshot: []events.CareEvent{},
		inFlight: make(map[events.CorrelationID]struct{}),
	}, nil
}

// OwnerID returns the owner this store is scoped to.
func (s *Store) OwnerID() events.OwnerID {
	return s.ownerID
}

// Append validates the draft, makes it visible to snapshot readers
// immediately as a provisional entry, then submits it to the remote store.
// On confirmation the provisional entry is swapped for the confirmed one; on
// failure it is removed, restoring the pre-append snapshot, and the error is
// returned wrapped as ErrWriteFailed. Retrying a failed append with the same
// correlation token is safe.
func (s *Store) Append(ctx context.Context, draft events.Draft) (events.CareEvent, error) {
	if err := draft.Validate(); err != nil {
		return events.CareEvent{}, err
	}
	if draft.OwnerID != s.ownerID {
		return events.CareEvent{}, fmt.Errorf("%w: draft owner %s does not match ledger owner %s",
			events.ErrValidation, draft.OwnerID, s.ownerID)
	}

	provisional := draft.Provisional()
	if existing, err := s.admitProvisional(provisional); err != nil {
		return events.CareEvent{}, err
	} else if existing != nil {
		return *existing, nil
	}

	confirmed, err := s.remote.Insert(ctx, draft)
	if err != nil {
		s.rollback(draft.CorrelationID)
		s.logger.Warn("ledger append rolled back",
			zap.String("owner_id", s.ownerID.String()),
			zap.String("correlation_id", draft.CorrelationID.String()),
			zap.Error(err))
		return events.CareEvent{}, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	s.confirm(draft.CorrelationID, confirmed)
	return confirmed, nil
}

// admitProvisional inserts the provisional entry under the lock. It returns
// the already-confirmed event when the correlation token has settled before,
// and fails when the token is still in flight.
func (s *Store) admitProvisional(provisional events.CareEvent) (*events.CareEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, pending := s.inFlight[provisional.CorrelationID]; pending {
		return nil, fmt.Errorf("%w: %s", ErrCorrelationInFlight, provisional.CorrelationID)
	}
	for _, event := range s.snapshot {
		if event.CorrelationID == provisional.CorrelationID && event.Confirmed() {
			settled := event
			return &settled, nil
		}
	}

	s.inFlight[provisional.CorrelationID] = struct{}{}

	next := make([]events.CareEvent, len(s.snapshot), len(s.snapshot)+1)
	copy(next, s.snapshot)
	s.snapshot = append(next, provisional)
	return nil, nil
}

func (s *Store) rollback(correlationID events.CorrelationID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, correlationID)

	next := make([]events.CareEvent, 0, len(s.snapshot))
	for _, event := range s.snapshot {
		if event.CorrelationID == correlationID && !event.Confirmed() {
			continue
		}
		next = append(next, event)
	}
	s.snapshot = next
}

func (s *Store) confirm(correlationID events.CorrelationID, confirmed events.CareEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, correlationID)

	// An invalidate may have replaced the snapshot and dropped the
	// provisional entry while the write was in flight. The confirmed row is
	// already durable, so the next refetch restores it.
	next := make([]events.CareEvent, len(s.snapshot))
	copy(next, s.snapshot)
	for index, event := range next {
		if event.CorrelationID == correlationID && !event.Confirmed() {
			next[index] = confirmed
			break
		}
	}
	s.snapshot = next
}

// Snapshot returns the current cached view. The returned slice is immutable
// per version and may be stale until the next invalidation.
func (s *Store) Snapshot() []events.CareEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// Invalidate discards the cached snapshot and refetches from the remote
// store. When refetches overlap, only the newest result is applied; results
// arriving out of order are discarded.
func (s *Store) Invalidate(ctx context.Context) error {
	s.mu.Lock()
	s.refetchGen++
	generation := s.refetchGen
	s.mu.Unlock()

	listed, err := s.remote.List(ctx, s.ownerID)
	if err != nil {
		return fmt.Errorf("ledger: refetch for owner %s failed: %w", s.ownerID, err)
	}
	if listed == nil {
		listed = []events.CareEvent{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if generation <= s.appliedGen {
		return nil
	}
	s.appliedGen = generation
	s.snapshot = listed
	s.primed = true
	return nil
}

// Primed reports whether the store has completed at least one refetch. A
// fresh store starts empty; callers that need remote history refetch before
// reading.
func (s *Store) Primed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.primed
}

// LastSleepEnd extracts the end timestamp of the most recent sleep event from
// a snapshot. The second return value is false when the snapshot holds no
// sleep events.
func LastSleepEnd(snapshot []events.CareEvent) (lastWake time.Time, ok bool) {
	for _, event := range snapshot {
		if event.Type != events.EventTypeSleep {
			continue
		}
		if !ok || event.Timestamp.After(lastWake) {
			lastWake = event.Timestamp
			ok = true
		}
	}
	return lastWake, ok
}
