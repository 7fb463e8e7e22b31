// Package realtime fans out care-event change notifications to subscribed
// sessions and bridges them into ledger invalidation.
package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/cradlelabs/cradle/backend/internal/events"
)

const (
	// ChangeKindInsert marks a notice caused by a new care event.
	ChangeKindInsert = "insert"
	// ChangeKindDelete marks a notice caused by a removed care event.
	ChangeKindDelete = "delete"
)

// ChangeNotice tells subscribers that the owner's remote event collection
// changed, regardless of which device caused it. The payload is advisory;
// consumers refetch rather than patch.
type ChangeNotice struct {
	OwnerID        events.OwnerID
	Kind           string
	CorrelationIDs []string
	Timestamp      time.Time
}

// Dispatcher is the in-process change feed: per-owner subscriber sets with
// buffered, non-blocking fan-out. Slow subscribers miss notices rather than
// blocking publishers; a missed notice is recovered by the next invalidation.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[events.OwnerID]map[int64]*subscriber
	nextID      int64
	bufferSize  int
}

type subscriber struct {
	id     int64
	stream chan ChangeNotice
}

// NewDispatcher constructs an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[events.OwnerID]map[int64]*subscriber),
		bufferSize:  16,
	}
}

// Subscribe opens a change stream scoped to one owner. The stream is closed
// and unregistered when the context is cancelled or the cleanup func runs.
func (d *Dispatcher) Subscribe(ctx context.Context, ownerID events.OwnerID) (<-chan ChangeNotice, func()) {
	if ownerID == "" {
		ch := make(chan ChangeNotice)
		close(ch)
		return ch, func() {}
	}
	sub := &subscriber{
		id:     d.nextSequence(),
		stream: make(chan ChangeNotice, d.bufferSize),
	}
	d.register(ownerID, sub)
	// The stream is left open after cleanup: Publish may still hold a
	// reference copied under the read lock, and sending to a closed channel
	// would panic. Unregistered streams simply stop receiving.
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregister(ownerID, sub.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return sub.stream, cleanup
}

// Publish delivers the notice to every current subscriber of the owner
// without blocking.
func (d *Dispatcher) Publish(notice ChangeNotice) {
	if notice.OwnerID == "" || notice.Kind == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[notice.OwnerID]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*subscriber, 0, len(subscribers))
	for _, sub := range subscribers {
		copies = append(copies, sub)
	}
	d.mu.RUnlock()
	for _, sub := range copies {
		select {
		case sub.stream <- notice:
		default:
		}
	}
}

func (d *Dispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *Dispatcher) register(ownerID events.OwnerID, sub *subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[ownerID]; !ok {
		d.subscribers[ownerID] = make(map[int64]*subscriber)
	}
	d.subscribers[ownerID][sub.id] = sub
}

func (d *Dispatcher) unregister(ownerID events.OwnerID, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[ownerID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, ownerID)
		}
	}
	d.mu.Unlock()
}
