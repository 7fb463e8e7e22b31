package realtime

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cradlelabs/cradle/backend/internal/events"
)

type countingInvalidator struct {
	calls atomic.Int64
	err   error
}

func (c *countingInvalidator) Invalidate(ctx context.Context) error {
	c.calls.Add(1)
	return c.err
}

func TestBridgeInvalidatesOnEveryNotice(t *testing.T) {
	dispatcher := NewDispatcher()
	invalidator := &countingInvalidator{}
	bridge, err := NewBridge(BridgeConfig{Feed: dispatcher, Ledger: invalidator})
	if err != nil {
		t.Fatalf("unexpected bridge error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- bridge.Run(ctx, "owner-1")
	}()

	// Give the bridge time to subscribe before publishing.
	waitForSubscription(t, dispatcher, "owner-1")

	for index := 0; index < 3; index++ {
		dispatcher.Publish(ChangeNotice{OwnerID: "owner-1", Kind: ChangeKindInsert})
	}

	deadline := time.After(2 * time.Second)
	for invalidator.calls.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("expected 3 invalidations, got %d", invalidator.calls.Load())
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}

func TestBridgeSurvivesInvalidationFailure(t *testing.T) {
	dispatcher := NewDispatcher()
	invalidator := &countingInvalidator{err: errors.New("refetch failed")}
	bridge, err := NewBridge(BridgeConfig{Feed: dispatcher, Ledger: invalidator})
	if err != nil {
		t.Fatalf("unexpected bridge error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- bridge.Run(ctx, "owner-1")
	}()
	waitForSubscription(t, dispatcher, "owner-1")

	dispatcher.Publish(ChangeNotice{OwnerID: "owner-1", Kind: ChangeKindInsert})
	dispatcher.Publish(ChangeNotice{OwnerID: "owner-1", Kind: ChangeKindDelete})

	deadline := time.After(2 * time.Second)
	for invalidator.calls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("bridge stopped after a failed invalidation: %d calls", invalidator.calls.Load())
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestBridgeRequiresDependencies(t *testing.T) {
	if _, err := NewBridge(BridgeConfig{Ledger: &countingInvalidator{}}); err == nil {
		t.Fatalf("expected an error without a feed")
	}
	if _, err := NewBridge(BridgeConfig{Feed: NewDispatcher()}); err == nil {
		t.Fatalf("expected an error without an invalidator")
	}

	bridge, err := NewBridge(BridgeConfig{Feed: NewDispatcher(), Ledger: &countingInvalidator{}})
	if err != nil {
		t.Fatalf("unexpected bridge error: %v", err)
	}
	if err := bridge.Run(context.Background(), ""); err == nil {
		t.Fatalf("expected an error for an empty owner id")
	}
}

func waitForSubscription(t *testing.T, dispatcher *Dispatcher, ownerID events.OwnerID) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		dispatcher.mu.RLock()
		subscribed := len(dispatcher.subscribers[ownerID]) > 0
		dispatcher.mu.RUnlock()
		if subscribed {
			return
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for bridge subscription")
		case <-time.After(time.Millisecond):
		}
	}
}
