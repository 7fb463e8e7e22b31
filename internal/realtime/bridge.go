package realtime

import (
	"context"
	"errors"

	"github.com/cradlelabs/cradle/backend/internal/events"
	"go.uber.org/zap"
)

var (
	// ErrFeedClosed indicates the change feed stopped delivering notices.
	ErrFeedClosed = errors.New("realtime: change feed closed")

	errMissingFeed        = errors.New("realtime: change feed is required")
	errMissingInvalidator = errors.New("realtime: invalidator is required")
	errMissingOwnerID     = errors.New("realtime: owner id is required")
)

// Feed is the subscribe side of a change feed. The Dispatcher satisfies it
// in-process; a remote transport can satisfy it over the network.
type Feed interface {
	Subscribe(ctx context.Context, ownerID events.OwnerID) (<-chan ChangeNotice, func())
}

// Invalidator is the ledger-side surface the bridge drives.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// BridgeConfig describes the collaborators joined by a sync bridge.
type BridgeConfig struct {
	Feed   Feed
	Ledger Invalidator
	Logger *zap.Logger
}

// Bridge subscribes to an owner's change feed and turns every notice into a
// ledger invalidation. It holds no recoverable state: after a transport
// reconnect it simply resumes, and missed changes are caught by the next
// notice-driven refetch.
type Bridge struct {
	feed   Feed
	ledger Invalidator
	logger *zap.Logger
}

// NewBridge constructs a sync bridge.
func NewBridge(cfg BridgeConfig) (*Bridge, error) {
	if cfg.Feed == nil {
		return nil, errMissingFeed
	}
	if cfg.Ledger == nil {
		return nil, errMissingInvalidator
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		feed:   cfg.Feed,
		ledger: cfg.Ledger,
		logger: logger,
	}, nil
}

// Run subscribes to the owner's change feed and invalidates the ledger on
// every notice until the context is cancelled or the feed closes. A failed
// invalidation is logged and the bridge keeps running; the ledger stays
// serviceable on its last-known snapshot.
func (b *Bridge) Run(ctx context.Context, ownerID events.OwnerID) error {
	if ownerID == "" {
		return errMissingOwnerID
	}

	stream, cleanup := b.feed.Subscribe(ctx, ownerID)
	defer cleanup()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case notice, open := <-stream:
			if !open {
				return ErrFeedClosed
			}
			if err := b.ledger.Invalidate(ctx); err != nil {
				b.logger.Warn("ledger invalidation failed",
					zap.String("owner_id", ownerID.String()),
					zap.String("change_kind", notice.Kind),
					zap.Error(err))
			}
		}
	}
}
