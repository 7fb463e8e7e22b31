package server

import (
	"io"
	"net/http"
	"time"

	"github.com/cradlelabs/cradle/backend/internal/realtime"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	// RealtimeEventCareChanged names the SSE event emitted whenever the
	// owner's care ledger changes on any device.
	RealtimeEventCareChanged = "care-change"
	realtimeEventHeartbeat   = "heartbeat"
	heartbeatInterval        = 25 * time.Second
)

type streamEventPayload struct {
	Kind             string   `json:"kind"`
	CorrelationIDs   []string `json:"correlationIds,omitempty"`
	TimestampSeconds int64    `json:"timestamp_s"`
}

// handleEventStream serves the cross-device change feed over SSE. For the
// lifetime of the connection the owner's ledger store is held acquired and a
// sync bridge keeps it invalidated, so snapshots converge while any session
// is subscribed.
func (h *httpHandler) handleEventStream(c *gin.Context) {
	ownerID, ok := h.ownerFromContext(c)
	if !ok {
		return
	}

	store, release, err := h.registry.Acquire(ownerID)
	if err != nil {
		h.logger.Error("failed to acquire ledger store", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ledger_unavailable"})
		return
	}
	defer release()

	ctx := c.Request.Context()
	if !store.Primed() {
		if err := store.Invalidate(ctx); err != nil {
			h.logger.Warn("initial ledger refetch failed",
				zap.String("owner_id", ownerID.String()), zap.Error(err))
		}
	}

	bridge, err := realtime.NewBridge(realtime.BridgeConfig{
		Feed:   h.dispatcher,
		Ledger: store,
		Logger: h.logger,
	})
	if err != nil {
		h.logger.Error("failed to construct sync bridge", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stream_unavailable"})
		return
	}
	go func() {
		if err := bridge.Run(ctx, ownerID); err != nil && ctx.Err() == nil {
			h.logger.Warn("sync bridge stopped",
				zap.String("owner_id", ownerID.String()), zap.Error(err))
		}
	}()

	stream, cleanup := h.dispatcher.Subscribe(ctx, ownerID)
	defer cleanup()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	// Flush an initial heartbeat so clients see the stream open immediately.
	// By this point the subscription is registered, so no notice published
	// after the client observes the response headers can be missed.
	c.SSEvent(realtimeEventHeartbeat, gin.H{"timestamp_s": h.clock().UTC().Unix()})
	c.Writer.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"timestamp_s": h.clock().UTC().Unix()})
			return true
		case notice, open := <-stream:
			if !open {
				return false
			}
			c.SSEvent(RealtimeEventCareChanged, streamEventPayload{
				Kind:             notice.Kind,
				CorrelationIDs:   notice.CorrelationIDs,
				TimestampSeconds: notice.Timestamp.Unix(),
			})
			return true
		}
	})
}
