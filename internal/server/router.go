package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/cradlelabs/cradle/backend/internal/children"
	"github.com/cradlelabs/cradle/backend/internal/events"
	"github.com/cradlelabs/cradle/backend/internal/ledger"
	"github.com/cradlelabs/cradle/backend/internal/prediction"
	"github.com/cradlelabs/cradle/backend/internal/realtime"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const ownerIDContextKey = "cradle_owner_id"

var (
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingRegistry      = errors.New("ledger registry dependency required")
	errMissingDispatcher    = errors.New("realtime dispatcher dependency required")
	errMissingChildren      = errors.New("children service dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// TokenManager validates the bearer token scoping a request to one caregiver.
type TokenManager interface {
	ValidateToken(token string) (string, error)
}

// Dependencies wires the HTTP surface to the core services.
type Dependencies struct {
	TokenManager TokenManager
	Registry     *ledger.Registry
	Dispatcher   *realtime.Dispatcher
	Children     *children.Service
	Clock        func() time.Time
	Logger       *zap.Logger
}

// NewHTTPHandler builds the gin router serving the care ledger API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Registry == nil {
		return nil, errMissingRegistry
	}
	if deps.Dispatcher == nil {
		return nil, errMissingDispatcher
	}
	if deps.Children == nil {
		return nil, errMissingChildren
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		tokens:     deps.TokenManager,
		registry:   deps.Registry,
		dispatcher: deps.Dispatcher,
		children:   deps.Children,
		clock:      clock,
		logger:     logger,
	}

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/events", handler.handleAppendEvent)
	protected.GET("/events", handler.handleListEvents)
	protected.GET("/events/stream", handler.handleEventStream)
	protected.PUT("/children", handler.handleRegisterChild)
	protected.GET("/sleep/next", handler.handleNextSleep)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	})
}

type httpHandler struct {
	tokens     TokenManager
	registry   *ledger.Registry
	dispatcher *realtime.Dispatcher
	children   *children.Service
	clock      func() time.Time
	logger     *zap.Logger
}

type appendRequestPayload struct {
	CorrelationID    string          `json:"correlation_id"`
	EventType        string          `json:"event_type"`
	TimestampSeconds int64           `json:"timestamp_s"`
	Metadata         json.RawMessage `json:"metadata"`
}

type eventPayload struct {
	ID               string          `json:"id,omitempty"`
	CorrelationID    string          `json:"correlation_id"`
	EventType        string          `json:"event_type"`
	TimestampSeconds int64           `json:"timestamp_s"`
	CreatedAtSeconds int64           `json:"created_at_s,omitempty"`
	Confirmed        bool            `json:"confirmed"`
	Metadata         json.RawMessage `json:"metadata"`
}

func (h *httpHandler) handleAppendEvent(c *gin.Context) {
	ownerID, ok := h.ownerFromContext(c)
	if !ok {
		return
	}

	var request appendRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	correlationID, err := events.NewCorrelationID(request.CorrelationID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_correlation_id"})
		return
	}
	metadata, err := events.DecodeMetadata(events.EventType(request.EventType), request.Metadata)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_metadata", "detail": err.Error()})
		return
	}
	draft, err := events.NewDraft(correlationID, ownerID, events.EventType(request.EventType),
		time.Unix(request.TimestampSeconds, 0).UTC(), metadata)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_event", "detail": err.Error()})
		return
	}

	store, release, err := h.registry.Acquire(ownerID)
	if err != nil {
		h.logger.Error("failed to acquire ledger store", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ledger_unavailable"})
		return
	}
	defer release()

	confirmed, err := store.Append(c.Request.Context(), draft)
	switch {
	case errors.Is(err, events.ErrValidation),
		errors.Is(err, events.ErrInvalidCorrelationID),
		errors.Is(err, events.ErrInvalidOwnerID):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_event", "detail": err.Error()})
		return
	case errors.Is(err, ledger.ErrCorrelationInFlight):
		c.JSON(http.StatusConflict, gin.H{"error": "correlation_in_flight"})
		return
	case errors.Is(err, ledger.ErrWriteFailed):
		h.logger.Warn("event write failed", zap.String("owner_id", ownerID.String()), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "write_failed"})
		return
	case err != nil:
		h.logger.Error("event append failed", zap.String("owner_id", ownerID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "append_failed"})
		return
	}

	h.dispatcher.Publish(realtime.ChangeNotice{
		OwnerID:        ownerID,
		Kind:           realtime.ChangeKindInsert,
		CorrelationIDs: []string{confirmed.CorrelationID.String()},
		Timestamp:      h.clock().UTC(),
	})

	payload, err := encodeEvent(confirmed)
	if err != nil {
		h.logger.Error("failed to encode confirmed event", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "encode_failed"})
		return
	}
	c.JSON(http.StatusCreated, payload)
}

func (h *httpHandler) handleListEvents(c *gin.Context) {
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

	if !store.Primed() {
		if err := store.Invalidate(c.Request.Context()); err != nil {
			h.logger.Error("ledger refetch failed", zap.String("owner_id", ownerID.String()), zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": "refetch_failed"})
			return
		}
	}

	snapshot := store.Snapshot()
	payloads := make([]eventPayload, 0, len(snapshot))
	for _, event := range snapshot {
		payload, err := encodeEvent(event)
		if err != nil {
			h.logger.Error("failed to encode event", zap.String("event_id", event.ID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "encode_failed"})
			return
		}
		payloads = append(payloads, payload)
	}
	c.JSON(http.StatusOK, gin.H{"events": payloads})
}

type registerChildPayload struct {
	Name             string `json:"name"`
	BirthDateSeconds int64  `json:"birth_date_s"`
}

func (h *httpHandler) handleRegisterChild(c *gin.Context) {
	ownerID, ok := h.ownerFromContext(c)
	if !ok {
		return
	}

	var request registerChildPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.BirthDateSeconds == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	child, err := h.children.Register(ownerID.String(), request.Name, time.Unix(request.BirthDateSeconds, 0).UTC())
	if errors.Is(err, children.ErrInvalidProfile) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_profile", "detail": err.Error()})
		return
	}
	if err != nil {
		h.logger.Error("child registration failed", zap.String("owner_id", ownerID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"child_id":     child.ChildID,
		"name":         child.Name,
		"birth_date_s": child.BirthDate.Unix(),
	})
}

func (h *httpHandler) handleNextSleep(c *gin.Context) {
	ownerID, ok := h.ownerFromContext(c)
	if !ok {
		return
	}

	child, err := h.children.Get(ownerID.String())
	if errors.Is(err, children.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "child_profile_missing"})
		return
	}
	if err != nil {
		h.logger.Error("child lookup failed", zap.String("owner_id", ownerID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "child_lookup_failed"})
		return
	}

	now := h.clock().UTC()
	lastWake, ok := h.resolveLastWake(c, ownerID)
	if !ok {
		return
	}

	forecast, err := prediction.NextSleep(child.BirthDate, lastWake, now)
	if errors.Is(err, prediction.ErrInvalidInput) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_forecast_input", "detail": err.Error()})
		return
	}
	if err != nil {
		h.logger.Error("forecast failed", zap.String("owner_id", ownerID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "forecast_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"predicted_at_s":    forecast.PredictedAt.Unix(),
		"remaining_minutes": forecast.RemainingMinutes,
		"pressure_percent":  forecast.PressurePercent,
		"overtired":         forecast.Overtired,
	})
}

// resolveLastWake prefers an explicit last_wake_s query value and otherwise
// derives the last wake time from the ledger's most recent sleep event.
func (h *httpHandler) resolveLastWake(c *gin.Context, ownerID events.OwnerID) (time.Time, bool) {
	if raw := c.Query("last_wake_s"); raw != "" {
		var seconds int64
		if err := json.Unmarshal([]byte(raw), &seconds); err != nil || seconds <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_last_wake"})
			return time.Time{}, false
		}
		return time.Unix(seconds, 0).UTC(), true
	}

	store, release, err := h.registry.Acquire(ownerID)
	if err != nil {
		h.logger.Error("failed to acquire ledger store", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ledger_unavailable"})
		return time.Time{}, false
	}
	defer release()

	if !store.Primed() {
		if err := store.Invalidate(c.Request.Context()); err != nil {
			h.logger.Error("ledger refetch failed", zap.String("owner_id", ownerID.String()), zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": "refetch_failed"})
			return time.Time{}, false
		}
	}

	lastWake, found := ledger.LastSleepEnd(store.Snapshot())
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "no_sleep_events"})
		return time.Time{}, false
	}
	return lastWake, true
}

func (h *httpHandler) ownerFromContext(c *gin.Context) (events.OwnerID, bool) {
	subject := c.GetString(ownerIDContextKey)
	ownerID, err := events.NewOwnerID(subject)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	return ownerID, true
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(ownerIDContextKey, subject)
	c.Next()
}

// bearerToken reads the Authorization header, falling back to the
// access_token query param used by EventSource clients that cannot set
// headers.
func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return strings.TrimSpace(c.Query("access_token"))
}

func encodeEvent(event events.CareEvent) (eventPayload, error) {
	metadataJSON, err := events.EncodeMetadata(event.Metadata)
	if err != nil {
		return eventPayload{}, err
	}
	payload := eventPayload{
		ID:               event.ID,
		CorrelationID:    event.CorrelationID.String(),
		EventType:        string(event.Type),
		TimestampSeconds: event.Timestamp.Unix(),
		Confirmed:        event.Confirmed(),
		Metadata:         json.RawMessage(metadataJSON),
	}
	if !event.CreatedAt.IsZero() {
		payload.CreatedAtSeconds = event.CreatedAt.Unix()
	}
	return payload, nil
}
