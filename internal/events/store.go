package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingOwnerID    = errors.New("owner identifier is required")
	noOpLogger           = zap.NewNop()
)

// StoreError wraps a failure with an operation.reason code.
type StoreError struct {
	code string
	err  error
}

func (e *StoreError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *StoreError) Unwrap() error {
	return e.err
}

// Code returns the machine-readable failure code.
func (e *StoreError) Code() string {
	return e.code
}

const (
	opStoreNew    = "events.store.new"
	opInsertEvent = "events.insert"
	opListEvents  = "events.list"
)

func newStoreError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &StoreError{code: code, err: cause}
}

// StoreConfig describes the dependencies of the durable event store.
type StoreConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// IDProvider issues server-side event identifiers.
type IDProvider interface {
	NewID() (string, error)
}

// Store persists care events. It is the durable side of the ledger: inserts
// assign the server identifier and creation time, and duplicate correlation
// tokens resolve to the already-stored row.
type Store struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewStore constructs the durable event store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newStoreError(opStoreNew, "missing_database", errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	if cfg.IDProvider == nil {
		return nil, newStoreError(opStoreNew, "missing_id_provider", errMissingIDProvider)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Store{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Insert persists a validated draft and returns the confirmed event. Retrying
// with a correlation token that already landed returns the stored event
// instead of creating a duplicate.
func (s *Store) Insert(ctx context.Context, draft Draft) (CareEvent, error) {
	if err := draft.Validate(); err != nil {
		return CareEvent{}, err
	}

	if existing, found, err := s.findByCorrelation(ctx, draft.CorrelationID); err != nil {
		s.logError(opInsertEvent, "correlation_lookup_failed", err,
			zap.String("owner_id", draft.OwnerID.String()),
			zap.String("correlation_id", draft.CorrelationID.String()))
		return CareEvent{}, newStoreError(opInsertEvent, "correlation_lookup_failed", err)
	} else if found {
		return existing, nil
	}

	eventID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opInsertEvent, "id_generation_failed", err,
			zap.String("owner_id", draft.OwnerID.String()))
		return CareEvent{}, newStoreError(opInsertEvent, "id_generation_failed", err)
	}

	confirmed := draft.Provisional()
	confirmed.ID = eventID
	confirmed.CreatedAt = s.clock().UTC()

	record, err := recordFromEvent(confirmed)
	if err != nil {
		return CareEvent{}, err
	}

	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		// A concurrent retry may have won the unique correlation index race.
		if existing, found, lookupErr := s.findByCorrelation(ctx, draft.CorrelationID); lookupErr == nil && found {
			return existing, nil
		}
		s.logError(opInsertEvent, "insert_failed", err,
			zap.String("owner_id", draft.OwnerID.String()),
			zap.String("correlation_id", draft.CorrelationID.String()))
		return CareEvent{}, newStoreError(opInsertEvent, "insert_failed", err)
	}

	return confirmed, nil
}

// List returns every persisted care event for the owner, ordered by creation
// time then identifier.
func (s *Store) List(ctx context.Context, ownerID OwnerID) ([]CareEvent, error) {
	if ownerID == "" {
		s.logError(opListEvents, "missing_owner_id", errMissingOwnerID)
		return nil, newStoreError(opListEvents, "missing_owner_id", errMissingOwnerID)
	}

	var records []Record
	if err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID.String()).
		Order("created_at_s ASC, event_id ASC").
		Find(&records).Error; err != nil {
		s.logError(opListEvents, "query_failed", err, zap.String("owner_id", ownerID.String()))
		return nil, newStoreError(opListEvents, "query_failed", err)
	}

	listed := make([]CareEvent, 0, len(records))
	for _, record := range records {
		event, err := record.toEvent()
		if err != nil {
			s.logError(opListEvents, "record_decode_failed", err,
				zap.String("owner_id", ownerID.String()),
				zap.String("event_id", record.EventID))
			return nil, newStoreError(opListEvents, "record_decode_failed", err)
		}
		listed = append(listed, event)
	}

	return listed, nil
}

func (s *Store) findByCorrelation(ctx context.Context, correlationID CorrelationID) (CareEvent, bool, error) {
	var record Record
	err := s.db.WithContext(ctx).
		Where("correlation_id = ?", correlationID.String()).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return CareEvent{}, false, nil
	}
	if err != nil {
		return CareEvent{}, false, err
	}
	event, err := record.toEvent()
	if err != nil {
		return CareEvent{}, false, err
	}
	return event, true, nil
}

func unixUTC(seconds int64) time.Time {
	return time.Unix(seconds, 0).UTC()
}

func (s *Store) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("event store error", attrs...)
}
