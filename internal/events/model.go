package events

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const maxIdentifierLength = 190

var (
	// ErrValidation indicates a draft or metadata payload that violates the event model.
	ErrValidation = errors.New("events: validation failed")
	// ErrInvalidOwnerID indicates that an owner identifier is empty or exceeds storage bounds.
	ErrInvalidOwnerID = errors.New("events: invalid owner id")
	// ErrInvalidCorrelationID indicates that a correlation token is empty or exceeds storage bounds.
	ErrInvalidCorrelationID = errors.New("events: invalid correlation id")
)

// OwnerID represents a validated caregiver identifier.
type OwnerID string

// NewOwnerID validates raw input and returns an OwnerID.
func NewOwnerID(rawInput string) (OwnerID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidOwnerID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidOwnerID, maxIdentifierLength)
	}
	return OwnerID(trimmed), nil
}

// String returns the underlying string identifier.
func (id OwnerID) String() string {
	return string(id)
}

// CorrelationID represents the client-generated token that ties an optimistic
// entry to its confirmed counterpart and makes retried submissions idempotent.
type CorrelationID string

// NewCorrelationID validates raw input and returns a CorrelationID.
func NewCorrelationID(rawInput string) (CorrelationID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidCorrelationID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidCorrelationID, maxIdentifierLength)
	}
	return CorrelationID(trimmed), nil
}

// String returns the underlying string token.
func (id CorrelationID) String() string {
	return string(id)
}

// Draft is a care event as submitted by a caller: no server identifier and no
// persistence time yet.
type Draft struct {
	CorrelationID CorrelationID
	OwnerID       OwnerID
	Type          EventType
	Timestamp     time.Time
	Metadata      Metadata
}

// CareEvent is a confirmed care event. ID and CreatedAt are assigned by the
// event store; on an optimistic entry ID is empty until confirmation.
type CareEvent struct {
	ID            string
	CorrelationID CorrelationID
	OwnerID       OwnerID
	Type          EventType
	Timestamp     time.Time
	Metadata      Metadata
	CreatedAt     time.Time
}

// Confirmed reports whether the event carries a server-assigned identifier.
func (e CareEvent) Confirmed() bool {
	return e.ID != ""
}

// NewDraft validates the event type, metadata pairing and timestamp, and
// returns a Draft ready for submission.
func NewDraft(correlationID CorrelationID, ownerID OwnerID, eventType EventType, timestamp time.Time, metadata Metadata) (Draft, error) {
	if correlationID == "" {
		return Draft{}, fmt.Errorf("%w: empty", ErrInvalidCorrelationID)
	}
	if ownerID == "" {
		return Draft{}, fmt.Errorf("%w: empty", ErrInvalidOwnerID)
	}
	if !eventType.Valid() {
		return Draft{}, fmt.Errorf("%w: unknown event type %q", ErrValidation, eventType)
	}
	if timestamp.IsZero() {
		return Draft{}, fmt.Errorf("%w: timestamp is required", ErrValidation)
	}
	if metadata == nil {
		return Draft{}, fmt.Errorf("%w: metadata is required", ErrValidation)
	}
	if metadata.EventType() != eventType {
		return Draft{}, fmt.Errorf("%w: %s metadata is not legal for a %s event",
			ErrValidation, metadata.EventType(), eventType)
	}
	if err := metadata.validate(); err != nil {
		return Draft{}, err
	}
	return Draft{
		CorrelationID: correlationID,
		OwnerID:       ownerID,
		Type:          eventType,
		Timestamp:     timestamp.UTC(),
		Metadata:      metadata,
	}, nil
}

// Validate re-checks an already-constructed draft. Ledger append uses it to
// fail fast before touching the snapshot.
func (d Draft) Validate() error {
	_, err := NewDraft(d.CorrelationID, d.OwnerID, d.Type, d.Timestamp, d.Metadata)
	return err
}

// Provisional returns the optimistic CareEvent for the draft: visible to
// readers immediately, identified only by its correlation token.
func (d Draft) Provisional() CareEvent {
	return CareEvent{
		CorrelationID: d.CorrelationID,
		OwnerID:       d.OwnerID,
		Type:          d.Type,
		Timestamp:     d.Timestamp,
		Metadata:      d.Metadata,
	}
}
