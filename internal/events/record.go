package events

import "fmt"

// Record is the persisted care event row. Metadata travels as its JSON
// envelope in a text column; the unique correlation index backs idempotent
// retries.
type Record struct {
	EventID          string `gorm:"column:event_id;primaryKey;size:190;not null"`
	CorrelationID    string `gorm:"column:correlation_id;size:190;not null;uniqueIndex:idx_events_correlation"`
	OwnerID          string `gorm:"column:owner_id;size:190;not null;index:idx_events_owner_created,priority:1"`
	EventType        string `gorm:"column:event_type;size:32;not null"`
	TimestampSeconds int64  `gorm:"column:event_time_s;not null"`
	MetadataJSON     string `gorm:"column:metadata_json;type:text;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null;index:idx_events_owner_created,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Record) TableName() string {
	return "care_events"
}

func recordFromEvent(event CareEvent) (Record, error) {
	metadataJSON, err := EncodeMetadata(event.Metadata)
	if err != nil {
		return Record{}, err
	}
	return Record{
		EventID:          event.ID,
		CorrelationID:    event.CorrelationID.String(),
		OwnerID:          event.OwnerID.String(),
		EventType:        string(event.Type),
		TimestampSeconds: event.Timestamp.Unix(),
		MetadataJSON:     metadataJSON,
		CreatedAtSeconds: event.CreatedAt.Unix(),
	}, nil
}

func (r Record) toEvent() (CareEvent, error) {
	eventType := EventType(r.EventType)
	metadata, err := DecodeMetadata(eventType, []byte(r.MetadataJSON))
	if err != nil {
		return CareEvent{}, fmt.Errorf("stored metadata for event %s is invalid: %w", r.EventID, err)
	}
	return CareEvent{
		ID:            r.EventID,
		CorrelationID: CorrelationID(r.CorrelationID),
		OwnerID:       OwnerID(r.OwnerID),
		Type:          eventType,
		Timestamp:     unixUTC(r.TimestampSeconds),
		Metadata:      metadata,
		CreatedAt:     unixUTC(r.CreatedAtSeconds),
	}, nil
}
