package events

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Metadata is the per-type payload attached to a care event. Each event type
// owns exactly one metadata shape; a field that belongs to another type is a
// validation error, not an ignored extra.
type Metadata interface {
	EventType() EventType
	validate() error
}

// FeedMetadata describes a FEED event.
type FeedMetadata struct {
	VolumeML int      `json:"volume_ml,omitempty"`
	Side     FeedSide `json:"side,omitempty"`
	Notes    string   `json:"notes,omitempty"`
}

// EventType returns EventTypeFeed.
func (FeedMetadata) EventType() EventType { return EventTypeFeed }

func (m FeedMetadata) validate() error {
	if m.VolumeML < 0 {
		return fmt.Errorf("%w: feed volume must not be negative", ErrValidation)
	}
	if m.Side != "" && !m.Side.valid() {
		return fmt.Errorf("%w: unknown feed side %q", ErrValidation, m.Side)
	}
	return nil
}

// SleepMetadata describes a SLEEP event. Quality is a 1-5 rating; zero means unrated.
type SleepMetadata struct {
	Quality int    `json:"quality,omitempty"`
	Notes   string `json:"notes,omitempty"`
}

// EventType returns EventTypeSleep.
func (SleepMetadata) EventType() EventType { return EventTypeSleep }

func (m SleepMetadata) validate() error {
	if m.Quality < 0 || m.Quality > 5 {
		return fmt.Errorf("%w: sleep quality must be between 1 and 5", ErrValidation)
	}
	return nil
}

// DiaperMetadata describes a DIAPER event.
type DiaperMetadata struct {
	Composition DiaperComposition `json:"diaper_type"`
	Notes       string            `json:"notes,omitempty"`
}

// EventType returns EventTypeDiaper.
func (DiaperMetadata) EventType() EventType { return EventTypeDiaper }

func (m DiaperMetadata) validate() error {
	if !m.Composition.valid() {
		return fmt.Errorf("%w: unknown diaper composition %q", ErrValidation, m.Composition)
	}
	return nil
}

// MedicationMetadata describes a MEDICATION event.
type MedicationMetadata struct {
	Name   string `json:"name"`
	DoseML string `json:"dose,omitempty"`
	Notes  string `json:"notes,omitempty"`
}

// EventType returns EventTypeMedication.
func (MedicationMetadata) EventType() EventType { return EventTypeMedication }

func (m MedicationMetadata) validate() error {
	if m.Name == "" {
		return fmt.Errorf("%w: medication name is required", ErrValidation)
	}
	return nil
}

// SolidsMetadata describes a SOLIDS event.
type SolidsMetadata struct {
	Food     string `json:"food"`
	Reaction string `json:"reaction,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

// EventType returns EventTypeSolids.
func (SolidsMetadata) EventType() EventType { return EventTypeSolids }

func (m SolidsMetadata) validate() error {
	if m.Food == "" {
		return fmt.Errorf("%w: solids food is required", ErrValidation)
	}
	return nil
}

// HealthMetadata describes a HEALTH_LOG event.
type HealthMetadata struct {
	Temperature float64         `json:"temperature,omitempty"`
	Unit        TemperatureUnit `json:"unit,omitempty"`
	Notes       string          `json:"notes,omitempty"`
}

// EventType returns EventTypeHealthLog.
func (HealthMetadata) EventType() EventType { return EventTypeHealthLog }

func (m HealthMetadata) validate() error {
	if m.Temperature != 0 && !m.Unit.valid() {
		return fmt.Errorf("%w: temperature readings require a unit", ErrValidation)
	}
	if m.Unit != "" && !m.Unit.valid() {
		return fmt.Errorf("%w: unknown temperature unit %q", ErrValidation, m.Unit)
	}
	return nil
}

// EncodeMetadata serializes metadata into its JSON envelope, tagged with the
// owning event type.
func EncodeMetadata(metadata Metadata) (string, error) {
	if metadata == nil {
		return "", fmt.Errorf("%w: metadata is required", ErrValidation)
	}
	fields, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrValidation, err)
	}
	envelope := map[string]json.RawMessage{}
	if err := json.Unmarshal(fields, &envelope); err != nil {
		return "", fmt.Errorf("%w: %v", ErrValidation, err)
	}
	envelope["type"] = json.RawMessage(fmt.Sprintf("%q", metadata.EventType()))
	encoded, err := json.Marshal(envelope)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return string(encoded), nil
}

// DecodeMetadata parses a JSON envelope for the given event type. Fields that
// are not legal for the type cause a validation failure rather than being
// silently dropped.
func DecodeMetadata(eventType EventType, payload []byte) (Metadata, error) {
	if !eventType.Valid() {
		return nil, fmt.Errorf("%w: unknown event type %q", ErrValidation, eventType)
	}
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	stripped, err := stripTypeTag(payload)
	if err != nil {
		return nil, err
	}

	decode := func(target Metadata) (Metadata, error) {
		decoder := json.NewDecoder(bytes.NewReader(stripped))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(target); err != nil {
			return nil, fmt.Errorf("%w: metadata is not valid for %s: %v", ErrValidation, eventType, err)
		}
		return target, nil
	}

	var decoded Metadata
	switch eventType {
	case EventTypeFeed:
		decoded, err = decode(&FeedMetadata{})
	case EventTypeSleep:
		decoded, err = decode(&SleepMetadata{})
	case EventTypeDiaper:
		decoded, err = decode(&DiaperMetadata{})
	case EventTypeMedication:
		decoded, err = decode(&MedicationMetadata{})
	case EventTypeSolids:
		decoded, err = decode(&SolidsMetadata{})
	case EventTypeHealthLog:
		decoded, err = decode(&HealthMetadata{})
	}
	if err != nil {
		return nil, err
	}

	value := dereference(decoded)
	if err := value.validate(); err != nil {
		return nil, err
	}
	return value, nil
}

func stripTypeTag(payload []byte) ([]byte, error) {
	envelope := map[string]json.RawMessage{}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("%w: metadata must be a JSON object: %v", ErrValidation, err)
	}
	delete(envelope, "type")
	stripped, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return stripped, nil
}

func dereference(metadata Metadata) Metadata {
	switch value := metadata.(type) {
	case *FeedMetadata:
		return *value
	case *SleepMetadata:
		return *value
	case *DiaperMetadata:
		return *value
	case *MedicationMetadata:
		return *value
	case *SolidsMetadata:
		return *value
	case *HealthMetadata:
		return *value
	default:
		return metadata
	}
}
