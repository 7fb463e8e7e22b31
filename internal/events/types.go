package events

// EventType enumerates the closed set of care event categories.
type EventType string

const (
	// EventTypeFeed records a bottle or nursing feed.
	EventTypeFeed EventType = "FEED"
	// EventTypeSleep records a completed sleep stretch.
	EventTypeSleep EventType = "SLEEP"
	// EventTypeDiaper records a diaper change.
	EventTypeDiaper EventType = "DIAPER"
	// EventTypeMedication records an administered medication.
	EventTypeMedication EventType = "MEDICATION"
	// EventTypeSolids records a solid-food meal.
	EventTypeSolids EventType = "SOLIDS"
	// EventTypeHealthLog records a health observation such as a temperature reading.
	EventTypeHealthLog EventType = "HEALTH_LOG"
)

// KnownEventTypes lists every valid EventType in declaration order.
func KnownEventTypes() []EventType {
	return []EventType{
		EventTypeFeed,
		EventTypeSleep,
		EventTypeDiaper,
		EventTypeMedication,
		EventTypeSolids,
		EventTypeHealthLog,
	}
}

// Valid reports whether the value belongs to the closed event type set.
func (t EventType) Valid() bool {
	switch t {
	case EventTypeFeed, EventTypeSleep, EventTypeDiaper, EventTypeMedication, EventTypeSolids, EventTypeHealthLog:
		return true
	default:
		return false
	}
}

// FeedSide enumerates nursing sides for a feed event.
type FeedSide string

const (
	FeedSideLeft   FeedSide = "LEFT"
	FeedSideRight  FeedSide = "RIGHT"
	FeedSideBottle FeedSide = "BOTTLE"
)

func (s FeedSide) valid() bool {
	switch s {
	case FeedSideLeft, FeedSideRight, FeedSideBottle:
		return true
	default:
		return false
	}
}

// DiaperComposition enumerates diaper contents.
type DiaperComposition string

const (
	DiaperWet   DiaperComposition = "WET"
	DiaperDirty DiaperComposition = "DIRTY"
	DiaperMixed DiaperComposition = "MIXED"
	DiaperDry   DiaperComposition = "DRY"
)

func (c DiaperComposition) valid() bool {
	switch c {
	case DiaperWet, DiaperDirty, DiaperMixed, DiaperDry:
		return true
	default:
		return false
	}
}

// TemperatureUnit enumerates supported temperature scales for health logs.
type TemperatureUnit string

const (
	TemperatureCelsius    TemperatureUnit = "C"
	TemperatureFahrenheit TemperatureUnit = "F"
)

func (u TemperatureUnit) valid() bool {
	switch u {
	case TemperatureCelsius, TemperatureFahrenheit:
		return true
	default:
		return false
	}
}
