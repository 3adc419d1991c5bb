package models

import "time"

// Event types
const (
	EventTypeStallAvailabilityChanged = "STALL_AVAILABILITY_CHANGED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// StallAvailabilityChangedEvent is raised whenever the booked stall set of a
// book fair may have changed
type StallAvailabilityChangedEvent struct {
	BaseEvent
	FairEventID int64 `json:"fair_event_id"`
}

// BookedStallsMessage is broadcast to stall-map subscribers
type BookedStallsMessage struct {
	FairEventID    int64   `json:"event_id"`
	BookedStallIDs []int64 `json:"bookedStallIds"`
}

// AdminUpdateMessage is broadcast to admin dashboards
type AdminUpdateMessage struct {
	Type        string `json:"type"`
	FairEventID int64  `json:"eventId"`
}

// AdminUpdateBookingType is the admin ping type for stall changes
const AdminUpdateBookingType = "BOOKING_UPDATE"
