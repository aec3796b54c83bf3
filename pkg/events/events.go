// Package events defines the notifications emitted by the archive.
package events

import (
	"time"

	"github.com/dukex/tryon/pkg/archive"
	"github.com/google/uuid"
)

type EventType string

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// ArchiveCreatedEvent is emitted once per run after the index record is appended.
	ArchiveCreatedEvent EventType = "archive.created"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType) BaseEvent {
	return BaseEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
	}
}

// ArchiveCreated carries the appended index record.
type ArchiveCreated struct {
	BaseEvent

	Record archive.Record `json:"record"`
}

func (a ArchiveCreated) GetType() EventType {
	return ArchiveCreatedEvent
}

// NewArchiveCreated builds the event for record.
func NewArchiveCreated(record archive.Record) ArchiveCreated {
	return ArchiveCreated{
		BaseEvent: NewBaseEvent(ArchiveCreatedEvent),
		Record:    record,
	}
}
