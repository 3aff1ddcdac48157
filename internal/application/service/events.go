package service

import (
	"context"
	"time"
)

const (
	ProfileEventCreated            = "profile.created"
	ProfileEventMerged             = "profile.merged"
	ProfileEventExperienceReplaced = "profile.experience_replaced"
	ProfileEventExperienceRemoved  = "profile.experience_removed"
)

// ProfileEvent tells downstream consumers that a profile changed. It carries
// field names only, never field values.
type ProfileEvent struct {
	EventType  string    `json:"event_type"`
	Email      string    `json:"email,omitempty"`
	RecordID   string    `json:"record_id,omitempty"`
	Fields     []string  `json:"fields,omitempty"`
	Index      *int      `json:"index,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

type EventPublisher interface {
	PublishProfileEvent(ctx context.Context, evt ProfileEvent) error
	Close() error
}
