package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ActorRef identifies who produced the event. System jobs leave UserID nil.
type ActorRef struct {
	UserID *uuid.UUID `json:"userId,omitempty"`
	Role   string     `json:"role,omitempty"`
}

// UserActor builds an ActorRef for an authenticated caller.
func UserActor(userID uuid.UUID, role string) *ActorRef {
	id := userID
	return &ActorRef{UserID: &id, Role: role}
}

// SystemActor marks events produced by webhooks and scheduled jobs.
func SystemActor(role string) *ActorRef {
	return &ActorRef{Role: role}
}

// PayloadEnvelope is the stable payload structure stored in outbox_events.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}
