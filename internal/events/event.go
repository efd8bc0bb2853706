// Package events streams published tick results to external consumers.
package events

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/andresmejia3/cymatic/internal/types"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeTickPublished is emitted for every tick that saw a face.
	EventTypeTickPublished = "cymatic.tick.published"
)

// ErrNilEvent indicates a nil event payload was provided to a publisher.
var ErrNilEvent = errors.New("nil tick event")

// TickEvent is a transport-neutral envelope for one published result.
type TickEvent struct {
	SchemaVersion int             `json:"schema_version"`
	EventType     string          `json:"event_type"`
	EventID       string          `json:"event_id"`
	EmittedAt     time.Time       `json:"emitted_at"`
	Result        types.Published `json:"result"`
}

// NewTickEvent wraps p in a fresh envelope.
func NewTickEvent(p types.Published) *TickEvent {
	emitted := p.EmittedAt
	if emitted.IsZero() {
		emitted = time.Now()
	}
	return &TickEvent{
		SchemaVersion: SchemaVersionV1,
		EventType:     EventTypeTickPublished,
		EventID:       uuid.NewString(),
		EmittedAt:     emitted.UTC(),
		Result:        p,
	}
}

// Key is the partition key: the identity id, or empty when there is none.
func (e *TickEvent) Key() string {
	if e.Result.IdentityID == nil {
		return ""
	}
	return *e.Result.IdentityID
}
