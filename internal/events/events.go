package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types published after a ledger change commits.
const (
	TypeCreditsApplied  = "credits.applied"
	TypeCreditSpent     = "credit.spent"
	TypePaymentOrphaned = "payment.orphaned"
)

// Event is the envelope written to the stream. Key groups related events on
// one partition (wallet id or payer identity).
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Key        string          `json:"key"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// New builds an Event with a fresh id, marshaling payload as JSON.
func New(typ, key string, payload any, at time.Time) (Event, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:         uuid.NewString(),
		Type:       typ,
		Key:        key,
		OccurredAt: at.UTC(),
		Payload:    b,
	}, nil
}

// Publisher delivers events. Publishing is best-effort: callers log failures
// and never undo a committed change because of one.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
}

// Nop discards events. Used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, ...Event) error { return nil }
