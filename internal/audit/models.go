package audit

import "time"

// Event is an immutable, append-only audit log record for facts that are not
// ledger entries: parked and ignored payments, reconciliations, operator actions.
//
// Invariants:
// - Events are never updated or deleted.
// - Subject is required: an owner ("individual:42") or a payer identity.
// - Audit is best-effort; money paths never fail because an event was not written.
type Event struct {
	ID   string    `json:"id" db:"id"`
	Type EventType `json:"type" db:"type"`

	// ActorID is who caused the event: a user id, "gateway" or "reconciler".
	ActorID   string `json:"actor_id,omitempty" db:"actor_id"`
	ActorRole string `json:"actor_role,omitempty" db:"actor_role"`

	Subject   string `json:"subject" db:"subject"`
	WalletID  int64  `json:"wallet_id,omitempty" db:"wallet_id"`
	PaymentID string `json:"payment_id,omitempty" db:"payment_id"`

	Message string `json:"message,omitempty" db:"message"`
	// Metadata is optional JSON.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventPaymentOrphaned  EventType = "payment_orphaned"
	EventPaymentIgnored   EventType = "payment_ignored"
	EventOrphanReconciled EventType = "orphan_reconciled"
	EventAdminGrant       EventType = "admin_grant"
	EventAdminTransfer    EventType = "admin_transfer"
)
