package payments

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"memorial-credits/internal/wallet"

	"github.com/shopspring/decimal"
)

// Status is the gateway-reported payment state. Only StatusSucceeded is creditable.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

var ErrInvalidEvent = errors.New("payments: invalid event")

// PaymentEvent is a gateway notification. Delivery is at-least-once, unordered
// and may repeat; ExternalPaymentID is the idempotency key.
type PaymentEvent struct {
	ExternalPaymentID string          `json:"external_payment_id"`
	PayerIdentity     string          `json:"payer_identity"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	ProductID         string          `json:"product_id"`
	Status            Status          `json:"status"`
	ObservedAt        time.Time       `json:"observed_at"`
}

func (e PaymentEvent) Validate() error {
	switch {
	case strings.TrimSpace(e.ExternalPaymentID) == "":
		return fmt.Errorf("%w: external_payment_id required", ErrInvalidEvent)
	case NormalizeIdentity(e.PayerIdentity) == "":
		return fmt.Errorf("%w: payer_identity required", ErrInvalidEvent)
	case !e.Status.Valid():
		return fmt.Errorf("%w: unknown status %q", ErrInvalidEvent, e.Status)
	case e.Amount.IsNegative():
		return fmt.Errorf("%w: negative amount", ErrInvalidEvent)
	}
	return nil
}

// NormalizeIdentity is the case-insensitive form payer identities are matched and stored in.
func NormalizeIdentity(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// Outcome of ApplyPayment.
type Outcome string

const (
	OutcomeApplied  Outcome = "applied"
	OutcomeOrphaned Outcome = "orphaned"
	OutcomeIgnored  Outcome = "ignored"
)

type Result struct {
	Outcome Outcome `json:"outcome"`
	// Credits awarded by the product; zero when ignored.
	Credits int64 `json:"credits,omitempty"`
	// Entry and Owner are set when applied.
	Entry *wallet.LedgerEntry `json:"entry,omitempty"`
	Owner *wallet.Owner       `json:"owner,omitempty"`
	// Replayed is true when the payment had already been credited earlier.
	Replayed bool `json:"replayed,omitempty"`
}

// OrphanPayment is one succeeded payment parked because its payer had no owner.
type OrphanPayment struct {
	ExternalPaymentID string          `json:"external_payment_id" db:"external_payment_id"`
	PayerIdentity     string          `json:"payer_identity" db:"payer_identity"`
	ProductID         string          `json:"product_id" db:"product_id"`
	Credits           int64           `json:"credits" db:"credits"`
	Amount            decimal.Decimal `json:"amount" db:"amount"`
	Currency          string          `json:"currency" db:"currency"`
	ObservedAt        time.Time       `json:"observed_at" db:"observed_at"`
	ParkedAt          time.Time       `json:"parked_at" db:"parked_at"`
}

// Event rebuilds the succeeded event so reconciliation goes through ApplyPayment.
func (p OrphanPayment) Event() PaymentEvent {
	return PaymentEvent{
		ExternalPaymentID: p.ExternalPaymentID,
		PayerIdentity:     p.PayerIdentity,
		Amount:            p.Amount,
		Currency:          p.Currency,
		ProductID:         p.ProductID,
		Status:            StatusSucceeded,
		ObservedAt:        p.ObservedAt,
	}
}

// OrphanRecord aggregates the parked payments of one payer identity.
type OrphanRecord struct {
	PayerIdentity string          `json:"payer_identity"`
	Credits       int64           `json:"credits"`
	PaymentIDs    []string        `json:"payment_ids"`
	FirstSeenAt   time.Time       `json:"first_seen_at"`
	Payments      []OrphanPayment `json:"payments"`
}

func newOrphanRecord(identity string, ps []OrphanPayment) OrphanRecord {
	rec := OrphanRecord{PayerIdentity: identity, Payments: ps}
	for _, p := range ps {
		rec.Credits += p.Credits
		rec.PaymentIDs = append(rec.PaymentIDs, p.ExternalPaymentID)
		if rec.FirstSeenAt.IsZero() || p.ParkedAt.Before(rec.FirstSeenAt) {
			rec.FirstSeenAt = p.ParkedAt
		}
	}
	return rec
}
