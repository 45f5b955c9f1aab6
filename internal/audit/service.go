package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
// It is append-only; there are no Update/Delete methods.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service logs internal audit information. Callers treat it as best-effort.
// A nil *Service is valid and records nothing.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s == nil {
		return nil
	}
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" || e.Subject == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// LogAdminGrant records an operator credit grant.
func (s *Service) LogAdminGrant(ctx context.Context, actorID, actorRole, owner string, walletID, amount int64, note string) error {
	return s.Append(ctx, Event{
		Type:      EventAdminGrant,
		ActorID:   actorID,
		ActorRole: actorRole,
		Subject:   owner,
		WalletID:  walletID,
		Message:   note,
		Metadata:  metadata(map[string]any{"amount": amount}),
	})
}

// LogAdminTransfer records a transfer between two wallets.
func (s *Service) LogAdminTransfer(ctx context.Context, actorID, actorRole, from, to string, fromWalletID, toWalletID, amount int64, note string) error {
	return s.Append(ctx, Event{
		Type:      EventAdminTransfer,
		ActorID:   actorID,
		ActorRole: actorRole,
		Subject:   from,
		WalletID:  fromWalletID,
		Message:   note,
		Metadata:  metadata(map[string]any{"amount": amount, "to": to, "to_wallet_id": toWalletID}),
	})
}

// LogPayment records a payment that did not produce a credit (parked or ignored).
func (s *Service) LogPayment(ctx context.Context, t EventType, payerIdentity, paymentID, message string) error {
	return s.Append(ctx, Event{
		Type:      t,
		ActorID:   "gateway",
		Subject:   payerIdentity,
		PaymentID: paymentID,
		Message:   message,
	})
}

// LogReconciled records credits awarded for previously parked payments.
func (s *Service) LogReconciled(ctx context.Context, payerIdentity string, walletID, credits int64, paymentIDs []string) error {
	return s.Append(ctx, Event{
		Type:     EventOrphanReconciled,
		ActorID:  "reconciler",
		Subject:  payerIdentity,
		WalletID: walletID,
		Metadata: metadata(map[string]any{"credits": credits, "payment_ids": paymentIDs}),
	})
}

func metadata(v map[string]any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
