package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"memorial-credits/internal/audit"
	"memorial-credits/internal/events"
	"memorial-credits/internal/wallet"
	"memorial-credits/pkg/logger"
	"memorial-credits/pkg/telemetry"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationScope = "memorial-credits/payments"
	gatewayActor         = "gateway"
	unknownPayer         = "unknown"
)

// PriceTable translates a product into credits.
type PriceTable interface {
	Credits(productID string) (int64, error)
}

// Crediter performs the atomic credit + journal write.
type Crediter interface {
	Credit(ctx context.Context, req wallet.CreditRequest) (wallet.CreditResult, error)
}

// Service turns gateway payment events into wallet credits, exactly once per
// external payment id.
type Service struct {
	journal   wallet.Journal
	credits   Crediter
	directory OwnerDirectory
	orphans   OrphanStore
	prices    PriceTable
	audit     *audit.Service
	publisher events.Publisher
	clock     func() time.Time

	tracer   trace.Tracer
	applied  metric.Int64Counter
	orphaned metric.Int64Counter
	ignored  metric.Int64Counter
}

type Deps struct {
	Journal   wallet.Journal
	Credits   Crediter
	Directory OwnerDirectory
	Orphans   OrphanStore
	Prices    PriceTable
	Audit     *audit.Service
	Publisher events.Publisher
}

func NewService(d Deps) *Service {
	if d.Publisher == nil {
		d.Publisher = events.Nop{}
	}
	return &Service{
		journal:   d.Journal,
		credits:   d.Credits,
		directory: d.Directory,
		orphans:   d.Orphans,
		prices:    d.Prices,
		audit:     d.Audit,
		publisher: d.Publisher,
		clock:     time.Now,
		tracer:    otel.Tracer(instrumentationScope),
		applied:   telemetry.Counter(instrumentationScope, "credits.applied", "credits granted from payments"),
		orphaned:  telemetry.Counter(instrumentationScope, "payments.orphaned", "payments parked without an owner"),
		ignored:   telemetry.Counter(instrumentationScope, "payments.ignored", "non-succeeded payment events"),
	}
}

// Orphans exposes the parked-payment store to reconciliation and admin reads.
func (s *Service) Orphans() OrphanStore { return s.orphans }

// Directory exposes the owner lookup used by ApplyPayment.
func (s *Service) Directory() OwnerDirectory { return s.directory }

// ApplyPayment is safe to call any number of times with the same event.
//
//   - Not succeeded: ignored, no state change.
//   - Already credited: applied with the earlier entry.
//   - No owner for the payer: parked as an orphan, no ledger entry.
//   - Otherwise: credit and journal in one transaction keyed by the payment id.
func (s *Service) ApplyPayment(ctx context.Context, ev PaymentEvent) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "payments.ApplyPayment", trace.WithAttributes(
		attribute.String("payment.id", ev.ExternalPaymentID),
		attribute.String("payment.status", string(ev.Status)),
		attribute.String("payment.product", ev.ProductID),
	))
	defer span.End()

	res, err := s.apply(ctx, ev)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	span.SetAttributes(attribute.String("payment.outcome", string(res.Outcome)), attribute.Bool("replayed", res.Replayed))

	logger.From(ctx).Info("payment processed",
		"external_payment_id", ev.ExternalPaymentID,
		"outcome", res.Outcome,
		"credits", res.Credits,
		"replayed", res.Replayed,
	)
	return res, nil
}

func (s *Service) apply(ctx context.Context, ev PaymentEvent) (Result, error) {
	identity := NormalizeIdentity(ev.PayerIdentity)

	// Non-succeeded events carry nothing creditable; their other fields are not checked.
	if ev.Status.Valid() && ev.Status != StatusSucceeded {
		s.ignored.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(ev.Status))))
		subject := identity
		if subject == "" {
			subject = unknownPayer
		}
		s.auditLog(ctx, s.audit.LogPayment(ctx, audit.EventPaymentIgnored, subject, ev.ExternalPaymentID, "status "+string(ev.Status)))
		return Result{Outcome: OutcomeIgnored}, nil
	}
	if err := ev.Validate(); err != nil {
		return Result{}, err
	}

	key := wallet.PaymentKey(ev.ExternalPaymentID)
	prior, err := s.journal.FindByIdempotencyKey(ctx, key)
	switch {
	case err == nil:
		return appliedResult(prior)
	case !errors.Is(err, wallet.ErrNotFound):
		return Result{}, err
	}

	credits, err := s.prices.Credits(ev.ProductID)
	if err != nil {
		return Result{}, err
	}

	owner, found, err := s.directory.ResolveOwnerByPayerIdentity(ctx, identity)
	if err != nil {
		return Result{}, fmt.Errorf("resolve payer: %w", err)
	}
	if !found {
		return s.park(ctx, ev, identity, credits)
	}

	cr, err := s.credits.Credit(ctx, wallet.CreditRequest{
		Owner:          owner,
		Amount:         credits,
		ActorID:        gatewayActor,
		IdempotencyKey: key,
		Note:           "payment " + ev.ProductID,
	})
	if err != nil {
		return Result{}, err
	}
	if cr.Replayed {
		return appliedResult(cr.Entry)
	}

	s.applied.Add(ctx, credits, metric.WithAttributes(attribute.String("product", ev.ProductID)))
	s.publish(ctx, events.TypeCreditsApplied, "wallet:"+fmt.Sprint(cr.Wallet.ID), map[string]any{
		"external_payment_id": ev.ExternalPaymentID,
		"wallet_id":           cr.Wallet.ID,
		"owner_type":          owner.Type,
		"owner_id":            owner.ID,
		"credits":             credits,
		"balance_after":       cr.Entry.BalanceAfter,
	})
	return Result{Outcome: OutcomeApplied, Credits: credits, Entry: &cr.Entry, Owner: &owner}, nil
}

func (s *Service) park(ctx context.Context, ev PaymentEvent, identity string, credits int64) (Result, error) {
	observed := ev.ObservedAt
	if observed.IsZero() {
		observed = s.clock().UTC()
	}
	added, err := s.orphans.Park(ctx, OrphanPayment{
		ExternalPaymentID: ev.ExternalPaymentID,
		PayerIdentity:     identity,
		ProductID:         ev.ProductID,
		Credits:           credits,
		Amount:            ev.Amount,
		Currency:          ev.Currency,
		ObservedAt:        observed,
		ParkedAt:          s.clock().UTC(),
	})
	if err != nil {
		return Result{}, fmt.Errorf("park payment: %w", err)
	}
	if added {
		s.orphaned.Add(ctx, 1)
		s.auditLog(ctx, s.audit.LogPayment(ctx, audit.EventPaymentOrphaned, identity, ev.ExternalPaymentID, "no owner for payer"))
		s.publish(ctx, events.TypePaymentOrphaned, identity, map[string]any{
			"external_payment_id": ev.ExternalPaymentID,
			"payer_identity":      identity,
			"credits":             credits,
		})
	}
	return Result{Outcome: OutcomeOrphaned, Credits: credits}, nil
}

func appliedResult(prior wallet.LedgerEntry) (Result, error) {
	if prior.Kind != wallet.EntryCredit {
		return Result{}, fmt.Errorf("payment id already used by a %s entry: %w", prior.Kind, wallet.ErrDuplicateIdempotencyKey)
	}
	return Result{Outcome: OutcomeApplied, Credits: prior.Amount, Entry: &prior, Replayed: true}, nil
}

func (s *Service) publish(ctx context.Context, typ, key string, payload map[string]any) {
	ev, err := events.New(typ, key, payload, s.clock())
	if err == nil {
		err = s.publisher.Publish(ctx, ev)
	}
	if err != nil {
		logger.From(ctx).Warn("publish event failed", "type", typ, "err", err)
	}
}

func (s *Service) auditLog(ctx context.Context, err error) {
	if err != nil {
		logger.From(ctx).Warn("audit failed", "err", err)
	}
}
