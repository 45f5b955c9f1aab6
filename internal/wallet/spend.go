package wallet

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"time"

	"memorial-credits/internal/events"
	"memorial-credits/pkg/logger"
	"memorial-credits/pkg/telemetry"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationScope = "memorial-credits/wallet"

// SpendOptions are optional inputs to SpendOneCredit.
type SpendOptions struct {
	// IdempotencyKey makes a retried spend return the original charge.
	IdempotencyKey string
	Note           string
}

// Receipt names the wallet that paid for an action.
type Receipt struct {
	WalletCharged Wallet      `json:"wallet_charged"`
	Entry         LedgerEntry `json:"entry"`
	// Replayed is true when the idempotency key had already been charged.
	Replayed bool `json:"replayed"`
}

// Coordinator spends credits on behalf of a principal.
//
// It never holds a lock across wallets: each candidate is tried with its own
// conditional debit, and losing a race to a concurrent spend just moves on to
// the next candidate.
type Coordinator struct {
	ledger    Ledger
	resolver  *Resolver
	publisher events.Publisher
	clock     func() time.Time

	tracer trace.Tracer
	spent  metric.Int64Counter
}

func NewCoordinator(ledger Ledger, publisher events.Publisher) *Coordinator {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Coordinator{
		ledger:    ledger,
		resolver:  NewResolver(ledger),
		publisher: publisher,
		clock:     time.Now,
		tracer:    otel.Tracer(instrumentationScope),
		spent:     telemetry.Counter(instrumentationScope, "credits.spent", "credits debited by spends"),
	}
}

func (c *Coordinator) SpendOneCredit(ctx context.Context, p Principal, actorID string, opts SpendOptions) (Receipt, error) {
	ctx, span := c.tracer.Start(ctx, "wallet.SpendOneCredit", trace.WithAttributes(
		attribute.String("principal.kind", string(p.Kind)),
		attribute.Bool("principal.grouped", p.GroupID != ""),
	))
	defer span.End()

	rec, err := c.spend(ctx, p, actorID, opts)
	if err != nil {
		if !errors.Is(err, ErrNoCreditsAvailable) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		logger.From(ctx).Info("spend failed",
			"principal_kind", p.Kind,
			"principal_id", p.ID,
			"err", err,
		)
		return Receipt{}, err
	}

	span.SetAttributes(
		attribute.Int64("wallet.id", rec.WalletCharged.ID),
		attribute.String("wallet.owner_type", string(rec.WalletCharged.OwnerType)),
		attribute.Bool("replayed", rec.Replayed),
	)
	if rec.Replayed {
		return rec, nil
	}

	c.spent.Add(ctx, 1, metric.WithAttributes(attribute.String("owner_type", string(rec.WalletCharged.OwnerType))))
	c.publish(ctx, rec)
	return rec, nil
}

func (c *Coordinator) spend(ctx context.Context, p Principal, actorID string, opts SpendOptions) (Receipt, error) {
	if !p.Valid() || actorID == "" {
		return Receipt{}, ErrInvalidArgument
	}

	key := spendKey(p, opts.IdempotencyKey)
	if key != "" {
		if rec, ok, err := c.replay(ctx, p, actorID, key); err != nil || ok {
			return rec, err
		}
	}

	candidates, err := c.resolver.ResolveSpendOrder(ctx, p)
	if err != nil {
		return Receipt{}, err
	}

	for _, cand := range candidates {
		if cand.Balance <= 0 {
			continue
		}

		var (
			charged Wallet
			entry   LedgerEntry
		)
		err := c.ledger.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			w, err := tx.Adjust(ctx, cand.ID, -1)
			if err != nil {
				return err
			}
			e, err := tx.Append(ctx, LedgerEntry{
				Kind:           EntryDebit,
				WalletID:       w.ID,
				Amount:         1,
				BalanceAfter:   w.Balance,
				IdempotencyKey: key,
				ActorID:        actorID,
				Note:           opts.Note,
			})
			if err != nil {
				// On a duplicate key e is the earlier entry; the debit above is rolled back.
				entry = e
				return err
			}
			charged, entry = w, e
			return nil
		})
		switch {
		case err == nil:
			return Receipt{WalletCharged: charged, Entry: entry}, nil
		case errors.Is(err, ErrInsufficientBalance):
			// Lost a race for the last credit in this wallet.
			continue
		case errors.Is(err, ErrDuplicateIdempotencyKey):
			return c.receiptFor(ctx, p, actorID, entry)
		default:
			return Receipt{}, err
		}
	}
	return Receipt{}, ErrNoCreditsAvailable
}

func (c *Coordinator) replay(ctx context.Context, p Principal, actorID, key string) (Receipt, bool, error) {
	e, err := c.ledger.FindByIdempotencyKey(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return Receipt{}, false, nil
	}
	if err != nil {
		return Receipt{}, false, err
	}
	rec, err := c.receiptFor(ctx, p, actorID, e)
	return rec, err == nil, err
}

// receiptFor answers a reused key with the earlier debit, but only when that
// debit was made by the same actor from one of the principal's own wallets.
func (c *Coordinator) receiptFor(ctx context.Context, p Principal, actorID string, e LedgerEntry) (Receipt, error) {
	if e.Kind != EntryDebit || e.ActorID != actorID {
		return Receipt{}, ErrDuplicateIdempotencyKey
	}
	w, err := c.ledger.GetByID(ctx, e.WalletID)
	if err != nil {
		return Receipt{}, err
	}
	if !slices.Contains(SpendOrder(p), w.Owner()) {
		return Receipt{}, ErrDuplicateIdempotencyKey
	}
	return Receipt{WalletCharged: w, Entry: e, Replayed: true}, nil
}

func (c *Coordinator) publish(ctx context.Context, rec Receipt) {
	ev, err := events.New(events.TypeCreditSpent, walletKey(rec.WalletCharged.ID), map[string]any{
		"wallet_id":     rec.WalletCharged.ID,
		"owner_type":    rec.WalletCharged.OwnerType,
		"owner_id":      rec.WalletCharged.OwnerID,
		"entry_id":      rec.Entry.ID,
		"balance_after": rec.Entry.BalanceAfter,
		"actor_id":      rec.Entry.ActorID,
	}, c.clock())
	if err == nil {
		err = c.publisher.Publish(ctx, ev)
	}
	if err != nil {
		logger.From(ctx).Warn("publish spend event failed", "wallet_id", rec.WalletCharged.ID, "err", err)
	}
}

func walletKey(id int64) string { return "wallet:" + strconv.FormatInt(id, 10) }
