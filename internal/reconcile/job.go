package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"memorial-credits/internal/audit"
	"memorial-credits/internal/payments"
	"memorial-credits/pkg/logger"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationScope = "memorial-credits/reconcile"
	sweepLeaseName       = "reconcile-sweep"
)

// Applier is the payment path reconciliation reuses, so recovery and live
// webhook processing share one idempotency scheme.
type Applier interface {
	ApplyPayment(ctx context.Context, ev payments.PaymentEvent) (payments.Result, error)
}

// Lease keeps sweeps from running on several instances at once. Extend must
// fail once the lease has passed to another holder.
type Lease interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error)
	Extend(ctx context.Context, name string, ttl time.Duration) error
	Release(ctx context.Context, name string) error
}

// Config tunes Sweep.
type Config struct {
	BatchSize int
	LeaseTTL  time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 5 * time.Minute
	}
	return c
}

// Job credits owners for payments that arrived before their account existed.
type Job struct {
	applier   Applier
	orphans   payments.OrphanStore
	directory payments.OwnerDirectory
	lease     Lease
	audit     *audit.Service
	cfg       Config
	tracer    trace.Tracer
}

// New builds a Job. lease may be nil, in which case sweeps are not coordinated.
func New(applier Applier, orphans payments.OrphanStore, directory payments.OwnerDirectory, lease Lease, auditSvc *audit.Service, cfg Config) *Job {
	return &Job{
		applier:   applier,
		orphans:   orphans,
		directory: directory,
		lease:     lease,
		audit:     auditSvc,
		cfg:       cfg.withDefaults(),
		tracer:    otel.Tracer(instrumentationScope),
	}
}

// Reconcile applies every parked payment of identity and returns the credits
// newly awarded. Each payment is removed from the orphan store once applied,
// so an interrupted run leaves only the unapplied ones behind.
func (j *Job) Reconcile(ctx context.Context, identity string) (int64, error) {
	identity = payments.NormalizeIdentity(identity)
	ctx, span := j.tracer.Start(ctx, "reconcile.Reconcile", trace.WithAttributes(attribute.String("payer.identity", identity)))
	defer span.End()

	awarded, walletID, applied, err := j.reconcile(ctx, identity)
	span.SetAttributes(attribute.Int64("credits.awarded", awarded))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if len(applied) > 0 {
		if aerr := j.audit.LogReconciled(ctx, identity, walletID, awarded, applied); aerr != nil {
			logger.From(ctx).Warn("audit reconcile failed", "payer_identity", identity, "err", aerr)
		}
	}
	return awarded, err
}

func (j *Job) reconcile(ctx context.Context, identity string) (awarded, walletID int64, applied []string, err error) {
	rec, ok, err := j.orphans.Record(ctx, identity)
	if err != nil || !ok {
		return 0, 0, nil, err
	}

	if _, found, err := j.directory.ResolveOwnerByPayerIdentity(ctx, identity); err != nil || !found {
		return 0, 0, nil, err
	}

	for _, p := range rec.Payments {
		res, err := j.applier.ApplyPayment(ctx, p.Event())
		if err != nil {
			return awarded, walletID, applied, fmt.Errorf("apply %s: %w", p.ExternalPaymentID, err)
		}
		if res.Outcome != payments.OutcomeApplied {
			// The owner went away between lookup and apply; leave the rest parked.
			return awarded, walletID, applied, nil
		}
		if !res.Replayed {
			awarded += res.Credits
		}
		if res.Entry != nil {
			walletID = res.Entry.WalletID
		}
		if err := j.orphans.Remove(ctx, p.ExternalPaymentID); err != nil {
			return awarded, walletID, applied, fmt.Errorf("remove %s: %w", p.ExternalPaymentID, err)
		}
		applied = append(applied, p.ExternalPaymentID)
	}

	logger.From(ctx).Info("orphans reconciled", "payer_identity", identity, "credits", awarded, "payments", len(applied))
	return awarded, walletID, applied, nil
}

// SweepResult summarizes one Sweep.
type SweepResult struct {
	// Skipped is true when another instance holds the sweep lease.
	Skipped    bool  `json:"skipped"`
	Identities int   `json:"identities"`
	Reconciled int   `json:"reconciled"`
	Credits    int64 `json:"credits"`
	Failures   int   `json:"failures"`
}

// Sweep reconciles up to BatchSize parked identities. A failing identity is
// logged and counted; the sweep moves on to the next one. The lease is renewed
// after every identity, and the sweep stops as soon as it can no longer be held.
func (j *Job) Sweep(ctx context.Context) (SweepResult, error) {
	if j.lease != nil {
		ok, err := j.lease.Acquire(ctx, sweepLeaseName, j.cfg.LeaseTTL)
		if err != nil {
			return SweepResult{}, fmt.Errorf("acquire sweep lease: %w", err)
		}
		if !ok {
			return SweepResult{Skipped: true}, nil
		}
		defer func() {
			if err := j.lease.Release(context.WithoutCancel(ctx), sweepLeaseName); err != nil {
				logger.From(ctx).Warn("release sweep lease", "err", err)
			}
		}()
	}

	ids, err := j.orphans.Identities(ctx, j.cfg.BatchSize)
	if err != nil {
		return SweepResult{}, err
	}

	out := SweepResult{Identities: len(ids)}
	for _, id := range ids {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		n, err := j.Reconcile(ctx, id)
		out.Credits += n
		switch {
		case err != nil:
			out.Failures++
			logger.From(ctx).Error("reconcile identity", "payer_identity", id, "err", err)
		case n > 0:
			out.Reconciled++
		}
		if err := j.extendLease(ctx); err != nil {
			return out, err
		}
	}
	return out, nil
}

func (j *Job) extendLease(ctx context.Context) error {
	if j.lease == nil {
		return nil
	}
	if err := j.lease.Extend(ctx, sweepLeaseName, j.cfg.LeaseTTL); err != nil {
		return fmt.Errorf("extend sweep lease: %w", err)
	}
	return nil
}

// Run sweeps every interval until ctx is done.
func (j *Job) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.New("reconcile: interval must be > 0")
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		res, err := j.Sweep(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.From(ctx).Error("sweep failed", "err", err)
		} else if !res.Skipped && res.Identities > 0 {
			logger.From(ctx).Info("sweep finished",
				"identities", res.Identities,
				"reconciled", res.Reconciled,
				"credits", res.Credits,
				"failures", res.Failures,
			)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}
