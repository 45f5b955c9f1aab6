package payments

import (
	"context"
	"database/sql"
	"fmt"

	"memorial-credits/pkg/utils"

	"github.com/shopspring/decimal"
)

// PostgresOrphanStore persists parked payments in orphan_payments.
type PostgresOrphanStore struct {
	db    *sql.DB
	retry utils.RetryPolicy
}

func NewPostgresOrphanStore(db *sql.DB) *PostgresOrphanStore {
	return &PostgresOrphanStore{db: db, retry: utils.DefaultRetryPolicy}
}

// WithRetryPolicy overrides how transient failures are retried.
func (s *PostgresOrphanStore) WithRetryPolicy(p utils.RetryPolicy) *PostgresOrphanStore {
	s.retry = p
	return s
}

func (s *PostgresOrphanStore) Park(ctx context.Context, p OrphanPayment) (bool, error) {
	const q = `
INSERT INTO orphan_payments (external_payment_id, payer_identity, product_id, credits, amount, currency, observed_at, parked_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (external_payment_id) DO NOTHING
`
	var inserted bool
	err := utils.WithTxRetry(ctx, s.db, &sql.TxOptions{}, s.retry, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, q,
			p.ExternalPaymentID, NormalizeIdentity(p.PayerIdentity), p.ProductID, p.Credits,
			p.Amount.String(), p.Currency, p.ObservedAt, p.ParkedAt,
		)
		if err != nil {
			return fmt.Errorf("park payment: %w", err)
		}
		n, err := res.RowsAffected()
		inserted = n == 1
		return err
	})
	return inserted, err
}

func (s *PostgresOrphanStore) Record(ctx context.Context, identity string) (OrphanRecord, bool, error) {
	identity = NormalizeIdentity(identity)
	const q = `
SELECT external_payment_id, payer_identity, product_id, credits, amount::text, currency, observed_at, parked_at
FROM orphan_payments
WHERE payer_identity = $1
ORDER BY parked_at, external_payment_id
`
	rows, err := s.db.QueryContext(ctx, q, identity)
	if err != nil {
		return OrphanRecord{}, false, err
	}
	defer rows.Close()

	var ps []OrphanPayment
	for rows.Next() {
		var (
			p      OrphanPayment
			amount string
		)
		if err := rows.Scan(&p.ExternalPaymentID, &p.PayerIdentity, &p.ProductID, &p.Credits, &amount, &p.Currency, &p.ObservedAt, &p.ParkedAt); err != nil {
			return OrphanRecord{}, false, err
		}
		if p.Amount, err = decimal.NewFromString(amount); err != nil {
			return OrphanRecord{}, false, fmt.Errorf("orphan %s amount: %w", p.ExternalPaymentID, err)
		}
		ps = append(ps, p)
	}
	if err := rows.Err(); err != nil {
		return OrphanRecord{}, false, err
	}
	if len(ps) == 0 {
		return OrphanRecord{}, false, nil
	}
	return newOrphanRecord(identity, ps), true, nil
}

func (s *PostgresOrphanStore) Remove(ctx context.Context, externalPaymentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM orphan_payments WHERE external_payment_id = $1`, externalPaymentID)
	return err
}

func (s *PostgresOrphanStore) Identities(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT payer_identity
FROM orphan_payments
GROUP BY payer_identity
ORDER BY min(parked_at)
LIMIT $1
`
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
