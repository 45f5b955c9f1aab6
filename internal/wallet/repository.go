package wallet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"memorial-credits/pkg/utils"
)

// NOTE: This repository assumes the tables created by migrations/0001_ledger.sql:
// - wallets (UNIQUE (owner_type, owner_id), CHECK (balance >= 0))
// - ledger_entries (append-only, partial UNIQUE on idempotency_key)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresLedger implements Ledger on Postgres via database/sql (pgx stdlib driver).
//
// Every call runs in a transaction that is retried as a whole on transient
// errors (serialization failure, deadlock, dropped connection), so a retry has
// no observable partial effect.
type PostgresLedger struct {
	db    *sql.DB
	retry utils.RetryPolicy
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db, retry: utils.DefaultRetryPolicy, clock: time.Now}
}

// WithRetryPolicy overrides how transient failures are retried.
func (l *PostgresLedger) WithRetryPolicy(p utils.RetryPolicy) *PostgresLedger {
	l.retry = p
	return l
}

func (l *PostgresLedger) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return utils.WithTxRetry(ctx, l.db, &sql.TxOptions{}, l.retry, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, pgTx{q: tx, now: l.clock().UTC()})
	})
}

func (l *PostgresLedger) GetOrCreate(ctx context.Context, owner Owner) (w Wallet, err error) {
	err = l.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		w, err = tx.GetOrCreate(ctx, owner)
		return err
	})
	return w, err
}

func (l *PostgresLedger) Get(ctx context.Context, owner Owner) (w Wallet, err error) {
	err = l.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		w, err = tx.Get(ctx, owner)
		return err
	})
	return w, err
}

func (l *PostgresLedger) GetByID(ctx context.Context, walletID int64) (w Wallet, err error) {
	err = l.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		w, err = tx.GetByID(ctx, walletID)
		return err
	})
	return w, err
}

func (l *PostgresLedger) Adjust(ctx context.Context, walletID int64, delta int64) (w Wallet, err error) {
	err = l.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		w, err = tx.Adjust(ctx, walletID, delta)
		return err
	})
	return w, err
}

// Append outside WithinTx still returns the existing entry on a duplicate key;
// the duplicate is returned from the closure after the transaction commits
// because ON CONFLICT DO NOTHING leaves nothing to roll back.
func (l *PostgresLedger) Append(ctx context.Context, e LedgerEntry) (out LedgerEntry, err error) {
	var dupErr error
	err = l.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		out, dupErr = tx.Append(ctx, e)
		if dupErr != nil && !errors.Is(dupErr, ErrDuplicateIdempotencyKey) {
			return dupErr
		}
		return nil
	})
	if err != nil {
		return LedgerEntry{}, err
	}
	return out, dupErr
}

func (l *PostgresLedger) FindByIdempotencyKey(ctx context.Context, key string) (e LedgerEntry, err error) {
	err = l.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		e, err = tx.FindByIdempotencyKey(ctx, key)
		return err
	})
	return e, err
}

func (l *PostgresLedger) ListByWallet(ctx context.Context, walletID int64, from, to time.Time) (out []LedgerEntry, err error) {
	err = l.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		out, err = tx.ListByWallet(ctx, walletID, from, to)
		return err
	})
	return out, err
}

var _ Ledger = (*PostgresLedger)(nil)

// pgTx is the Tx handed to WithinTx callbacks.
type pgTx struct {
	q   querier
	now time.Time
}

const walletColumns = `id, owner_type, owner_id, balance, created_at, updated_at`

func scanWallet(row interface{ Scan(...any) error }) (Wallet, error) {
	var w Wallet
	if err := row.Scan(&w.ID, &w.OwnerType, &w.OwnerID, &w.Balance, &w.CreatedAt, &w.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Wallet{}, ErrNotFound
		}
		return Wallet{}, err
	}
	return w, nil
}

func (t pgTx) GetOrCreate(ctx context.Context, owner Owner) (Wallet, error) {
	if !owner.Valid() {
		return Wallet{}, ErrInvalidArgument
	}
	// Insert-ignore-conflict-then-read: concurrent first use converges on one row.
	const ins = `
INSERT INTO wallets (owner_type, owner_id, balance, created_at, updated_at)
VALUES ($1, $2, 0, $3, $3)
ON CONFLICT (owner_type, owner_id) DO NOTHING
`
	if _, err := t.q.ExecContext(ctx, ins, owner.Type, owner.ID, t.now); err != nil {
		return Wallet{}, fmt.Errorf("create wallet: %w", err)
	}
	return t.Get(ctx, owner)
}

func (t pgTx) Get(ctx context.Context, owner Owner) (Wallet, error) {
	if !owner.Valid() {
		return Wallet{}, ErrInvalidArgument
	}
	const q = `SELECT ` + walletColumns + ` FROM wallets WHERE owner_type = $1 AND owner_id = $2`
	return scanWallet(t.q.QueryRowContext(ctx, q, owner.Type, owner.ID))
}

func (t pgTx) GetByID(ctx context.Context, walletID int64) (Wallet, error) {
	const q = `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1`
	return scanWallet(t.q.QueryRowContext(ctx, q, walletID))
}

func (t pgTx) Adjust(ctx context.Context, walletID int64, delta int64) (Wallet, error) {
	if delta == 0 {
		return Wallet{}, ErrInvalidArgument
	}
	// Single conditional statement: concurrent adjusts to one wallet are totally
	// ordered by the row lock and each re-checks the predicate on the latest balance.
	const q = `
UPDATE wallets
SET balance = balance + $2, updated_at = $3
WHERE id = $1 AND balance + $2 >= 0
RETURNING ` + walletColumns
	w, err := scanWallet(t.q.QueryRowContext(ctx, q, walletID, delta, t.now))
	if errors.Is(err, ErrNotFound) {
		if _, getErr := t.GetByID(ctx, walletID); getErr != nil {
			return Wallet{}, getErr
		}
		return Wallet{}, ErrInsufficientBalance
	}
	return w, err
}

const entryColumns = `id, kind, wallet_id, amount, balance_after, counterparty_wallet_id, idempotency_key, actor_id, note, created_at`

func scanEntry(row interface{ Scan(...any) error }) (LedgerEntry, error) {
	var (
		e   LedgerEntry
		cp  sql.NullInt64
		key sql.NullString
	)
	if err := row.Scan(&e.ID, &e.Kind, &e.WalletID, &e.Amount, &e.BalanceAfter, &cp, &key, &e.ActorID, &e.Note, &e.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return LedgerEntry{}, ErrNotFound
		}
		return LedgerEntry{}, err
	}
	if cp.Valid {
		id := cp.Int64
		e.CounterpartyWalletID = &id
	}
	e.IdempotencyKey = key.String
	return e, nil
}

func (t pgTx) Append(ctx context.Context, e LedgerEntry) (LedgerEntry, error) {
	if err := validateEntry(e); err != nil {
		return LedgerEntry{}, err
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = t.now
	}

	var cp sql.NullInt64
	if e.CounterpartyWalletID != nil {
		cp = sql.NullInt64{Int64: *e.CounterpartyWalletID, Valid: true}
	}
	key := sql.NullString{String: e.IdempotencyKey, Valid: e.IdempotencyKey != ""}

	// DO NOTHING keeps the surrounding transaction usable on a duplicate; a
	// concurrent insert of the same key blocks here until the other commits.
	const q = `
INSERT INTO ledger_entries (kind, wallet_id, amount, balance_after, counterparty_wallet_id, idempotency_key, actor_id, note, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (idempotency_key) WHERE idempotency_key IS NOT NULL DO NOTHING
RETURNING id
`
	err := t.q.QueryRowContext(ctx, q, e.Kind, e.WalletID, e.Amount, e.BalanceAfter, cp, key, e.ActorID, e.Note, e.CreatedAt).Scan(&e.ID)
	if errors.Is(err, sql.ErrNoRows) {
		existing, findErr := t.FindByIdempotencyKey(ctx, e.IdempotencyKey)
		if findErr != nil {
			return LedgerEntry{}, findErr
		}
		return existing, ErrDuplicateIdempotencyKey
	}
	if err != nil {
		return LedgerEntry{}, fmt.Errorf("append ledger entry: %w", err)
	}
	return e, nil
}

func (t pgTx) FindByIdempotencyKey(ctx context.Context, key string) (LedgerEntry, error) {
	if key == "" {
		return LedgerEntry{}, ErrInvalidArgument
	}
	const q = `SELECT ` + entryColumns + ` FROM ledger_entries WHERE idempotency_key = $1`
	return scanEntry(t.q.QueryRowContext(ctx, q, key))
}

func (t pgTx) ListByWallet(ctx context.Context, walletID int64, from, to time.Time) ([]LedgerEntry, error) {
	const q = `
SELECT ` + entryColumns + `
FROM ledger_entries
WHERE wallet_id = $1
  AND ($2::timestamptz IS NULL OR created_at >= $2)
  AND ($3::timestamptz IS NULL OR created_at < $3)
ORDER BY id
`
	rows, err := t.q.QueryContext(ctx, q, walletID, nullTime(from), nullTime(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func validateEntry(e LedgerEntry) error {
	if e.WalletID == 0 || e.Amount <= 0 {
		return ErrInvalidArgument
	}
	switch e.Kind {
	case EntryCredit, EntryDebit:
	case EntryTransferOut, EntryTransferIn:
		if e.CounterpartyWalletID == nil {
			return ErrInvalidArgument
		}
	default:
		return ErrInvalidArgument
	}
	return nil
}
