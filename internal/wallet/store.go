package wallet

import (
	"context"
	"time"
)

// Store is the wallet balance contract.
//
// Concurrency is the store's job, not the caller's:
// - GetOrCreate is an insert-ignore-conflict-then-read, safe under concurrent first use.
// - Adjust is one conditional update; a failing adjust changes nothing.
type Store interface {
	GetOrCreate(ctx context.Context, owner Owner) (Wallet, error)
	Get(ctx context.Context, owner Owner) (Wallet, error)
	GetByID(ctx context.Context, walletID int64) (Wallet, error)
	Adjust(ctx context.Context, walletID int64, delta int64) (Wallet, error)
}

// Journal is the append-only ledger contract.
type Journal interface {
	// Append inserts e. If e.IdempotencyKey is already taken it returns the
	// existing entry together with ErrDuplicateIdempotencyKey.
	Append(ctx context.Context, e LedgerEntry) (LedgerEntry, error)
	FindByIdempotencyKey(ctx context.Context, key string) (LedgerEntry, error)
	ListByWallet(ctx context.Context, walletID int64, from, to time.Time) ([]LedgerEntry, error)
}

// Tx is a Store and Journal bound to one atomic unit of work.
type Tx interface {
	Store
	Journal
}

// Ledger is the shared persistence for wallets and entries. Reads and single
// writes may go straight through; combined writes go through WithinTx.
type Ledger interface {
	Tx
	// WithinTx runs fn atomically. If fn returns an error nothing it wrote is kept.
	// fn may be re-run on transient storage errors and must not keep state
	// across invocations.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
