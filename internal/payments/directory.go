package payments

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"memorial-credits/internal/wallet"
)

// OwnerDirectory maps a payer identity (an email) to the owner whose wallet
// should be credited.
type OwnerDirectory interface {
	ResolveOwnerByPayerIdentity(ctx context.Context, identity string) (wallet.Owner, bool, error)
}

// SQLDirectory looks identities up in the application's account tables.
// Individual accounts win over an organization billing address.
type SQLDirectory struct {
	db *sql.DB
}

func NewSQLDirectory(db *sql.DB) *SQLDirectory { return &SQLDirectory{db: db} }

func (d *SQLDirectory) ResolveOwnerByPayerIdentity(ctx context.Context, identity string) (wallet.Owner, bool, error) {
	identity = NormalizeIdentity(identity)
	if identity == "" {
		return wallet.Owner{}, false, nil
	}

	lookups := []struct {
		typ wallet.OwnerType
		q   string
	}{
		{wallet.OwnerIndividual, `SELECT id::text FROM users WHERE lower(email) = $1 ORDER BY created_at LIMIT 1`},
		{wallet.OwnerOrganization, `SELECT id::text FROM organizations WHERE lower(billing_email) = $1 ORDER BY created_at LIMIT 1`},
	}
	for _, l := range lookups {
		var id string
		err := d.db.QueryRowContext(ctx, l.q, identity).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return wallet.Owner{}, false, err
		}
		return wallet.Owner{Type: l.typ, ID: id}, true, nil
	}
	return wallet.Owner{}, false, nil
}

// MemoryDirectory is an in-memory directory for tests and local runs.
type MemoryDirectory struct {
	mu     sync.RWMutex
	owners map[string]wallet.Owner
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{owners: map[string]wallet.Owner{}}
}

// Register associates identity with owner, as account registration would.
func (d *MemoryDirectory) Register(identity string, owner wallet.Owner) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.owners[NormalizeIdentity(identity)] = owner
}

func (d *MemoryDirectory) ResolveOwnerByPayerIdentity(_ context.Context, identity string) (wallet.Owner, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	o, ok := d.owners[NormalizeIdentity(identity)]
	return o, ok, nil
}
