package wallet

import (
	"fmt"
	"time"
)

// OwnerType is the kind of entity holding a wallet.
type OwnerType string

const (
	OwnerIndividual   OwnerType = "individual"
	OwnerPooledGroup  OwnerType = "pooled_group"
	OwnerOrganization OwnerType = "organization"
)

func (t OwnerType) Valid() bool {
	switch t {
	case OwnerIndividual, OwnerPooledGroup, OwnerOrganization:
		return true
	default:
		return false
	}
}

// ParseOwnerType accepts the canonical names plus the hyphenated forms used in URLs.
func ParseOwnerType(s string) (OwnerType, error) {
	switch s {
	case "individual":
		return OwnerIndividual, nil
	case "pooled_group", "pooled-group", "group":
		return OwnerPooledGroup, nil
	case "organization", "org":
		return OwnerOrganization, nil
	default:
		return "", fmt.Errorf("%w: unknown owner type %q", ErrInvalidArgument, s)
	}
}

// Owner identifies a wallet holder. A wallet is unique per Owner.
type Owner struct {
	Type OwnerType `json:"owner_type"`
	ID   string    `json:"owner_id"`
}

func (o Owner) Valid() bool { return o.Type.Valid() && o.ID != "" }

func (o Owner) String() string { return string(o.Type) + ":" + o.ID }

// Wallet is a single non-negative credit balance.
// Invariant: exactly one row per (owner_type, owner_id); balance >= 0.
// Wallets are never deleted; a zero balance is kept for history.
type Wallet struct {
	ID        int64     `json:"id" db:"id"`
	OwnerType OwnerType `json:"owner_type" db:"owner_type"`
	OwnerID   string    `json:"owner_id" db:"owner_id"`
	Balance   int64     `json:"balance" db:"balance"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

func (w Wallet) Owner() Owner { return Owner{Type: w.OwnerType, ID: w.OwnerID} }

type EntryKind string

const (
	EntryCredit      EntryKind = "credit"
	EntryDebit       EntryKind = "debit"
	EntryTransferOut EntryKind = "transfer_out"
	EntryTransferIn  EntryKind = "transfer_in"
)

// LedgerEntry is an immutable, append-only record of one balance change.
//
// Amount is always positive; Kind carries the direction.
// IdempotencyKey is empty when the entry has none and unique otherwise.
// Corrections are made with compensating entries, never updates.
type LedgerEntry struct {
	ID                   int64     `json:"id" db:"id"`
	Kind                 EntryKind `json:"kind" db:"kind"`
	WalletID             int64     `json:"wallet_id" db:"wallet_id"`
	Amount               int64     `json:"amount" db:"amount"`
	BalanceAfter         int64     `json:"balance_after" db:"balance_after"`
	CounterpartyWalletID *int64    `json:"counterparty_wallet_id,omitempty" db:"counterparty_wallet_id"`
	IdempotencyKey       string    `json:"idempotency_key,omitempty" db:"idempotency_key"`
	ActorID              string    `json:"actor_id" db:"actor_id"`
	Note                 string    `json:"note,omitempty" db:"note"`
	CreatedAt            time.Time `json:"created_at" db:"created_at"`
}

// signedAmount is the effect of the entry on its wallet's balance.
func (e LedgerEntry) signedAmount() int64 {
	switch e.Kind {
	case EntryDebit, EntryTransferOut:
		return -e.Amount
	default:
		return e.Amount
	}
}

// PrincipalKind is who is asking to spend: a person or an organization.
type PrincipalKind string

const (
	PrincipalIndividual   PrincipalKind = "individual"
	PrincipalOrganization PrincipalKind = "organization"
)

// Principal is the already-authenticated requester. GroupID is set when an
// individual belongs to a pooled group (e.g. a family plan).
type Principal struct {
	Kind    PrincipalKind `json:"kind"`
	ID      string        `json:"id"`
	GroupID string        `json:"group_id,omitempty"`
}

func (p Principal) Valid() bool {
	switch p.Kind {
	case PrincipalIndividual, PrincipalOrganization:
		return p.ID != ""
	default:
		return false
	}
}
