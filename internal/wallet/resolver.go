package wallet

import (
	"context"
	"errors"
)

// Resolver decides which wallets may fund an action and in what order.
// It only reads.
type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// SpendOrder is the policy: a pooled group wallet is consumed before the
// member's personal wallet; an organization pays from its own wallet.
func SpendOrder(p Principal) []Owner {
	switch p.Kind {
	case PrincipalOrganization:
		return []Owner{{Type: OwnerOrganization, ID: p.ID}}
	case PrincipalIndividual:
		if p.GroupID != "" {
			return []Owner{
				{Type: OwnerPooledGroup, ID: p.GroupID},
				{Type: OwnerIndividual, ID: p.ID},
			}
		}
		return []Owner{{Type: OwnerIndividual, ID: p.ID}}
	default:
		return nil
	}
}

// ResolveSpendOrder returns the existing candidate wallets in spend order.
// Owners without a wallet yet are left out; they have nothing to spend.
func (r *Resolver) ResolveSpendOrder(ctx context.Context, p Principal) ([]Wallet, error) {
	if !p.Valid() {
		return nil, ErrInvalidArgument
	}
	owners := SpendOrder(p)
	out := make([]Wallet, 0, len(owners))
	for _, o := range owners {
		w, err := r.store.Get(ctx, o)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}
