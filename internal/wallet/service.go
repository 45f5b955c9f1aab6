package wallet

import (
	"context"
	"errors"
	"time"

	"memorial-credits/internal/audit"
	"memorial-credits/pkg/logger"
)

// Service provides wallet operations other than spending.
//
// Money invariants:
// - No balance change without a ledger entry, written in the same transaction.
// - The ledger is append-only.
// - A key that already produced an entry is answered with that entry, never applied twice.
type Service struct {
	ledger Ledger
	audit  *audit.Service
}

func NewService(ledger Ledger, auditSvc *audit.Service) *Service {
	return &Service{ledger: ledger, audit: auditSvc}
}

// GetBalance returns the owner's balance, creating an empty wallet on first use.
func (s *Service) GetBalance(ctx context.Context, owner Owner) (int64, error) {
	w, err := s.ledger.GetOrCreate(ctx, owner)
	if err != nil {
		return 0, err
	}
	return w.Balance, nil
}

// Balances returns the principal's candidate wallets in spend order.
func (s *Service) Balances(ctx context.Context, p Principal) ([]Wallet, error) {
	if !p.Valid() {
		return nil, ErrInvalidArgument
	}
	owners := SpendOrder(p)
	out := make([]Wallet, 0, len(owners))
	for _, o := range owners {
		w, err := s.ledger.GetOrCreate(ctx, o)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

type CreditRequest struct {
	Owner          Owner
	Amount         int64
	ActorID        string
	IdempotencyKey string
	Note           string
}

type CreditResult struct {
	Wallet Wallet      `json:"wallet"`
	Entry  LedgerEntry `json:"entry"`
	// Replayed is true when the key had already been credited; nothing changed.
	Replayed bool `json:"replayed"`
}

// Credit adds credits to the owner's wallet and journals them in one transaction.
// With an idempotency key, any number of calls credit at most once. The key is
// journaled as given, so callers pass an already scoped key such as PaymentKey.
func (s *Service) Credit(ctx context.Context, req CreditRequest) (CreditResult, error) {
	if !req.Owner.Valid() || req.Amount <= 0 || req.ActorID == "" {
		return CreditResult{}, ErrInvalidArgument
	}

	var out CreditResult
	err := s.ledger.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		w, err := tx.GetOrCreate(ctx, req.Owner)
		if err != nil {
			return err
		}
		w, err = tx.Adjust(ctx, w.ID, req.Amount)
		if err != nil {
			return err
		}
		e, err := tx.Append(ctx, LedgerEntry{
			Kind:           EntryCredit,
			WalletID:       w.ID,
			Amount:         req.Amount,
			BalanceAfter:   w.Balance,
			IdempotencyKey: req.IdempotencyKey,
			ActorID:        req.ActorID,
			Note:           req.Note,
		})
		out = CreditResult{Wallet: w, Entry: e}
		return err
	})
	if errors.Is(err, ErrDuplicateIdempotencyKey) {
		return s.replayCredit(ctx, out.Entry)
	}
	if err != nil {
		return CreditResult{}, err
	}
	return out, nil
}

func (s *Service) replayCredit(ctx context.Context, prior LedgerEntry) (CreditResult, error) {
	if prior.Kind != EntryCredit {
		return CreditResult{}, ErrDuplicateIdempotencyKey
	}
	w, err := s.ledger.GetByID(ctx, prior.WalletID)
	if err != nil {
		return CreditResult{}, err
	}
	return CreditResult{Wallet: w, Entry: prior, Replayed: true}, nil
}

type GrantRequest struct {
	Owner          Owner  `json:"owner"`
	Amount         int64  `json:"amount"`
	IdempotencyKey string `json:"idempotency_key"`
	Note           string `json:"note"`
	ActorID        string `json:"-"`
	ActorRole      string `json:"-"`
}

// Grant is an operator credit. The key is required so a retried grant is harmless.
func (s *Service) Grant(ctx context.Context, req GrantRequest) (CreditResult, error) {
	if req.IdempotencyKey == "" {
		return CreditResult{}, ErrInvalidArgument
	}
	res, err := s.Credit(ctx, CreditRequest{
		Owner:          req.Owner,
		Amount:         req.Amount,
		ActorID:        req.ActorID,
		IdempotencyKey: grantKey(req.IdempotencyKey),
		Note:           req.Note,
	})
	if err != nil || res.Replayed {
		return res, err
	}
	if err := s.audit.LogAdminGrant(ctx, req.ActorID, req.ActorRole, req.Owner.String(), res.Wallet.ID, req.Amount, req.Note); err != nil {
		logger.From(ctx).Warn("audit grant failed", "wallet_id", res.Wallet.ID, "err", err)
	}
	return res, nil
}

type TransferRequest struct {
	From           Owner  `json:"from"`
	To             Owner  `json:"to"`
	Amount         int64  `json:"amount"`
	IdempotencyKey string `json:"idempotency_key"`
	Note           string `json:"note"`
	ActorID        string `json:"-"`
	ActorRole      string `json:"-"`
}

type TransferResult struct {
	Out      LedgerEntry `json:"out"`
	In       LedgerEntry `json:"in"`
	Replayed bool        `json:"replayed"`
}

// Transfer moves credits between two wallets. Both legs and both journal
// entries commit together or not at all.
func (s *Service) Transfer(ctx context.Context, req TransferRequest) (TransferResult, error) {
	if !req.From.Valid() || !req.To.Valid() || req.From == req.To || req.Amount <= 0 || req.ActorID == "" {
		return TransferResult{}, ErrInvalidArgument
	}

	// A replay must succeed even if the source has since been drained.
	if req.IdempotencyKey != "" {
		prior, err := s.ledger.FindByIdempotencyKey(ctx, transferOutKey(req.IdempotencyKey))
		if err == nil {
			return s.replayTransfer(ctx, prior, req.IdempotencyKey)
		}
		if !errors.Is(err, ErrNotFound) {
			return TransferResult{}, err
		}
	}

	var out TransferResult
	err := s.ledger.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		src, err := tx.Get(ctx, req.From)
		if err != nil {
			return err
		}
		dst, err := tx.GetOrCreate(ctx, req.To)
		if err != nil {
			return err
		}

		src, err = tx.Adjust(ctx, src.ID, -req.Amount)
		if err != nil {
			return err
		}
		outEntry, err := tx.Append(ctx, LedgerEntry{
			Kind:                 EntryTransferOut,
			WalletID:             src.ID,
			Amount:               req.Amount,
			BalanceAfter:         src.Balance,
			CounterpartyWalletID: &dst.ID,
			IdempotencyKey:       transferOutKey(req.IdempotencyKey),
			ActorID:              req.ActorID,
			Note:                 req.Note,
		})
		if err != nil {
			out.Out = outEntry
			return err
		}

		dst, err = tx.Adjust(ctx, dst.ID, req.Amount)
		if err != nil {
			return err
		}
		inEntry, err := tx.Append(ctx, LedgerEntry{
			Kind:                 EntryTransferIn,
			WalletID:             dst.ID,
			Amount:               req.Amount,
			BalanceAfter:         dst.Balance,
			CounterpartyWalletID: &src.ID,
			IdempotencyKey:       transferInKey(req.IdempotencyKey),
			ActorID:              req.ActorID,
			Note:                 req.Note,
		})
		if err != nil {
			return err
		}
		out = TransferResult{Out: outEntry, In: inEntry}
		return nil
	})
	if errors.Is(err, ErrDuplicateIdempotencyKey) {
		return s.replayTransfer(ctx, out.Out, req.IdempotencyKey)
	}
	if err != nil {
		return TransferResult{}, err
	}

	if err := s.audit.LogAdminTransfer(ctx, req.ActorID, req.ActorRole, req.From.String(), req.To.String(),
		out.Out.WalletID, out.In.WalletID, req.Amount, req.Note); err != nil {
		logger.From(ctx).Warn("audit transfer failed", "wallet_id", out.Out.WalletID, "err", err)
	}
	return out, nil
}

func (s *Service) replayTransfer(ctx context.Context, prior LedgerEntry, key string) (TransferResult, error) {
	if prior.Kind != EntryTransferOut {
		return TransferResult{}, ErrDuplicateIdempotencyKey
	}
	in, err := s.ledger.FindByIdempotencyKey(ctx, transferInKey(key))
	if err != nil {
		return TransferResult{}, err
	}
	return TransferResult{Out: prior, In: in, Replayed: true}, nil
}

// History lists the owner's entries with from <= created_at < to.
// Zero times leave that side open.
func (s *Service) History(ctx context.Context, owner Owner, from, to time.Time) (Wallet, []LedgerEntry, error) {
	w, err := s.ledger.Get(ctx, owner)
	if err != nil {
		return Wallet{}, nil, err
	}
	entries, err := s.ledger.ListByWallet(ctx, w.ID, from, to)
	if err != nil {
		return Wallet{}, nil, err
	}
	return w, entries, nil
}
