package reporting

import (
	"context"
	"errors"
	"time"

	"memorial-credits/internal/wallet"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting. Implementations read the
// append-only ledger; *wallet.Service satisfies it.
type Repository interface {
	History(ctx context.Context, owner wallet.Owner, from, to time.Time) (wallet.Wallet, []wallet.LedgerEntry, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) Statement(ctx context.Context, req StatementRequest) (Statement, error) {
	if !req.Owner.Valid() {
		return Statement{}, ErrInvalidRequest
	}
	if !req.Range.From.IsZero() && !req.Range.To.IsZero() && !req.Range.To.After(req.Range.From) {
		return Statement{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return Statement{}, errors.New("reporting: repository not configured")
	}

	w, entries, err := s.repo.History(ctx, req.Owner, req.Range.From, req.Range.To)
	if err != nil {
		return Statement{}, err
	}

	out := Statement{
		WalletID: w.ID,
		Owner:    req.Owner,
		Range:    req.Range,
		Balance:  w.Balance,
		Entries:  entries,
	}
	for _, e := range entries {
		switch e.Kind {
		case wallet.EntryCredit:
			out.Credited += e.Amount
		case wallet.EntryDebit:
			out.Debited += e.Amount
		case wallet.EntryTransferIn:
			out.TransferredIn += e.Amount
		case wallet.EntryTransferOut:
			out.TransferredOut += e.Amount
		}
	}
	out.NetDelta = out.Credited + out.TransferredIn - out.Debited - out.TransferredOut

	if len(entries) == 0 {
		// Nothing moved in range; only an open-ended range is known to end at the current balance.
		if req.Range.To.IsZero() {
			out.OpeningBalance, out.ClosingBalance = w.Balance, w.Balance
		}
		return out, nil
	}
	out.ClosingBalance = entries[len(entries)-1].BalanceAfter
	out.OpeningBalance = out.ClosingBalance - out.NetDelta
	return out, nil
}
