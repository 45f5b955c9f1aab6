package reporting

import (
	"time"

	"memorial-credits/internal/wallet"
)

// Common filtering inputs. Zero times leave that side of the range open.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

type StatementRequest struct {
	Owner wallet.Owner `json:"owner"`
	Range TimeRange    `json:"range"`
}

// Statement is derived from immutable ledger entries only.
type Statement struct {
	WalletID int64        `json:"wallet_id"`
	Owner    wallet.Owner `json:"owner"`
	Range    TimeRange    `json:"range"`

	// Balance is the wallet's current balance; Opening/Closing bracket the range.
	Balance        int64 `json:"balance"`
	OpeningBalance int64 `json:"opening_balance"`
	ClosingBalance int64 `json:"closing_balance"`

	Credited       int64 `json:"credited"`
	Debited        int64 `json:"debited"`
	TransferredIn  int64 `json:"transferred_in"`
	TransferredOut int64 `json:"transferred_out"`
	NetDelta       int64 `json:"net_delta"`

	Entries []wallet.LedgerEntry `json:"entries"`
}
